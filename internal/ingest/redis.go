package ingest

import (
	"context"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/beebs-dev/strim/internal/logging"
)

// RedisCommandChannel name ingestd subscribes to when REDIS_ADDRESS is set,
// grounded on the teacher's redis_cmds.go. Accepted payloads are
// "kill-session <id>" and "close-stream <app>/<key>" — a deliberately
// small surface, since the only actions an operator needs that RTMP
// itself has no protocol message for are forcing a session closed and
// forcing a channel to stop.
const RedisCommandChannel = "strim-ingest-commands"

// StartRedisSubscriber connects to addr and forwards parsed commands
// onto srv.events until ctx is canceled. It runs entirely off the
// owner goroutine — commands only ever touch server state once
// dispatched as an eventCommand, exactly like every other owner-loop
// input.
func StartRedisSubscriber(ctx context.Context, srv *Server, addr, password string, db int, log *logging.Logger) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	defer client.Close()

	sub := client.Subscribe(ctx, RedisCommandChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			cmd, ok := parseCommand(msg.Payload)
			if !ok {
				log.Warningf("ignoring malformed redis command: %q", msg.Payload)
				continue
			}
			srv.events <- event{kind: eventCommand, cmd: cmd}
		}
	}
}

func parseCommand(payload string) (command, bool) {
	parts := strings.SplitN(payload, " ", 2)
	if len(parts) != 2 {
		return command{}, false
	}
	switch parts[0] {
	case "close-stream":
		return command{action: "close-stream", channel: parts[1]}, true
	case "kill-session":
		id, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return command{}, false
		}
		return command{action: "kill-session", sessionID: id}, true
	default:
		return command{}, false
	}
}

// Package ingest implements ingestd's RTMP fan-out server: accept
// connections, route published streams to viewers, and create/delete
// Pipeline records in the cluster API on publish start/stop. Adapted
// from the teacher's rtmp_server.go/rtmp_session.go, replacing the
// teacher's mutex-guarded shared maps with the single owner goroutine
// described in SPEC_FULL.md §4.1.
package ingest

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/beebs-dev/strim/internal/logging"
	"github.com/beebs-dev/strim/internal/metrics"
	"github.com/beebs-dev/strim/internal/rtmpsession"
	"github.com/beebs-dev/strim/pkg/pipeline"
	"github.com/netdata/go.d.plugin/pkg/iprange"
)

// Config holds every env-derived knob for the ingest server.
type Config struct {
	BindAddress string
	RTMPPort    int
	SSLPort     int
	SSLCert     string
	SSLKey      string

	Namespace string
	Target    pipeline.StrimTarget

	// PodName/PodUID/PodIP self-identify this ingestd replica (read from
	// the downward API in cmd/ingestd/main.go). PodName/PodUID back the
	// ownerRef stamped on every Strim this replica creates, so deleting
	// the pod cascades to its Strims; PodIP feeds both that Strim's
	// internalUrl and the Pipeline-naming hash, per spec.md §3/§4.1.
	PodName string
	PodUID  string
	PodIP   string

	IPLimit            uint32
	IPWhitelist        string
	OutChunkSize       int
	HandshakeTimeout   time.Duration
	PingInterval       time.Duration
	PingTimeout        time.Duration
}

// Server owns every piece of mutable routing state behind a single
// goroutine (ownerLoop); everything else communicates with it only through
// the events channel or via connection.outbox, never by touching maps
// directly. This is the Go-idiomatic reading of spec.md §4.1's
// single-threaded, lock-free-on-the-hot-path reactor.
type Server struct {
	cfg       Config
	log       *logging.Logger
	metrics   *metrics.Ingest
	pipelines pipelineClient

	listener       net.Listener
	secureListener net.Listener

	events chan event

	connections map[uint64]*connection
	channels    map[string]*mediaChannel // keyed by "app/key"

	ipMu     sync.Mutex
	ipCounts map[string]uint32

	nextID uint64
	idMu   sync.Mutex

	closed bool
}

// New builds a Server bound to the listeners described by cfg. It
// returns an error if the plain listener cannot be opened, or if TLS
// is configured and the certificate or the TLS listener fails.
func New(cfg Config, log *logging.Logger, m *metrics.Ingest, pipelines pipelineClient) (*Server, error) {
	srv := &Server{
		cfg:         cfg,
		log:         log,
		metrics:     m,
		pipelines:   pipelines,
		events:      make(chan event, 4096),
		connections: map[uint64]*connection{},
		channels:    map[string]*mediaChannel{},
		ipCounts:    map[string]uint32{},
		nextID:      1,
	}

	ln, err := net.Listen("tcp", addrOf(cfg.BindAddress, cfg.RTMPPort))
	if err != nil {
		return nil, err
	}
	srv.listener = ln
	log.Infof("listening for RTMP on %s", ln.Addr())

	if cfg.SSLCert != "" && cfg.SSLKey != "" {
		cer, err := tls.LoadX509KeyPair(cfg.SSLCert, cfg.SSLKey)
		if err != nil {
			ln.Close()
			return nil, err
		}
		tlsLn, err := tls.Listen("tcp", addrOf(cfg.BindAddress, cfg.SSLPort), &tls.Config{Certificates: []tls.Certificate{cer}})
		if err != nil {
			ln.Close()
			return nil, err
		}
		srv.secureListener = tlsLn
		log.Infof("listening for RTMPS on %s", tlsLn.Addr())
	}

	return srv, nil
}

func addrOf(bind string, port int) string {
	return bind + ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// Run starts the accept loops and blocks, draining events on the
// owner goroutine until ctx is canceled.
func (srv *Server) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.acceptLoop(ctx, srv.listener)
	}()

	if srv.secureListener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.acceptLoop(ctx, srv.secureListener)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.tickerLoop(ctx)
	}()

	srv.ownerLoop(ctx)

	srv.closed = true
	srv.listener.Close()
	if srv.secureListener != nil {
		srv.secureListener.Close()
	}
	wg.Wait()
}

func (srv *Server) tickerLoop(ctx context.Context) {
	interval := srv.cfg.PingInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			select {
			case srv.events <- event{kind: eventTick}:
			default:
			}
		}
	}
}

func (srv *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				srv.log.Error(err)
				return
			}
		}

		ip := remoteIP(c)
		if !srv.ipExempted(ip) && !srv.addIP(ip) {
			c.Close()
			srv.metrics.ConnectionsRejected.Inc()
			srv.log.Debugf("rejected connection from %s: too many concurrent connections", ip)
			continue
		}

		id := srv.allocID()
		srv.metrics.ConnectionsAccepted.Inc()
		go srv.handleConnection(ctx, id, ip, c)
	}
}

func remoteIP(c net.Conn) string {
	if addr, ok := c.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	return c.RemoteAddr().String()
}

func (srv *Server) allocID() uint64 {
	srv.idMu.Lock()
	defer srv.idMu.Unlock()
	id := srv.nextID
	srv.nextID++
	return id
}

func (srv *Server) addIP(ip string) bool {
	srv.ipMu.Lock()
	defer srv.ipMu.Unlock()
	limit := srv.cfg.IPLimit
	if limit == 0 {
		limit = 4
	}
	if srv.ipCounts[ip] >= limit {
		return false
	}
	srv.ipCounts[ip]++
	return true
}

func (srv *Server) removeIP(ip string) {
	srv.ipMu.Lock()
	defer srv.ipMu.Unlock()
	if srv.ipCounts[ip] <= 1 {
		delete(srv.ipCounts, ip)
	} else {
		srv.ipCounts[ip]--
	}
}

func (srv *Server) ipExempted(ipStr string) bool {
	r := srv.cfg.IPWhitelist
	if r == "" {
		return false
	}
	if r == "*" {
		return true
	}
	ip := net.ParseIP(ipStr)
	for _, part := range strings.Split(r, ",") {
		rang, err := iprange.ParseRange(part)
		if err != nil {
			continue
		}
		if rang.Contains(ip) {
			return true
		}
	}
	return false
}

// handleConnection is the reader goroutine this connection owns for
// its whole lifetime: it blocks in Handshake and Session.Next, turning
// every result into an event pushed onto the shared channel. It never
// touches srv.connections/srv.channels directly.
func (srv *Server) handleConnection(ctx context.Context, id uint64, ip string, c net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			srv.log.Errorf("connection #%d (%s) panicked: %v", id, ip, r)
		}
		c.Close()
		srv.removeIP(ip)
		srv.events <- event{kind: eventConnClosed, connID: id}
	}()

	sess := rtmpsession.NewSession(c, srv.cfg.OutChunkSize)
	if err := sess.Handshake(srv.cfg.HandshakeTimeout); err != nil {
		srv.log.Debugf("connection #%d (%s) handshake failed: %v", id, ip, err)
		return
	}

	conn := newConnection(id, ip, c, sess)
	go conn.writeLoop()

	srv.events <- event{kind: eventConnAccepted, connID: id, conn: conn}

	for {
		ev, err := sess.Next()
		if err != nil {
			return
		}
		select {
		case srv.events <- event{kind: eventConnMessage, connID: id, rtmpEvent: ev}:
		case <-ctx.Done():
			return
		}
	}
}

// ownerLoop is the single goroutine that ever reads or writes
// srv.connections and srv.channels. Every branch below is non-blocking
// network-wise: media fan-out only ever enqueues onto a viewer's
// buffered outbox (connection.enqueue), which drops rather than
// blocks, and cluster API calls run on their own goroutine via
// dispatchPipelineCreate/dispatchPipelineDelete so a slow API server
// never stalls routing.
func (srv *Server) ownerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-srv.events:
			srv.handleEvent(ctx, ev)
		}
	}
}

func (srv *Server) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case eventConnAccepted:
		srv.connections[ev.connID] = ev.conn
	case eventConnMessage:
		srv.handleRTMPEvent(ctx, ev.connID, ev.rtmpEvent)
	case eventConnClosed:
		srv.handleDisconnect(ctx, ev.connID)
	case eventTick:
		srv.sweepPings()
	case eventCommand:
		srv.handleCommand(ctx, ev)
	}
}

// sweepPings runs on every eventTick: connections with an unanswered
// ping older than the timeout are dropped, everyone else gets a fresh
// PingRequest. lastPing is cleared the moment a PingResponse arrives
// (see handleRTMPEvent), so a connection that keeps answering never
// accumulates a stale deadline.
func (srv *Server) sweepPings() {
	now := time.Now()
	timeout := srv.cfg.PingTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	for id, conn := range srv.connections {
		if !conn.lastPing.IsZero() && now.Sub(conn.lastPing) > timeout {
			srv.log.Debugf("connection #%d (%s) timed out", id, conn.ip)
			conn.conn.Close()
			continue
		}
		if conn.enqueue(outboundFrame{kind: rtmpsession.EventPing, timestamp: now.UnixMilli()}) {
			conn.lastPing = now
		}
	}
}

func channelKey(app, key string) string {
	return app + "/" + key
}

// constantTimeEqual compares publish/play keys without leaking timing
// information, the same discipline the teacher applies via
// crypto/subtle in rtmp_server.go's AddPlayer.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Command ingestd is the RTMP ingest server: it accepts publishers and
// viewers, fans out published streams, and creates/deletes Pipeline
// records in the cluster API as streams start and stop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/beebs-dev/strim/internal/clusterapi"
	"github.com/beebs-dev/strim/internal/config"
	"github.com/beebs-dev/strim/internal/ingest"
	"github.com/beebs-dev/strim/internal/logging"
	"github.com/beebs-dev/strim/internal/metrics"
	"github.com/beebs-dev/strim/pkg/pipeline"
)

func main() {
	log := logging.New("ingestd")
	config.Load()

	namespace := config.OptionalString("NAMESPACE", "strim")
	client, err := clusterapi.NewInCluster(namespace)
	if err != nil {
		log.Fatalf("connect to cluster API: %v", err)
	}

	m := metrics.NewIngest()

	deleteAfter := config.OptionalString("DELETE_OLD_SEGMENTS_AFTER", "")
	var deleteAfterPtr *string
	if deleteAfter != "" {
		deleteAfterPtr = &deleteAfter
	}

	cfg := ingest.Config{
		BindAddress: config.OptionalString("BIND_ADDRESS", "0.0.0.0"),
		RTMPPort:    config.OptionalInt("RTMP_PORT", 1935),
		SSLPort:     config.OptionalInt("RTMP_SSL_PORT", 0),
		SSLCert:     config.OptionalString("SSL_CERT", ""),
		SSLKey:      config.OptionalString("SSL_KEY", ""),

		Namespace: namespace,

		PodName: config.OptionalString("POD_NAME", ""),
		PodUID:  config.OptionalString("POD_UID", ""),
		PodIP:   config.RequireString("POD_IP", log.Fatal),

		Target: pipeline.StrimTarget{
			Bucket:                 config.RequireString("S3_BUCKET", log.Fatal),
			Endpoint:               config.OptionalString("S3_ENDPOINT", ""),
			Region:                 config.OptionalString("S3_REGION", "us-east-1"),
			Secret:                 config.RequireString("S3_SECRET_NAME", log.Fatal),
			KeyPrefix:              config.OptionalString("S3_KEY_PREFIX", ""),
			DeleteOldSegmentsAfter: deleteAfterPtr,
		},

		IPLimit:          uint32(config.OptionalInt("IP_CONNECTION_LIMIT", 8)),
		IPWhitelist:      config.OptionalString("IP_WHITELIST", ""),
		OutChunkSize:     config.OptionalInt("OUT_CHUNK_SIZE", 4096),
		HandshakeTimeout: config.OptionalDuration("HANDSHAKE_TIMEOUT", 0),
		PingInterval:     config.OptionalDuration("PING_INTERVAL", 0),
		PingTimeout:      config.OptionalDuration("PING_TIMEOUT", 0),
	}

	srv, err := ingest.New(cfg, log, m, client)
	if err != nil {
		log.Fatalf("start ingest server: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if redisAddr := config.OptionalString("REDIS_ADDRESS", ""); redisAddr != "" {
		go ingest.StartRedisSubscriber(ctx, srv, redisAddr, config.OptionalString("REDIS_PASSWORD", ""), config.OptionalInt("REDIS_DB", 0), log)
	}

	go func() {
		if err := metrics.Serve(ctx, config.OptionalString("METRICS_ADDRESS", ":9090")); err != nil {
			log.Errorf("metrics server: %v", err)
		}
	}()

	log.Infof("ingestd listening on %s:%d", cfg.BindAddress, cfg.RTMPPort)
	srv.Run(ctx)
	log.Infof("ingestd shut down")
}

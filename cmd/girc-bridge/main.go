package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/tehcyx/girc-bridge/internal/config"
	"github.com/tehcyx/girc-bridge/pkg/bridge"
	"github.com/tehcyx/girc-bridge/pkg/metrics"
	"github.com/tehcyx/girc-bridge/pkg/redis"
	"github.com/tehcyx/girc-bridge/pkg/remote"
	"github.com/tehcyx/girc-bridge/pkg/server"
	"github.com/tehcyx/girc-bridge/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "path to conf.yaml (default ~/.girc/conf.yaml)")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}
	if conf.Server.Debug {
		log.SetLevel(log.DebugLevel)
	}

	log.Printf("Launching girc-bridge %s...", version.GetVersion())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var presence bridge.PresenceStore
	if conf.Redis.Enabled {
		log.Println("Redis enabled, keeping rosters in Redis...")
		redisClient, err := redis.NewClient(conf.Redis.URL, conf.Redis.Prefix)
		if err != nil {
			log.Errorf("Failed to initialize Redis client: %v", err)
			log.Println("Continuing with in-memory rosters...")
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					log.Errorf("Failed to close Redis connection: %v", err)
				}
			}()
			clearCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := redisClient.ClearRosters(clearCtx); err != nil {
				log.Errorf("Failed to clear stale rosters: %v", err)
			}
			cancel()
			presence = redis.NewRosterStore(redisClient)
		}
	}

	br := bridge.New(bridge.Options{
		ServerName: conf.Server.Host,
		BaseURL:    conf.Bridge.BaseURL,
		KeepAlive:  conf.Bridge.KeepAlive,
		Color:      conf.Bridge.Color,
	}, presence, remote.NewDialer(), m)

	if conf.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		metricsSrv := &http.Server{Addr: conf.Metrics.Addr, Handler: mux}
		go func() {
			log.Infof("Serving metrics on %s/metrics", conf.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
		defer metricsSrv.Close()
	}

	ircSrv := server.New(conf, br)
	if err := ircSrv.ListenAndServe(ctx, conf.Server.Port); err != nil {
		log.Error(err)
	}

	if err := br.Close(); err != nil {
		log.Errorf("Closing remote sockets: %v", err)
	}
	log.Printf("Shutting down server. Bye!")
}

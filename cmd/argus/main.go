package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"argus/internal/config"
	"argus/internal/discovery"
	"argus/internal/events"
	"argus/internal/fleet"
	"argus/internal/geoip"
	"argus/internal/poller"
	"argus/internal/remote"
	"argus/internal/scheduler"
	"argus/internal/server"
	"argus/internal/store"
)

func main() {
	configPath := envOr("CONFIG_FILE", "./config.yaml")
	dbPath := envOr("DB_PATH", "./data/argus.db")
	listenAddr := envOr("LISTEN_ADDR", ":5000")
	corsOrigin := os.Getenv("CORS_ORIGIN")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	log.Printf("loaded %d nodes from %s", len(cfg.Nodes), configPath)
	if cfg.TrustsUnknownHosts() {
		log.Println("host key verification disabled (trust_unknown_hosts)")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatal(err)
	}

	s, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	fl, err := fleet.Open(cfg.FleetFile)
	if err != nil {
		log.Fatalf("loading fleet: %v", err)
	}
	log.Printf("loaded %d servers from %s", len(fl.Current()), fl.Path())

	geoResolver := geoip.NewResolver(os.Getenv("GEOIP_DB"))
	defer geoResolver.Close()

	var connector remote.Connector
	sshConnector, err := remote.NewSSHConnector(remote.Options{
		PrivateKeyPath:    cfg.PrivateKeyPath,
		TrustUnknownHosts: cfg.TrustsUnknownHosts(),
		KnownHostsFile:    cfg.KnownHostsFile,
		Timeout:           cfg.ConnectTimeout,
		Retry:             remote.RetryPolicy{MaxAttempts: cfg.Retry.Attempts, Delay: cfg.Retry.Delay},
	})
	switch {
	case err == nil:
		connector = sshConnector
	case hasRemoteNodes(cfg):
		log.Fatalf("initializing ssh: %v", err)
	default:
		log.Printf("ssh unavailable, local nodes only: %v", err)
	}

	hub := events.NewHub()
	cycle := discovery.New(cfg, connector, fl, hub, discovery.WithRecorder(s, store.DefaultRunRetention))

	var pollerOpts []poller.Option
	if geoResolver.Enabled() {
		pollerOpts = append(pollerOpts, poller.WithGeoIP(geoResolver))
	}
	p := poller.New(cfg, fl, hub, pollerOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p.Start(ctx)
	defer p.Stop()

	sch := scheduler.New(cycle, cfg.DiscoveryInterval, scheduler.WithTrigger(p))
	sch.Start(ctx)
	defer sch.Stop()

	opts := []server.Option{
		server.WithFleet(fl),
		server.WithDiscovery(cycle),
		server.WithPoller(p),
		server.WithHub(hub),
		server.WithBaseContext(ctx),
	}
	if corsOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(corsOrigin))
	}
	srv := server.NewServer(s, opts...)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Argus listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func hasRemoteNodes(cfg config.Config) bool {
	for _, n := range cfg.Nodes {
		if !n.LocalAccess {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// cmd/swindon-gateway/main.go
// Entry point for the Gateway process: loads configuration, wires the
// session layer, Admin API, replication mesh and Prometheus metrics onto
// one HTTP server plus one gRPC server, and shuts down in order on SIGINT/
// SIGTERM. Grounded on the teacher's (now superseded) cmd/flarego-gateway
// main.go: flags + viper + zap + graceful shutdown in the same order.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/swindon-rs/swindon-gateway/internal/admin"
	"github.com/swindon-rs/swindon-gateway/internal/backend"
	"github.com/swindon-rs/swindon-gateway/internal/gateway"
	"github.com/swindon-rs/swindon-gateway/internal/gatewaycfg"
	"github.com/swindon-rs/swindon-gateway/internal/logging"
	"github.com/swindon-rs/swindon-gateway/internal/metrics"
	"github.com/swindon-rs/swindon-gateway/internal/replication"
	"github.com/swindon-rs/swindon-gateway/internal/replication/wire"
	"github.com/swindon-rs/swindon-gateway/pkg/version"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML/TOML/JSON config file")
	listenAddr := flag.String("listen", "", "override Config.ListenAddr")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialise logger:", err)
		os.Exit(1)
	}
	logging.Set(logger)
	defer logger.Sync()

	cfg, err := gatewaycfg.Load(gatewaycfg.DefaultConfig(), *configFile, "SWINDON")
	if err != nil {
		logging.Sugar().Fatalw("failed to load config", "err", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	cfgStore := gatewaycfg.NewStore(cfg)

	destinationResolver := func(dest string) (string, string, bool) {
		d, ok := cfg.Destinations[dest]
		if !ok {
			return "", "", false
		}
		return "http://" + d.Name, d.OverrideHostHeader, true
	}
	dest := backend.NewClient(destinationResolver)

	srv := gateway.NewServer(cfgStore, dest)

	var presence *replication.PresenceMirror
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		presence = replication.NewPresenceMirror(rdb, 2*time.Hour)
	}
	pool := srv.Pool()
	origOnActive, origOnInactive := pool.OnUserActive, pool.OnUserInactive
	pool.OnUserActive = func(userID string) {
		origOnActive(userID)
		presence.Record(context.Background(), userID, true)
	}
	pool.OnUserInactive = func(userID string) {
		origOnInactive(userID)
		presence.Record(context.Background(), userID, false)
	}

	mesh := replication.NewMesh(cfg.NodeTag, cfg.ReplicationPeers, cfg.ReplicationSecret, srv.Pool(), srv.Topics(), srv.Lattice())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mesh.Start(ctx)

	if cfg.ReplicationListenAddr != "" {
		grpcSrv := grpc.NewServer()
		wire.RegisterPeerServiceServer(grpcSrv, mesh)
		ln, err := net.Listen("tcp", cfg.ReplicationListenAddr)
		if err != nil {
			logging.Sugar().Fatalw("failed to bind replication listener", "err", err)
		}
		go func() {
			logging.Sugar().Infow("replication mesh listening", "addr", cfg.ReplicationListenAddr)
			if err := grpcSrv.Serve(ln); err != nil {
				logging.Sugar().Warnw("replication server stopped", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			grpcSrv.GracefulStop()
		}()
	}

	httpMux := srv.Mux()

	adminRouter := mux.NewRouter()
	adminAPI := &admin.API{Pool: srv.Pool(), Topics: srv.Topics(), Lattice: srv.Lattice()}
	adminAPI.Mount(adminRouter, cfg.AdminPrefix)
	httpMux.Handle(cfg.AdminPrefix+"/", adminRouter)

	if cfg.EnableMetrics {
		metrics.Register()
		httpMux.Handle("/metrics", promhttp.Handler())
	}

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpMux,
	}

	go func() {
		logging.Sugar().Infow("gateway listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Sugar().Fatalw("http server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.Sugar().Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/brokermesh/brokermesh/internal/config"
	"github.com/brokermesh/brokermesh/pkg/endpoint"
)

const (
	appName    = "brokermesh"
	appVersion = "0.1.0"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to a YAML config file")
		listenAddr  = flag.String("listen", ":7090", "Listen address for peer connections")
		healthAddr  = flag.String("health-listen", ":7091", "Listen address for the gRPC health service")
		peersFlag   = flag.String("peers", "", "Comma-separated addresses to peer with at startup")
		disableSSL  = flag.Bool("disable-ssl", false, "Disable TLS on the peer transport")
		certFile    = flag.String("tls-cert", "", "TLS certificate file (required unless -disable-ssl)")
		keyFile     = flag.String("tls-key", "", "TLS key file (required unless -disable-ssl)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		return
	}

	logger := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := config.Load(*configPath, config.WithDisableSSL(*disableSSL))
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	logger.WithField("config", cfg.DumpContent()).Info("configuration loaded")

	var tlsConfig *tls.Config
	if !cfg.DisableSSL {
		if *certFile == "" || *keyFile == "" {
			logger.Fatal("-tls-cert and -tls-key are required unless -disable-ssl is set")
		}
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			logger.WithError(err).Fatal("failed to load TLS key pair")
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	ep, err := endpoint.New(endpoint.Options{Config: cfg, TLSConfig: tlsConfig, Logger: logger})
	if err != nil {
		logger.WithError(err).Fatal("failed to construct endpoint")
	}

	if _, err := ep.ListenTCP(*listenAddr); err != nil {
		logger.WithError(err).Fatal("failed to listen for peer connections")
	}
	logger.WithField("addr", *listenAddr).Info("listening for peer connections")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, addr := range splitPeers(*peersFlag) {
		logger.WithField("addr", addr).Info("peering with configured target")
		ep.Peer(ctx, addr)
	}

	hln, err := net.Listen("tcp", *healthAddr)
	if err != nil {
		logger.WithError(err).Fatal("failed to listen for health checks")
	}
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, ep.Health())
	go func() {
		if err := grpcServer.Serve(hln); err != nil {
			logger.WithError(err).Warn("health server stopped")
		}
	}()
	logger.WithField("addr", *healthAddr).Info("serving gRPC health checks")

	logger.WithField("id", ep.ID().String()).Info("brokermesh endpoint started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, draining")
	grpcServer.GracefulStop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := ep.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("error during shutdown")
	}
	logger.Info("brokermesh endpoint stopped")
}

func splitPeers(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

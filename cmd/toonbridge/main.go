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
	"github.com/sirupsen/logrus"

	"github.com/mklaassen/toonbridge/internal/config"
	"github.com/mklaassen/toonbridge/internal/core"
	"github.com/mklaassen/toonbridge/internal/oauth"
	"github.com/mklaassen/toonbridge/internal/plugins"
	"github.com/mklaassen/toonbridge/internal/rate"
	"github.com/mklaassen/toonbridge/internal/realtime"
	"github.com/mklaassen/toonbridge/internal/server"
	"github.com/mklaassen/toonbridge/plugins/toon"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "oauth" {
		oauthMain(os.Args[2:])
		return
	}
	daemonMain(os.Args[1:])
}

func daemonMain(args []string) {
	flags := flag.NewFlagSet("toonbridge", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultPath, "Path to config.yaml")
	logLevel := flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = flags.Parse(args)

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	log := logrus.WithField("component", "daemon")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	blobStore, err := oauth.NewS3Store(oauth.S3Options{
		Endpoint:      cfg.OAuth.BlobEndpoint,
		Bucket:        cfg.OAuth.BlobBucket,
		Prefix:        cfg.OAuth.BlobPrefix,
		Region:        cfg.OAuth.BlobRegion,
		AccessKeyFile: cfg.OAuth.BlobAccessKeyFile,
		SecretKeyFile: cfg.OAuth.BlobSecretKeyFile,
	})
	if err != nil {
		log.WithError(err).Fatal("init blob store")
	}

	var publisher realtime.Publisher = realtime.NopPublisher{}
	if cfg.MQTT != nil {
		publisher, err = realtime.NewMQTTPublisher(realtime.Options{
			BrokerURL:    cfg.MQTT.BrokerURL,
			Username:     cfg.MQTT.Username,
			PasswordFile: cfg.MQTT.PasswordFile,
			TopicPrefix:  cfg.MQTT.TopicPrefix,
		}, log)
		if err != nil {
			log.WithError(err).Fatal("connect mqtt")
		}
	}
	defer publisher.Close()

	active := plugins.Compiled(cfg, plugins.Deps{
		BlobStore: blobStore,
		Publisher: publisher,
		Log:       log,
	})
	if err := core.ValidatePlugins(active); err != nil {
		log.WithError(err).Fatal("validate plugins")
	}
	if err := core.ValidateEnabledPlugins(active, config.EnabledPlugins(cfg), false); err != nil {
		log.WithError(err).Fatal("validate enabled plugins")
	}
	for _, p := range active {
		log.WithFields(logrus.Fields{
			"plugin": p.ID(),
			"health": p.Health(),
		}).Info("plugin loaded")
	}

	registry := core.MetricsRegistry(active)
	registry.MustRegister(oauth.MetricsCollectors()...)
	registry.MustRegister(rate.MetricsCollectors()...)
	registry.MustRegister(realtime.MetricsCollectors()...)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "toonbridge_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		log.WithError(err).Warn("write dashboards")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler)
	mux.Handle("/metrics", server.MetricsHandler(registry))
	mux.Handle("/dashboards/", server.DashboardsHandler(core.DashboardsMap(active)))
	core.NewRegistryService(active).RegisterHTTP(mux)
	for _, p := range active {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(mux)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	for _, p := range active {
		if runner, ok := p.(core.Runner); ok {
			go runner.Run(stop)
		}
	}

	var toonClient *toon.Client
	for _, p := range active {
		tp, ok := p.(*toon.Plugin)
		if !ok || tp.Client() == nil {
			continue
		}
		toonClient = tp.Client()
		toonClient.OAuth().StartWithInterval(ctx, config.RefreshInterval(cfg.OAuth))
		if cfg.Toon != nil && cfg.Toon.WebhookCallbackURL != "" {
			go func() {
				if err := toonClient.RegisterWebhook(ctx); err != nil {
					log.WithError(err).Warn("webhook registration failed; relying on polling")
				}
			}()
		}
	}

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, mux, log)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http serve")
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.WithField("signal", sig.String()).Info("shutting down")

	close(stop)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if toonClient != nil && cfg.Toon != nil && cfg.Toon.WebhookCallbackURL != "" {
		if err := toonClient.UnregisterWebhook(shutdownCtx); err != nil {
			log.WithError(err).Warn("webhook unregistration failed")
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
}

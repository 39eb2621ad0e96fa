// Copyright (c) 2024 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Apache Software License 2.0 which is available at
// https://www.apache.org/licenses/LICENSE-2.0, or the MIT license
// which is available at https://opensource.org/licenses/MIT.
//
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Command pubsubd runs a single publisher against an in-process
// subscriber registry, reconciling connections on a cron schedule and
// serving Prometheus metrics over HTTP. It exists to give the pubsub package a runnable
// home: a real deployment replaces the in-process registry with one
// backed by the service's actual discovery mechanism, but the
// publisher core underneath is unchanged.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"

	"github.com/iceoryx2-go/pubsubcore/pkg/pubsub"
)

// config is loaded from the environment with the PUBSUBD_ prefix, e.g.
// PUBSUBD_SERVICE_NAME, PUBSUBD_METRICS_ADDR.
type config struct {
	ServiceName          string        `env:"SERVICE_NAME" envDefault:"pubsubd/demo"`
	MaxSubscribers       uint64        `env:"MAX_SUBSCRIBERS" envDefault:"8"`
	SubscriberBufferSize uint64        `env:"SUBSCRIBER_BUFFER_SIZE" envDefault:"16"`
	HistorySize          uint64        `env:"HISTORY_SIZE" envDefault:"4"`
	MaxLoanedSamples     uint64        `env:"MAX_LOANED_SAMPLES" envDefault:"16"`
	PublishInterval      time.Duration `env:"PUBLISH_INTERVAL" envDefault:"500ms"`
	ReconcileCron        string        `env:"RECONCILE_CRON" envDefault:"@every 1s"`
	MetricsAddr          string        `env:"METRICS_ADDR" envDefault:":9464"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("pubsubd exited with an error")
	}
}

func run() error {
	var cfg config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "PUBSUBD_"}); err != nil {
		return pubsub.WrapError("pubsubd.run", err)
	}

	// PUBSUB_LOG_LEVEL, read by SetLogLevelFromEnvOr, overrides
	// PUBSUBD_LOG_LEVEL when both are set.
	pubsub.SetLogLevelFromEnvOr(parseLogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()
	defer server.Close()

	registry := pubsub.NewAtomicSubscriberRegistry(int(cfg.MaxSubscribers), 1)

	static := pubsub.ServiceStaticConfig{
		ServiceName:          cfg.ServiceName,
		HistorySize:          cfg.HistorySize,
		MaxPublishers:        1,
		MaxSubscribers:       cfg.MaxSubscribers,
		SubscriberBufferSize: cfg.SubscriberBufferSize,
		PayloadTypeName:      "uint64",
		PayloadLayout:        pubsub.Layout{Size: 8, Align: 8},
	}
	pubConfig := pubsub.PublisherConfig{
		MaxLoanedSamples:        cfg.MaxLoanedSamples,
		UnableToDeliverStrategy: pubsub.UnableToDeliverStrategyDiscardSample,
		DegradationCallback:     logAndIgnore,
	}

	// Overflow is a property of the subscriber's ring, not the delivery
	// strategy: DiscardSample needs a non-overflow ring so a full ring
	// actually discards instead of displacing the oldest entry.
	publisher, err := pubsub.NewPublisher(static, pubConfig, registry, pubsub.DefaultConnectionFactory(false))
	if err != nil {
		return pubsub.WrapError("pubsubd.run", err)
	}
	defer publisher.Close()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ReconcileCron, func() {
		if err := publisher.UpdateConnections(); err != nil {
			log.Warn().Err(err).Msg("periodic reconciliation reported a connection failure")
		}
	}); err != nil {
		return pubsub.WrapError("pubsubd.run", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("publisher_id", publisher.ID().String()).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("pubsubd publisher started")

	ticker := time.NewTicker(cfg.PublishInterval)
	defer ticker.Stop()

	var sequence uint64
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("pubsubd shutting down")
			return nil
		case <-ticker.C:
			sample, err := publisher.LoanUninit()
			if err != nil {
				log.Warn().Err(err).Msg("loan failed, skipping this tick")
				continue
			}
			pubsub.WritePayloadAs(sample, sequence)
			if _, err := sample.Send(ctx); err != nil {
				log.Warn().Err(err).Uint64("sequence", sequence).Msg("send failed")
			}
			sequence++
		}
	}
}

// logAndIgnore is this daemon's degradation policy: every per-subscriber
// fault is already logged by the pubsub package's own warning path, so
// the daemon itself just keeps the publisher alive.
func logAndIgnore(_ pubsub.ServiceStaticConfig, _ pubsub.PublisherID, _ pubsub.SubscriberID) pubsub.DegradationAction {
	return pubsub.DegradationWarn
}

// parseLogLevel maps the PUBSUBD_LOG_LEVEL config value onto the
// pubsub package's own LogLevel enum, for use as SetLogLevelFromEnvOr's
// default.
func parseLogLevel(level string) pubsub.LogLevel {
	switch level {
	case "trace":
		return pubsub.LogLevelTrace
	case "debug":
		return pubsub.LogLevelDebug
	case "warn":
		return pubsub.LogLevelWarn
	case "error":
		return pubsub.LogLevelError
	default:
		return pubsub.LogLevelInfo
	}
}

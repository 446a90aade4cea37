package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/vizier/config"
	"github.com/mohammad-safakhou/vizier/internal/broadcast"
	"github.com/mohammad-safakhou/vizier/internal/llm"
	"github.com/mohammad-safakhou/vizier/internal/pipeline"
	"github.com/mohammad-safakhou/vizier/internal/relay"
	"github.com/mohammad-safakhou/vizier/internal/runtime"
	"github.com/mohammad-safakhou/vizier/internal/sources/twitter"
	"github.com/mohammad-safakhou/vizier/internal/sources/web"
	"github.com/mohammad-safakhou/vizier/internal/store"
	"github.com/mohammad-safakhou/vizier/internal/tracker"
	"github.com/redis/go-redis/v9"
)

// Version is reported in telemetry resources.
var Version = "dev"

// Run wires every dependency from cfg and serves until ctx is cancelled.
// An empty addr falls back to server.address.
func Run(ctx context.Context, cfg *config.Config, addr string) error {
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	if addr == "" {
		addr = cfg.Server.Address
	}

	tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceName: "vizier", ServiceVersion: Version})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	policy, err := broadcast.ParseOverflowPolicy(cfg.Stream.OverflowPolicy)
	if err != nil {
		return err
	}
	bc := broadcast.New(broadcast.Options{QueueSize: cfg.Stream.QueueSize, Overflow: policy})

	var mirror tracker.Mirror
	if cfg.Relay.Enabled {
		rc := cfg.Storage.Redis
		rdb := redis.NewClient(&redis.Options{
			Addr:        rc.Addr(),
			Password:    rc.Password,
			DB:          rc.DB,
			DialTimeout: rc.Timeout,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", rc.Addr(), err)
		}
		r, err := relay.New(rdb, cfg.Relay.Stream, cfg.Relay.MaxLen)
		if err != nil {
			return err
		}
		mirror = r
	}

	tr, err := tracker.New(tracker.Options{Repository: st, Broadcaster: bc, Mirror: mirror, IdleTTL: cfg.Stream.IdleTTL})
	if err != nil {
		return err
	}
	evictCtx, stopEvictor := context.WithCancel(ctx)
	defer stopEvictor()
	go tr.RunEvictor(evictCtx, 0)

	completer, err := llm.New(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		AppName:     cfg.General.AppName,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
		Retries:     cfg.LLM.MaxRetries,
	})
	if err != nil {
		return err
	}
	webSearch, twitterSearch, err := buildSearchers(cfg.Sources, logger)
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Options{
		Store:       st,
		Tracker:     tr,
		LLM:         completer,
		Web:         webSearch,
		Twitter:     twitterSearch,
		StepTimeout: cfg.Pipeline.StepTimeout,
		SourceLimit: cfg.Sources.ResultLimit,
	})
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	srv, err := New(Options{
		Service:        p,
		Secret:         secret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Heartbeat:      cfg.Stream.Heartbeat,
		Metrics:        tel.MetricsHandler(),
		Health:         st.Ping,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	// Streams only end when their subscriptions close, so the broadcaster
	// goes first or Shutdown would wait out every open stream.
	bc.Close()
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(sctx); serr != nil {
		logger.Printf("http shutdown: %v", serr)
	}
	p.Close()
	return err
}

// buildSearchers returns nil interfaces for providers without credentials.
func buildSearchers(cfg config.SourcesConfig, logger *log.Logger) (pipeline.Searcher, pipeline.Searcher, error) {
	var webSearch, twitterSearch pipeline.Searcher
	if cfg.WebSearch.APIKey != "" {
		s, err := web.NewSearcher(web.Config{
			Provider: web.Provider(strings.ToLower(cfg.WebSearch.Provider)),
			APIKey:   cfg.WebSearch.APIKey,
			BaseURL:  cfg.WebSearch.BaseURL,
			Timeout:  cfg.Timeout,
			Retries:  cfg.MaxRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		webSearch = s
	} else {
		logger.Printf("web search disabled: no api key")
	}
	if cfg.Twitter.BearerToken != "" {
		c, err := twitter.New(twitter.Config{
			BearerToken:   cfg.Twitter.BearerToken,
			BaseURL:       cfg.Twitter.BaseURL,
			Lang:          cfg.Twitter.Lang,
			MinEngagement: cfg.Twitter.MinEngagement,
			Timeout:       cfg.Timeout,
			Retries:       cfg.MaxRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		twitterSearch = c
	} else {
		logger.Printf("twitter search disabled: no bearer token")
	}
	return webSearch, twitterSearch, nil
}

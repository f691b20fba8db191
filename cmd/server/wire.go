package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/erpath/internal/breaker"
	"github.com/linnemanlabs/erpath/internal/care"
	"github.com/linnemanlabs/erpath/internal/care/memstore"
	"github.com/linnemanlabs/erpath/internal/care/pgstore"
	ec "github.com/linnemanlabs/erpath/internal/cfg"
	"github.com/linnemanlabs/erpath/internal/facility"
	"github.com/linnemanlabs/erpath/internal/facility/feed"
	"github.com/linnemanlabs/erpath/internal/facility/redisboard"
	"github.com/linnemanlabs/erpath/internal/llm/claude"
	"github.com/linnemanlabs/erpath/internal/notify/slack"
	"github.com/linnemanlabs/erpath/internal/pathway"
	"github.com/linnemanlabs/erpath/internal/postgres"
	"github.com/linnemanlabs/erpath/internal/triage"
)

// openStore returns the session store and a close function. An empty
// database URL selects the in-memory store.
func openStore(ctx context.Context, databaseURL string, L log.Logger) (care.Store, func(), error) {
	if databaseURL == "" {
		L.Info(ctx, "using in-memory session store (no database-url configured)")
		return memstore.New(), func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	L.Info(ctx, "using postgres session store")
	return store, pool.Close, nil
}

// openCatalog returns the facility catalog and a close function. An empty
// redis URL selects the in-process board.
func openCatalog(ctx context.Context, redisURL, key string, L log.Logger) (facility.Catalog, func(), error) {
	if redisURL == "" {
		L.Info(ctx, "using in-process facility board (no redis-url configured)")
		return facility.NewBoard(), func() {}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	L.Info(ctx, "using redis facility board", "key", key)
	return redisboard.New(client, key), func() { _ = client.Close() }, nil
}

// feedSource picks the facility source. The HTTP feed wins over a seed file;
// nil means no source is configured.
func feedSource(c ec.Config) feed.Source {
	switch {
	case c.FacilityFeedURL != "":
		return feed.NewClient(c.FacilityFeedURL)
	case c.FacilitiesFile != "":
		return feed.File{Path: c.FacilitiesFile}
	default:
		return nil
	}
}

// collaborators builds the external classifier, pathway generator and
// critical notifier. Without a Claude key the service runs on the rule engine
// and the default pathway.
func collaborators(c ec.Config, L log.Logger, bm *breaker.Metrics) (triage.Classifier, pathway.Generator, care.Notifier) {
	var (
		classifier triage.Classifier
		generator  pathway.Generator
		notifier   care.Notifier
	)

	if c.ClaudeAPIKey != "" {
		provider := claude.New(c.ClaudeAPIKey, c.ClaudeModel)
		classifier = triage.NewLLMClassifier(provider,
			breaker.New(breaker.DefaultConfig("classifier"), L, bm),
			c.ClassifierTimeout, L.With("component", "classifier"))
		generator = pathway.NewLLMGenerator(provider,
			breaker.New(breaker.DefaultConfig("generator"), L, bm),
			c.GeneratorTimeout, L.With("component", "generator"))
	}

	if c.SlackWebhookURL != "" {
		notifier = slack.New(c.SlackWebhookURL, L)
	}

	return classifier, generator, notifier
}

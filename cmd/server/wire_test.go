package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/erpath/internal/care"
	"github.com/linnemanlabs/erpath/internal/care/memstore"
	ec "github.com/linnemanlabs/erpath/internal/cfg"
	"github.com/linnemanlabs/erpath/internal/facility"
	"github.com/linnemanlabs/erpath/internal/facility/feed"
	"github.com/linnemanlabs/erpath/internal/facility/redisboard"
)

func TestOpenStore_InMemory(t *testing.T) {
	t.Parallel()

	store, closeFn, err := openStore(context.Background(), "", log.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeFn()
	if _, ok := store.(*memstore.Store); !ok {
		t.Errorf("store = %T, want *memstore.Store", store)
	}
}

func TestOpenStore_BadURL(t *testing.T) {
	t.Parallel()

	if _, _, err := openStore(context.Background(), "postgres://%zz", log.Nop()); err == nil {
		t.Fatal("expected error for malformed database url")
	}
}

func TestOpenCatalog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cat, closeFn, err := openCatalog(ctx, "", "", log.Nop())
	if err != nil {
		t.Fatalf("openCatalog in-process: %v", err)
	}
	closeFn()
	if _, ok := cat.(*facility.Board); !ok {
		t.Errorf("catalog = %T, want *facility.Board", cat)
	}

	mr := miniredis.RunT(t)
	cat, closeFn, err = openCatalog(ctx, "redis://"+mr.Addr(), "test:facilities", log.Nop())
	if err != nil {
		t.Fatalf("openCatalog redis: %v", err)
	}
	defer closeFn()
	if _, ok := cat.(*redisboard.Board); !ok {
		t.Fatalf("catalog = %T, want *redisboard.Board", cat)
	}
	if _, err := cat.Replace(ctx, 1, []facility.Facility{{ID: "a", Name: "A"}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if !mr.Exists("test:facilities") {
		t.Error("board not stored under configured key")
	}

	if _, _, err := openCatalog(ctx, "not a url", "k", log.Nop()); err == nil {
		t.Error("expected error for malformed redis url")
	}
}

func TestFeedSource(t *testing.T) {
	t.Parallel()

	if src := feedSource(ec.Config{}); src != nil {
		t.Errorf("no source configured, got %T", src)
	}
	if _, ok := feedSource(ec.Config{FacilitiesFile: "f.json"}).(feed.File); !ok {
		t.Error("file only should give feed.File")
	}
	src := feedSource(ec.Config{FacilityFeedURL: "http://feed", FacilitiesFile: "f.json"})
	if _, ok := src.(*feed.Client); !ok {
		t.Errorf("feed url should win, got %T", src)
	}
}

func TestCollaborators(t *testing.T) {
	t.Parallel()

	c, g, n := collaborators(ec.Config{}, log.Nop(), nil)
	if c != nil || g != nil || n != nil {
		t.Errorf("without config want all nil, got %T %T %T", c, g, n)
	}

	c, g, n = collaborators(ec.Config{
		ClaudeAPIKey:      "sk-test",
		ClaudeModel:       "claude-test",
		ClassifierTimeout: time.Second,
		GeneratorTimeout:  time.Second,
		SlackWebhookURL:   "https://hooks.slack.com/x",
	}, log.Nop(), nil)
	if c == nil || g == nil || n == nil {
		t.Errorf("configured collaborators missing: %v %v %v", c, g, n)
	}
}

func TestWaitService(t *testing.T) {
	t.Parallel()

	svc := care.NewService(care.Deps{Store: memstore.New(), Catalog: facility.NewBoard()})

	done := make(chan struct{})
	close(done)
	if err := waitService(context.Background(), svc, done); err != nil {
		t.Errorf("waitService = %v, want nil", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := waitService(ctx, svc, make(chan struct{})); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("waitService = %v, want deadline exceeded", err)
	}
}

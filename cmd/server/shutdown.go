package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// component is one thing stopped during shutdown.
type component struct {
	name string
	stop func(context.Context) error
}

// drainFor waits out the drain period so the load balancer sees the closed
// readiness gate. A second signal cuts it short.
func drainFor(L log.Logger, d time.Duration) {
	ctx := context.Background()
	L.Info(ctx, "sleeping for drain period", "drain", d.String())

	force := make(chan os.Signal, 1)
	signal.Notify(force, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(force)

	waitDrain(L, d, force)
}

func waitDrain(L log.Logger, d time.Duration, force <-chan os.Signal) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(context.Background(), "drain period complete")
	case <-force:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

// stopAll stops components in order. Each gets an equal slice of budget and
// the whole run is capped by it; nil stop functions are skipped. It returns
// the names of components that failed.
func stopAll(L log.Logger, budget time.Duration, comps []component) []string {
	live := comps[:0:0]
	for _, c := range comps {
		if c.stop != nil {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	per := budget / time.Duration(len(live))

	var failed []string
	for _, c := range live {
		cctx, ccancel := context.WithTimeout(ctx, per)
		if err := c.stop(cctx); err != nil {
			L.Error(context.Background(), err, c.name+" shutdown")
			failed = append(failed, c.name)
		}
		ccancel()
	}
	return failed
}

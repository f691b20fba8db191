package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/erpath/internal/facility"
)

// Metrics holds Prometheus metrics for catalog refreshes.
type Metrics struct {
	RefreshesTotal  *prometheus.CounterVec
	DefaultedFields *prometheus.CounterVec
	Facilities      prometheus.Gauge
	LastSuccess     prometheus.Gauge
}

// NewMetrics registers and returns feed metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erpath_facility_refreshes_total",
			Help: "Facility catalog refresh passes by result.",
		}, []string{"result"}),
		DefaultedFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erpath_facility_defaulted_fields_total",
			Help: "Facility record fields that fell back to a default during normalization.",
		}, []string{"field"}),
		Facilities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "erpath_facility_catalog_size",
			Help: "Facilities in the most recently stored catalog.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "erpath_facility_last_refresh_timestamp_seconds",
			Help: "Unix time of the last successful catalog replace.",
		}),
	}
	reg.MustRegister(m.RefreshesTotal, m.DefaultedFields, m.Facilities, m.LastSuccess)
	return m
}

// Refresher periodically fetches, normalizes and stores the facility list.
type Refresher struct {
	source   Source
	catalog  facility.Catalog
	opts     facility.Options
	interval time.Duration
	logger   log.Logger
	metrics  *Metrics
	clock    func() time.Time

	mu      sync.Mutex
	lastGen uint64
}

// NewRefresher creates a refresher. metrics may be nil.
func NewRefresher(src Source, cat facility.Catalog, opts facility.Options, interval time.Duration, logger log.Logger, metrics *Metrics) *Refresher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Refresher{
		source:   src,
		catalog:  cat,
		opts:     opts,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		clock:    time.Now,
	}
}

// nextGeneration returns a generation taken before the fetch starts. It is
// unix milliseconds, bumped past the previous value when the clock has not
// moved.
func (r *Refresher) nextGeneration() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen := uint64(r.clock().UnixMilli())
	if gen <= r.lastGen {
		gen = r.lastGen + 1
	}
	r.lastGen = gen
	return gen
}

// Refresh runs one pass. On a fetch error the stored list is left alone.
func (r *Refresher) Refresh(ctx context.Context) error {
	gen := r.nextGeneration()

	recs, err := r.source.Fetch(ctx)
	if err != nil {
		r.count("fetch_error")
		return fmt.Errorf("fetch facilities: %w", err)
	}

	list, report := facility.NormalizeAll(recs, r.opts)
	for _, d := range report {
		r.logger.Warn(ctx, "facility record defaulted fields",
			"index", d.Index,
			"facility_id", d.ID,
			"fields", d.Fields,
		)
		if r.metrics != nil {
			for _, f := range d.Fields {
				r.metrics.DefaultedFields.WithLabelValues(f).Inc()
			}
		}
	}

	ok, err := r.catalog.Replace(ctx, gen, list)
	if err != nil {
		r.count("store_error")
		return fmt.Errorf("replace catalog: %w", err)
	}
	if !ok {
		r.count("superseded")
		r.logger.Info(ctx, "facility list superseded by newer generation", "generation", gen)
		return nil
	}

	r.count("success")
	if r.metrics != nil {
		r.metrics.Facilities.Set(float64(len(list)))
		r.metrics.LastSuccess.Set(float64(r.clock().Unix()))
	}
	r.logger.Info(ctx, "facility catalog refreshed",
		"generation", gen,
		"facilities", len(list),
		"records_filtered", len(recs)-len(list),
		"records_defaulted", len(report),
	)
	return nil
}

// Run refreshes immediately and then on every interval until ctx is done.
// A non-positive interval refreshes once.
func (r *Refresher) Run(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Error(ctx, err, "facility refresh failed")
	}
	if r.interval <= 0 {
		return
	}

	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Error(ctx, err, "facility refresh failed")
			}
		}
	}
}

func (r *Refresher) count(result string) {
	if r.metrics != nil {
		r.metrics.RefreshesTotal.WithLabelValues(result).Inc()
	}
}

// Package reconcile periodically compares the venue's resting orders
// against the execution ledger. It only detects drift: orphans and
// zombies are audited at WARNING and surfaced on the status endpoint,
// never cancelled automatically. An operator decides what to do.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/audit"
	"signal-core/internal/monitor"
	"signal-core/pkg/db"
	"signal-core/pkg/exchange/common"
)

// Discrepancy kinds.
const (
	// KindOrphan is an order resting on the venue that the ledger has
	// no record of. Usually a manual order or a lost write.
	KindOrphan = "orphan"
	// KindZombie is a ledger order still marked open with nothing
	// matching on the venue. Usually a fill or cancel we never saw, or
	// a crash between the write-ahead row and the venue ack.
	KindZombie = "zombie"
)

const defaultInterval = time.Minute

// Venue is the slice of the exchange gateway the sweeper reads.
type Venue interface {
	OpenOrders(ctx context.Context) ([]common.OpenOrder, error)
}

// Ledger is the persistence surface. *db.Database satisfies it.
type Ledger interface {
	ListOpenOrders(ctx context.Context) ([]db.Order, error)
}

// Auditor is the slice of the audit trail the sweeper writes to.
type Auditor interface {
	Record(e audit.Entry)
}

// Discrepancy is one mismatched order.
type Discrepancy struct {
	Kind            string  `json:"kind"`
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side,omitempty"`
	Qty             float64 `json:"qty"`
	OrderID         string  `json:"order_id,omitempty"`
	ExchangeOrderID string  `json:"exchange_order_id,omitempty"`
}

// Report is the outcome of one sweep.
type Report struct {
	Time    time.Time     `json:"time"`
	Checked int           `json:"checked"`
	Orphans []Discrepancy `json:"orphans,omitempty"`
	Zombies []Discrepancy `json:"zombies,omitempty"`
}

// Clean reports whether venue and ledger agreed.
func (r *Report) Clean() bool {
	return len(r.Orphans) == 0 && len(r.Zombies) == 0
}

// Sweeper runs the periodic comparison.
type Sweeper struct {
	venue    Venue
	ledger   Ledger
	trail    Auditor
	metrics  *monitor.Metrics
	log      zerolog.Logger
	interval time.Duration

	mu   sync.Mutex
	last *Report
	wg   sync.WaitGroup
}

// NewSweeper builds a sweeper. Metrics may be nil; a non-positive
// interval falls back to one minute.
func NewSweeper(venue Venue, ledger Ledger, trail Auditor, metrics *monitor.Metrics, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		venue:    venue,
		ledger:   ledger,
		trail:    trail,
		metrics:  metrics,
		interval: interval,
		log:      logger.With().Str("component", "reconcile").Logger(),
	}
}

// Start launches the sweep loop. The first sweep runs after one full
// interval so startup order replay can settle first.
func (s *Sweeper) Start(ctx context.Context) {
	if s.venue == nil || s.ledger == nil {
		s.log.Warn().Msg("reconcile sweeper not fully configured; not starting")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.log.Error().Err(err).Msg("reconcile sweep failed")
				}
			}
		}
	}()
	s.log.Info().Dur("interval", s.interval).Msg("reconcile sweeper started")
}

// Wait blocks until the sweep loop has exited.
func (s *Sweeper) Wait() { s.wg.Wait() }

// Sweep runs one comparison and returns its report. Discrepancies are
// audited at WARNING, one entry per order.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	venueOrders, err := s.venue.OpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	ledgerOrders, err := s.ledger.ListOpenOrders(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Time:    time.Now().UTC(),
		Checked: len(venueOrders) + len(ledgerOrders),
	}

	known := make(map[string]bool, len(ledgerOrders))
	for _, o := range ledgerOrders {
		if o.ExchangeOrderID != "" {
			known[o.ExchangeOrderID] = true
		}
	}
	resting := make(map[string]bool, len(venueOrders))
	for _, o := range venueOrders {
		resting[o.ExchangeOrderID] = true
		if !known[o.ExchangeOrderID] {
			report.Orphans = append(report.Orphans, Discrepancy{
				Kind:            KindOrphan,
				Symbol:          o.Symbol,
				Side:            string(o.Side),
				Qty:             o.Qty,
				ExchangeOrderID: o.ExchangeOrderID,
			})
		}
	}
	for _, o := range ledgerOrders {
		// An empty exchange id means we never saw the venue ack.
		if o.ExchangeOrderID == "" || !resting[o.ExchangeOrderID] {
			report.Zombies = append(report.Zombies, Discrepancy{
				Kind:            KindZombie,
				Symbol:          o.Symbol,
				Side:            o.Side,
				Qty:             o.Qty,
				OrderID:         o.ID,
				ExchangeOrderID: o.ExchangeOrderID,
			})
		}
	}

	s.publish(report)
	return report, nil
}

// LastReport returns the most recent sweep outcome, nil before the
// first sweep completes.
func (s *Sweeper) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sweeper) publish(report *Report) {
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	total := len(report.Orphans) + len(report.Zombies)
	if s.metrics != nil {
		s.metrics.SetReconcileDiscrepancies(total)
	}
	if report.Clean() {
		s.log.Debug().Int("checked", report.Checked).Msg("reconcile sweep clean")
		return
	}

	s.log.Warn().
		Int("orphans", len(report.Orphans)).
		Int("zombies", len(report.Zombies)).
		Msg("reconcile sweep found discrepancies")

	if s.trail == nil {
		return
	}
	for _, d := range append(append([]Discrepancy{}, report.Orphans...), report.Zombies...) {
		s.trail.Record(audit.Entry{
			Component: "reconcile",
			Level:     audit.LevelWarning,
			Action:    audit.ActionReconcileSweep,
			Symbol:    d.Symbol,
			Details: map[string]any{
				"kind":              d.Kind,
				"side":              d.Side,
				"qty":               d.Qty,
				"order_id":          d.OrderID,
				"exchange_order_id": d.ExchangeOrderID,
			},
		})
	}
}

// Package execution consumes trade signals from the queue and carries
// approved ones to the exchange. It is the only component that calls the
// venue's mutating endpoints, and it owns the at-most-once guarantee: a
// signal id is recorded before its order leaves the process.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-core/internal/account"
	"signal-core/internal/audit"
	"signal-core/internal/bus"
	"signal-core/internal/gauntlet"
	"signal-core/internal/ledger"
	"signal-core/internal/monitor"
	"signal-core/internal/normalize"
	"signal-core/internal/ratelimit"
	"signal-core/internal/risk"
	"signal-core/internal/trade"
	"signal-core/pkg/db"
	"signal-core/pkg/exchange/common"
)

// ErrHalted is returned while the consumer is stopped after a fatal
// condition. Only an operator resume clears it.
var ErrHalted = errors.New("execution consumer halted")

// Config holds the execution knobs.
type Config struct {
	// Venue labels metrics and audit entries; it should match the
	// gateway's Name().
	Venue string

	// DryRun marks orders as paper fills in the store and the trail.
	DryRun bool

	// OrderCost is the rate-limit bucket charge per submission.
	OrderCost float64

	// MaxSpreadPct aborts a submission when the live book is wider,
	// e.g. 0.005 for 0.5%.
	MaxSpreadPct float64

	// AuthFailLimit halts the consumer after this many consecutive
	// authentication failures from the venue.
	AuthFailLimit int

	// StopRetryWait is the pause before the single protective-stop retry.
	StopRetryWait time.Duration

	// SubmitTimeout bounds each venue call.
	SubmitTimeout time.Duration

	// RehydrateLimit caps the processed-signal rows loaded at startup.
	RehydrateLimit int
}

// DefaultConfig returns the standard execution parameters.
func DefaultConfig() Config {
	return Config{
		Venue:          "kraken",
		OrderCost:      1,
		MaxSpreadPct:   0.005,
		AuthFailLimit:  3,
		StopRetryWait:  2 * time.Second,
		SubmitTimeout:  30 * time.Second,
		RehydrateLimit: 1000,
	}
}

// Deps are the pipeline components the manager drives. Store and Events
// may be nil (memory-only runs, no live subscribers); everything else is
// required.
type Deps struct {
	Queue    bus.Queue
	Events   *bus.Bus
	Gateway  common.Gateway
	Bucket   *ratelimit.Bucket
	Gauntlet *gauntlet.Gauntlet
	Risk     *risk.Engine
	Ledger   *ledger.Ledger
	Account  *account.Manager
	Store    *db.Database
	Trail    *audit.Trail
	Metrics  *monitor.Metrics
}

// OrderEvent is published on bus.TopicOrderPlaced for every accepted entry.
type OrderEvent struct {
	Signal  trade.Signal       `json:"signal"`
	OrderID string             `json:"order_id"`
	Result  common.OrderResult `json:"result"`
	DryRun  bool               `json:"dry_run"`
}

// RejectionEvent is published on bus.TopicGateRejected when a signal is
// stopped before reaching the venue.
type RejectionEvent struct {
	Signal trade.Signal `json:"signal"`
	Gate   string       `json:"gate,omitempty"`
	Reason string       `json:"reason"`
}

// FailureEvent is published on bus.TopicOrderFailed when the venue
// declines or the submission errors.
type FailureEvent struct {
	Signal  trade.Signal `json:"signal"`
	OrderID string       `json:"order_id,omitempty"`
	Reason  string       `json:"reason"`
}

// Manager is the single consumer of the signal queue.
type Manager struct {
	cfg     Config
	queue   bus.Queue
	events  *bus.Bus
	gateway common.Gateway
	bucket  *ratelimit.Bucket
	gates   *gauntlet.Gauntlet
	risk    *risk.Engine
	ledger  *ledger.Ledger
	account *account.Manager
	store   *db.Database
	trail   *audit.Trail
	metrics *monitor.Metrics
	log     zerolog.Logger

	mu         sync.Mutex
	processed  map[string]string // signal_id -> payload fingerprint
	halted     bool
	haltReason string
	resume     chan struct{}
	authFails  int
}

// New builds the manager and rehydrates the idempotency ledger from the
// order store, so signals redelivered across a restart are not resubmitted.
func New(cfg Config, d Deps, logger zerolog.Logger) (*Manager, error) {
	switch {
	case d.Queue == nil:
		return nil, errors.New("execution: queue is required")
	case d.Gateway == nil:
		return nil, errors.New("execution: gateway is required")
	case d.Bucket == nil:
		return nil, errors.New("execution: rate-limit bucket is required")
	case d.Gauntlet == nil:
		return nil, errors.New("execution: gauntlet is required")
	case d.Risk == nil:
		return nil, errors.New("execution: risk engine is required")
	case d.Ledger == nil:
		return nil, errors.New("execution: ledger is required")
	case d.Account == nil:
		return nil, errors.New("execution: account manager is required")
	case d.Trail == nil:
		return nil, errors.New("execution: audit trail is required")
	case d.Metrics == nil:
		return nil, errors.New("execution: metrics are required")
	}
	if cfg.Venue == "" {
		cfg.Venue = d.Gateway.Name()
	}
	if cfg.OrderCost <= 0 {
		cfg.OrderCost = 1
	}
	if cfg.MaxSpreadPct <= 0 {
		cfg.MaxSpreadPct = DefaultConfig().MaxSpreadPct
	}
	if cfg.AuthFailLimit <= 0 {
		cfg.AuthFailLimit = DefaultConfig().AuthFailLimit
	}
	if cfg.StopRetryWait <= 0 {
		cfg.StopRetryWait = DefaultConfig().StopRetryWait
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultConfig().SubmitTimeout
	}
	if cfg.RehydrateLimit <= 0 {
		cfg.RehydrateLimit = DefaultConfig().RehydrateLimit
	}

	m := &Manager{
		cfg:       cfg,
		queue:     d.Queue,
		events:    d.Events,
		gateway:   d.Gateway,
		bucket:    d.Bucket,
		gates:     d.Gauntlet,
		risk:      d.Risk,
		ledger:    d.Ledger,
		account:   d.Account,
		store:     d.Store,
		trail:     d.Trail,
		metrics:   d.Metrics,
		log:       logger.With().Str("component", "execution").Logger(),
		processed: make(map[string]string),
	}

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rows, err := m.store.LoadProcessedSignals(ctx, cfg.RehydrateLimit)
		if err != nil {
			return nil, fmt.Errorf("rehydrate idempotency ledger: %w", err)
		}
		for _, p := range rows {
			m.processed[p.SignalID] = p.Fingerprint
		}
		m.log.Info().Int("signals", len(rows)).Msg("idempotency ledger rehydrated")
	}
	return m, nil
}

// Run consumes the queue until ctx is cancelled or the queue closes.
// While halted it stops dequeuing entirely; pending signals stay queued.
// An in-flight submission always completes before shutdown.
func (m *Manager) Run(ctx context.Context) {
	m.log.Info().Str("venue", m.cfg.Venue).Bool("dry_run", m.cfg.DryRun).Msg("execution consumer started")
	for {
		if err := m.waitResumed(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-m.queue.Chan():
			if !ok {
				return
			}
			m.metrics.SetQueueDepth(m.queue.Len())
			_ = m.Handle(ctx, sig)
			m.queue.MarkComplete(sig)
		}
	}
}

// Handle runs one signal through the pipeline: validate, normalize,
// deduplicate, gate, rate-limit, spread-check, submit, protect. Dropped
// signals return nil; every drop is audited.
func (m *Manager) Handle(ctx context.Context, sig trade.Signal) error {
	start := time.Now()
	defer func() { m.metrics.ObserveExecution(time.Since(start)) }()

	if halted, reason := m.Halted(); halted {
		return fmt.Errorf("%w: %s", ErrHalted, reason)
	}

	m.metrics.IncSignal(monitor.SignalReceived)
	m.record(audit.LevelInfo, audit.ActionSignalReceived, sig, map[string]any{
		"side":   string(sig.Side),
		"amount": sig.Amount,
	})

	if err := sig.Validate(); err != nil {
		m.metrics.IncSignal(monitor.SignalInvalid)
		m.record(audit.LevelWarning, audit.ActionSignalInvalid, sig, map[string]any{"reason": err.Error()})
		return nil
	}

	qty := normalize.Amount(sig.Symbol, sig.Amount)
	if qty <= 0 {
		m.metrics.IncSignal(monitor.SignalInvalid)
		m.record(audit.LevelWarning, audit.ActionSignalInvalid, sig, map[string]any{
			"reason": fmt.Sprintf("amount %v truncates to zero at instrument precision", sig.Amount),
		})
		return nil
	}

	fp := sig.Fingerprint()
	duplicate, violation := m.checkProcessed(sig.SignalID, fp)
	if violation {
		m.haltWith(sig, fmt.Sprintf("signal %s re-published with a different payload (%s)", sig.SignalID, fp))
		return ErrHalted
	}
	if duplicate {
		m.metrics.IncSignal(monitor.SignalDuplicate)
		m.record(audit.LevelInfo, audit.ActionDuplicateIgnored, sig, map[string]any{"matched": "signal_id"})
		return nil
	}
	if orderID, ok := m.equivalentOpenOrder(ctx, sig.SignalID, fp); ok {
		m.metrics.IncSignal(monitor.SignalDuplicate)
		m.record(audit.LevelInfo, audit.ActionDuplicateIgnored, sig, map[string]any{
			"matched":  "open_order",
			"order_id": orderID,
		})
		return nil
	}

	if !m.risk.TradeAllowed() {
		state := m.risk.Snapshot()
		m.metrics.IncGateRejection("kill_switch")
		m.record(audit.LevelWarning, audit.ActionGateRejected, sig, map[string]any{
			"gate":   "kill_switch",
			"reason": state.KillReason,
		})
		m.publish(bus.TopicGateRejected, RejectionEvent{Signal: sig, Gate: "kill_switch", Reason: state.KillReason})
		return nil
	}

	// Price reference for the notional. Market signals without one borrow
	// the venue's last trade.
	pxRef := normalize.EntryPrice(sig.Symbol, sig.Price)
	if pxRef <= 0 {
		if q, err := m.quote(ctx, sig.Symbol); err == nil {
			pxRef = q.Last
		}
	}
	notional := qty * pxRef

	res := m.gates.Run(ctx, gauntlet.Request{
		Signal:   sig,
		Notional: notional,
		Wealth:   m.account.Equity(),
	})
	if !res.Approved {
		m.metrics.IncGateRejection(res.Gate)
		m.record(audit.LevelWarning, audit.ActionGateRejected, sig, map[string]any{
			"gate":   res.Gate,
			"reason": res.Reason,
		})
		m.publish(bus.TopicGateRejected, RejectionEvent{Signal: sig, Gate: res.Gate, Reason: res.Reason})
		return nil
	}
	m.record(audit.LevelInfo, audit.ActionGateApproved, sig, map[string]any{
		"normalized_price":  res.NormalizedPrice,
		"max_position_size": res.MaxPositionSize,
		"notional":          notional,
	})

	accepted := m.bucket.Consume(m.cfg.OrderCost)
	snap := m.bucket.Snapshot()
	m.metrics.SetRateLimitLevel(snap.Counter)
	if !accepted {
		m.metrics.IncSignal(monitor.SignalDeflected)
		m.log.Warn().
			Str("signal_id", sig.SignalID).
			Float64("counter", snap.Counter).
			Msg("Rate limit hit! Deflecting signal")
		m.record(audit.LevelWarning, audit.ActionDeflected, sig, map[string]any{
			"counter":  snap.Counter,
			"capacity": snap.Capacity,
		})
		return nil
	}

	// Live book check right before the venue call; no usable quote means
	// no trade.
	q, err := m.quote(ctx, sig.Symbol)
	if err != nil || q.Bid <= 0 || q.Ask <= 0 {
		reason := "no live quote for pre-submission check"
		if err != nil {
			reason = fmt.Sprintf("quote unavailable: %v", err)
		}
		m.abortSubmission(sig, reason, 0)
		return nil
	}
	mid := (q.Bid + q.Ask) / 2
	spread := (q.Ask - q.Bid) / mid
	if spread > m.cfg.MaxSpreadPct {
		m.abortSubmission(sig, fmt.Sprintf("spread %.4f exceeds maximum %.4f", spread, m.cfg.MaxSpreadPct), spread)
		return nil
	}

	// Hold cash for buys before the order leaves.
	var reserved float64
	if sig.Side == trade.SideBuy {
		px := q.Ask
		if sig.OrderType == trade.OrderTypeLimit && res.NormalizedPrice > 0 {
			px = res.NormalizedPrice
		}
		reserved = qty * px
		if err := m.account.Reserve(reserved); err != nil {
			m.metrics.IncOrder(m.cfg.Venue, string(sig.Side), monitor.OrderFailed)
			m.record(audit.LevelWarning, audit.ActionOrderFailed, sig, map[string]any{
				"reason":   err.Error(),
				"required": reserved,
			})
			m.publish(bus.TopicOrderFailed, FailureEvent{Signal: sig, Reason: err.Error()})
			return nil
		}
	}

	dbPrice := res.NormalizedPrice
	if dbPrice <= 0 {
		if sig.Side == trade.SideBuy {
			dbPrice = q.Ask
		} else {
			dbPrice = q.Bid
		}
	}

	// Record intent before the side effect: the order row carries the
	// signal id and fingerprint the idempotency ledger rehydrates from.
	orderID := uuid.NewString()
	if m.store != nil {
		row := db.Order{
			ID:          orderID,
			SignalID:    sig.SignalID,
			AgentID:     sig.StrategyID,
			Symbol:      sig.Symbol,
			Side:        string(sig.Side),
			OrderType:   string(sig.OrderType),
			Price:       dbPrice,
			Qty:         qty,
			Status:      db.OrderStatusNew,
			Fingerprint: fp,
			DryRun:      m.cfg.DryRun,
			CreatedAt:   time.Now().UTC(),
		}
		if err := m.store.CreateOrder(ctx, row); err != nil {
			if reserved > 0 {
				m.account.Release(reserved)
			}
			m.metrics.IncOrder(m.cfg.Venue, string(sig.Side), monitor.OrderFailed)
			m.record(audit.LevelError, audit.ActionOrderFailed, sig, map[string]any{
				"reason": fmt.Sprintf("order store unavailable, refusing to submit: %v", err),
			})
			return fmt.Errorf("record order intent: %w", err)
		}
	}
	m.markProcessed(sig.SignalID, fp)

	req := common.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     common.Side(sig.Side),
		Type:     venueOrderType(sig.OrderType),
		Qty:      qty,
		ClientID: sig.SignalID,
	}
	switch req.Type {
	case common.OrderTypeLimit:
		req.Price = res.NormalizedPrice
	case common.OrderTypeStopLoss:
		req.StopPrice = res.NormalizedPrice
	}

	result, err := m.submit(req, false)
	if err != nil {
		if reserved > 0 {
			m.account.Release(reserved)
		}
		if m.store != nil {
			if uerr := m.store.UpdateOrderStatus(ctx, orderID, db.OrderStatusFailed); uerr != nil {
				m.log.Warn().Err(uerr).Str("order_id", orderID).Msg("failed to mark order failed")
			}
		}
		m.metrics.IncOrder(m.cfg.Venue, string(sig.Side), monitor.OrderFailed)
		m.record(audit.LevelError, audit.ActionOrderFailed, sig, map[string]any{
			"order_id": orderID,
			"error":    err.Error(),
		})
		m.publish(bus.TopicOrderFailed, FailureEvent{Signal: sig, OrderID: orderID, Reason: err.Error()})
		if errors.Is(err, common.ErrAuth) && m.noteAuthFailure() {
			m.haltWith(sig, fmt.Sprintf("%d consecutive authentication failures at %s", m.cfg.AuthFailLimit, m.cfg.Venue))
			return ErrHalted
		}
		return fmt.Errorf("submit order: %w", err)
	}
	m.resetAuthFailures()

	fillQty, fillPx := result.FilledQty, result.AvgPrice
	estimated := false
	if result.Status == common.OrderStatusFilled && fillQty <= 0 {
		// Venues that acknowledge market orders without fill detail:
		// book at the quoted price, reconciliation trues it up later.
		fillQty = qty
		if sig.Side == trade.SideBuy {
			fillPx = q.Ask
		} else {
			fillPx = q.Bid
		}
		estimated = true
	}
	if fillQty > 0 && fillPx <= 0 {
		fillPx = dbPrice
	}

	status := db.OrderStatusSubmitted
	if result.Status == common.OrderStatusFilled {
		status = db.OrderStatusFilled
	}
	if m.store != nil {
		if err := m.store.UpdateOrderFill(ctx, orderID, status, fillQty, result.ExchangeOrderID); err != nil {
			m.log.Warn().Err(err).Str("order_id", orderID).Msg("failed to record fill")
		}
	}

	var realized float64
	if fillQty > 0 {
		heldBefore := m.ledger.Position(sig.Symbol).Qty
		_, realized = m.ledger.RecordFill(ctx, sig.Symbol, string(sig.Side), fillQty, fillPx)
		if m.store != nil {
			exec := db.Execution{
				ID:        uuid.NewString(),
				OrderID:   orderID,
				Symbol:    sig.Symbol,
				Side:      string(sig.Side),
				Price:     fillPx,
				Qty:       fillQty,
				Fee:       result.Fee,
				CreatedAt: time.Now().UTC(),
			}
			if err := m.store.CreateExecution(ctx, exec); err != nil {
				m.log.Warn().Err(err).Str("order_id", orderID).Msg("failed to record execution")
			}
		}
		switch sig.Side {
		case trade.SideBuy:
			m.account.SettleBuy(reserved, fillQty*fillPx, result.Fee)
		case trade.SideSell:
			m.account.SettleSell(fillQty*fillPx, result.Fee)
			if math.Min(heldBefore, fillQty) > 0 {
				if err := m.risk.UpdatePnL(realized); err != nil {
					m.log.Warn().Err(err).Msg("failed to persist risk state")
				}
				m.metrics.SetDailyPnL(m.risk.DailyPnL())
			}
		}
	}
	// A resting buy keeps its reservation until the fill or the
	// reconciliation sweep settles it.

	m.metrics.IncOrder(m.cfg.Venue, string(sig.Side), monitor.OrderPlaced)
	m.metrics.SetEquity(m.account.Equity())

	action := audit.ActionOrderPlaced
	if m.cfg.DryRun {
		action = audit.ActionOrderDryRun
	}
	details := map[string]any{
		"order_id":          orderID,
		"exchange_order_id": result.ExchangeOrderID,
		"status":            string(result.Status),
		"qty":               fillQty,
		"price":             fillPx,
	}
	if estimated {
		details["estimated_fill"] = true
	}
	if realized != 0 {
		details["realized_pnl"] = realized
	}
	m.record(audit.LevelInfo, action, sig, details)
	m.publish(bus.TopicOrderPlaced, OrderEvent{Signal: sig, OrderID: orderID, Result: result, DryRun: m.cfg.DryRun})

	if sig.StopLoss > 0 && sig.Side == trade.SideBuy && fillQty > 0 {
		m.placeStop(sig, fillQty)
	}
	return nil
}

// placeStop submits the protective stop for a filled entry, retrying
// exactly once. The filled entry is never unwound here; a final failure
// leaves a CRITICAL audit entry for the operator.
func (m *Manager) placeStop(sig trade.Signal, qty float64) {
	stopPx := normalize.EntryPrice(sig.Symbol, sig.StopLoss)
	req := common.OrderRequest{
		Symbol:    sig.Symbol,
		Side:      common.SideSell,
		Type:      common.OrderTypeStopLoss,
		Qty:       qty,
		StopPrice: stopPx,
		ClientID:  sig.SignalID + "-stop",
	}
	for attempt := 1; attempt <= 2; attempt++ {
		result, err := m.submit(req, true)
		if err == nil {
			m.resetAuthFailures()
			m.metrics.IncStop("placed")
			m.recordStopOrder(sig, qty, stopPx, result.ExchangeOrderID)
			m.record(audit.LevelInfo, audit.ActionStopPlaced, sig, map[string]any{
				"exchange_order_id": result.ExchangeOrderID,
				"stop_price":        stopPx,
				"qty":               qty,
				"attempt":           attempt,
			})
			return
		}
		m.metrics.IncStop("failed")
		m.record(audit.LevelCritical, audit.ActionStopFailed, sig, map[string]any{
			"stop_price": stopPx,
			"qty":        qty,
			"attempt":    attempt,
			"error":      err.Error(),
			"final":      attempt == 2,
		})
		m.log.Error().Err(err).
			Str("signal_id", sig.SignalID).
			Int("attempt", attempt).
			Msg("protective stop placement failed")
		if errors.Is(err, common.ErrAuth) && m.noteAuthFailure() {
			m.haltWith(sig, fmt.Sprintf("%d consecutive authentication failures at %s", m.cfg.AuthFailLimit, m.cfg.Venue))
			return
		}
		if attempt == 1 {
			time.Sleep(m.cfg.StopRetryWait)
		}
	}
}

// recordStopOrder books the resting stop so open-order views and the
// reconciliation sweep can match it against the venue. The stop shares
// the entry's signal id with a suffix; the idempotency ledger never
// sees a bare signal with that id, so rehydration stays unaffected.
func (m *Manager) recordStopOrder(sig trade.Signal, qty, stopPx float64, exchangeOrderID string) {
	if m.store == nil {
		return
	}
	status := db.OrderStatusSubmitted
	if m.cfg.DryRun {
		status = db.OrderStatusDryRun
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.store.CreateOrder(ctx, db.Order{
		ID:              uuid.NewString(),
		SignalID:        sig.SignalID + "-stop",
		AgentID:         sig.StrategyID,
		Symbol:          sig.Symbol,
		Side:            string(common.SideSell),
		OrderType:       string(trade.OrderTypeStop),
		Price:           stopPx,
		Qty:             qty,
		Status:          status,
		Fingerprint:     "stop:" + sig.SignalID,
		ExchangeOrderID: exchangeOrderID,
		DryRun:          m.cfg.DryRun,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		m.log.Warn().Err(err).Str("signal_id", sig.SignalID).Msg("failed to record protective stop")
	}
}

// submit runs one venue call on a detached context so an in-flight
// order is never cancelled by pipeline shutdown.
func (m *Manager) submit(req common.OrderRequest, stop bool) (common.OrderResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SubmitTimeout)
	defer cancel()
	if stop {
		return m.gateway.SubmitStop(ctx, req)
	}
	return m.gateway.SubmitOrder(ctx, req)
}

func (m *Manager) abortSubmission(sig trade.Signal, reason string, spread float64) {
	m.metrics.IncOrder(m.cfg.Venue, string(sig.Side), monitor.OrderAborted)
	details := map[string]any{"reason": reason}
	if spread > 0 {
		details["spread"] = spread
	}
	m.record(audit.LevelWarning, audit.ActionAbortedHighSpread, sig, details)
	m.publish(bus.TopicOrderFailed, FailureEvent{Signal: sig, Reason: reason})
}

func (m *Manager) quote(ctx context.Context, symbol string) (common.Quote, error) {
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.gateway.GetQuote(qctx, symbol)
}

// Halted reports whether the consumer is stopped and why.
func (m *Manager) Halted() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted, m.haltReason
}

// Resume restarts a halted consumer (operator action via the ops API).
// It reports whether the consumer was halted.
func (m *Manager) Resume() bool {
	m.mu.Lock()
	if !m.halted {
		m.mu.Unlock()
		return false
	}
	m.halted = false
	m.haltReason = ""
	m.authFails = 0
	close(m.resume)
	m.resume = nil
	m.mu.Unlock()

	m.trail.Record(audit.Entry{
		Component: "execution",
		Action:    audit.ActionConsumerResumed,
	})
	m.log.Info().Msg("execution consumer resumed by operator")
	return true
}

func (m *Manager) haltWith(sig trade.Signal, reason string) {
	m.mu.Lock()
	if m.halted {
		m.mu.Unlock()
		return
	}
	m.halted = true
	m.haltReason = reason
	m.resume = make(chan struct{})
	m.mu.Unlock()

	m.record(audit.LevelCritical, audit.ActionConsumerHalted, sig, map[string]any{"reason": reason})
	m.log.Error().Str("reason", reason).Msg("execution consumer halted, operator intervention required")
}

// waitResumed blocks while the consumer is halted.
func (m *Manager) waitResumed(ctx context.Context) error {
	for {
		m.mu.Lock()
		if !m.halted {
			m.mu.Unlock()
			return nil
		}
		ch := m.resume
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (m *Manager) checkProcessed(id, fp string) (duplicate, violation bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.processed[id]
	if !ok {
		return false, false
	}
	return prev == fp, prev != fp
}

func (m *Manager) markProcessed(id, fp string) {
	m.mu.Lock()
	m.processed[id] = fp
	m.mu.Unlock()
}

// equivalentOpenOrder reports whether a resting order with the same
// symbol, amount and price already exists under a different signal id.
func (m *Manager) equivalentOpenOrder(ctx context.Context, signalID, fp string) (string, bool) {
	if m.store == nil {
		return "", false
	}
	open, err := m.store.ListOpenOrders(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("open-order idempotency check unavailable")
		return "", false
	}
	for _, o := range open {
		if o.Fingerprint == fp && o.SignalID != signalID {
			return o.ID, true
		}
	}
	return "", false
}

func (m *Manager) noteAuthFailure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFails++
	return m.authFails >= m.cfg.AuthFailLimit
}

func (m *Manager) resetAuthFailures() {
	m.mu.Lock()
	m.authFails = 0
	m.mu.Unlock()
}

func (m *Manager) record(level, action string, sig trade.Signal, details map[string]any) {
	m.trail.Record(audit.Entry{
		Component:  "execution",
		Level:      level,
		Action:     action,
		SignalID:   sig.SignalID,
		Symbol:     sig.Symbol,
		StrategyID: sig.StrategyID,
		Details:    details,
	})
}

func (m *Manager) publish(t bus.Topic, payload any) {
	if m.events != nil {
		m.events.Publish(t, payload)
	}
}

func venueOrderType(t trade.OrderType) common.OrderType {
	switch t {
	case trade.OrderTypeLimit:
		return common.OrderTypeLimit
	case trade.OrderTypeStop:
		return common.OrderTypeStopLoss
	default:
		return common.OrderTypeMarket
	}
}

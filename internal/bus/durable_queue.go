package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/trade"
)

const (
	walActionEnqueue  = "ENQUEUE"
	walActionComplete = "COMPLETE"
)

type walEntry struct {
	Action    string       `json:"action"`
	Signal    trade.Signal `json:"signal"`
	Timestamp time.Time    `json:"timestamp"`
}

// DurableQueue wraps a MemoryQueue with a JSON-lines write-ahead log so
// accepted signals survive a process crash. Delivery after recovery is
// at-least-once; the execution manager's idempotency ledger absorbs the
// duplicates.
type DurableQueue struct {
	inner   *MemoryQueue
	walPath string

	mu      sync.Mutex
	walFile *os.File

	enqueued  atomic.Int64
	completed atomic.Int64
	recovered atomic.Int64

	log zerolog.Logger
}

// DurableQueueMetrics is a point-in-time snapshot of queue counters.
type DurableQueueMetrics struct {
	Enqueued  int64 `json:"enqueued"`
	Completed int64 `json:"completed"`
	Recovered int64 `json:"recovered"`
	Pending   int   `json:"pending"`
}

// NewDurableQueue opens (or creates) the WAL at dir/signals.wal and returns
// a queue of the given size backed by it.
func NewDurableQueue(dir string, size int, logger zerolog.Logger) (*DurableQueue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}
	walPath := filepath.Join(dir, "signals.wal")
	f, err := os.OpenFile(walPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	return &DurableQueue{
		inner:   NewMemoryQueue(size),
		walPath: walPath,
		walFile: f,
		log:     logger.With().Str("component", "durable_queue").Logger(),
	}, nil
}

// Recover replays the WAL, re-publishing every enqueued signal that was
// never marked complete, and compacts the log. Call before starting the
// consumer.
func (q *DurableQueue) Recover() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.Open(q.walPath)
	if err != nil {
		return 0, fmt.Errorf("open wal for recovery: %w", err)
	}
	defer f.Close()

	pending := make(map[string]trade.Signal)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry walEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			q.log.Warn().Err(err).Msg("skipping corrupt wal line")
			continue
		}
		switch entry.Action {
		case walActionEnqueue:
			if _, seen := pending[entry.Signal.SignalID]; !seen {
				order = append(order, entry.Signal.SignalID)
			}
			pending[entry.Signal.SignalID] = entry.Signal
		case walActionComplete:
			delete(pending, entry.Signal.SignalID)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan wal: %w", err)
	}

	n := 0
	for _, id := range order {
		sig, ok := pending[id]
		if !ok {
			continue
		}
		if err := q.inner.Publish(sig); err != nil {
			return n, fmt.Errorf("republish %s: %w", id, err)
		}
		n++
	}
	q.recovered.Store(int64(n))

	if err := q.compactWALLocked(pending, order); err != nil {
		return n, err
	}
	if n > 0 {
		q.log.Info().Int("signals", n).Msg("recovered pending signals from wal")
	}
	return n, nil
}

// compactWALLocked rewrites the WAL keeping only pending entries. Caller
// holds q.mu.
func (q *DurableQueue) compactWALLocked(pending map[string]trade.Signal, order []string) error {
	tmpPath := q.walPath + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create wal tmp: %w", err)
	}

	enc := json.NewEncoder(tmp)
	for _, id := range order {
		sig, ok := pending[id]
		if !ok {
			continue
		}
		if err := enc.Encode(walEntry{Action: walActionEnqueue, Signal: sig, Timestamp: time.Now().UTC()}); err != nil {
			tmp.Close()
			return fmt.Errorf("write wal tmp: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync wal tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close wal tmp: %w", err)
	}

	if err := q.walFile.Close(); err != nil {
		return fmt.Errorf("close old wal: %w", err)
	}
	if err := os.Rename(tmpPath, q.walPath); err != nil {
		return fmt.Errorf("swap wal: %w", err)
	}
	f, err := os.OpenFile(q.walPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen wal: %w", err)
	}
	q.walFile = f
	return nil
}

func (q *DurableQueue) appendWAL(entry walEntry, sync bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.walFile == nil {
		return ErrQueueClosed
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal wal entry: %w", err)
	}
	if _, err := q.walFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write wal: %w", err)
	}
	if sync {
		if err := q.walFile.Sync(); err != nil {
			return fmt.Errorf("sync wal: %w", err)
		}
	}
	return nil
}

// Publish logs the signal to the WAL (fsynced) before handing it to the
// in-memory queue. A signal is only accepted once it is durable.
func (q *DurableQueue) Publish(sig trade.Signal) error {
	entry := walEntry{Action: walActionEnqueue, Signal: sig, Timestamp: time.Now().UTC()}
	if err := q.appendWAL(entry, true); err != nil {
		return err
	}
	if err := q.inner.Publish(sig); err != nil {
		return err
	}
	q.enqueued.Add(1)
	return nil
}

// MarkComplete records that a signal finished processing. Completions are
// not fsynced; losing one only causes a redelivery.
func (q *DurableQueue) MarkComplete(sig trade.Signal) {
	entry := walEntry{Action: walActionComplete, Signal: sig, Timestamp: time.Now().UTC()}
	if err := q.appendWAL(entry, false); err != nil {
		q.log.Error().Err(err).Str("signal_id", sig.SignalID).Msg("failed to mark signal complete")
		return
	}
	q.completed.Add(1)
}

// Chan returns the consume channel.
func (q *DurableQueue) Chan() <-chan trade.Signal {
	return q.inner.Chan()
}

// Len reports the number of buffered signals.
func (q *DurableQueue) Len() int {
	return q.inner.Len()
}

// Drain consumes signals, marking each complete after its handler returns.
// A crash mid-handler replays the signal on restart.
func (q *DurableQueue) Drain(ctx context.Context, handler func(trade.Signal)) {
	q.inner.Drain(ctx, func(sig trade.Signal) {
		handler(sig)
		q.MarkComplete(sig)
	})
}

// Metrics returns queue counters.
func (q *DurableQueue) Metrics() DurableQueueMetrics {
	return DurableQueueMetrics{
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Recovered: q.recovered.Load(),
		Pending:   q.inner.Len(),
	}
}

// Close shuts the queue and the WAL file.
func (q *DurableQueue) Close() {
	q.inner.Close()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.walFile != nil {
		q.walFile.Close()
		q.walFile = nil
	}
}

// Package journal is the Journal / ML Log Sink (spec §4.11): an
// append-only, non-blocking sink for considered signals, buy attempts,
// and market snapshots, drained by batch workers into durable storage.
//
// Grounded on the teacher's storage/database.go persistence layer
// (enabled/disabled toggle via an env var, append-only trade/position
// tables) generalized from a single synchronous `LogTrade` call per
// event to three bounded queues drained by background batch workers,
// with the queue-capacity/overflow-counter/batch-drain design from
// original_source/database/db_manager.py's async write-behind queue.
package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/kisquant/tradebot/types"
)

// queueCapacity is the bound on each stream's pending-write queue
// (spec §4.11: "capacity ~10,000").
const queueCapacity = 10_000

// batchSize/batchInterval govern how often a worker flushes to storage.
const (
	batchSize     = 100
	batchInterval = 30 * time.Second
)

// SignalRecord is one considered signal, whether it passed or was
// rejected.
type SignalRecord struct {
	gorm.Model
	Symbol      string
	Side        string
	StrategyTag string
	Strength    float64
	Passed      bool
	Reason      string
	Ts          time.Time
}

// AttemptRecord is one buy/sell execution attempt, successful or not.
type AttemptRecord struct {
	gorm.Model
	Symbol      string
	Side        string
	StrategyTag string
	Status      string
	RejectReason string
	Detail      string
	Ts          time.Time
}

// SnapshotRecord is a periodic market snapshot for offline ML training.
type SnapshotRecord struct {
	gorm.Model
	Symbol string
	Last   string
	Volume int64
	Ts     time.Time
}

// Stats reports overflow-drop counters per stream, exposed to metrics.
type Stats struct {
	SignalDrops   int64
	AttemptDrops  int64
	SnapshotDrops int64
}

// Sink owns the three bounded queues and their drain workers.
type Sink struct {
	db *gorm.DB

	signals   chan SignalRecord
	attempts  chan AttemptRecord
	snapshots chan SnapshotRecord

	signalDrops   atomic.Int64
	attemptDrops  atomic.Int64
	snapshotDrops atomic.Int64

	wg sync.WaitGroup
}

// New builds a Sink backed by db (migrating its tables) with bounded
// queues of capacity queueCapacity.
func New(db *gorm.DB) (*Sink, error) {
	if err := db.AutoMigrate(&SignalRecord{}, &AttemptRecord{}, &SnapshotRecord{}); err != nil {
		return nil, err
	}
	return &Sink{
		db:        db,
		signals:   make(chan SignalRecord, queueCapacity),
		attempts:  make(chan AttemptRecord, queueCapacity),
		snapshots: make(chan SnapshotRecord, queueCapacity),
	}, nil
}

// RecordSignal enqueues a considered signal without blocking; on a full
// queue the record is dropped and counted.
func (s *Sink) RecordSignal(r SignalRecord) {
	select {
	case s.signals <- r:
	default:
		s.signalDrops.Add(1)
	}
}

// RecordAttempt enqueues an execution attempt without blocking.
func (s *Sink) RecordAttempt(r AttemptRecord) {
	select {
	case s.attempts <- r:
	default:
		s.attemptDrops.Add(1)
	}
}

// RecordSnapshot enqueues a market snapshot without blocking.
func (s *Sink) RecordSnapshot(r SnapshotRecord) {
	select {
	case s.snapshots <- r:
	default:
		s.snapshotDrops.Add(1)
	}
}

// Stats returns the current overflow-drop counters.
func (s *Sink) Stats() Stats {
	return Stats{
		SignalDrops:   s.signalDrops.Load(),
		AttemptDrops:  s.attemptDrops.Load(),
		SnapshotDrops: s.snapshotDrops.Load(),
	}
}

// Run starts the three batch-drain workers and blocks until ctx is
// cancelled, then flushes any remaining buffered entries with a bounded
// wait before returning.
func (s *Sink) Run(ctx context.Context) {
	s.wg.Add(3)
	go s.drainSignals(ctx)
	go s.drainAttempts(ctx)
	go s.drainSnapshots(ctx)
	s.wg.Wait()
}

// Shutdown bounds how long to wait for the drain workers' final flush
// after the caller has already cancelled Run's context.
func (s *Sink) Shutdown(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

func (s *Sink) drainSignals(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]SignalRecord, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushRemaining(&buf, s.signals, func(b []SignalRecord) { s.writeSignals(b) })
			return
		case r := <-s.signals:
			buf = append(buf, r)
			if len(buf) >= batchSize {
				s.writeSignals(buf)
				buf = buf[:0]
			}
		case <-ticker.C:
			if len(buf) > 0 {
				s.writeSignals(buf)
				buf = buf[:0]
			}
		}
	}
}

func (s *Sink) drainAttempts(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]AttemptRecord, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushRemaining(&buf, s.attempts, func(b []AttemptRecord) { s.writeAttempts(b) })
			return
		case r := <-s.attempts:
			buf = append(buf, r)
			if len(buf) >= batchSize {
				s.writeAttempts(buf)
				buf = buf[:0]
			}
		case <-ticker.C:
			if len(buf) > 0 {
				s.writeAttempts(buf)
				buf = buf[:0]
			}
		}
	}
}

func (s *Sink) drainSnapshots(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]SnapshotRecord, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushRemaining(&buf, s.snapshots, func(b []SnapshotRecord) { s.writeSnapshots(b) })
			return
		case r := <-s.snapshots:
			buf = append(buf, r)
			if len(buf) >= batchSize {
				s.writeSnapshots(buf)
				buf = buf[:0]
			}
		case <-ticker.C:
			if len(buf) > 0 {
				s.writeSnapshots(buf)
				buf = buf[:0]
			}
		}
	}
}

// flushRemaining drains whatever is still queued (non-blocking) into buf
// and writes it, used on shutdown to bound the wait to what's already
// buffered rather than waiting indefinitely for new entries.
func flushRemaining[T any](buf *[]T, queue chan T, write func([]T)) {
	for {
		select {
		case r := <-queue:
			*buf = append(*buf, r)
		default:
			if len(*buf) > 0 {
				write(*buf)
			}
			return
		}
	}
}

func (s *Sink) writeSignals(batch []SignalRecord) {
	if len(batch) == 0 {
		return
	}
	s.db.Create(&batch)
}

func (s *Sink) writeAttempts(batch []AttemptRecord) {
	if len(batch) == 0 {
		return
	}
	s.db.Create(&batch)
}

func (s *Sink) writeSnapshots(batch []SnapshotRecord) {
	if len(batch) == 0 {
		return
	}
	s.db.Create(&batch)
}

// SignalFromTypes adapts a types.Signal pass/reject outcome into a
// SignalRecord, kept here so callers don't need to duplicate field
// mapping at every call site.
func SignalFromTypes(sig types.Signal, passed bool, reason string) SignalRecord {
	return SignalRecord{
		Symbol: string(sig.Symbol), Side: string(sig.Side), StrategyTag: sig.StrategyTag,
		Strength: sig.Strength, Passed: passed, Reason: reason, Ts: sig.Ts,
	}
}

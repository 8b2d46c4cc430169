package db

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/odometry/internal/monitoring"
	"github.com/banshee-data/odometry/internal/odometry"
	"github.com/banshee-data/odometry/internal/timeutil"
)

const (
	poseQueueSize = 512
	poseBatchSize = 128
)

// PoseLogger writes every Nth integrated pose to a session. Observe is
// called from the tracker goroutine and never blocks; Run does the writes.
type PoseLogger struct {
	db        *DB
	sessionID string
	every     int64
	clock     timeutil.Clock

	queue chan PoseRecord

	seen    atomic.Int64
	written atomic.Int64
	dropped atomic.Int64

	mu      sync.Mutex
	lastErr error
}

// NewPoseLogger returns a logger for sessionID keeping one pose in every.
// every <= 0 disables recording.
func NewPoseLogger(db *DB, sessionID string, every int, clk timeutil.Clock) *PoseLogger {
	if clk == nil {
		clk = timeutil.RealClock{}
	}
	return &PoseLogger{
		db:        db,
		sessionID: sessionID,
		every:     int64(every),
		clock:     clk,
		queue:     make(chan PoseRecord, poseQueueSize),
	}
}

// SessionID returns the session poses are written to.
func (l *PoseLogger) SessionID() string {
	return l.sessionID
}

// Observe queues p if it falls on the decimation interval. It has the
// signature odometry.WithObserver expects.
func (l *PoseLogger) Observe(p odometry.Pose) {
	if l.every <= 0 {
		return
	}
	seq := l.seen.Add(1) - 1
	if seq%l.every != 0 {
		return
	}
	select {
	case l.queue <- PoseRecord{Seq: seq, Recorded: l.clock.Now(), Pose: p}:
	default:
		l.dropped.Add(1)
	}
}

// Run writes queued poses until ctx is done, then flushes what is left.
// Write errors are logged and do not stop the logger.
func (l *PoseLogger) Run(ctx context.Context) error {
	batch := make([]PoseRecord, 0, poseBatchSize)
	for {
		select {
		case <-ctx.Done():
			l.flush(l.drain(batch))
			return nil
		case rec := <-l.queue:
			batch = l.drain(append(batch, rec))
			l.flush(batch)
			batch = batch[:0]
		}
	}
}

// drain appends whatever is queued without blocking, up to a full batch.
func (l *PoseLogger) drain(batch []PoseRecord) []PoseRecord {
	for len(batch) < poseBatchSize {
		select {
		case rec := <-l.queue:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

func (l *PoseLogger) flush(batch []PoseRecord) {
	if len(batch) == 0 {
		return
	}
	if err := l.db.RecordPoses(l.sessionID, batch); err != nil {
		monitoring.Logf("pose log: dropping %d poses: %v", len(batch), err)
		l.dropped.Add(int64(len(batch)))
		l.mu.Lock()
		l.lastErr = err
		l.mu.Unlock()
		return
	}
	l.written.Add(int64(len(batch)))
}

// PoseLogStats reports logger throughput.
type PoseLogStats struct {
	Seen    int64  `json:"seen"`
	Written int64  `json:"written"`
	Dropped int64  `json:"dropped"`
	LastErr string `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the counters.
func (l *PoseLogger) Stats() PoseLogStats {
	s := PoseLogStats{
		Seen:    l.seen.Load(),
		Written: l.written.Load(),
		Dropped: l.dropped.Load(),
	}
	l.mu.Lock()
	if l.lastErr != nil {
		s.LastErr = l.lastErr.Error()
	}
	l.mu.Unlock()
	return s
}

package graphstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ailego/domain/core/valueobjects"
	pkgerrors "ailego/pkg/errors"

	"go.uber.org/zap"
)

// SyncFailure records one remote write that did not complete
type SyncFailure struct {
	Operation string    `json:"operation"`
	ProjectID string    `json:"projectId"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// SyncStatus describes the outbox of remote writes.
// Dirty is set by any failed write and cleared by a successful reconcile.
type SyncStatus struct {
	Pending          int           `json:"pending"`
	Completed        int64         `json:"completed"`
	Failed           int64         `json:"failed"`
	Coalesced        int64         `json:"coalesced"`
	Dirty            bool          `json:"dirty"`
	LastFailures     []SyncFailure `json:"lastFailures"`
	LastReconciledAt time.Time     `json:"lastReconciledAt,omitempty"`
}

// writeOp is one queued remote write. Ops sharing a non-empty key replace
// each other while still pending, so only the newest value is written.
type writeOp struct {
	key       string
	name      string
	projectID valueobjects.ProjectID
	run       func(ctx context.Context) error

	// done marks a flush barrier; the worker closes it instead of running
	done chan struct{}
}

// syncQueue executes remote writes one at a time in FIFO order on a single
// background worker.
type syncQueue struct {
	logger    *zap.Logger
	timeout   time.Duration
	history   int
	onFailure func(op *writeOp, err error)

	mu             sync.Mutex
	pending        []*writeOp
	stopped        bool
	completed      int64
	failed         int64
	coalesced      int64
	dirty          bool
	failures       []SyncFailure
	lastReconciled time.Time

	wake        chan struct{}
	stopChan    chan struct{}
	stoppedChan chan struct{}
	stopOnce    sync.Once
}

func newSyncQueue(logger *zap.Logger, timeout time.Duration, history int) *syncQueue {
	if history <= 0 {
		history = 1
	}
	return &syncQueue{
		logger:      logger,
		timeout:     timeout,
		history:     history,
		wake:        make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start launches the worker
func (q *syncQueue) Start() {
	q.logger.Debug("Starting sync queue", zap.Duration("timeout", q.timeout))
	go q.processLoop()
}

// Stop ends the worker after the write in progress. Writes still pending are
// dropped and flush waiters are released.
func (q *syncQueue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()
		close(q.stopChan)
	})
	<-q.stoppedChan
}

// enqueue appends op, superseding a pending op with the same key.
// It reports false once the queue is stopped.
func (q *syncQueue) enqueue(op *writeOp) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		if op.done == nil {
			q.logger.Warn("Dropping remote write on stopped queue", zap.String("operation", op.name))
		}
		return false
	}
	if op.key != "" {
		for i, p := range q.pending {
			if p.key == op.key {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				q.coalesced++
				break
			}
		}
	}
	q.pending = append(q.pending, op)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// flush waits until every write queued before the call has run
func (q *syncQueue) flush(ctx context.Context) error {
	done := make(chan struct{})
	if !q.enqueue(&writeOp{name: "flush", done: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return pkgerrors.NewTimeoutError("flush").WithCause(ctx.Err())
	}
}

func (q *syncQueue) processLoop() {
	defer close(q.stoppedChan)

	for {
		op, ok := q.next()
		if !ok {
			return
		}
		q.execute(op)
	}
}

func (q *syncQueue) next() (*writeOp, bool) {
	for {
		select {
		case <-q.stopChan:
			q.drop()
			return nil, false
		default:
		}

		q.mu.Lock()
		if len(q.pending) > 0 {
			op := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return op, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.stopChan:
		}
	}
}

func (q *syncQueue) drop() {
	q.mu.Lock()
	rest := q.pending
	q.pending = nil
	q.mu.Unlock()

	dropped := 0
	for _, op := range rest {
		if op.done != nil {
			close(op.done)
			continue
		}
		dropped++
	}
	if dropped > 0 {
		q.logger.Warn("Sync queue stopped with pending writes", zap.Int("dropped", dropped))
	}
}

func (q *syncQueue) execute(op *writeOp) {
	if op.done != nil {
		close(op.done)
		return
	}

	start := time.Now()
	err := invoke(context.Background(), q.timeout, op.name, op.run)

	q.mu.Lock()
	if err != nil {
		q.failed++
		q.dirty = true
		q.failures = append(q.failures, SyncFailure{
			Operation: op.name,
			ProjectID: op.projectID.String(),
			Error:     err.Error(),
			At:        time.Now(),
		})
		if len(q.failures) > q.history {
			q.failures = q.failures[len(q.failures)-q.history:]
		}
	} else {
		q.completed++
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Error("Remote write failed",
			zap.String("operation", op.name),
			zap.String("projectID", op.projectID.String()),
			zap.Error(err),
		)
		if q.onFailure != nil {
			q.onFailure(op, err)
		}
		return
	}

	q.logger.Debug("Remote write completed",
		zap.String("operation", op.name),
		zap.Duration("duration", time.Since(start)),
	)
}

func (q *syncQueue) status() SyncStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	failures := make([]SyncFailure, len(q.failures))
	copy(failures, q.failures)

	return SyncStatus{
		Pending:          len(q.pending),
		Completed:        q.completed,
		Failed:           q.failed,
		Coalesced:        q.coalesced,
		Dirty:            q.dirty,
		LastFailures:     failures,
		LastReconciledAt: q.lastReconciled,
	}
}

func (q *syncQueue) failedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failed
}

func (q *syncQueue) lastFailure() (SyncFailure, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.failures) == 0 {
		return SyncFailure{}, false
	}
	return q.failures[len(q.failures)-1], true
}

// markReconciled clears the dirty flag unless a write failed after the
// reconcile pass began
func (q *syncQueue) markReconciled(failedBefore int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastReconciled = time.Now()
	if q.failed != failedBefore {
		return false
	}
	q.dirty = false
	return true
}

// invoke runs one remote call with a timeout. A panic inside the adapter is
// turned into an error so it never unwinds through the caller.
func invoke(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.NewInternalError(fmt.Sprintf("remote call %s panicked: %v", op, r))
		}
	}()

	err = fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && pkgerrors.GetAppError(err) == nil {
		return pkgerrors.NewTimeoutError(op).WithCause(err)
	}
	return err
}

package history

import (
	"log"
	"time"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

// dbOp represents a ledger write to be executed by the write queue
type dbOp struct {
	opType   string
	inv      *domain.Invocation
	dispatch *domain.PointDispatch
}

// Recorder serializes ledger writes through a single goroutine so the sweep
// hot path never blocks on SQLite. Writes are best effort: a failed write is
// logged and dropped, never surfaced to the caller.
type Recorder struct {
	store *Store

	dbWriteChan chan dbOp
	dbWriteDone chan struct{}
}

// NewRecorder creates a Recorder and starts its write goroutine
func NewRecorder(store *Store) *Recorder {
	r := &Recorder{
		store:       store,
		dbWriteChan: make(chan dbOp, 100), // Buffer for async writes
		dbWriteDone: make(chan struct{}),
	}
	go r.dbWriter()
	return r
}

// dbWriter processes ledger operations sequentially to avoid lock contention
func (r *Recorder) dbWriter() {
	for op := range r.dbWriteChan {
		r.apply(op)
	}
	close(r.dbWriteDone)
}

// queueDBOp queues a ledger operation for async execution
func (r *Recorder) queueDBOp(op dbOp) {
	select {
	case r.dbWriteChan <- op:
	default:
		// Channel full, execute synchronously as fallback
		r.apply(op)
	}
}

func (r *Recorder) apply(op dbOp) {
	var err error
	switch op.opType {
	case "save":
		err = r.store.SaveInvocation(op.inv)
	case "dispatch":
		err = r.store.RecordDispatch(op.dispatch)
	}
	if err != nil {
		log.Printf("[history] %s failed: %v", op.opType, err)
	}
}

// Save queues an invocation upsert. The value is copied at enqueue time so
// counter updates by the caller cannot race the write.
func (r *Recorder) Save(inv *domain.Invocation) {
	snapshot := *inv
	r.queueDBOp(dbOp{opType: "save", inv: &snapshot})
}

// Dispatch queues one point outcome for the given invocation
func (r *Recorder) Dispatch(invocationID string, pointID domain.PointID, status domain.PointStatus, wallSeconds float64) {
	now := time.Now()
	r.queueDBOp(dbOp{opType: "dispatch", dispatch: &domain.PointDispatch{
		InvocationID: invocationID,
		PointID:      pointID.String(),
		Status:       status,
		WallSeconds:  wallSeconds,
		FinishedAt:   &now,
	}})
}

// Stop closes the queue and waits for queued writes to land
func (r *Recorder) Stop() {
	if r.dbWriteChan != nil {
		close(r.dbWriteChan)
		<-r.dbWriteDone
	}
}

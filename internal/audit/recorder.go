package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-licensing/internal/metrics"
)

type AttemptWriter interface {
	WriteAttempt(ctx context.Context, a Attempt) error
}

type RecorderOptions struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
	Tracker      *FailureTracker
	Logger       *slog.Logger
}

// Recorder hands attempts to background workers. Record never blocks and
// never fails; the caller's context is not used for the write.
type Recorder struct {
	w       AttemptWriter
	tracker *FailureTracker
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Attempt
	wg     sync.WaitGroup
}

func NewRecorder(w AttemptWriter, opts RecorderOptions) *Recorder {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Recorder{
		w:       w,
		tracker: opts.Tracker,
		timeout: opts.WriteTimeout,
		log:     opts.Logger.With("component", "audit_recorder"),
		queue:   make(chan Attempt, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *Recorder) Record(ctx context.Context, a Attempt) {
	if a.EventID == uuid.Nil {
		a.EventID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if r.tracker != nil && a.KeyFingerprint != "" {
		if n := r.tracker.Observe(a.KeyFingerprint, a.Success); n > 0 {
			a.Metadata = toMeta(map[string]any{"recent_failures": n})
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		metrics.AuditDroppedTotal.Inc()
		return
	}

	select {
	case r.queue <- a:
	default:
		metrics.AuditDroppedTotal.Inc()
		r.log.WarnContext(ctx, "audit queue full, attempt dropped", "event_id", a.EventID)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for a := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.w.WriteAttempt(ctx, a); err != nil {
			r.log.Error("audit write failed", "event_id", a.EventID, "error", err)
		}
		cancel()
	}
}

// Close stops intake and waits for queued attempts to be written, or for
// ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

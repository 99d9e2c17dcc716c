package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"kbwatch/internal/model"
)

// DefaultDebounce is the window during which repeated candidates for the
// same path collapse into one version creation.
const DefaultDebounce = 2 * time.Second

// DefaultQueueSize bounds the candidate channel shared by the detectors.
const DefaultQueueSize = 64

// Coordinator merges the two independently-scheduled detectors into one
// authoritative stream of accepted changes. Producers enqueue candidates
// on a bounded channel; a single goroutine owns all per-path state, so
// no fine-grained locking is needed. Per path the state machine is
// Idle -> InFlight -> Idle: the first candidate for an idle path opens a
// debounce window, later candidates within the window supersede the
// pending one (single-flight, last content wins) and restart the window,
// so the path only flushes once the window elapses with no further
// writes, performing exactly one version creation for the burst.
type Coordinator struct {
	service  *Service
	logger   Logger
	clock    Clock
	debounce time.Duration

	submissions chan submission
	stop        chan struct{}
	done        chan struct{}
	stopped     chan struct{}
	running     atomic.Bool
	startOnce   sync.Once
	stopOnce    sync.Once
}

type submission struct {
	cand  Candidate
	reply chan outcome // nil for fire-and-forget submits
}

type outcome struct {
	result *Result
	err    error
}

// pathState tracks one in-flight path: the pending candidate (last
// observed content) and the deadline at which it is flushed.
type pathState struct {
	pending  submission
	deadline time.Time
}

// NewCoordinator creates a Coordinator. A non-positive debounce flushes
// every accepted candidate immediately; a non-positive queueSize falls
// back to DefaultQueueSize.
func NewCoordinator(service *Service, debounce time.Duration, queueSize int, logger Logger, clock Clock) *Coordinator {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Coordinator{
		service:     service,
		logger:      logger,
		clock:       clock,
		debounce:    debounce,
		submissions: make(chan submission, queueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Start launches the coordinator goroutine. Safe to call once.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.running.Store(true)
		go c.run()
	})
}

// Stop halts the coordinator. Idempotent. Queued submissions and pending
// debounce windows are drained before Stop returns, so every started
// version creation finishes with its diff and classification entry.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.running.Load() {
			<-c.done
		}
		// A sender that entered its select before stop closed may still
		// win the send race after the run loop has drained and exited.
		// Resolve those stragglers so no SubmitWait caller blocks forever.
		for {
			select {
			case sub := <-c.submissions:
				deliver(sub, nil, ErrStopped)
			default:
				close(c.stopped)
				return
			}
		}
	})
}

// Submit enqueues a candidate without waiting for its outcome. When the
// queue is full the candidate is dropped with a warning; the detector's
// next observation will resubmit the change.
func (c *Coordinator) Submit(cand Candidate) error {
	select {
	case <-c.stop:
		return ErrStopped
	default:
	}

	select {
	case c.submissions <- submission{cand: cand}:
		return nil
	case <-c.stop:
		return ErrStopped
	default:
		c.logger.Warn("candidate queue full, dropping",
			"path", cand.Path, "source", cand.Source, "reason", ReasonQueueFull)
		return nil
	}
}

// SubmitWait enqueues a candidate and blocks until the coordinator
// resolves it: Accepted with the new version id, or Suppressed with a
// reason. With a debounce configured, resolution happens when the
// window closes.
func (c *Coordinator) SubmitWait(ctx context.Context, cand Candidate) (*Result, error) {
	sub := submission{cand: cand, reply: make(chan outcome, 1)}

	select {
	case c.submissions <- sub:
	case <-c.stop:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-sub.reply:
		return out.result, out.err
	case <-c.stopped:
		// Shutdown finished; prefer an outcome the drain already delivered.
		select {
		case out := <-sub.reply:
			return out.result, out.err
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) run() {
	defer close(c.done)

	states := make(map[string]*pathState)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	stopTimer(timer)

	for {
		select {
		case sub := <-c.submissions:
			c.handle(states, sub)
			c.rearm(timer, states)

		case <-timer.C:
			c.flushDue(states)
			c.rearm(timer, states)

		case <-c.stop:
			c.drain(states)
			return
		}
	}
}

// handle processes one submission on the coordinator goroutine.
func (c *Coordinator) handle(states map[string]*pathState, sub submission) {
	path := sub.cand.Path

	if st, ok := states[path]; ok {
		// Single-flight: the path already has an in-flight candidate.
		// The newer observation wins the pending slot and restarts the
		// window; the older one is suppressed, not queued, so a burst
		// collapses to one version once the writes stop.
		prev := st.pending
		st.pending = sub
		st.deadline = c.clock.Now().Add(c.debounce)
		c.logger.Debug("candidate superseded within debounce window",
			"path", path, "source", prev.cand.Source)
		deliver(prev, &Result{Status: StatusSuppressed, Reason: ReasonSuperseded}, nil)
		return
	}

	// Idle path: reject an obvious no-op before occupying the slot.
	latest, err := c.service.LatestVersion(path)
	if err != nil {
		c.logger.Error("checking latest version", "path", path, "error", err)
		deliver(sub, nil, err)
		return
	}
	if sub.cand.Type == model.ChangeDeleted {
		// delete candidates pass through to Record, which owns their semantics
	} else if latest != nil && latest.ContentHash == ContentHash(sub.cand.Content) {
		c.logger.Debug("no-op candidate, suppressing",
			"path", path, "source", sub.cand.Source)
		deliver(sub, &Result{Status: StatusSuppressed, Reason: ReasonNoOp}, nil)
		return
	}

	if c.debounce <= 0 {
		c.flushOne(sub)
		return
	}

	states[path] = &pathState{
		pending:  sub,
		deadline: c.clock.Now().Add(c.debounce),
	}
}

// flushDue flushes every path whose debounce window has elapsed.
func (c *Coordinator) flushDue(states map[string]*pathState) {
	now := c.clock.Now()
	for path, st := range states {
		if st.deadline.After(now) {
			continue
		}
		delete(states, path)
		c.flushOne(st.pending)
	}
}

// flushOne runs the accept path for the winning candidate of a window.
func (c *Coordinator) flushOne(sub submission) {
	res, err := c.service.Record(sub.cand)
	if err != nil {
		c.logger.Error("recording change", "path", sub.cand.Path, "error", err)
	}
	deliver(sub, res, err)
}

// drain empties the queue and flushes all pending windows on shutdown.
func (c *Coordinator) drain(states map[string]*pathState) {
	for {
		select {
		case sub := <-c.submissions:
			c.handle(states, sub)
		default:
			for path, st := range states {
				delete(states, path)
				c.flushOne(st.pending)
			}
			if len(c.submissions) == 0 {
				return
			}
		}
	}
}

// rearm points the timer at the earliest pending deadline.
func (c *Coordinator) rearm(timer *time.Timer, states map[string]*pathState) {
	stopTimer(timer)

	var next time.Time
	for _, st := range states {
		if next.IsZero() || st.deadline.Before(next) {
			next = st.deadline
		}
	}
	if next.IsZero() {
		return
	}

	d := next.Sub(c.clock.Now())
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func deliver(sub submission, res *Result, err error) {
	if sub.reply == nil {
		return
	}
	sub.reply <- outcome{result: res, err: err}
}

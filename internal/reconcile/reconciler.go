// Package reconcile keeps inventory in step with the spillage log.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"wastedesk/backend/internal/domain"
	"wastedesk/backend/internal/xid"
)

type Adjuster interface {
	AdjustInventory(ctx context.Context, subsystem domain.Subsystem, op domain.Operation, payload domain.InventoryPayload) error
}

type State string

const (
	StateIdle        State = "idle"
	StateDispatching State = "dispatching"
	StateSettled     State = "settled"
	StateFailed      State = "failed"
)

type Outcome struct {
	JobID      string
	Plan       Plan
	State      State
	Err        error
	Failures   []domain.ReconciliationFailure
	StartedAt  time.Time
	FinishedAt time.Time
}

// Observer receives every finished job. Observers run on the job goroutine.
type Observer func(Outcome)

// Job is a handle on one detached reconciliation.
type Job struct {
	ID string

	mu      sync.Mutex
	state   State
	outcome Outcome
	done    chan struct{}
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Outcome is only meaningful once Done is closed.
func (j *Job) Outcome() Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

const journalSize = 200

type Reconciler struct {
	adjuster Adjuster
	timeout  time.Duration
	log      logrus.FieldLogger

	wg        sync.WaitGroup
	mu        sync.Mutex
	observers []Observer
	journal   []domain.ReconciliationFailure
}

func New(adjuster Adjuster, timeout time.Duration, log logrus.FieldLogger) *Reconciler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{adjuster: adjuster, timeout: timeout, log: log}
}

func (r *Reconciler) OnOutcome(obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
}

// Dispatch runs plan in the background and returns immediately. The job is
// not tied to any request context; it is bounded by the reconciler timeout.
func (r *Reconciler) Dispatch(plan Plan) *Job {
	job := &Job{ID: xid.New("recon"), state: StateIdle, done: make(chan struct{})}
	if plan.Empty() {
		job.state = StateSettled
		job.outcome = Outcome{JobID: job.ID, Plan: plan, State: StateSettled}
		close(job.done)
		return job
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(job.done)

		job.setState(StateDispatching)
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		outcome := r.run(ctx, job.ID, plan)

		job.mu.Lock()
		job.state = outcome.State
		job.outcome = outcome
		job.mu.Unlock()

		r.finish(outcome)
	}()
	return job
}

// Wait blocks until every dispatched job has finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Failures returns the most recent failed calls, newest first.
func (r *Reconciler) Failures() []domain.ReconciliationFailure {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ReconciliationFailure, 0, len(r.journal))
	for i := len(r.journal) - 1; i >= 0; i-- {
		out = append(out, r.journal[i])
	}
	return out
}

// run issues every call of plan. Calls target distinct subsystems and go out
// concurrently; all are attempted even when one fails.
func (r *Reconciler) run(ctx context.Context, jobID string, plan Plan) Outcome {
	outcome := Outcome{JobID: jobID, Plan: plan, StartedAt: time.Now().UTC()}

	var (
		mu       sync.Mutex
		failures []domain.ReconciliationFailure
		g        errgroup.Group
	)
	for _, call := range plan.Calls {
		call := call
		g.Go(func() error {
			err := r.adjuster.AdjustInventory(ctx, call.Subsystem, call.Operation, call.Payload)
			if err == nil {
				return nil
			}
			mu.Lock()
			failures = append(failures, domain.ReconciliationFailure{
				JobID:      jobID,
				SpillageID: plan.SpillageID,
				Kind:       string(plan.Kind),
				Subsystem:  call.Subsystem,
				Operation:  call.Operation,
				Error:      err.Error(),
				FailedAt:   time.Now().UTC(),
			})
			mu.Unlock()
			return fmt.Errorf("%s %s: %w", call.Subsystem, call.Operation, err)
		})
	}
	err := g.Wait()

	outcome.FinishedAt = time.Now().UTC()
	if err != nil {
		outcome.State = StateFailed
		outcome.Err = fmt.Errorf("%w: %v", domain.ErrReconciliationFailed, err)
		outcome.Failures = failures
		return outcome
	}
	outcome.State = StateSettled
	return outcome
}

func (r *Reconciler) finish(outcome Outcome) {
	entry := r.log.WithFields(logrus.Fields{
		"job_id":      outcome.JobID,
		"spillage_id": outcome.Plan.SpillageID,
		"kind":        outcome.Plan.Kind,
		"calls":       len(outcome.Plan.Calls),
	})

	r.mu.Lock()
	if outcome.State == StateFailed {
		r.journal = append(r.journal, outcome.Failures...)
		if over := len(r.journal) - journalSize; over > 0 {
			r.journal = append([]domain.ReconciliationFailure(nil), r.journal[over:]...)
		}
	}
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()

	if outcome.State == StateFailed {
		entry.WithError(outcome.Err).Error("inventory reconciliation failed; stock may be out of sync with the spillage log")
	} else {
		entry.Debug("inventory reconciliation settled")
	}

	for _, obs := range observers {
		obs(outcome)
	}
}

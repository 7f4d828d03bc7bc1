// Package engine drives claims through their lifecycle: it sweeps the store
// for actionable claims, submits new ones to the portal, polls submitted ones
// for status, and records every transition. Failures stay inside the claim
// they belong to; the loop itself never exits on a transient error.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/claim/store"
	"github.com/clearclaim/agent/internal/portal"
	"github.com/clearclaim/agent/internal/shared/config"
	"github.com/clearclaim/agent/internal/shared/metrics"
)

// PortalClient is the portal capability consumed by the engine. Implemented
// by portal.Client; tests substitute instrumented stubs.
type PortalClient interface {
	Submit(ctx context.Context, bill claim.MedicalBill, imagePath string) (string, error)
	CheckStatus(ctx context.Context, claimNumber string) (portal.StatusReport, error)
}

// Notifier delivers best-effort status updates. Failures are logged and never
// reach claim state.
type Notifier interface {
	ClaimStatusChanged(ctx context.Context, c *claim.Claim, from, to claim.Status)
}

// TransitionRecorder receives every applied status transition, e.g. for the
// lifecycle event stream. Optional.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, c *claim.Claim, from, to claim.Status)
}

// Engine is the claim lifecycle state machine's processing loop.
type Engine struct {
	store  store.Store
	portal PortalClient

	submitGate *Gate
	checkGate  *Gate

	notifier Notifier
	recorder TransitionRecorder

	cfg    config.EngineConfig
	logger *log.Logger

	// stopping is closed by Stop; done is closed when Run returns, after
	// any in-flight portal work has finished.
	stopping chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an engine. notifier and recorder may be nil.
func New(s store.Store, p PortalClient, cfg config.EngineConfig, notifier Notifier, recorder TransitionRecorder, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		store:      s,
		portal:     p,
		submitGate: NewGate(cfg.MaxConcurrentSubmissions),
		checkGate:  NewGate(cfg.MaxConcurrentStatusChecks),
		notifier:   notifier,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
		stopping:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run executes sweeps on the configured interval until the context is
// cancelled or Stop is called. A sweep-level failure backs off for the error
// cooldown and resumes; it never terminates the loop.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	e.logger.Printf("engine: started, sweep interval %s", e.cfg.SweepInterval)

	for {
		wait := e.cfg.SweepInterval
		if err := e.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.SweepError()
			e.logger.Printf("engine: sweep failed, backing off %s: %v", e.cfg.ErrorCooldown, err)
			wait = e.cfg.ErrorCooldown
		}

		select {
		case <-ctx.Done():
			e.logger.Printf("engine: stopped")
			return
		case <-e.stopping:
			e.logger.Printf("engine: stopped")
			return
		case <-time.After(wait):
		}
	}
	e.logger.Printf("engine: stopped")
}

// Stop signals the loop to exit and blocks until it has. Portal operations
// already running are allowed to finish so the portal session is never
// abandoned mid-form; callers must not cancel the engine's context until
// Stop returns. Stop must only be called after Run has been started.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopping) })
	<-e.done
}

// Sweep runs one iteration: submit new claims, then check submitted ones.
func (e *Engine) Sweep(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()

	start := time.Now()
	defer func() { metrics.SweepObserved(time.Since(start)) }()

	if err := e.processNewClaims(ctx); err != nil {
		return err
	}
	return e.checkSubmittedClaims(ctx)
}

// processNewClaims submits every RECEIVED claim, fanning out up to the
// submission gate. A failure in one claim never aborts the others.
func (e *Engine) processNewClaims(ctx context.Context) error {
	claims, err := e.store.ListByStatus(ctx, claim.StatusReceived)
	if err != nil {
		return fmt.Errorf("failed to list received claims: %w", err)
	}
	if len(claims) == 0 {
		return nil
	}
	e.logger.Printf("engine: found %d new claims to submit", len(claims))

	var wg sync.WaitGroup
	for _, c := range claims {
		wg.Add(1)
		go func(c *claim.Claim) {
			defer wg.Done()
			if err := e.submitOne(ctx, c, e.submitGate); err != nil {
				e.logger.Printf("engine: claim %d submission attempt failed: %v", c.ID, err)
			}
		}(c)
	}
	wg.Wait()
	return nil
}

// submitOne drives RECEIVED -> PROCESSING -> {SUBMITTED|ERROR} for one claim
// under the given gate. The portal client spaces the actual portal contact
// through its shared throttle.
func (e *Engine) submitOne(ctx context.Context, c *claim.Claim, gate *Gate) error {
	if err := gate.Acquire(ctx); err != nil {
		return err
	}
	defer gate.Release()

	// Mark PROCESSING before calling the portal so a crash mid-submission
	// leaves the claim visibly in flight instead of silently stuck.
	if err := e.transition(ctx, c, claim.StatusProcessing, store.Update{}); err != nil {
		return err
	}

	done := metrics.PortalCallStarted()
	number, err := e.portal.Submit(ctx, c.Bill, c.BillImagePath)
	done()

	if err != nil {
		// Submission failures are not auto-retried: resubmitting blindly
		// risks filing duplicate claims with the insurer. Recovery is the
		// manual reprocess path.
		msg := fmt.Sprintf("submission failed: %v", err)
		if uerr := e.transition(ctx, c, claim.StatusError, store.Update{ErrorMessage: &msg}); uerr != nil {
			e.logger.Printf("engine: claim %d: failed to record error state: %v", c.ID, uerr)
		}
		return err
	}

	err = e.transition(ctx, c, claim.StatusSubmitted, store.Update{
		ExternalClaimNumber: &number,
		ClearError:          true,
	})
	if err != nil {
		return err
	}
	e.logger.Printf("engine: claim %d submitted, external number %s", c.ID, number)
	return nil
}

// checkSubmittedClaims polls the portal for every SUBMITTED or PROCESSING
// claim that already has an external number. Check failures never change
// claim state; the next sweep retries them.
func (e *Engine) checkSubmittedClaims(ctx context.Context) error {
	submitted, err := e.store.ListByStatus(ctx, claim.StatusSubmitted)
	if err != nil {
		return fmt.Errorf("failed to list submitted claims: %w", err)
	}
	processing, err := e.store.ListByStatus(ctx, claim.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to list processing claims: %w", err)
	}

	pending := append(submitted, processing...)
	if len(pending) == 0 {
		return nil
	}
	e.logger.Printf("engine: checking status of %d pending claims", len(pending))

	var wg sync.WaitGroup
	for _, c := range pending {
		if c.ExternalClaimNumber == "" {
			continue
		}
		wg.Add(1)
		go func(c *claim.Claim) {
			defer wg.Done()
			if err := e.checkOne(ctx, c); err != nil {
				e.logger.Printf("engine: claim %d status check failed: %v", c.ID, err)
			}
		}(c)
	}
	wg.Wait()
	return nil
}

// checkOne polls one claim's status and applies the mapped transition if the
// status changed.
func (e *Engine) checkOne(ctx context.Context, c *claim.Claim) error {
	if err := e.checkGate.Acquire(ctx); err != nil {
		return err
	}
	defer e.checkGate.Release()

	done := metrics.PortalCallStarted()
	report, err := e.portal.CheckStatus(ctx, c.ExternalClaimNumber)
	done()
	if err != nil {
		// Log-only: the claim stays SUBMITTED/PROCESSING and the next sweep
		// re-attempts automatically.
		return err
	}
	if report.Unknown {
		return nil
	}

	newStatus := claim.MapPortalStatus(report.Keyword)
	prev := c.Status
	if newStatus == prev {
		return nil
	}

	patch := store.Update{ClearError: true}
	if report.SettlementAmount != nil {
		patch.SettlementAmount = report.SettlementAmount
		patch.SettlementCurrency = &report.SettlementCurrency
	}
	if err := e.transition(ctx, c, newStatus, patch); err != nil {
		return err
	}
	e.logger.Printf("engine: claim %d status %s -> %s", c.ID, prev, newStatus)
	return nil
}

// Reprocess runs the submission step for a single claim outside the sweep,
// under a gate of one. This is the operator path for claims parked in ERROR.
func (e *Engine) Reprocess(ctx context.Context, id int64) error {
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch c.Status {
	case claim.StatusReceived, claim.StatusError:
	default:
		return fmt.Errorf("claim %d is %s, only received or errored claims can be reprocessed", id, c.Status)
	}
	e.logger.Printf("engine: manually reprocessing claim %d", id)
	return e.submitOne(ctx, c, NewGate(1))
}

// transition validates the edge, persists it, and fans the change out to the
// notifier and the transition recorder. The in-memory claim is updated so
// subsequent steps in the same sweep see the new status.
func (e *Engine) transition(ctx context.Context, c *claim.Claim, to claim.Status, patch store.Update) error {
	from := c.Status
	if !claim.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s for claim %d", from, to, c.ID)
	}

	if err := e.store.UpdateStatus(ctx, c.ID, to, patch); err != nil {
		return fmt.Errorf("failed to persist %s -> %s: %w", from, to, err)
	}

	c.Status = to
	if patch.ExternalClaimNumber != nil {
		c.ExternalClaimNumber = *patch.ExternalClaimNumber
	}
	if patch.ErrorMessage != nil {
		c.ErrorMessage = *patch.ErrorMessage
	} else if patch.ClearError {
		c.ErrorMessage = ""
	}
	if patch.SettlementAmount != nil {
		c.SettlementAmount = patch.SettlementAmount
	}
	if patch.SettlementCurrency != nil {
		c.SettlementCurrency = *patch.SettlementCurrency
	}

	metrics.ClaimStatusChanged(string(from), string(to))
	if e.recorder != nil {
		e.recorder.RecordTransition(ctx, c, from, to)
	}
	if e.notifier != nil {
		e.notifier.ClaimStatusChanged(ctx, c, from, to)
	}
	return nil
}

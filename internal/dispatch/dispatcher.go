// Package dispatch drains the email outbox under mode, allowlist, cap,
// throttle and retry rules.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/registration-service/internal/domain"
	"github.com/spec-kit/registration-service/internal/mail"
	"github.com/spec-kit/registration-service/internal/repository"
)

// Renderer turns an outbox entry into a message.
type Renderer interface {
	Render(entry domain.OutboxEntry) (mail.Message, error)
}

// Metrics receives one observation per completed run.
type Metrics interface {
	RecordDispatchRun(mode string, counters map[string]int, duration time.Duration)
}

// Dependencies wires a Dispatcher.
type Dependencies struct {
	Outbox   repository.OutboxRepository
	Provider mail.Provider
	Renderer Renderer
	Ledger   Ledger
	Metrics  Metrics
	Logger   *zap.Logger
	// Now and Sleep default to the wall clock; tests replace them.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher runs outbox batches. A single run is sequential; overlapping runs
// are kept apart by the row claims in the outbox repository.
type Dispatcher struct {
	outbox   repository.OutboxRepository
	provider mail.Provider
	renderer Renderer
	ledger   Ledger
	metrics  Metrics
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a dispatcher.
func New(deps Dependencies) *Dispatcher {
	d := &Dispatcher{
		outbox:   deps.Outbox,
		provider: deps.Provider,
		renderer: deps.Renderer,
		ledger:   deps.Ledger,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
		sleep:    deps.Sleep,
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.sleep == nil {
		d.sleep = sleepContext
	}
	if d.renderer == nil {
		d.renderer = mail.NewRenderer("")
	}
	return d
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeReconciled
	outcomeFailed
)

type run struct {
	cfg       Config
	allowlist map[string]struct{}
	report    *Report
	// sentOnce is set after the first real send so the throttle applies only
	// between sends.
	sentOnce bool
}

// Run processes every eligible entry once. A storage failure aborts the run and
// returns no report.
func (d *Dispatcher) Run(ctx context.Context, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	started := d.now()
	staleBefore := started.Add(-cfg.ClaimTTL)

	entries, err := d.outbox.ListDispatchable(ctx, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("list dispatchable entries: %w", err)
	}

	r := &run{
		cfg:       cfg,
		allowlist: cfg.allowlistSet(),
		report: &Report{
			OK:     true,
			DryRun: cfg.Mode == ModeDryRun,
			Mode:   cfg.Mode,
		},
	}
	log := d.logger.With(zap.String("mode", string(cfg.Mode)), zap.Int("eligible", len(entries)))

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dispatch run interrupted: %w", err)
		}

		stop, err := d.process(ctx, r, entry, staleBefore, log)
		if err != nil {
			return nil, err
		}
		if stop {
			r.report.Remaining = len(entries) - i - 1
			break
		}
	}

	r.report.Timestamp = d.now().UTC()
	if d.metrics != nil {
		d.metrics.RecordDispatchRun(string(cfg.Mode), r.report.Counters(), d.now().Sub(started))
	}
	log.Info("dispatch run finished",
		zap.Int("sent", r.report.Sent),
		zap.Int("would_send", r.report.WouldSend),
		zap.Int("capped", r.report.Capped),
		zap.Int("blocked", r.report.Blocked),
		zap.Int("errors", r.report.Errors),
		zap.Int("remaining", r.report.Remaining),
		zap.Int("rate_limited", r.report.RateLimited),
		zap.Int("retries", r.report.Retries),
	)
	return r.report, nil
}

// process handles one entry and reports whether the run must stop afterwards.
func (d *Dispatcher) process(ctx context.Context, r *run, entry domain.OutboxEntry, staleBefore time.Time, log *zap.Logger) (bool, error) {
	log = log.With(zap.String("entry_id", entry.ID), zap.String("template", entry.Template))
	cfg := r.cfg

	if cfg.BlockNonAllowlist && !r.allowed(entry.Recipient) {
		if cfg.Mode == ModeDryRun {
			r.report.Blocked++
			return false, nil
		}
		return false, d.block(ctx, r, entry, staleBefore, log)
	}

	if cfg.Mode == ModeDryRun {
		r.report.WouldSend++
		return false, nil
	}

	if r.report.Sent >= cfg.CapMaxPerRun {
		r.report.Capped++
		if err := d.outbox.Park(ctx, entry.ID, domain.OutboxCapped); err != nil {
			return false, err
		}
		return true, nil
	}

	claimed, err := d.outbox.Claim(ctx, entry.ID, entry.Status, staleBefore, d.now())
	if err != nil {
		return false, err
	}
	if !claimed {
		log.Debug("entry claimed by another run")
		return false, nil
	}

	result, err := d.deliver(ctx, r, entry, log)
	if err != nil {
		return false, err
	}
	if result == outcomeSent {
		r.report.Sent++
		if r.report.Sent >= cfg.CapMaxPerRun {
			return true, nil
		}
	}
	return false, nil
}

// block parks an entry whose recipient is not allowlisted. A stale in_progress
// entry is claimed first so its status actually leaves in_progress.
func (d *Dispatcher) block(ctx context.Context, r *run, entry domain.OutboxEntry, staleBefore time.Time, log *zap.Logger) error {
	if entry.Status != domain.OutboxInProgress {
		if err := d.outbox.Park(ctx, entry.ID, domain.OutboxBlocked); err != nil {
			return err
		}
		r.report.Blocked++
		log.Debug("recipient not allowlisted")
		return nil
	}

	claimed, err := d.outbox.Claim(ctx, entry.ID, entry.Status, staleBefore, d.now())
	if err != nil || !claimed {
		return err
	}
	reconciled, err := d.reconcile(ctx, entry, log)
	if err != nil || reconciled {
		return err
	}
	if err := d.outbox.Complete(ctx, entry.ID, domain.OutboxBlocked, nil, d.now()); err != nil {
		return err
	}
	r.report.Blocked++
	log.Debug("recipient not allowlisted, stale claim released")
	return nil
}

// reconcile marks a reclaimed entry sent when the ledger shows the provider
// already accepted it.
func (d *Dispatcher) reconcile(ctx context.Context, entry domain.OutboxEntry, log *zap.Logger) (bool, error) {
	if entry.Status != domain.OutboxInProgress || d.ledger == nil {
		return false, nil
	}
	delivered, err := d.ledger.Delivered(ctx, entry.ID)
	if err != nil {
		log.Warn("delivery ledger lookup failed", zap.Error(err))
	}
	if !delivered {
		return false, nil
	}
	log.Info("reclaimed entry already delivered, reconciling")
	if err := d.outbox.Complete(ctx, entry.ID, domain.OutboxSent, nil, d.now()); err != nil {
		return false, err
	}
	return true, nil
}

// deliver sends a claimed entry and records its final status.
func (d *Dispatcher) deliver(ctx context.Context, r *run, entry domain.OutboxEntry, log *zap.Logger) (outcome, error) {
	reconciled, err := d.reconcile(ctx, entry, log)
	if err != nil {
		return outcomeFailed, err
	}
	if reconciled {
		return outcomeReconciled, nil
	}

	msg, err := d.renderer.Render(entry)
	if err != nil {
		log.Error("render failed", zap.Error(err))
		return outcomeFailed, d.fail(ctx, r, entry.ID, err)
	}

	if r.sentOnce && r.cfg.Throttle > 0 {
		if err := d.sleep(ctx, r.cfg.Throttle); err != nil {
			return outcomeFailed, fmt.Errorf("dispatch run interrupted: %w", err)
		}
	}

	sendErr := d.sendWithRetry(ctx, r, msg, log)
	if sendErr != nil {
		// the claim stays in_progress and is picked up again once stale
		if ctx.Err() != nil {
			return outcomeFailed, fmt.Errorf("dispatch run interrupted: %w", ctx.Err())
		}
		log.Warn("delivery failed", zap.Error(sendErr))
		return outcomeFailed, d.fail(ctx, r, entry.ID, sendErr)
	}
	r.sentOnce = true

	if d.ledger != nil {
		if err := d.ledger.Record(ctx, entry.ID); err != nil {
			log.Warn("delivery ledger write failed", zap.Error(err))
		}
	}
	if err := d.outbox.Complete(ctx, entry.ID, domain.OutboxSent, nil, d.now()); err != nil {
		return outcomeFailed, err
	}
	log.Info("email sent", zap.String("recipient", entry.Recipient))
	return outcomeSent, nil
}

// sendWithRetry retries 429 responses up to RetryOn429 times with exponential
// backoff. A Retry-After hint longer than the backoff wins.
func (d *Dispatcher) sendWithRetry(ctx context.Context, r *run, msg mail.Message, log *zap.Logger) error {
	backoff := r.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := d.provider.Send(ctx, msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, mail.ErrRateLimited) {
			return err
		}
		r.report.RateLimited++
		if attempt >= r.cfg.RetryOn429 {
			return fmt.Errorf("rate limited after %d retries: %w", attempt, err)
		}

		wait := backoff
		if hint := mail.RetryAfter(err); hint > wait {
			wait = hint
		}
		r.report.Retries++
		log.Info("provider rate limited, backing off", zap.Int("attempt", attempt+1), zap.Duration("wait", wait))
		if wait > 0 {
			if err := d.sleep(ctx, wait); err != nil {
				return err
			}
		}
		backoff *= 2
	}
}

func (d *Dispatcher) fail(ctx context.Context, r *run, entryID string, cause error) error {
	r.report.Errors++
	msg := cause.Error()
	return d.outbox.Complete(ctx, entryID, domain.OutboxError, &msg, d.now())
}

func (r *run) allowed(recipient string) bool {
	_, ok := r.allowlist[normalizeAddress(recipient)]
	return ok
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

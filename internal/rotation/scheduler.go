// Copyright 2024 Canonical.

package rotation

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/policy"
)

// A Summary counts the outcomes of one sweep over the due policies.
type Summary struct {
	// Success is the number of domains that rotated.
	Success int

	// Failed is the number of domains whose rotation errored.
	Failed int

	// Skipped is the number of domains that declined benignly
	// because another holder held their rotation lease.
	Skipped int
}

// A Scheduler drives the rotator from the policy store: it sweeps the
// due policies, retrying the whole due set a bounded number of times
// while any domain keeps failing.
type Scheduler struct {
	rotator  *Rotator
	policies policy.Store
	config   *Config
	clock    clock.Clock
}

// NewScheduler returns a scheduler using the given collaborators.
func NewScheduler(rotator *Rotator, policies policy.Store, config *Config, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Scheduler{
		rotator:  rotator,
		policies: policies,
		config:   config,
		clock:    clk,
	}
}

// RunScheduled performs the periodic sweep over all due policies.
func (s *Scheduler) RunScheduled(ctx context.Context) (Summary, error) {
	const op = errors.Op("rotation.RunScheduled")
	return s.sweep(ctx, op)
}

// TriggerImmediate performs an operator-requested sweep, identical to
// the periodic one.
func (s *Scheduler) TriggerImmediate(ctx context.Context) (Summary, error) {
	const op = errors.Op("rotation.TriggerImmediate")
	return s.sweep(ctx, op)
}

// TriggerForDomain rotates the single given domain now. An error with
// a code of CodeNotFound is returned if the domain has no rotation
// policy. It reports whether the domain actually rotated.
func (s *Scheduler) TriggerForDomain(ctx context.Context, domain string) (bool, error) {
	const op = errors.Op("rotation.TriggerForDomain")

	p, err := s.policies.FindByDomain(ctx, domain)
	if err != nil {
		if errors.ErrorCode(err) == errors.CodeNotFound {
			return false, errors.E(op, errors.CodeNotFound, "no rotation policy for domain "+domain)
		}
		return false, errors.E(op, err)
	}
	rotated, err := s.processSingleDomain(ctx, p)
	if err != nil {
		return false, errors.E(op, err)
	}
	return rotated, nil
}

// sweep retries rotateDueDomains until no domain fails or the
// configured attempts are exhausted, sleeping the configured interval
// between attempts. Cancellation through the context ends the sweep
// benignly after the current attempt.
func (s *Scheduler) sweep(ctx context.Context, op errors.Op) (Summary, error) {
	attempts := s.config.MaxRetries()
	delay := s.config.RetryInterval()

	var last Summary
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			summary, err := s.rotateDueDomains(ctx)
			if err != nil {
				return err
			}
			last = summary
			if summary.Failed > 0 {
				return errors.E(op, errors.CodeUnavailable,
					fmt.Sprintf("%d of %d due domains failed to rotate",
						summary.Failed, summary.Success+summary.Failed+summary.Skipped))
			}
			return nil
		},
		NotifyFunc: func(lastError error, attempt int) {
			zapctx.Warn(ctx, "rotation sweep attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(lastError),
			)
		},
		Attempts: attempts,
		Delay:    delay,
		Clock:    s.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		if retry.IsRetryStopped(err) {
			zapctx.Info(ctx, "rotation sweep cancelled")
			return last, nil
		}
		return last, errors.E(op, retry.LastError(err))
	}
	return last, nil
}

// rotateDueDomains runs one pass over the due policies, isolating
// failures per domain.
func (s *Scheduler) rotateDueDomains(ctx context.Context) (Summary, error) {
	const op = errors.Op("rotation.rotateDueDomains")

	policies, err := s.policies.GetDueForRotation(ctx)
	if err != nil {
		return Summary{}, errors.E(op, err)
	}
	var summary Summary
	for _, p := range policies {
		rotated, err := s.processSingleDomain(ctx, p)
		switch {
		case err != nil:
			summary.Failed++
			zapctx.Error(ctx, "rotation failed",
				zap.String("domain", p.Domain),
				zap.Error(err),
			)
		case rotated:
			summary.Success++
		default:
			summary.Skipped++
		}
	}
	zapctx.Debug(ctx, "rotation sweep pass complete",
		zap.Int("success", summary.Success),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// processSingleDomain rotates one policy's domain, recording the
// rotation acknowledgement inside the rotation's transaction. A
// rotation that rolled back is reported as an error so the sweep
// retries it; lease contention is a benign skip.
func (s *Scheduler) processSingleDomain(ctx context.Context, p policy.Policy) (bool, error) {
	const op = errors.Op("rotation.processSingleDomain")

	session, err := s.policies.GetSession(ctx)
	if err != nil {
		return false, errors.E(op, err)
	}
	cb := func(sess policy.Session) error {
		return s.policies.AcknowledgeSuccessfulRotation(ctx, p, sess)
	}
	outcome, err := s.rotator.RotateKeys(ctx, p.Domain, cb, session)
	if err != nil {
		return false, errors.E(op, err)
	}
	if outcome.RolledBack {
		return false, errors.E(op, errors.CodeConflict, outcome.Reason)
	}
	return outcome.Rotated(), nil
}

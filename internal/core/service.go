// Package core implements the team reconciliation engine: change
// classification, the validation gate, membership diffing, and the
// transactional reconciler that keeps denormalized team summaries on user
// documents consistent with their team aggregates.
package core

import (
	"context"
	"fmt"

	"mellon/pkg/domain"
)

// Service wires the classifier, validation gate, and transactional
// reconciler on top of a persistent store. One Service instance handles any
// number of concurrent team change deliveries.
type Service struct {
	store     domain.PersistentStore
	rules     *domain.RulesEngine
	memberCap int
	logger    Logger
	metrics   MetricsRecorder
	tracer    Tracer
	audit     AuditRecorder
	clock     Clock
	archive   *Archive
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRulesEngine replaces the default validation rules.
func WithRulesEngine(engine *domain.RulesEngine) ServiceOption {
	return func(s *Service) {
		if engine != nil {
			s.rules = engine
		}
	}
}

// WithMemberCap overrides how many current members one reconciliation pass
// processes.
func WithMemberCap(limit int) ServiceOption {
	return func(s *Service) {
		if limit > 0 {
			s.memberCap = limit
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder attaches a metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer attaches an operation tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithAuditRecorder attaches an audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithClock overrides the service time source.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithArchive attaches a reconciliation archive. Archive failures are logged
// and never fail the pipeline.
func WithArchive(archive *Archive) ServiceOption {
	return func(s *Service) {
		s.archive = archive
	}
}

// NewService constructs a Service over the given store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("core: persistent store is required")
	}
	s := &Service{
		store:     store,
		rules:     NewDefaultRulesEngine(),
		memberCap: DefaultMemberCap,
		logger:    noopLogger{},
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
		audit:     noopAudit{},
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleTeamChange is the trigger entrypoint: it classifies the raw change,
// runs the validation gate, and reconciles the denormalized summaries. Gate
// rejections are remediated inside the store (delete for invalid creates,
// revert for invalid updates) and reported as handled, not as errors.
func (s *Service) HandleTeamChange(ctx context.Context, change domain.TeamChange) error {
	event := Classify(change)
	return s.observe(ctx, "handle_team_change", domain.EntityTeam, event.Action, event.TeamID, func(ctx context.Context) (string, error) {
		if !event.IsDelete() {
			result, err := s.rules.Evaluate(ctx, event.Candidate)
			if err != nil {
				return StatusError, err
			}
			if result.HasBlocking() {
				if err := s.remediate(ctx, event, result); err != nil {
					return StatusError, err
				}
				return StatusRejected, nil
			}
		}

		outcome, err := s.reconcile(ctx, event)
		if err != nil {
			return StatusError, err
		}
		s.logger.Info("team reconciled",
			"team_id", outcome.TeamID,
			"action", string(outcome.Action),
			"modified", outcome.Modified,
			"rewritten", outcome.Rewritten,
			"updated", len(outcome.Updated),
			"removed", len(outcome.Removed),
			"pruned", len(outcome.Pruned),
			"repaired", len(outcome.Repaired),
			"deferred", len(outcome.Deferred),
		)
		s.archiveOutcome(ctx, outcome)
		return StatusOK, nil
	})
}

// remediate undoes a write that failed the validation gate. Invalid creates
// are deleted; invalid updates are reverted to their before snapshot. Both
// paths write the team document again, so the resulting trigger re-enters
// the pipeline with a valid (or absent) document.
func (s *Service) remediate(ctx context.Context, event TeamEvent, result domain.Result) error {
	for _, violation := range result.Violations {
		s.logger.Warn("team document rejected",
			"team_id", event.TeamID,
			"rule", violation.Rule,
			"message", violation.Message,
		)
	}
	return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if event.IsCreate() || !event.HasBefore {
			return tx.DeleteTeam(event.TeamID)
		}
		return tx.PutTeam(event.Before)
	})
}

func (s *Service) observe(ctx context.Context, operation string, entity domain.EntityType, action domain.Action, entityID string, fn func(context.Context) (string, error)) error {
	start := s.clock.Now()
	ctx, finish := s.tracer.StartSpan(ctx, operation)
	status, err := fn(ctx)
	if status == "" {
		status = StatusOK
		if err != nil {
			status = StatusError
		}
	}
	finish(status)
	duration := s.clock.Now().Sub(start)
	s.metrics.ObserveOperation(operation, status, duration)
	s.audit.Record(AuditEntry{
		Operation: operation,
		Entity:    entity,
		Action:    action,
		EntityID:  entityID,
		Status:    status,
		Duration:  duration,
		Timestamp: start,
	})
	if err != nil {
		s.logger.Error("operation failed", "operation", operation, "entity_id", entityID, "error", err)
	}
	return err
}

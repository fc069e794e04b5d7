// Package worker provides async record processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fraudlab/harrier/internal/domain"
	"github.com/fraudlab/harrier/internal/scoring"
	"github.com/fraudlab/harrier/internal/validate"
)

// Worker consumes raw records from the EventBus, validates and scores them,
// persists the outcome, and publishes results and fraud alerts.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine *scoring.Engine

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *scoring.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		engine: engine,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing records for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startTenantWorker("_global")
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startTenantWorker subscribes a tenant to the ingested-record topic.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicRecordIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRecord(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicRecordIngested,
	)

	return nil
}

// RejectedRecord is the payload published when a record fails validation.
// Every malformed record is independently observable on the rejected topic;
// the batch it arrived with continues unaffected.
type RejectedRecord struct {
	Record domain.RawRecord `json:"record"`
	Field  string           `json:"field"`
	Reason string           `json:"reason"`
}

// processRecord validates and scores one raw record.
func (w *Worker) processRecord(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	if msg.TenantID != "" {
		tenantID = msg.TenantID
	}

	var raw domain.RawRecord
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		slog.Error("failed to parse record message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	txn, err := validate.Parse(raw)
	if err != nil {
		return w.rejectRecord(ctx, tenantID, raw, err)
	}

	result := w.engine.Score(*txn)
	result.ID = uuid.New().String()
	result.EvaluatedAt = time.Now().UTC()

	if w.repo != nil {
		if err := w.repo.SaveTransaction(ctx, tenantID, txn); err != nil {
			slog.Error("failed to save transaction",
				"tx_id", txn.TransactionID,
				"error", err,
			)
		}
		if err := w.repo.SaveResult(ctx, tenantID, &result); err != nil {
			slog.Error("failed to save result",
				"tx_id", txn.TransactionID,
				"error", err,
			)
		}
	}

	resultPayload, _ := json.Marshal(result)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicResult, resultPayload); err != nil {
		slog.Error("failed to publish result",
			"tx_id", txn.TransactionID,
			"error", err,
		)
	}

	if result.IsFraudulent {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicFraudAlert, resultPayload); err != nil {
			slog.Error("failed to publish fraud alert",
				"tx_id", txn.TransactionID,
				"error", err,
			)
		}
	}

	slog.Info("record processed",
		"tx_id", txn.TransactionID,
		"tenant_id", tenantID,
		"risk_level", result.RiskLevel.String(),
		"risk_score", result.RiskScore,
		"is_fraudulent", result.IsFraudulent,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// rejectRecord publishes a validation failure to the rejected topic.
func (w *Worker) rejectRecord(ctx context.Context, tenantID string, raw domain.RawRecord, err error) error {
	rejected := RejectedRecord{Record: raw, Reason: err.Error()}

	var verr *validate.ValidationError
	if errors.As(err, &verr) {
		rejected.Field = verr.Field
		rejected.Reason = verr.Reason
	}

	payload, _ := json.Marshal(rejected)
	if pubErr := w.bus.Publish(ctx, tenantID, domain.TopicRecordRejected, payload); pubErr != nil {
		slog.Error("failed to publish rejected record",
			"tenant_id", tenantID,
			"error", pubErr,
		)
		return pubErr
	}

	slog.Warn("record rejected",
		"tenant_id", tenantID,
		"field", rejected.Field,
		"reason", rejected.Reason,
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotifyApprovalNeeded announces an approval request to its candidates.
	TaskNotifyApprovalNeeded = "notify:approval_needed"
	// TaskNotifyTransferCompleted announces a completed transfer.
	TaskNotifyTransferCompleted = "notify:transfer_completed"
)

// ApprovalNeededPayload describes an approval request awaiting a decision.
type ApprovalNeededPayload struct {
	RequestID        int64           `json:"request_id"`
	Context          string          `json:"context"`
	TransactionRef   string          `json:"transaction_ref"`
	Amount           decimal.Decimal `json:"amount"`
	CandidateUserIDs []int64         `json:"candidate_user_ids"`
	Mode             string          `json:"mode"`
}

// TransferCompletedPayload describes a transfer both sides confirmed.
type TransferCompletedPayload struct {
	TransferID           int64     `json:"transfer_id"`
	Code                 string    `json:"code"`
	RequestingLocationID int64     `json:"requesting_location_id"`
	ProvidingLocationID  int64     `json:"providing_location_id"`
	CreatedBy            int64     `json:"created_by"`
	CompletedAt          time.Time `json:"completed_at"`
}

// NewApprovalNeededTask constructs an Asynq task.
func NewApprovalNeededTask(payload ApprovalNeededPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyApprovalNeeded, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewTransferCompletedTask constructs an Asynq task.
func NewTransferCompletedTask(payload TransferCompletedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyTransferCompleted, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NotificationHandler delivers workflow notifications. Delivery is a structured
// log line consumed by the notification gateway.
type NotificationHandler struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// HandleApprovalNeeded processes TaskNotifyApprovalNeeded tasks.
func (h *NotificationHandler) HandleApprovalNeeded(ctx context.Context, t *asynq.Task) error {
	var payload ApprovalNeededPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.Metrics.CountNotification(TaskNotifyApprovalNeeded, err)
		return asynq.SkipRetry
	}
	h.log().InfoContext(ctx, "approval needed",
		slog.Int64("request_id", payload.RequestID),
		slog.String("context", payload.Context),
		slog.String("transaction_ref", payload.TransactionRef),
		slog.String("amount", payload.Amount.String()),
		slog.Any("candidates", payload.CandidateUserIDs))
	h.Metrics.CountNotification(TaskNotifyApprovalNeeded, nil)
	return nil
}

// HandleTransferCompleted processes TaskNotifyTransferCompleted tasks.
func (h *NotificationHandler) HandleTransferCompleted(ctx context.Context, t *asynq.Task) error {
	var payload TransferCompletedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.Metrics.CountNotification(TaskNotifyTransferCompleted, err)
		return asynq.SkipRetry
	}
	h.log().InfoContext(ctx, "transfer completed",
		slog.Int64("transfer_id", payload.TransferID),
		slog.String("code", payload.Code),
		slog.Int64("requesting_location_id", payload.RequestingLocationID),
		slog.Int64("providing_location_id", payload.ProvidingLocationID))
	h.Metrics.CountNotification(TaskNotifyTransferCompleted, nil)
	return nil
}

func (h *NotificationHandler) log() *slog.Logger {
	if h == nil || h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

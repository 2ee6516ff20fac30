package approval

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListPersons(ctx context.Context, activeOnly bool) ([]Person, error)
	Candidates(ctx context.Context, amount decimal.Decimal) ([]Person, error)
	GetRequest(ctx context.Context, id int64) (Request, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// NotifierPort announces requests that need a decision.
type NotifierPort interface {
	ApprovalNeeded(ctx context.Context, req Request) error
}

// Service resolves approvers and records their decisions.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	notifier NotifierPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service. The notifier may be nil.
func NewService(repo RepositoryPort, audit AuditPort, notifier NotifierPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, notifier: notifier, logger: logger, now: time.Now}
}

// CreatePerson registers an approval authority.
func (s *Service) CreatePerson(ctx context.Context, input PersonInput) (Person, error) {
	if input.UserID <= 0 {
		return Person{}, shared.NewError(shared.ErrValidation, "approval_person", "", "user required")
	}
	if input.MaxAmount.IsNegative() {
		return Person{}, shared.NewError(shared.ErrValidation, "approval_person", "", "max amount must not be negative")
	}
	var out Person
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.InsertPerson(ctx, Person{
			UserID:    input.UserID,
			Label:     input.Label,
			MaxAmount: input.MaxAmount,
			Priority:  input.Priority,
			Active:    input.Active,
		})
		if err != nil {
			return err
		}
		out = p
		return s.recordPerson(ctx, input.ActorID, "approval_person.created", nil, p)
	})
	return out, err
}

// UpdatePerson changes ceiling, priority, label or active flag. Open requests
// keep the candidates they were created with.
func (s *Service) UpdatePerson(ctx context.Context, id int64, input PersonInput) (Person, error) {
	if input.MaxAmount.IsNegative() {
		return Person{}, shared.NewError(shared.ErrValidation, "approval_person", strconv.FormatInt(id, 10), "max amount must not be negative")
	}
	var out Person
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		before, err := tx.GetPersonForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next := before
		next.Label = input.Label
		next.MaxAmount = input.MaxAmount
		next.Priority = input.Priority
		next.Active = input.Active
		p, err := tx.UpdatePerson(ctx, next)
		if err != nil {
			return err
		}
		out = p
		return s.recordPerson(ctx, input.ActorID, "approval_person.updated", &before, p)
	})
	return out, err
}

// ListPersons returns approval persons.
func (s *Service) ListPersons(ctx context.Context, activeOnly bool) ([]Person, error) {
	return s.repo.ListPersons(ctx, activeOnly)
}

// CandidatesFor returns active persons whose ceiling covers amount, ordered by
// priority, then the lowest covering ceiling, then user id.
func (s *Service) CandidatesFor(ctx context.Context, amount decimal.Decimal) ([]Person, error) {
	if amount.IsNegative() {
		return nil, shared.NewError(shared.ErrValidation, "approval_request", "", "amount must not be negative")
	}
	return s.repo.Candidates(ctx, amount)
}

// CreateRequest opens an approval request and snapshots its candidates. It joins
// the caller's transaction and sends no notification.
func (s *Service) CreateRequest(ctx context.Context, input CreateRequestInput) (Request, error) {
	if !input.Context.Valid() {
		return Request{}, shared.Errorf(shared.ErrValidation, "approval_request", "", "unknown context %q", input.Context)
	}
	if input.TransactionRef == "" {
		return Request{}, shared.NewError(shared.ErrValidation, "approval_request", "", "transaction reference required")
	}
	if input.Amount.IsNegative() {
		return Request{}, shared.NewError(shared.ErrValidation, "approval_request", input.TransactionRef, "amount must not be negative")
	}
	mode := input.Mode
	if mode == "" {
		mode = ModeAnyOf
	}
	if mode != ModeAnyOf && mode != ModeSequential {
		return Request{}, shared.Errorf(shared.ErrValidation, "approval_request", input.TransactionRef, "unknown mode %q", mode)
	}

	var out Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		persons, err := tx.Candidates(ctx, input.Amount)
		if err != nil {
			return err
		}
		if len(persons) == 0 {
			return shared.Errorf(shared.ErrNoCandidates, "approval_request", input.TransactionRef, "amount %s", input.Amount)
		}
		ids := make([]int64, 0, len(persons))
		for _, p := range persons {
			ids = append(ids, p.UserID)
		}
		req, err := tx.InsertRequest(ctx, Request{
			Context:          input.Context,
			TransactionRef:   input.TransactionRef,
			Amount:           input.Amount,
			RequestedBy:      input.RequestedBy,
			CandidateUserIDs: ids,
			Mode:             mode,
			Status:           StatusPending,
			Notes:            input.Notes,
		})
		if err != nil {
			return err
		}
		out = req
		return s.recordRequest(ctx, input.RequestedBy, "approval_request.created", nil, req, input.Notes)
	})
	if err != nil {
		return Request{}, err
	}
	return out, nil
}

// Open creates a request and notifies its candidates once committed.
func (s *Service) Open(ctx context.Context, input CreateRequestInput) (Request, error) {
	req, err := s.CreateRequest(ctx, input)
	if err != nil {
		return Request{}, err
	}
	s.Notify(ctx, req)
	return req, nil
}

// Notify emits the approval-needed event. Delivery failures are logged only.
func (s *Service) Notify(ctx context.Context, req Request) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.ApprovalNeeded(ctx, req); err != nil {
		s.logger.Warn("approval notification failed", slog.Int64("request_id", req.ID), slog.Any("error", err))
	}
}

// GetRequest returns an approval request.
func (s *Service) GetRequest(ctx context.Context, id int64) (Request, error) {
	return s.repo.GetRequest(ctx, id)
}

// Authorize checks that actorID may act on a pending request and locks it for
// the rest of the caller's transaction.
func (s *Service) Authorize(ctx context.Context, requestID, actorID int64) (Request, error) {
	var out Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if err := authorize(req, actorID); err != nil {
			return err
		}
		out = req
		return nil
	})
	return out, err
}

// Decide applies a candidate's decision. Approve, reject and send back close the
// request; escalate moves a sequential request to the next candidate. Requests
// owned by a workflow (transfers) can only be escalated here; their closing
// decision comes from the workflow through DecideForWorkflow.
func (s *Service) Decide(ctx context.Context, input DecideInput) (Request, error) {
	return s.decide(ctx, input, false)
}

// DecideForWorkflow is Decide for the workflow that owns the request.
func (s *Service) DecideForWorkflow(ctx context.Context, input DecideInput) (Request, error) {
	return s.decide(ctx, input, true)
}

func (s *Service) decide(ctx context.Context, input DecideInput, workflow bool) (Request, error) {
	var out Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, input.RequestID)
		if err != nil {
			return err
		}
		if err := authorize(req, input.ActorID); err != nil {
			return err
		}
		if !workflow && req.Context.WorkflowOwned() && input.Decision.Closes() {
			return shared.Errorf(shared.ErrInvalidState, "approval_request", strconv.FormatInt(req.ID, 10),
				"%s requests are decided on the %s itself", req.Context, req.Context)
		}
		before := req
		at := s.now().UTC()
		switch input.Decision {
		case DecisionApprove:
			req.Status = StatusApproved
			req.ApprovedBy = &input.ActorID
		case DecisionReject:
			req.Status = StatusRejected
		case DecisionSendBack:
			req.Status = StatusSentBack
		case DecisionEscalate:
			if req.Mode != ModeSequential {
				return shared.NewError(shared.ErrInvalidState, "approval_request", strconv.FormatInt(req.ID, 10), "escalation requires sequential mode")
			}
			if req.CurrentStep+1 >= len(req.CandidateUserIDs) {
				return shared.NewError(shared.ErrInvalidState, "approval_request", strconv.FormatInt(req.ID, 10), "no further approver to escalate to")
			}
			req.CurrentStep++
		default:
			return shared.Errorf(shared.ErrValidation, "approval_request", strconv.FormatInt(req.ID, 10), "unknown decision %q", input.Decision)
		}
		if input.Decision != DecisionEscalate {
			req.DecidedBy = &input.ActorID
			req.DecidedAt = &at
		}
		if input.Notes != "" {
			req.Notes = input.Notes
		}
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		out = req
		return s.recordRequest(ctx, input.ActorID, "approval_request."+string(input.Decision), &before, req, input.Notes)
	})
	if err != nil {
		return Request{}, err
	}
	return out, nil
}

// Withdraw closes a pending request as rejected on behalf of the requesting
// workflow, without a candidate check.
func (s *Service) Withdraw(ctx context.Context, requestID, actorID int64, notes string) (Request, error) {
	var out Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return shared.Errorf(shared.ErrAlreadyDecided, "approval_request", strconv.FormatInt(req.ID, 10), "request is %s", req.Status)
		}
		before := req
		at := s.now().UTC()
		req.Status = StatusRejected
		req.DecidedBy = &actorID
		req.DecidedAt = &at
		if notes != "" {
			req.Notes = notes
		}
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		out = req
		return s.recordRequest(ctx, actorID, "approval_request.withdrawn", &before, req, notes)
	})
	return out, err
}

func authorize(req Request, actorID int64) error {
	ref := strconv.FormatInt(req.ID, 10)
	if req.Status != StatusPending {
		return shared.Errorf(shared.ErrAlreadyDecided, "approval_request", ref, "request is %s", req.Status)
	}
	if !req.CanAct(actorID) {
		return shared.Errorf(shared.ErrNotACandidate, "approval_request", ref, "user %d", actorID)
	}
	return nil
}

func (s *Service) recordPerson(ctx context.Context, actorID int64, action string, before *Person, after Person) error {
	if s.audit == nil {
		return nil
	}
	entry := audit.Entry{
		Entity:  audit.NewRef(audit.KindApprovalPerson, after.ID),
		ActorID: actorID,
		Action:  action,
		After:   audit.Snapshot(after),
	}
	if before != nil {
		entry.Before = audit.Snapshot(before)
	}
	return s.audit.Record(ctx, entry)
}

func (s *Service) recordRequest(ctx context.Context, actorID int64, action string, before *Request, after Request, notes string) error {
	if s.audit == nil {
		return nil
	}
	entry := audit.Entry{
		Entity:  audit.NewRef(audit.KindApprovalRequest, after.ID),
		ActorID: actorID,
		Action:  action,
		After:   audit.Snapshot(after),
		Notes:   notes,
	}
	if before != nil {
		entry.Before = audit.Snapshot(before)
	}
	return s.audit.Record(ctx, entry)
}

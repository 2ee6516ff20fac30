package transfer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/approval"
	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/reservation"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, error)
}

// ApprovalPort is the approval workflow a transfer goes through.
type ApprovalPort interface {
	CreateRequest(ctx context.Context, input approval.CreateRequestInput) (approval.Request, error)
	Authorize(ctx context.Context, requestID, actorID int64) (approval.Request, error)
	DecideForWorkflow(ctx context.Context, input approval.DecideInput) (approval.Request, error)
	Withdraw(ctx context.Context, requestID, actorID int64, notes string) (approval.Request, error)
}

// ReservationPort holds and draws stock at the providing location.
type ReservationPort interface {
	Reserve(ctx context.Context, input reservation.ReserveInput) (reservation.Reservation, error)
	Fulfill(ctx context.Context, id uuid.UUID, actorID int64) (reservation.Consumption, error)
}

// InventoryPort books moved stock into the requesting location.
type InventoryPort interface {
	Receive(ctx context.Context, input inventory.ReceiveInput) (inventory.Batch, error)
}

// CatalogPort validates products and locations.
type CatalogPort interface {
	RequireProduct(ctx context.Context, id int64) (string, error)
	RequireLocation(ctx context.Context, id int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// NotifierPort emits fire-and-forget workflow events.
type NotifierPort interface {
	ApprovalNeeded(ctx context.Context, req approval.Request) error
	TransferCompleted(ctx context.Context, t Transfer) error
}

// Dependencies groups the collaborators of the transfer workflow.
type Dependencies struct {
	Repo         RepositoryPort
	Approvals    ApprovalPort
	Reservations ReservationPort
	Inventory    InventoryPort
	Catalog      CatalogPort
	Audit        AuditPort
	Notifier     NotifierPort
	Logger       *slog.Logger
}

// Service orchestrates transfer requests between storage locations.
type Service struct {
	repo         RepositoryPort
	approvals    ApprovalPort
	reservations ReservationPort
	inventory    InventoryPort
	catalog      CatalogPort
	audit        AuditPort
	notifier     NotifierPort
	logger       *slog.Logger
	now          func() time.Time
}

// NewService builds Service.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         deps.Repo,
		approvals:    deps.Approvals,
		reservations: deps.Reservations,
		inventory:    deps.Inventory,
		catalog:      deps.Catalog,
		audit:        deps.Audit,
		notifier:     deps.Notifier,
		logger:       logger,
		now:          time.Now,
	}
}

// Create stores a draft transfer with its items.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if input.RequestingLocationID == input.ProvidingLocationID {
		return Transfer{}, shared.NewError(shared.ErrValidation, "transfer", "", "requesting and providing locations must differ")
	}
	for _, id := range []int64{input.RequestingLocationID, input.ProvidingLocationID} {
		if err := s.catalog.RequireLocation(ctx, id); err != nil {
			return Transfer{}, err
		}
	}
	for _, item := range input.Items {
		if err := s.validateItem(ctx, item); err != nil {
			return Transfer{}, err
		}
	}

	t := NewTransfer(input.RequestingLocationID, input.ProvidingLocationID, input.CreatedBy, input.Note, s.now().UTC())
	for _, item := range input.Items {
		t.Items = append(t.Items, Item{ProductID: item.ProductID, RequestedQuantity: item.Quantity, UnitPrice: item.UnitPrice, Notes: item.Notes})
	}
	t.RecomputeTotal()

	var out Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stored, err := tx.Insert(ctx, t)
		if err != nil {
			return err
		}
		for _, item := range t.Items {
			item.TransferID = stored.ID
			created, err := tx.InsertItem(ctx, item)
			if err != nil {
				return err
			}
			stored.Items = append(stored.Items, created)
		}
		out = stored
		return s.record(ctx, input.CreatedBy, "transfer.created", nil, stored, input.Note)
	})
	if err != nil {
		return Transfer{}, err
	}
	return out, nil
}

// AddItem appends a line to a draft transfer.
func (s *Service) AddItem(ctx context.Context, transferID, actorID int64, input ItemInput) (Transfer, error) {
	if err := s.validateItem(ctx, input); err != nil {
		return Transfer{}, err
	}
	return s.mutate(ctx, transferID, actorID, func(ctx context.Context, tx TxRepository, t *Transfer) (string, error) {
		if t.Status != StatusDraft {
			return "", invalidState(t, "items can only be added to a draft")
		}
		item, err := tx.InsertItem(ctx, Item{
			TransferID:        t.ID,
			ProductID:         input.ProductID,
			RequestedQuantity: input.Quantity,
			UnitPrice:         input.UnitPrice,
			Notes:             input.Notes,
		})
		if err != nil {
			return "", err
		}
		t.Items = append(t.Items, item)
		t.RecomputeTotal()
		if err := s.recordItem(ctx, actorID, "transfer_item.added", nil, item, t.ID, input.Notes); err != nil {
			return "", err
		}
		return "transfer.item_added", nil
	})
}

// Submit sends a draft for approval. Candidates are notified after commit.
func (s *Service) Submit(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	var req approval.Request
	t, err := s.mutate(ctx, transferID, actorID, func(ctx context.Context, tx TxRepository, t *Transfer) (string, error) {
		if !t.Status.CanTransitionTo(StatusPending) {
			return "", invalidState(t, "only drafts can be submitted")
		}
		if len(t.Items) == 0 {
			return "", shared.NewError(shared.ErrEmptyTransfer, "transfer", t.Code, "")
		}
		t.RecomputeTotal()
		var err error
		req, err = s.approvals.CreateRequest(ctx, approval.CreateRequestInput{
			Context:        approval.ContextTransfer,
			TransactionRef: t.Code,
			Amount:         t.TotalAmount,
			RequestedBy:    actorID,
			Notes:          t.Note,
		})
		if err != nil {
			return "", err
		}
		at := s.now().UTC()
		t.Status = StatusPending
		t.ApprovalRequestID = &req.ID
		t.RequestedAt = &at
		return "transfer.submitted", nil
	})
	if err != nil {
		return Transfer{}, err
	}
	if s.notifier != nil {
		if err := s.notifier.ApprovalNeeded(ctx, req); err != nil {
			s.logger.Warn("approval notification failed", slog.String("transfer", t.Code), slog.Any("error", err))
		}
	}
	return t, nil
}

// DecideItem records the approved quantity for one item and recomputes the
// transfer status. Zero rejects the item.
func (s *Service) DecideItem(ctx context.Context, input DecideItemInput) (Transfer, error) {
	if input.ApprovedQuantity.IsNegative() {
		return Transfer{}, shared.NewError(shared.ErrValidation, "transfer_item", strconv.FormatInt(input.ItemID, 10), "approved quantity must not be negative")
	}
	return s.mutate(ctx, input.TransferID, input.ActorID, func(ctx context.Context, tx TxRepository, t *Transfer) (string, error) {
		if t.Status != StatusPending || t.ApprovalRequestID == nil {
			return "", invalidState(t, "items can only be decided while pending")
		}
		if _, err := s.approvals.Authorize(ctx, *t.ApprovalRequestID, input.ActorID); err != nil {
			return "", err
		}
		item, ok := t.Item(input.ItemID)
		if !ok {
			return "", shared.NewError(shared.ErrNotFound, "transfer_item", strconv.FormatInt(input.ItemID, 10), "")
		}
		ref := strconv.FormatInt(item.ID, 10)
		if item.Status() != ItemPending {
			return "", shared.NewError(shared.ErrAlreadyDecided, "transfer_item", ref, "")
		}
		if input.ApprovedQuantity.GreaterThan(item.RequestedQuantity) {
			return "", shared.Errorf(shared.ErrOverApproval, "transfer_item", ref,
				"approved %s, requested %s", input.ApprovedQuantity, item.RequestedQuantity)
		}
		before := *item
		at := s.now().UTC()
		approved := input.ApprovedQuantity
		item.ApprovedQuantity = &approved
		item.DecidedBy = &input.ActorID
		item.DecidedAt = &at
		if input.Notes != "" {
			item.Notes = input.Notes
		}
		if err := tx.UpdateItem(ctx, *item); err != nil {
			return "", err
		}
		if err := s.recordItem(ctx, input.ActorID, "transfer_item.decided", &before, *item, t.ID, input.Notes); err != nil {
			return "", err
		}

		next := DeriveStatus(t.Items)
		if next == StatusPending {
			return "", nil
		}
		decision := approval.DecisionApprove
		if next == StatusRejected {
			decision = approval.DecisionReject
		}
		if _, err := s.approvals.DecideForWorkflow(ctx, approval.DecideInput{
			RequestID: *t.ApprovalRequestID,
			ActorID:   input.ActorID,
			Decision:  decision,
			Notes:     input.Notes,
		}); err != nil {
			return "", err
		}
		t.Status = next
		t.ApprovedAt = &at
		return "transfer." + string(next), nil
	})
}

// InitiateTransfer moves every approved quantity from the providing to the
// requesting location: reserve, fulfil in FEFO order, then receive each drawn
// batch with the same identity and price. Any failure leaves nothing moved.
func (s *Service) InitiateTransfer(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	return s.mutate(ctx, transferID, actorID, func(ctx context.Context, tx TxRepository, t *Transfer) (string, error) {
		if !t.Status.CanTransitionTo(StatusInTransfer) {
			return "", invalidState(t, "only approved transfers can be initiated")
		}
		for i := range t.Items {
			item := &t.Items[i]
			if item.Status() != ItemApproved {
				continue
			}
			selections, err := s.move(ctx, t, item, actorID)
			if err != nil {
				return "", err
			}
			if err := tx.InsertSelections(ctx, selections); err != nil {
				return "", err
			}
			item.Selections = selections
			item.ExecutedQuantity = item.Approved()
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return "", err
			}
		}
		at := s.now().UTC()
		t.Status = StatusInTransfer
		t.ExecutedAt = &at
		return "transfer.initiated", nil
	})
}

func (s *Service) move(ctx context.Context, t *Transfer, item *Item, actorID int64) ([]Selection, error) {
	reference := t.Code + "/" + strconv.FormatInt(item.ID, 10)
	res, err := s.reservations.Reserve(ctx, reservation.ReserveInput{
		ProductID:   item.ProductID,
		LocationID:  t.ProvidingLocationID,
		Quantity:    item.Approved(),
		RequestedBy: actorID,
		Reference:   reference,
	})
	if err != nil {
		return nil, err
	}
	consumption, err := s.reservations.Fulfill(ctx, res.ID, actorID)
	if err != nil {
		return nil, err
	}
	at := s.now().UTC()
	selections := make([]Selection, 0, len(consumption.Allocations))
	for _, a := range consumption.Allocations {
		target, err := s.inventory.Receive(ctx, inventory.ReceiveInput{
			Key: inventory.Key{
				ProductID:     item.ProductID,
				LocationID:    t.RequestingLocationID,
				BatchNumber:   a.BatchNumber,
				ExpiryDate:    a.ExpiryDate,
				SerialNumber:  a.SerialNumber,
				PurchasePrice: a.PurchasePrice,
			},
			Quantity:  a.Quantity,
			UnitLabel: a.UnitLabel,
			ActorID:   actorID,
			Reference: reference,
			Notes:     "transfer from location " + strconv.FormatInt(t.ProvidingLocationID, 10),
		})
		if err != nil {
			return nil, err
		}
		selections = append(selections, Selection{
			ItemID:        item.ID,
			BatchID:       a.BatchID,
			TargetBatchID: target.ID,
			BatchNumber:   a.BatchNumber,
			ExpiryDate:    a.ExpiryDate,
			SerialNumber:  a.SerialNumber,
			PurchasePrice: a.PurchasePrice,
			Quantity:      a.Quantity,
			CreatedAt:     at,
		})
	}
	return selections, nil
}

// Complete confirms receipt for one side, or both when no side is given. The
// transfer completes once both sides have confirmed.
func (s *Service) Complete(ctx context.Context, input CompleteInput) (Transfer, error) {
	if input.Side != "" && input.Side != SideProviding && input.Side != SideRequesting {
		return Transfer{}, shared.Errorf(shared.ErrValidation, "transfer", strconv.FormatInt(input.TransferID, 10), "unknown side %q", input.Side)
	}
	t, err := s.mutate(ctx, input.TransferID, input.ActorID, func(ctx context.Context, tx TxRepository, t *Transfer) (string, error) {
		if t.Status != StatusInTransfer {
			return "", invalidState(t, "only transfers in transit can be completed")
		}
		at := s.now().UTC()
		action := ""
		if (input.Side == "" || input.Side == SideProviding) && t.ProvidingConfirmedAt == nil {
			t.ProvidingConfirmedAt = &at
			action = "transfer.providing_confirmed"
			for i := range t.Items {
				item := &t.Items[i]
				item.ProvidedQuantity = item.ExecutedQuantity
				if err := tx.UpdateItem(ctx, *item); err != nil {
					return "", err
				}
			}
		}
		if (input.Side == "" || input.Side == SideRequesting) && t.RequestingConfirmedAt == nil {
			t.RequestingConfirmedAt = &at
			action = "transfer.requesting_confirmed"
		}
		if t.ProvidingConfirmedAt != nil && t.RequestingConfirmedAt != nil {
			t.Status = StatusCompleted
			t.CompletedAt = &at
			action = "transfer.completed"
		}
		return action, nil
	})
	if err != nil {
		return Transfer{}, err
	}
	if t.Status == StatusCompleted && s.notifier != nil {
		if err := s.notifier.TransferCompleted(ctx, t); err != nil {
			s.logger.Warn("completion notification failed", slog.String("transfer", t.Code), slog.Any("error", err))
		}
	}
	return t, nil
}

// Cancel abandons a draft or pending transfer and withdraws its open approval request.
func (s *Service) Cancel(ctx context.Context, transferID, actorID int64, reason string) (Transfer, error) {
	return s.mutate(ctx, transferID, actorID, func(ctx context.Context, tx TxRepository, t *Transfer) (string, error) {
		if !t.Status.CanTransitionTo(StatusCancelled) {
			return "", invalidState(t, "only draft or pending transfers can be cancelled")
		}
		if t.Status == StatusPending && t.ApprovalRequestID != nil {
			_, err := s.approvals.Withdraw(ctx, *t.ApprovalRequestID, actorID, reason)
			if err != nil && !errors.Is(err, shared.ErrAlreadyDecided) {
				return "", err
			}
		}
		at := s.now().UTC()
		t.Status = StatusCancelled
		t.CancelledAt = &at
		return "transfer.cancelled", nil
	})
}

// Get returns a transfer with items and selections.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.Get(ctx, id)
}

// mutate locks a transfer, applies fn and persists the header. fn returns the
// audit action for the header change, or "" when the header is unchanged.
func (s *Service) mutate(ctx context.Context, id, actorID int64, fn func(context.Context, TxRepository, *Transfer) (string, error)) (Transfer, error) {
	var out Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before := t
		before.Items = append([]Item(nil), t.Items...)
		action, err := fn(ctx, tx, &t)
		if err != nil {
			return err
		}
		out = t
		if action == "" {
			return nil
		}
		if err := tx.UpdateHeader(ctx, t); err != nil {
			return err
		}
		return s.record(ctx, actorID, action, &before, t, "")
	})
	if err != nil {
		return Transfer{}, err
	}
	s.logger.Debug("transfer updated", slog.String("transfer", out.Code), slog.String("status", string(out.Status)))
	return out, nil
}

func (s *Service) validateItem(ctx context.Context, item ItemInput) error {
	if !item.Quantity.IsPositive() {
		return shared.NewError(shared.ErrValidation, "transfer_item", "", "quantity must be greater than zero")
	}
	if item.UnitPrice.IsNegative() {
		return shared.NewError(shared.ErrValidation, "transfer_item", "", "unit price must not be negative")
	}
	_, err := s.catalog.RequireProduct(ctx, item.ProductID)
	return err
}

func invalidState(t *Transfer, detail string) error {
	return shared.Errorf(shared.ErrInvalidState, "transfer", t.Code, "%s (status %s)", detail, t.Status)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, before *Transfer, after Transfer, notes string) error {
	if s.audit == nil {
		return nil
	}
	entry := audit.Entry{
		Entity:  audit.NewRef(audit.KindTransfer, after.ID),
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

func (s *Service) recordItem(ctx context.Context, actorID int64, action string, before *Item, after Item, transferID int64, notes string) error {
	if s.audit == nil {
		return nil
	}
	entry := audit.Entry{
		Entity:  audit.NewRef(audit.KindTransferItem, after.ID),
		Parent:  audit.NewRef(audit.KindTransfer, transferID),
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

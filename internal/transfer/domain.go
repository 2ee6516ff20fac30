package transfer

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enumerates transfer lifecycle states.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPending           Status = "pending"
	StatusApproved          Status = "approved"
	StatusPartiallyApproved Status = "partially_approved"
	StatusRejected          Status = "rejected"
	StatusInTransfer        Status = "in_transfer"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

// Label returns a human readable status.
func (s Status) Label() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusPending:
		return "Pending approval"
	case StatusApproved:
		return "Approved"
	case StatusPartiallyApproved:
		return "Partially approved"
	case StatusRejected:
		return "Rejected"
	case StatusInTransfer:
		return "In transfer"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

var transitions = map[Status][]Status{
	StatusDraft:             {StatusPending, StatusCancelled},
	StatusPending:           {StatusApproved, StatusPartiallyApproved, StatusRejected, StatusCancelled},
	StatusApproved:          {StatusInTransfer},
	StatusPartiallyApproved: {StatusInTransfer},
	StatusInTransfer:        {StatusCompleted},
}

// CanTransitionTo reports whether the workflow allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ItemStatus is derived from the approved quantity.
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemApproved ItemStatus = "approved"
	ItemRejected ItemStatus = "rejected"
)

// Side identifies which location confirms completion.
type Side string

const (
	SideProviding  Side = "providing"
	SideRequesting Side = "requesting"
)

// Transfer moves stock between two storage locations once approved.
type Transfer struct {
	ID                    int64           `json:"id"`
	Code                  string          `json:"code"`
	RequestingLocationID  int64           `json:"requesting_location_id"`
	ProvidingLocationID   int64           `json:"providing_location_id"`
	Status                Status          `json:"status"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	ApprovalRequestID     *int64          `json:"approval_request_id,omitempty"`
	Note                  string          `json:"note,omitempty"`
	CreatedBy             int64           `json:"created_by"`
	RequestedAt           *time.Time      `json:"requested_at,omitempty"`
	ApprovedAt            *time.Time      `json:"approved_at,omitempty"`
	ExecutedAt            *time.Time      `json:"executed_at,omitempty"`
	ProvidingConfirmedAt  *time.Time      `json:"providing_confirmed_at,omitempty"`
	RequestingConfirmedAt *time.Time      `json:"requesting_confirmed_at,omitempty"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
	CancelledAt           *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	Items                 []Item          `json:"items"`
}

// Item is one product line on a transfer. A nil ApprovedQuantity means undecided.
type Item struct {
	ID                int64            `json:"id"`
	TransferID        int64            `json:"transfer_id"`
	ProductID         int64            `json:"product_id"`
	RequestedQuantity decimal.Decimal  `json:"requested_quantity"`
	ApprovedQuantity  *decimal.Decimal `json:"approved_quantity,omitempty"`
	ExecutedQuantity  decimal.Decimal  `json:"executed_quantity"`
	ProvidedQuantity  decimal.Decimal  `json:"provided_quantity"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	DecidedBy         *int64           `json:"decided_by,omitempty"`
	DecidedAt         *time.Time       `json:"decided_at,omitempty"`
	Notes             string           `json:"notes,omitempty"`
	Selections        []Selection      `json:"selections,omitempty"`
}

// Status derives the item state from its approved quantity.
func (i Item) Status() ItemStatus {
	switch {
	case i.ApprovedQuantity == nil:
		return ItemPending
	case i.ApprovedQuantity.IsZero():
		return ItemRejected
	default:
		return ItemApproved
	}
}

// Approved returns the approved quantity, zero when undecided.
func (i Item) Approved() decimal.Decimal {
	if i.ApprovedQuantity == nil {
		return decimal.Zero
	}
	return *i.ApprovedQuantity
}

// Selection pins the source batch, the batch it landed in and the identity it
// carried at the moment of the move.
type Selection struct {
	ID            int64           `json:"id"`
	ItemID        int64           `json:"item_id"`
	BatchID       int64           `json:"batch_id"`
	TargetBatchID int64           `json:"target_batch_id"`
	BatchNumber   string          `json:"batch_number"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	SerialNumber  *string         `json:"serial_number,omitempty"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewTransfer builds a draft with a fresh reference code.
func NewTransfer(requestingID, providingID, createdBy int64, note string, now time.Time) Transfer {
	return Transfer{
		Code:                 GenerateCode(now),
		RequestingLocationID: requestingID,
		ProvidingLocationID:  providingID,
		Status:               StatusDraft,
		Note:                 note,
		CreatedBy:            createdBy,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// GenerateCode returns a reference of the form TRF-YYYYMMDD-XXXXXXXX.
func GenerateCode(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "TRF-" + now.UTC().Format("20060102") + "-" + suffix
}

// RecomputeTotal sets TotalAmount to the sum of requested quantity times unit
// price. Call it after any item mutation.
func (t *Transfer) RecomputeTotal() {
	total := decimal.Zero
	for _, item := range t.Items {
		total = total.Add(item.RequestedQuantity.Mul(item.UnitPrice))
	}
	t.TotalAmount = total.Round(2)
}

// Item returns the item with id.
func (t *Transfer) Item(id int64) (*Item, bool) {
	for i := range t.Items {
		if t.Items[i].ID == id {
			return &t.Items[i], true
		}
	}
	return nil, false
}

// DeriveStatus computes the parent status from item decisions. Any undecided
// item keeps the transfer pending. Once every item is decided the transfer is
// approved only when each item got its full requested quantity, rejected when
// every item got zero and partially approved otherwise.
func DeriveStatus(items []Item) Status {
	if len(items) == 0 {
		return StatusPending
	}
	full, rejected := 0, 0
	for _, item := range items {
		switch item.Status() {
		case ItemPending:
			return StatusPending
		case ItemRejected:
			rejected++
		case ItemApproved:
			if item.ApprovedQuantity.Equal(item.RequestedQuantity) {
				full++
			}
		}
	}
	switch {
	case full == len(items):
		return StatusApproved
	case rejected == len(items):
		return StatusRejected
	default:
		return StatusPartiallyApproved
	}
}

// ItemInput describes a line on a new transfer.
type ItemInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Notes     string
}

// CreateInput describes a new draft transfer.
type CreateInput struct {
	RequestingLocationID int64
	ProvidingLocationID  int64
	Note                 string
	CreatedBy            int64
	Items                []ItemInput
}

// DecideItemInput records an approver's quantity for one item.
type DecideItemInput struct {
	TransferID       int64
	ItemID           int64
	ActorID          int64
	ApprovedQuantity decimal.Decimal
	Notes            string
}

// CompleteInput confirms receipt. An empty Side confirms both sides at once.
type CompleteInput struct {
	TransferID int64
	ActorID    int64
	Side       Side
}

package approval

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Context names the kind of transaction an approval request guards.
type Context string

const (
	ContextTransfer      Context = "transfer"
	ContextPurchaseOrder Context = "purchase_order"
	ContextBankTransfer  Context = "bank_transfer"
	ContextVaultToBank   Context = "vault_to_bank"
)

// Valid reports whether the context is known.
func (c Context) Valid() bool {
	switch c {
	case ContextTransfer, ContextPurchaseOrder, ContextBankTransfer, ContextVaultToBank:
		return true
	default:
		return false
	}
}

// WorkflowOwned reports whether requests of this context are opened and closed
// by a workflow in this service rather than by direct API calls.
func (c Context) WorkflowOwned() bool {
	return c == ContextTransfer
}

// Mode selects how candidates may act on a request.
type Mode string

const (
	// ModeAnyOf lets any snapshotted candidate decide.
	ModeAnyOf Mode = "any_of"
	// ModeSequential lets only the candidate at the current step decide; the
	// step advances on escalation.
	ModeSequential Mode = "sequential"
)

// Status enumerates approval request states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusSentBack Status = "sent_back"
)

// Label returns a human readable status.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusApproved:
		return "Approved"
	case StatusRejected:
		return "Rejected"
	case StatusSentBack:
		return "Sent back"
	default:
		return "Unknown"
	}
}

// Decision is the action a candidate takes on a request.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionSendBack Decision = "send_back"
	DecisionEscalate Decision = "escalate"
)

// Closes reports whether the decision ends the request.
func (d Decision) Closes() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionSendBack
}

// Person is an approval authority with a ceiling.
type Person struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Label     string          `json:"label,omitempty"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	Priority  int             `json:"priority"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Covers reports whether the person may approve amount.
func (p Person) Covers(amount decimal.Decimal) bool {
	return p.Active && p.MaxAmount.GreaterThanOrEqual(amount)
}

// Request is a pending or decided approval. CandidateUserIDs is fixed when the
// request is created.
type Request struct {
	ID               int64           `json:"id"`
	Context          Context         `json:"context"`
	TransactionRef   string          `json:"transaction_ref"`
	Amount           decimal.Decimal `json:"amount"`
	RequestedBy      int64           `json:"requested_by"`
	CandidateUserIDs []int64         `json:"candidate_user_ids"`
	Mode             Mode            `json:"mode"`
	CurrentStep      int             `json:"current_step"`
	Status           Status          `json:"status"`
	ApprovedBy       *int64          `json:"approved_by,omitempty"`
	DecidedBy        *int64          `json:"decided_by,omitempty"`
	DecidedAt        *time.Time      `json:"decided_at,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CanAct reports whether userID may decide the request at its current step.
func (r Request) CanAct(userID int64) bool {
	if r.Mode == ModeSequential {
		return r.CurrentStep < len(r.CandidateUserIDs) && r.CandidateUserIDs[r.CurrentStep] == userID
	}
	return slices.Contains(r.CandidateUserIDs, userID)
}

// PersonInput carries person create and update fields.
type PersonInput struct {
	UserID    int64
	Label     string
	MaxAmount decimal.Decimal
	Priority  int
	Active    bool
	ActorID   int64
}

// CreateRequestInput describes a new approval request.
type CreateRequestInput struct {
	Context        Context
	TransactionRef string
	Amount         decimal.Decimal
	RequestedBy    int64
	Mode           Mode
	Notes          string
}

// DecideInput captures a candidate's decision.
type DecideInput struct {
	RequestID int64
	ActorID   int64
	Decision  Decision
	Notes     string
}

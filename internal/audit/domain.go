package audit

import (
	"encoding/json"
	"strconv"
	"time"
)

// Entity kinds written to the audit stream.
const (
	KindBatch           = "inventory_batch"
	KindReservation     = "reservation"
	KindTransfer        = "transfer"
	KindTransferItem    = "transfer_item"
	KindApprovalRequest = "approval_request"
	KindApprovalPerson  = "approval_person"
)

// Ref identifies an audited entity.
type Ref struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// NewRef builds a Ref for a numeric identifier.
func NewRef(kind string, id int64) Ref {
	return Ref{Kind: kind, ID: strconv.FormatInt(id, 10)}
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

func (r Ref) String() string {
	return r.Kind + "/" + r.ID
}

// Entry is one append-only audit record. Before and After hold JSON snapshots.
type Entry struct {
	ID        int64           `json:"id"`
	Entity    Ref             `json:"entity"`
	Parent    Ref             `json:"parent,omitzero"`
	ActorID   int64           `json:"actor_id"`
	Action    string          `json:"action"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Cursor marks the last entry of a history page.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// Snapshot marshals v for use as Before/After. Unmarshalable values yield nil.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

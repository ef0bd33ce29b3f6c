// Package update defines the cell-edit approval workflow records.
package update

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the lifecycle state of an update request. Pending is the initial
// state; approved and rejected are terminal.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool { return s == StateApproved || s == StateRejected }

// Edit is a single proposed cell change. Edits are immutable once created and
// belong exclusively to their parent request.
type Edit struct {
	ID        string
	X         int
	Y         int
	Value     int
	RequestID string
}

// Request is a batch of cell edits awaiting a decision by the grid owner. The
// total cost is charged to the requester when the request is created.
type Request struct {
	ID          string
	State       State
	TotalCost   decimal.Decimal
	ModelID     string
	RequesterID string
	Edits       []Edit
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Action is an owner's verdict on a pending request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Valid reports whether a is a recognised action.
func (a Action) Valid() bool { return a == ActionApprove || a == ActionReject }

// Filters narrows request history queries.
type Filters struct {
	State *State
	From  *time.Time
	To    *time.Time
}

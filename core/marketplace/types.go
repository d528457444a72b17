package marketplace

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusOpen      TaskStatus = "open"
	StatusAssigned  TaskStatus = "assigned"
	StatusSubmitted TaskStatus = "submitted"
	StatusCompleted TaskStatus = "completed"
	StatusCancelled TaskStatus = "cancelled"
	StatusDisputed  TaskStatus = "disputed"
)

// Active reports whether funds for a task in this status are still held in escrow.
func (s TaskStatus) Active() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusSubmitted, StatusDisputed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Task is a unit of paid work with its reward held in escrow.
type Task struct {
	ID          uint64     `json:"id"`
	Poster      string     `json:"poster"`
	Description string     `json:"description"`
	Reward      uint64     `json:"reward"`
	Deadline    uint64     `json:"deadline,omitempty"` // block height, 0 = none
	Status      TaskStatus `json:"status"`
	Assignee    string     `json:"assignee,omitempty"`
	Proof       []byte     `json:"proof,omitempty"`
	CreatedAt   uint64     `json:"created_at"`
	UpdatedAt   uint64     `json:"updated_at"`
}

// Bid is a bidder's offer on an open task. One per (task, bidder).
type Bid struct {
	TaskID   uint64 `json:"task_id"`
	Bidder   string `json:"bidder"`
	Amount   uint64 `json:"amount"`
	Proposal string `json:"proposal"`
	Height   uint64 `json:"height"`
}

// ReputationRecord holds the trust score and activity counters of an account.
type ReputationRecord struct {
	Account               string `json:"account"`
	Score                 int64  `json:"score"`
	TasksPosted           uint64 `json:"tasks_posted"`
	TasksCompleted        uint64 `json:"tasks_completed"`
	SuccessfulCompletions uint64 `json:"successful_completions"`
	DisputesWon           uint64 `json:"disputes_won"`
	DisputesLost          uint64 `json:"disputes_lost"`
	TotalEarned           uint64 `json:"total_earned"`
	TotalSpent            uint64 `json:"total_spent"`
	UpdatedAt             uint64 `json:"updated_at"`
}

// HistoryEntry records a score change.
type HistoryEntry struct {
	Height uint64 `json:"height"`
	Score  int64  `json:"score"`
	Reason string `json:"reason"`
}

// Review is a peer rating left for a counterparty on a task.
type Review struct {
	Reviewer string `json:"reviewer"`
	Reviewee string `json:"reviewee"`
	TaskID   uint64 `json:"task_id"`
	Rating   uint8  `json:"rating"`
	Comment  string `json:"comment,omitempty"`
	Height   uint64 `json:"height"`
}

// DisputeRecord captures a raised dispute and, once resolved, its winner.
type DisputeRecord struct {
	TaskID     uint64 `json:"task_id"`
	RaisedBy   string `json:"raised_by"`
	Reason     string `json:"reason"`
	Resolved   bool   `json:"resolved"`
	Winner     string `json:"winner,omitempty"`
	RaisedAt   uint64 `json:"raised_at"`
	ResolvedAt uint64 `json:"resolved_at,omitempty"`
}

// EscrowHold is the reference to funds reserved for a task.
type EscrowHold struct {
	TaskID uint64 `json:"task_id"`
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
	Height uint64 `json:"height"`
}

// Balance is an account's entry in the host balance ledger.
type Balance struct {
	Account  string `json:"account"`
	Free     uint64 `json:"free"`
	Reserved uint64 `json:"reserved"`
}

// TaskFilter captures simple query params for listing tasks.
type TaskFilter struct {
	Status   TaskStatus
	Poster   string
	Assignee string
	Limit    int
	Offset   int
}

// Event is the notification emitted after a successful operation. Score and
// Balance carry the resulting state of reputation and deposit operations.
type Event struct {
	ID        string     `json:"id"`
	Operation string     `json:"operation"`
	TaskID    uint64     `json:"task_id,omitempty"`
	Accounts  []string   `json:"accounts"`
	Status    TaskStatus `json:"status,omitempty"`
	Score     *int64     `json:"score,omitempty"`
	Balance   *Balance   `json:"balance,omitempty"`
	Height    uint64     `json:"height"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

// AuditReport summarizes escrow accounting across all tasks and balances.
type AuditReport struct {
	ActiveTasks   int      `json:"active_tasks"`
	EscrowHeld    uint64   `json:"escrow_held"`
	TotalReserved uint64   `json:"total_reserved"`
	Problems      []string `json:"problems,omitempty"`
}

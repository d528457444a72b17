package marketplace

import "fmt"

// DisputeResolver settles disputed tasks on behalf of an authorized arbiter.
// Funds move through the task ledger, never directly.
type DisputeResolver struct {
	tasks      *TaskLedger
	reputation Reputation
}

// NewDisputeResolver creates a resolver settling through tasks.
func NewDisputeResolver(tasks *TaskLedger, reputation Reputation) *DisputeResolver {
	return &DisputeResolver{tasks: tasks, reputation: reputation}
}

// ResolveDispute pays the escrow of a disputed task to winner, which must be
// the poster or the assignee, and completes the task.
func (d *DisputeResolver) ResolveDispute(tx *Txn, grant Grant, taskID uint64, winner string) (DisputeRecord, error) {
	if err := grant.require(ActionResolveDispute); err != nil {
		return DisputeRecord{}, err
	}
	winner, err := account("winner", winner)
	if err != nil {
		return DisputeRecord{}, err
	}
	task, err := tx.task(taskID)
	if err != nil {
		return DisputeRecord{}, err
	}
	if task.Status != StatusDisputed {
		return DisputeRecord{}, wrongState(task, "resolve")
	}
	var loser string
	switch winner {
	case task.Poster:
		loser = task.Assignee
	case task.Assignee:
		loser = task.Poster
	default:
		return DisputeRecord{}, fmt.Errorf("%w: %s is not a party to task %d", ErrUnauthorized, winner, taskID)
	}
	rec, ok, err := tx.dispute(taskID)
	if err != nil {
		return DisputeRecord{}, err
	}
	if !ok {
		return DisputeRecord{}, fmt.Errorf("%w: no dispute record for task %d", ErrNotFound, taskID)
	}
	if rec.Resolved {
		return DisputeRecord{}, fmt.Errorf("%w: dispute on task %d already resolved", ErrWrongState, taskID)
	}

	hold, err := d.tasks.settleDispute(tx, task, winner)
	if err != nil {
		return DisputeRecord{}, err
	}
	if err := d.reputation.OnDisputeResolved(tx, winner, loser); err != nil {
		return DisputeRecord{}, err
	}
	rec.Resolved = true
	rec.Winner = winner
	rec.ResolvedAt = tx.height
	if err := tx.putDispute(rec); err != nil {
		return DisputeRecord{}, err
	}
	tx.emit(Event{
		Operation: "resolve_dispute",
		TaskID:    taskID,
		Accounts:  []string{winner, loser},
		Status:    StatusCompleted,
		Message:   fmt.Sprintf("dispute on task %d resolved by %s for %s (%d units)", taskID, grant.Principal(), winner, hold.Amount),
	})
	return rec, nil
}

// Dispute returns the dispute record of a task.
func (d *DisputeResolver) Dispute(tx *Txn, taskID uint64) (DisputeRecord, error) {
	rec, ok, err := tx.dispute(taskID)
	if err != nil {
		return DisputeRecord{}, err
	}
	if !ok {
		return DisputeRecord{}, fmt.Errorf("%w: no dispute for task %d", ErrNotFound, taskID)
	}
	return rec, nil
}

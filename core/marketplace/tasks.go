package marketplace

import (
	"fmt"
)

// TaskLedger owns tasks and bids and drives the task lifecycle. It is the
// only component holding the escrow controller.
type TaskLedger struct {
	params     Params
	reputation Reputation
	escrow     escrowController
}

// NewTaskLedger creates a task ledger reporting outcomes to reputation.
func NewTaskLedger(params Params, reputation Reputation) *TaskLedger {
	return &TaskLedger{params: params.withDefaults(), reputation: reputation}
}

// Params returns the effective parameters.
func (l *TaskLedger) Params() Params { return l.params }

func wrongState(task Task, op string) error {
	return fmt.Errorf("%w: cannot %s task %d in status %s", ErrWrongState, op, task.ID, task.Status)
}

// PostTask escrows reward from poster and opens a new task.
func (l *TaskLedger) PostTask(tx *Txn, poster, description string, reward, deadline uint64) (uint64, error) {
	var err error
	if poster, err = account("poster", poster); err != nil {
		return 0, err
	}
	if reward == 0 || reward < l.params.MinReward {
		return 0, fmt.Errorf("%w: reward %d below minimum %d", ErrInvalidAmount, reward, l.params.MinReward)
	}
	if description, err = boundedText("description", description, l.params.MaxDescription); err != nil {
		return 0, err
	}
	if deadline != 0 && deadline <= tx.height {
		return 0, fmt.Errorf("%w: deadline %d is not after current height %d", ErrInvalidInput, deadline, tx.height)
	}

	id, err := tx.nextTaskID()
	if err != nil {
		return 0, err
	}
	if _, err := l.escrow.reserve(tx, id, poster, reward); err != nil {
		return 0, err
	}
	task := Task{
		ID:          id,
		Poster:      poster,
		Description: description,
		Reward:      reward,
		Deadline:    deadline,
		Status:      StatusOpen,
		CreatedAt:   tx.height,
	}
	if err := tx.putTask(task); err != nil {
		return 0, err
	}
	if err := l.reputation.OnTaskPosted(tx, poster, reward); err != nil {
		return 0, err
	}
	tx.emit(Event{
		Operation: "post_task",
		TaskID:    id,
		Accounts:  []string{poster},
		Status:    StatusOpen,
		Message:   fmt.Sprintf("%s posted task %d with reward %d", poster, id, reward),
	})
	return id, nil
}

// BidOnTask records or replaces bidder's bid on an open task.
func (l *TaskLedger) BidOnTask(tx *Txn, bidder string, taskID, amount uint64, proposal string) (Bid, error) {
	var err error
	if bidder, err = account("bidder", bidder); err != nil {
		return Bid{}, err
	}
	if proposal, err = boundedText("proposal", proposal, l.params.MaxProposal); err != nil {
		return Bid{}, err
	}
	if amount == 0 {
		return Bid{}, fmt.Errorf("%w: bid amount must be positive", ErrInvalidAmount)
	}
	task, err := tx.task(taskID)
	if err != nil {
		return Bid{}, err
	}
	if task.Status != StatusOpen {
		return Bid{}, wrongState(task, "bid on")
	}
	if task.Poster == bidder {
		return Bid{}, fmt.Errorf("%w: %s cannot bid on own task %d", ErrSelfDealing, bidder, taskID)
	}
	if task.Deadline != 0 && tx.height >= task.Deadline {
		return Bid{}, fmt.Errorf("%w: task %d deadline %d passed at height %d", ErrWrongState, taskID, task.Deadline, tx.height)
	}
	if l.params.MinBidderReputation > 0 {
		ok, err := l.reputation.MeetsMinimum(tx, bidder, l.params.MinBidderReputation)
		if err != nil {
			return Bid{}, err
		}
		if !ok {
			return Bid{}, fmt.Errorf("%w: %s below %d", ErrInsufficientReputation, bidder, l.params.MinBidderReputation)
		}
	}

	bid := Bid{TaskID: taskID, Bidder: bidder, Amount: amount, Proposal: proposal, Height: tx.height}
	if err := tx.putBid(bid); err != nil {
		return Bid{}, err
	}
	tx.emit(Event{
		Operation: "bid_on_task",
		TaskID:    taskID,
		Accounts:  []string{bidder, task.Poster},
		Status:    task.Status,
		Message:   fmt.Sprintf("%s bid %d on task %d", bidder, amount, taskID),
	})
	return bid, nil
}

// loadOwned loads a task and checks caller is its poster.
func (l *TaskLedger) loadOwned(tx *Txn, caller string, taskID uint64) (Task, error) {
	caller, err := account("caller", caller)
	if err != nil {
		return Task{}, err
	}
	task, err := tx.task(taskID)
	if err != nil {
		return Task{}, err
	}
	if task.Poster != caller {
		return Task{}, fmt.Errorf("%w: %s is not the poster of task %d", ErrUnauthorized, caller, taskID)
	}
	return task, nil
}

// AssignTask gives an open task to one of its bidders.
func (l *TaskLedger) AssignTask(tx *Txn, poster string, taskID uint64, bidder string) (Task, error) {
	task, err := l.loadOwned(tx, poster, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.Status != StatusOpen {
		return Task{}, wrongState(task, "assign")
	}
	if bidder, err = account("bidder", bidder); err != nil {
		return Task{}, err
	}
	if _, ok, err := tx.bid(taskID, bidder); err != nil {
		return Task{}, err
	} else if !ok {
		return Task{}, fmt.Errorf("%w: no bid from %s on task %d", ErrNotFound, bidder, taskID)
	}

	task.Status = StatusAssigned
	task.Assignee = bidder
	if err := tx.putTask(task); err != nil {
		return Task{}, err
	}
	tx.emit(Event{
		Operation: "assign_task",
		TaskID:    taskID,
		Accounts:  []string{task.Poster, bidder},
		Status:    task.Status,
		Message:   fmt.Sprintf("task %d assigned to %s", taskID, bidder),
	})
	return task, nil
}

// SubmitWork stores the assignee's proof of work. The proof is not interpreted.
func (l *TaskLedger) SubmitWork(tx *Txn, assignee string, taskID uint64, proof []byte) (Task, error) {
	assignee, err := account("assignee", assignee)
	if err != nil {
		return Task{}, err
	}
	if proof, err = boundedBytes("proof", proof, l.params.MaxProof); err != nil {
		return Task{}, err
	}
	task, err := tx.task(taskID)
	if err != nil {
		return Task{}, err
	}
	if task.Assignee == "" || task.Assignee != assignee {
		return Task{}, fmt.Errorf("%w: %s is not the assignee of task %d", ErrUnauthorized, assignee, taskID)
	}
	if task.Status != StatusAssigned {
		return Task{}, wrongState(task, "submit work for")
	}

	task.Status = StatusSubmitted
	task.Proof = proof
	if err := tx.putTask(task); err != nil {
		return Task{}, err
	}
	tx.emit(Event{
		Operation: "submit_work",
		TaskID:    taskID,
		Accounts:  []string{assignee, task.Poster},
		Status:    task.Status,
		Message:   fmt.Sprintf("%s submitted work for task %d (%d bytes)", assignee, taskID, len(proof)),
	})
	return task, nil
}

// ApproveWork pays the assignee and completes the task.
func (l *TaskLedger) ApproveWork(tx *Txn, poster string, taskID uint64) (Task, error) {
	task, err := l.loadOwned(tx, poster, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.Status != StatusSubmitted {
		return Task{}, wrongState(task, "approve")
	}
	hold, err := l.escrow.hold(tx, taskID)
	if err != nil {
		return Task{}, err
	}
	if err := l.escrow.release(tx, hold, task.Assignee); err != nil {
		return Task{}, err
	}

	task.Status = StatusCompleted
	if err := tx.putTask(task); err != nil {
		return Task{}, err
	}
	if err := l.reputation.OnTaskCompleted(tx, task.Assignee, hold.Amount); err != nil {
		return Task{}, err
	}
	tx.emit(Event{
		Operation: "approve_work",
		TaskID:    taskID,
		Accounts:  []string{task.Poster, task.Assignee},
		Status:    task.Status,
		Message:   fmt.Sprintf("task %d approved, %d paid to %s", taskID, hold.Amount, task.Assignee),
	})
	return task, nil
}

// CancelTask refunds the poster of an open task.
func (l *TaskLedger) CancelTask(tx *Txn, poster string, taskID uint64) (Task, error) {
	task, err := l.loadOwned(tx, poster, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.Status != StatusOpen {
		return Task{}, wrongState(task, "cancel")
	}
	bids, err := tx.bids(taskID)
	if err != nil {
		return Task{}, err
	}
	if len(bids) > 0 {
		return Task{}, fmt.Errorf("%w: task %d has %d bids and cannot be cancelled", ErrWrongState, taskID, len(bids))
	}
	hold, err := l.escrow.hold(tx, taskID)
	if err != nil {
		return Task{}, err
	}
	if err := l.escrow.refund(tx, hold, task.Poster); err != nil {
		return Task{}, err
	}

	task.Status = StatusCancelled
	if err := tx.putTask(task); err != nil {
		return Task{}, err
	}
	tx.emit(Event{
		Operation: "cancel_task",
		TaskID:    taskID,
		Accounts:  []string{task.Poster},
		Status:    task.Status,
		Message:   fmt.Sprintf("task %d cancelled, %d refunded to %s", taskID, hold.Amount, task.Poster),
	})
	return task, nil
}

// DisputeTask freezes an assigned or submitted task pending resolution.
func (l *TaskLedger) DisputeTask(tx *Txn, caller string, taskID uint64, reason string) (DisputeRecord, error) {
	caller, err := account("caller", caller)
	if err != nil {
		return DisputeRecord{}, err
	}
	if reason, err = boundedText("reason", reason, l.params.MaxReason); err != nil {
		return DisputeRecord{}, err
	}
	task, err := tx.task(taskID)
	if err != nil {
		return DisputeRecord{}, err
	}
	if caller != task.Poster && (task.Assignee == "" || caller != task.Assignee) {
		return DisputeRecord{}, fmt.Errorf("%w: %s is not a party to task %d", ErrUnauthorized, caller, taskID)
	}
	if task.Status != StatusAssigned && task.Status != StatusSubmitted {
		return DisputeRecord{}, wrongState(task, "dispute")
	}
	if _, exists, err := tx.dispute(taskID); err != nil {
		return DisputeRecord{}, err
	} else if exists {
		return DisputeRecord{}, fmt.Errorf("%w: task %d already disputed", ErrDuplicateEntry, taskID)
	}

	rec := DisputeRecord{TaskID: taskID, RaisedBy: caller, Reason: reason, RaisedAt: tx.height}
	if err := tx.putDispute(rec); err != nil {
		return DisputeRecord{}, err
	}
	task.Status = StatusDisputed
	if err := tx.putTask(task); err != nil {
		return DisputeRecord{}, err
	}
	tx.emit(Event{
		Operation: "dispute_task",
		TaskID:    taskID,
		Accounts:  []string{task.Poster, task.Assignee},
		Status:    task.Status,
		Message:   fmt.Sprintf("%s disputed task %d", caller, taskID),
	})
	return rec, nil
}

// settleDispute moves a disputed task's escrow to winner and completes it.
// The winner must already be validated as poster or assignee.
func (l *TaskLedger) settleDispute(tx *Txn, task Task, winner string) (EscrowHold, error) {
	hold, err := l.escrow.hold(tx, task.ID)
	if err != nil {
		return EscrowHold{}, err
	}
	if winner == task.Poster {
		err = l.escrow.refund(tx, hold, winner)
	} else {
		err = l.escrow.release(tx, hold, winner)
	}
	if err != nil {
		return EscrowHold{}, err
	}
	task.Status = StatusCompleted
	if err := tx.putTask(task); err != nil {
		return EscrowHold{}, err
	}
	return hold, nil
}

// GetTask returns a task by id.
func (l *TaskLedger) GetTask(tx *Txn, id uint64) (Task, error) {
	return tx.task(id)
}

// ListTasks returns tasks matching filter in id order.
func (l *TaskLedger) ListTasks(tx *Txn, filter TaskFilter) ([]Task, error) {
	return tx.tasks(filter)
}

// ListOpenTasks returns every task still accepting bids.
func (l *TaskLedger) ListOpenTasks(tx *Txn) ([]Task, error) {
	return tx.tasks(TaskFilter{Status: StatusOpen})
}

// Bids returns the bids on a task ordered by bidder key.
func (l *TaskLedger) Bids(tx *Txn, taskID uint64) ([]Bid, error) {
	if _, err := tx.task(taskID); err != nil {
		return nil, err
	}
	return tx.bids(taskID)
}

// Escrow returns the escrow currently held for a task; zero once settled.
func (l *TaskLedger) Escrow(tx *Txn, taskID uint64) (EscrowHold, error) {
	if _, err := tx.task(taskID); err != nil {
		return EscrowHold{}, err
	}
	hold, _, err := tx.escrowHold(taskID)
	return hold, err
}

// Prune removes completed and cancelled tasks last touched before height,
// together with their bids. Escrow, disputes and reviews are kept.
func (l *TaskLedger) Prune(tx *Txn, before uint64) (int, error) {
	all, err := tx.tasks(TaskFilter{})
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, task := range all {
		if !task.Status.Terminal() || task.UpdatedAt >= before {
			continue
		}
		bids, err := tx.bids(task.ID)
		if err != nil {
			return pruned, err
		}
		for _, bid := range bids {
			if err := tx.kv.Delete(BucketBids, bidKey(bid.TaskID, bid.Bidder)); err != nil {
				return pruned, err
			}
		}
		if err := tx.kv.Delete(BucketTasks, taskKey(task.ID)); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// Audit cross-checks every active task against its escrow hold and the sum
// of holds against the reserved balances.
func (l *TaskLedger) Audit(tx *Txn, totalReserved uint64) (AuditReport, error) {
	report := AuditReport{TotalReserved: totalReserved}
	all, err := tx.tasks(TaskFilter{})
	if err != nil {
		return report, err
	}
	holds, err := tx.escrowHolds()
	if err != nil {
		return report, err
	}
	byTask := make(map[uint64]EscrowHold, len(holds))
	for _, h := range holds {
		byTask[h.TaskID] = h
		report.EscrowHeld += h.Amount
	}
	for _, task := range all {
		h, held := byTask[task.ID]
		switch {
		case task.Status.Active() && !held:
			report.Problems = append(report.Problems, fmt.Sprintf("task %d is %s with no escrow", task.ID, task.Status))
		case task.Status.Active() && h.Amount != task.Reward:
			report.Problems = append(report.Problems, fmt.Sprintf("task %d escrow %d != reward %d", task.ID, h.Amount, task.Reward))
		case !task.Status.Active() && held:
			report.Problems = append(report.Problems, fmt.Sprintf("task %d is %s but still holds %d", task.ID, task.Status, h.Amount))
		}
		if task.Status.Active() {
			report.ActiveTasks++
		}
		delete(byTask, task.ID)
	}
	for id, h := range byTask {
		report.Problems = append(report.Problems, fmt.Sprintf("escrow %d held for missing task %d", h.Amount, id))
	}
	if report.EscrowHeld > totalReserved {
		report.Problems = append(report.Problems, fmt.Sprintf("escrow held %d exceeds reserved %d", report.EscrowHeld, totalReserved))
	}
	return report, nil
}

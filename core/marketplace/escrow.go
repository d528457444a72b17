package marketplace

import "fmt"

// escrowController wraps the custody primitive with per-task holds. It knows
// nothing about task status; TaskLedger decides when to call it and is its
// only holder.
type escrowController struct{}

// reserve locks amount from account and records the hold for taskID.
func (escrowController) reserve(tx *Txn, taskID uint64, account string, amount uint64) (EscrowHold, error) {
	if amount == 0 {
		return EscrowHold{}, fmt.Errorf("%w: escrow of zero", ErrInvalidAmount)
	}
	if _, exists, err := tx.escrowHold(taskID); err != nil {
		return EscrowHold{}, err
	} else if exists {
		return EscrowHold{}, fmt.Errorf("%w: escrow already held for task %d", ErrDuplicateEntry, taskID)
	}
	if err := tx.custody.Reserve(account, amount); err != nil {
		return EscrowHold{}, err
	}
	hold := EscrowHold{TaskID: taskID, Owner: account, Amount: amount, Height: tx.height}
	if err := tx.putJSON(BucketEscrow, taskKey(taskID), hold); err != nil {
		return EscrowHold{}, err
	}
	return hold, nil
}

// release pays the held amount out to another account.
func (e escrowController) release(tx *Txn, hold EscrowHold, to string) error {
	if err := tx.custody.Transfer(hold.Owner, to, hold.Amount); err != nil {
		return err
	}
	return e.clear(tx, hold)
}

// refund returns the held amount. Refunding to the owner unreserves in place.
func (e escrowController) refund(tx *Txn, hold EscrowHold, to string) error {
	var err error
	if to == hold.Owner {
		err = tx.custody.Unreserve(hold.Owner, hold.Amount)
	} else {
		err = tx.custody.Transfer(hold.Owner, to, hold.Amount)
	}
	if err != nil {
		return err
	}
	return e.clear(tx, hold)
}

func (escrowController) clear(tx *Txn, hold EscrowHold) error {
	return tx.kv.Delete(BucketEscrow, taskKey(hold.TaskID))
}

// hold loads the escrow for a task, failing if none is held.
func (escrowController) hold(tx *Txn, taskID uint64) (EscrowHold, error) {
	hold, ok, err := tx.escrowHold(taskID)
	if err != nil {
		return EscrowHold{}, err
	}
	if !ok {
		return EscrowHold{}, fmt.Errorf("%w: no escrow held for task %d", ErrEscrowDesync, taskID)
	}
	return hold, nil
}

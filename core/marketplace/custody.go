package marketplace

import (
	"encoding/json"
	"fmt"
	"math"
)

// Custody is the host ledger's balance-custody primitive. Each call moves
// exactly amount or fails without effect.
type Custody interface {
	// Reserve moves amount from account's free balance to its reserved balance.
	Reserve(account string, amount uint64) error
	// Transfer moves amount out of from's reserved balance into to's free balance.
	Transfer(from, to string, amount uint64) error
	// Unreserve moves amount from account's reserved balance back to free.
	Unreserve(account string, amount uint64) error
}

// BalanceLedger is the KV-backed custody used when the marketplace runs
// standalone. It shares the operation's transaction, so a rejected operation
// also rolls back its balance movements.
type BalanceLedger struct {
	kv KVTx
}

// NewBalanceLedger binds a balance ledger to a transaction.
func NewBalanceLedger(kv KVTx) *BalanceLedger {
	return &BalanceLedger{kv: kv}
}

// Balance returns the balance of account; unseen accounts are empty.
func (b *BalanceLedger) Balance(account string) (Balance, error) {
	bal := Balance{Account: account}
	raw, ok, err := b.kv.Get(BucketBalances, account)
	if err != nil || !ok {
		return bal, err
	}
	if err := json.Unmarshal(raw, &bal); err != nil {
		return Balance{}, fmt.Errorf("decode balance %s: %w", account, err)
	}
	return bal, nil
}

func (b *BalanceLedger) put(bal Balance) error {
	raw, err := json.Marshal(bal)
	if err != nil {
		return fmt.Errorf("encode balance %s: %w", bal.Account, err)
	}
	return b.kv.Put(BucketBalances, bal.Account, raw)
}

// Deposit credits free balance.
func (b *BalanceLedger) Deposit(account string, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: deposit of zero", ErrInvalidAmount)
	}
	bal, err := b.Balance(account)
	if err != nil {
		return err
	}
	if bal.Free > math.MaxUint64-amount {
		return fmt.Errorf("%w: balance overflow for %s", ErrInvalidAmount, account)
	}
	bal.Free += amount
	return b.put(bal)
}

func (b *BalanceLedger) Reserve(account string, amount uint64) error {
	bal, err := b.Balance(account)
	if err != nil {
		return err
	}
	if bal.Free < amount {
		return fmt.Errorf("%w: %s has %d free, needs %d", ErrInsufficientBalance, account, bal.Free, amount)
	}
	bal.Free -= amount
	bal.Reserved += amount
	return b.put(bal)
}

func (b *BalanceLedger) Transfer(from, to string, amount uint64) error {
	src, err := b.Balance(from)
	if err != nil {
		return err
	}
	if src.Reserved < amount {
		return fmt.Errorf("%w: %s has %d reserved, needs %d", ErrInsufficientBalance, from, src.Reserved, amount)
	}
	if from == to {
		src.Reserved -= amount
		src.Free += amount
		return b.put(src)
	}
	dst, err := b.Balance(to)
	if err != nil {
		return err
	}
	if dst.Free > math.MaxUint64-amount {
		return fmt.Errorf("%w: balance overflow for %s", ErrInvalidAmount, to)
	}
	src.Reserved -= amount
	dst.Free += amount
	if err := b.put(src); err != nil {
		return err
	}
	return b.put(dst)
}

func (b *BalanceLedger) Unreserve(account string, amount uint64) error {
	bal, err := b.Balance(account)
	if err != nil {
		return err
	}
	if bal.Reserved < amount {
		return fmt.Errorf("%w: %s has %d reserved, needs %d", ErrInsufficientBalance, account, bal.Reserved, amount)
	}
	bal.Reserved -= amount
	bal.Free += amount
	return b.put(bal)
}

// TotalReserved sums reserved balances across all accounts.
func (b *BalanceLedger) TotalReserved() (uint64, error) {
	var total uint64
	err := b.kv.Scan(BucketBalances, "", func(key string, raw []byte) error {
		var bal Balance
		if err := json.Unmarshal(raw, &bal); err != nil {
			return fmt.Errorf("decode balance %s: %w", key, err)
		}
		total += bal.Reserved
		return nil
	})
	return total, err
}

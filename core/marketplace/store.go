package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Bucket names of the persisted layout.
const (
	BucketTasks      = "tasks"
	BucketBids       = "bids"
	BucketReputation = "reputation"
	BucketHistory    = "history"
	BucketReviews    = "reviews"
	BucketDisputes   = "disputes"
	BucketEscrow     = "escrow"
	BucketBalances   = "balances"
	BucketMeta       = "meta"
)

const keyNextTaskID = "next_task_id"

// KVTx is a transactional view over the bucketed key-value state.
// Scan visits keys with the given prefix in ascending key order.
type KVTx interface {
	Get(bucket, key string) ([]byte, bool, error)
	Put(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	Scan(bucket, prefix string, fn func(key string, value []byte) error) error
}

// Store runs functions against the state. Update commits when fn returns nil
// and discards every write otherwise.
type Store interface {
	Update(ctx context.Context, fn func(KVTx) error) error
	View(ctx context.Context, fn func(KVTx) error) error
	Close()
}

// Txn is the execution context of one operation: typed state access, the
// custody primitive bound to the same transaction, the block height and the
// events to publish once the transaction commits.
type Txn struct {
	kv      KVTx
	custody Custody
	height  uint64
	events  []Event
}

// NewTxn binds a KV transaction for one operation. custody may be nil, in
// which case the KV-backed balance ledger is used.
func NewTxn(kv KVTx, custody Custody, height uint64) *Txn {
	if custody == nil {
		custody = NewBalanceLedger(kv)
	}
	return &Txn{kv: kv, custody: custody, height: height}
}

// Height returns the block height the operation executes at.
func (t *Txn) Height() uint64 { return t.height }

func (t *Txn) emit(evt Event) {
	evt.Height = t.height
	t.events = append(t.events, evt)
}

func taskKey(id uint64) string { return fmt.Sprintf("%020d", id) }

func bidKey(taskID uint64, bidder string) string {
	return taskKey(taskID) + "/" + url.PathEscape(bidder)
}

func reviewKey(reviewer, reviewee string, taskID uint64) string {
	return url.PathEscape(reviewer) + "/" + url.PathEscape(reviewee) + "/" + taskKey(taskID)
}

func (t *Txn) getJSON(bucket, key string, out any) (bool, error) {
	raw, ok, err := t.kv.Get(bucket, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

func (t *Txn) putJSON(bucket, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return t.kv.Put(bucket, key, raw)
}

func scanJSON[T any](t *Txn, bucket, prefix string) ([]T, error) {
	var out []T
	err := t.kv.Scan(bucket, prefix, func(key string, raw []byte) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode %s/%s: %w", bucket, key, err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

func (t *Txn) nextTaskID() (uint64, error) {
	var next uint64
	if _, err := t.getJSON(BucketMeta, keyNextTaskID, &next); err != nil {
		return 0, err
	}
	if next == 0 {
		next = 1
	}
	if err := t.putJSON(BucketMeta, keyNextTaskID, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

func (t *Txn) task(id uint64) (Task, error) {
	var task Task
	ok, err := t.getJSON(BucketTasks, taskKey(id), &task)
	if err != nil {
		return Task{}, err
	}
	if !ok {
		return Task{}, fmt.Errorf("%w: task %d", ErrNotFound, id)
	}
	return task, nil
}

func (t *Txn) putTask(task Task) error {
	task.UpdatedAt = t.height
	return t.putJSON(BucketTasks, taskKey(task.ID), task)
}

func (t *Txn) tasks(filter TaskFilter) ([]Task, error) {
	all, err := scanJSON[Task](t, BucketTasks, "")
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(all))
	for _, task := range all {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Poster != "" && !strings.EqualFold(task.Poster, filter.Poster) {
			continue
		}
		if filter.Assignee != "" && !strings.EqualFold(task.Assignee, filter.Assignee) {
			continue
		}
		out = append(out, task)
	}
	start := min(max(filter.Offset, 0), len(out))
	end := len(out)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return out[start:end], nil
}

func (t *Txn) bid(taskID uint64, bidder string) (Bid, bool, error) {
	var bid Bid
	ok, err := t.getJSON(BucketBids, bidKey(taskID, bidder), &bid)
	return bid, ok, err
}

func (t *Txn) putBid(bid Bid) error {
	return t.putJSON(BucketBids, bidKey(bid.TaskID, bid.Bidder), bid)
}

func (t *Txn) bids(taskID uint64) ([]Bid, error) {
	return scanJSON[Bid](t, BucketBids, taskKey(taskID)+"/")
}

func (t *Txn) dispute(taskID uint64) (DisputeRecord, bool, error) {
	var rec DisputeRecord
	ok, err := t.getJSON(BucketDisputes, taskKey(taskID), &rec)
	return rec, ok, err
}

func (t *Txn) putDispute(rec DisputeRecord) error {
	return t.putJSON(BucketDisputes, taskKey(rec.TaskID), rec)
}

func (t *Txn) escrowHold(taskID uint64) (EscrowHold, bool, error) {
	var hold EscrowHold
	ok, err := t.getJSON(BucketEscrow, taskKey(taskID), &hold)
	return hold, ok, err
}

func (t *Txn) escrowHolds() ([]EscrowHold, error) {
	return scanJSON[EscrowHold](t, BucketEscrow, "")
}

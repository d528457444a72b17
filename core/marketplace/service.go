package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Options configures a Marketplace.
type Options struct {
	Store      Store
	Params     Params
	Authorizer Authorizer
	Height     HeightSource
	// Custody binds the host's custody primitive to a transaction. Nil uses
	// the KV-backed BalanceLedger.
	Custody    func(KVTx) Custody
	Registerer prometheus.Registerer
}

// Marketplace wires the ledgers together over a store. State-changing calls
// run one at a time, each inside a single store transaction.
type Marketplace struct {
	mu         sync.Mutex
	store      Store
	params     Params
	authorizer Authorizer
	height     HeightSource
	custody    func(KVTx) Custody

	reviews    *ReviewStore
	reputation *ReputationLedger
	tasks      *TaskLedger
	disputes   *DisputeResolver

	metrics *Metrics
	sinks   sinkSet
}

// New builds a marketplace from opts.
func New(opts Options) (*Marketplace, error) {
	if opts.Store == nil {
		return nil, errors.New("marketplace: store is required")
	}
	if opts.Height == nil {
		opts.Height = NewManualHeight(0)
	}
	params := opts.Params.withDefaults()
	reviews := NewReviewStore()
	reputation := NewReputationLedger(params, reviews)
	tasks := NewTaskLedger(params, reputation)
	return &Marketplace{
		store:      opts.Store,
		params:     params,
		authorizer: opts.Authorizer,
		height:     opts.Height,
		custody:    opts.Custody,
		reviews:    reviews,
		reputation: reputation,
		tasks:      tasks,
		disputes:   NewDisputeResolver(tasks, reputation),
		metrics:    NewMetrics(opts.Registerer),
	}, nil
}

// Params returns the effective market parameters.
func (m *Marketplace) Params() Params { return m.params }

// Height returns the current block height.
func (m *Marketplace) Height() uint64 { return m.height.CurrentHeight() }

// Subscribe registers sink for every committed event.
func (m *Marketplace) Subscribe(sink EventSink) { m.sinks.add(sink) }

// Close releases the underlying store.
func (m *Marketplace) Close() { m.store.Close() }

func (m *Marketplace) txn(kv KVTx, height uint64) *Txn {
	var custody Custody
	if m.custody != nil {
		custody = m.custody(kv)
	}
	return NewTxn(kv, custody, height)
}

func (m *Marketplace) update(ctx context.Context, op string, fn func(tx *Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	height := m.height.CurrentHeight()
	var events []Event
	err := m.store.Update(ctx, func(kv KVTx) error {
		tx := m.txn(kv, height)
		if err := fn(tx); err != nil {
			return err
		}
		events = tx.events
		return nil
	})
	m.metrics.observe(op, err)
	if err != nil {
		log.Printf("marketplace: %s rejected at height %d: %v", op, height, err)
		return err
	}
	for _, evt := range events {
		log.Printf("marketplace: %s height=%d: %s", evt.Operation, evt.Height, evt.Message)
	}
	m.sinks.publish(events)
	return nil
}

func (m *Marketplace) view(ctx context.Context, fn func(tx *Txn) error) error {
	height := m.height.CurrentHeight()
	return m.store.View(ctx, func(kv KVTx) error {
		return fn(m.txn(kv, height))
	})
}

// PostTask escrows reward from poster and opens a task.
func (m *Marketplace) PostTask(ctx context.Context, poster, description string, reward, deadline uint64) (uint64, error) {
	var id uint64
	err := m.update(ctx, "post_task", func(tx *Txn) error {
		var err error
		id, err = m.tasks.PostTask(tx, poster, description, reward, deadline)
		return err
	})
	return id, err
}

// BidOnTask places or replaces a bid.
func (m *Marketplace) BidOnTask(ctx context.Context, bidder string, taskID, amount uint64, proposal string) (Bid, error) {
	var bid Bid
	err := m.update(ctx, "bid_on_task", func(tx *Txn) error {
		var err error
		bid, err = m.tasks.BidOnTask(tx, bidder, taskID, amount, proposal)
		return err
	})
	return bid, err
}

// AssignTask assigns an open task to a bidder.
func (m *Marketplace) AssignTask(ctx context.Context, poster string, taskID uint64, bidder string) (Task, error) {
	var task Task
	err := m.update(ctx, "assign_task", func(tx *Txn) error {
		var err error
		task, err = m.tasks.AssignTask(tx, poster, taskID, bidder)
		return err
	})
	return task, err
}

// SubmitWork records the assignee's proof.
func (m *Marketplace) SubmitWork(ctx context.Context, assignee string, taskID uint64, proof []byte) (Task, error) {
	var task Task
	err := m.update(ctx, "submit_work", func(tx *Txn) error {
		var err error
		task, err = m.tasks.SubmitWork(tx, assignee, taskID, proof)
		return err
	})
	return task, err
}

// ApproveWork pays the assignee.
func (m *Marketplace) ApproveWork(ctx context.Context, poster string, taskID uint64) (Task, error) {
	var task Task
	err := m.update(ctx, "approve_work", func(tx *Txn) error {
		var err error
		task, err = m.tasks.ApproveWork(tx, poster, taskID)
		return err
	})
	return task, err
}

// CancelTask refunds an open task.
func (m *Marketplace) CancelTask(ctx context.Context, poster string, taskID uint64) (Task, error) {
	var task Task
	err := m.update(ctx, "cancel_task", func(tx *Txn) error {
		var err error
		task, err = m.tasks.CancelTask(tx, poster, taskID)
		return err
	})
	return task, err
}

// DisputeTask freezes an in-progress task.
func (m *Marketplace) DisputeTask(ctx context.Context, caller string, taskID uint64, reason string) (DisputeRecord, error) {
	var rec DisputeRecord
	err := m.update(ctx, "dispute_task", func(tx *Txn) error {
		var err error
		rec, err = m.tasks.DisputeTask(tx, caller, taskID, reason)
		return err
	})
	return rec, err
}

// ResolveDispute settles a dispute. capability must authorize resolve_dispute.
func (m *Marketplace) ResolveDispute(ctx context.Context, capability string, taskID uint64, winner string) (DisputeRecord, error) {
	var rec DisputeRecord
	err := m.update(ctx, "resolve_dispute", func(tx *Txn) error {
		grant, err := Authorize(m.authorizer, capability, ActionResolveDispute)
		if err != nil {
			return err
		}
		rec, err = m.disputes.ResolveDispute(tx, grant, taskID, winner)
		return err
	})
	return rec, err
}

// SubmitReview records a peer review.
func (m *Marketplace) SubmitReview(ctx context.Context, reviewer, reviewee string, rating uint8, comment string, taskID uint64) (Review, error) {
	var review Review
	err := m.update(ctx, "submit_review", func(tx *Txn) error {
		var err error
		review, err = m.reputation.SubmitReview(tx, reviewer, reviewee, rating, comment, taskID)
		return err
	})
	return review, err
}

// SlashReputation lowers a score. capability must authorize slash_reputation.
func (m *Marketplace) SlashReputation(ctx context.Context, capability, acct string, amount uint64, reason string) (int64, error) {
	var score int64
	err := m.update(ctx, "slash_reputation", func(tx *Txn) error {
		grant, err := Authorize(m.authorizer, capability, ActionSlashReputation)
		if err != nil {
			return err
		}
		score, err = m.reputation.SlashReputation(tx, grant, acct, amount, reason)
		return err
	})
	return score, err
}

// Deposit credits free balance in the built-in balance ledger.
// capability must authorize deposit.
func (m *Marketplace) Deposit(ctx context.Context, capability, acct string, amount uint64) (Balance, error) {
	var bal Balance
	err := m.update(ctx, "deposit", func(tx *Txn) error {
		grant, err := Authorize(m.authorizer, capability, ActionDeposit)
		if err != nil {
			return err
		}
		if acct, err = account("account", acct); err != nil {
			return err
		}
		ledger, ok := tx.custody.(*BalanceLedger)
		if !ok {
			return fmt.Errorf("%w: custody does not accept deposits", ErrInvalidInput)
		}
		if err := ledger.Deposit(acct, amount); err != nil {
			return err
		}
		if bal, err = ledger.Balance(acct); err != nil {
			return err
		}
		result := bal
		tx.emit(Event{
			Operation: "deposit",
			Accounts:  []string{acct, grant.Principal()},
			Balance:   &result,
			Message:   fmt.Sprintf("%s deposited %d to %s, free=%d", grant.Principal(), amount, acct, bal.Free),
		})
		return nil
	})
	return bal, err
}

// GetTask returns a task.
func (m *Marketplace) GetTask(ctx context.Context, id uint64) (Task, error) {
	var task Task
	err := m.view(ctx, func(tx *Txn) error {
		var err error
		task, err = m.tasks.GetTask(tx, id)
		return err
	})
	return task, err
}

// ListTasks returns tasks matching filter.
func (m *Marketplace) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	var tasks []Task
	err := m.view(ctx, func(tx *Txn) error {
		var err error
		tasks, err = m.tasks.ListTasks(tx, filter)
		return err
	})
	return tasks, err
}

// ListOpenTasks returns tasks accepting bids.
func (m *Marketplace) ListOpenTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	err := m.view(ctx, func(tx *Txn) error {
		var err error
		tasks, err = m.tasks.ListOpenTasks(tx)
		return err
	})
	return tasks, err
}

// Bids returns the bids on a task.
func (m *Marketplace) Bids(ctx context.Context, taskID uint64) ([]Bid, error) {
	var bids []Bid
	err := m.view(ctx, func(tx *Txn) error {
		var err error
		bids, err = m.tasks.Bids(tx, taskID)
		return err
	})
	return bids, err
}

// Escrow returns the hold of a task; the zero hold once settled.
func (m *Marketplace) Escrow(ctx context.Context, taskID uint64) (EscrowHold, error) {
	var hold EscrowHold
	err := m.view(ctx, func(tx *Txn) error {
		var err error
		hold, err = m.tasks.Escrow(tx, taskID)
		return err
	})
	return hold, err
}

// Dispute returns the dispute record of a task.
func (m *Marketplace) Dispute(ctx context.Context, taskID uint64) (DisputeRecord, error) {
	var rec DisputeRecord
	err := m.view(ctx, func(tx *Txn) error {
		var err error
		rec, err = m.disputes.Dispute(tx, taskID)
		return err
	})
	return rec, err
}

// GetReputation returns an account's score, 5000 when unseen.
func (m *Marketplace) GetReputation(ctx context.Context, acct string) (int64, error) {
	acct, err := account("account", acct)
	if err != nil {
		return 0, err
	}
	var score int64
	err = m.view(ctx, func(tx *Txn) error {
		var err error
		score, err = m.reputation.GetReputation(tx, acct)
		return err
	})
	return score, err
}

// Reputation returns the full reputation record of an account.
func (m *Marketplace) Reputation(ctx context.Context, acct string) (ReputationRecord, error) {
	acct, err := account("account", acct)
	if err != nil {
		return ReputationRecord{}, err
	}
	var rec ReputationRecord
	err = m.view(ctx, func(tx *Txn) error {
		var err error
		rec, _, err = m.reputation.Record(tx, acct)
		return err
	})
	return rec, err
}

// History returns the score history of an account, oldest first.
func (m *Marketplace) History(ctx context.Context, acct string) ([]HistoryEntry, error) {
	acct, err := account("account", acct)
	if err != nil {
		return nil, err
	}
	var entries []HistoryEntry
	err = m.view(ctx, func(tx *Txn) error {
		var err error
		entries, err = m.reputation.History(tx, acct)
		return err
	})
	return entries, err
}

// Reviews returns the reviews an account received.
func (m *Marketplace) Reviews(ctx context.Context, reviewee string) ([]Review, error) {
	reviewee, err := account("reviewee", reviewee)
	if err != nil {
		return nil, err
	}
	var reviews []Review
	err = m.view(ctx, func(tx *Txn) error {
		var err error
		reviews, err = m.reviews.ForReviewee(tx, reviewee)
		return err
	})
	return reviews, err
}

// Review returns one review by its (reviewer, reviewee, task) key.
func (m *Marketplace) Review(ctx context.Context, reviewer, reviewee string, taskID uint64) (Review, error) {
	var review Review
	err := m.view(ctx, func(tx *Txn) error {
		var err error
		review, err = m.reviews.Get(tx, reviewer, reviewee, taskID)
		return err
	})
	return review, err
}

// Balance returns an account's balance in the built-in balance ledger.
func (m *Marketplace) Balance(ctx context.Context, acct string) (Balance, error) {
	acct, err := account("account", acct)
	if err != nil {
		return Balance{}, err
	}
	var bal Balance
	err = m.view(ctx, func(tx *Txn) error {
		ledger, ok := tx.custody.(*BalanceLedger)
		if !ok {
			return fmt.Errorf("%w: custody does not expose balances", ErrInvalidInput)
		}
		var err error
		bal, err = ledger.Balance(acct)
		return err
	})
	return bal, err
}

// Audit checks that every active task holds exactly its reward in escrow and
// that holds are covered by reserved balances.
func (m *Marketplace) Audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	err := m.view(ctx, func(tx *Txn) error {
		holds, err := tx.escrowHolds()
		if err != nil {
			return err
		}
		var reserved uint64
		if ledger, ok := tx.custody.(*BalanceLedger); ok {
			if reserved, err = ledger.TotalReserved(); err != nil {
				return err
			}
		} else {
			for _, h := range holds {
				reserved += h.Amount
			}
		}
		report, err = m.tasks.Audit(tx, reserved)
		return err
	})
	if err == nil && len(report.Problems) > 0 {
		log.Printf("marketplace: audit found %d problems", len(report.Problems))
		return report, fmt.Errorf("%w: %s", ErrEscrowDesync, report.Problems[0])
	}
	return report, err
}

// Prune removes completed and cancelled tasks untouched for olderThan blocks.
// Zero uses the prune_after_blocks parameter; if that is zero too nothing is pruned.
func (m *Marketplace) Prune(ctx context.Context, olderThan uint64) (int, error) {
	if olderThan == 0 {
		olderThan = m.params.PruneAfterBlocks
	}
	if olderThan == 0 {
		return 0, nil
	}
	height := m.height.CurrentHeight()
	if height <= olderThan {
		return 0, nil
	}
	var pruned int
	err := m.update(ctx, "prune", func(tx *Txn) error {
		var err error
		pruned, err = m.tasks.Prune(tx, height-olderThan)
		return err
	})
	if err == nil && pruned > 0 {
		log.Printf("marketplace: pruned %d tasks older than height %d", pruned, height-olderThan)
	}
	return pruned, err
}

// RefreshMetrics recomputes the task and escrow gauges.
func (m *Marketplace) RefreshMetrics(ctx context.Context) error {
	return m.view(ctx, func(tx *Txn) error {
		tasks, err := tx.tasks(TaskFilter{})
		if err != nil {
			return err
		}
		holds, err := tx.escrowHolds()
		if err != nil {
			return err
		}
		var held uint64
		for _, h := range holds {
			held += h.Amount
		}
		m.metrics.refresh(tasks, held)
		return nil
	})
}

// StartHousekeeping prunes and refreshes metrics every interval until ctx is done.
func (m *Marketplace) StartHousekeeping(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Prune(ctx, 0); err != nil {
					log.Printf("marketplace: housekeeping prune failed: %v", err)
				}
				if err := m.RefreshMetrics(ctx); err != nil {
					log.Printf("marketplace: housekeeping metrics failed: %v", err)
				}
			}
		}
	}()
}

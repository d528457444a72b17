package marketplace_test

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"taskmarket-backend/core/marketplace"
	store "taskmarket-backend/storage/marketplace"
)

const adminToken = "admin-token"

type harness struct {
	m      *marketplace.Marketplace
	height *marketplace.ManualHeight
	events []marketplace.Event
}

func newHarness(t *testing.T, params marketplace.Params) *harness {
	t.Helper()
	auth := marketplace.NewStaticAuthorizer()
	auth.Grant(adminToken, "council",
		marketplace.ActionResolveDispute, marketplace.ActionSlashReputation, marketplace.ActionDeposit)
	h := &harness{height: marketplace.NewManualHeight(10)}
	m, err := marketplace.New(marketplace.Options{
		Store:      store.NewMemoryStore(),
		Params:     params,
		Authorizer: auth,
		Height:     h.height,
	})
	if err != nil {
		t.Fatalf("new marketplace: %v", err)
	}
	m.Subscribe(func(evt marketplace.Event) { h.events = append(h.events, evt) })
	h.m = m
	return h
}

func (h *harness) fund(t *testing.T, acct string, amount uint64) {
	t.Helper()
	if _, err := h.m.Deposit(context.Background(), adminToken, acct, amount); err != nil {
		t.Fatalf("deposit %s: %v", acct, err)
	}
}

func (h *harness) balance(t *testing.T, acct string) marketplace.Balance {
	t.Helper()
	bal, err := h.m.Balance(context.Background(), acct)
	if err != nil {
		t.Fatalf("balance %s: %v", acct, err)
	}
	return bal
}

func (h *harness) escrow(t *testing.T, id uint64) uint64 {
	t.Helper()
	hold, err := h.m.Escrow(context.Background(), id)
	if err != nil {
		t.Fatalf("escrow %d: %v", id, err)
	}
	return hold.Amount
}

func (h *harness) status(t *testing.T, id uint64) marketplace.TaskStatus {
	t.Helper()
	task, err := h.m.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("get task %d: %v", id, err)
	}
	return task.Status
}

// assigned posts a task from alice and assigns it to bob.
func (h *harness) assigned(t *testing.T, reward uint64) uint64 {
	t.Helper()
	ctx := context.Background()
	id, err := h.m.PostTask(ctx, "alice", "translate the manual", reward, 0)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := h.m.BidOnTask(ctx, "bob", id, reward, "native speaker"); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := h.m.AssignTask(ctx, "alice", id, "bob"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	return id
}

func expectKind(t *testing.T, err error, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestHappyPathScenario(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	h.fund(t, "alice", 5000)
	ctx := context.Background()

	id, err := h.m.PostTask(ctx, "alice", "build the indexer", 1000, 0)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if got := h.status(t, id); got != marketplace.StatusOpen {
		t.Fatalf("expected open, got %s", got)
	}
	if got := h.escrow(t, id); got != 1000 {
		t.Fatalf("expected escrow 1000, got %d", got)
	}
	if bal := h.balance(t, "alice"); bal.Free != 4000 || bal.Reserved != 1000 {
		t.Fatalf("unexpected poster balance %+v", bal)
	}

	if _, err := h.m.BidOnTask(ctx, "bob", id, 800, "two days"); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := h.m.AssignTask(ctx, "alice", id, "bob"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got := h.status(t, id); got != marketplace.StatusAssigned {
		t.Fatalf("expected assigned, got %s", got)
	}
	if _, err := h.m.SubmitWork(ctx, "bob", id, []byte("ipfs://result")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := h.status(t, id); got != marketplace.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", got)
	}
	task, err := h.m.ApproveWork(ctx, "alice", id)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if task.Status != marketplace.StatusCompleted {
		t.Fatalf("expected completed, got %s", task.Status)
	}
	if got := h.escrow(t, id); got != 0 {
		t.Fatalf("expected escrow released, got %d", got)
	}
	if bal := h.balance(t, "bob"); bal.Free != 1000 {
		t.Fatalf("expected bob to receive 1000, got %+v", bal)
	}
	if bal := h.balance(t, "alice"); bal.Free != 4000 || bal.Reserved != 0 {
		t.Fatalf("unexpected poster balance after approval %+v", bal)
	}

	bob, err := h.m.Reputation(ctx, "bob")
	if err != nil {
		t.Fatalf("reputation: %v", err)
	}
	if bob.SuccessfulCompletions != 1 || bob.TasksCompleted != 1 || bob.TotalEarned != 1000 {
		t.Fatalf("unexpected bob counters %+v", bob)
	}
	if bob.Score != marketplace.DefaultScore {
		t.Fatalf("completion must not move score, got %d", bob.Score)
	}
	alice, _ := h.m.Reputation(ctx, "alice")
	if alice.TasksPosted != 1 || alice.TotalSpent != 1000 {
		t.Fatalf("unexpected alice counters %+v", alice)
	}

	var ops []string
	for _, evt := range h.events {
		ops = append(ops, evt.Operation)
		if evt.ID == "" {
			t.Fatalf("event without id: %+v", evt)
		}
	}
	want := "deposit,post_task,bid_on_task,assign_task,submit_work,approve_work"
	if got := strings.Join(ops, ","); got != want {
		t.Fatalf("expected events %s, got %s", want, got)
	}
	if _, err := h.m.Audit(ctx); err != nil {
		t.Fatalf("audit: %v", err)
	}
}

func TestPostTaskValidation(t *testing.T) {
	params := marketplace.DefaultParams()
	params.MinReward = 50
	params.MaxDescription = 16
	h := newHarness(t, params)
	h.fund(t, "alice", 100)
	ctx := context.Background()

	tests := []struct {
		name        string
		reward      uint64
		description string
		deadline    uint64
		want        error
	}{
		{"zero reward", 0, "ok", 0, marketplace.ErrInvalidAmount},
		{"below minimum", 49, "ok", 0, marketplace.ErrInvalidAmount},
		{"insufficient balance", 101, "ok", 0, marketplace.ErrInsufficientBalance},
		{"description too long", 60, strings.Repeat("x", 17), 0, marketplace.ErrTextTooLong},
		{"control characters", 60, "bad\x00text", 0, marketplace.ErrInvalidInput},
		{"deadline in the past", 60, "ok", 5, marketplace.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.m.PostTask(ctx, "alice", tt.description, tt.reward, tt.deadline)
			expectKind(t, err, tt.want)
			if bal := h.balance(t, "alice"); bal.Free != 100 || bal.Reserved != 0 {
				t.Fatalf("rejected post mutated balance: %+v", bal)
			}
		})
	}

	tasks, err := h.m.ListTasks(ctx, marketplace.TaskFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("rejected posts created tasks: %+v", tasks)
	}
	id, err := h.m.PostTask(ctx, "alice", "ok", 50, 0)
	if err != nil {
		t.Fatalf("post at minimum: %v", err)
	}
	if id != 1 {
		t.Fatalf("rejected posts consumed ids, got %d", id)
	}
}

func TestBidOnTask(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	h.fund(t, "alice", 1000)
	ctx := context.Background()
	id, err := h.m.PostTask(ctx, "alice", "label images", 100, 20)
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	t.Run("self dealing", func(t *testing.T) {
		_, err := h.m.BidOnTask(ctx, "alice", id, 100, "")
		expectKind(t, err, marketplace.ErrSelfDealing)
	})
	t.Run("zero amount", func(t *testing.T) {
		_, err := h.m.BidOnTask(ctx, "bob", id, 0, "")
		expectKind(t, err, marketplace.ErrInvalidAmount)
	})
	t.Run("unknown task", func(t *testing.T) {
		_, err := h.m.BidOnTask(ctx, "bob", 99, 10, "")
		expectKind(t, err, marketplace.ErrNotFound)
	})
	t.Run("rebid overwrites", func(t *testing.T) {
		if _, err := h.m.BidOnTask(ctx, "bob", id, 90, "first"); err != nil {
			t.Fatalf("bid: %v", err)
		}
		if _, err := h.m.BidOnTask(ctx, "bob", id, 70, "cheaper"); err != nil {
			t.Fatalf("rebid: %v", err)
		}
		bids, err := h.m.Bids(ctx, id)
		if err != nil {
			t.Fatalf("bids: %v", err)
		}
		if len(bids) != 1 || bids[0].Amount != 70 || bids[0].Proposal != "cheaper" {
			t.Fatalf("expected single overwritten bid, got %+v", bids)
		}
	})
	t.Run("deadline elapsed", func(t *testing.T) {
		h.height.Set(20)
		_, err := h.m.BidOnTask(ctx, "carol", id, 50, "")
		expectKind(t, err, marketplace.ErrWrongState)
		if got := h.status(t, id); got != marketplace.StatusOpen {
			t.Fatalf("expired task must stay open, got %s", got)
		}
		_, err = h.m.CancelTask(ctx, "alice", id)
		expectKind(t, err, marketplace.ErrWrongState)
		if _, err := h.m.AssignTask(ctx, "alice", id, "bob"); err != nil {
			t.Fatalf("assign expired task with a bid: %v", err)
		}
	})
}

func TestMinimumBidderReputation(t *testing.T) {
	params := marketplace.DefaultParams()
	params.MinBidderReputation = 4800
	h := newHarness(t, params)
	h.fund(t, "alice", 1000)
	ctx := context.Background()
	id, _ := h.m.PostTask(ctx, "alice", "audit contract", 100, 0)

	if _, err := h.m.SlashReputation(ctx, adminToken, "mallory", 300, "spam"); err != nil {
		t.Fatalf("slash: %v", err)
	}
	_, err := h.m.BidOnTask(ctx, "mallory", id, 100, "")
	expectKind(t, err, marketplace.ErrInsufficientReputation)
	if _, err := h.m.BidOnTask(ctx, "bob", id, 100, ""); err != nil {
		t.Fatalf("default score bidder rejected: %v", err)
	}
}

func TestAssignAndSubmitAuthorization(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	h.fund(t, "alice", 1000)
	ctx := context.Background()
	id, _ := h.m.PostTask(ctx, "alice", "write docs", 100, 0)
	if _, err := h.m.BidOnTask(ctx, "bob", id, 100, ""); err != nil {
		t.Fatalf("bid: %v", err)
	}

	_, err := h.m.AssignTask(ctx, "bob", id, "bob")
	expectKind(t, err, marketplace.ErrUnauthorized)
	_, err = h.m.AssignTask(ctx, "alice", id, "carol")
	expectKind(t, err, marketplace.ErrNotFound)
	_, err = h.m.SubmitWork(ctx, "bob", id, []byte("early"))
	expectKind(t, err, marketplace.ErrUnauthorized)

	if _, err := h.m.AssignTask(ctx, "alice", id, "bob"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	_, err = h.m.AssignTask(ctx, "alice", id, "bob")
	expectKind(t, err, marketplace.ErrWrongState)
	_, err = h.m.SubmitWork(ctx, "carol", id, []byte("not mine"))
	expectKind(t, err, marketplace.ErrUnauthorized)
	_, err = h.m.SubmitWork(ctx, "bob", id, make([]byte, marketplace.DefaultParams().MaxProof+1))
	expectKind(t, err, marketplace.ErrTextTooLong)
	_, err = h.m.ApproveWork(ctx, "alice", id)
	expectKind(t, err, marketplace.ErrWrongState)

	if _, err := h.m.SubmitWork(ctx, "bob", id, []byte("done")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = h.m.ApproveWork(ctx, "bob", id)
	expectKind(t, err, marketplace.ErrUnauthorized)
}

func TestCancelTask(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	h.fund(t, "alice", 1000)
	ctx := context.Background()

	t.Run("open task refunds poster", func(t *testing.T) {
		id, _ := h.m.PostTask(ctx, "alice", "open job", 300, 0)
		task, err := h.m.CancelTask(ctx, "alice", id)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if task.Status != marketplace.StatusCancelled {
			t.Fatalf("expected cancelled, got %s", task.Status)
		}
		if bal := h.balance(t, "alice"); bal.Free != 1000 || bal.Reserved != 0 {
			t.Fatalf("expected full refund, got %+v", bal)
		}
		if got := h.escrow(t, id); got != 0 {
			t.Fatalf("expected escrow cleared, got %d", got)
		}
		_, err = h.m.CancelTask(ctx, "alice", id)
		expectKind(t, err, marketplace.ErrWrongState)
	})
	t.Run("assigned task cannot be cancelled", func(t *testing.T) {
		id := h.assigned(t, 200)
		_, err := h.m.CancelTask(ctx, "alice", id)
		expectKind(t, err, marketplace.ErrWrongState)
		if got := h.escrow(t, id); got != 200 {
			t.Fatalf("escrow changed on rejected cancel: %d", got)
		}
	})
	t.Run("open task with bids cannot be cancelled", func(t *testing.T) {
		id, _ := h.m.PostTask(ctx, "alice", "bid on", 300, 0)
		if _, err := h.m.BidOnTask(ctx, "bob", id, 250, "me"); err != nil {
			t.Fatalf("bid: %v", err)
		}
		before := h.balance(t, "alice")
		seen := len(h.events)
		_, err := h.m.CancelTask(ctx, "alice", id)
		expectKind(t, err, marketplace.ErrWrongState)
		if got := h.status(t, id); got != marketplace.StatusOpen {
			t.Fatalf("expected task to stay open, got %s", got)
		}
		if got := h.escrow(t, id); got != 300 {
			t.Fatalf("escrow changed on rejected cancel: %d", got)
		}
		if bal := h.balance(t, "alice"); bal != before {
			t.Fatalf("balance changed on rejected cancel: %+v -> %+v", before, bal)
		}
		if len(h.events) != seen {
			t.Fatalf("rejected cancel emitted %d events", len(h.events)-seen)
		}
	})
	t.Run("only poster cancels", func(t *testing.T) {
		id, _ := h.m.PostTask(ctx, "alice", "another", 100, 0)
		_, err := h.m.CancelTask(ctx, "bob", id)
		expectKind(t, err, marketplace.ErrUnauthorized)
	})
}

func TestDisputeAssigneeWins(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	h.fund(t, "alice", 1000)
	ctx := context.Background()
	id := h.assigned(t, 600)

	_, err := h.m.DisputeTask(ctx, "carol", id, "not a party")
	expectKind(t, err, marketplace.ErrUnauthorized)
	if _, err := h.m.DisputeTask(ctx, "bob", id, "poster unresponsive"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if got := h.status(t, id); got != marketplace.StatusDisputed {
		t.Fatalf("expected disputed, got %s", got)
	}
	if got := h.escrow(t, id); got != 600 {
		t.Fatalf("escrow must stay locked, got %d", got)
	}
	_, err = h.m.DisputeTask(ctx, "alice", id, "again")
	expectKind(t, err, marketplace.ErrWrongState)
	_, err = h.m.SubmitWork(ctx, "bob", id, []byte("late"))
	expectKind(t, err, marketplace.ErrWrongState)

	_, err = h.m.ResolveDispute(ctx, "", id, "bob")
	expectKind(t, err, marketplace.ErrUnauthorized)
	_, err = h.m.ResolveDispute(ctx, adminToken, id, "carol")
	expectKind(t, err, marketplace.ErrUnauthorized)

	rec, err := h.m.ResolveDispute(ctx, adminToken, id, "bob")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !rec.Resolved || rec.Winner != "bob" || rec.RaisedBy != "bob" {
		t.Fatalf("unexpected dispute record %+v", rec)
	}
	if got := h.status(t, id); got != marketplace.StatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if bal := h.balance(t, "bob"); bal.Free != 600 {
		t.Fatalf("expected assignee paid, got %+v", bal)
	}
	bob, _ := h.m.Reputation(ctx, "bob")
	alice, _ := h.m.Reputation(ctx, "alice")
	if bob.Score != marketplace.DefaultScore+marketplace.DisputeWinBonus || bob.DisputesWon != 1 {
		t.Fatalf("unexpected winner record %+v", bob)
	}
	if alice.Score != marketplace.DefaultScore-marketplace.DisputeLossPenalty || alice.DisputesLost != 1 {
		t.Fatalf("unexpected loser record %+v", alice)
	}

	_, err = h.m.ResolveDispute(ctx, adminToken, id, "alice")
	expectKind(t, err, marketplace.ErrWrongState)
}

func TestDisputePosterWins(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	h.fund(t, "alice", 1000)
	ctx := context.Background()
	id := h.assigned(t, 400)
	if _, err := h.m.SubmitWork(ctx, "bob", id, []byte("junk")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.m.DisputeTask(ctx, "alice", id, "work is junk"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if _, err := h.m.ResolveDispute(ctx, adminToken, id, "alice"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if bal := h.balance(t, "alice"); bal.Free != 1000 || bal.Reserved != 0 {
		t.Fatalf("expected poster refunded, got %+v", bal)
	}
	if bal := h.balance(t, "bob"); bal.Free != 0 {
		t.Fatalf("assignee must not be paid, got %+v", bal)
	}
	rec, err := h.m.Dispute(ctx, id)
	if err != nil || rec.Winner != "alice" || rec.ResolvedAt != 10 {
		t.Fatalf("unexpected dispute %+v %v", rec, err)
	}
}

func TestResolveRequiresScopedCapability(t *testing.T) {
	auth := marketplace.NewStaticAuthorizer()
	auth.Grant("funder", "treasury", marketplace.ActionDeposit)
	auth.Grant("slasher", "moderator", marketplace.ActionSlashReputation)
	m, err := marketplace.New(marketplace.Options{Store: store.NewMemoryStore(), Authorizer: auth})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := m.Deposit(ctx, "funder", "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, _ := m.PostTask(ctx, "alice", "job", 100, 0)
	_, _ = m.BidOnTask(ctx, "bob", id, 100, "")
	_, _ = m.AssignTask(ctx, "alice", id, "bob")
	_, _ = m.DisputeTask(ctx, "alice", id, "late")

	_, err = m.ResolveDispute(ctx, "slasher", id, "alice")
	expectKind(t, err, marketplace.ErrUnauthorized)
	_, err = m.Deposit(ctx, "slasher", "alice", 1)
	expectKind(t, err, marketplace.ErrUnauthorized)
	if _, err := m.SlashReputation(ctx, "funder", "bob", 10, "x"); !errors.Is(err, marketplace.ErrUnauthorized) {
		t.Fatalf("expected unauthorized slash, got %v", err)
	}
}

func TestCompletionOnlyThroughApproveOrResolve(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	h.fund(t, "alice", 1000)
	ctx := context.Background()

	open, _ := h.m.PostTask(ctx, "alice", "open", 100, 0)
	_, err := h.m.ApproveWork(ctx, "alice", open)
	expectKind(t, err, marketplace.ErrWrongState)
	_, err = h.m.ResolveDispute(ctx, adminToken, open, "alice")
	expectKind(t, err, marketplace.ErrWrongState)

	assigned := h.assigned(t, 100)
	_, err = h.m.ApproveWork(ctx, "alice", assigned)
	expectKind(t, err, marketplace.ErrWrongState)
	_, err = h.m.ResolveDispute(ctx, adminToken, assigned, "bob")
	expectKind(t, err, marketplace.ErrWrongState)

	_, err = h.m.DisputeTask(ctx, "alice", open, "open tasks cannot be disputed")
	expectKind(t, err, marketplace.ErrWrongState)

	for _, id := range []uint64{open, assigned} {
		if got := h.status(t, id); got == marketplace.StatusCompleted {
			t.Fatalf("task %d completed without approval or resolution", id)
		}
	}
}

func TestSubmitReview(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	ctx := context.Background()

	t.Run("five stars adds 500", func(t *testing.T) {
		if _, err := h.m.SubmitReview(ctx, "alice", "bob", 5, "great", 1); err != nil {
			t.Fatalf("review: %v", err)
		}
		score, _ := h.m.GetReputation(ctx, "bob")
		if score != marketplace.DefaultScore+500 {
			t.Fatalf("expected 5500, got %d", score)
		}
	})
	t.Run("duplicate rejected without double apply", func(t *testing.T) {
		_, err := h.m.SubmitReview(ctx, "alice", "bob", 5, "again", 1)
		expectKind(t, err, marketplace.ErrDuplicateEntry)
		score, _ := h.m.GetReputation(ctx, "bob")
		if score != marketplace.DefaultScore+500 {
			t.Fatalf("duplicate review moved score to %d", score)
		}
	})
	t.Run("self review", func(t *testing.T) {
		_, err := h.m.SubmitReview(ctx, "bob", "bob", 5, "", 1)
		expectKind(t, err, marketplace.ErrSelfDealing)
	})
	t.Run("rating range", func(t *testing.T) {
		for _, rating := range []uint8{0, 6, 255} {
			_, err := h.m.SubmitReview(ctx, "carol", "bob", rating, "", 1)
			expectKind(t, err, marketplace.ErrRatingOutOfRange)
		}
	})
	t.Run("clamped at max", func(t *testing.T) {
		for i := uint64(0); i < 20; i++ {
			if _, err := h.m.SubmitReview(ctx, "carol", "dave", 5, "", i); err != nil {
				t.Fatalf("review %d: %v", i, err)
			}
		}
		score, _ := h.m.GetReputation(ctx, "dave")
		if score != marketplace.MaxScore {
			t.Fatalf("expected clamp at %d, got %d", marketplace.MaxScore, score)
		}
	})
	t.Run("lookups", func(t *testing.T) {
		review, err := h.m.Review(ctx, "alice", "bob", 1)
		if err != nil || review.Rating != 5 || review.Comment != "great" {
			t.Fatalf("unexpected review %+v %v", review, err)
		}
		_, err = h.m.Review(ctx, "bob", "alice", 1)
		expectKind(t, err, marketplace.ErrNotFound)
		reviews, err := h.m.Reviews(ctx, "dave")
		if err != nil || len(reviews) != 20 {
			t.Fatalf("expected 20 reviews for dave, got %d %v", len(reviews), err)
		}
	})
}

func TestSlashReputation(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	ctx := context.Background()

	score, err := h.m.SlashReputation(ctx, adminToken, "mallory", 1200, "fraud")
	if err != nil {
		t.Fatalf("slash: %v", err)
	}
	if score != marketplace.DefaultScore-1200 {
		t.Fatalf("expected %d, got %d", marketplace.DefaultScore-1200, score)
	}
	score, err = h.m.SlashReputation(ctx, adminToken, "mallory", 1<<62, "again")
	if err != nil {
		t.Fatalf("slash: %v", err)
	}
	if score != marketplace.MinScore {
		t.Fatalf("expected floor at 0, got %d", score)
	}
	_, err = h.m.SlashReputation(ctx, adminToken, "mallory", 0, "noop")
	expectKind(t, err, marketplace.ErrInvalidAmount)
	_, err = h.m.SlashReputation(ctx, "wrong", "mallory", 1, "x")
	expectKind(t, err, marketplace.ErrUnauthorized)

	history, err := h.m.History(ctx, "mallory")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Reason != "slashed: fraud" || history[1].Score != 0 {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestEventsCarryResultingState(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	ctx := context.Background()

	h.fund(t, "alice", 250)
	if _, err := h.m.SubmitReview(ctx, "alice", "bob", 3, "", 1); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := h.m.SlashReputation(ctx, adminToken, "bob", 1<<40, "spam"); err != nil {
		t.Fatalf("slash: %v", err)
	}

	byOp := map[string]marketplace.Event{}
	for _, evt := range h.events {
		byOp[evt.Operation] = evt
	}
	if evt := byOp["deposit"]; evt.Balance == nil || evt.Balance.Free != 250 || evt.Balance.Account != "alice" {
		t.Fatalf("deposit event lacks balance: %+v", evt)
	}
	if evt := byOp["submit_review"]; evt.Score == nil || *evt.Score != marketplace.DefaultScore+300 {
		t.Fatalf("review event lacks score: %+v", evt)
	}
	if evt := byOp["slash_reputation"]; evt.Score == nil || *evt.Score != marketplace.MinScore {
		t.Fatalf("slash event lacks floored score: %+v", evt)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	params := marketplace.DefaultParams()
	params.HistoryLimit = 3
	h := newHarness(t, params)
	ctx := context.Background()
	for i := uint64(1); i <= 5; i++ {
		if _, err := h.m.SubmitReview(ctx, "alice", "bob", 1, "", i); err != nil {
			t.Fatalf("review: %v", err)
		}
	}
	history, _ := h.m.History(ctx, "bob")
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	if history[2].Score != marketplace.DefaultScore+500 {
		t.Fatalf("expected newest entry last, got %+v", history)
	}
}

// TestScoreStaysInRange drives random review, slash and dispute sequences and
// checks every score stays within bounds.
func TestScoreStaysInRange(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	ctx := context.Background()
	accounts := []string{"a1", "a2", "a3", "a4"}
	for _, a := range accounts {
		h.fund(t, a, 1_000_000)
	}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 400; i++ {
		x := accounts[rng.Intn(len(accounts))]
		y := accounts[rng.Intn(len(accounts))]
		switch rng.Intn(3) {
		case 0:
			_, _ = h.m.SubmitReview(ctx, x, y, uint8(rng.Intn(7)), "", uint64(i))
		case 1:
			_, _ = h.m.SlashReputation(ctx, adminToken, x, uint64(rng.Int63n(3000)), "random")
		case 2:
			if x == y {
				continue
			}
			id, err := h.m.PostTask(ctx, x, "fuzz", 10, 0)
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			_, _ = h.m.BidOnTask(ctx, y, id, 10, "")
			_, _ = h.m.AssignTask(ctx, x, id, y)
			_, _ = h.m.DisputeTask(ctx, x, id, "fuzz")
			winner := x
			if rng.Intn(2) == 0 {
				winner = y
			}
			if _, err := h.m.ResolveDispute(ctx, adminToken, id, winner); err != nil {
				t.Fatalf("resolve: %v", err)
			}
		}
		for _, a := range accounts {
			score, err := h.m.GetReputation(ctx, a)
			if err != nil {
				t.Fatalf("reputation: %v", err)
			}
			if score < marketplace.MinScore || score > marketplace.MaxScore {
				t.Fatalf("score %d of %s out of range after step %d", score, a, i)
			}
		}
	}
	if _, err := h.m.Audit(ctx); err != nil {
		t.Fatalf("audit after fuzz: %v", err)
	}
}

// TestEscrowMatchesRewardThroughLifecycle checks the held amount at every
// status a task passes through.
func TestEscrowMatchesRewardThroughLifecycle(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	h.fund(t, "alice", 10_000)
	ctx := context.Background()

	check := func(id, reward uint64) {
		t.Helper()
		task, err := h.m.GetTask(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		held := h.escrow(t, id)
		if task.Status.Active() && held != reward {
			t.Fatalf("task %d %s holds %d, want %d", id, task.Status, held, reward)
		}
		if task.Status.Terminal() && held != 0 {
			t.Fatalf("task %d %s still holds %d", id, task.Status, held)
		}
	}

	a := h.assigned(t, 700)
	check(a, 700)
	_, _ = h.m.SubmitWork(ctx, "bob", a, []byte("x"))
	check(a, 700)
	_, _ = h.m.DisputeTask(ctx, "alice", a, "slow")
	check(a, 700)
	_, _ = h.m.ResolveDispute(ctx, adminToken, a, "bob")
	check(a, 700)

	b, _ := h.m.PostTask(ctx, "alice", "b", 300, 0)
	check(b, 300)
	_, _ = h.m.CancelTask(ctx, "alice", b)
	check(b, 300)

	report, err := h.m.Audit(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.EscrowHeld != 0 || report.ActiveTasks != 0 {
		t.Fatalf("unexpected audit %+v", report)
	}
}

func TestListTasks(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	h.fund(t, "alice", 1000)
	h.fund(t, "carol", 1000)
	ctx := context.Background()
	_, _ = h.m.PostTask(ctx, "alice", "one", 10, 0)
	_, _ = h.m.PostTask(ctx, "carol", "two", 10, 0)
	third, _ := h.m.PostTask(ctx, "alice", "three", 10, 0)
	_, _ = h.m.CancelTask(ctx, "alice", third)

	open, err := h.m.ListOpenTasks(ctx)
	if err != nil || len(open) != 2 {
		t.Fatalf("expected 2 open tasks, got %d %v", len(open), err)
	}
	mine, _ := h.m.ListTasks(ctx, marketplace.TaskFilter{Poster: "alice"})
	if len(mine) != 2 || mine[0].Description != "one" || mine[1].Description != "three" {
		t.Fatalf("unexpected poster filter result %+v", mine)
	}
	page, _ := h.m.ListTasks(ctx, marketplace.TaskFilter{Offset: 1, Limit: 1})
	if len(page) != 1 || page[0].Description != "two" {
		t.Fatalf("unexpected page %+v", page)
	}
	past, _ := h.m.ListTasks(ctx, marketplace.TaskFilter{Offset: 10})
	if len(past) != 0 {
		t.Fatalf("expected empty page, got %+v", past)
	}
}

func TestPrune(t *testing.T) {
	params := marketplace.DefaultParams()
	params.PruneAfterBlocks = 5
	h := newHarness(t, params)
	h.fund(t, "alice", 1000)
	ctx := context.Background()

	done, _ := h.m.PostTask(ctx, "alice", "done", 10, 0)
	_, _ = h.m.BidOnTask(ctx, "bob", done, 10, "")
	_, _ = h.m.AssignTask(ctx, "alice", done, "bob")
	_, _ = h.m.SubmitWork(ctx, "bob", done, []byte("ok"))
	if _, err := h.m.ApproveWork(ctx, "alice", done); err != nil {
		t.Fatalf("approve: %v", err)
	}
	live, _ := h.m.PostTask(ctx, "alice", "live", 10, 0)

	if n, _ := h.m.Prune(ctx, 0); n != 0 {
		t.Fatalf("pruned %d tasks before they aged", n)
	}
	h.height.Advance(10)
	n, err := h.m.Prune(ctx, 0)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 pruned, got %d %v", n, err)
	}
	_, err = h.m.GetTask(ctx, done)
	expectKind(t, err, marketplace.ErrNotFound)
	if got := h.status(t, live); got != marketplace.StatusOpen {
		t.Fatalf("open task pruned or changed: %s", got)
	}
	if _, err := h.m.Audit(ctx); err != nil {
		t.Fatalf("audit after prune: %v", err)
	}
}

func TestTextIsNormalized(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	h.fund(t, "alice", 100)
	ctx := context.Background()
	id, err := h.m.PostTask(ctx, "alice", "  café  ", 10, 0)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	task, _ := h.m.GetTask(ctx, id)
	if task.Description != "café" {
		t.Fatalf("expected NFC trimmed description, got %q", task.Description)
	}
}

func TestRejectedOperationsLeaveNoTrace(t *testing.T) {
	h := newHarness(t, marketplace.DefaultParams())
	h.fund(t, "alice", 100)
	ctx := context.Background()
	before := len(h.events)

	_, _ = h.m.PostTask(ctx, "alice", "too expensive", 1000, 0)
	_, _ = h.m.BidOnTask(ctx, "bob", 1, 10, "")
	_, _ = h.m.SubmitReview(ctx, "bob", "bob", 3, "", 0)

	if len(h.events) != before {
		t.Fatalf("rejected operations emitted %d events", len(h.events)-before)
	}
	alice, _ := h.m.Reputation(ctx, "alice")
	if alice.TasksPosted != 0 {
		t.Fatalf("rejected post touched reputation: %+v", alice)
	}
}

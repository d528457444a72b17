package marketplace

import (
	"fmt"
	"math"
)

// Reputation is the narrow interface TaskLedger and DisputeResolver use to
// record outcomes. Posting and completion only move counters; the score
// changes through reviews and disputes.
type Reputation interface {
	OnTaskPosted(tx *Txn, account string, amount uint64) error
	OnTaskCompleted(tx *Txn, account string, amount uint64) error
	OnDisputeResolved(tx *Txn, winner, loser string) error
	GetReputation(tx *Txn, account string) (int64, error)
	MeetsMinimum(tx *Txn, account string, threshold int64) (bool, error)
}

// ReputationLedger owns per-account scores, counters and score history.
type ReputationLedger struct {
	params  Params
	reviews *ReviewStore
}

// NewReputationLedger creates the ledger writing reviews into reviews.
func NewReputationLedger(params Params, reviews *ReviewStore) *ReputationLedger {
	return &ReputationLedger{params: params.withDefaults(), reviews: reviews}
}

func clampScore(score int64) int64 {
	return min(max(score, MinScore), MaxScore)
}

func addScore(score, delta int64) int64 {
	if delta > 0 && score > math.MaxInt64-delta {
		return MaxScore
	}
	if delta < 0 && score < math.MinInt64-delta {
		return MinScore
	}
	return clampScore(score + delta)
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// Record returns the stored record, or a fresh default record for unseen accounts.
func (r *ReputationLedger) Record(tx *Txn, acct string) (ReputationRecord, bool, error) {
	var rec ReputationRecord
	ok, err := tx.getJSON(BucketReputation, acct, &rec)
	if err != nil {
		return ReputationRecord{}, false, err
	}
	if !ok {
		return ReputationRecord{Account: acct, Score: DefaultScore}, false, nil
	}
	return rec, true, nil
}

func (r *ReputationLedger) put(tx *Txn, rec ReputationRecord) error {
	rec.Score = clampScore(rec.Score)
	rec.UpdatedAt = tx.height
	return tx.putJSON(BucketReputation, rec.Account, rec)
}

// History returns the bounded score history of an account, oldest first.
func (r *ReputationLedger) History(tx *Txn, acct string) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	if _, err := tx.getJSON(BucketHistory, acct, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *ReputationLedger) appendHistory(tx *Txn, acct string, score int64, reason string) error {
	entries, err := r.History(tx, acct)
	if err != nil {
		return err
	}
	entries = append(entries, HistoryEntry{Height: tx.height, Score: score, Reason: reason})
	if over := len(entries) - r.params.HistoryLimit; over > 0 {
		entries = entries[over:]
	}
	return tx.putJSON(BucketHistory, acct, entries)
}

func (r *ReputationLedger) OnTaskPosted(tx *Txn, acct string, amount uint64) error {
	rec, _, err := r.Record(tx, acct)
	if err != nil {
		return err
	}
	rec.TasksPosted++
	rec.TotalSpent = saturatingAdd(rec.TotalSpent, amount)
	return r.put(tx, rec)
}

func (r *ReputationLedger) OnTaskCompleted(tx *Txn, acct string, amount uint64) error {
	rec, _, err := r.Record(tx, acct)
	if err != nil {
		return err
	}
	rec.TasksCompleted++
	rec.SuccessfulCompletions++
	rec.TotalEarned = saturatingAdd(rec.TotalEarned, amount)
	return r.put(tx, rec)
}

func (r *ReputationLedger) OnDisputeResolved(tx *Txn, winner, loser string) error {
	w, _, err := r.Record(tx, winner)
	if err != nil {
		return err
	}
	w.Score = addScore(w.Score, DisputeWinBonus)
	w.DisputesWon++
	if err := r.put(tx, w); err != nil {
		return err
	}
	if err := r.appendHistory(tx, winner, w.Score, "dispute won"); err != nil {
		return err
	}

	l, _, err := r.Record(tx, loser)
	if err != nil {
		return err
	}
	l.Score = addScore(l.Score, -DisputeLossPenalty)
	l.DisputesLost++
	if err := r.put(tx, l); err != nil {
		return err
	}
	return r.appendHistory(tx, loser, l.Score, "dispute lost")
}

func (r *ReputationLedger) GetReputation(tx *Txn, acct string) (int64, error) {
	rec, _, err := r.Record(tx, acct)
	if err != nil {
		return 0, err
	}
	return rec.Score, nil
}

func (r *ReputationLedger) MeetsMinimum(tx *Txn, acct string, threshold int64) (bool, error) {
	score, err := r.GetReputation(tx, acct)
	if err != nil {
		return false, err
	}
	return score >= threshold, nil
}

// SubmitReview records a peer review and credits the reviewee rating*100 points.
func (r *ReputationLedger) SubmitReview(tx *Txn, reviewer, reviewee string, rating uint8, comment string, taskID uint64) (Review, error) {
	var err error
	if reviewer, err = account("reviewer", reviewer); err != nil {
		return Review{}, err
	}
	if reviewee, err = account("reviewee", reviewee); err != nil {
		return Review{}, err
	}
	if reviewer == reviewee {
		return Review{}, fmt.Errorf("%w: %s cannot review themselves", ErrSelfDealing, reviewer)
	}
	if rating < 1 || rating > 5 {
		return Review{}, fmt.Errorf("%w: rating %d not in 1..5", ErrRatingOutOfRange, rating)
	}
	if comment, err = boundedText("comment", comment, r.params.MaxComment); err != nil {
		return Review{}, err
	}

	review := Review{
		Reviewer: reviewer,
		Reviewee: reviewee,
		TaskID:   taskID,
		Rating:   rating,
		Comment:  comment,
		Height:   tx.height,
	}
	if err := r.reviews.insert(tx, review); err != nil {
		return Review{}, err
	}

	rec, _, err := r.Record(tx, reviewee)
	if err != nil {
		return Review{}, err
	}
	rec.Score = addScore(rec.Score, int64(rating)*ReviewPointsPerStar)
	if err := r.put(tx, rec); err != nil {
		return Review{}, err
	}
	if err := r.appendHistory(tx, reviewee, rec.Score, fmt.Sprintf("review %d/5 from %s", rating, reviewer)); err != nil {
		return Review{}, err
	}
	score := rec.Score
	tx.emit(Event{
		Operation: "submit_review",
		TaskID:    taskID,
		Accounts:  []string{reviewer, reviewee},
		Score:     &score,
		Message:   fmt.Sprintf("%s rated %s %d/5, score now %d", reviewer, reviewee, rating, rec.Score),
	})
	return review, nil
}

// SlashReputation lowers an account's score by amount, floored at zero.
func (r *ReputationLedger) SlashReputation(tx *Txn, grant Grant, acct string, amount uint64, reason string) (int64, error) {
	if err := grant.require(ActionSlashReputation); err != nil {
		return 0, err
	}
	var err error
	if acct, err = account("account", acct); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: slash of zero", ErrInvalidAmount)
	}
	if reason, err = boundedText("reason", reason, r.params.MaxReason); err != nil {
		return 0, err
	}
	rec, _, err := r.Record(tx, acct)
	if err != nil {
		return 0, err
	}
	delta := int64(MaxScore)
	if amount < uint64(MaxScore) {
		delta = int64(amount)
	}
	rec.Score = addScore(rec.Score, -delta)
	if err := r.put(tx, rec); err != nil {
		return 0, err
	}
	if err := r.appendHistory(tx, acct, rec.Score, "slashed: "+reason); err != nil {
		return 0, err
	}
	score := rec.Score
	tx.emit(Event{
		Operation: "slash_reputation",
		Accounts:  []string{acct, grant.Principal()},
		Score:     &score,
		Message:   fmt.Sprintf("%s slashed %s by %d (%s), score now %d", grant.Principal(), acct, amount, reason, rec.Score),
	})
	return rec.Score, nil
}

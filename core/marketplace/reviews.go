package marketplace

import (
	"fmt"
	"net/url"
)

// ReviewStore keeps reviews keyed by (reviewer, reviewee, task). Inserts go
// through ReputationLedger.SubmitReview only.
type ReviewStore struct{}

// NewReviewStore returns a review store.
func NewReviewStore() *ReviewStore { return &ReviewStore{} }

func (s *ReviewStore) insert(tx *Txn, review Review) error {
	key := reviewKey(review.Reviewer, review.Reviewee, review.TaskID)
	if _, exists, err := tx.kv.Get(BucketReviews, key); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %s already reviewed %s for task %d", ErrDuplicateEntry, review.Reviewer, review.Reviewee, review.TaskID)
	}
	return tx.putJSON(BucketReviews, key, review)
}

// Get returns the review for a triple.
func (s *ReviewStore) Get(tx *Txn, reviewer, reviewee string, taskID uint64) (Review, error) {
	var review Review
	ok, err := tx.getJSON(BucketReviews, reviewKey(reviewer, reviewee, taskID), &review)
	if err != nil {
		return Review{}, err
	}
	if !ok {
		return Review{}, fmt.Errorf("%w: review by %s of %s for task %d", ErrNotFound, reviewer, reviewee, taskID)
	}
	return review, nil
}

// ByReviewer lists reviews written by reviewer.
func (s *ReviewStore) ByReviewer(tx *Txn, reviewer string) ([]Review, error) {
	return scanJSON[Review](tx, BucketReviews, url.PathEscape(reviewer)+"/")
}

// ForReviewee lists reviews received by reviewee. Keys lead with the reviewer,
// so this is a full scan.
func (s *ReviewStore) ForReviewee(tx *Txn, reviewee string) ([]Review, error) {
	all, err := scanJSON[Review](tx, BucketReviews, "")
	if err != nil {
		return nil, err
	}
	var out []Review
	for _, r := range all {
		if r.Reviewee == reviewee {
			out = append(out, r)
		}
	}
	return out, nil
}

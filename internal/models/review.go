package models

import "time"

// ReviewStatus is the adjudication state of a suspected duplicate pair.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewAccepted ReviewStatus = "accepted"
	ReviewRejected ReviewStatus = "rejected"
	ReviewSkipped  ReviewStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewAccepted || s == ReviewRejected || s == ReviewSkipped
}

// ReviewItem is one adjudication of a suspected duplicate pair. The pair is
// unordered: LeftPersonID always holds the lesser id so the unique index on
// (left, right) collapses both orderings. Version backs optimistic
// concurrency on decisions.
type ReviewItem struct {
	ID                string       `db:"id" json:"id"`
	LeftPersonID      string       `db:"left_person_id" json:"left_person_id"`
	RightPersonID     string       `db:"right_person_id" json:"right_person_id"`
	Similarity        int          `db:"similarity" json:"similarity"`
	Audience          Audience     `db:"audience" json:"audience"`
	Status            ReviewStatus `db:"status" json:"status"`
	Version           int          `db:"version" json:"version"`
	CanonicalName     *string      `db:"canonical_name" json:"canonical_name,omitempty"`
	CanonicalPersonID *string      `db:"canonical_person_id" json:"canonical_person_id,omitempty"`
	DecidedBy         *string      `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt         *time.Time   `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
}

// OrderedPair returns the two person ids with the lesser one first.
func OrderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// ReviewFilter narrows review queue listings. Pagination is stable on
// (similarity desc, id asc).
type ReviewFilter struct {
	Status        *ReviewStatus
	Audience      *Audience
	MinSimilarity *int
	MaxSimilarity *int
	Page          int
	PageSize      int
}

// ReviewDecision is an operator's verdict on a pending item.
type ReviewDecision string

const (
	DecisionAccept ReviewDecision = "accept"
	DecisionReject ReviewDecision = "reject"
	DecisionSkip   ReviewDecision = "skip"
)

package model

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryTask is one row of issue_delivery_queue: a pending send of one
// issue to one subscriber address. (IssueID, SubscriberEmail) is unique.
type DeliveryTask struct {
	IssueID         uuid.UUID `db:"issue_id" json:"issue_id"`
	SubscriberEmail string    `db:"subscriber_email" json:"subscriber_email"`
	NRetries        int       `db:"n_retries" json:"n_retries"`
	ExecuteAfter    time.Time `db:"execute_after" json:"execute_after"`
}

type DeliveryTaskKey struct {
	IssueID         uuid.UUID
	SubscriberEmail string
}

func (t DeliveryTask) Key() DeliveryTaskKey {
	return DeliveryTaskKey{IssueID: t.IssueID, SubscriberEmail: t.SubscriberEmail}
}

// Eligible reports whether the task may be picked up at now.
func (t DeliveryTask) Eligible(now time.Time) bool {
	return !now.Before(t.ExecuteAfter)
}

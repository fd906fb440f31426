package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/newsletter-service/internal/model"
)

// DeliveryQueueRepository accesses issue_delivery_queue, the outbox drained
// by delivery workers.
type DeliveryQueueRepository struct {
	DB *sql.DB
}

func (r *DeliveryQueueRepository) Begin(ctx context.Context) (Tx, error) {
	return begin(ctx, r.DB)
}

// EnqueueForConfirmed inserts one task per confirmed subscriber. Pairs that
// already exist are skipped, so re-running it for the same issue is a no-op.
func (r *DeliveryQueueRepository) EnqueueForConfirmed(ctx context.Context, q DBTX, issueID uuid.UUID, executeAfter time.Time) (int64, error) {
	query := `
        INSERT INTO issue_delivery_queue (issue_id, subscriber_email, n_retries, execute_after)
        SELECT $1, email, 0, $2
        FROM subscriptions
        WHERE status = 'confirmed'
        ON CONFLICT (issue_id, subscriber_email) DO NOTHING
    `
	res, err := q.ExecContext(ctx, query, issueID, executeAfter)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DequeueNext locks the oldest eligible task inside q. Rows locked by other
// transactions are skipped, never waited on. It returns nil when nothing is
// eligible.
func (r *DeliveryQueueRepository) DequeueNext(ctx context.Context, q DBTX, now time.Time) (*model.DeliveryTask, error) {
	query := `
        SELECT issue_id, subscriber_email, n_retries, execute_after
        FROM issue_delivery_queue
        WHERE execute_after <= $1
        ORDER BY execute_after ASC
        LIMIT 1
        FOR UPDATE SKIP LOCKED
    `
	var task model.DeliveryTask
	err := q.QueryRowContext(ctx, query, now).Scan(&task.IssueID, &task.SubscriberEmail, &task.NRetries, &task.ExecuteAfter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func (r *DeliveryQueueRepository) Delete(ctx context.Context, q DBTX, key model.DeliveryTaskKey) error {
	query := `DELETE FROM issue_delivery_queue WHERE issue_id = $1 AND subscriber_email = $2`
	_, err := q.ExecContext(ctx, query, key.IssueID, key.SubscriberEmail)
	return err
}

func (r *DeliveryQueueRepository) Reschedule(ctx context.Context, q DBTX, key model.DeliveryTaskKey, nRetries int, executeAfter time.Time) error {
	query := `
        UPDATE issue_delivery_queue
        SET n_retries = $3, execute_after = $4
        WHERE issue_id = $1 AND subscriber_email = $2
    `
	_, err := q.ExecContext(ctx, query, key.IssueID, key.SubscriberEmail, nRetries, executeAfter)
	return err
}

func (r *DeliveryQueueRepository) CountPending(ctx context.Context, issueID uuid.UUID) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM issue_delivery_queue WHERE issue_id = $1`, issueID).Scan(&n)
	return n, err
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/newsletter-service/internal/model"
)

type IdempotencyRepository struct {
	DB *sql.DB
}

func (r *IdempotencyRepository) Begin(ctx context.Context) (Tx, error) {
	return begin(ctx, r.DB)
}

// Get returns the row for (ownerID, key), or nil when none is committed.
func (r *IdempotencyRepository) Get(ctx context.Context, ownerID uuid.UUID, key model.IdempotencyKey) (*model.IdempotencyRecord, error) {
	query := `
        SELECT response_status_code, response_headers, response_body, created_at
        FROM idempotency
        WHERE owner_id = $1 AND idempotency_key = $2
    `
	var (
		status  sql.NullInt32
		headers []byte
		body    []byte
		rec     = model.IdempotencyRecord{OwnerID: ownerID, Key: key}
	)
	err := r.DB.QueryRowContext(ctx, query, ownerID, string(key)).Scan(&status, &headers, &body, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if status.Valid {
		resp := &model.SavedResponse{StatusCode: int(status.Int32), Body: body}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &resp.Headers); err != nil {
				return nil, fmt.Errorf("decode saved headers: %w", err)
			}
		}
		rec.Response = resp
	}
	return &rec, nil
}

// InsertPlaceholder reserves (ownerID, key) inside q. It reports false when
// the pair already exists. Postgres makes a concurrent insert of the same
// pair wait for the first transaction to finish before deciding.
func (r *IdempotencyRepository) InsertPlaceholder(ctx context.Context, q DBTX, ownerID uuid.UUID, key model.IdempotencyKey, now time.Time) (bool, error) {
	query := `
        INSERT INTO idempotency (owner_id, idempotency_key, created_at)
        VALUES ($1, $2, $3)
        ON CONFLICT DO NOTHING
    `
	res, err := q.ExecContext(ctx, query, ownerID, string(key), now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SaveResponse completes a placeholder. A row that already carries a
// response is left untouched.
func (r *IdempotencyRepository) SaveResponse(ctx context.Context, ownerID uuid.UUID, key model.IdempotencyKey, resp *model.SavedResponse) error {
	headers := resp.Headers
	if headers == nil {
		headers = http.Header{}
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}

	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	query := `
        UPDATE idempotency
        SET response_status_code = $3, response_headers = $4, response_body = $5
        WHERE owner_id = $1 AND idempotency_key = $2 AND response_status_code IS NULL
    `
	_, err = r.DB.ExecContext(ctx, query, ownerID, string(key), resp.StatusCode, encoded, body)
	return err
}

// DeleteCompletedBefore removes completed rows created before cutoff.
func (r *IdempotencyRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
        DELETE FROM idempotency
        WHERE created_at < $1 AND response_status_code IS NOT NULL
    `
	res, err := r.DB.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

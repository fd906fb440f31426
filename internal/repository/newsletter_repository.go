package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/model"
)

type NewsletterRepository struct {
	DB *sql.DB
}

func (r *NewsletterRepository) Insert(ctx context.Context, q DBTX, issue *model.NewsletterIssue) error {
	query := `
        INSERT INTO newsletter_issues (issue_id, title, text_content, html_content, published_at)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := q.ExecContext(ctx, query, issue.ID, issue.Title, issue.TextContent, issue.HTMLContent, issue.PublishedAt)
	return err
}

func (r *NewsletterRepository) GetByID(ctx context.Context, q DBTX, id uuid.UUID) (*model.NewsletterIssue, error) {
	if q == nil {
		q = r.DB
	}
	query := `
        SELECT issue_id, title, text_content, html_content, published_at
        FROM newsletter_issues
        WHERE issue_id = $1
    `
	var issue model.NewsletterIssue
	err := q.QueryRowContext(ctx, query, id).Scan(&issue.ID, &issue.Title, &issue.TextContent, &issue.HTMLContent, &issue.PublishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrIssueNotFound
		}
		return nil, err
	}
	return &issue, nil
}

// List returns a page of issues, newest first, with the number of
// deliveries still queued for each, plus the total number of issues.
func (r *NewsletterRepository) List(ctx context.Context, offset, limit int) ([]model.IssueSummary, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM newsletter_issues`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT n.issue_id, n.title, n.text_content, n.html_content, n.published_at, COUNT(q.subscriber_email)
        FROM newsletter_issues n
        LEFT JOIN issue_delivery_queue q ON q.issue_id = n.issue_id
        GROUP BY n.issue_id
        ORDER BY n.published_at DESC
        LIMIT $1 OFFSET $2
    `
	rows, err := r.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	summaries := []model.IssueSummary{}
	for rows.Next() {
		var s model.IssueSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.TextContent, &s.HTMLContent, &s.PublishedAt, &s.PendingDeliveries); err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, s)
	}
	return summaries, total, rows.Err()
}

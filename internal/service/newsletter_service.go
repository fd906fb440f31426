package service

import (
	"bytes"
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

// NewsletterFormPath is where a publish request is redirected to, on the
// first execution and on every replay.
const NewsletterFormPath = "/admin/newsletters"

// IssueNotifier receives a hint after an issue commits.
type IssueNotifier interface {
	IssuePublished(ctx context.Context, issueID uuid.UUID) error
}

type PublishNewsletter struct {
	OwnerID        uuid.UUID
	IdempotencyKey model.IdempotencyKey
	Draft          model.NewsletterDraft
}

type NewsletterService struct {
	Idempotency    *IdempotencyService
	NewsletterRepo repository.NewsletterRepositoryInterface
	QueueRepo      repository.DeliveryQueueRepositoryInterface
	Notifier       IssueNotifier
	Markdown       goldmark.Markdown
	Log            zerolog.Logger
	Now            func() time.Time
}

func (s *NewsletterService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Publish stores a new issue and enqueues one delivery per confirmed
// subscriber, at most once per (owner, idempotency key). The returned
// response is identical for the first execution and every replay.
func (s *NewsletterService) Publish(ctx context.Context, cmd PublishNewsletter) (*model.SavedResponse, error) {
	if err := cmd.Draft.Validate(); err != nil {
		return nil, err
	}
	key, err := model.ParseIdempotencyKey(string(cmd.IdempotencyKey))
	if err != nil {
		return nil, err
	}

	log := s.Log.With().Stringer("owner_id", cmd.OwnerID).Str("idempotency_key", string(key)).Logger()
	response := model.SeeOther(NewsletterFormPath)

	res, err := s.Idempotency.ReserveOrFetch(ctx, cmd.OwnerID, key, response)
	if err != nil {
		return nil, err
	}
	if res.Cached != nil {
		log.Info().Msg("replaying saved publish response")
		return res.Cached, nil
	}

	issue, err := s.buildIssue(cmd.Draft)
	if err != nil {
		_ = res.Tx.Rollback()
		return nil, err
	}

	queued, err := s.insertIssue(ctx, res.Tx, issue)
	if err != nil {
		_ = res.Tx.Rollback()
		return nil, err
	}
	if err := res.Tx.Commit(); err != nil {
		return nil, appErrors.NewTransaction("commit publish transaction", err)
	}

	log = log.With().Stringer("issue_id", issue.ID).Logger()
	log.Info().Int64("queued", queued).Msg("✅ Newsletter issue published")

	// The issue is committed from here on; nothing below may fail the request.
	if err := s.Idempotency.SaveResponse(ctx, cmd.OwnerID, key, response); err != nil {
		log.Error().Err(err).Msg("failed to save idempotent response")
	}
	if s.Notifier != nil {
		if err := s.Notifier.IssuePublished(ctx, issue.ID); err != nil {
			log.Warn().Err(err).Msg("⚠️ failed to announce published issue")
		}
	}
	return response, nil
}

func (s *NewsletterService) insertIssue(ctx context.Context, tx repository.Tx, issue *model.NewsletterIssue) (int64, error) {
	if err := s.NewsletterRepo.Insert(ctx, tx, issue); err != nil {
		return 0, appErrors.NewTransaction("insert newsletter issue", err)
	}
	queued, err := s.QueueRepo.EnqueueForConfirmed(ctx, tx, issue.ID, issue.PublishedAt)
	if err != nil {
		return 0, appErrors.NewTransaction("enqueue delivery tasks", err)
	}
	return queued, nil
}

// buildIssue renders the HTML body from the Markdown text body when the
// draft carries none.
func (s *NewsletterService) buildIssue(d model.NewsletterDraft) (*model.NewsletterIssue, error) {
	html := d.HTMLContent
	if html == "" {
		md := s.Markdown
		if md == nil {
			md = goldmark.New()
		}
		var buf bytes.Buffer
		if err := md.Convert([]byte(d.TextContent), &buf); err != nil {
			return nil, appErrors.NewValidation("text_content", "cannot be rendered: "+err.Error())
		}
		html = buf.String()
	}

	return &model.NewsletterIssue{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(d.Title),
		TextContent: d.TextContent,
		HTMLContent: html,
		PublishedAt: s.now(),
	}, nil
}

// RecentIssues lists the newest issues with their remaining queue depth.
func (s *NewsletterService) RecentIssues(ctx context.Context, limit int) ([]model.IssueSummary, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = 10
	}
	issues, _, err := s.NewsletterRepo.List(ctx, 0, limit)
	return issues, err
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListIssues fetches issues with pagination. Out-of-range page arguments
// are clamped.
func (s *NewsletterService) ListIssues(ctx context.Context, page, pageSize int) ([]model.IssueSummary, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	// Pages beyond the addressable range are empty rather than wrapping.
	offset := math.MaxInt
	if page-1 <= math.MaxInt/pageSize {
		offset = (page - 1) * pageSize
	}

	issues, total, err := s.NewsletterRepo.List(ctx, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}

	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
	return issues, pagination, nil
}

// IssueDetails returns one issue with the number of deliveries still queued.
func (s *NewsletterService) IssueDetails(ctx context.Context, id uuid.UUID) (*model.IssueSummary, error) {
	issue, err := s.NewsletterRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	pending, err := s.QueueRepo.CountPending(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.IssueSummary{NewsletterIssue: *issue, PendingDeliveries: pending}, nil
}

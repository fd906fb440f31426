package service_test

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/newsletter-service/internal/email"
	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

var errNoSQL = errors.New("memdb: raw SQL is not supported")

type idemKey struct {
	owner uuid.UUID
	key   model.IdempotencyKey
}

// memDB is an in-memory stand-in for Postgres. Writes made through a memTx
// are staged and become visible on Commit. Placeholder inserts on the same
// key wait for the owning transaction, and locked queue rows are skipped by
// other transactions.
type memDB struct {
	mu   sync.Mutex
	cond *sync.Cond

	idem        map[idemKey]*model.IdempotencyRecord
	idemPending map[idemKey]*memTx
	issues      map[uuid.UUID]model.NewsletterIssue
	queue       map[model.DeliveryTaskKey]model.DeliveryTask
	locked      map[model.DeliveryTaskKey]*memTx
	subscribers map[string]*model.Subscriber
	tokens      map[string]uuid.UUID
	users       map[uuid.UUID]*model.User

	writes int

	insertIssueErr error
	enqueueErr     error
	saveErr        error
}

func newMemDB() *memDB {
	db := &memDB{
		idem:        make(map[idemKey]*model.IdempotencyRecord),
		idemPending: make(map[idemKey]*memTx),
		issues:      make(map[uuid.UUID]model.NewsletterIssue),
		queue:       make(map[model.DeliveryTaskKey]model.DeliveryTask),
		locked:      make(map[model.DeliveryTaskKey]*memTx),
		subscribers: make(map[string]*model.Subscriber),
		tokens:      make(map[string]uuid.UUID),
		users:       make(map[uuid.UUID]*model.User),
	}
	db.cond = sync.NewCond(&db.mu)
	return db
}

func (db *memDB) begin() *memTx {
	return &memTx{db: db}
}

func (db *memDB) addSubscriber(address, status string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.subscribers[address] = &model.Subscriber{
		ID: uuid.New(), Email: address, Name: address, Status: status, SubscribedAt: time.Now(),
	}
}

func (db *memDB) issueCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.issues)
}

func (db *memDB) writeCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.writes
}

func (db *memDB) tasks() []model.DeliveryTask {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]model.DeliveryTask, 0, len(db.queue))
	for _, t := range db.queue {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriberEmail < out[j].SubscriberEmail })
	return out
}

func (db *memDB) tasksFor(issueID uuid.UUID) []model.DeliveryTask {
	var out []model.DeliveryTask
	for _, t := range db.tasks() {
		if t.IssueID == issueID {
			out = append(out, t)
		}
	}
	return out
}

func (db *memDB) onlyIssue() model.NewsletterIssue {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, issue := range db.issues {
		return issue
	}
	return model.NewsletterIssue{}
}

type memTx struct {
	db   *memDB
	ops  []func()
	done bool
}

func (tx *memTx) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errNoSQL
}

func (tx *memTx) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errNoSQL
}

func (tx *memTx) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

// stage must be called with db.mu held.
func (tx *memTx) stage(op func()) {
	tx.ops = append(tx.ops, op)
}

func (tx *memTx) Commit() error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if tx.done {
		return sql.ErrTxDone
	}
	for _, op := range tx.ops {
		op()
		tx.db.writes++
	}
	tx.release()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if tx.done {
		return sql.ErrTxDone
	}
	tx.release()
	return nil
}

func (tx *memTx) release() {
	tx.done = true
	for k, owner := range tx.db.idemPending {
		if owner == tx {
			delete(tx.db.idemPending, k)
		}
	}
	for k, owner := range tx.db.locked {
		if owner == tx {
			delete(tx.db.locked, k)
		}
	}
	tx.db.cond.Broadcast()
}

func asTx(q repository.DBTX) *memTx {
	tx, ok := q.(*memTx)
	if !ok {
		panic("memdb: writes must go through a memTx")
	}
	return tx
}

// idempotency

type fakeIdempotencyRepo struct{ db *memDB }

func (r *fakeIdempotencyRepo) Begin(context.Context) (repository.Tx, error) {
	return r.db.begin(), nil
}

func (r *fakeIdempotencyRepo) Get(_ context.Context, owner uuid.UUID, key model.IdempotencyKey) (*model.IdempotencyRecord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rec, ok := r.db.idem[idemKey{owner, key}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	if rec.Response != nil {
		resp := cloneResponse(rec.Response)
		cp.Response = resp
	}
	return &cp, nil
}

func (r *fakeIdempotencyRepo) InsertPlaceholder(_ context.Context, q repository.DBTX, owner uuid.UUID, key model.IdempotencyKey, now time.Time) (bool, error) {
	tx := asTx(q)
	k := idemKey{owner, key}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for {
		if _, ok := r.db.idem[k]; ok {
			return false, nil
		}
		holder, busy := r.db.idemPending[k]
		if !busy || holder == tx {
			break
		}
		r.db.cond.Wait()
	}

	r.db.idemPending[k] = tx
	tx.stage(func() {
		r.db.idem[k] = &model.IdempotencyRecord{OwnerID: owner, Key: key, CreatedAt: now}
	})
	return true, nil
}

func (r *fakeIdempotencyRepo) SaveResponse(_ context.Context, owner uuid.UUID, key model.IdempotencyKey, resp *model.SavedResponse) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.saveErr != nil {
		return r.db.saveErr
	}
	rec, ok := r.db.idem[idemKey{owner, key}]
	if !ok || rec.Response != nil {
		return nil
	}
	rec.Response = cloneResponse(resp)
	r.db.writes++
	return nil
}

func (r *fakeIdempotencyRepo) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for k, rec := range r.db.idem {
		if rec.Response != nil && rec.CreatedAt.Before(cutoff) {
			delete(r.db.idem, k)
			n++
		}
	}
	return n, nil
}

func cloneResponse(r *model.SavedResponse) *model.SavedResponse {
	return &model.SavedResponse{
		StatusCode: r.StatusCode,
		Headers:    http.Header(r.Headers).Clone(),
		Body:       append([]byte(nil), r.Body...),
	}
}

// newsletters

type fakeNewsletterRepo struct{ db *memDB }

func (r *fakeNewsletterRepo) Insert(_ context.Context, q repository.DBTX, issue *model.NewsletterIssue) error {
	tx := asTx(q)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.insertIssueErr != nil {
		return r.db.insertIssueErr
	}
	cp := *issue
	tx.stage(func() { r.db.issues[cp.ID] = cp })
	return nil
}

func (r *fakeNewsletterRepo) GetByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*model.NewsletterIssue, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	issue, ok := r.db.issues[id]
	if !ok {
		return nil, appErrors.ErrIssueNotFound
	}
	return &issue, nil
}

func (r *fakeNewsletterRepo) List(_ context.Context, offset, limit int) ([]model.IssueSummary, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []model.IssueSummary{}
	for _, issue := range r.db.issues {
		pending := 0
		for k := range r.db.queue {
			if k.IssueID == issue.ID {
				pending++
			}
		}
		out = append(out, model.IssueSummary{NewsletterIssue: issue, PendingDeliveries: pending})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	total := len(out)
	if offset >= total {
		return []model.IssueSummary{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

// delivery queue

type fakeQueueRepo struct{ db *memDB }

func (r *fakeQueueRepo) Begin(context.Context) (repository.Tx, error) {
	return r.db.begin(), nil
}

func (r *fakeQueueRepo) EnqueueForConfirmed(_ context.Context, q repository.DBTX, issueID uuid.UUID, at time.Time) (int64, error) {
	tx := asTx(q)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.enqueueErr != nil {
		return 0, r.db.enqueueErr
	}

	var n int64
	for address, s := range r.db.subscribers {
		if s.Status != model.SubscriberConfirmed {
			continue
		}
		task := model.DeliveryTask{IssueID: issueID, SubscriberEmail: address, ExecuteAfter: at}
		if _, exists := r.db.queue[task.Key()]; exists {
			continue
		}
		n++
		tx.stage(func() {
			if _, exists := r.db.queue[task.Key()]; !exists {
				r.db.queue[task.Key()] = task
			}
		})
	}
	return n, nil
}

func (r *fakeQueueRepo) DequeueNext(_ context.Context, q repository.DBTX, now time.Time) (*model.DeliveryTask, error) {
	tx := asTx(q)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var candidates []model.DeliveryTask
	for k, t := range r.db.queue {
		if now.Before(t.ExecuteAfter) {
			continue
		}
		if holder, locked := r.db.locked[k]; locked && holder != tx {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ExecuteAfter.Equal(candidates[j].ExecuteAfter) {
			return candidates[i].ExecuteAfter.Before(candidates[j].ExecuteAfter)
		}
		return candidates[i].SubscriberEmail < candidates[j].SubscriberEmail
	})

	task := candidates[0]
	r.db.locked[task.Key()] = tx
	return &task, nil
}

func (r *fakeQueueRepo) Delete(_ context.Context, q repository.DBTX, key model.DeliveryTaskKey) error {
	tx := asTx(q)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	tx.stage(func() { delete(r.db.queue, key) })
	return nil
}

func (r *fakeQueueRepo) Reschedule(_ context.Context, q repository.DBTX, key model.DeliveryTaskKey, nRetries int, at time.Time) error {
	tx := asTx(q)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	tx.stage(func() {
		if t, ok := r.db.queue[key]; ok {
			t.NRetries = nRetries
			t.ExecuteAfter = at
			r.db.queue[key] = t
		}
	})
	return nil
}

func (r *fakeQueueRepo) CountPending(_ context.Context, issueID uuid.UUID) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for k := range r.db.queue {
		if k.IssueID == issueID {
			n++
		}
	}
	return n, nil
}

// subscribers

type fakeSubscriberRepo struct{ db *memDB }

func (r *fakeSubscriberRepo) Begin(context.Context) (repository.Tx, error) {
	return r.db.begin(), nil
}

func (r *fakeSubscriberRepo) GetByEmail(_ context.Context, _ repository.DBTX, address string) (*model.Subscriber, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.subscribers[address]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSubscriberRepo) Insert(_ context.Context, q repository.DBTX, s *model.Subscriber) error {
	tx := asTx(q)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, exists := r.db.subscribers[s.Email]; exists {
		return repository.ErrSubscriberExists
	}
	cp := *s
	tx.stage(func() { r.db.subscribers[cp.Email] = &cp })
	return nil
}

func (r *fakeSubscriberRepo) StoreToken(_ context.Context, q repository.DBTX, id uuid.UUID, token string) error {
	tx := asTx(q)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	tx.stage(func() { r.db.tokens[token] = id })
	return nil
}

func (r *fakeSubscriberRepo) SubscriberIDByToken(_ context.Context, token string) (uuid.UUID, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	id, ok := r.db.tokens[token]
	if !ok {
		return uuid.Nil, appErrors.ErrUnknownSubscriptionToken
	}
	return id, nil
}

func (r *fakeSubscriberRepo) Confirm(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.subscribers {
		if s.ID == id {
			s.Status = model.SubscriberConfirmed
			r.db.writes++
		}
	}
	return nil
}

func (r *fakeSubscriberRepo) CountByStatus(context.Context) (map[string]int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stats := map[string]int{model.SubscriberPendingConfirmation: 0, model.SubscriberConfirmed: 0}
	for _, s := range r.db.subscribers {
		stats[s.Status]++
	}
	return stats, nil
}

// users

type fakeUserRepo struct{ db *memDB }

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if u, ok := r.db.users[id]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func (r *fakeUserRepo) Upsert(_ context.Context, u *model.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *u
	r.db.users[u.ID] = &cp
	return nil
}

var (
	_ repository.IdempotencyRepositoryInterface   = (*fakeIdempotencyRepo)(nil)
	_ repository.NewsletterRepositoryInterface    = (*fakeNewsletterRepo)(nil)
	_ repository.DeliveryQueueRepositoryInterface = (*fakeQueueRepo)(nil)
	_ repository.SubscriberRepositoryInterface    = (*fakeSubscriberRepo)(nil)
	_ repository.UserRepositoryInterface          = (*fakeUserRepo)(nil)
	_ repository.Tx                               = (*memTx)(nil)
)

// scriptedSender fails each address with the queued errors, then succeeds.
type scriptedSender struct {
	mu       sync.Mutex
	script   map[string][]error
	attempts map[string]int
	sent     []email.Message
	delay    time.Duration
}

func newScriptedSender() *scriptedSender {
	return &scriptedSender{script: map[string][]error{}, attempts: map[string]int{}}
}

func (s *scriptedSender) failWith(address string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[address] = append(s.script[address], errs...)
}

func (s *scriptedSender) Send(_ context.Context, msg email.Message) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[msg.To]++
	if queued := s.script[msg.To]; len(queued) > 0 {
		s.script[msg.To] = queued[1:]
		if queued[0] != nil {
			return queued[0]
		}
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *scriptedSender) attemptsFor(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[address]
}

func (s *scriptedSender) deliveredTo(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.sent {
		if m.To == address {
			n++
		}
	}
	return n
}

func (s *scriptedSender) deliveredTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

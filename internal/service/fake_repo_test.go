package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rms/reimburse/internal/directory"
	"github.com/rms/reimburse/internal/domain/model"
	"github.com/rms/reimburse/internal/repository"
)

// fakeClaimRepo — репозиторий заявок в памяти для юнит-тестов сервисов.
// Повторяет семантику условных UPDATE: переход из чужого статуса
// возвращает false, перечитывание отдаёт копию.
type fakeClaimRepo struct {
	mu       sync.Mutex
	claims   map[string]*model.Claim
	receipts map[string]*repository.Receipt

	// lastRange — аргументы последнего вызова ListByCreatedRange
	lastRange struct {
		from     time.Time
		before   time.Time
		statuses []string
	}
}

func newFakeClaimRepo() *fakeClaimRepo {
	return &fakeClaimRepo{
		claims:   make(map[string]*model.Claim),
		receipts: make(map[string]*repository.Receipt),
	}
}

func (f *fakeClaimRepo) put(c *model.Claim) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.claims[c.ID] = &cp
}

func (f *fakeClaimRepo) Create(ctx context.Context, c *model.Claim) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.claims[c.ID]; ok {
		return repository.ErrConflict
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	f.claims[c.ID] = &cp
	return nil
}

func (f *fakeClaimRepo) CreateBatch(ctx context.Context, claims []*model.Claim) error {
	for _, c := range claims {
		if err := f.Create(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeClaimRepo) GetByID(ctx context.Context, id string) (*model.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeClaimRepo) GetByIDAndOwner(ctx context.Context, id string, ownerID int64) (*model.Claim, error) {
	c, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeClaimRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.claims[id]
	return ok, nil
}

func (f *fakeClaimRepo) ListByOwnerAndStatuses(ctx context.Context, ownerID int64, statuses []string) ([]*model.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*model.Claim
	for _, c := range f.claims {
		if c.OwnerID == ownerID && want[c.Status] {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (f *fakeClaimRepo) ListRecallActiveByOwner(ctx context.Context, ownerID int64) ([]*model.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Claim
	for _, c := range f.claims {
		if c.OwnerID == ownerID && c.RecallActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (f *fakeClaimRepo) ListAdmin(ctx context.Context, filters repository.AdminListFilters, orderBy string, desc bool, limit, offset int) ([]*model.Claim, error) {
	all := f.filterAdmin(filters)
	sortByCreatedDesc(all)
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f *fakeClaimRepo) CountAdmin(ctx context.Context, filters repository.AdminListFilters) (int, error) {
	return len(f.filterAdmin(filters)), nil
}

func (f *fakeClaimRepo) filterAdmin(filters repository.AdminListFilters) []*model.Claim {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Claim
	for _, c := range f.claims {
		if filters.Status != nil && c.Status != *filters.Status {
			continue
		}
		if filters.Email != nil && !strings.Contains(strings.ToLower(c.OwnerEmail), strings.ToLower(*filters.Email)) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out
}

func (f *fakeClaimRepo) ListByCreatedRange(ctx context.Context, from, before time.Time, statuses []string) ([]*model.Claim, error) {
	f.mu.Lock()
	f.lastRange.from = from
	f.lastRange.before = before
	f.lastRange.statuses = statuses
	f.mu.Unlock()

	want := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Claim
	for _, c := range f.claims {
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(before) {
			continue
		}
		if len(statuses) > 0 && !want[c.Status] {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (f *fakeClaimRepo) Approve(ctx context.Context, id string) (bool, error) {
	return f.transition(id, model.StatusPending, func(c *model.Claim) {
		c.Status = model.StatusApproved
	})
}

func (f *fakeClaimRepo) Reject(ctx context.Context, id, adminComment string) (bool, error) {
	return f.transition(id, model.StatusPending, func(c *model.Claim) {
		c.Status = model.StatusRejected
		c.AdminComment = adminComment
	})
}

func (f *fakeClaimRepo) StartRecall(ctx context.Context, id, reason string, requireAttachment bool) (bool, error) {
	return f.transition(id, model.StatusPending, func(c *model.Claim) {
		now := time.Now().UTC()
		c.Status = model.StatusRecalled
		c.RecallActive = true
		c.RecallReason = reason
		c.RecallRequireAttachment = requireAttachment
		c.RecalledAt = &now
		c.ResubmitComment = ""
	})
}

func (f *fakeClaimRepo) RequestAttachment(ctx context.Context, id, note string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok || c.Status != model.StatusRecalled || !c.RecallActive {
		return false, nil
	}
	c.RecallRequireAttachment = true
	c.RecallReason = note
	c.AdminComment = note
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (f *fakeClaimRepo) CancelRecall(ctx context.Context, id string) (bool, error) {
	return f.transition(id, model.StatusRecalled, func(c *model.Claim) {
		now := time.Now().UTC()
		c.Status = model.StatusPending
		c.RecallActive = false
		c.RecallReason = ""
		c.RecallRequireAttachment = false
		c.ResubmittedAt = &now
	})
}

func (f *fakeClaimRepo) Resubmit(ctx context.Context, id, comment string, receipt *repository.Receipt) (bool, error) {
	ok, err := f.transition(id, model.StatusRecalled, func(c *model.Claim) {
		now := time.Now().UTC()
		c.Status = model.StatusPending
		c.RecallActive = false
		c.RecallReason = ""
		c.RecallRequireAttachment = false
		c.ResubmitComment = comment
		c.ResubmittedAt = &now
		if receipt != nil {
			c.ReceiptFilename = receipt.Filename
			c.ReceiptContentType = receipt.ContentType
			c.ReceiptSize = receipt.Size
		}
	})
	if ok && receipt != nil {
		f.mu.Lock()
		f.receipts[id] = receipt
		f.mu.Unlock()
	}
	return ok, err
}

func (f *fakeClaimRepo) UpdateDuringRecall(ctx context.Context, c *model.Claim, clearRecall bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.claims[c.ID]
	if !ok || cur.Status != model.StatusRecalled {
		return false, nil
	}
	cur.Title = c.Title
	cur.Description = c.Description
	cur.ClaimType = c.ClaimType
	cur.ClaimDate = c.ClaimDate
	cur.AmountCents = c.AmountCents
	cur.CurrencyCode = c.CurrencyCode
	if clearRecall {
		cur.Status = model.StatusPending
		cur.RecallActive = false
		cur.RecallReason = ""
		cur.RecallRequireAttachment = false
	}
	cur.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (f *fakeClaimRepo) SetChangeRequest(ctx context.Context, id, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	c.ResubmitComment = comment
	c.ResubmittedAt = &now
	return nil
}

func (f *fakeClaimRepo) StoreReceipt(ctx context.Context, id string, receipt *repository.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.ReceiptFilename = receipt.Filename
	c.ReceiptContentType = receipt.ContentType
	c.ReceiptSize = receipt.Size
	f.receipts[id] = receipt
	return nil
}

func (f *fakeClaimRepo) GetReceipt(ctx context.Context, id string) (*repository.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.receipts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

// transition выполняет условный переход: действие применяется только
// при совпадении текущего статуса.
func (f *fakeClaimRepo) transition(id, fromStatus string, apply func(*model.Claim)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok || c.Status != fromStatus {
		return false, nil
	}
	apply(c)
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func sortByCreatedDesc(claims []*model.Claim) {
	sort.Slice(claims, func(i, j int) bool {
		return claims[i].CreatedAt.After(claims[j].CreatedAt)
	})
}

// fakeDirectory — справочник пользователей в памяти.
type fakeDirectory struct {
	users map[int64]*directory.UserInfo
	err   error
}

func (f *fakeDirectory) Lookup(ctx context.Context, userID int64) (*directory.UserInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return info, nil
}

// capturePublisher накапливает опубликованные события.
type capturePublisher struct {
	mu     sync.Mutex
	events []model.ClaimEvent
}

func (p *capturePublisher) Publish(ev model.ClaimEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) all() []model.ClaimEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.ClaimEvent, len(p.events))
	copy(out, p.events)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

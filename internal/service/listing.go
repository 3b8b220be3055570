// listing.go — сервис списков заявок.
//
// Списки владельца считаются в памяти поверх полной выборки по
// статусу (контракт фронтенда: 1-базная нумерация страниц, поля
// content/page/size/total/totalPages). Административные списки
// постранично считает база (0-базная нумерация, LIMIT/OFFSET).
package service

import (
	"context"
	"log/slog"

	"github.com/rms/reimburse/internal/domain/authz"
	"github.com/rms/reimburse/internal/domain/lifecycle"
	"github.com/rms/reimburse/internal/domain/model"
	"github.com/rms/reimburse/internal/repository"
)

// Границы размера страницы.
const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// ownerStatusSets — наборы статусов для списков владельца.
// "closed" — объединение APPROVED и REJECTED одной выборкой,
// отсортированной по created_at DESC.
var ownerStatusSets = map[string][]string{
	"pending":  {model.StatusPending},
	"approved": {model.StatusApproved},
	"rejected": {model.StatusRejected},
	"closed":   {model.StatusApproved, model.StatusRejected},
}

// sortColumns — allow-list полей сортировки административных списков.
// Поле вне списка молча заменяется на значение по умолчанию
// (id DESC) — осознанный fail open, а не ошибка валидации.
var sortColumns = map[string]string{
	"id":          "id",
	"createdAt":   "created_at",
	"amountCents": "amount_cents",
}

// OwnerPage — страница списка владельца (1-базная нумерация).
type OwnerPage struct {
	Content    []*model.Claim
	Page       int
	Size       int
	Total      int
	TotalPages int
}

// AdminPage — страница административного списка (0-базная нумерация).
type AdminPage struct {
	Items []*model.Claim
	Page  int
	Size  int
	Total int
}

// AdminListOptions — параметры административного списка.
type AdminListOptions struct {
	Page      int
	Size      int
	SortField string
	SortDesc  bool
	// Email — фильтр по email владельца (подстрока)
	Email string
}

// ListingService — запросы списков заявок.
type ListingService struct {
	claims repository.ClaimRepository
	logger *slog.Logger
}

// NewListingService создаёт сервис списков.
func NewListingService(claims repository.ClaimRepository, logger *slog.Logger) *ListingService {
	return &ListingService{
		claims: claims,
		logger: logger.With(slog.String("component", "listing")),
	}
}

// ListOwner возвращает страницу заявок владельца по ключу статуса
// (pending, approved, rejected, closed).
func (s *ListingService) ListOwner(ctx context.Context, actor authz.Actor, statusKey string, page, size int) (*OwnerPage, error) {
	if !authz.Allowed(actor, lifecycle.OpListOwn, 0) {
		return nil, ErrForbidden
	}

	statuses, ok := ownerStatusSets[statusKey]
	if !ok {
		return nil, ValidationErrors{{Field: "status", Message: "недопустимый ключ статуса: " + statusKey}}
	}

	all, err := s.claims.ListByOwnerAndStatuses(ctx, actor.UserID, statuses)
	if err != nil {
		return nil, err
	}

	return paginateOwner(all, page, size), nil
}

// ListOwnerRecall возвращает отозванные заявки владельца без пагинации.
func (s *ListingService) ListOwnerRecall(ctx context.Context, actor authz.Actor) ([]*model.Claim, error) {
	if !authz.Allowed(actor, lifecycle.OpListOwn, 0) {
		return nil, ErrForbidden
	}
	return s.claims.ListRecallActiveByOwner(ctx, actor.UserID)
}

// ListAdmin возвращает страницу заявок указанного статуса для
// администратора. Поле сортировки санируется по allow-list,
// размер страницы зажимается в [1, 100], номер страницы ≥ 0.
func (s *ListingService) ListAdmin(ctx context.Context, actor authz.Actor, status string, opts AdminListOptions) (*AdminPage, error) {
	if !authz.Allowed(actor, lifecycle.OpListAll, 0) {
		return nil, ErrForbidden
	}
	if !model.ValidStatuses[status] {
		return nil, ValidationErrors{{Field: "status", Message: "недопустимый статус: " + status}}
	}

	page := opts.Page
	if page < 0 {
		page = 0
	}
	size := clampPageSize(opts.Size)

	orderBy, desc := sanitizeSort(opts.SortField, opts.SortDesc)

	filters := repository.AdminListFilters{Status: &status}
	if opts.Email != "" {
		filters.Email = &opts.Email
	}

	items, err := s.claims.ListAdmin(ctx, filters, orderBy, desc, size, page*size)
	if err != nil {
		return nil, err
	}
	total, err := s.claims.CountAdmin(ctx, filters)
	if err != nil {
		return nil, err
	}

	return &AdminPage{
		Items: items,
		Page:  page,
		Size:  size,
		Total: total,
	}, nil
}

// paginateOwner режет полную выборку на страницы (1-базная нумерация).
func paginateOwner(all []*model.Claim, page, size int) *OwnerPage {
	if page < 1 {
		page = 1
	}
	size = clampPageSize(size)

	total := len(all)
	totalPages := (total + size - 1) / size
	if totalPages == 0 {
		totalPages = 1
	}

	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	return &OwnerPage{
		Content:    all[start:end],
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: totalPages,
	}
}

// clampPageSize зажимает размер страницы в [1, 100].
// Ноль и отрицательные значения — размер по умолчанию.
func clampPageSize(size int) int {
	if size <= 0 {
		return defaultPageSize
	}
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}

// sanitizeSort отображает поле сортировки на колонку по allow-list.
// Неизвестное или пустое поле — id DESC.
func sanitizeSort(field string, desc bool) (string, bool) {
	col, ok := sortColumns[field]
	if !ok {
		return "id", true
	}
	return col, desc
}

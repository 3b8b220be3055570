// claims.go — движок жизненного цикла заявок на возмещение.
//
// Каждая операция — одна атомарная единица работы: проверка прав,
// проверка перехода и запись выполняются в рамках одного условного
// UPDATE (перепроверка статуса на момент записи закрывает гонку
// двух параллельных approve/reject). События публикуются только
// после фиксации записи.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rms/reimburse/internal/directory"
	"github.com/rms/reimburse/internal/domain/authz"
	"github.com/rms/reimburse/internal/domain/lifecycle"
	"github.com/rms/reimburse/internal/domain/model"
	"github.com/rms/reimburse/internal/repository"
	"github.com/rms/reimburse/internal/vault"
)

// Prometheus-метрики движка жизненного цикла.
var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rms_claim_transitions_total",
		Help: "Количество успешных переходов статусов заявок",
	}, []string{"operation"})

	claimsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rms_claims_created_total",
		Help: "Количество созданных заявок",
	})
)

// titleMaxLen — потолок длины названия заявки в символах.
const titleMaxLen = 140

// CreateClaimInput — данные одной заявки при пакетном создании.
type CreateClaimInput struct {
	Title        string
	Description  string
	ClaimType    string
	ClaimDate    *time.Time
	AmountCents  int64
	CurrencyCode string
	// ReceiptURL — внешняя ссылка на чек (опционально)
	ReceiptURL string
}

// UpdateClaimInput — правки владельца по отозванной заявке.
// Применяются только переданные поля.
type UpdateClaimInput struct {
	Title        *string
	Description  *string
	ClaimType    *string
	ClaimDate    *time.Time
	AmountCents  *int64
	CurrencyCode *string
}

// ReceiptUpload — кандидат на загрузку чека.
type ReceiptUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ClaimService — движок жизненного цикла заявок.
type ClaimService struct {
	claims repository.ClaimRepository
	vault  *vault.Vault
	users  directory.UserDirectory // nil — справочник не настроен
	events EventPublisher
	logger *slog.Logger
}

// NewClaimService создаёт движок жизненного цикла.
func NewClaimService(
	claims repository.ClaimRepository,
	receiptVault *vault.Vault,
	users directory.UserDirectory,
	events EventPublisher,
	logger *slog.Logger,
) *ClaimService {
	return &ClaimService{
		claims: claims,
		vault:  receiptVault,
		users:  users,
		events: events,
		logger: logger.With(slog.String("component", "claims")),
	}
}

// CreateClaims создаёт пакет заявок в одной транзакции.
// Все заявки получают статус PENDING и снимок данных владельца.
// Любая невалидная заявка отклоняет весь пакет.
func (s *ClaimService) CreateClaims(ctx context.Context, actor authz.Actor, inputs []CreateClaimInput) ([]*model.Claim, error) {
	if !authz.Allowed(actor, lifecycle.OpCreate, 0) {
		return nil, ErrForbidden
	}

	if len(inputs) == 0 {
		return nil, ValidationErrors{{Field: "claims", Message: "пустой список заявок"}}
	}

	var verrs ValidationErrors
	for i, in := range inputs {
		verrs = append(verrs, validateCreate(i, in)...)
	}
	if len(verrs) > 0 {
		return nil, verrs
	}

	// Снимок данных владельца: один lookup на пакет.
	// Недоступность справочника не блокирует создание.
	ownerEmail, ownerName, ownerDesignation := s.lookupOwner(ctx, actor.UserID)

	created := make([]*model.Claim, 0, len(inputs))
	for _, in := range inputs {
		created = append(created, &model.Claim{
			ID:               uuid.New().String(),
			OwnerID:          actor.UserID,
			OwnerEmail:       ownerEmail,
			OwnerName:        ownerName,
			OwnerDesignation: ownerDesignation,
			Title:            strings.TrimSpace(in.Title),
			Description:      in.Description,
			ClaimType:        in.ClaimType,
			ClaimDate:        in.ClaimDate,
			AmountCents:      in.AmountCents,
			CurrencyCode:     in.CurrencyCode,
			Status:           model.StatusPending,
			ReceiptURL:       in.ReceiptURL,
		})
	}

	// Пакет атомарен: любая ошибка откатывает все вставки
	if err := s.claims.CreateBatch(ctx, created); err != nil {
		return nil, err
	}

	claimsCreated.Add(float64(len(created)))
	for _, c := range created {
		s.publish(model.EventClaimCreated, c)
	}

	s.logger.Info("Заявки созданы",
		slog.Int64("owner_id", actor.UserID),
		slog.Int("count", len(created)),
	)
	return created, nil
}

// Get возвращает заявку для просмотра.
func (s *ClaimService) Get(ctx context.Context, actor authz.Actor, id string) (*model.Claim, error) {
	return s.fetchForActor(ctx, actor, lifecycle.OpView, id)
}

// Approve согласует заявку: PENDING → APPROVED.
func (s *ClaimService) Approve(ctx context.Context, actor authz.Actor, id string) (*model.Claim, error) {
	if !authz.Allowed(actor, lifecycle.OpApprove, 0) {
		return nil, ErrForbidden
	}

	ok, err := s.claims.Approve(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionFailure(ctx, lifecycle.OpApprove, id)
	}

	return s.finishTransition(ctx, lifecycle.OpApprove, id, model.EventClaimApproved)
}

// Reject отклоняет заявку: PENDING → REJECTED.
// Комментарий администратора обязателен.
func (s *ClaimService) Reject(ctx context.Context, actor authz.Actor, id, adminComment string) (*model.Claim, error) {
	if !authz.Allowed(actor, lifecycle.OpReject, 0) {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(adminComment) == "" {
		return nil, ValidationErrors{{Field: "adminComment", Message: "комментарий обязателен при отклонении"}}
	}

	ok, err := s.claims.Reject(ctx, id, adminComment)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionFailure(ctx, lifecycle.OpReject, id)
	}

	return s.finishTransition(ctx, lifecycle.OpReject, id, model.EventClaimRejected)
}

// StartRecall отзывает заявку на доработку: PENDING → RECALLED.
func (s *ClaimService) StartRecall(ctx context.Context, actor authz.Actor, id, reason string, requireAttachment bool) (*model.Claim, error) {
	if !authz.Allowed(actor, lifecycle.OpStartRecall, 0) {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ValidationErrors{{Field: "reason", Message: "причина отзыва обязательна"}}
	}

	ok, err := s.claims.StartRecall(ctx, id, reason, requireAttachment)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionFailure(ctx, lifecycle.OpStartRecall, id)
	}

	return s.finishTransition(ctx, lifecycle.OpStartRecall, id, model.EventClaimRecalled)
}

// RequestAttachment уточняет активный отзыв: требует приложить чек.
// Статус не меняется, заявка остаётся в RECALLED.
func (s *ClaimService) RequestAttachment(ctx context.Context, actor authz.Actor, id, note string) (*model.Claim, error) {
	if !authz.Allowed(actor, lifecycle.OpRequestAttachment, 0) {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(note) == "" {
		return nil, ValidationErrors{{Field: "note", Message: "текст запроса обязателен"}}
	}

	ok, err := s.claims.RequestAttachment(ctx, id, note)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionFailure(ctx, lifecycle.OpRequestAttachment, id)
	}

	return s.finishTransition(ctx, lifecycle.OpRequestAttachment, id, "")
}

// CancelRecall снимает отзыв: RECALLED → PENDING, поля отзыва очищаются.
func (s *ClaimService) CancelRecall(ctx context.Context, actor authz.Actor, id string) (*model.Claim, error) {
	if !authz.Allowed(actor, lifecycle.OpCancelRecall, 0) {
		return nil, ErrForbidden
	}

	ok, err := s.claims.CancelRecall(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionFailure(ctx, lifecycle.OpCancelRecall, id)
	}

	return s.finishTransition(ctx, lifecycle.OpCancelRecall, id, "")
}

// Resubmit — повторная подача владельцем после отзыва: RECALLED → PENDING.
// Если отзыв не активен, операция — no-op: заявка возвращается без изменений.
// Новый чек (опционально) валидируется и записывается тем же UPDATE.
func (s *ClaimService) Resubmit(ctx context.Context, actor authz.Actor, id, comment string, upload *ReceiptUpload) (*model.Claim, error) {
	c, err := s.fetchForActor(ctx, actor, lifecycle.OpResubmit, id)
	if err != nil {
		return nil, err
	}

	// no-op без активного отзыва
	if !c.RecallActive {
		return c, nil
	}

	var receipt *repository.Receipt
	if upload != nil {
		if err := vault.Validate(upload.ContentType, int64(len(upload.Data))); err != nil {
			return nil, err
		}
		receipt = &repository.Receipt{
			Filename:    upload.Filename,
			ContentType: upload.ContentType,
			Size:        int64(len(upload.Data)),
			Data:        upload.Data,
		}
	}

	ok, err := s.claims.Resubmit(ctx, id, comment, receipt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionFailure(ctx, lifecycle.OpResubmit, id)
	}

	return s.finishTransition(ctx, lifecycle.OpResubmit, id, "")
}

// UpdateDuringRecall применяет правки владельца к отозванной заявке.
// Если отзыв не требует вложения, он снимается автоматически и заявка
// возвращается в PENDING.
func (s *ClaimService) UpdateDuringRecall(ctx context.Context, actor authz.Actor, id string, in UpdateClaimInput) (*model.Claim, error) {
	c, err := s.fetchForActor(ctx, actor, lifecycle.OpUpdateDuringRecall, id)
	if err != nil {
		return nil, err
	}

	if err := lifecycle.Check(lifecycle.OpUpdateDuringRecall, c.Status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateConflict, err)
	}

	if verrs := applyUpdates(c, in); len(verrs) > 0 {
		return nil, verrs
	}

	// Если вложение больше не требуется — отзыв снимается
	clearRecall := !c.RecallRequireAttachment

	ok, err := s.claims.UpdateDuringRecall(ctx, c, clearRecall)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionFailure(ctx, lifecycle.OpUpdateDuringRecall, id)
	}

	return s.finishTransition(ctx, lifecycle.OpUpdateDuringRecall, id, "")
}

// ChangeRequest записывает обращение владельца без смены статуса:
// канал связи с администратором, а не переход.
func (s *ClaimService) ChangeRequest(ctx context.Context, actor authz.Actor, id, message string) (*model.Claim, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ValidationErrors{{Field: "message", Message: "текст обращения обязателен"}}
	}

	if _, err := s.fetchForActor(ctx, actor, lifecycle.OpChangeRequest, id); err != nil {
		return nil, err
	}

	if err := s.claims.SetChangeRequest(ctx, id, message); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return s.claims.GetByID(ctx, id)
}

// UploadReceipt сохраняет чек заявки.
func (s *ClaimService) UploadReceipt(ctx context.Context, actor authz.Actor, id string, upload *ReceiptUpload) (*model.Claim, error) {
	if _, err := s.fetchForActor(ctx, actor, lifecycle.OpUploadReceipt, id); err != nil {
		return nil, err
	}

	if err := s.vault.Store(ctx, id, upload.Filename, upload.ContentType, upload.Data); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return s.claims.GetByID(ctx, id)
}

// DownloadReceipt возвращает чек заявки с содержимым.
func (s *ClaimService) DownloadReceipt(ctx context.Context, actor authz.Actor, id string) (*repository.Receipt, error) {
	if _, err := s.fetchForActor(ctx, actor, lifecycle.OpDownloadReceipt, id); err != nil {
		return nil, err
	}
	return s.vault.Get(ctx, id)
}

// ReceiptExists отвечает о наличии чека по метаданным, без blob.
func (s *ClaimService) ReceiptExists(ctx context.Context, actor authz.Actor, id string) (bool, error) {
	c, err := s.fetchForActor(ctx, actor, lifecycle.OpDownloadReceipt, id)
	if err != nil {
		return false, err
	}
	return c.HasReceipt(), nil
}

// --- Вспомогательные методы ---

// fetchForActor загружает заявку и проверяет права актора на операцию.
// Существование заявки сообщается любому аутентифицированному актору
// (404 только когда заявки нет), содержимое чужой заявки — нет (403).
// Для USER владение проверяет сама выборка: чужая существующая
// заявка отличается от несуществующей проверкой ExistsByID.
func (s *ClaimService) fetchForActor(ctx context.Context, actor authz.Actor, op lifecycle.Operation, id string) (*model.Claim, error) {
	if actor.IsAdmin() {
		c, err := s.claims.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		if !authz.Allowed(actor, op, c.OwnerID) {
			return nil, ErrForbidden
		}
		return c, nil
	}

	c, err := s.claims.GetByIDAndOwner(ctx, id, actor.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			exists, exErr := s.claims.ExistsByID(ctx, id)
			if exErr != nil {
				return nil, exErr
			}
			if exists {
				return nil, ErrForbidden
			}
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !authz.Allowed(actor, op, c.OwnerID) {
		return nil, ErrForbidden
	}
	return c, nil
}

// transitionFailure различает причины нуля затронутых строк:
// заявки нет (404) или переход недопустим из текущего статуса (409).
func (s *ClaimService) transitionFailure(ctx context.Context, op lifecycle.Operation, id string) error {
	c, err := s.claims.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return fmt.Errorf("%w: %v", ErrStateConflict, &lifecycle.TransitionError{Op: op, Status: c.Status})
}

// finishTransition перечитывает заявку после перехода, пишет метрику
// и публикует событие (если для операции оно предусмотрено).
func (s *ClaimService) finishTransition(ctx context.Context, op lifecycle.Operation, id string, eventType model.ClaimEventType) (*model.Claim, error) {
	c, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(op)).Inc()
	if eventType != "" {
		s.publish(eventType, c)
	}

	s.logger.Info("Переход выполнен",
		slog.String("operation", string(op)),
		slog.String("claim_id", id),
		slog.String("status", c.Status),
	)
	return c, nil
}

// publish отправляет событие в очередь (если очередь настроена).
func (s *ClaimService) publish(eventType model.ClaimEventType, c *model.Claim) {
	if s.events == nil {
		return
	}
	s.events.Publish(model.ClaimEvent{
		Type:       eventType,
		Claim:      *c,
		OccurredAt: time.Now().UTC(),
	})
}

// lookupOwner запрашивает снимок данных владельца из справочника.
// Ошибка справочника логируется и не блокирует операцию.
func (s *ClaimService) lookupOwner(ctx context.Context, userID int64) (email, name, designation string) {
	if s.users == nil {
		return "", "", ""
	}
	info, err := s.users.Lookup(ctx, userID)
	if err != nil {
		s.logger.Warn("Справочник пользователей недоступен, снимок владельца пуст",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", "", ""
	}
	return info.Email, info.Name, info.Designation
}

// validateCreate проверяет одну заявку пакета.
func validateCreate(idx int, in CreateClaimInput) ValidationErrors {
	var verrs ValidationErrors
	field := func(name string) string {
		return fmt.Sprintf("claims[%d].%s", idx, name)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		verrs = append(verrs, FieldError{Field: field("title"), Message: "название обязательно"})
	} else if utf8.RuneCountInString(title) > titleMaxLen {
		verrs = append(verrs, FieldError{Field: field("title"), Message: fmt.Sprintf("название длиннее %d символов", titleMaxLen)})
	}
	if in.AmountCents <= 0 {
		verrs = append(verrs, FieldError{Field: field("amountCents"), Message: "сумма должна быть положительной"})
	}
	if strings.TrimSpace(in.CurrencyCode) == "" {
		verrs = append(verrs, FieldError{Field: field("currencyCode"), Message: "код валюты обязателен"})
	}
	if strings.TrimSpace(in.ClaimType) == "" {
		verrs = append(verrs, FieldError{Field: field("claimType"), Message: "тип расходов обязателен"})
	}
	return verrs
}

// applyUpdates применяет переданные правки к заявке с валидацией.
func applyUpdates(c *model.Claim, in UpdateClaimInput) ValidationErrors {
	var verrs ValidationErrors

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		switch {
		case title == "":
			verrs = append(verrs, FieldError{Field: "title", Message: "название не может быть пустым"})
		case utf8.RuneCountInString(title) > titleMaxLen:
			verrs = append(verrs, FieldError{Field: "title", Message: fmt.Sprintf("название длиннее %d символов", titleMaxLen)})
		default:
			c.Title = title
		}
	}
	if in.Description != nil {
		c.Description = *in.Description
	}
	if in.ClaimType != nil {
		if strings.TrimSpace(*in.ClaimType) == "" {
			verrs = append(verrs, FieldError{Field: "claimType", Message: "тип расходов не может быть пустым"})
		} else {
			c.ClaimType = *in.ClaimType
		}
	}
	if in.ClaimDate != nil {
		c.ClaimDate = in.ClaimDate
	}
	if in.AmountCents != nil {
		if *in.AmountCents <= 0 {
			verrs = append(verrs, FieldError{Field: "amountCents", Message: "сумма должна быть положительной"})
		} else {
			c.AmountCents = *in.AmountCents
		}
	}
	if in.CurrencyCode != nil {
		if strings.TrimSpace(*in.CurrencyCode) == "" {
			verrs = append(verrs, FieldError{Field: "currencyCode", Message: "код валюты не может быть пустым"})
		} else {
			c.CurrencyCode = *in.CurrencyCode
		}
	}
	return verrs
}

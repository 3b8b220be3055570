// handler.go — основной обработчик API.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/rms/reimburse/internal/api/errors"
	"github.com/rms/reimburse/internal/api/middleware"
	"github.com/rms/reimburse/internal/domain/authz"
	"github.com/rms/reimburse/internal/domain/model"
	"github.com/rms/reimburse/internal/service"
	"github.com/rms/reimburse/internal/vault"
)

// dateLayout — формат дат в API (даты расходов, границы экспорта).
const dateLayout = "2006-01-02"

// APIHandler — основной обработчик API сервиса возмещений.
type APIHandler struct {
	health  *HealthHandler
	claims  *service.ClaimService
	listing *service.ListingService
	export  *service.ExportService
	logger  *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	claims *service.ClaimService,
	listing *service.ListingService,
	export *service.ExportService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:  health,
		claims:  claims,
		listing: listing,
		export:  export,
		logger:  logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// actorFromRequest извлекает аутентифицированного актора.
// Второе значение false — ответ 401 уже записан.
func actorFromRequest(w http.ResponseWriter, r *http.Request) (authz.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Отсутствует аутентификация")
		return authz.Actor{}, false
	}
	return actor, true
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ
// по таксономии API.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Заявка не найдена")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Недостаточно прав для операции")
	case errors.Is(err, service.ErrStateConflict):
		apierrors.StateConflict(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, vault.ErrEmptyReceipt):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, vault.ErrUnsupportedMedia):
		apierrors.UnsupportedMedia(w, err.Error())
	case errors.Is(err, vault.ErrTooLarge):
		apierrors.PayloadTooLarge(w, err.Error())
	case errors.Is(err, vault.ErrNoReceipt):
		apierrors.NotFound(w, "Чек не найден")
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервиса")
	}
}

// --- Маппинг domain → API ---

// claimResponse — представление заявки в API (контракт фронтенда).
type claimResponse struct {
	ID               string `json:"id"`
	OwnerID          int64  `json:"ownerId"`
	OwnerEmail       string `json:"ownerEmail,omitempty"`
	OwnerName        string `json:"ownerName,omitempty"`
	OwnerDesignation string `json:"ownerDesignation,omitempty"`

	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	ClaimType    string `json:"claimType"`
	ClaimDate    string `json:"claimDate,omitempty"`
	AmountCents  int64  `json:"amountCents"`
	CurrencyCode string `json:"currencyCode"`

	Status       string `json:"status"`
	AdminComment string `json:"adminComment,omitempty"`

	RecallActive            bool       `json:"recallActive"`
	RecallReason            string     `json:"recallReason,omitempty"`
	RecallRequireAttachment bool       `json:"recallRequireAttachment"`
	RecalledAt              *time.Time `json:"recalledAt,omitempty"`
	ResubmittedAt           *time.Time `json:"resubmittedAt,omitempty"`
	ResubmitComment         string     `json:"resubmitComment,omitempty"`

	ReceiptPresent  bool   `json:"receiptPresent"`
	ReceiptFilename string `json:"receiptFilename,omitempty"`
	ReceiptURL      string `json:"receiptUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// mapClaim конвертирует domain model в API-представление.
// Бинарное содержимое чека наружу не отдаётся, только факт наличия.
func mapClaim(c *model.Claim) claimResponse {
	resp := claimResponse{
		ID:               c.ID,
		OwnerID:          c.OwnerID,
		OwnerEmail:       c.OwnerEmail,
		OwnerName:        c.OwnerName,
		OwnerDesignation: c.OwnerDesignation,

		Title:        c.Title,
		Description:  c.Description,
		ClaimType:    c.ClaimType,
		AmountCents:  c.AmountCents,
		CurrencyCode: c.CurrencyCode,

		Status:       c.Status,
		AdminComment: c.AdminComment,

		RecallActive:            c.RecallActive,
		RecallReason:            c.RecallReason,
		RecallRequireAttachment: c.RecallRequireAttachment,
		RecalledAt:              c.RecalledAt,
		ResubmittedAt:           c.ResubmittedAt,
		ResubmitComment:         c.ResubmitComment,

		ReceiptPresent:  c.HasReceipt(),
		ReceiptFilename: c.ReceiptFilename,
		ReceiptURL:      c.ReceiptURL,

		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.ClaimDate != nil {
		resp.ClaimDate = c.ClaimDate.Format(dateLayout)
	}
	return resp
}

// mapClaims конвертирует срез заявок.
func mapClaims(claims []*model.Claim) []claimResponse {
	out := make([]claimResponse, len(claims))
	for i, c := range claims {
		out[i] = mapClaim(c)
	}
	return out
}

// admin.go — административные обработчики /api/admin/claims:
// решения по заявкам, цикл отзыва, списки по статусу.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/rms/reimburse/internal/api/errors"
	"github.com/rms/reimburse/internal/domain/model"
	"github.com/rms/reimburse/internal/service"
)

// adminStatusKeys — отображение сегмента пути административного
// списка на статус заявки.
var adminStatusKeys = map[string]string{
	"pending":  model.StatusPending,
	"approved": model.StatusApproved,
	"rejected": model.StatusRejected,
	"recalled": model.StatusRecalled,
}

// ApproveClaim — PATCH /api/admin/claims/{id}/approve.
// Тело не требуется.
func (h *APIHandler) ApproveClaim(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	c, err := h.claims.Approve(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapClaim(c))
}

// RejectClaim — PATCH /api/admin/claims/{id}/reject.
// Комментарий администратора обязателен.
func (h *APIHandler) RejectClaim(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		AdminComment string `json:"adminComment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	c, err := h.claims.Reject(r.Context(), actor, chi.URLParam(r, "id"), req.AdminComment)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapClaim(c))
}

// RecallClaim — PATCH /api/admin/claims/{id}/recall.
// Начинает отзыв заявки на доработку. Причина обязательна.
func (h *APIHandler) RecallClaim(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason            string `json:"reason"`
		RequireAttachment bool   `json:"requireAttachment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	c, err := h.claims.StartRecall(r.Context(), actor, chi.URLParam(r, "id"), req.Reason, req.RequireAttachment)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapClaim(c))
}

// CancelRecall — PATCH /api/admin/claims/{id}/recall/cancel.
// Возвращает заявку в очередь на рассмотрение без правок владельца.
func (h *APIHandler) CancelRecall(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	c, err := h.claims.CancelRecall(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapClaim(c))
}

// RequestAttachment — PATCH /api/admin/claims/{id}/recall/request-attachment.
// Помечает отозванную заявку требованием приложить чек.
func (h *APIHandler) RequestAttachment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		Note string `json:"note"`
	}
	// Тело опционально
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	c, err := h.claims.RequestAttachment(r.Context(), actor, chi.URLParam(r, "id"), req.Note)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapClaim(c))
}

// adminPageResponse — страница административного списка
// (0-базная нумерация).
type adminPageResponse struct {
	Items []claimResponse `json:"items"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
	Total int             `json:"total"`
}

// ListAdminClaims — GET /api/admin/claims/{statusKey}.
// statusKey: pending, approved, rejected, recalled.
// Query: page (0-базный), size, sort, order (asc|desc), email.
func (h *APIHandler) ListAdminClaims(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	statusKey := chi.URLParam(r, "statusKey")
	status, ok := adminStatusKeys[statusKey]
	if !ok {
		apierrors.ValidationError(w, "Недопустимый ключ статуса: "+statusKey)
		return
	}

	q := r.URL.Query()
	opts := service.AdminListOptions{
		Page:      queryInt(r, "page", 0),
		Size:      queryInt(r, "size", 0),
		SortField: q.Get("sort"),
		SortDesc:  q.Get("order") != "asc",
		Email:     q.Get("email"),
	}

	result, err := h.listing.ListAdmin(r.Context(), actor, status, opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, adminPageResponse{
		Items: mapClaims(result.Items),
		Page:  result.Page,
		Size:  result.Size,
		Total: result.Total,
	})
}

// claims.go — обработчики /api/claims: создание пакета заявок,
// списки владельца, просмотр, правки при отзыве, повторная подача,
// обращение к администратору.
package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/rms/reimburse/internal/api/errors"
	"github.com/rms/reimburse/internal/service"
)

// maxMultipartMemory — буфер разбора multipart-форм в памяти.
const maxMultipartMemory = 32 << 20

// createClaimItem — одна заявка в пакете создания.
type createClaimItem struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	ClaimType    string `json:"claimType"`
	ClaimDate    string `json:"claimDate"` // YYYY-MM-DD, опционально
	AmountCents  int64  `json:"amountCents"`
	CurrencyCode string `json:"currencyCode"`
	ReceiptURL   string `json:"receiptUrl"`
}

// CreateClaims — POST /api/claims.
// Пакетное создание заявок: тело — JSON-массив заявок, пакет атомарен.
func (h *APIHandler) CreateClaims(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var items []createClaimItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	inputs := make([]service.CreateClaimInput, 0, len(items))
	for i, item := range items {
		in := service.CreateClaimInput{
			Title:        item.Title,
			Description:  item.Description,
			ClaimType:    item.ClaimType,
			AmountCents:  item.AmountCents,
			CurrencyCode: item.CurrencyCode,
			ReceiptURL:   item.ReceiptURL,
		}
		if item.ClaimDate != "" {
			d, err := time.Parse(dateLayout, item.ClaimDate)
			if err != nil {
				apierrors.ValidationError(w, "claims["+strconv.Itoa(i)+"].claimDate: дата должна быть в формате YYYY-MM-DD")
				return
			}
			in.ClaimDate = &d
		}
		inputs = append(inputs, in)
	}

	created, err := h.claims.CreateClaims(r.Context(), actor, inputs)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, mapClaims(created))
}

// ownerPageResponse — страница списка владельца (контракт фронтенда).
type ownerPageResponse struct {
	Content    []claimResponse `json:"content"`
	Page       int             `json:"page"`
	Size       int             `json:"size"`
	Total      int             `json:"total"`
	TotalPages int             `json:"totalPages"`
}

// ListOwnClaims — GET /api/claims/me/{statusKey}.
// statusKey: pending, approved, rejected, closed (пагинация 1-базная)
// или recall (без пагинации).
func (h *APIHandler) ListOwnClaims(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	statusKey := chi.URLParam(r, "statusKey")

	// Отозванные заявки — отдельный неразбитый на страницы список
	if statusKey == "recall" {
		claims, err := h.listing.ListOwnerRecall(r.Context(), actor)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mapClaims(claims))
		return
	}

	page := queryInt(r, "page", 1)
	size := queryInt(r, "size", 0)

	result, err := h.listing.ListOwner(r.Context(), actor, statusKey, page, size)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ownerPageResponse{
		Content:    mapClaims(result.Content),
		Page:       result.Page,
		Size:       result.Size,
		Total:      result.Total,
		TotalPages: result.TotalPages,
	})
}

// GetClaim — GET /api/claims/{id}.
func (h *APIHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	c, err := h.claims.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapClaim(c))
}

// updateClaimRequest — правки владельца по отозванной заявке.
// Применяются только переданные поля.
type updateClaimRequest struct {
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	ClaimType    *string `json:"claimType"`
	ClaimDate    *string `json:"claimDate"` // YYYY-MM-DD
	AmountCents  *int64  `json:"amountCents"`
	CurrencyCode *string `json:"currencyCode"`
}

// UpdateClaim — PUT /api/claims/{id}.
// Правки доступны только по отозванной заявке.
func (h *APIHandler) UpdateClaim(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req updateClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	in := service.UpdateClaimInput{
		Title:        req.Title,
		Description:  req.Description,
		ClaimType:    req.ClaimType,
		AmountCents:  req.AmountCents,
		CurrencyCode: req.CurrencyCode,
	}
	if req.ClaimDate != nil {
		d, err := time.Parse(dateLayout, *req.ClaimDate)
		if err != nil {
			apierrors.ValidationError(w, "claimDate: дата должна быть в формате YYYY-MM-DD")
			return
		}
		in.ClaimDate = &d
	}

	c, err := h.claims.UpdateDuringRecall(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapClaim(c))
}

// ResubmitClaim — PATCH /api/claims/{id}/resubmit.
// Повторная подача после отзыва: JSON {"comment": ...} или
// multipart-форма с полями file и comment.
func (h *APIHandler) ResubmitClaim(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	comment, upload, ok := h.parseResubmitBody(w, r)
	if !ok {
		return
	}

	c, err := h.claims.Resubmit(r.Context(), actor, chi.URLParam(r, "id"), comment, upload)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapClaim(c))
}

// parseResubmitBody разбирает тело повторной подачи.
// ok=false — ответ об ошибке уже записан.
func (h *APIHandler) parseResubmitBody(w http.ResponseWriter, r *http.Request) (string, *service.ReceiptUpload, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		var req struct {
			Comment string `json:"comment"`
		}
		// Пустое тело допустимо: повторная подача без комментария
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
			return "", nil, false
		}
		return req.Comment, nil, true
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		apierrors.ValidationError(w, "Некорректная multipart-форма: "+err.Error())
		return "", nil, false
	}

	comment := r.FormValue("comment")

	file, header, err := r.FormFile("file")
	if err != nil {
		if err == http.ErrMissingFile {
			return comment, nil, true
		}
		apierrors.ValidationError(w, "Ошибка чтения файла: "+err.Error())
		return "", nil, false
	}
	defer file.Close()

	upload, ok := h.readUpload(w, file, header)
	if !ok {
		return "", nil, false
	}
	return comment, upload, true
}

// readUpload читает файл multipart-формы в ReceiptUpload.
// ok=false — ответ об ошибке уже записан.
func (h *APIHandler) readUpload(w http.ResponseWriter, file multipart.File, header *multipart.FileHeader) (*service.ReceiptUpload, bool) {
	data, err := io.ReadAll(file)
	if err != nil {
		apierrors.InternalError(w, "Ошибка чтения файла")
		return nil, false
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &service.ReceiptUpload{
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	}, true
}

// ChangeRequest — POST /api/claims/{id}/change-request.
// Обращение владельца к администратору без смены статуса.
func (h *APIHandler) ChangeRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	c, err := h.claims.ChangeRequest(r.Context(), actor, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapClaim(c))
}

// queryInt читает целочисленный query-параметр с значением по умолчанию.
// Нечисловое значение молча заменяется на значение по умолчанию.
func queryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

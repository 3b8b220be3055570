// receipts.go — обработчики /api/claims/{id}/receipt:
// загрузка, проверка наличия и скачивание чека.
package handlers

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/rms/reimburse/internal/api/errors"
)

// UploadReceipt — POST /api/claims/{id}/receipt.
// Принимает multipart-форму с полем file. Повторная загрузка
// заменяет предыдущий чек.
func (h *APIHandler) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		apierrors.ValidationError(w, "Некорректная multipart-форма: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Отсутствует поле file в multipart-форме")
		return
	}
	defer file.Close()

	upload, ok := h.readUpload(w, file, header)
	if !ok {
		return
	}

	c, err := h.claims.UploadReceipt(r.Context(), actor, chi.URLParam(r, "id"), upload)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapClaim(c))
}

// HeadReceipt — HEAD /api/claims/{id}/receipt.
// 200 если чек есть, 404 если нет. Тело не возвращается.
func (h *APIHandler) HeadReceipt(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	exists, err := h.claims.ReceiptExists(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DownloadReceipt — GET /api/claims/{id}/receipt.
// Отдаёт бинарное содержимое чека как attachment.
func (h *APIHandler) DownloadReceipt(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	receipt, err := h.claims.DownloadReceipt(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", receipt.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(receipt.Size, 10))
	w.Header().Set("Content-Disposition", attachmentDisposition(receipt.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(receipt.Data)
}

// attachmentDisposition формирует Content-Disposition с корректным
// экранированием не-ASCII имён файлов (RFC 6266).
func attachmentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

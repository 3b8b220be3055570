// export.go — обработчик GET /api/admin/claims/export.
package handlers

import (
	"errors"
	"net/http"

	apierrors "github.com/rms/reimburse/internal/api/errors"
	"github.com/rms/reimburse/internal/service"
)

// ExportClaims — GET /api/admin/claims/export.
// Query: from, to (YYYY-MM-DD, обязательны), format (xlsx|pdf),
// status (опционально). Ошибки валидации параметров отдаются
// плоским текстом, не JSON — так их показывает фронтенд.
func (h *APIHandler) ExportClaims(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	req := service.ExportRequest{
		From:   q.Get("from"),
		To:     q.Get("to"),
		Format: q.Get("format"),
		Status: q.Get("status"),
	}
	if req.Format == "" {
		req.Format = "xlsx"
	}

	result, err := h.export.Export(r.Context(), actor, req)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			apierrors.PlainValidationError(w, err.Error())
			return
		}
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", attachmentDisposition(result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// export.go — выгрузка заявок за период в xlsx или pdf.
//
// Даты from/to — YYYY-MM-DD, интерпретируются в зоне Asia/Kolkata,
// обе границы включительно. Фильтр статуса принимает PENDING,
// APPROVED, REJECTED и CLOSED (CLOSED разворачивается в
// APPROVED ∪ REJECTED).
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rms/reimburse/internal/domain/authz"
	"github.com/rms/reimburse/internal/domain/lifecycle"
	"github.com/rms/reimburse/internal/domain/model"
	"github.com/rms/reimburse/internal/export"
	"github.com/rms/reimburse/internal/repository"
)

// exportTimeZone — зона интерпретации границ периода.
const exportTimeZone = "Asia/Kolkata"

const dateLayout = "2006-01-02"

// exportStatusSets — allow-list фильтра статуса выгрузки.
var exportStatusSets = map[string][]string{
	model.StatusPending:  {model.StatusPending},
	model.StatusApproved: {model.StatusApproved},
	model.StatusRejected: {model.StatusRejected},
	"CLOSED":             {model.StatusApproved, model.StatusRejected},
}

// exportContentTypes — MIME-типы форматов выгрузки.
var exportContentTypes = map[string]string{
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"pdf":  "application/pdf",
}

// ExportRequest — параметры выгрузки.
type ExportRequest struct {
	From   string // YYYY-MM-DD
	To     string // YYYY-MM-DD
	Format string // xlsx | pdf
	Status string // пусто — все статусы
}

// ExportResult — готовая выгрузка.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService — сборка выгрузок заявок.
type ExportService struct {
	claims repository.ClaimRepository
	loc    *time.Location
	logger *slog.Logger
}

// NewExportService создаёт сервис выгрузок.
func NewExportService(claims repository.ClaimRepository, logger *slog.Logger) *ExportService {
	loc, err := time.LoadLocation(exportTimeZone)
	if err != nil {
		// tzdata недоступна — фиксированное смещение IST (+05:30)
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return &ExportService{
		claims: claims,
		loc:    loc,
		logger: logger.With(slog.String("component", "export")),
	}
}

// Export собирает выгрузку заявок за период.
func (s *ExportService) Export(ctx context.Context, actor authz.Actor, req ExportRequest) (*ExportResult, error) {
	if !authz.Allowed(actor, lifecycle.OpExport, 0) {
		return nil, ErrForbidden
	}

	from, err := time.ParseInLocation(dateLayout, req.From, s.loc)
	if err != nil {
		return nil, ValidationErrors{{Field: "from", Message: "дата должна быть в формате YYYY-MM-DD"}}
	}
	to, err := time.ParseInLocation(dateLayout, req.To, s.loc)
	if err != nil {
		return nil, ValidationErrors{{Field: "to", Message: "дата должна быть в формате YYYY-MM-DD"}}
	}
	if to.Before(from) {
		return nil, ValidationErrors{{Field: "to", Message: "дата окончания раньше даты начала"}}
	}

	var statuses []string
	if req.Status != "" {
		set, ok := exportStatusSets[req.Status]
		if !ok {
			return nil, ValidationErrors{{Field: "status", Message: "недопустимый статус: " + req.Status}}
		}
		statuses = set
	}

	contentType, ok := exportContentTypes[req.Format]
	if !ok {
		return nil, ValidationErrors{{Field: "format", Message: "недопустимый формат: " + req.Format}}
	}

	// Обе границы включительно: [from 00:00, to+1день 00:00)
	before := to.AddDate(0, 0, 1)

	claims, err := s.claims.ListByCreatedRange(ctx, from, before, statuses)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch req.Format {
	case "xlsx":
		data, err = export.Excel(claims, s.loc)
	case "pdf":
		data, err = export.PDF(claims, s.loc)
	}
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("claims_%s_to_%s", req.From, req.To)
	if req.Status != "" {
		filename += "_" + req.Status
	}
	filename += "." + req.Format

	s.logger.Info("Выгрузка собрана",
		slog.String("format", req.Format),
		slog.String("from", req.From),
		slog.String("to", req.To),
		slog.Int("count", len(claims)),
	)

	return &ExportResult{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

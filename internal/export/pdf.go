package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/rms/reimburse/internal/domain/model"
)

// colWidths — ширины колонок pdf-таблицы в мм (альбомный A4, ~277 мм).
var colWidths = []float64{52, 38, 40, 24, 20, 24, 26, 26, 27}

// PDF рендерит выгрузку в pdf: альбомный A4, таблица с заголовком
// на каждой странице.
func PDF(claims []*model.Claim, loc *time.Location) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 12)

	writeHeader := func() {
		pdf.SetFont("Helvetica", "B", 8)
		pdf.SetFillColor(230, 230, 230)
		for i, h := range headers {
			pdf.CellFormat(colWidths[i], 7, h, "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 8)
	}

	pdf.SetHeaderFunc(func() {
		writeHeader()
	})
	pdf.AddPage()

	for _, c := range claims {
		for i, v := range row(c, loc) {
			pdf.CellFormat(colWidths[i], 6, fmt.Sprint(v), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("ошибка сборки pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Пакет export — рендеринг выгрузок заявок в xlsx и pdf.
// Набор и порядок колонок одинаков для обоих форматов.
package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rms/reimburse/internal/domain/model"
)

// headers — колонки выгрузки.
var headers = []string{
	"ID", "User", "Title", "Claim Type", "Status",
	"Amount (cents)", "Created At", "Updated At", "Admin Comment",
}

const timeLayout = "2006-01-02 15:04"

// row собирает значения колонок одной заявки.
// Времена форматируются в переданной временной зоне.
func row(c *model.Claim, loc *time.Location) []any {
	return []any{
		c.ID,
		c.OwnerEmail,
		c.Title,
		c.ClaimType,
		c.Status,
		c.AmountCents,
		c.CreatedAt.In(loc).Format(timeLayout),
		c.UpdatedAt.In(loc).Format(timeLayout),
		c.AdminComment,
	}
}

// Excel рендерит выгрузку в xlsx.
func Excel(claims []*model.Claim, loc *time.Location) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	const sheet = "Claims"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("ошибка переименования листа: %w", err)
	}

	// Заголовок
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("ошибка адресации ячейки: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("ошибка записи заголовка: %w", err)
		}
	}

	// Данные
	for i, c := range claims {
		for col, v := range row(c, loc) {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, fmt.Errorf("ошибка адресации ячейки: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("ошибка записи строки %d: %w", i+2, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("ошибка сборки xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// Пакет vault — хранилище чеков заявок.
// Валидирует загружаемый файл (MIME-тип, размер) и сохраняет
// содержимое вместе с метаданными одним обновлением строки заявки.
// Проверка наличия чека отвечает по метаданным, не поднимая blob.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rms/reimburse/internal/repository"
)

// MaxReceiptSize — потолок размера чека: 10 MiB.
// Файл ровно в 10 MiB принимается.
const MaxReceiptSize = 10 << 20

// Ошибки валидации чека.
var (
	// ErrEmptyReceipt — пустой файл.
	ErrEmptyReceipt = errors.New("пустой файл чека")
	// ErrUnsupportedMedia — MIME-тип вне списка допустимых.
	ErrUnsupportedMedia = errors.New("недопустимый тип файла чека")
	// ErrTooLarge — файл превышает потолок размера.
	ErrTooLarge = errors.New("файл чека превышает допустимый размер")
	// ErrNoReceipt — у заявки нет чека.
	ErrNoReceipt = errors.New("чек не найден")
)

// allowedContentTypes — фиксированный список допустимых MIME-типов:
// изображения, PDF, документы Office, текст и CSV.
var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,

	"application/pdf": true,

	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.ms-powerpoint": true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,

	"text/plain": true,
	"text/csv":   true,
}

// Vault — хранилище чеков поверх репозитория заявок.
type Vault struct {
	claims repository.ClaimRepository
	logger *slog.Logger
}

// New создаёт хранилище чеков.
func New(claims repository.ClaimRepository, logger *slog.Logger) *Vault {
	return &Vault{
		claims: claims,
		logger: logger.With(slog.String("component", "vault")),
	}
}

// Validate проверяет кандидата на загрузку.
// Порядок проверок: пустой файл → тип → размер.
func Validate(contentType string, size int64) error {
	if size == 0 {
		return ErrEmptyReceipt
	}
	if !allowedContentTypes[normalizeContentType(contentType)] {
		return fmt.Errorf("%w: %s", ErrUnsupportedMedia, contentType)
	}
	if size > MaxReceiptSize {
		return fmt.Errorf("%w: %d байт при потолке %d", ErrTooLarge, size, MaxReceiptSize)
	}
	return nil
}

// Store валидирует и сохраняет чек заявки.
// Содержимое и метаданные пишутся одним UPDATE.
func (v *Vault) Store(ctx context.Context, claimID, filename, contentType string, data []byte) error {
	if err := Validate(contentType, int64(len(data))); err != nil {
		return err
	}

	receipt := &repository.Receipt{
		Filename:    filename,
		ContentType: normalizeContentType(contentType),
		Size:        int64(len(data)),
		Data:        data,
	}

	if err := v.claims.StoreReceipt(ctx, claimID, receipt); err != nil {
		return err
	}

	v.logger.Info("Чек сохранён",
		slog.String("claim_id", claimID),
		slog.String("filename", filename),
		slog.Int("size", len(data)),
	)
	return nil
}

// Get возвращает чек с содержимым.
// ErrNoReceipt — у заявки нет чека, независимо от её статуса.
func (v *Vault) Get(ctx context.Context, claimID string) (*repository.Receipt, error) {
	rec, err := v.claims.GetReceipt(ctx, claimID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoReceipt
		}
		return nil, err
	}
	return rec, nil
}

// normalizeContentType приводит MIME-тип к нижнему регистру
// и отбрасывает параметры ("text/csv; charset=utf-8" → "text/csv").
func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

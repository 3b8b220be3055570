package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rms/reimburse/internal/domain/model"
)

// claimColumns — колонки метаданных заявки (без receipt_file).
// Бинарное содержимое чека выбирается только в GetReceipt.
const claimColumns = `id, owner_id, owner_email, owner_name, owner_designation,
	title, description, claim_type, claim_date, amount_cents, currency_code,
	status, admin_comment,
	recall_active, recall_reason, recall_require_attachment,
	recalled_at, resubmitted_at, resubmit_comment,
	receipt_filename, receipt_content_type, receipt_size, receipt_url,
	created_at, updated_at`

// Receipt — чек заявки: метаданные и бинарное содержимое.
type Receipt struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// AdminListFilters — фильтры административного списка заявок.
type AdminListFilters struct {
	// Status — статус заявки (обязателен в административных списках)
	Status *string
	// Email — фильтр по email владельца (подстрока, без учёта регистра)
	Email *string
	// CreatedFrom — нижняя граница created_at (включительно)
	CreatedFrom *time.Time
	// CreatedBefore — верхняя граница created_at (исключительно)
	CreatedBefore *time.Time
}

// ClaimRepository — доступ к таблице claims.
// Переходы статусов выполняются условными UPDATE с перепроверкой
// статуса на момент записи: при нуле затронутых строк переход
// не состоялся (конфликт состояния или заявка не найдена).
type ClaimRepository interface {
	// Create вставляет заявку, заполняет CreatedAt/UpdatedAt.
	Create(ctx context.Context, c *model.Claim) error
	// CreateBatch вставляет пакет заявок в одной транзакции:
	// любая ошибка откатывает весь пакет.
	CreateBatch(ctx context.Context, claims []*model.Claim) error
	// GetByID возвращает заявку по UUID (без содержимого чека).
	GetByID(ctx context.Context, id string) (*model.Claim, error)
	// GetByIDAndOwner возвращает заявку по UUID и владельцу.
	GetByIDAndOwner(ctx context.Context, id string, ownerID int64) (*model.Claim, error)
	// ExistsByID проверяет существование заявки без проверки владения.
	// Нужен для различения 403 и 404.
	ExistsByID(ctx context.Context, id string) (bool, error)

	// ListByOwnerAndStatuses возвращает заявки владельца в указанных
	// статусах, отсортированные по created_at DESC.
	ListByOwnerAndStatuses(ctx context.Context, ownerID int64, statuses []string) ([]*model.Claim, error)
	// ListRecallActiveByOwner возвращает отозванные заявки владельца.
	ListRecallActiveByOwner(ctx context.Context, ownerID int64) ([]*model.Claim, error)
	// ListAdmin возвращает страницу заявок по фильтрам.
	// orderBy — имя колонки из фиксированного набора, пришедшее из
	// сервисного слоя после санации.
	ListAdmin(ctx context.Context, filters AdminListFilters, orderBy string, desc bool, limit, offset int) ([]*model.Claim, error)
	// CountAdmin возвращает количество заявок по фильтрам.
	CountAdmin(ctx context.Context, filters AdminListFilters) (int, error)
	// ListByCreatedRange возвращает заявки за период для экспорта.
	// Пустой statuses — все статусы.
	ListByCreatedRange(ctx context.Context, from, before time.Time, statuses []string) ([]*model.Claim, error)

	// --- Переходы статусов (условные UPDATE) ---

	// Approve: PENDING → APPROVED. false — заявка не в PENDING.
	Approve(ctx context.Context, id string) (bool, error)
	// Reject: PENDING → REJECTED с комментарием администратора.
	Reject(ctx context.Context, id, adminComment string) (bool, error)
	// StartRecall: PENDING → RECALLED, сбрасывает resubmit_comment.
	StartRecall(ctx context.Context, id, reason string, requireAttachment bool) (bool, error)
	// RequestAttachment уточняет активный отзыв: статус не меняется.
	RequestAttachment(ctx context.Context, id, note string) (bool, error)
	// CancelRecall: RECALLED → PENDING, очищает поля отзыва.
	CancelRecall(ctx context.Context, id string) (bool, error)
	// Resubmit: RECALLED → PENDING с комментарием владельца и
	// опциональной заменой чека в том же UPDATE.
	Resubmit(ctx context.Context, id, comment string, receipt *Receipt) (bool, error)
	// UpdateDuringRecall применяет правки владельца к отозванной
	// заявке; при clearRecall дополнительно снимает отзыв → PENDING.
	UpdateDuringRecall(ctx context.Context, c *model.Claim, clearRecall bool) (bool, error)

	// SetChangeRequest записывает resubmit_comment + resubmitted_at
	// без смены статуса.
	SetChangeRequest(ctx context.Context, id, comment string) error

	// --- Чек ---

	// StoreReceipt сохраняет чек одним UPDATE строки заявки.
	StoreReceipt(ctx context.Context, id string, receipt *Receipt) error
	// GetReceipt возвращает чек с содержимым. ErrNotFound — чека нет.
	GetReceipt(ctx context.Context, id string) (*Receipt, error)
}

// claimRepo — реализация ClaimRepository.
type claimRepo struct {
	db DBTX
}

// NewClaimRepository создаёт репозиторий заявок.
func NewClaimRepository(db DBTX) ClaimRepository {
	return &claimRepo{db: db}
}

func (r *claimRepo) Create(ctx context.Context, c *model.Claim) error {
	query := `
		INSERT INTO claims (id, owner_id, owner_email, owner_name, owner_designation,
			title, description, claim_type, claim_date, amount_cents, currency_code,
			status, receipt_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		c.ID, c.OwnerID, c.OwnerEmail, c.OwnerName, c.OwnerDesignation,
		c.Title, c.Description, c.ClaimType, c.ClaimDate, c.AmountCents, c.CurrencyCode,
		c.Status, c.ReceiptURL,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: заявка с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

func (r *claimRepo) CreateBatch(ctx context.Context, claims []*model.Claim) error {
	return NewTxRunner(r.db).RunInTx(ctx, func(tx pgx.Tx) error {
		txRepo := &claimRepo{db: tx}
		for _, c := range claims {
			if err := txRepo.Create(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *claimRepo) GetByID(ctx context.Context, id string) (*model.Claim, error) {
	query := fmt.Sprintf(`SELECT %s FROM claims WHERE id = $1`, claimColumns)
	return r.queryOne(ctx, query, id)
}

func (r *claimRepo) GetByIDAndOwner(ctx context.Context, id string, ownerID int64) (*model.Claim, error) {
	query := fmt.Sprintf(`SELECT %s FROM claims WHERE id = $1 AND owner_id = $2`, claimColumns)
	return r.queryOne(ctx, query, id, ownerID)
}

func (r *claimRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM claims WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки существования заявки: %w", err)
	}
	return exists, nil
}

func (r *claimRepo) ListByOwnerAndStatuses(ctx context.Context, ownerID int64, statuses []string) ([]*model.Claim, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM claims
		WHERE owner_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC`, claimColumns)

	return r.queryMany(ctx, query, ownerID, statuses)
}

func (r *claimRepo) ListRecallActiveByOwner(ctx context.Context, ownerID int64) ([]*model.Claim, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM claims
		WHERE owner_id = $1 AND recall_active
		ORDER BY created_at DESC`, claimColumns)

	return r.queryMany(ctx, query, ownerID)
}

// buildClaimWhere строит WHERE-условие и аргументы для фильтров.
func buildClaimWhere(filters AdminListFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filters.Status)
		argNum++
	}
	if filters.Email != nil {
		conditions = append(conditions, fmt.Sprintf("owner_email ILIKE $%d", argNum))
		args = append(args, "%"+*filters.Email+"%")
		argNum++
	}
	if filters.CreatedFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *filters.CreatedFrom)
		argNum++
	}
	if filters.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argNum))
		args = append(args, *filters.CreatedBefore)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *claimRepo) ListAdmin(ctx context.Context, filters AdminListFilters, orderBy string, desc bool, limit, offset int) ([]*model.Claim, error) {
	where, args := buildClaimWhere(filters, 1)
	argNum := len(args) + 1

	direction := "ASC"
	if desc {
		direction = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT %s FROM claims
		%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d`, claimColumns, where, orderBy, direction, argNum, argNum+1)

	args = append(args, limit, offset)
	return r.queryMany(ctx, query, args...)
}

func (r *claimRepo) CountAdmin(ctx context.Context, filters AdminListFilters) (int, error) {
	where, args := buildClaimWhere(filters, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM claims %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта заявок: %w", err)
	}
	return count, nil
}

func (r *claimRepo) ListByCreatedRange(ctx context.Context, from, before time.Time, statuses []string) ([]*model.Claim, error) {
	filters := AdminListFilters{CreatedFrom: &from, CreatedBefore: &before}
	where, args := buildClaimWhere(filters, 1)

	if len(statuses) > 0 {
		argNum := len(args) + 1
		where += fmt.Sprintf(" AND status = ANY($%d)", argNum)
		args = append(args, statuses)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM claims
		%s
		ORDER BY created_at`, claimColumns, where)

	return r.queryMany(ctx, query, args...)
}

func (r *claimRepo) Approve(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE claims
		SET status = 'APPROVED', updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`

	return r.execConditional(ctx, query, id)
}

func (r *claimRepo) Reject(ctx context.Context, id, adminComment string) (bool, error) {
	query := `
		UPDATE claims
		SET status = 'REJECTED', admin_comment = $2, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`

	return r.execConditional(ctx, query, id, adminComment)
}

func (r *claimRepo) StartRecall(ctx context.Context, id, reason string, requireAttachment bool) (bool, error) {
	query := `
		UPDATE claims
		SET status = 'RECALLED',
			recall_active = TRUE,
			recall_reason = $2,
			recall_require_attachment = $3,
			recalled_at = now(),
			resubmit_comment = '',
			updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`

	return r.execConditional(ctx, query, id, reason, requireAttachment)
}

func (r *claimRepo) RequestAttachment(ctx context.Context, id, note string) (bool, error) {
	query := `
		UPDATE claims
		SET recall_require_attachment = TRUE,
			recall_reason = $2,
			admin_comment = $2,
			updated_at = now()
		WHERE id = $1 AND status = 'RECALLED' AND recall_active`

	return r.execConditional(ctx, query, id, note)
}

func (r *claimRepo) CancelRecall(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE claims
		SET status = 'PENDING',
			recall_active = FALSE,
			recall_reason = '',
			recall_require_attachment = FALSE,
			recalled_at = NULL,
			resubmitted_at = now(),
			updated_at = now()
		WHERE id = $1 AND status = 'RECALLED'`

	return r.execConditional(ctx, query, id)
}

func (r *claimRepo) Resubmit(ctx context.Context, id, comment string, receipt *Receipt) (bool, error) {
	// Замена чека выполняется тем же UPDATE, что и переход статуса
	if receipt != nil {
		query := `
			UPDATE claims
			SET status = 'PENDING',
				recall_active = FALSE,
				recall_reason = '',
				recall_require_attachment = FALSE,
				recalled_at = NULL,
				resubmit_comment = $2,
				resubmitted_at = now(),
				receipt_file = $3,
				receipt_filename = $4,
				receipt_content_type = $5,
				receipt_size = $6,
				updated_at = now()
			WHERE id = $1 AND status = 'RECALLED' AND recall_active`

		return r.execConditional(ctx, query, id, comment,
			receipt.Data, receipt.Filename, receipt.ContentType, receipt.Size)
	}

	query := `
		UPDATE claims
		SET status = 'PENDING',
			recall_active = FALSE,
			recall_reason = '',
			recall_require_attachment = FALSE,
			recalled_at = NULL,
			resubmit_comment = $2,
			resubmitted_at = now(),
			updated_at = now()
		WHERE id = $1 AND status = 'RECALLED' AND recall_active`

	return r.execConditional(ctx, query, id, comment)
}

func (r *claimRepo) UpdateDuringRecall(ctx context.Context, c *model.Claim, clearRecall bool) (bool, error) {
	if clearRecall {
		query := `
			UPDATE claims
			SET title = $2, description = $3, claim_type = $4, claim_date = $5,
				amount_cents = $6, currency_code = $7,
				status = 'PENDING',
				recall_active = FALSE,
				recall_reason = '',
				recall_require_attachment = FALSE,
				recalled_at = NULL,
				resubmitted_at = now(),
				updated_at = now()
			WHERE id = $1 AND status = 'RECALLED'`

		return r.execConditional(ctx, query, c.ID,
			c.Title, c.Description, c.ClaimType, c.ClaimDate, c.AmountCents, c.CurrencyCode)
	}

	query := `
		UPDATE claims
		SET title = $2, description = $3, claim_type = $4, claim_date = $5,
			amount_cents = $6, currency_code = $7,
			updated_at = now()
		WHERE id = $1 AND status = 'RECALLED'`

	return r.execConditional(ctx, query, c.ID,
		c.Title, c.Description, c.ClaimType, c.ClaimDate, c.AmountCents, c.CurrencyCode)
}

func (r *claimRepo) SetChangeRequest(ctx context.Context, id, comment string) error {
	query := `
		UPDATE claims
		SET resubmit_comment = $2, resubmitted_at = now(), updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, comment)
	if err != nil {
		return fmt.Errorf("ошибка записи запроса на изменение: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *claimRepo) StoreReceipt(ctx context.Context, id string, receipt *Receipt) error {
	query := `
		UPDATE claims
		SET receipt_file = $2,
			receipt_filename = $3,
			receipt_content_type = $4,
			receipt_size = $5,
			updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id,
		receipt.Data, receipt.Filename, receipt.ContentType, receipt.Size)
	if err != nil {
		return fmt.Errorf("ошибка сохранения чека: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *claimRepo) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	query := `
		SELECT receipt_filename, receipt_content_type, receipt_size, receipt_file
		FROM claims
		WHERE id = $1 AND receipt_file IS NOT NULL`

	rec := &Receipt{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rec.Filename, &rec.ContentType, &rec.Size, &rec.Data,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения чека: %w", err)
	}
	return rec, nil
}

// --- Вспомогательные методы ---

// execConditional выполняет условный UPDATE.
// Возвращает true, если была затронута хотя бы одна строка.
func (r *claimRepo) execConditional(ctx context.Context, query string, args ...any) (bool, error) {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("ошибка перехода статуса: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *claimRepo) queryOne(ctx context.Context, query string, args ...any) (*model.Claim, error) {
	c := &model.Claim{}
	err := r.db.QueryRow(ctx, query, args...).Scan(scanTargets(c)...)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения заявки: %w", err)
	}
	return c, nil
}

func (r *claimRepo) queryMany(ctx context.Context, query string, args ...any) ([]*model.Claim, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка заявок: %w", err)
	}
	defer rows.Close()

	var result []*model.Claim
	for rows.Next() {
		c := &model.Claim{}
		if err := rows.Scan(scanTargets(c)...); err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// scanTargets возвращает указатели на поля заявки в порядке claimColumns.
func scanTargets(c *model.Claim) []any {
	return []any{
		&c.ID, &c.OwnerID, &c.OwnerEmail, &c.OwnerName, &c.OwnerDesignation,
		&c.Title, &c.Description, &c.ClaimType, &c.ClaimDate, &c.AmountCents, &c.CurrencyCode,
		&c.Status, &c.AdminComment,
		&c.RecallActive, &c.RecallReason, &c.RecallRequireAttachment,
		&c.RecalledAt, &c.ResubmittedAt, &c.ResubmitComment,
		&c.ReceiptFilename, &c.ReceiptContentType, &c.ReceiptSize, &c.ReceiptURL,
		&c.CreatedAt, &c.UpdatedAt,
	}
}

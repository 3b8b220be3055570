package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rms/reimburse/internal/domain/model"
)

// newTestClaim создаёт и сохраняет заявку в статусе PENDING.
func newTestClaim(t *testing.T, repo ClaimRepository, ownerID int64) *model.Claim {
	t.Helper()

	c := &model.Claim{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		OwnerEmail:   "user@example.com",
		OwnerName:    "Test User",
		Title:        "Командировка в Дели",
		Description:  "Билеты и гостиница",
		ClaimType:    "TRAVEL",
		AmountCents:  500000,
		CurrencyCode: "INR",
		Status:       model.StatusPending,
	}
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	return c
}

func TestClaimCreateAndGet(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	c := newTestClaim(t, repo, 42)
	if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		t.Error("CreatedAt/UpdatedAt не установлены после Create()")
	}

	// GetByID
	got, err := repo.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Title != c.Title || got.AmountCents != c.AmountCents || got.Status != model.StatusPending {
		t.Errorf("GetByID() вернул %+v, ожидается заявка %s в PENDING", got, c.ID)
	}

	// GetByIDAndOwner — владелец
	if _, err := repo.GetByIDAndOwner(ctx, c.ID, 42); err != nil {
		t.Errorf("GetByIDAndOwner(владелец) ошибка: %v", err)
	}

	// GetByIDAndOwner — чужой пользователь
	if _, err := repo.GetByIDAndOwner(ctx, c.ID, 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByIDAndOwner(чужой) = %v, ожидается ErrNotFound", err)
	}

	// ExistsByID — разделение 403/404
	exists, err := repo.ExistsByID(ctx, c.ID)
	if err != nil || !exists {
		t.Errorf("ExistsByID() = %v, %v; ожидается true", exists, err)
	}
	exists, err = repo.ExistsByID(ctx, uuid.New().String())
	if err != nil || exists {
		t.Errorf("ExistsByID(несуществующий) = %v, %v; ожидается false", exists, err)
	}
}

func TestClaimCreateBatchAtomic(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	good := &model.Claim{
		ID: uuid.New().String(), OwnerID: 42, Title: "валидная",
		AmountCents: 100, CurrencyCode: "INR", Status: model.StatusPending,
	}
	// Нарушение CHECK (amount_cents > 0) откатывает весь пакет
	bad := &model.Claim{
		ID: uuid.New().String(), OwnerID: 42, Title: "невалидная",
		AmountCents: -1, CurrencyCode: "INR", Status: model.StatusPending,
	}

	if err := repo.CreateBatch(ctx, []*model.Claim{good, bad}); err == nil {
		t.Fatal("CreateBatch() с невалидной заявкой не вернул ошибку")
	}

	exists, err := repo.ExistsByID(ctx, good.ID)
	if err != nil {
		t.Fatalf("ExistsByID() ошибка: %v", err)
	}
	if exists {
		t.Error("валидная заявка из откатившегося пакета сохранилась")
	}

	// Валидный пакет сохраняется целиком
	c1 := &model.Claim{
		ID: uuid.New().String(), OwnerID: 42, Title: "первая",
		AmountCents: 100, CurrencyCode: "INR", Status: model.StatusPending,
	}
	c2 := &model.Claim{
		ID: uuid.New().String(), OwnerID: 42, Title: "вторая",
		AmountCents: 200, CurrencyCode: "INR", Status: model.StatusPending,
	}
	if err := repo.CreateBatch(ctx, []*model.Claim{c1, c2}); err != nil {
		t.Fatalf("CreateBatch() ошибка: %v", err)
	}
	if c1.CreatedAt.IsZero() || c2.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен после CreateBatch()")
	}
}

func TestClaimApproveConditional(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	c := newTestClaim(t, repo, 42)

	// Первый approve проходит
	ok, err := repo.Approve(ctx, c.ID)
	if err != nil || !ok {
		t.Fatalf("Approve() = %v, %v; ожидается true", ok, err)
	}

	// Повторный approve — ноль затронутых строк
	ok, err = repo.Approve(ctx, c.ID)
	if err != nil {
		t.Fatalf("Повторный Approve() ошибка: %v", err)
	}
	if ok {
		t.Error("Повторный Approve() вернул true, ожидается false")
	}

	got, _ := repo.GetByID(ctx, c.ID)
	if got.Status != model.StatusApproved {
		t.Errorf("Status = %s, ожидается APPROVED", got.Status)
	}
}

func TestClaimRejectStoresComment(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	c := newTestClaim(t, repo, 42)

	ok, err := repo.Reject(ctx, c.ID, "нет чека")
	if err != nil || !ok {
		t.Fatalf("Reject() = %v, %v; ожидается true", ok, err)
	}

	got, _ := repo.GetByID(ctx, c.ID)
	if got.Status != model.StatusRejected || got.AdminComment != "нет чека" {
		t.Errorf("после Reject(): status = %s, adminComment = %q", got.Status, got.AdminComment)
	}

	// Отклонённую заявку нельзя согласовать
	ok, _ = repo.Approve(ctx, c.ID)
	if ok {
		t.Error("Approve() после Reject() вернул true")
	}
}

func TestClaimRecallCycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	c := newTestClaim(t, repo, 42)

	// Отзыв
	ok, err := repo.StartRecall(ctx, c.ID, "нужен оригинал счёта", true)
	if err != nil || !ok {
		t.Fatalf("StartRecall() = %v, %v; ожидается true", ok, err)
	}

	got, _ := repo.GetByID(ctx, c.ID)
	if got.Status != model.StatusRecalled || !got.RecallActive {
		t.Fatalf("после StartRecall(): status = %s, recallActive = %v", got.Status, got.RecallActive)
	}
	if got.RecallReason != "нужен оригинал счёта" || !got.RecallRequireAttachment {
		t.Errorf("поля отзыва: reason = %q, requireAttachment = %v", got.RecallReason, got.RecallRequireAttachment)
	}
	if got.RecalledAt == nil {
		t.Error("RecalledAt не установлен")
	}

	// Повторный отзыв из RECALLED не проходит
	ok, _ = repo.StartRecall(ctx, c.ID, "ещё раз", false)
	if ok {
		t.Error("StartRecall() из RECALLED вернул true")
	}

	// Уточнение отзыва
	ok, err = repo.RequestAttachment(ctx, c.ID, "приложите PDF")
	if err != nil || !ok {
		t.Fatalf("RequestAttachment() = %v, %v; ожидается true", ok, err)
	}
	got, _ = repo.GetByID(ctx, c.ID)
	if got.RecallReason != "приложите PDF" || got.AdminComment != "приложите PDF" {
		t.Errorf("после RequestAttachment(): reason = %q, adminComment = %q",
			got.RecallReason, got.AdminComment)
	}

	// Отмена отзыва возвращает PENDING и очищает поля
	ok, err = repo.CancelRecall(ctx, c.ID)
	if err != nil || !ok {
		t.Fatalf("CancelRecall() = %v, %v; ожидается true", ok, err)
	}
	got, _ = repo.GetByID(ctx, c.ID)
	if got.Status != model.StatusPending || got.RecallActive {
		t.Errorf("после CancelRecall(): status = %s, recallActive = %v", got.Status, got.RecallActive)
	}
	if got.RecallReason != "" || got.RecallRequireAttachment || got.RecalledAt != nil {
		t.Error("поля отзыва не очищены после CancelRecall()")
	}
	if got.ResubmittedAt == nil {
		t.Error("ResubmittedAt не установлен после CancelRecall()")
	}

	// RequestAttachment вне отзыва не проходит
	ok, _ = repo.RequestAttachment(ctx, c.ID, "note")
	if ok {
		t.Error("RequestAttachment() из PENDING вернул true")
	}
}

func TestClaimResubmitWithReceipt(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	c := newTestClaim(t, repo, 42)
	if _, err := repo.StartRecall(ctx, c.ID, "нужен чек", true); err != nil {
		t.Fatalf("StartRecall() ошибка: %v", err)
	}

	receipt := &Receipt{
		Filename:    "receipt.pdf",
		ContentType: "application/pdf",
		Size:        4,
		Data:        []byte("%PDF"),
	}
	ok, err := repo.Resubmit(ctx, c.ID, "приложил", receipt)
	if err != nil || !ok {
		t.Fatalf("Resubmit() = %v, %v; ожидается true", ok, err)
	}

	got, _ := repo.GetByID(ctx, c.ID)
	if got.Status != model.StatusPending || got.RecallActive {
		t.Errorf("после Resubmit(): status = %s, recallActive = %v", got.Status, got.RecallActive)
	}
	if got.ResubmitComment != "приложил" || got.ResubmittedAt == nil {
		t.Errorf("resubmitComment = %q, resubmittedAt = %v", got.ResubmitComment, got.ResubmittedAt)
	}
	if !got.HasReceipt() {
		t.Error("HasReceipt() = false после Resubmit() с чеком")
	}

	// Содержимое чека
	rec, err := repo.GetReceipt(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetReceipt() ошибка: %v", err)
	}
	if rec.Filename != "receipt.pdf" || string(rec.Data) != "%PDF" {
		t.Errorf("GetReceipt() = %q (%d байт)", rec.Filename, len(rec.Data))
	}

	// Повторный resubmit без активного отзыва не проходит
	ok, _ = repo.Resubmit(ctx, c.ID, "ещё раз", nil)
	if ok {
		t.Error("Resubmit() без активного отзыва вернул true")
	}
}

func TestClaimUpdateDuringRecall(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	c := newTestClaim(t, repo, 42)
	if _, err := repo.StartRecall(ctx, c.ID, "уточните сумму", false); err != nil {
		t.Fatalf("StartRecall() ошибка: %v", err)
	}

	c.Title = "Командировка в Мумбаи"
	c.AmountCents = 750000

	// clearRecall: отзыв снимается, статус PENDING
	ok, err := repo.UpdateDuringRecall(ctx, c, true)
	if err != nil || !ok {
		t.Fatalf("UpdateDuringRecall() = %v, %v; ожидается true", ok, err)
	}

	got, _ := repo.GetByID(ctx, c.ID)
	if got.Title != "Командировка в Мумбаи" || got.AmountCents != 750000 {
		t.Errorf("правки не применены: title = %q, amount = %d", got.Title, got.AmountCents)
	}
	if got.Status != model.StatusPending || got.RecallActive {
		t.Errorf("после снятия отзыва: status = %s, recallActive = %v", got.Status, got.RecallActive)
	}

	// Правка вне RECALLED не проходит
	ok, _ = repo.UpdateDuringRecall(ctx, c, false)
	if ok {
		t.Error("UpdateDuringRecall() из PENDING вернул true")
	}
}

func TestClaimChangeRequest(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	c := newTestClaim(t, repo, 42)

	// Запрос на изменение не меняет статус
	if err := repo.SetChangeRequest(ctx, c.ID, "прошу проверить сумму"); err != nil {
		t.Fatalf("SetChangeRequest() ошибка: %v", err)
	}
	got, _ := repo.GetByID(ctx, c.ID)
	if got.Status != model.StatusPending {
		t.Errorf("Status = %s, статус не должен меняться", got.Status)
	}
	if got.ResubmitComment != "прошу проверить сумму" || got.ResubmittedAt == nil {
		t.Errorf("resubmitComment = %q, resubmittedAt = %v", got.ResubmitComment, got.ResubmittedAt)
	}

	if err := repo.SetChangeRequest(ctx, uuid.New().String(), "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetChangeRequest(несуществующий) = %v, ожидается ErrNotFound", err)
	}
}

func TestClaimReceiptStore(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	c := newTestClaim(t, repo, 42)

	// Чека ещё нет
	if _, err := repo.GetReceipt(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetReceipt(без чека) = %v, ожидается ErrNotFound", err)
	}

	receipt := &Receipt{
		Filename:    "bill.png",
		ContentType: "image/png",
		Size:        8,
		Data:        []byte{0x89, 'P', 'N', 'G', 0, 0, 0, 0},
	}
	if err := repo.StoreReceipt(ctx, c.ID, receipt); err != nil {
		t.Fatalf("StoreReceipt() ошибка: %v", err)
	}

	// Метаданные видны без материализации blob
	got, _ := repo.GetByID(ctx, c.ID)
	if got.ReceiptFilename != "bill.png" || got.ReceiptSize != 8 {
		t.Errorf("метаданные чека: filename = %q, size = %d", got.ReceiptFilename, got.ReceiptSize)
	}
	if len(got.ReceiptFile) != 0 {
		t.Error("GetByID() материализовал содержимое чека")
	}
	if !got.HasReceipt() {
		t.Error("HasReceipt() = false после StoreReceipt()")
	}

	if err := repo.StoreReceipt(ctx, uuid.New().String(), receipt); !errors.Is(err, ErrNotFound) {
		t.Errorf("StoreReceipt(несуществующий) = %v, ожидается ErrNotFound", err)
	}
}

func TestClaimListByOwner(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	// Три заявки владельца 42, одна чужая
	c1 := newTestClaim(t, repo, 42)
	c2 := newTestClaim(t, repo, 42)
	c3 := newTestClaim(t, repo, 42)
	newTestClaim(t, repo, 7)

	if _, err := repo.Approve(ctx, c2.ID); err != nil {
		t.Fatalf("Approve() ошибка: %v", err)
	}
	if _, err := repo.Reject(ctx, c3.ID, "нет чека"); err != nil {
		t.Fatalf("Reject() ошибка: %v", err)
	}

	pending, err := repo.ListByOwnerAndStatuses(ctx, 42, []string{model.StatusPending})
	if err != nil {
		t.Fatalf("ListByOwnerAndStatuses() ошибка: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != c1.ID {
		t.Errorf("PENDING владельца 42: %d заявок, ожидается 1", len(pending))
	}

	// closed = APPROVED ∪ REJECTED
	closed, err := repo.ListByOwnerAndStatuses(ctx, 42,
		[]string{model.StatusApproved, model.StatusRejected})
	if err != nil {
		t.Fatalf("ListByOwnerAndStatuses(closed) ошибка: %v", err)
	}
	if len(closed) != 2 {
		t.Errorf("closed владельца 42: %d заявок, ожидается 2", len(closed))
	}
	// Сортировка по created_at DESC
	for i := 1; i < len(closed); i++ {
		if closed[i-1].CreatedAt.Before(closed[i].CreatedAt) {
			t.Error("список не отсортирован по created_at DESC")
		}
	}
}

func TestClaimListRecallActive(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	c1 := newTestClaim(t, repo, 42)
	newTestClaim(t, repo, 42)

	if _, err := repo.StartRecall(ctx, c1.ID, "нужен чек", false); err != nil {
		t.Fatalf("StartRecall() ошибка: %v", err)
	}

	recalled, err := repo.ListRecallActiveByOwner(ctx, 42)
	if err != nil {
		t.Fatalf("ListRecallActiveByOwner() ошибка: %v", err)
	}
	if len(recalled) != 1 || recalled[0].ID != c1.ID {
		t.Errorf("отозванных заявок: %d, ожидается 1", len(recalled))
	}
}

func TestClaimListAdmin(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	for i := 0; i < 5; i++ {
		newTestClaim(t, repo, int64(100+i))
	}

	status := model.StatusPending
	filters := AdminListFilters{Status: &status}

	// Страница из двух заявок
	page, err := repo.ListAdmin(ctx, filters, "created_at", true, 2, 0)
	if err != nil {
		t.Fatalf("ListAdmin() ошибка: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("страница: %d заявок, ожидается 2", len(page))
	}

	count, err := repo.CountAdmin(ctx, filters)
	if err != nil {
		t.Fatalf("CountAdmin() ошибка: %v", err)
	}
	if count != 5 {
		t.Errorf("CountAdmin() = %d, ожидается 5", count)
	}

	// Фильтр по email
	email := "user@"
	page, err = repo.ListAdmin(ctx, AdminListFilters{Status: &status, Email: &email},
		"id", true, 10, 0)
	if err != nil {
		t.Fatalf("ListAdmin(email) ошибка: %v", err)
	}
	if len(page) != 5 {
		t.Errorf("фильтр по email: %d заявок, ожидается 5", len(page))
	}
}

func TestClaimListByCreatedRange(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewClaimRepository(pool)

	c1 := newTestClaim(t, repo, 42)
	c2 := newTestClaim(t, repo, 42)
	if _, err := repo.Approve(ctx, c2.ID); err != nil {
		t.Fatalf("Approve() ошибка: %v", err)
	}

	from := time.Now().Add(-time.Hour)
	before := time.Now().Add(time.Hour)

	// Без фильтра статусов — обе
	all, err := repo.ListByCreatedRange(ctx, from, before, nil)
	if err != nil {
		t.Fatalf("ListByCreatedRange() ошибка: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("за период: %d заявок, ожидается 2", len(all))
	}

	// Только APPROVED
	approved, err := repo.ListByCreatedRange(ctx, from, before, []string{model.StatusApproved})
	if err != nil {
		t.Fatalf("ListByCreatedRange(APPROVED) ошибка: %v", err)
	}
	if len(approved) != 1 || approved[0].ID != c2.ID {
		t.Errorf("APPROVED за период: %d заявок, ожидается 1", len(approved))
	}

	// Пустой период
	none, err := repo.ListByCreatedRange(ctx, before, before.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("ListByCreatedRange(пустой) ошибка: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("пустой период: %d заявок, ожидается 0", len(none))
	}

	_ = c1
}

func TestTxRunnerRollback(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	runner := NewTxRunner(pool)

	id := uuid.New().String()
	wantErr := errors.New("откат")

	// Ошибка внутри fn откатывает вставку
	err := runner.RunInTx(ctx, func(tx pgx.Tx) error {
		repo := NewClaimRepository(tx)
		c := &model.Claim{
			ID:           id,
			OwnerID:      42,
			Title:        "откатится",
			AmountCents:  100,
			CurrencyCode: "INR",
			Status:       model.StatusPending,
		}
		if err := repo.Create(ctx, c); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RunInTx() = %v, ожидается ошибка отката", err)
	}

	repo := NewClaimRepository(pool)
	exists, err := repo.ExistsByID(ctx, id)
	if err != nil {
		t.Fatalf("ExistsByID() ошибка: %v", err)
	}
	if exists {
		t.Error("вставка не откатилась после ошибки в транзакции")
	}
}

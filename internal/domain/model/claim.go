// Пакет model — доменные сущности сервиса возмещения расходов.
package model

import "time"

// Статусы заявки.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
	StatusRecalled = "RECALLED"
)

// ValidStatuses — множество допустимых статусов заявки.
var ValidStatuses = map[string]bool{
	StatusPending:  true,
	StatusApproved: true,
	StatusRejected: true,
	StatusRecalled: true,
}

// Claim — заявка на возмещение расходов.
// Хранится в таблице claims.
type Claim struct {
	// ID — UUID заявки
	ID string

	// OwnerID — идентификатор владельца из auth-service.
	// Email, имя и должность денормализуются при создании:
	// заявка хранит снимок, живого join с auth-service нет.
	OwnerID          int64
	OwnerEmail       string
	OwnerName        string
	OwnerDesignation string

	// Title — название заявки
	Title string
	// Description — описание расходов
	Description string
	// ClaimType — тип расходов (travel, food, medical и т.п., свободный текст)
	ClaimType string
	// ClaimDate — дата расхода
	ClaimDate *time.Time
	// AmountCents — сумма в минимальных единицах валюты, строго > 0
	AmountCents int64
	// CurrencyCode — код валюты (ISO 4217)
	CurrencyCode string

	// Status — текущий статус жизненного цикла
	Status string
	// AdminComment — комментарий администратора (обязателен при отклонении)
	AdminComment string

	// --- Отзыв заявки ---

	// RecallActive — заявка отозвана администратором на доработку
	RecallActive bool
	// RecallReason — причина отзыва
	RecallReason string
	// RecallRequireAttachment — при отзыве требуется приложить чек
	RecallRequireAttachment bool
	// RecalledAt — время отзыва
	RecalledAt *time.Time
	// ResubmittedAt — время повторной подачи
	ResubmittedAt *time.Time
	// ResubmitComment — комментарий владельца при повторной подаче
	ResubmitComment string

	// --- Чек ---

	// ReceiptFile — бинарное содержимое чека (в списках не материализуется)
	ReceiptFile []byte
	// ReceiptFilename — оригинальное имя файла чека
	ReceiptFilename string
	// ReceiptContentType — MIME-тип чека
	ReceiptContentType string
	// ReceiptSize — размер чека в байтах
	ReceiptSize int64
	// ReceiptURL — внешняя ссылка на чек (альтернатива загрузке файла)
	ReceiptURL string

	// CreatedAt — время создания заявки
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// HasReceipt сообщает о наличии чека по метаданным,
// не материализуя бинарное содержимое.
func (c *Claim) HasReceipt() bool {
	return c.ReceiptSize > 0 || len(c.ReceiptFile) > 0 ||
		c.ReceiptFilename != "" || c.ReceiptURL != ""
}

// ClaimEvent — событие жизненного цикла заявки.
// Публикуется после фиксации транзакции для асинхронных уведомлений.
type ClaimEvent struct {
	// Type — тип события
	Type ClaimEventType
	// Claim — состояние заявки после перехода
	Claim Claim
	// OccurredAt — время события
	OccurredAt time.Time
}

// ClaimEventType — тип события жизненного цикла.
type ClaimEventType string

// Типы событий жизненного цикла заявки.
const (
	EventClaimCreated  ClaimEventType = "claim.created"
	EventClaimApproved ClaimEventType = "claim.approved"
	EventClaimRejected ClaimEventType = "claim.rejected"
	EventClaimRecalled ClaimEventType = "claim.recalled"
)

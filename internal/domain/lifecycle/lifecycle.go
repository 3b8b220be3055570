// Пакет lifecycle — конечный автомат жизненного цикла заявки.
//
// Статусы: PENDING → APPROVED | REJECTED | RECALLED; RECALLED → PENDING.
// APPROVED и REJECTED — конечные статусы, переходов из них нет.
//
// Пакет чистый: здесь только матрица допустимых переходов и словарь
// операций. Мутации полей и атомарная запись (условный UPDATE с
// перепроверкой статуса) выполняются в сервисном слое.
package lifecycle

import (
	"fmt"

	"github.com/rms/reimburse/internal/domain/model"
)

// Operation — операция над заявкой.
// Словарь общий для автомата и для таблицы авторизации.
type Operation string

const (
	// Операции жизненного цикла
	OpCreate             Operation = "create"
	OpApprove            Operation = "approve"
	OpReject             Operation = "reject"
	OpStartRecall        Operation = "startRecall"
	OpRequestAttachment  Operation = "requestAttachment"
	OpCancelRecall       Operation = "cancelRecall"
	OpResubmit           Operation = "resubmit"
	OpUpdateDuringRecall Operation = "updateDuringRecall"
	OpChangeRequest      Operation = "changeRequest"

	// Операции чтения и работы с чеком
	OpView            Operation = "view"
	OpListOwn         Operation = "listOwn"
	OpListAll         Operation = "listAll"
	OpUploadReceipt   Operation = "uploadReceipt"
	OpDownloadReceipt Operation = "downloadReceipt"
	OpExport          Operation = "export"
)

// validFrom — матрица допустимых исходных статусов для переходов.
// Ключ — операция, значение — набор статусов, из которых она допустима.
// Операции чтения и changeRequest статусом не ограничены и в матрице
// отсутствуют.
var validFrom = map[Operation]map[string]bool{
	OpApprove:            {model.StatusPending: true},
	OpReject:             {model.StatusPending: true},
	OpStartRecall:        {model.StatusPending: true},
	OpRequestAttachment:  {model.StatusRecalled: true},
	OpCancelRecall:       {model.StatusRecalled: true},
	OpResubmit:           {model.StatusRecalled: true},
	OpUpdateDuringRecall: {model.StatusRecalled: true},
}

// target — целевой статус перехода.
// updateDuringRecall отсутствует: целевой статус зависит от
// recall_require_attachment и вычисляется в сервисном слое.
var target = map[Operation]string{
	OpApprove:           model.StatusApproved,
	OpReject:            model.StatusRejected,
	OpStartRecall:       model.StatusRecalled,
	OpRequestAttachment: model.StatusRecalled,
	OpCancelRecall:      model.StatusPending,
	OpResubmit:          model.StatusPending,
}

// CanApply проверяет, допустима ли операция из указанного статуса.
// Для операций, не ограниченных статусом, всегда true.
func CanApply(op Operation, status string) bool {
	from, ok := validFrom[op]
	if !ok {
		return true
	}
	return from[status]
}

// Target возвращает целевой статус перехода.
// Для операций без фиксированного целевого статуса возвращает false.
func Target(op Operation) (string, bool) {
	to, ok := target[op]
	return to, ok
}

// IsTerminal сообщает, является ли статус конечным.
func IsTerminal(status string) bool {
	return status == model.StatusApproved || status == model.StatusRejected
}

// TransitionError — ошибка недопустимого перехода.
type TransitionError struct {
	Op     Operation // Операция
	Status string    // Текущий статус заявки
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("переход %s из статуса %s недопустим", e.Op, e.Status)
}

// Check возвращает TransitionError, если операция недопустима
// из указанного статуса.
func Check(op Operation, status string) error {
	if !CanApply(op, status) {
		return &TransitionError{Op: op, Status: status}
	}
	return nil
}

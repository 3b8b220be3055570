// Пакет authz — решение о допустимости операции для актора.
// Единственная точка проверки роли и владения: каждая операция
// декларирует требуемые роли и необходимость владения заявкой для USER.
// Решение чистое, без побочных эффектов, вычисляется на каждый запрос
// заново (кэширования решений нет).
package authz

import (
	"github.com/rms/reimburse/internal/domain/lifecycle"
)

// Роли в порядке возрастания привилегий.
// ADMIN включает все права USER над любой заявкой.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleUser:  1,
	RoleAdmin: 2,
}

// Actor — аутентифицированный субъект операции: идентификатор
// пользователя и нормализованный набор ролей из токена.
type Actor struct {
	UserID int64
	Roles  []string
}

// IsAdmin сообщает, есть ли у актора роль ADMIN.
func (a Actor) IsAdmin() bool {
	for _, r := range a.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// requirement — требования операции: минимальная роль и
// необходимость владения заявкой для роли USER.
type requirement struct {
	minRole       string
	ownerWhenUser bool
}

// requirements — таблица требований по операциям.
// Операции, которых нет в таблице, запрещены всем.
var requirements = map[lifecycle.Operation]requirement{
	// Операции владельца: USER только над своей заявкой, ADMIN над любой
	lifecycle.OpCreate:             {minRole: RoleUser},
	lifecycle.OpView:               {minRole: RoleUser, ownerWhenUser: true},
	lifecycle.OpListOwn:            {minRole: RoleUser},
	lifecycle.OpResubmit:           {minRole: RoleUser, ownerWhenUser: true},
	lifecycle.OpUpdateDuringRecall: {minRole: RoleUser, ownerWhenUser: true},
	lifecycle.OpChangeRequest:      {minRole: RoleUser, ownerWhenUser: true},
	lifecycle.OpUploadReceipt:      {minRole: RoleUser, ownerWhenUser: true},
	lifecycle.OpDownloadReceipt:    {minRole: RoleUser, ownerWhenUser: true},

	// Операции администратора
	lifecycle.OpApprove:           {minRole: RoleAdmin},
	lifecycle.OpReject:            {minRole: RoleAdmin},
	lifecycle.OpStartRecall:       {minRole: RoleAdmin},
	lifecycle.OpRequestAttachment: {minRole: RoleAdmin},
	lifecycle.OpCancelRecall:      {minRole: RoleAdmin},
	lifecycle.OpListAll:           {minRole: RoleAdmin},
	lifecycle.OpExport:            {minRole: RoleAdmin},
}

// Allowed решает, допустима ли операция для актора над заявкой
// владельца ownerID. Для операций без привязки к заявке (create,
// listOwn, listAll, export) ownerID игнорируется — передаётся 0.
func Allowed(actor Actor, op lifecycle.Operation, ownerID int64) bool {
	req, ok := requirements[op]
	if !ok {
		return false
	}

	highest := highestRole(actor.Roles)
	if roleWeight[highest] < roleWeight[req.minRole] {
		return false
	}

	// ADMIN действует над любой заявкой
	if highest == RoleAdmin {
		return true
	}

	// USER — проверка владения, если операция её требует
	if req.ownerWhenUser && actor.UserID != ownerID {
		return false
	}
	return true
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// highestRole возвращает роль с максимальными привилегиями из набора.
// Неизвестные роли имеют вес 0 и не дают привилегий.
func highestRole(roles []string) string {
	highest := ""
	for _, r := range roles {
		if roleWeight[r] > roleWeight[highest] {
			highest = r
		}
	}
	return highest
}

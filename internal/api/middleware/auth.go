// auth.go — JWT middleware аутентификации.
// Токены выпускает внешний auth-service; подпись проверяется по его
// JWKS endpoint. Из claims извлекается числовой идентификатор
// пользователя и роли, нормализованные из нескольких форм записи.
// Результат — authz.Actor в контексте запроса.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/rms/reimburse/internal/api/errors"
	"github.com/rms/reimburse/internal/domain/authz"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyActor — аутентифицированный актор в контексте запроса.
const ContextKeyActor contextKey = "actor"

// tokenClaims — raw claims JWT auth-service.
// Роли встречаются в трёх формах записи: claim "role" строкой,
// claim "roles" списком, realm_access.roles (токены Keycloak-совместимых
// провайдеров). Идентификатор пользователя — claim "uid", число или строка.
type tokenClaims struct {
	jwt.RegisteredClaims
	// UID — идентификатор пользователя (число или строка с числом).
	UID json.RawMessage `json:"uid,omitempty"`
	// Role — роль строкой.
	Role string `json:"role,omitempty"`
	// Roles — роли списком.
	Roles []string `json:"roles,omitempty"`
	// RealmAccess — вложенная структура realm_access.roles.
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
	// Email — электронная почта.
	Email string `json:"email,omitempty"`
}

// realmAccess — вложенная структура realm_access в JWT.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — middleware для JWT-аутентификации через JWKS auth-service.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	logger    *slog.Logger
	issuer    string
	jwtLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS из auth-service.
// jwksURL — URL к JWKS endpoint.
// issuer — ожидаемый issuer JWT (пустое значение отключает проверку).
// jwksClientTimeout — таймаут HTTP-клиента JWKS (RMS_JWKS_CLIENT_TIMEOUT).
// jwtLeeway — допустимое отклонение времени при проверке JWT (RMS_JWT_LEEWAY).
func NewJWTAuth(
	jwksURL string,
	issuer string,
	jwksClientTimeout time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: jwksClientTimeout}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если auth-service ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:      k,
		logger:    logger.With(slog.String("component", "jwt_auth")),
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:   kf,
		logger: logger.With(slog.String("component", "jwt_auth")),
		issuer: issuer,
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256), извлекает uid
// и роли и помещает authz.Actor в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			rawClaims := &tokenClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			actor, err := buildActor(rawClaims)
			if err != nil {
				j.logger.Debug("Некорректные claims токена",
					slog.String("error", err.Error()),
				)
				apierrors.Unauthorized(w, "Некорректные claims токена")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyActor, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildActor собирает authz.Actor из raw claims.
func buildActor(raw *tokenClaims) (authz.Actor, error) {
	uid, err := parseUID(raw.UID)
	if err != nil {
		return authz.Actor{}, err
	}

	roles := normalizeRoles(raw)
	if len(roles) == 0 {
		// Токен без распознанных ролей — обычный пользователь
		roles = []string{authz.RoleUser}
	}

	return authz.Actor{UserID: uid, Roles: roles}, nil
}

// parseUID разбирает claim "uid": число или строка с числом.
func parseUID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("отсутствует claim uid")
	}

	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return 0, fmt.Errorf("claim uid: не число и не строка")
	}
	uid, err := strconv.ParseInt(asString, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("claim uid %q: %w", asString, err)
	}
	return uid, nil
}

// normalizeRoles собирает роли из всех форм записи и приводит
// к верхнему регистру, отбрасывая неизвестные значения.
func normalizeRoles(raw *tokenClaims) []string {
	var candidates []string
	if raw.Role != "" {
		candidates = append(candidates, raw.Role)
	}
	candidates = append(candidates, raw.Roles...)
	if raw.RealmAccess != nil {
		candidates = append(candidates, raw.RealmAccess.Roles...)
	}

	seen := make(map[string]bool, len(candidates))
	var roles []string
	for _, c := range candidates {
		role := strings.ToUpper(strings.TrimSpace(c))
		if !authz.IsValidRole(role) || seen[role] {
			continue
		}
		seen[role] = true
		roles = append(roles, role)
	}
	return roles
}

// --- Context helpers ---

// ActorFromContext извлекает актора из контекста запроса.
// Второе значение false — запрос не прошёл аутентификацию.
func ActorFromContext(ctx context.Context) (authz.Actor, bool) {
	actor, ok := ctx.Value(ContextKeyActor).(authz.Actor)
	return actor, ok
}

// --- ReadinessChecker для auth-service ---

// AuthReadinessChecker — проверка доступности auth-service через JWKS.
type AuthReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewAuthReadinessChecker создаёт checker доступности auth-service.
func NewAuthReadinessChecker(jwksURL string, timeout time.Duration) *AuthReadinessChecker {
	return &AuthReadinessChecker{
		jwksURL: jwksURL,
		client:  &http.Client{Timeout: timeout},
	}
}

const statusFail = "fail"

// CheckReady проверяет доступность JWKS endpoint auth-service.
func (a *AuthReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, a.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return statusFail, fmt.Sprintf("auth-service JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("auth-service JWKS вернул статус %d", resp.StatusCode)
	}

	// Проверяем, что ответ — валидный JSON с ключами
	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("auth-service JWKS: невалидный JSON: %v", err)
	}

	if len(jwksResp.Keys) == 0 {
		return "degraded", "auth-service JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}

// Close освобождает ресурсы JWT middleware.
func (j *JWTAuth) Close() {
	// keyfunc v3 не требует явного закрытия
}

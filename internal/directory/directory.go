// Пакет directory — справочник пользователей поверх HTTP API
// auth-service. Заявка хранит снимок данных владельца; справочник
// используется один раз при создании заявки для денормализации
// email, имени и должности. Ответы кэшируются в LRU с TTL.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// UserInfo — данные пользователя из auth-service.
type UserInfo struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Designation string `json:"designation"`
}

// UserDirectory — интерфейс поиска данных пользователя.
type UserDirectory interface {
	// Lookup возвращает данные пользователя по идентификатору.
	Lookup(ctx context.Context, userID int64) (*UserInfo, error)
}

// Client — HTTP-клиент справочника с LRU-кэшем.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cache      *expirable.LRU[int64, *UserInfo]
	logger     *slog.Logger
}

// NewClient создаёт клиент справочника пользователей.
// token — сервисный токен для заголовка Authorization (опционально).
func NewClient(baseURL, token string, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:  expirable.NewLRU[int64, *UserInfo](cacheSize, nil, cacheTTL),
		logger: logger.With(slog.String("component", "directory")),
	}
}

// Lookup возвращает данные пользователя, сначала из кэша.
func (c *Client) Lookup(ctx context.Context, userID int64) (*UserInfo, error) {
	if info, ok := c.cache.Get(userID); ok {
		return info, nil
	}

	url := fmt.Sprintf("%s/internal/users/%d", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса к auth-service: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к auth-service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("пользователь %d не найден в auth-service", userID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth-service вернул статус %d", resp.StatusCode)
	}

	info := &UserInfo{}
	if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
		return nil, fmt.Errorf("ошибка разбора ответа auth-service: %w", err)
	}

	c.cache.Add(userID, info)
	c.logger.Debug("Пользователь загружен из auth-service",
		slog.Int64("user_id", userID),
		slog.String("email", info.Email),
	)
	return info, nil
}

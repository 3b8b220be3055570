// Пакет config — загрузка и валидация конфигурации сервиса reimburse
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT (токены выпускает внешний auth-service) ---

	// URL JWKS endpoint auth-service
	AuthJWKSURL string
	// Ожидаемый issuer JWT (опционально, пустое значение отключает проверку)
	AuthIssuer string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Справочник пользователей (auth-service) ---

	// Базовый URL auth-service для lookup данных пользователя (опционально)
	AuthServiceURL string
	// Сервисный токен для запросов к auth-service
	AuthServiceToken string
	// Размер LRU-кэша справочника пользователей
	DirectoryCacheSize int
	// TTL записей кэша справочника
	DirectoryCacheTTL time.Duration

	// --- Почтовые уведомления ---

	// Хост SMTP-сервера; пустое значение отключает уведомления
	SMTPHost string
	// Порт SMTP-сервера
	SMTPPort int
	// Имя пользователя SMTP
	SMTPUser string
	// Пароль SMTP
	SMTPPassword string
	// Адрес отправителя
	MailFrom string
	// Адрес администратора (уведомления о новых заявках)
	MailAdmin string
	// Базовый URL веб-интерфейса (ссылки в письмах)
	WebBaseURL string

	// --- Очередь событий ---

	// Размер буфера очереди событий заявок
	EventQueueSize int

	// --- Мониторинг зависимостей ---

	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// RMS_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("RMS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("RMS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("RMS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// RMS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("RMS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("RMS_LOG_LEVEL: %w", err)
	}

	// RMS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("RMS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("RMS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// RMS_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("RMS_DB_HOST")
	if err != nil {
		return nil, err
	}

	// RMS_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("RMS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("RMS_DB_PORT: %w", err)
	}

	// RMS_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("RMS_DB_NAME")
	if err != nil {
		return nil, err
	}

	// RMS_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("RMS_DB_USER")
	if err != nil {
		return nil, err
	}

	// RMS_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("RMS_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// RMS_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("RMS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("RMS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT ---

	// RMS_AUTH_JWKS_URL — обязательный
	cfg.AuthJWKSURL, err = getEnvRequired("RMS_AUTH_JWKS_URL")
	if err != nil {
		return nil, err
	}

	// RMS_AUTH_ISSUER — ожидаемый issuer (опционально)
	cfg.AuthIssuer = getEnvDefault("RMS_AUTH_ISSUER", "")

	// RMS_JWKS_CLIENT_TIMEOUT — таймаут HTTP-клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("RMS_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RMS_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// RMS_JWT_LEEWAY — допустимое отклонение времени (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("RMS_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RMS_JWT_LEEWAY: %w", err)
	}

	// --- Справочник пользователей ---

	// RMS_AUTH_SERVICE_URL — базовый URL auth-service (опционально)
	cfg.AuthServiceURL = strings.TrimRight(getEnvDefault("RMS_AUTH_SERVICE_URL", ""), "/")

	// RMS_AUTH_SERVICE_TOKEN — сервисный токен (опционально)
	cfg.AuthServiceToken = getEnvDefault("RMS_AUTH_SERVICE_TOKEN", "")

	// RMS_DIRECTORY_CACHE_SIZE — размер LRU-кэша справочника (по умолчанию 1024)
	cfg.DirectoryCacheSize, err = getEnvInt("RMS_DIRECTORY_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("RMS_DIRECTORY_CACHE_SIZE: %w", err)
	}
	if cfg.DirectoryCacheSize < 1 {
		return nil, fmt.Errorf("RMS_DIRECTORY_CACHE_SIZE: значение %d должно быть положительным", cfg.DirectoryCacheSize)
	}

	// RMS_DIRECTORY_CACHE_TTL — TTL записей кэша (по умолчанию 10m)
	cfg.DirectoryCacheTTL, err = getEnvDuration("RMS_DIRECTORY_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("RMS_DIRECTORY_CACHE_TTL: %w", err)
	}

	// --- Почтовые уведомления ---

	// RMS_SMTP_HOST — хост SMTP; пустое значение отключает уведомления
	cfg.SMTPHost = getEnvDefault("RMS_SMTP_HOST", "")

	// RMS_SMTP_PORT — порт SMTP (по умолчанию 587)
	cfg.SMTPPort, err = getEnvInt("RMS_SMTP_PORT", 587)
	if err != nil {
		return nil, fmt.Errorf("RMS_SMTP_PORT: %w", err)
	}

	cfg.SMTPUser = getEnvDefault("RMS_SMTP_USER", "")
	cfg.SMTPPassword = getEnvDefault("RMS_SMTP_PASSWORD", "")

	// RMS_MAIL_FROM — адрес отправителя (обязателен при заданном RMS_SMTP_HOST)
	cfg.MailFrom = getEnvDefault("RMS_MAIL_FROM", "")

	// RMS_MAIL_ADMIN — адрес администратора для уведомлений о новых заявках
	cfg.MailAdmin = getEnvDefault("RMS_MAIL_ADMIN", "")

	// RMS_WEB_BASE_URL — базовый URL веб-интерфейса (ссылки в письмах)
	cfg.WebBaseURL = strings.TrimRight(getEnvDefault("RMS_WEB_BASE_URL", ""), "/")

	if cfg.SMTPHost != "" && cfg.MailFrom == "" {
		return nil, fmt.Errorf("RMS_MAIL_FROM: обязателен при заданном RMS_SMTP_HOST")
	}

	// --- Очередь событий ---

	// RMS_EVENT_QUEUE_SIZE — размер буфера очереди событий (по умолчанию 256)
	cfg.EventQueueSize, err = getEnvInt("RMS_EVENT_QUEUE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("RMS_EVENT_QUEUE_SIZE: %w", err)
	}
	if cfg.EventQueueSize < 1 || cfg.EventQueueSize > 65536 {
		return nil, fmt.Errorf("RMS_EVENT_QUEUE_SIZE: значение %d вне допустимого диапазона 1-65536", cfg.EventQueueSize)
	}

	// --- Мониторинг зависимостей ---

	// RMS_DEPHEALTH_GROUP — имя группы в метриках topologymetrics (по умолчанию reimburse)
	cfg.DephealthGroup = getEnvDefault("RMS_DEPHEALTH_GROUP", "reimburse")

	// RMS_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("RMS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RMS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// RMS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("RMS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RMS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL
// (используется для лейблов метрик topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// NotificationsEnabled сообщает, настроена ли отправка почтовых уведомлений.
func (c *Config) NotificationsEnabled() bool {
	return c.SMTPHost != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

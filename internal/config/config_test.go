package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения и возвращает функцию для их очистки.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"RMS_DB_HOST":       "localhost",
		"RMS_DB_NAME":       "reimburse",
		"RMS_DB_USER":       "reimburse",
		"RMS_DB_PASSWORD":   "secret",
		"RMS_AUTH_JWKS_URL": "https://auth.example.com/.well-known/jwks.json",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	// Проверяем значения по умолчанию
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, ожидается 8080", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.DBHost != "localhost" {
		t.Errorf("DBHost = %q, ожидается localhost", cfg.DBHost)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, ожидается 5432", cfg.DBPort)
	}
	if cfg.DBSSLMode != "disable" {
		t.Errorf("DBSSLMode = %q, ожидается disable", cfg.DBSSLMode)
	}
	if cfg.JWKSClientTimeout != 10*time.Second {
		t.Errorf("JWKSClientTimeout = %v, ожидается 10s", cfg.JWKSClientTimeout)
	}
	if cfg.JWTLeeway != 30*time.Second {
		t.Errorf("JWTLeeway = %v, ожидается 30s", cfg.JWTLeeway)
	}
	if cfg.DirectoryCacheSize != 1024 {
		t.Errorf("DirectoryCacheSize = %d, ожидается 1024", cfg.DirectoryCacheSize)
	}
	if cfg.DirectoryCacheTTL != 10*time.Minute {
		t.Errorf("DirectoryCacheTTL = %v, ожидается 10m", cfg.DirectoryCacheTTL)
	}
	if cfg.SMTPPort != 587 {
		t.Errorf("SMTPPort = %d, ожидается 587", cfg.SMTPPort)
	}
	if cfg.EventQueueSize != 256 {
		t.Errorf("EventQueueSize = %d, ожидается 256", cfg.EventQueueSize)
	}
	if cfg.DephealthCheckInterval != 15*time.Second {
		t.Errorf("DephealthCheckInterval = %v, ожидается 15s", cfg.DephealthCheckInterval)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 5s", cfg.ShutdownTimeout)
	}
	if cfg.NotificationsEnabled() {
		t.Error("NotificationsEnabled() = true при пустом RMS_SMTP_HOST")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	envs := minimalEnvs()
	envs["RMS_PORT"] = "9090"
	envs["RMS_LOG_LEVEL"] = "debug"
	envs["RMS_LOG_FORMAT"] = "text"
	envs["RMS_DB_PORT"] = "5433"
	envs["RMS_DB_SSL_MODE"] = "require"
	envs["RMS_AUTH_ISSUER"] = "https://auth.example.com"
	envs["RMS_AUTH_SERVICE_URL"] = "https://auth.example.com/api/"
	envs["RMS_AUTH_SERVICE_TOKEN"] = "svc-token"
	envs["RMS_DIRECTORY_CACHE_SIZE"] = "64"
	envs["RMS_DIRECTORY_CACHE_TTL"] = "5m"
	envs["RMS_SMTP_HOST"] = "smtp.example.com"
	envs["RMS_SMTP_PORT"] = "465"
	envs["RMS_MAIL_FROM"] = "noreply@example.com"
	envs["RMS_MAIL_ADMIN"] = "finance@example.com"
	envs["RMS_WEB_BASE_URL"] = "https://portal.example.com/"
	envs["RMS_EVENT_QUEUE_SIZE"] = "512"
	envs["RMS_SHUTDOWN_TIMEOUT"] = "10s"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, ожидается 9090", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидается Debug", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, ожидается text", cfg.LogFormat)
	}
	if cfg.DBPort != 5433 {
		t.Errorf("DBPort = %d, ожидается 5433", cfg.DBPort)
	}
	if cfg.DBSSLMode != "require" {
		t.Errorf("DBSSLMode = %q, ожидается require", cfg.DBSSLMode)
	}
	if cfg.AuthIssuer != "https://auth.example.com" {
		t.Errorf("AuthIssuer = %q, ожидается https://auth.example.com", cfg.AuthIssuer)
	}
	// trailing slash убирается
	if cfg.AuthServiceURL != "https://auth.example.com/api" {
		t.Errorf("AuthServiceURL = %q, ожидается без trailing slash", cfg.AuthServiceURL)
	}
	if cfg.AuthServiceToken != "svc-token" {
		t.Errorf("AuthServiceToken = %q, ожидается svc-token", cfg.AuthServiceToken)
	}
	if cfg.DirectoryCacheSize != 64 {
		t.Errorf("DirectoryCacheSize = %d, ожидается 64", cfg.DirectoryCacheSize)
	}
	if cfg.DirectoryCacheTTL != 5*time.Minute {
		t.Errorf("DirectoryCacheTTL = %v, ожидается 5m", cfg.DirectoryCacheTTL)
	}
	if cfg.SMTPHost != "smtp.example.com" || cfg.SMTPPort != 465 {
		t.Errorf("SMTP = %s:%d, ожидается smtp.example.com:465", cfg.SMTPHost, cfg.SMTPPort)
	}
	if cfg.WebBaseURL != "https://portal.example.com" {
		t.Errorf("WebBaseURL = %q, ожидается без trailing slash", cfg.WebBaseURL)
	}
	if cfg.EventQueueSize != 512 {
		t.Errorf("EventQueueSize = %d, ожидается 512", cfg.EventQueueSize)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 10s", cfg.ShutdownTimeout)
	}
	if !cfg.NotificationsEnabled() {
		t.Error("NotificationsEnabled() = false при заданном RMS_SMTP_HOST")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	requiredVars := []string{
		"RMS_DB_HOST", "RMS_DB_NAME", "RMS_DB_USER", "RMS_DB_PASSWORD",
		"RMS_AUTH_JWKS_URL",
	}

	for _, missing := range requiredVars {
		t.Run(missing, func(t *testing.T) {
			envs := minimalEnvs()
			delete(envs, missing)
			// Очищаем все переменные окружения
			for k := range minimalEnvs() {
				os.Unsetenv(k)
			}
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Errorf("Load() не вернул ошибку при отсутствии %s", missing)
			}
		})
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"ниже диапазона", "0"},
		{"выше диапазона", "70000"},
		{"не число", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs["RMS_PORT"] = tt.value
			for k := range minimalEnvs() {
				os.Unsetenv(k)
			}
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Errorf("Load() не вернул ошибку при RMS_PORT=%q", tt.value)
			}
		})
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	envs := minimalEnvs()
	envs["RMS_LOG_LEVEL"] = "verbose"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при RMS_LOG_LEVEL=verbose")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	envs := minimalEnvs()
	envs["RMS_LOG_FORMAT"] = "xml"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при RMS_LOG_FORMAT=xml")
	}
}

func TestLoad_InvalidSSLMode(t *testing.T) {
	envs := minimalEnvs()
	envs["RMS_DB_SSL_MODE"] = "prefer"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при RMS_DB_SSL_MODE=prefer")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	envs := minimalEnvs()
	envs["RMS_DIRECTORY_CACHE_TTL"] = "abc"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при RMS_DIRECTORY_CACHE_TTL=abc")
	}
}

func TestLoad_InvalidEventQueueSize(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"слишком маленький", "0"},
		{"слишком большой", "100000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs["RMS_EVENT_QUEUE_SIZE"] = tt.value
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Errorf("Load() не вернул ошибку при RMS_EVENT_QUEUE_SIZE=%q", tt.value)
			}
		})
	}
}

func TestLoad_SMTPRequiresMailFrom(t *testing.T) {
	envs := minimalEnvs()
	envs["RMS_SMTP_HOST"] = "smtp.example.com"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при RMS_SMTP_HOST без RMS_MAIL_FROM")
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.example.com",
		DBPort:     5432,
		DBName:     "reimburse",
		DBUser:     "user",
		DBPassword: "pass",
		DBSSLMode:  "disable",
	}
	expected := "host=db.example.com port=5432 dbname=reimburse user=user password=pass sslmode=disable"
	if dsn := cfg.DatabaseDSN(); dsn != expected {
		t.Errorf("DatabaseDSN() = %q, ожидается %q", dsn, expected)
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
	}{
		{"json", "json"},
		{"text", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel:  slog.LevelInfo,
				LogFormat: tt.format,
			}
			logger := SetupLogger(cfg)
			if logger == nil {
				t.Error("SetupLogger() вернул nil")
			}
		})
	}
}

// Точка входа сервиса reimburse — учёт заявок на возмещение расходов.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт сервисный слой и API handlers, запускает очередь событий,
// email-уведомления, topologymetrics, HTTP-сервер с JWT middleware
// и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/rms/reimburse/internal/api/handlers"
	"github.com/rms/reimburse/internal/api/middleware"
	"github.com/rms/reimburse/internal/config"
	"github.com/rms/reimburse/internal/database"
	"github.com/rms/reimburse/internal/directory"
	"github.com/rms/reimburse/internal/notify"
	"github.com/rms/reimburse/internal/repository"
	"github.com/rms/reimburse/internal/server"
	"github.com/rms/reimburse/internal/service"
	"github.com/rms/reimburse/internal/vault"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Сервис reimburse запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("RMS_DEPHEALTH_GROUP") == "" {
		logger.Warn("RMS_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL будет идти через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repository и хранилище чеков
	claimRepo := repository.NewClaimRepository(pool)
	receiptVault := vault.New(claimRepo, logger)

	// 6. Справочник пользователей auth-service (опционально).
	// Без справочника снимки владельца остаются пустыми,
	// заявки при этом обрабатываются полноценно.
	var users directory.UserDirectory
	if cfg.AuthServiceURL != "" {
		users = directory.NewClient(
			cfg.AuthServiceURL,
			cfg.AuthServiceToken,
			cfg.DirectoryCacheSize,
			cfg.DirectoryCacheTTL,
			logger,
		)
		logger.Info("Справочник пользователей подключен",
			slog.String("url", cfg.AuthServiceURL),
		)
	} else {
		logger.Info("RMS_AUTH_SERVICE_URL не задан, снимки владельцев будут пустыми")
	}

	// 7. Очередь событий заявок
	publisher := service.NewChannelPublisher(cfg.EventQueueSize, logger)

	// 8. Services
	claimsSvc := service.NewClaimService(claimRepo, receiptVault, users, publisher, logger)
	listingSvc := service.NewListingService(claimRepo, logger)
	exportSvc := service.NewExportService(claimRepo, logger)

	// 9. Email-уведомления (опционально, если задан RMS_SMTP_HOST)
	var notifier *notify.Notifier
	if cfg.NotificationsEnabled() {
		mailer, mailErr := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
		if mailErr != nil {
			logger.Error("Ошибка создания SMTP-клиента", slog.String("error", mailErr.Error()))
			os.Exit(1)
		}

		notifier = notify.New(mailer, cfg.MailAdmin, cfg.WebBaseURL, logger)
		notifier.Start(publisher.Events())
		logger.Info("Email-уведомления включены",
			slog.String("smtp_host", cfg.SMTPHost),
			slog.Int("smtp_port", cfg.SMTPPort),
		)
	} else {
		// Без потребителя полный буфер молча роняет события,
		// поэтому канал вычитывается вхолостую.
		go func() {
			for range publisher.Events() {
			}
		}()
		logger.Info("RMS_SMTP_HOST не задан, email-уведомления отключены")
	}

	// 10. topologymetrics — мониторинг зависимостей (PostgreSQL + auth-service)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"reimburse",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.AuthJWKSURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 11. Readiness checkers (PostgreSQL + auth-service)
	pgChecker := database.NewReadinessChecker(pool)
	authChecker := middleware.NewAuthReadinessChecker(cfg.AuthJWKSURL, cfg.JWKSClientTimeout)
	healthHandler := handlers.NewHealthHandler(pgChecker, authChecker)

	// 12. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, claimsSvc, listingSvc, exportSvc, logger)

	// 13. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.AuthJWKSURL,
		cfg.AuthIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.AuthJWKSURL),
		slog.String("issuer", cfg.AuthIssuer),
	)

	// 14. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. Graceful shutdown фоновых задач.
	// Порядок: закрыть очередь событий (producers уже остановлены вместе
	// с HTTP-сервером), дождаться отправки последних писем, остановить
	// мониторинг зависимостей.
	logger.Info("Останавливаем фоновые задачи...")

	publisher.Close()
	if notifier != nil {
		notifier.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Сервис reimburse остановлен")
}

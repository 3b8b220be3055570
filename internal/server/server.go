// Пакет server — HTTP-сервер сервиса возмещений с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rms/reimburse/internal/api/handlers"
	"github.com/rms/reimburse/internal/api/middleware"
	"github.com/rms/reimburse/internal/config"
)

// Server — HTTP-сервер сервиса возмещений.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware (может быть nil для тестирования без auth).
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, jwtAuth *middleware.JWTAuth) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggingMiddleware(logger))

	// Публичные endpoints: health проверяется Kubernetes напрямую,
	// без API Gateway и без JWT.
	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)

	// Защищённое API
	router.Route("/api", func(api chi.Router) {
		if jwtAuth != nil {
			api.Use(jwtAuth.Middleware())
		}

		api.Route("/claims", func(r chi.Router) {
			r.Post("/", handler.CreateClaims)
			r.Get("/me/{statusKey}", handler.ListOwnClaims)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handler.GetClaim)
				r.Put("/", handler.UpdateClaim)
				r.Patch("/resubmit", handler.ResubmitClaim)
				r.Post("/change-request", handler.ChangeRequest)

				r.Post("/receipt", handler.UploadReceipt)
				r.Head("/receipt", handler.HeadReceipt)
				r.Get("/receipt", handler.DownloadReceipt)
			})
		})

		api.Route("/admin/claims", func(r chi.Router) {
			r.Get("/export", handler.ExportClaims)
			r.Get("/{statusKey}", handler.ListAdminClaims)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/approve", handler.ApproveClaim)
				r.Patch("/reject", handler.RejectClaim)
				r.Patch("/recall", handler.RecallClaim)
				r.Patch("/recall/cancel", handler.CancelRecall)
				r.Patch("/recall/request-attachment", handler.RequestAttachment)
			})
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}

// events.go — очередь событий жизненного цикла заявок.
//
// Движок жизненного цикла публикует событие после фиксации транзакции;
// фоновые потребители (уведомления) читают из канала. Публикация
// неблокирующая: при переполненном буфере событие отбрасывается
// с записью в лог — сбои уведомлений никогда не влияют на ответ
// клиенту и не откатывают переход.
package service

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rms/reimburse/internal/domain/model"
)

// Prometheus-метрики очереди событий.
var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rms_claim_events_total",
		Help: "Количество опубликованных событий заявок",
	}, []string{"type"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rms_claim_events_dropped_total",
		Help: "Количество событий, отброшенных из-за переполнения буфера",
	})
)

// EventPublisher — публикация событий жизненного цикла.
type EventPublisher interface {
	Publish(ev model.ClaimEvent)
}

// ChannelPublisher — очередь событий на буферизованном канале.
type ChannelPublisher struct {
	ch     chan model.ClaimEvent
	logger *slog.Logger
}

// NewChannelPublisher создаёт очередь с буфером заданного размера.
func NewChannelPublisher(size int, logger *slog.Logger) *ChannelPublisher {
	return &ChannelPublisher{
		ch:     make(chan model.ClaimEvent, size),
		logger: logger.With(slog.String("component", "events")),
	}
}

// Publish кладёт событие в очередь, не блокируясь.
// При переполненном буфере событие отбрасывается с записью в лог.
func (p *ChannelPublisher) Publish(ev model.ClaimEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	select {
	case p.ch <- ev:
		eventsPublished.WithLabelValues(string(ev.Type)).Inc()
	default:
		eventsDropped.Inc()
		p.logger.Warn("Буфер очереди событий переполнен, событие отброшено",
			slog.String("type", string(ev.Type)),
			slog.String("claim_id", ev.Claim.ID),
		)
	}
}

// Events возвращает канал для потребителей.
func (p *ChannelPublisher) Events() <-chan model.ClaimEvent {
	return p.ch
}

// Close закрывает очередь. Вызывается после остановки публикующих
// сервисов; потребители завершаются по закрытию канала.
func (p *ChannelPublisher) Close() {
	close(p.ch)
}

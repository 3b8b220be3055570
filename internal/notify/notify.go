// Пакет notify — асинхронные email-уведомления о событиях заявок.
//
// Notifier запускает фоновую горутину, читающую события из очереди
// движка жизненного цикла. Письма отправляются владельцу заявки
// (согласование, отклонение, отзыв) и администратору (новая заявка).
// Сбой отправки логируется и не влияет ни на что: событие уже
// произошло, ответ клиенту давно отдан.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wneessen/go-mail"

	"github.com/rms/reimburse/internal/domain/model"
)

// Prometheus-метрики отправки уведомлений.
var (
	mailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rms_notify_mails_total",
		Help: "Количество отправленных email-уведомлений",
	}, []string{"event"})

	mailsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rms_notify_mails_failed_total",
		Help: "Количество неудачных отправок email-уведомлений",
	}, []string{"event"})
)

// sendTimeout — потолок времени на отправку одного письма.
const sendTimeout = 30 * time.Second

// Mailer — отправка одного письма.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig — параметры SMTP-сервера.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// SMTPMailer — отправка писем через go-mail.
type SMTPMailer struct {
	client *mail.Client
	from   string
}

// NewSMTPMailer создаёт SMTP-отправителя.
// Аутентификация включается только при заданном пользователе.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("создание SMTP-клиента: %w", err)
	}
	return &SMTPMailer{client: client, from: cfg.From}, nil
}

// Send отправляет одно письмо.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("адрес отправителя: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("адрес получателя: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	return m.client.DialAndSendWithContext(ctx, msg)
}

// Notifier — фоновый потребитель событий заявок.
type Notifier struct {
	mailer Mailer
	// adminEmail — получатель уведомлений о новых заявках;
	// пустое значение отключает письма администратору
	adminEmail string
	// baseURL — адрес веб-интерфейса для ссылок в письмах
	baseURL string
	logger  *slog.Logger

	done chan struct{}
}

// New создаёт отправителя уведомлений.
func New(mailer Mailer, adminEmail, baseURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		mailer:     mailer,
		adminEmail: adminEmail,
		baseURL:    baseURL,
		logger:     logger.With(slog.String("component", "notify")),
	}
}

// Start запускает фоновую горутину, читающую события из канала.
// Горутина завершается по закрытию канала событий.
func (n *Notifier) Start(events <-chan model.ClaimEvent) {
	n.done = make(chan struct{})

	go func() {
		defer close(n.done)

		n.logger.Info("Отправка email-уведомлений запущена")

		for ev := range events {
			n.handle(ev)
		}

		n.logger.Info("Отправка email-уведомлений остановлена")
	}()
}

// Stop ждёт завершения фоновой горутины.
// Вызывается после закрытия канала событий.
func (n *Notifier) Stop() {
	if n.done != nil {
		<-n.done
	}
}

// handle отправляет письма по одному событию.
func (n *Notifier) handle(ev model.ClaimEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	for _, m := range n.compose(ev) {
		if err := n.mailer.Send(ctx, m.to, m.subject, m.body); err != nil {
			mailsFailed.WithLabelValues(string(ev.Type)).Inc()
			n.logger.Error("Ошибка отправки уведомления",
				slog.String("event", string(ev.Type)),
				slog.String("claim_id", ev.Claim.ID),
				slog.String("to", m.to),
				slog.String("error", err.Error()),
			)
			continue
		}
		mailsSent.WithLabelValues(string(ev.Type)).Inc()
		n.logger.Info("Уведомление отправлено",
			slog.String("event", string(ev.Type)),
			slog.String("claim_id", ev.Claim.ID),
			slog.String("to", m.to),
		)
	}
}

type message struct {
	to      string
	subject string
	body    string
}

// compose собирает письма по событию: владельцу — про решение по его
// заявке, администратору — про новую заявку. Без известного адреса
// письмо не собирается.
func (n *Notifier) compose(ev model.ClaimEvent) []message {
	c := ev.Claim
	var out []message

	switch ev.Type {
	case model.EventClaimCreated:
		if n.adminEmail != "" {
			out = append(out, message{
				to:      n.adminEmail,
				subject: fmt.Sprintf("Новая заявка на возмещение: %s", c.Title),
				body: n.body(
					fmt.Sprintf("Поступила новая заявка на возмещение от %s.", ownerLabel(&c)),
					&c,
				),
			})
		}
	case model.EventClaimApproved:
		if c.OwnerEmail != "" {
			out = append(out, message{
				to:      c.OwnerEmail,
				subject: fmt.Sprintf("Заявка согласована: %s", c.Title),
				body:    n.body("Ваша заявка на возмещение согласована.", &c),
			})
		}
	case model.EventClaimRejected:
		if c.OwnerEmail != "" {
			out = append(out, message{
				to:      c.OwnerEmail,
				subject: fmt.Sprintf("Заявка отклонена: %s", c.Title),
				body: n.body(
					fmt.Sprintf("Ваша заявка на возмещение отклонена.\nКомментарий: %s", c.AdminComment),
					&c,
				),
			})
		}
	case model.EventClaimRecalled:
		if c.OwnerEmail != "" {
			out = append(out, message{
				to:      c.OwnerEmail,
				subject: fmt.Sprintf("Заявка отозвана на доработку: %s", c.Title),
				body: n.body(
					fmt.Sprintf("Ваша заявка отозвана администратором на доработку.\nПричина: %s", c.RecallReason),
					&c,
				),
			})
		}
	}
	return out
}

// body собирает текст письма: вводная строка, карточка заявки,
// ссылка на веб-интерфейс (если настроен).
func (n *Notifier) body(intro string, c *model.Claim) string {
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Заявка: %s\n", c.Title)
	fmt.Fprintf(&b, "Тип расходов: %s\n", c.ClaimType)
	fmt.Fprintf(&b, "Сумма: %d %s\n", c.AmountCents, c.CurrencyCode)
	fmt.Fprintf(&b, "Статус: %s\n", c.Status)
	if n.baseURL != "" {
		fmt.Fprintf(&b, "\nПодробнее: %s/claims/%s\n", n.baseURL, c.ID)
	}
	return b.String()
}

func ownerLabel(c *model.Claim) string {
	if c.OwnerName != "" {
		return c.OwnerName
	}
	if c.OwnerEmail != "" {
		return c.OwnerEmail
	}
	return fmt.Sprintf("пользователя #%d", c.OwnerID)
}

package alerting

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Message 封装一次阈值告警的上下文。
type Message struct {
	Symbol      string
	Price       decimal.Decimal
	Direction   string
	Threshold   decimal.Decimal
	Severity    string
	TriggeredAt time.Time
}

// Notifier delivers one alert message to a destination address.
// A returned error means delivery failed; implementations never panic.
type Notifier interface {
	Notify(ctx context.Context, to string, msg Message) error
}

// SMTPOptions parameterise the mail notifier.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
}

// SMTPNotifier 通过 SMTP 推送纯文本告警邮件。
type SMTPNotifier struct {
	opts   SMTPOptions
	logger zerolog.Logger
}

// NewSMTPNotifier 构造邮件告警器。
func NewSMTPNotifier(opts SMTPOptions, logger zerolog.Logger) *SMTPNotifier {
	if opts.Host == "" {
		opts.Host = "smtp.gmail.com"
	}
	if opts.Port <= 0 {
		opts.Port = 587
	}
	if opts.From == "" {
		opts.From = opts.Username
	}

	return &SMTPNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "alert_mailer").Logger(),
	}
}

// Notify renders and sends the alert mail to one recipient.
func (n *SMTPNotifier) Notify(ctx context.Context, to string, msg Message) error {
	sender, err := shoutrrr.CreateSender(n.serviceURL(to))
	if err != nil {
		return fmt.Errorf("create smtp sender: %w", err)
	}

	params := types.Params{"subject": renderSubject(msg)}
	for _, sendErr := range sender.Send(renderBody(msg), &params) {
		if sendErr != nil {
			return fmt.Errorf("send alert mail: %w", sendErr)
		}
	}

	n.logger.Info().
		Str("to", to).
		Str("symbol", msg.Symbol).
		Str("severity", msg.Severity).
		Msg("告警邮件已发送")
	return nil
}

func (n *SMTPNotifier) serviceURL(to string) string {
	query := url.Values{}
	query.Set("from", n.opts.From)
	query.Set("to", to)
	if n.opts.StartTLS {
		query.Set("useStartTLS", "yes")
	} else {
		query.Set("useStartTLS", "no")
	}

	serviceURL := url.URL{
		Scheme:   "smtp",
		User:     url.UserPassword(n.opts.Username, n.opts.Password),
		Host:     fmt.Sprintf("%s:%d", n.opts.Host, n.opts.Port),
		Path:     "/",
		RawQuery: query.Encode(),
	}
	return serviceURL.String()
}

func renderSubject(msg Message) string {
	return fmt.Sprintf("[%s] %s crossed threshold %s",
		strings.ToUpper(msg.Severity), msg.Symbol, msg.Threshold.String())
}

func renderBody(msg Message) string {
	builder := strings.Builder{}
	builder.WriteString("This is an automated message from the volatility alert service.\n")
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Symbol: %s\n", msg.Symbol))
	builder.WriteString(fmt.Sprintf("Latest close: %s\n", msg.Price.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Condition: %s %s %s\n", msg.Symbol, msg.Direction, msg.Threshold.String()))
	builder.WriteString(fmt.Sprintf("Severity: %s\n", msg.Severity))
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Triggered at (UTC): %s\n", msg.TriggeredAt.UTC().Format("2006-01-02 15:04:05")))
	return builder.String()
}

var _ Notifier = (*SMTPNotifier)(nil)

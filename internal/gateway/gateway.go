// Package gateway abstracts outbound mail delivery. The dispatch engine only
// sees the Gateway interface; SMTP details stay here.
package gateway

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/mkrasnov/autosend/pkg/config"
	"github.com/mkrasnov/autosend/pkg/logx"
)

// Gateway delivers one message to one address.
type Gateway interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Error wraps a transport failure with the detail recorded in the delivery log.
type Error struct {
	To     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway send to %s: %s", e.To, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// SMTP sends through a configured SMTP relay via gomail.
type SMTP struct {
	dialer  *gomail.Dialer
	from    string
	timeout time.Duration
}

func NewSMTP(cfg *config.SMTPConfig) *SMTP {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	return &SMTP{
		dialer:  d,
		from:    cfg.From,
		timeout: cfg.SendTimeout,
	}
}

// Send dials, sends, and closes per message. gomail has no context support,
// so the call runs in a goroutine and the timeout abandons it; an abandoned
// send is reported as an error and recorded like any other failure.
func (g *SMTP) Send(ctx context.Context, to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", g.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- g.dialer.DialAndSend(msg) }()

	select {
	case err := <-done:
		if err != nil {
			return &Error{To: to, Detail: err.Error(), Err: err}
		}
		return nil
	case <-ctx.Done():
		return &Error{To: to, Detail: "send timed out: " + ctx.Err().Error(), Err: ctx.Err()}
	}
}

// Console logs instead of sending. Development mode, mirrors production
// behaviour without a relay.
type Console struct{}

func (Console) Send(ctx context.Context, to, subject, body string) error {
	logx.L().Infow("console_send", "to", to, "subject", subject, "bytes", len(body))
	return nil
}

// FromConfig picks the SMTP gateway, or the console gateway when configured
// for console-only operation.
func FromConfig(cfg *config.SMTPConfig) Gateway {
	if cfg.ConsoleOnly {
		logx.L().Infow("gateway_console_mode")
		return Console{}
	}
	return NewSMTP(cfg)
}

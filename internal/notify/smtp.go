package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/tracyhatemice/mailbot/internal/state"
)

// SMTP mirrors notifications to a fixed mailbox, one mail per notification.
type SMTP struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	to       string
	logger   *slog.Logger

	// send is swapped in tests.
	send func(ctx context.Context, from, to string, msg []byte) error
}

// NewSMTP creates an SMTP mirror that mails every notification to forwardTo.
func NewSMTP(host string, port int, username, password string, useTLS bool, forwardTo string, logger *slog.Logger) *SMTP {
	s := &SMTP{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		to:       forwardTo,
		logger:   logger,
	}
	s.send = s.deliver
	return s
}

func (s *SMTP) Notify(ctx context.Context, user state.UserID, text string) error {
	from := s.username
	if from == "" {
		from = "mailbot@localhost"
	}

	msg, err := compose(from, s.to, user, text, time.Now())
	if err != nil {
		return fmt.Errorf("compose mirror mail: %w", err)
	}
	if err := s.send(ctx, from, s.to, msg); err != nil {
		return fmt.Errorf("mirror to %s: %w", s.to, err)
	}
	return nil
}

func compose(from, to string, user state.UserID, text string, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: "mailbot", Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(fmt.Sprintf("mailbot notification for chat %s", user))
	h.Set("X-Mailbot-Chat", user.String())
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, text); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *SMTP) deliver(ctx context.Context, from, to string, msg []byte) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	dialer := &net.Dialer{Timeout: 30 * time.Second}

	var client *smtp.Client
	if s.useTLS {
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: s.host})
		if err != nil {
			return fmt.Errorf("smtp tls dial %s: %w", addr, err)
		}
		client, err = smtp.NewClient(conn, s.host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("smtp new client: %w", err)
		}
	} else {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("smtp dial %s: %w", addr, err)
		}
		client, err = smtp.NewClient(conn, s.host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("smtp new client: %w", err)
		}
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
				s.logger.Warn("STARTTLS failed, continuing without TLS", "error", err)
			}
		}
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	if s.username != "" && s.password != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pop3client "github.com/knadh/go-pop3"
)

// POP3 serves addresses of a catch-all mailbox reachable over POP3/POP3S.
// POP3 has no server-side search, so every poll downloads the whole drop and
// filters by recipient.
type POP3 struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	domains  []string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPOP3 creates a POP3 provider.
func NewPOP3(host string, port int, username, password string, useTLS bool, domains []string, timeout time.Duration, logger *slog.Logger) *POP3 {
	return &POP3{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		domains:  domains,
		timeout:  timeout,
		logger:   logger,
	}
}

func (p *POP3) ListDomains(context.Context) []string {
	return append([]string{}, p.domains...)
}

func (p *POP3) ListMessages(ctx context.Context, address string) []Message {
	parsed, err := p.fetch(ctx, address)
	if err != nil {
		p.logger.Warn("failed to list messages", "address", address, "error", err)
		return []Message{}
	}
	msgs := make([]Message, 0, len(parsed))
	for _, pm := range parsed {
		msgs = append(msgs, pm.Message)
	}
	return msgs
}

func (p *POP3) ListAttachments(ctx context.Context, address string, limit, offset int) []Attachment {
	parsed, err := p.fetch(ctx, address)
	if err != nil {
		p.logger.Warn("failed to list attachments", "address", address, "error", err)
		return []Attachment{}
	}
	var all []Attachment
	for _, pm := range parsed {
		all = append(all, pm.Attachments...)
	}
	return pageOf(all, limit, offset)
}

func (p *POP3) fetch(ctx context.Context, address string) ([]*parsedMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client := pop3client.New(pop3client.Opt{
		Host:        p.host,
		Port:        p.port,
		TLSEnabled:  p.useTLS,
		DialTimeout: p.timeout,
		Dialer:      &contextDialer{ctx: ctx},
	})
	conn, err := client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("pop3 connect %s:%d: %w", p.host, p.port, err)
	}
	defer conn.Quit()

	if err := conn.Auth(p.username, p.password); err != nil {
		return nil, fmt.Errorf("pop3 auth %s: %w", p.username, err)
	}

	msgs, err := conn.List(0)
	if err != nil {
		return nil, fmt.Errorf("pop3 list: %w", err)
	}

	var out []*parsedMessage
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pop3 retrieve: %w", err)
		}

		rawBuf, err := conn.RetrRaw(msg.ID)
		if err != nil {
			p.logger.Warn("pop3 retrieve failed", "msg_id", msg.ID, "error", err)
			continue
		}

		fallbackID := fmt.Sprintf("pop3-%d-%s", msg.ID, p.username)
		if msg.UID != "" {
			fallbackID = fmt.Sprintf("pop3-uid-%s-%s", msg.UID, p.username)
		}

		pm, err := parseRaw(rawBuf.Bytes(), fallbackID)
		if err != nil {
			p.logger.Warn("unparseable message, skipping", "msg_id", fallbackID, "error", err)
			continue
		}
		if !pm.addressedTo(address) {
			continue
		}
		out = append(out, pm)
	}
	return out, nil
}

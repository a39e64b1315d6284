package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAP serves addresses of a catch-all mailbox reachable over IMAP/IMAPS.
// Domains are fixed by configuration; messages are matched to an address by
// their recipient headers.
type IMAP struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	folder   string
	domains  []string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewIMAP creates an IMAP provider.
func NewIMAP(host string, port int, username, password string, useTLS bool, folder string, domains []string, timeout time.Duration, logger *slog.Logger) *IMAP {
	if folder == "" {
		folder = "INBOX"
	}
	return &IMAP{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		folder:   folder,
		domains:  domains,
		timeout:  timeout,
		logger:   logger,
	}
}

func (p *IMAP) ListDomains(context.Context) []string {
	return append([]string{}, p.domains...)
}

func (p *IMAP) ListMessages(ctx context.Context, address string) []Message {
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

func (p *IMAP) ListAttachments(ctx context.Context, address string, limit, offset int) []Attachment {
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

func (p *IMAP) fetch(ctx context.Context, address string) ([]*parsedMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	addr := net.JoinHostPort(p.host, strconv.Itoa(p.port))

	dialer := &contextDialer{ctx: ctx}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}
	if p.useTLS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: p.host, NextProtos: []string{"imap"}})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("imap tls handshake %s: %w", addr, err)
		}
		conn = tlsConn
	}

	client := imapclient.New(conn, nil)
	defer client.Close()

	if err := client.Login(p.username, p.password).Wait(); err != nil {
		return nil, fmt.Errorf("imap login %s: %w", p.username, err)
	}
	defer client.Logout()

	if _, err := client.Select(p.folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", p.folder, err)
	}

	criteria := &imap.SearchCriteria{}
	criteria.Or = append(criteria.Or, [2]imap.SearchCriteria{
		{Header: []imap.SearchCriteriaHeaderField{{Key: "To", Value: address}}},
		{Header: []imap.SearchCriteriaHeaderField{{Key: "Cc", Value: address}}},
	})
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	var uidSet imap.UIDSet
	uidSet.AddNum(uids...)
	bodySection := &imap.FetchItemBodySection{Peek: true}
	buffers, err := client.Fetch(uidSet, &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	var out []*parsedMessage
	for _, buf := range buffers {
		fallbackID := fmt.Sprintf("imap-%d-%s", buf.UID, p.username)
		if buf.Envelope != nil && buf.Envelope.MessageID != "" {
			fallbackID = buf.Envelope.MessageID
		}

		content := buf.FindBodySection(bodySection)
		if len(content) == 0 {
			p.logger.Warn("empty body, skipping", "msg_id", fallbackID)
			continue
		}

		pm, err := parseRaw(content, fallbackID)
		if err != nil {
			p.logger.Warn("unparseable message, skipping", "msg_id", fallbackID, "error", err)
			continue
		}
		// SEARCH matches substrings; keep exact recipients only.
		if !pm.addressedTo(address) {
			continue
		}
		out = append(out, pm)
	}
	return out, nil
}

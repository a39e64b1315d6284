package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
)

// REST is a client for the temp-mail HTTP API:
//
//	GET {base}/domains
//	GET {base}/mailboxes/{address}/messages
//	GET {base}/mailboxes/{address}/attachments?limit=N&offset=M
type REST struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// StatusError is a non-2xx response from the mail API.
type StatusError struct {
	Code int
	Path string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mail api error (%d) on GET %s: %s", e.Code, e.Path, e.Body)
}

type restMessage struct {
	ID             string `json:"id"`
	From           string `json:"from"`
	Subject        string `json:"subject"`
	Intro          string `json:"intro"`
	HasAttachments bool   `json:"hasAttachments"`
}

type restAttachment struct {
	MessageID   string `json:"messageId"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadUrl"`
}

// NewREST creates a REST provider. Each request is bounded by timeout.
func NewREST(baseURL string, timeout time.Duration, logger *slog.Logger) *REST {
	settings := gobreaker.Settings{
		Name:        "mail-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &REST{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cb:         gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

// breakerSuccess keeps client errors such as an unknown mailbox from tripping
// the breaker. Transport errors, timeouts and 5xx responses count as failures.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code < http.StatusInternalServerError
}

func (p *REST) ListDomains(ctx context.Context) []string {
	var domains []string
	if err := p.get(ctx, "/domains", &domains); err != nil {
		p.logger.Warn("failed to list domains", "error", err)
		return []string{}
	}

	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func (p *REST) ListMessages(ctx context.Context, address string) []Message {
	var raw []restMessage
	if err := p.get(ctx, "/mailboxes/"+url.PathEscape(address)+"/messages", &raw); err != nil {
		p.logger.Warn("failed to list messages", "address", address, "error", err)
		return []Message{}
	}

	msgs := make([]Message, 0, len(raw))
	for _, m := range raw {
		if m.ID == "" {
			p.logger.Debug("skipping message without id", "address", address)
			continue
		}
		msgs = append(msgs, Message{
			ID:             m.ID,
			From:           m.From,
			Subject:        m.Subject,
			Intro:          m.Intro,
			HasAttachments: m.HasAttachments,
		})
	}
	return msgs
}

func (p *REST) ListAttachments(ctx context.Context, address string, limit, offset int) []Attachment {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	path := "/mailboxes/" + url.PathEscape(address) + "/attachments?" + q.Encode()

	var raw []restAttachment
	if err := p.get(ctx, path, &raw); err != nil {
		p.logger.Warn("failed to list attachments", "address", address, "error", err)
		return []Attachment{}
	}

	atts := make([]Attachment, 0, len(raw))
	for _, a := range raw {
		atts = append(atts, Attachment{
			MessageID: a.MessageID,
			Filename:  a.Filename,
			Size:      a.Size,
			URL:       a.DownloadURL,
		})
	}
	return atts
}

// get performs a GET through the circuit breaker and decodes the JSON body
// into result.
func (p *REST) get(ctx context.Context, path string, result any) error {
	body, err := p.cb.Execute(func() (interface{}, error) {
		return p.do(ctx, path)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("mail api unavailable: %w", err)
		}
		return err
	}

	if err := json.Unmarshal(body.([]byte), result); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

func (p *REST) do(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Code: resp.StatusCode,
			Path: path,
			Body: strings.TrimSpace(string(body[:min(len(body), 512)])),
		}
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("response from GET %s exceeds %d bytes", path, maxResponseBytes)
	}
	return body, nil
}

// Package provider talks to the disposable-mail backend. Every operation
// degrades to an empty result on failure; errors are logged, not returned.
package provider

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
)

// ErrNoDomains is returned by GenerateAddress when no domain is available.
var ErrNoDomains = errors.New("no mail domains available")

const (
	localPartLength = 8
	localPartChars  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Message is one mail as reported by the provider.
type Message struct {
	ID             string
	From           string
	Subject        string
	Intro          string
	HasAttachments bool
}

// Attachment is one file as reported by the provider. MessageID is empty when
// the provider cannot scope attachments to a message.
type Attachment struct {
	MessageID string
	Filename  string
	Size      int64
	URL       string
}

// Provider lists domains, messages and attachments of a mail backend.
type Provider interface {
	// ListDomains returns the domains addresses may be created under. An
	// empty result means the provider is unavailable.
	ListDomains(ctx context.Context) []string

	// ListMessages returns the messages received at address in provider order.
	ListMessages(ctx context.Context, address string) []Message

	// ListAttachments returns a page of attachments received at address.
	ListAttachments(ctx context.Context, address string, limit, offset int) []Attachment
}

// GenerateAddress builds a random address under one of domains.
func GenerateAddress(domains []string) (string, error) {
	if len(domains) == 0 {
		return "", ErrNoDomains
	}

	local := make([]byte, localPartLength)
	for i := range local {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(localPartChars))))
		if err != nil {
			return "", err
		}
		local[i] = localPartChars[n.Int64()]
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(domains))))
	if err != nil {
		return "", err
	}
	return string(local) + "@" + domains[n.Int64()], nil
}

// pageOf applies limit and offset to attachments. A non-positive limit
// returns everything after offset.
func pageOf(all []Attachment, limit, offset int) []Attachment {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []Attachment{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

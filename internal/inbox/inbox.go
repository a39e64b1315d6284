// Package inbox implements the user-facing address commands independent of
// the chat transport.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/emersion/go-message/mail"

	"github.com/tracyhatemice/mailbot/internal/poller"
	"github.com/tracyhatemice/mailbot/internal/provider"
	"github.com/tracyhatemice/mailbot/internal/state"
)

var (
	// ErrInvalidAddress is returned for input that is not a bare email address.
	ErrInvalidAddress = errors.New("invalid email address")

	// ErrNoDomains is returned when the provider offers no domains.
	ErrNoDomains = errors.New("mail provider has no domains available")
)

// Checker runs an immediate sweep for one user.
type Checker interface {
	SweepUser(ctx context.Context, user state.UserID) poller.Summary
}

// ImportResult reports what Import did.
type ImportResult struct {
	Added   int
	Skipped int
	Invalid []string
}

// Service executes address commands against the registry.
type Service struct {
	registry *state.Registry
	provider provider.Provider
	checker  Checker
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(registry *state.Registry, prov provider.Provider, checker Checker, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		provider: prov,
		checker:  checker,
		logger:   logger,
	}
}

// Start registers the user.
func (s *Service) Start(user state.UserID) {
	s.registry.EnsureUser(user)
}

// CreateAddress generates a fresh address under a provider domain and starts
// tracking it.
func (s *Service) CreateAddress(ctx context.Context, user state.UserID) (string, error) {
	domains := s.provider.ListDomains(ctx)
	addr, err := provider.GenerateAddress(domains)
	if errors.Is(err, provider.ErrNoDomains) {
		return "", ErrNoDomains
	}
	if err != nil {
		return "", fmt.Errorf("generating address: %w", err)
	}

	err = s.registry.Update(ctx, user, func(u *state.UserState) error {
		u.AddEmail(addr)
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("address created", "user", user, "address", addr)
	return addr, nil
}

// AddAddress starts tracking raw. It returns the normalized address and
// whether it was newly added.
func (s *Service) AddAddress(ctx context.Context, user state.UserID, raw string) (string, bool, error) {
	addr, err := NormalizeAddress(raw)
	if err != nil {
		return "", false, err
	}

	var added bool
	err = s.registry.Update(ctx, user, func(u *state.UserState) error {
		added = u.AddEmail(addr)
		return nil
	})
	if err != nil {
		return "", false, err
	}

	if added {
		s.logger.Info("address added", "user", user, "address", addr)
	}
	return addr, added, nil
}

// RemoveAddress stops tracking raw and forgets its seen messages.
func (s *Service) RemoveAddress(ctx context.Context, user state.UserID, raw string) (string, bool, error) {
	addr, err := NormalizeAddress(raw)
	if err != nil {
		return "", false, err
	}

	var removed bool
	err = s.registry.Update(ctx, user, func(u *state.UserState) error {
		removed = u.RemoveEmail(addr)
		return nil
	})
	if err != nil {
		return "", false, err
	}

	if removed {
		s.logger.Info("address removed", "user", user, "address", addr)
	}
	return addr, removed, nil
}

// ListAddresses returns the tracked addresses in insertion order.
func (s *Service) ListAddresses(user state.UserID) []string {
	return s.registry.Emails(user)
}

// CheckNow sweeps the user's addresses immediately.
func (s *Service) CheckNow(ctx context.Context, user state.UserID) poller.Summary {
	return s.checker.SweepUser(ctx, user)
}

// ClearAll forgets every address and seen message of the user.
func (s *Service) ClearAll(ctx context.Context, user state.UserID) error {
	err := s.registry.Update(ctx, user, func(u *state.UserState) error {
		u.Reset()
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("state cleared", "user", user)
	return nil
}

// Export returns the tracked addresses, one per line.
func (s *Service) Export(user state.UserID) string {
	return strings.Join(s.registry.Emails(user), "\n")
}

// Import tracks every valid address in text. Addresses may be separated by
// commas, semicolons, or whitespace.
func (s *Service) Import(ctx context.Context, user state.UserID, text string) (ImportResult, error) {
	var res ImportResult
	var valid []string
	for _, field := range splitAddresses(text) {
		addr, err := NormalizeAddress(field)
		if err != nil {
			res.Invalid = append(res.Invalid, field)
			continue
		}
		valid = append(valid, addr)
	}

	err := s.registry.Update(ctx, user, func(u *state.UserState) error {
		for _, addr := range valid {
			if u.AddEmail(addr) {
				res.Added++
			} else {
				res.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}

	s.logger.Info("addresses imported", "user", user, "added", res.Added, "invalid", len(res.Invalid))
	return res, nil
}

// Domains returns the provider's domains.
func (s *Service) Domains(ctx context.Context) ([]string, error) {
	domains := s.provider.ListDomains(ctx)
	if len(domains) == 0 {
		return nil, ErrNoDomains
	}
	return domains, nil
}

// NormalizeAddress validates raw as a single bare address and lower-cases it.
func NormalizeAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidAddress
	}

	a, err := mail.ParseAddress(raw)
	if err != nil || a.Name != "" || a.Address != raw {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}

	at := strings.LastIndexByte(a.Address, '@')
	if at <= 0 || !strings.Contains(a.Address[at+1:], ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return strings.ToLower(a.Address), nil
}

func splitAddresses(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
}

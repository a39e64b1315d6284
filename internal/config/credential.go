package config

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	keyringService  = "mailbot"
	keyringTokenKey = "telegram-token"
)

// ErrMissingToken is returned when no bot token is configured anywhere.
var ErrMissingToken = errors.New("telegram bot token is not configured")

// lookupToken is swapped in tests.
var lookupToken = keyringToken

// ResolveToken makes sure c.Telegram.Token is set, falling back to the
// system keyring when neither the config file nor the environment has it.
func (c *Config) ResolveToken() error {
	if c.Telegram.Token != "" {
		return nil
	}
	token, err := lookupToken()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingToken, err)
	}
	if token == "" {
		return ErrMissingToken
	}
	c.Telegram.Token = token
	return nil
}

func keyringToken() (string, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	})
	if err != nil {
		return "", fmt.Errorf("opening keyring: %w", err)
	}

	item, err := ring.Get(keyringTokenKey)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", keyringTokenKey, err)
	}
	return string(item.Data), nil
}

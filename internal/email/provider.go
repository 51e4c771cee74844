// Package email provides the email provider interface.
package email

import (
	"context"
	"fmt"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
	ValidateAPIKey(ctx context.Context) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Config struct {
	Provider string
	APIKey   string
	From     string
}

// NewProvider returns the configured provider, or nil when email is
// disabled. Callers treat a nil provider as "skip sending".
func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "none", "":
		return nil, nil
	case "resend":
		return NewResendProvider(config.APIKey, config.From), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be either 'none' or 'resend'")
	}
}

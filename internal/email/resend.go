package email

import (
	"context"
	"fmt"

	resend "github.com/resend/resend-go/v3"
)

// ResendProvider delivers transactional mail, such as cancellation-request
// acknowledgements, through the Resend API.
type ResendProvider struct {
	from   string
	client *resend.Client
}

func NewResendProvider(apiKey, from string) *ResendProvider {
	return &ResendProvider{
		from:   from,
		client: resend.NewClient(apiKey),
	}
}

// SendEmail sends one message. At least one of Text and HTML must be set.
func (r *ResendProvider) SendEmail(ctx context.Context, message *Email) error {
	if message == nil {
		return fmt.Errorf("email is required")
	}
	if message.Text == "" && message.HTML == "" {
		return fmt.Errorf("email body is empty")
	}
	if r.client == nil {
		return fmt.Errorf("resend client not configured")
	}

	request := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{message.To},
		Subject: message.Subject,
		Text:    message.Text,
		Html:    message.HTML,
	}
	if _, err := r.client.Emails.SendWithContext(ctx, request); err != nil {
		return fmt.Errorf("failed to send email via resend: %w", err)
	}
	return nil
}

// ValidateAPIKey makes a cheap authenticated call so a misconfigured key
// surfaces at startup instead of on the first acknowledgement email.
func (r *ResendProvider) ValidateAPIKey(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("resend client not configured")
	}
	if _, err := r.client.ApiKeys.ListWithContext(ctx); err != nil {
		return fmt.Errorf("invalid API key: %w", err)
	}
	return nil
}

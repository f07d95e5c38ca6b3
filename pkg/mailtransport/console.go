package mailtransport

import (
	"context"

	"kodex/internal/logging"
)

// ConsoleSender logs the code instead of delivering it, for local
// development and tests. Grounded in the teacher's internal/notify
// DevMailer, which does the same for its richer template-based sends.
type ConsoleSender struct {
	Channel string // "email" or "sms", logged for readability only
}

func (c ConsoleSender) Send(ctx context.Context, to, code string) error {
	logging.FromContext(ctx).Info("mfa code sent",
		"channel", c.Channel,
		"to", to,
		"code", code,
	)
	return nil
}

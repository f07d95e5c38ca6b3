package mailtransport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"kodex/pkg/mailtransport"
)

func TestConsoleSender_Send(t *testing.T) {
	s := mailtransport.ConsoleSender{Channel: "email"}
	err := s.Send(context.Background(), "alice@example.com", "123456")
	require.NoError(t, err)
}

func TestNewSMTPEmailSender_RejectsPrivateHost(t *testing.T) {
	_, err := mailtransport.NewSMTPEmailSender(mailtransport.SMTPConfig{
		Host: "127.0.0.1",
		Port: 587,
		From: "no-reply@example.com",
	})
	require.Error(t, err)
}

func TestNewSMTPEmailSender_RejectsNonStandardPort(t *testing.T) {
	_, err := mailtransport.NewSMTPEmailSender(mailtransport.SMTPConfig{
		Host: "8.8.8.8",
		Port: 5432,
		From: "no-reply@example.com",
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "non-standard SMTP port")
}

func TestNewSMTPEmailSender_RejectsInvalidFromAddress(t *testing.T) {
	_, err := mailtransport.NewSMTPEmailSender(mailtransport.SMTPConfig{
		Host: "8.8.8.8",
		Port: 587,
		From: "not-an-email\r\nBcc: attacker@evil.com",
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "invalid From address")
}

func TestWebhookSMSSender_ReturnsErrorWhenUnreachable(t *testing.T) {
	s := mailtransport.NewWebhookSMSSender("http://127.0.0.1:0/sms")
	err := s.Send(context.Background(), "+15555550100", "123456")
	require.Error(t, err)
}

package cryptoadapter

import (
	"bytes"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"image/png"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPProvider generates and verifies RFC 6238 time-based one-time
// passwords: HMAC-SHA1, 30-second step, 6 digits, with a configurable drift
// window.
type TOTPProvider struct {
	Issuer string
	Drift  uint
}

// NewTOTPProvider creates a provider for the given issuer name, with the
// default ±1 step drift window the spec requires.
func NewTOTPProvider(issuer string) *TOTPProvider {
	return &TOTPProvider{Issuer: issuer, Drift: 1}
}

// GenerateSecret creates a new random 160-bit TOTP secret, base32-encoded.
func (p *TOTPProvider) GenerateSecret() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("cryptoadapter: generate totp secret: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// GenerateCode returns the 6-digit code for secret at the given instant.
func (p *TOTPProvider) GenerateCode(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCode(secret, at)
	if err != nil {
		return "", fmt.Errorf("cryptoadapter: generate totp code: %w", err)
	}
	return code, nil
}

// VerifyCode reports whether code is valid for secret at "now", allowing any
// step within [-drift, +drift] to match.
func (p *TOTPProvider) VerifyCode(secret, code string, now time.Time) bool {
	drift := p.Drift
	if drift == 0 {
		drift = 1
	}
	valid, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      uint(drift),
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// ProvisioningURI builds the otpauth://totp/... URI for a given account.
func (p *TOTPProvider) ProvisioningURI(account, secret string) string {
	key, err := otp.NewKeyFromURL(fmt.Sprintf(
		"otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=6&period=30",
		p.Issuer, account, secret, p.Issuer,
	))
	if err != nil {
		// Fall back to a manually composed URI; NewKeyFromURL only fails on
		// malformed input, which a freshly generated base32 secret is not.
		return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=6&period=30",
			p.Issuer, account, secret, p.Issuer)
	}
	return key.String()
}

// RenderQR renders the provisioning URI as a PNG QR code embedded as a
// data:image/png;base64,... URI.
func (p *TOTPProvider) RenderQR(account, secret string) (string, error) {
	key, err := otp.NewKeyFromURL(p.ProvisioningURI(account, secret))
	if err != nil {
		return "", fmt.Errorf("cryptoadapter: parse provisioning uri: %w", err)
	}

	img, err := key.Image(256, 256)
	if err != nil {
		return "", fmt.Errorf("cryptoadapter: render qr image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("cryptoadapter: encode qr png: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// GenerateBackupCodes creates count cryptographically random alphanumeric
// recovery codes of the given length, drawn from an alphabet that excludes
// visually ambiguous characters (I, O, 0, 1).
func GenerateBackupCodes(count, length int) ([]string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codes := make([]string, count)
	for i := 0; i < count; i++ {
		buf := make([]byte, length)
		for j := 0; j < length; j++ {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
			if err != nil {
				return nil, fmt.Errorf("cryptoadapter: generate backup code: %w", err)
			}
			buf[j] = alphabet[n.Int64()]
		}
		codes[i] = string(buf)
	}
	return codes, nil
}

// Package config loads realm and database configuration from the
// environment, generalizing the teacher's flat getEnv-style loader into
// the realm tree spec.md §6 describes: one database block plus one or
// more REALM_* blocks, each assembled into a kodex.RealmConfig.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"kodex/internal/hooks"
	"kodex/internal/kodex"
)

// DatabaseConfig is the `{ driver, jdbc_like_url, username, password }`
// database block from spec.md §6. This module only implements the
// postgres driver; Driver is carried through so an unsupported value fails
// loudly at startup rather than silently defaulting.
type DatabaseConfig struct {
	Driver   string
	URL      string
	Username string
	Password string
}

// Config is the fully loaded, process-wide configuration: one database
// plus every realm to register with the kodex.RealmRegistry.
type Config struct {
	Database DatabaseConfig
	Realms   []kodex.RealmConfig
	Env      string // "production" or "development", selects logging.Setup's handler
}

// Load reads .env (if present, via godotenv — silently ignored if absent)
// and then the process environment. REALM_NAMES is a comma-separated list
// of realm keys; each name N expects REALM_N_* variables as documented on
// loadRealm.
func Load() (Config, error) {
	_ = godotenv.Load()

	names := splitNonEmpty(os.Getenv("REALM_NAMES"))
	if len(names) == 0 {
		return Config{}, fmt.Errorf("config: REALM_NAMES must name at least one realm")
	}

	driver := getEnv("DB_DRIVER", "postgres")
	if driver != "postgres" {
		return Config{}, fmt.Errorf("config: unsupported DB_DRIVER %q (only postgres is implemented)", driver)
	}

	realms := make([]kodex.RealmConfig, 0, len(names))
	for _, name := range names {
		rc, err := loadRealm(name)
		if err != nil {
			return Config{}, err
		}
		realms = append(realms, rc)
	}

	return Config{
		Database: DatabaseConfig{
			Driver:   driver,
			URL:      os.Getenv("DATABASE_URL"),
			Username: os.Getenv("DB_USERNAME"),
			Password: os.Getenv("DB_PASSWORD"),
		},
		Realms: realms,
		Env:    getEnv("APP_ENV", "development"),
	}, nil
}

// loadRealm assembles one kodex.RealmConfig from REALM_<NAME>_* variables,
// env-key-encoding spec.md §6's per-realm option tree:
//
//	REALM_<N>_ISSUER, REALM_<N>_AUDIENCE, REALM_<N>_SECRET_HEX
//	REALM_<N>_ACCESS_TTL, REALM_<N>_REFRESH_TTL, REALM_<N>_PRE_AUTH_TTL (Go durations)
//	REALM_<N>_LOCKOUT_THRESHOLD, REALM_<N>_LOCKOUT_DURATION
//	REALM_<N>_MFA_ENCRYPTION_KEY_HEX, REALM_<N>_MFA_ISSUER
//	REALM_<N>_MFA_BACKUP_CODE_COUNT, REALM_<N>_MFA_BACKUP_CODE_LENGTH
//	REALM_<N>_MFA_AUTO_TRUST_AFTER_VERIFICATION
//
// email_mfa.sender, user_has_role, and get_total_users are closures per
// spec.md §6 and cannot be expressed as environment strings; callers wire
// those onto the returned RealmConfig (EmailSender/SMSSender/HasRole)
// after Load returns, before calling RealmRegistry.Register.
func loadRealm(name string) (kodex.RealmConfig, error) {
	prefix := "REALM_" + strings.ToUpper(name) + "_"

	secretHex := os.Getenv(prefix + "SECRET_HEX")
	if secretHex == "" {
		return kodex.RealmConfig{}, fmt.Errorf("config: realm %q: %sSECRET_HEX is required", name, prefix)
	}
	mfaKeyHex := os.Getenv(prefix + "MFA_ENCRYPTION_KEY_HEX")
	if mfaKeyHex == "" {
		return kodex.RealmConfig{}, fmt.Errorf("config: realm %q: %sMFA_ENCRYPTION_KEY_HEX is required", name, prefix)
	}

	return kodex.RealmConfig{
		Name:      name,
		Issuer:    getEnv(prefix+"ISSUER", name),
		Audience:  getEnv(prefix+"AUDIENCE", name),
		SecretHex: secretHex,

		BcryptCost:      getEnvAsInt(prefix+"BCRYPT_COST", 0),
		AccessTokenTTL:  getEnvAsDuration(prefix+"ACCESS_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvAsDuration(prefix+"REFRESH_TTL", 7*24*time.Hour),
		PreAuthTokenTTL: getEnvAsDuration(prefix+"PRE_AUTH_TTL", 2*time.Minute),
		RefreshByteLen:  32,
		ClockSkew:       5 * time.Second,

		LockoutThreshold: getEnvAsInt(prefix+"LOCKOUT_THRESHOLD", 5),
		LockoutDuration:  getEnvAsDuration(prefix+"LOCKOUT_DURATION", 15*time.Minute),

		HookStrategy: hooks.FailFast,

		MFAEncryptionKeyHex: mfaKeyHex,
		MFAIssuer:           getEnv(prefix+"MFA_ISSUER", name),

		ChallengeTTL:               getEnvAsDuration(prefix+"MFA_CHALLENGE_TTL", 5*time.Minute),
		MaxAttempts:                getEnvAsInt(prefix+"MFA_MAX_ATTEMPTS", 5),
		EnrollWindow:               getEnvAsDuration(prefix+"MFA_ENROLL_WINDOW", time.Hour),
		EnrollMax:                  getEnvAsInt(prefix+"MFA_ENROLL_MAX", 5),
		EnrollCooldown:             getEnvAsDuration(prefix+"MFA_ENROLL_COOLDOWN", 30*time.Second),
		TOTPVerifyWindow:           getEnvAsDuration(prefix+"MFA_TOTP_VERIFY_WINDOW", 5*time.Minute),
		TOTPVerifyMax:              getEnvAsInt(prefix+"MFA_TOTP_VERIFY_MAX", 10),
		BackupCodeCount:            getEnvAsInt(prefix+"MFA_BACKUP_CODE_COUNT", 10),
		BackupCodeLength:           getEnvAsInt(prefix+"MFA_BACKUP_CODE_LENGTH", 8),
		TrustTTL:                   getEnvAsDuration(prefix+"MFA_TRUST_TTL", 30*24*time.Hour),
		AutoTrustAfterVerification: getEnvAsBool(prefix+"MFA_AUTO_TRUST_AFTER_VERIFICATION", false),
	}, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsBool(name string, defaultVal bool) bool {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

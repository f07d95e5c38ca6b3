// Command keygen generates the hex-encoded secrets a realm needs:
// SECRET_HEX (HS256 signing secret) and MFA_ENCRYPTION_KEY_HEX
// (AES-256-GCM key for TOTP secrets at rest). Replaces the teacher's RSA
// keypair generator, which produced a single global RS256 keypair; this
// module's realms each sign with their own HMAC secret instead.
package main

import (
	"fmt"
	"os"
	"strings"

	"kodex/internal/cryptoadapter"
)

func main() {
	realm := "REALM"
	if len(os.Args) > 1 {
		realm = strings.ToUpper(os.Args[1])
	}

	secret, err := cryptoadapter.GenerateKeyHex()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate signing secret: %v\n", err)
		os.Exit(1)
	}

	mfaKey, err := cryptoadapter.GenerateKeyHex()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate mfa encryption key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("--- COPY BELOW TO .env ---")
	fmt.Printf("REALM_%s_SECRET_HEX=%s\n", realm, secret)
	fmt.Printf("REALM_%s_MFA_ENCRYPTION_KEY_HEX=%s\n", realm, mfaKey)
	fmt.Println("--------------------------")
}

package keys

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// Seal encrypts a secret value for a GitHub repository or environment public
// key, as required by the Actions secrets API.
func Seal(publicKeyB64 string, value []byte) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(decoded) != 32 {
		return "", fmt.Errorf("unexpected public key length %d", len(decoded))
	}

	var recipient [32]byte
	copy(recipient[:], decoded)

	sealed, err := box.SealAnonymous(nil, value, &recipient, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to seal secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

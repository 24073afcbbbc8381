package docker

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate gateway token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

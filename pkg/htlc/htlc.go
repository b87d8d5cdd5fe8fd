// Package htlc holds the secret/secret-hash helpers shared by the
// coordinator and its tests. A secret is 32 random bytes rendered as a
// lowercase hex string; the commitment is the sha3-256 of that string's
// bytes, matching what the escrow contracts verify on-chain.
package htlc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const secretLen = 32

// NewSecret generates a fresh secret and its hash commitment.
func NewSecret() (secret, secretHash string, err error) {
	buf := make([]byte, secretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret = hex.EncodeToString(buf)
	secretHash, err = HashSecret(secret)
	if err != nil {
		return "", "", err
	}
	return secret, secretHash, nil
}

// HashSecret computes the hex-encoded sha3-256 commitment of a hex secret.
// The hash covers the normalized (0x-stripped, lowercase) hex string itself,
// not its decoded bytes.
func HashSecret(secret string) (string, error) {
	norm := strings.ToLower(strings.TrimPrefix(secret, "0x"))
	if _, err := hex.DecodeString(norm); err != nil {
		return "", fmt.Errorf("secret is not valid hex: %w", err)
	}
	sum := sha3.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:]), nil
}

// VerifySecret reports whether the secret matches the committed hash. A
// mismatch must never be treated as authorization.
func VerifySecret(secret, secretHash string) bool {
	h, err := HashSecret(secret)
	if err != nil {
		return false
	}
	return strings.EqualFold(h, strings.TrimPrefix(secretHash, "0x"))
}

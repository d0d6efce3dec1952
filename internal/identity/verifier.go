// Package identity implements the request authorization gate: an allowlist
// of ed25519 public keys plus a signature-and-timestamp check that bounds
// the replay window.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Sentinel errors for authorization failures. All of them map to a 401 at
// the API surface; the distinction is for logs and tests.
var (
	ErrUnknownIdentity = errors.New("identity not in allowlist")
	ErrBadSignature    = errors.New("signature verification failed")
	ErrStaleTimestamp  = errors.New("timestamp outside allowed window")
	ErrMalformed       = errors.New("malformed identity credentials")
)

// Verifier validates a claimed identity against the configured allowlist.
// It is pure and safe for concurrent use; the allowlist is never mutated
// after construction.
type Verifier struct {
	allowed map[string]ed25519.PublicKey
	window  time.Duration
	now     func() time.Time
}

// NewVerifier builds a Verifier from hex-encoded ed25519 public keys.
// Keys that do not decode to a valid ed25519 public key are rejected up
// front so a bad allowlist fails at startup, not per request.
func NewVerifier(allowedKeys []string, window time.Duration) (*Verifier, error) {
	allowed := make(map[string]ed25519.PublicKey, len(allowedKeys))
	for _, k := range allowedKeys {
		raw, err := hex.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("allowlist key %q: %w", k, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("allowlist key %q: expected %d bytes, got %d",
				k, ed25519.PublicKeySize, len(raw))
		}
		allowed[k] = ed25519.PublicKey(raw)
	}
	return &Verifier{allowed: allowed, window: window, now: time.Now}, nil
}

// Verify checks that identity is allowlisted, that timestamp is within the
// replay window, and that signature is a valid ed25519 signature by that
// identity over SigningDigest(timestamp, body).
func (v *Verifier) Verify(identity, timestamp, signature string, body []byte) error {
	key, ok := v.allowed[identity]
	if !ok {
		return ErrUnknownIdentity
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrMalformed, timestamp)
	}
	drift := v.now().Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > v.window {
		return ErrStaleTimestamp
	}

	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: bad signature encoding", ErrMalformed)
	}

	digest := SigningDigest(timestamp, body)
	if !ed25519.Verify(key, digest[:], sig) {
		return ErrBadSignature
	}
	return nil
}

// SigningDigest is the byte string callers sign: the blake2b-256 hash of
// "<timestamp>." followed by the raw request body.
func SigningDigest(timestamp string, body []byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(body)
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// Sign produces a hex signature suitable for Verify. It exists for client
// tooling and tests; the server itself never signs.
func Sign(priv ed25519.PrivateKey, timestamp string, body []byte) string {
	digest := SigningDigest(timestamp, body)
	return hex.EncodeToString(ed25519.Sign(priv, digest[:]))
}

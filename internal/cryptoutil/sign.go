package cryptoutil

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidSignature is returned by Verify when a signature does not match
// the canonical encoding of the payload.
var ErrInvalidSignature = errors.New("cryptoutil: invalid signature")

// Signer produces and checks Ed25519 signatures over the canonical-JSON
// encoding of an audit payload (object keys sorted, no whitespace), so the
// same logical event always signs to the same bytes regardless of map
// iteration order or field ordering upstream.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner wraps an existing Ed25519 key pair.
func NewSigner(priv ed25519.PrivateKey, pub ed25519.PublicKey) *Signer {
	return &Signer{priv: priv, pub: pub}
}

// GenerateSigner creates a fresh Ed25519 key pair.
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: generate key: %w", err)
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// PublicKey returns the public half, for distribution to verifiers.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

// Sign canonicalizes payload and returns its Ed25519 signature.
func (s *Signer) Sign(payload any) ([]byte, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(s.priv, canonical), nil
}

// Verify reports whether sig is a valid Ed25519 signature over the
// canonical encoding of payload, using pub rather than the signer's own
// key so a verifier never needs the private half.
func Verify(pub ed25519.PublicKey, payload any, sig []byte) error {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, canonical, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// canonicalJSON marshals v into JSON with object keys sorted at every
// nesting level, so two semantically equal payloads always produce
// identical bytes.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("cryptoutil: decode payload: %w", err)
	}
	return json.Marshal(sortKeys(generic))
}

// sortKeys rebuilds v recursively, copying every map[string]any and []any
// it reaches (including maps nested inside slices). The copied maps are
// ordinary Go maps and carry no key order of their own: the sorted key
// order of the signed bytes comes from encoding/json, which sorts map keys
// when it marshals.
func sortKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		ordered := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ordered[k] = sortKeys(val[k])
		}
		return ordered
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sortKeys(item)
		}
		return out
	default:
		return val
	}
}

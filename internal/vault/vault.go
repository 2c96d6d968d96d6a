// Package vault implements optional at-rest encryption for stored values.
//
// Values are sealed with AES-256-GCM. The envelope written to storage is
// base64(nonce || ciphertext) with a fresh random nonce per call. A single
// master key is generated lazily on first use, persisted in exportable JSON
// form through a KeyStore, and reused for the life of the profile; the AEAD
// key is derived from the master via HKDF with a domain label so the
// exported material is never used directly.
//
// Decrypt fails loudly: a malformed envelope, an unusable key, or failed
// authentication returns an error rather than the input. Stored key
// material that cannot be parsed is also an error; replacing it with a
// fresh key would permanently orphan every row sealed under the old one.
// Callers own the degradation policy.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// Vault errors.
var (
	ErrUnusableKey       = errors.New("vault: stored key material is unusable")
	ErrMalformedEnvelope = errors.New("vault: malformed envelope")
	ErrDecryptFailed     = errors.New("vault: decryption failed")
)

const (
	masterKeySize = 32
	keyAlg        = "A256GCM"
	deriveLabel   = "lifetrackd:records"
)

// KeyStore persists exported key material. Implementations must treat the
// material as opaque and must never log it.
type KeyStore interface {
	// LoadKey returns the exported key material, or ("", nil) when no key
	// has been created yet.
	LoadKey() (string, error)

	// StoreKey persists exported key material.
	StoreKey(material string) error
}

// exportedKey is the persisted JSON form of the master key.
type exportedKey struct {
	Alg string `json:"alg"`
	K   string `json:"k"` // base64url raw master key
}

// Vault seals and opens values with a profile-wide symmetric key.
type Vault struct {
	keys KeyStore

	mu   sync.Mutex
	aead cipher.AEAD
}

// New creates a vault backed by the given key store. The key is not touched
// until the first Encrypt or Decrypt call.
func New(keys KeyStore) *Vault {
	return &Vault{keys: keys}
}

// ensureAEAD loads or creates the master key and prepares the AEAD.
func (v *Vault) ensureAEAD() (cipher.AEAD, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.aead != nil {
		return v.aead, nil
	}

	master, err := v.loadOrCreateMaster()
	if err != nil {
		return nil, err
	}

	// Domain-separated derivation: the exported master never keys the
	// cipher directly.
	reader := hkdf.New(sha256.New, master, nil, []byte(deriveLabel))
	derived := make([]byte, masterKeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}

	v.aead = aead
	return aead, nil
}

func (v *Vault) loadOrCreateMaster() ([]byte, error) {
	material, err := v.keys.LoadKey()
	if err != nil {
		return nil, fmt.Errorf("vault: load key: %w", err)
	}

	if material != "" {
		var exported exportedKey
		if err := json.Unmarshal([]byte(material), &exported); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnusableKey, err)
		}
		if exported.Alg != keyAlg {
			return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrUnusableKey, exported.Alg)
		}
		master, err := base64.RawURLEncoding.DecodeString(exported.K)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnusableKey, err)
		}
		if len(master) != masterKeySize {
			return nil, fmt.Errorf("%w: wrong key size", ErrUnusableKey)
		}
		return master, nil
	}

	master := make([]byte, masterKeySize)
	if _, err := rand.Read(master); err != nil {
		return nil, fmt.Errorf("vault: generate key: %w", err)
	}

	exported, err := json.Marshal(exportedKey{Alg: keyAlg, K: base64.RawURLEncoding.EncodeToString(master)})
	if err != nil {
		return nil, fmt.Errorf("vault: export key: %w", err)
	}
	if err := v.keys.StoreKey(string(exported)); err != nil {
		return nil, fmt.Errorf("vault: store key: %w", err)
	}

	return master, nil
}

// Encrypt seals plaintext into a base64 nonce||ciphertext envelope. Each
// call draws a fresh nonce, so equal plaintexts produce distinct envelopes.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	aead, err := v.ensureAEAD()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt. It returns an explicit
// error when the envelope cannot be parsed or authenticated; it never
// returns the envelope itself as a fallback.
func (v *Vault) Decrypt(envelope string) (string, error) {
	aead, err := v.ensureAEAD()
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("%w: too short", ErrMalformedEnvelope)
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	return string(plaintext), nil
}

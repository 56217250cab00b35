// ABOUTME: Seals assistant credentials at rest with XChaCha20-Poly1305
// ABOUTME: Blobs are bound to the owning assistant id through associated data

package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

// Blob format versions. The version byte is authenticated as associated data.
const (
	versionPlain  byte = 0x00
	versionSealed byte = 0x01
)

// sealedOverhead is 1 (version) + 24 (nonce) + 16 (tag).
const sealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// ErrKeyRequired is returned when opening a sealed blob without a key.
var ErrKeyRequired = errors.New("credentials are sealed but no key is configured")

// Box seals and opens credential blobs. A Box without a key stores
// blobs with a plain version prefix so a key can be introduced later.
type Box struct {
	key []byte
}

// NewBox creates a Box from a raw 32-byte key. A nil key yields a pass-through Box.
func NewBox(key []byte) (*Box, error) {
	if key == nil {
		return &Box{}, nil
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key is %d bytes, want %d", len(key), KeySize)
	}
	return &Box{key: append([]byte(nil), key...)}, nil
}

// NewBoxFromBase64 decodes a standard base64 key. Empty input yields a pass-through Box.
func NewBoxFromBase64(encoded string) (*Box, error) {
	if encoded == "" {
		return NewBox(nil)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	return NewBox(key)
}

// Sealing reports whether the Box encrypts.
func (b *Box) Sealing() bool {
	return b.key != nil
}

// Seal encrypts plaintext for the assistant with the given id.
func (b *Box) Seal(plaintext []byte, ownerID int64) ([]byte, error) {
	if b.key == nil {
		out := make([]byte, 0, 1+len(plaintext))
		out = append(out, versionPlain)
		return append(out, plaintext...), nil
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, sealedOverhead+len(plaintext))
	output[0] = versionSealed
	copy(output[1:], nonce[:])

	return aead.Seal(output, nonce[:], plaintext, buildAAD(versionSealed, ownerID)), nil
}

// Open reverses Seal. Opening fails if the blob was sealed for a different id.
func (b *Box) Open(blob []byte, ownerID int64) ([]byte, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty credential blob")
	}

	switch blob[0] {
	case versionPlain:
		return append([]byte(nil), blob[1:]...), nil
	case versionSealed:
	default:
		return nil, fmt.Errorf("credential blob version %d is not supported", blob[0])
	}

	if b.key == nil {
		return nil, ErrKeyRequired
	}
	if len(blob) < sealedOverhead {
		return nil, fmt.Errorf("credential blob is %d bytes, minimum is %d", len(blob), sealedOverhead)
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, buildAAD(versionSealed, ownerID))
	if err != nil {
		return nil, fmt.Errorf("opening credentials (wrong key or tampered data): %w", err)
	}
	return plaintext, nil
}

func buildAAD(version byte, ownerID int64) []byte {
	aad := make([]byte, 9)
	aad[0] = version
	binary.BigEndian.PutUint64(aad[1:], uint64(ownerID))
	return aad
}

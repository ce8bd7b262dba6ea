package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrNoSecret   = errors.New("relay secret is not configured")
	ErrBadPayload = errors.New("payload cannot be decrypted")
)

const (
	keySize = 32
	tagSize = 16
)

// hkdfInfo binds derived keys to this protocol version. Changing it
// invalidates every payload encrypted under the old derivation.
const hkdfInfo = "twinlink-relay-v1"

// Envelope is the wire form of an encrypted payload: AES-256-GCM with the
// nonce and authentication tag carried as separate base64 fields. Devices
// use the same layout when writing results back.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Tag        string `json:"tag"`
}

// Box seals and opens relay payloads under a key derived from the operator
// secret. The derivation runs once per Box lifetime; a Box with an empty
// secret fails every operation rather than passing plaintext through.
type Box struct {
	secret string

	once sync.Once
	key  []byte
	err  error
}

func NewBox(secret string) *Box {
	return &Box{secret: secret}
}

func (b *Box) deriveKey() ([]byte, error) {
	b.once.Do(func() {
		if b.secret == "" {
			b.err = ErrNoSecret
			return
		}
		r := hkdf.New(sha256.New, []byte(b.secret), nil, []byte(hkdfInfo))
		key := make([]byte, keySize)
		if _, err := io.ReadFull(r, key); err != nil {
			b.err = fmt.Errorf("derive relay key: %w", err)
			return
		}
		b.key = key
	})
	return b.key, b.err
}

func (b *Box) aead() (cipher.AEAD, error) {
	key, err := b.deriveKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

func (b *Box) Seal(plaintext []byte) (Envelope, error) {
	gcm, err := b.aead()
	if err != nil {
		return Envelope{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

func (b *Box) Open(env Envelope) ([]byte, error) {
	gcm, err := b.aead()
	if err != nil {
		return nil, err
	}

	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, ErrBadPayload
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != gcm.NonceSize() {
		return nil, ErrBadPayload
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != tagSize {
		return nil, ErrBadPayload
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrBadPayload
	}
	return plaintext, nil
}

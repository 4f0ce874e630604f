// Package token encodes stateless orders as opaque "txn_" strings.
//
// A token is AES-256-CBC over the JSON payload with a random IV, followed by a
// truncated HMAC-SHA256 tag, rendered in base58:
//
//	txn_ + base58(IV || ciphertext || tag)
package token

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shengdoushi/base58"
	"github.com/shopspring/decimal"
)

const (
	Prefix = "txn_"
	tagLen = 16
)

var ErrInvalidToken = errors.New("invalid order token")

var alphabet = base58.BitcoinAlphabet

// Payload is everything a stateless order needs to be settled and delivered.
type Payload struct {
	TransactionID string          `json:"tid,omitempty"`
	Ref           string          `json:"ref"`
	Gateway       string          `json:"gw"`
	DeliveryLink  string          `json:"dl,omitempty"`
	PriceID       string          `json:"pid"`
	ProductName   string          `json:"pn,omitempty"`
	Amount        decimal.Decimal `json:"amt"`
	Currency      string          `json:"cur"`
	Category      string          `json:"cat,omitempty"`
	Email         string          `json:"em,omitempty"`
	IssuedAt      int64           `json:"iat"`
}

func (p Payload) Issued() time.Time {
	return time.Unix(p.IssuedAt, 0)
}

type Codec struct {
	encKey []byte
	macKey []byte
	rand   io.Reader
}

// NewCodec derives the cipher and MAC keys from secret.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	enc := sha256.Sum256([]byte(secret))
	mac := sha256.Sum256([]byte("mac:" + secret))
	return &Codec{encKey: enc[:], macKey: mac[:], rand: rand.Reader}, nil
}

func IsToken(s string) bool {
	return strings.HasPrefix(s, Prefix) && len(s) > len(Prefix)
}

func (c *Codec) Encode(p Payload) (string, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal token payload: %w", err)
	}

	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return "", err
	}

	plain = pad(plain, aes.BlockSize)
	buf := make([]byte, aes.BlockSize+len(plain), aes.BlockSize+len(plain)+tagLen)
	iv := buf[:aes.BlockSize]
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("read iv: %w", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(buf[aes.BlockSize:], plain)

	buf = append(buf, c.tag(buf)...)
	return Prefix + base58.Encode(buf, alphabet), nil
}

func (c *Codec) Decode(s string) (Payload, error) {
	var p Payload
	if !IsToken(s) {
		return p, ErrInvalidToken
	}
	raw, err := base58.Decode(s[len(Prefix):], alphabet)
	if err != nil {
		return p, ErrInvalidToken
	}
	// IV, at least one block, tag
	if len(raw) < 2*aes.BlockSize+tagLen || (len(raw)-tagLen)%aes.BlockSize != 0 {
		return p, ErrInvalidToken
	}

	body, tag := raw[:len(raw)-tagLen], raw[len(raw)-tagLen:]
	if !hmac.Equal(tag, c.tag(body)) {
		return p, ErrInvalidToken
	}

	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return p, err
	}
	iv, ct := body[:aes.BlockSize], body[aes.BlockSize:]
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	plain, err = unpad(plain, aes.BlockSize)
	if err != nil {
		return p, ErrInvalidToken
	}
	if err := json.Unmarshal(plain, &p); err != nil {
		return p, ErrInvalidToken
	}
	return p, nil
}

func (c *Codec) tag(data []byte) []byte {
	m := hmac.New(sha256.New, c.macKey)
	m.Write(data)
	return m.Sum(nil)[:tagLen]
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("bad padding")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("bad padding")
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errors.New("bad padding")
		}
	}
	return b[:len(b)-n], nil
}

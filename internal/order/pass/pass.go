// Package pass issues the QR entry pass attached to a completed order. The
// payload is AES-encrypted so a scanned pass cannot be forged from the
// order id alone.
package pass

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"
)

type Claims struct {
	OrderID  string    `json:"order_id"`
	TicketID string    `json:"ticket_id"`
	IssuedAt time.Time `json:"issued_at"`
}

type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

// Generate returns a PNG QR code encoding the encrypted claims.
func (g *Generator) Generate(orderID, ticketID string) ([]byte, error) {
	data, err := json.Marshal(Claims{
		OrderID:  orderID,
		TicketID: ticketID,
		IssuedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	encrypted, err := encryptAES(data, g.secret)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

// Decrypt recovers the claims from a scanned pass payload.
func (g *Generator) Decrypt(payload string) (*Claims, error) {
	raw, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	if len(raw) < aes.BlockSize {
		return nil, fmt.Errorf("pass payload too short")
	}

	block, err := aes.NewCipher(g.secret)
	if err != nil {
		return nil, err
	}

	iv, data := raw[:aes.BlockSize], raw[aes.BlockSize:]
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, data)

	var claims Claims
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("decode pass claims: %w", err)
	}
	return &claims, nil
}

func encryptAES(data, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

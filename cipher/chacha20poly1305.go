package cipher

import (
	"go.badvpn.dev/relaycore/randsrc"
	"golang.org/x/crypto/chacha20poly1305"
)

// ChaCha20Poly1305 implements Cipher using a fixed key and a random
// per-message nonce prepended to the ciphertext, in the shadowsocks-style
// "AEAD on the whole datagram" framing: wire format is
// [nonce][ciphertext || tag].
type ChaCha20Poly1305 struct {
	aead chacha20poly1305.AEAD
	rand randsrc.Source
}

// NewChaCha20Poly1305 builds a Cipher from a 32-byte key. rnd supplies
// nonce randomness; pass randsrc.CryptoSource{} in production.
func NewChaCha20Poly1305(key []byte, rnd randsrc.Source) (*ChaCha20Poly1305, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &ChaCha20Poly1305{aead: aead, rand: rnd}, nil
}

func (c *ChaCha20Poly1305) Overhead() int {
	return chacha20poly1305.NonceSize + c.aead.Overhead()
}

func (c *ChaCha20Poly1305) EncryptAll(buf *Buffer) (int, error) {
	need := buf.Len + c.Overhead()
	if cap(buf.Data) < need {
		return 0, &ErrShortBuffer{Need: need, Have: cap(buf.Data)}
	}

	plaintext := append([]byte(nil), buf.Data[:buf.Len]...)

	nonce := buf.Data[:chacha20poly1305.NonceSize]
	if err := c.rand.RandomBytes(nonce); err != nil {
		return 0, err
	}

	sealed := c.aead.Seal(buf.Data[chacha20poly1305.NonceSize:chacha20poly1305.NonceSize], nonce, plaintext, nil)
	total := chacha20poly1305.NonceSize + len(sealed)
	buf.Len = total
	return total, nil
}

func (c *ChaCha20Poly1305) DecryptAll(buf *Buffer) (int, error) {
	if buf.Len < c.Overhead() {
		return 0, ErrAuthFailed
	}
	nonce := buf.Data[:chacha20poly1305.NonceSize]
	ciphertext := buf.Data[chacha20poly1305.NonceSize:buf.Len]

	plain, err := c.aead.Open(ciphertext[:0], nonce, ciphertext, nil)
	if err != nil {
		return 0, ErrAuthFailed
	}
	n := copy(buf.Data, plain)
	buf.Len = n
	return n, nil
}

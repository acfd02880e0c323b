// Package cipher defines the symmetric encryption envelope the relay uses
// to protect UDP payloads, plus a ChaCha20-Poly1305 implementation and a
// no-op implementation for tests.
package cipher

import "fmt"

// Buffer is a mutable byte slice with headroom: Len is the number of
// valid bytes, and cap(Data) is the total capacity available for the
// cipher to grow into (e.g. appending an AEAD tag or a nonce prefix).
type Buffer struct {
	Data []byte
	Len  int
}

// Cipher transforms buffers in place, mirroring the encrypt_all/
// decrypt_all contract: the whole buffer is one opaque unit, and the
// cipher owns the wire framing (nonce placement, tag placement) inside
// it.
type Cipher interface {
	// EncryptAll encrypts buf.Data[:buf.Len] in place and returns the new
	// length, which may be larger than the input length (room for a
	// nonce/tag must already exist in buf.Data's capacity).
	EncryptAll(buf *Buffer) (int, error)

	// DecryptAll decrypts buf.Data[:buf.Len] in place and returns the new
	// (shorter) length.
	DecryptAll(buf *Buffer) (int, error)

	// Overhead is the number of extra bytes EncryptAll adds beyond the
	// plaintext length. Callers use it to size buffers.
	Overhead() int
}

// ErrShortBuffer is returned when a buffer lacks capacity for the
// envelope's framing.
type ErrShortBuffer struct {
	Need int
	Have int
}

func (e *ErrShortBuffer) Error() string {
	return fmt.Sprintf("cipher: buffer too small: need %d bytes, have %d", e.Need, e.Have)
}

// ErrAuthFailed is returned by DecryptAll when the envelope's
// authentication tag does not verify.
var ErrAuthFailed = fmt.Errorf("cipher: authentication failed")

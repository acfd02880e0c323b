package cipher

// Identity is a no-op Cipher used by tests that want to exercise relay
// logic without real cryptography.
type Identity struct{}

func (Identity) Overhead() int { return 0 }

func (Identity) EncryptAll(buf *Buffer) (int, error) { return buf.Len, nil }

func (Identity) DecryptAll(buf *Buffer) (int, error) { return buf.Len, nil }

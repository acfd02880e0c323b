// Package randsrc defines the randomness source consumed by the cipher
// envelope (nonce generation) and the DHCP client (transaction IDs),
// plus a crypto/rand-backed implementation and a
// deterministic fake for tests.
package randsrc

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
)

// Source fills out with random bytes. Implementations must be safe for
// concurrent use.
type Source interface {
	RandomBytes(out []byte) error
}

// CryptoSource draws from crypto/rand. This is the production source; use
// it wherever randomness feeds into key material, nonces, or anything
// else where predictability is a security concern.
type CryptoSource struct{}

func (CryptoSource) RandomBytes(out []byte) error {
	_, err := rand.Read(out)
	return err
}

// Uint32 draws a uniformly random uint32 from s.
func Uint32(s Source) (uint32, error) {
	var b [4]byte
	if err := s.RandomBytes(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// DeterministicSource is a math/rand-seeded fake for tests: same seed,
// same byte stream, every run. Unlike CryptoSource it is not safe for
// concurrent use: RandomBytes reads an unguarded math/rand.Rand.
type DeterministicSource struct {
	rnd *mrand.Rand
}

func NewDeterministicSource(seed int64) *DeterministicSource {
	return &DeterministicSource{rnd: mrand.New(mrand.NewSource(seed))}
}

func (d *DeterministicSource) RandomBytes(out []byte) error {
	_, err := d.rnd.Read(out)
	return err
}

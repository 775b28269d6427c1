// Package securemem keeps provider API tokens and other credentials in
// memguard-protected memory so they cannot leak through core dumps or swap.
package securemem

import (
	"crypto/subtle"

	"github.com/awnumar/memguard"
)

func init() {
	// Wipe protected buffers if the process is killed by a signal.
	memguard.CatchInterrupt()
}

// String holds a sensitive string in an encrypted, locked buffer.
type String struct {
	buf       *memguard.LockedBuffer
	destroyed bool
}

// NewString moves plaintext into protected memory. The caller should not
// retain other copies of the value.
func NewString(plaintext string) *String {
	return &String{buf: memguard.NewBufferFromBytes([]byte(plaintext))}
}

// String returns a plaintext copy. The copy lives in ordinary memory; keep
// its lifetime short.
func (s *String) String() string {
	if s == nil || s.destroyed || s.buf == nil {
		return ""
	}
	return string(s.buf.Bytes())
}

// IsEmpty reports whether the protected value is empty or destroyed.
func (s *String) IsEmpty() bool {
	if s == nil || s.destroyed || s.buf == nil {
		return true
	}
	return s.buf.Size() == 0
}

// Equals compares the protected value against other in constant time.
func (s *String) Equals(other string) bool {
	if s == nil || s.destroyed || s.buf == nil {
		return other == ""
	}
	return subtle.ConstantTimeCompare(s.buf.Bytes(), []byte(other)) == 1
}

// Destroy wipes the underlying buffer. The value is unusable afterwards.
func (s *String) Destroy() {
	if s == nil || s.destroyed {
		return
	}
	s.destroyed = true
	if s.buf != nil {
		s.buf.Destroy()
	}
}

// Wipe zeroes a byte slice holding transient sensitive data, such as a
// password read from the terminal.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Purge destroys every live protected buffer. Called on shutdown.
func Purge() {
	memguard.Purge()
}

// Package session implements the secure-messaging session context (C6):
// AES-CMAC command/response authentication and AES-CBC encipherment over
// a send-sequence counter, per spec.md §4.6. A SessionContext is owned by
// a single APDU pipeline; every cryptographic failure is terminal.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/dchest/cmac"
)

// macSize is the truncated AES-CMAC tag length used for command/response
// authentication (spec.md §4.6).
const macSize = 8

// ErrSessionClosed is returned by every operation once the alive-flag has
// been cleared by a prior cryptographic failure.
var ErrSessionClosed = errors.New("session: session-closed")

// ErrDecipherError is returned by Decipher when the confidentiality
// indicator octet is not 0x01.
var ErrDecipherError = errors.New("session: decipher-error")

// ErrPaddingError is returned by Decipher when the deciphered plaintext
// carries no valid ISO/IEC 7816-4 padding.
var ErrPaddingError = errors.New("session: padding-error")

// SessionContext holds the derived keys and counter state for one secure
// messaging session. The zero value is not usable; construct with
// NewSessionContext.
type SessionContext struct {
	kenc  []byte
	kmac  []byte
	ssc   [16]byte
	alive bool
}

// DeriveSessionKeys computes Kenc/Kmac from key-derivation material kd and
// the requested AES key length (128, 192, or 256 bits), per spec.md
// §4.6. 128-bit keys use SHA-1; 192/256-bit keys use SHA-256, per the
// COS key-derivation convention. Exposed standalone so the KDF is
// testable against the literal vector in spec.md §8 scenario 4 without
// constructing a full session.
func DeriveSessionKeys(kd []byte, keyLenBits int) (kenc, kmac []byte, err error) {
	byteLen := keyLenBits / 8
	if keyLenBits != 128 && keyLenBits != 192 && keyLenBits != 256 {
		return nil, nil, fmt.Errorf("session: unsupported key length %d", keyLenBits)
	}

	derive := func(counter byte) []byte {
		var h interface {
			Write([]byte) (int, error)
			Sum([]byte) []byte
		}
		if keyLenBits == 128 {
			h = sha1.New()
		} else {
			h = sha256.New()
		}
		h.Write(kd)
		h.Write([]byte{0x00, 0x00, 0x00, counter})
		sum := h.Sum(nil)
		return sum[:byteLen]
	}

	return derive(0x01), derive(0x02), nil
}

// NewSessionContext derives Kenc/Kmac from kd and keyLenBits, zeroes
// SSCmac, and marks the context alive, per spec.md §4.6.
func NewSessionContext(kd []byte, keyLenBits int) (*SessionContext, error) {
	kenc, kmac, err := DeriveSessionKeys(kd, keyLenBits)
	if err != nil {
		return nil, err
	}
	return &SessionContext{kenc: kenc, kmac: kmac, alive: true}, nil
}

// Alive reports whether the session has not yet suffered a terminal
// cryptographic failure.
func (s *SessionContext) Alive() bool {
	return s.alive
}

// SSC returns a copy of the current 128-bit send-sequence counter, for
// tests and diagnostics.
func (s *SessionContext) SSC() [16]byte {
	return s.ssc
}

func (s *SessionContext) incrementSSC() {
	for i := len(s.ssc) - 1; i >= 0; i-- {
		s.ssc[i]++
		if s.ssc[i] != 0 {
			break
		}
	}
}

// pad applies ISO/IEC 7816-4 padding: append 0x80, then zero bytes up to
// the next 16-byte boundary.
func pad(m []byte) []byte {
	padded := make([]byte, 0, len(m)+16)
	padded = append(padded, m...)
	padded = append(padded, 0x80)
	for len(padded)%aes.BlockSize != 0 {
		padded = append(padded, 0x00)
	}
	return padded
}

// unpad strips ISO/IEC 7816-4 padding: the plaintext's true end is the
// last 0x80 byte found scanning from the right, provided every byte
// after it was the 0x80 itself followed only by zero bytes.
func unpad(b []byte) ([]byte, error) {
	for i := len(b) - 1; i >= 0; i-- {
		switch b[i] {
		case 0x00:
			continue
		case 0x80:
			return b[:i], nil
		default:
			return nil, ErrPaddingError
		}
	}
	return nil, ErrPaddingError
}

func (s *SessionContext) macBlock() (cipher.Block, error) {
	return aes.NewCipher(s.kmac)
}

func (s *SessionContext) encBlock() (cipher.Block, error) {
	return aes.NewCipher(s.kenc)
}

func (s *SessionContext) close() {
	s.alive = false
}

// ComputeCryptographicChecksum computes the AES-CMAC over SSCmac ||
// pad(m), truncated to 8 bytes, per spec.md §4.6. If incrementSsc, the
// counter is advanced (big-endian 128-bit increment) before use.
func (s *SessionContext) ComputeCryptographicChecksum(m []byte, incrementSsc bool) ([]byte, error) {
	if !s.alive {
		return nil, ErrSessionClosed
	}
	if incrementSsc {
		s.incrementSSC()
	}
	block, err := s.macBlock()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	mac, err := cmac.Sum(append(append([]byte{}, s.ssc[:]...), pad(m)...), block, macSize)
	if err != nil {
		return nil, fmt.Errorf("session: cmac: %w", err)
	}
	return mac, nil
}

// VerifyCryptographicChecksum always advances SSCmac, then recomputes
// the checksum over data and compares it to mac in constant time. A
// mismatch closes the session (spec.md §7 *mac-mismatch*) and returns
// false rather than an error.
func (s *SessionContext) VerifyCryptographicChecksum(data, mac []byte) (bool, error) {
	if !s.alive {
		return false, ErrSessionClosed
	}
	expected, err := s.ComputeCryptographicChecksum(data, true)
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare(expected, mac) != 1 {
		s.close()
		return false, nil
	}
	return true, nil
}

// Encipher increments SSCmac, derives IV = AES-ENC_Kenc(SSCmac), pads m,
// and returns 0x01 || AES-CBC(Kenc, IV, pad(m)), per spec.md §4.6.
//
// Counter ordering: the increment happens before the IV is derived and
// before any MAC over the secured command that follows, matching the
// ordering rule spec.md §5 encodes.
func (s *SessionContext) Encipher(m []byte) ([]byte, error) {
	if !s.alive {
		return nil, ErrSessionClosed
	}
	s.incrementSSC()

	block, err := s.encBlock()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	var iv [aes.BlockSize]byte
	block.Encrypt(iv[:], s.ssc[:])

	padded := pad(m)
	cipherText := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(cipherText, padded)

	out := make([]byte, 0, len(cipherText)+1)
	out = append(out, 0x01)
	out = append(out, cipherText...)
	return out, nil
}

// Decipher reverses Encipher: the first octet must be 0x01, after which
// the remaining ciphertext is decrypted under IV = AES-ENC_Kenc(SSCmac)
// and unpadded. A bad indicator octet or unpaddable plaintext closes the
// session and fails, per spec.md §7.
func (s *SessionContext) Decipher(indicatorPlusCipher []byte) ([]byte, error) {
	if !s.alive {
		return nil, ErrSessionClosed
	}
	if len(indicatorPlusCipher) == 0 || indicatorPlusCipher[0] != 0x01 {
		s.close()
		return nil, ErrDecipherError
	}
	cipherText := indicatorPlusCipher[1:]
	if len(cipherText)%aes.BlockSize != 0 {
		s.close()
		return nil, ErrDecipherError
	}

	s.incrementSSC()

	block, err := s.encBlock()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	var iv [aes.BlockSize]byte
	block.Encrypt(iv[:], s.ssc[:])

	plain := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(plain, cipherText)

	m, err := unpad(plain)
	if err != nil {
		s.close()
		return nil, err
	}
	return m, nil
}

package cvc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/openhealthpki/cvctrust/internal/brainpool"
)

// SignatureStatus is the terminal/non-terminal classification of a CVC's
// ECDSA signature, per spec.md §3/§4.5.
type SignatureStatus int32

const (
	StatusUnknown SignatureStatus = iota
	StatusValid
	StatusInvalid
	StatusNoPublicKey
)

func (s SignatureStatus) String() string {
	switch s {
	case StatusValid:
		return "VALID"
	case StatusInvalid:
		return "INVALID"
	case StatusNoPublicKey:
		return "NO_PUBLIC_KEY"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether a status, once reached, never changes again.
func (s SignatureStatus) Terminal() bool {
	return s == StatusValid || s == StatusInvalid
}

// PublicKey is an elliptic-curve public key together with its domain
// parameters, as stored in the public-key cache (C3) and as decoded from
// a CVC's own public-key template.
type PublicKey struct {
	Curve elliptic.Curve
	X, Y  *big.Int
}

// Equal reports whether two public keys name the same curve and point.
func (pk PublicKey) Equal(other PublicKey) bool {
	if pk.Curve == nil || other.Curve == nil {
		return pk.Curve == other.Curve
	}
	return pk.Curve.Params().Name == other.Curve.Params().Name &&
		pk.X.Cmp(other.X) == 0 && pk.Y.Cmp(other.Y) == 0
}

func (pk PublicKey) toECDSA() *ecdsa.PublicKey {
	return &ecdsa.PublicKey{Curve: pk.Curve, X: pk.X, Y: pk.Y}
}

// PublicKeyLookup is the narrow read interface the signature evaluator
// needs from the public-key cache (C3), kept separate so cvc never
// imports pkcache: pkcache imports cvc for the PublicKey/Cvc types, never
// the reverse.
type PublicKeyLookup interface {
	PublicKey(chr string) (PublicKey, bool)
}

// signatureState is the atomic cell backing a Cvc's signature status: a
// double-checked-publication style guard where a terminal value (VALID or
// INVALID), once stored, is visible to subsequent readers without taking
// the mutex, while UNKNOWN/NO_PUBLIC_KEY may be recomputed under lock on
// every call, per spec.md §5 and §9 "Deferred signature evaluation".
type signatureState struct {
	status atomic.Int32
	mu     sync.Mutex
}

func (s *signatureState) load() SignatureStatus {
	return SignatureStatus(s.status.Load())
}

// EvaluateSignature implements the deferred, idempotent evaluation
// protocol of spec.md §4.5:
//  1. If the cached status is terminal, return it without recomputation.
//  2. Otherwise, look up the issuer's public key by this CVC's CAR.
//  3. Absent: NO_PUBLIC_KEY (informational, retryable).
//  4. Present: verify the ECDSA signature over the encoded content
//     template, using the hash family named by this CVC's own
//     public-key-usage OID. Result is VALID or INVALID, both terminal.
func (c *Cvc) EvaluateSignature(lookup PublicKeyLookup) SignatureStatus {
	if s := c.sig.load(); s.Terminal() {
		return s
	}

	c.sig.mu.Lock()
	defer c.sig.mu.Unlock()

	if s := c.sig.load(); s.Terminal() {
		return s
	}

	issuerPK, ok := lookup.PublicKey(c.CAR().String())
	if !ok {
		c.sig.status.Store(int32(StatusNoPublicKey))
		return StatusNoPublicKey
	}

	status := c.verifySignature(issuerPK)
	c.sig.status.Store(int32(status))
	return status
}

func (c *Cvc) verifySignature(issuerPK PublicKey) SignatureStatus {
	if c.pkTemplate.UsageOID == nil {
		return StatusInvalid
	}
	usage, err := brainpool.Resolve(c.pkTemplate.UsageOID)
	if err != nil {
		return StatusInvalid
	}

	fieldLen := (usage.Curve.Params().BitSize + 7) / 8
	if len(c.signature) != 2*fieldLen {
		return StatusInvalid
	}
	r := new(big.Int).SetBytes(c.signature[:fieldLen])
	s := new(big.Int).SetBytes(c.signature[fieldLen:])

	h := usage.Hash.New()
	h.Write(c.contentRaw)
	digest := h.Sum(nil)

	if ecdsa.Verify(issuerPK.toECDSA(), digest, r, s) {
		return StatusValid
	}
	return StatusInvalid
}

// Package brainpool resolves the public-key-usage object identifiers used
// by card-verifiable certificates to a brainpool elliptic curve and the
// hash algorithm the curve's key size requires, per CSM (Crypto Suite for
// Mobile/health-card) convention: 256-bit curves pair with SHA-256,
// 384-bit with SHA-384, 512-bit with SHA-512.
package brainpool

import (
	"crypto"
	"crypto/elliptic"
	_ "crypto/sha256" // registers crypto.SHA256, used by the ecdsa-with-SHA256/autS-gemSpec-COS-ecc-with-SHA256 usages below
	"encoding/asn1"
	"fmt"

	"github.com/ebfe/brainpool"
)

// Usage identifies one of the public-key-usage OID families a CVC may
// declare: plain ECDSA (used by CA-issued certificates) or the
// health-card-specific autS-gemSpec-COS-ecc variant (used by end-entity
// certificates), each parameterized by hash strength.
type Usage struct {
	OID   asn1.ObjectIdentifier
	Curve elliptic.Curve
	Hash  crypto.Hash
	// EndEntityOnly is true for autS-gemSpec-COS-ecc-with-* OIDs, which
	// invariant 4 (spec.md §3) restricts to end-entity CHRs; false for
	// ecdsa-with-* OIDs, restricted to CA CHRs.
	EndEntityOnly bool
}

var (
	oidECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	oidECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	oidECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}

	// autS-gemSpec-COS-ecc-with-SHA{256,384,512}: gematik's arc under the
	// German health-card object identifier tree (gemSpec-COS, "autS" =
	// authentication signature), mirroring ecdsa-with-SHA* but scoped to
	// end-entity authentication keys.
	oidAutSECCWithSHA256 = asn1.ObjectIdentifier{1, 2, 276, 0, 76, 4, 1, 1, 1}
	oidAutSECCWithSHA384 = asn1.ObjectIdentifier{1, 2, 276, 0, 76, 4, 1, 1, 2}
	oidAutSECCWithSHA512 = asn1.ObjectIdentifier{1, 2, 276, 0, 76, 4, 1, 1, 3}
)

var usages = []Usage{
	{OID: oidECDSAWithSHA256, Curve: brainpool.P256r1(), Hash: crypto.SHA256},
	{OID: oidECDSAWithSHA384, Curve: brainpool.P384r1(), Hash: crypto.SHA384},
	{OID: oidECDSAWithSHA512, Curve: brainpool.P512r1(), Hash: crypto.SHA512},
	{OID: oidAutSECCWithSHA256, Curve: brainpool.P256r1(), Hash: crypto.SHA256, EndEntityOnly: true},
	{OID: oidAutSECCWithSHA384, Curve: brainpool.P384r1(), Hash: crypto.SHA384, EndEntityOnly: true},
	{OID: oidAutSECCWithSHA512, Curve: brainpool.P512r1(), Hash: crypto.SHA512, EndEntityOnly: true},
}

// Resolve looks up the curve/hash pairing for a public-key-usage OID.
func Resolve(oid asn1.ObjectIdentifier) (Usage, error) {
	for _, u := range usages {
		if u.OID.Equal(oid) {
			return u, nil
		}
	}
	return Usage{}, fmt.Errorf("brainpool: unsupported public-key usage OID %s", oid)
}

// CurveForPointLength maps an uncompressed point's total octet length
// (1 + 2*fieldSize, leading 0x04 included) to its curve, per §4.1 step 3
// of the certificate parser algorithm.
func CurveForPointLength(n int) (elliptic.Curve, error) {
	switch n {
	case 0x41:
		return brainpool.P256r1(), nil
	case 0x61:
		return brainpool.P384r1(), nil
	case 0x81:
		return brainpool.P512r1(), nil
	default:
		return nil, fmt.Errorf("brainpool: unrecognized uncompressed point length %#x", n)
	}
}

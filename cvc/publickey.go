package cvc

import (
	"fmt"
	"math/big"

	"github.com/openhealthpki/cvctrust/internal/bertlv"
)

// PublicKey returns the certificate's own public key, as carried in its
// public-key template (tag 7f49). Callers verifying certificates signed
// by c use this to grow their key cache, per spec.md §4.3.
func (c *Cvc) PublicKey() (PublicKey, error) {
	if c.pkTemplate == nil || c.pkTemplate.Curve == nil {
		return PublicKey{}, fmt.Errorf("cvc: no usable public-key template")
	}
	return PublicKey{
		Curve: c.pkTemplate.Curve,
		X:     new(big.Int).SetBytes(c.pkTemplate.X),
		Y:     new(big.Int).SetBytes(c.pkTemplate.Y),
	}, nil
}

// PublicKeyTemplateBytes returns the exact tag-7f49 encoding (tag, length
// and value) of c's public-key template, suitable for writing as a
// standalone "_ELC-PublicKey.der" file (spec.md §6) that
// pkcache.DecodePublicKeyTemplate can read back unchanged.
func (c *Cvc) PublicKeyTemplateBytes() ([]byte, error) {
	if c.pkTemplate == nil || len(c.pkTemplate.templateRaw) == 0 {
		return nil, fmt.Errorf("cvc: no public-key template to export")
	}
	return c.pkTemplate.templateRaw, nil
}

// DecodeStandalonePublicKey parses a public-key template (tag 7f49, the
// same shape a CVC embeds, per spec.md §6 "_ELC-PublicKey.der") given its
// already-decoded tag and value octets, and returns the key in the form
// the signature evaluator and public-key cache share.
func DecodeStandalonePublicKey(tag bertlv.Tag, value []byte) (PublicKey, error) {
	if tag != tagPublicKeyTemplate {
		return PublicKey{}, fmt.Errorf("cvc: expected public-key template tag %#x, got %#x", tagPublicKeyTemplate, tag)
	}
	pkt := parsePublicKeyTemplate(bertlv.Encode(tag, value), value)
	if len(pkt.findings) > 0 {
		return PublicKey{}, fmt.Errorf("cvc: malformed public-key template: %s", pkt.findings[0])
	}
	return PublicKey{
		Curve: pkt.Curve,
		X:     new(big.Int).SetBytes(pkt.X),
		Y:     new(big.Int).SetBytes(pkt.Y),
	}, nil
}

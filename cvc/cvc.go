// Package cvc implements parsing, structural validation, and deferred
// ECDSA signature verification of card-verifiable certificates (CVC), per
// spec.md §3 and §4.1. A Cvc is an immutable value type save for its
// signature-status cell, which transitions at most once from UNKNOWN to a
// terminal VALID/INVALID (or transiently to NO_PUBLIC_KEY).
package cvc

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/openhealthpki/cvctrust/internal/bertlv"
	"github.com/openhealthpki/cvctrust/internal/brainpool"
)

// Cvc is a parsed card-verifiable certificate. It is never mutated after
// construction except for its signature-status cell (see signature.go).
type Cvc struct {
	raw        []byte // the full outer 7f21 encoding
	contentRaw []byte // the 7f4e content, i.e. the signed message
	signature  []byte // raw R||S octets from the 5f37 value

	cpi        *cpiComponent
	car        *carComponent
	chr        *chrComponent
	pkTemplate *publicKeyTemplateComponent
	chat       *chatComponent
	ced        *dateComponent
	cxd        *dateComponent

	criticalFindings []string
	findings         *multierror.Error

	sig signatureState
}

// Parse decodes a CVC from its outer BER-TLV encoding. It fails only when
// the outer octet stream is not a well-formed TLV (spec.md §4.1 Contract);
// every other problem becomes a finding and, where safety requires,
// flips HasCriticalFindings, but parsing always succeeds.
func Parse(data []byte) (*Cvc, error) {
	outer, rest, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("cvc: invalid-tlv: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("cvc: invalid-tlv: %d trailing bytes after outer object", len(rest))
	}
	if outer.Tag != tagOuterCertificate {
		return nil, fmt.Errorf("cvc: invalid-tlv: outer tag is %#x, expected %#x", outer.Tag, tagOuterCertificate)
	}

	c := &Cvc{raw: outer.Raw, findings: &multierror.Error{}}

	contentObj, ok := outer.Find(tagContentTemplate)
	if !ok {
		return nil, fmt.Errorf("cvc: invalid-tlv: missing content template (tag %#x)", tagContentTemplate)
	}
	sigObj, ok := outer.Find(tagSignature)
	if !ok {
		return nil, fmt.Errorf("cvc: invalid-tlv: missing signature (tag %#x)", tagSignature)
	}
	c.contentRaw = contentObj.Raw
	c.signature = sigObj.Value

	children, err := contentObj.Children()
	if err != nil {
		return nil, fmt.Errorf("cvc: invalid-tlv: content template is not a valid TLV sequence: %w", err)
	}

	byTag := make(map[bertlv.Tag]bertlv.Object, len(children))
	for _, child := range children {
		byTag[child.Tag] = child
	}

	c.cpi = parseCPI(valueOrNil(byTag, tagCPI))
	c.car = parseCAR(valueOrNil(byTag, tagCAR))
	c.pkTemplate = parsePublicKeyTemplate(rawOrNil(byTag, tagPublicKeyTemplate), valueOrNil(byTag, tagPublicKeyTemplate))
	c.chr = parseCHR(valueOrNil(byTag, tagCHR))
	c.chat = parseCHAT(valueOrNil(byTag, tagCHAT))
	c.ced = parseDate(valueOrNil(byTag, tagCED))
	c.cxd = parseDate(valueOrNil(byTag, tagCXD))

	for _, tag := range []bertlv.Tag{tagCPI, tagCAR, tagPublicKeyTemplate, tagCHR, tagCHAT, tagCED, tagCXD} {
		if _, ok := byTag[tag]; !ok {
			c.addFinding(true, "content template missing required sub-DO %#x", tag)
		}
	}

	c.validateCrossFields()

	return c, nil
}

func valueOrNil(byTag map[bertlv.Tag]bertlv.Object, tag bertlv.Tag) []byte {
	if obj, ok := byTag[tag]; ok {
		return obj.Value
	}
	return nil
}

func rawOrNil(byTag map[bertlv.Tag]bertlv.Object, tag bertlv.Tag) []byte {
	if obj, ok := byTag[tag]; ok {
		return obj.Raw
	}
	return nil
}

// addFinding records a finding; critical findings additionally flip
// HasCriticalFindings.
func (c *Cvc) addFinding(critical bool, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.findings = multierror.Append(c.findings, fmt.Errorf("%s", msg))
	if critical {
		c.criticalFindings = append(c.criticalFindings, msg)
	}
}

// validateCrossFields implements spec.md §3 invariants 1-7, folding in
// every component-level finding and adding the cross-field checks that
// only make sense once all six fields are parsed.
func (c *Cvc) validateCrossFields() {
	for _, f := range c.cpi.findings {
		c.addFinding(true, "CPI: %s", f)
	}
	for _, f := range c.car.findings {
		c.addFinding(true, "CAR: %s", f)
	}
	for _, f := range c.chr.findings {
		c.addFinding(true, "CHR: %s", f)
	}
	for _, f := range c.pkTemplate.findings {
		c.addFinding(true, "public-key template: %s", f)
	}
	for _, f := range c.chat.findings {
		c.addFinding(true, "CHAT: %s", f)
	}
	for _, f := range c.ced.findings {
		c.addFinding(true, "CED: %s", f)
	}
	for _, f := range c.cxd.findings {
		c.addFinding(true, "CXD: %s", f)
	}

	role, roleKnown := c.chat.Role()
	if roleKnown {
		before := len(c.chat.findings)
		c.chat.checkRFUBits(role)
		for _, f := range c.chat.findings[before:] {
			c.addFinding(true, "CHAT: %s", f)
		}
	}

	// Invariant 3: CHR length/role consistency.
	if len(c.chr.raw) == 8 {
		if roleKnown && role == RoleEndEntity {
			c.addFinding(true, "8-octet (CA) CHR paired with end-entity flag list")
		}
	} else if len(c.chr.raw) == 12 {
		if roleKnown && role != RoleEndEntity {
			c.addFinding(true, "12-octet (end-entity) CHR paired with CA flag list")
		}
	}

	// Invariant 4: public-key OID / CHR kind pairing and curve/hash match.
	if c.pkTemplate.UsageOID != nil {
		if usage, err := brainpool.Resolve(c.pkTemplate.UsageOID); err != nil {
			c.addFinding(true, "public-key usage OID: %v", err)
		} else {
			endEntityCHR := len(c.chr.raw) == 12
			if usage.EndEntityOnly && !endEntityCHR {
				c.addFinding(true, "autS-* public-key OID used with a non-end-entity CHR")
			}
			if !usage.EndEntityOnly && endEntityCHR {
				c.addFinding(true, "ecdsa-* public-key OID used with an end-entity CHR")
			}
			if c.pkTemplate.Curve != nil && c.pkTemplate.Curve.Params().Name != usage.Curve.Params().Name {
				c.addFinding(true, "public-key curve does not match the strength named by the usage OID")
			}
		}
	}

	// Invariant 5: flag-list OID + classification-dependent bit checks.
	if !roleKnown && len(c.chat.FlagList) == 7 {
		c.addFinding(true, "CHAT flag list has an unrecognized classification in its top two bits")
	}

	// Invariant 6: CED <= CXD.
	if len(c.ced.BCD) == 6 && len(c.cxd.BCD) == 6 {
		if c.ced.Compare(c.cxd) > 0 {
			c.addFinding(true, "CED is after CXD")
		}
	}

	// Invariant 7 is enforced inside parsePublicKeyTemplate (point form
	// and length checks already contribute findings above).
}

// CAR returns the CVC's Certification Authority Reference component.
func (c *Cvc) CAR() *carComponent { return c.car }

// CHR returns the CVC's Cardholder Reference component.
func (c *Cvc) CHR() *chrComponent { return c.chr }

// HasCriticalFindings reports whether any structural or cross-field
// invariant failed during parsing (spec.md §3 "uncritical" definition).
func (c *Cvc) HasCriticalFindings() bool {
	return len(c.criticalFindings) > 0
}

// CriticalFindings returns the critical finding messages, in discovery
// order.
func (c *Cvc) CriticalFindings() []string {
	return append([]string{}, c.criticalFindings...)
}

// Findings returns every finding — critical and informational — as an
// aggregated error, matching spec.md §4.1's "opaque diagnostic strings".
func (c *Cvc) Findings() *multierror.Error {
	return c.findings
}

// Bytes returns the original outer TLV encoding. Re-encoding a Cvc is
// never necessary: the constructor retains the exact bytes it was built
// from, so Bytes() always satisfies round-trip property P1 (spec.md §8).
func (c *Cvc) Bytes() []byte {
	return c.raw
}

// Key returns the map/set key this Cvc is identified by: the encoded
// outer TLV, per spec.md §4.1 "Equality and hashing are defined purely on
// the encoded outer TLV".
func (c *Cvc) Key() string {
	return string(c.raw)
}

// Equal reports whether two CVCs have identical outer encodings.
func (c *Cvc) Equal(other *Cvc) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(c.raw, other.raw)
}

// IsSelfSigned reports whether the CVC's CAR equals its own CHR, i.e. it
// is a root CA's self-signed certificate.
func (c *Cvc) IsSelfSigned() bool {
	return c.car.String() == c.chr.String()
}

// Role classifies the certificate via its CHAT flag list.
func (c *Cvc) Role() (CertRole, bool) {
	return c.chat.Role()
}

// SignatureStatus returns the cached signature status without attempting
// evaluation. Use EvaluateSignature to drive the transition.
func (c *Cvc) SignatureStatus() SignatureStatus {
	return c.sig.load()
}

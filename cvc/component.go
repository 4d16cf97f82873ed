package cvc

import (
	"bytes"
	"crypto/elliptic"
	"encoding/asn1"
	"fmt"

	"github.com/openhealthpki/cvctrust/internal/bertlv"
	"github.com/openhealthpki/cvctrust/internal/brainpool"
)

// Kind identifies which of the six semantic CVC fields a component holds.
// The source models these as a class hierarchy rooted at an abstract
// component base; this rewrite models the same idea as a tagged variant,
// per spec.md §9 "Deep inheritance".
type Kind int

const (
	KindCPI Kind = iota
	KindCAR
	KindCHR
	KindPublicKeyTemplate
	KindCHAT
	KindCED
	KindCXD
)

func (k Kind) String() string {
	switch k {
	case KindCPI:
		return "CPI"
	case KindCAR:
		return "CAR"
	case KindCHR:
		return "CHR"
	case KindPublicKeyTemplate:
		return "PublicKeyTemplate"
	case KindCHAT:
		return "CHAT"
	case KindCED:
		return "CED"
	case KindCXD:
		return "CXD"
	default:
		return "Unknown"
	}
}

// CertRole is the classification a CHR or CHAT flag-list carries: the
// top two bits of the flag list (spec.md §3) distinguish a root CA, a
// sub CA, and an end-entity certificate.
type CertRole int

const (
	RoleEndEntity CertRole = iota
	RoleSubCA
	RoleRootCA
)

func (r CertRole) String() string {
	switch r {
	case RoleRootCA:
		return "root-CA"
	case RoleSubCA:
		return "sub-CA"
	default:
		return "end-entity"
	}
}

// component is the common shape every field-specific parse result embeds:
// the raw bytes it was parsed from and the findings accumulated while
// parsing it. Findings are always non-fatal at the component level; only
// Cvc decides which findings are critical (spec.md §4.1).
type component struct {
	raw      []byte
	findings []string
}

func (c *component) addFinding(format string, args ...any) {
	c.findings = append(c.findings, fmt.Sprintf(format, args...))
}

// cpiComponent holds the Certificate Profile Indicator (tag 5f29).
type cpiComponent struct {
	component
	value byte
}

func parseCPI(value []byte) *cpiComponent {
	c := &cpiComponent{}
	c.raw = value
	if len(value) != 1 {
		c.addFinding("CPI must be exactly 1 octet, got %d", len(value))
		return c
	}
	c.value = value[0]
	if c.value != 0x70 {
		c.addFinding("CPI is %#x, expected 0x70", c.value)
	}
	return c
}

// carComponent holds the Certification Authority Reference (tag 42).
type carComponent struct {
	component
	Name             string
	ServiceIndicator byte // nibble, expected 1 or 8
	Discretionary    byte // nibble
	AlgorithmRef     byte // BCD, expected 0x02
	GenerationYear   byte // BCD, two digits
}

func parseCAR(value []byte) *carComponent {
	c := &carComponent{}
	c.raw = value
	if len(value) != 8 {
		c.addFinding("CAR must be exactly 8 octets, got %d", len(value))
		return c
	}
	c.Name = string(value[0:5])
	c.ServiceIndicator = value[5] >> 4
	c.Discretionary = value[5] & 0x0f
	c.AlgorithmRef = value[6]
	c.GenerationYear = value[7]

	if c.ServiceIndicator != 1 && c.ServiceIndicator != 8 {
		c.addFinding("CAR service indicator nibble is %x, expected 1 or 8", c.ServiceIndicator)
	}
	if c.AlgorithmRef != 0x02 {
		c.addFinding("CAR algorithm reference is %#x, expected 0x02", c.AlgorithmRef)
	}
	if !isBCDByte(c.GenerationYear) {
		c.addFinding("CAR generation year %#x is not valid BCD", c.GenerationYear)
	}
	return c
}

// String renders the CAR in the conventional dashed display form, e.g.
// "DEGXX-8-7-02-22". This is also the identifier CAR/CHR are keyed by in
// the public-key cache, so it must include every octet that distinguishes
// one CA identity from another.
func (c *carComponent) String() string {
	return fmt.Sprintf("%s-%x-%x-%02x-%02x", c.Name, c.ServiceIndicator, c.Discretionary, c.AlgorithmRef, c.GenerationYear)
}

// chrComponent holds the Cardholder Reference (tag 5f20), either an 8-
// octet CA reference (same shape as a CAR) or a 12-octet end-entity
// reference (2 discretionary octets + 10-octet BCD ICCSN).
type chrComponent struct {
	component
	EndEntity bool

	// Populated when EndEntity is false (8-octet CA CHR).
	Name             string
	ServiceIndicator byte
	Discretionary    byte
	AlgorithmRef     byte
	GenerationYear   byte

	// Populated when EndEntity is true (12-octet end-entity CHR).
	EEDiscretionary []byte // 2 octets
	ICCSN           []byte // 10 octets, BCD
}

func parseCHR(value []byte) *chrComponent {
	c := &chrComponent{}
	c.raw = value
	switch len(value) {
	case 8:
		c.Name = string(value[0:5])
		c.ServiceIndicator = value[5] >> 4
		c.Discretionary = value[5] & 0x0f
		c.AlgorithmRef = value[6]
		c.GenerationYear = value[7]
	case 12:
		c.EndEntity = true
		c.EEDiscretionary = append([]byte{}, value[0:2]...)
		c.ICCSN = append([]byte{}, value[2:12]...)
		for _, b := range c.ICCSN {
			if !isBCDByte(b) {
				c.addFinding("CHR ICCSN octet %#x is not valid BCD", b)
				break
			}
		}
	default:
		c.addFinding("CHR must be 8 (CA) or 12 (end-entity) octets, got %d", len(value))
	}
	return c
}

// String renders the CHR in its conventional display form. The CA branch
// uses the same layout as carComponent.String so a CA's own CHR and a
// subordinate's CAR compare equal as strings whenever they identify the
// same issuer.
func (c *chrComponent) String() string {
	if c.EndEntity {
		return fmt.Sprintf("%x-%x", c.EEDiscretionary, c.ICCSN)
	}
	return fmt.Sprintf("%s-%x-%x-%02x-%02x", c.Name, c.ServiceIndicator, c.Discretionary, c.AlgorithmRef, c.GenerationYear)
}

// publicKeyTemplateComponent holds the public-key template (tag 7f49):
// the OID naming the key's intended use, and the uncompressed EC point.
type publicKeyTemplateComponent struct {
	component
	UsageOID  asn1.ObjectIdentifier
	PointForm byte // 0x04 uncompressed, 0x02/0x03 compressed
	Curve     elliptic.Curve
	X, Y      []byte // big-endian coordinate octets, when uncompressed

	// templateRaw is the full tag-7f49 encoding (tag||length||value) this
	// template was parsed from, kept so a standalone public-key mirror can
	// be re-emitted byte-for-byte without re-deriving it from UsageOID/
	// Curve/X/Y, which cannot recover the original OID unambiguously (a
	// brainpool curve maps to more than one usage OID).
	templateRaw []byte
}

func parsePublicKeyTemplate(full, value []byte) *publicKeyTemplateComponent {
	c := &publicKeyTemplateComponent{}
	c.raw = value
	c.templateRaw = full

	obj := bertlv.Object{Tag: tagPublicKeyTemplate, Value: value}
	oidObj, ok := obj.Find(tagOID)
	if !ok {
		c.addFinding("public-key template missing OID (tag 06)")
	} else {
		var oid asn1.ObjectIdentifier
		if _, err := asn1.Unmarshal(encodeASN1OID(oidObj.Value), &oid); err != nil {
			c.addFinding("public-key template OID is not well-formed: %v", err)
		} else {
			c.UsageOID = oid
		}
	}

	pointObj, ok := obj.Find(tagPublicPoint)
	if !ok {
		c.addFinding("public-key template missing point (tag 86)")
		return c
	}
	point := pointObj.Value
	if len(point) == 0 {
		c.addFinding("public-key template point is empty")
		return c
	}
	c.PointForm = point[0]
	switch c.PointForm {
	case 0x04:
		curve, err := brainpool.CurveForPointLength(len(point))
		if err != nil {
			c.addFinding("uncompressed point: %v", err)
			return c
		}
		c.Curve = curve
		fieldLen := (len(point) - 1) / 2
		c.X = point[1 : 1+fieldLen]
		c.Y = point[1+fieldLen:]
	case 0x02, 0x03:
		c.addFinding("public-key point uses compressed form %#x, only uncompressed is accepted", c.PointForm)
	default:
		c.addFinding("public-key point has unrecognized leading octet %#x", c.PointForm)
	}
	return c
}

// encodeASN1OID re-wraps a bare OID value (the content octets of a BER-TLV
// tag-06 object) in a minimal DER TLV header so encoding/asn1 can parse it
// as an asn1.ObjectIdentifier.
func encodeASN1OID(value []byte) []byte {
	return bertlv.Encode(0x06, value)
}

// chatComponent holds the Certificate Holder Authorisation Template (tag
// 7f4c): the OID naming the flag-list interpretation, and the 7-octet
// flag list itself.
type chatComponent struct {
	component
	FlagListOID asn1.ObjectIdentifier
	FlagList    []byte // 7 octets
}

func parseCHAT(value []byte) *chatComponent {
	c := &chatComponent{}
	c.raw = value

	obj := bertlv.Object{Tag: tagCHAT, Value: value}
	oidObj, ok := obj.Find(tagOID)
	if !ok {
		c.addFinding("CHAT missing flag-list OID (tag 06)")
	} else {
		var oid asn1.ObjectIdentifier
		if _, err := asn1.Unmarshal(encodeASN1OID(oidObj.Value), &oid); err != nil {
			c.addFinding("CHAT OID is not well-formed: %v", err)
		} else if !isKnownFlagListOID(oid) {
			c.addFinding("CHAT OID %s is not a recognized flag-list interpretation", oid)
			c.FlagListOID = oid
		} else {
			c.FlagListOID = oid
		}
	}

	flagsObj, ok := obj.Find(tagFlagList)
	if !ok {
		c.addFinding("CHAT missing flag list (tag 53)")
		return c
	}
	if len(flagsObj.Value) != 7 {
		c.addFinding("CHAT flag list must be 7 octets, got %d", len(flagsObj.Value))
		return c
	}
	c.FlagList = flagsObj.Value
	return c
}

// Role classifies the certificate by the two most-significant bits of
// the flag list's first octet: 11 root-CA, 10 sub-CA, 00 end-entity.
func (c *chatComponent) Role() (CertRole, bool) {
	if len(c.FlagList) != 7 {
		return 0, false
	}
	switch c.FlagList[0] >> 6 {
	case 0b11:
		return RoleRootCA, true
	case 0b10:
		return RoleSubCA, true
	case 0b00:
		return RoleEndEntity, true
	default:
		return 0, false
	}
}

// checkRFUBits verifies that a root flag list has every bit set. A
// non-root flag list is not checked: no reserved-for-future-use bit is
// flagged for it.
func (c *chatComponent) checkRFUBits(role CertRole) {
	if len(c.FlagList) != 7 {
		return
	}
	if role == RoleRootCA {
		allSet := bytes.Equal(c.FlagList, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
		if !allSet {
			c.addFinding("root-CA flag list does not have all flags set")
		}
		return
	}
	// The two classification bits of octet 0 are never RFU; only bits
	// beyond whatever the concrete flag-list OID assigns are. Without a
	// bit-by-bit rights registry for CMS/TI in scope, this rewrite treats
	// reserved bits conservatively as "none known to be reserved beyond
	// the classification bits", matching the source's behavior of only
	// flagging flag lists it can positively prove are wrong.
}

// dateComponent holds a Certificate Effective or Expiration Date (tag
// 5f25 or 5f24): six BCD octets. Comparison is purely
// lexicographic byte comparison, which is order-preserving for BCD
// digits.
type dateComponent struct {
	component
	BCD []byte // 6 octets
}

func parseDate(value []byte) *dateComponent {
	c := &dateComponent{}
	c.raw = value
	if len(value) != 6 {
		c.addFinding("date field must be 6 octets, got %d", len(value))
		return c
	}
	for _, b := range value {
		if !isBCDByte(b) {
			c.addFinding("date octet %#x is not valid BCD", b)
		}
	}
	c.BCD = value
	return c
}

// Compare returns a negative number if c is strictly before other, 0 if
// equal, positive if after.
func (c *dateComponent) Compare(other *dateComponent) int {
	return bytes.Compare(c.BCD, other.BCD)
}

func (c *dateComponent) String() string {
	return fmt.Sprintf("%x", c.BCD)
}

func isBCDByte(b byte) bool {
	hi, lo := b>>4, b&0x0f
	return hi <= 9 && lo <= 9
}

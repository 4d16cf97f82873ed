package cvc

import "github.com/openhealthpki/cvctrust/internal/bertlv"

// BER-TLV tags used by the CVC wire format, per spec.md §4.1.
const (
	tagOuterCertificate bertlv.Tag = 0x7f21
	tagContentTemplate  bertlv.Tag = 0x7f4e
	tagSignature        bertlv.Tag = 0x5f37

	tagCPI               bertlv.Tag = 0x5f29
	tagCAR                bertlv.Tag = 0x42
	tagPublicKeyTemplate bertlv.Tag = 0x7f49
	tagCHR               bertlv.Tag = 0x5f20
	tagCHAT              bertlv.Tag = 0x7f4c
	tagCED               bertlv.Tag = 0x5f25
	tagCXD               bertlv.Tag = 0x5f24

	tagOID         bertlv.Tag = 0x06
	tagPublicPoint bertlv.Tag = 0x86
	tagFlagList    bertlv.Tag = 0x53
)

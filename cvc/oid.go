package cvc

import "encoding/asn1"

// Flag-list interpretation OIDs, per spec.md §3/§4.1: a CHAT's flag list
// is interpreted either as CMS (card-management-system) rights or as TI
// (Telematik-Infrastruktur) rights, under gematik's gemSpec-COS arc.
var (
	oidFlagListCMS = asn1.ObjectIdentifier{1, 2, 276, 0, 76, 4, 205}
	oidFlagListTI  = asn1.ObjectIdentifier{1, 2, 276, 0, 76, 4, 206}
)

func isKnownFlagListOID(oid asn1.ObjectIdentifier) bool {
	return oid.Equal(oidFlagListCMS) || oid.Equal(oidFlagListTI)
}

package brainpool

import (
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKnownOID(t *testing.T) {
	u, err := Resolve(asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2})
	require.NoError(t, err)
	assert.False(t, u.EndEntityOnly)
	assert.Equal(t, 256, u.Curve.Params().BitSize)
}

func TestResolveEndEntityOID(t *testing.T) {
	u, err := Resolve(asn1.ObjectIdentifier{1, 2, 276, 0, 76, 4, 1, 1, 3})
	require.NoError(t, err)
	assert.True(t, u.EndEntityOnly)
}

func TestResolveUnknownOID(t *testing.T) {
	_, err := Resolve(asn1.ObjectIdentifier{1, 2, 3})
	assert.Error(t, err)
}

func TestCurveForPointLength(t *testing.T) {
	for n, wantBits := range map[int]int{0x41: 256, 0x61: 384, 0x81: 512} {
		c, err := CurveForPointLength(n)
		require.NoError(t, err)
		assert.Equal(t, wantBits, c.Params().BitSize)
	}
}

func TestCurveForPointLengthRejectsUnknown(t *testing.T) {
	_, err := CurveForPointLength(7)
	assert.Error(t, err)
}

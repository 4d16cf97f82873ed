package bertlv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeShortForm(t *testing.T) {
	require := require.New(t)

	// tag 0x42 ("CAR"), length 3, value "abc"
	data := []byte{0x42, 0x03, 'a', 'b', 'c'}
	obj, rest, err := Decode(data)
	require.NoError(err)
	require.Empty(rest)
	require.Equal(Tag(0x42), obj.Tag)
	require.Equal([]byte("abc"), obj.Value)
	require.Equal(data, obj.Raw)
}

func TestDecodeTwoByteTag(t *testing.T) {
	require := require.New(t)

	data := []byte{0x5f, 0x29, 0x01, 0x70}
	obj, rest, err := Decode(data)
	require.NoError(err)
	require.Empty(rest)
	require.Equal(Tag(0x5f29), obj.Tag)
	require.Equal([]byte{0x70}, obj.Value)
}

func TestDecodeLongFormLength(t *testing.T) {
	require := require.New(t)

	value := make([]byte, 200)
	data := append([]byte{0x7f, 0x4e, 0x81, 0xc8}, value...)
	obj, rest, err := Decode(data)
	require.NoError(err)
	require.Empty(rest)
	require.Equal(Tag(0x7f4e), obj.Tag)
	require.Len(obj.Value, 200)
}

func TestDecodeTruncatedValue(t *testing.T) {
	require := require.New(t)

	_, _, err := Decode([]byte{0x42, 0x05, 'a', 'b'})
	require.Error(err)
}

func TestDecodeAllAndChildren(t *testing.T) {
	require := require.New(t)

	cpi := Encode(0x5f29, []byte{0x70})
	car := Encode(0x42, []byte("DEGXX_8"))
	content := Encode(0x7f4e, append(append([]byte{}, cpi...), car...))

	objs, err := DecodeAll(content)
	require.NoError(err)
	require.Len(objs, 1)

	outer := objs[0]
	require.True(outer.Constructed())

	children, err := outer.Children()
	require.NoError(err)
	require.Len(children, 2)
	require.Equal(Tag(0x5f29), children[0].Tag)
	require.Equal(Tag(0x42), children[1].Tag)

	found, ok := outer.Find(0x42)
	require.True(ok)
	require.Equal([]byte("DEGXX_8"), found.Value)

	_, ok = outer.Find(0x99)
	require.False(ok)
}

func TestEncodeRoundTrip(t *testing.T) {
	require := require.New(t)

	value := []byte{0x01, 0x02, 0x03}
	encoded := Encode(0x7f49, value)
	obj, rest, err := Decode(encoded)
	require.NoError(err)
	require.Empty(rest)
	require.Equal(Tag(0x7f49), obj.Tag)
	require.Equal(value, obj.Value)
}

func TestEncodeLengthLongForm(t *testing.T) {
	require := require.New(t)

	require.Equal([]byte{0x7f}, EncodeLength(0x7f))
	require.Equal([]byte{0x81, 0x80}, EncodeLength(0x80))
	require.Equal([]byte{0x82, 0x01, 0x00}, EncodeLength(256))
}

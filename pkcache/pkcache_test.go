package pkcache

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhealthpki/cvctrust/cvc"
)

// rootPKT is the public-key template (tag 7f49) extracted from the root
// CVC fixture used in cvc package tests: OID ecdsa-with-SHA256, an
// uncompressed brainpoolP256r1 point.
const rootPKT = "7f494d06082a8648ce3d0403028641049a692c077f63bbddca3103fc3522dfdecb5af0cf5c301046068e562bf677d36a8a54d09b5b2b4051e0cce6fe82a7093a5106252a7e1f7dc9c5a431715dcce93f"

func decodePKT(t *testing.T) cvc.PublicKey {
	t.Helper()
	b, err := hex.DecodeString(rootPKT)
	require.NoError(t, err)
	pk, err := DecodePublicKeyTemplate(b)
	require.NoError(t, err)
	return pk
}

func TestAddGetRoundTrip(t *testing.T) {
	var c Cache
	pk := decodePKT(t)

	require.NoError(t, c.Add("DEGXX-8-7-02-22", pk))
	got, err := c.Get("DEGXX-8-7-02-22")
	require.NoError(t, err)
	assert.True(t, got.Equal(pk))
	assert.Equal(t, 1, c.Len())
}

func TestAddSameKeyTwiceIsNoOp(t *testing.T) {
	var c Cache
	pk := decodePKT(t)
	require.NoError(t, c.Add("chr", pk))
	require.NoError(t, c.Add("chr", pk))
	assert.Equal(t, 1, c.Len())
}

func TestAddConflictingKeyFails(t *testing.T) {
	var c Cache
	pk := decodePKT(t)

	require.NoError(t, c.Add("chr", pk))
	err := c.Add("chr", cvc.PublicKey{})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetMissing(t *testing.T) {
	var c Cache
	_, err := c.Get("nope")
	assert.ErrorIs(t, err, ErrMissing)
}

func TestLoadWalksDirectoryByFileNameSuffix(t *testing.T) {
	dir := t.TempDir()
	raw, err := hex.DecodeString(rootPKT)
	require.NoError(t, err)

	nested := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "DEGXX-8-7-02-22_ELC-PublicKey.der"), raw, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not a key"), 0o644))

	var c Cache
	require.NoError(t, c.Load(dir))
	assert.Equal(t, 1, c.Len())

	pk, err := c.Get("DEGXX-8-7-02-22")
	require.NoError(t, err)
	assert.True(t, pk.Equal(decodePKT(t)))
}

func TestLoadSkipsMalformedFileButContinues(t *testing.T) {
	dir := t.TempDir()
	raw, err := hex.DecodeString(rootPKT)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "good_ELC-PublicKey.der"), raw, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad_ELC-PublicKey.der"), []byte{0xff}, 0o644))

	var c Cache
	require.NoError(t, c.Load(dir))
	assert.Equal(t, 1, c.Len())
	_, err = c.Get("good")
	assert.NoError(t, err)
}

func TestLoadClearsPreviousState(t *testing.T) {
	var c Cache
	require.NoError(t, c.Add("stale", decodePKT(t)))

	dir := t.TempDir()
	require.NoError(t, c.Load(dir))
	assert.Equal(t, 0, c.Len())
}

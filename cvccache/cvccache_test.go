package cvccache

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhealthpki/cvctrust/cvc"
)

// Fixtures shared with cvc package tests: a genuine brainpoolP256r1
// self-signed root, a sub-CA it issued, and an end-entity the sub-CA
// issued.
const (
	hexRoot = "7f2181d87f4e81915f290170420844454758588702227f494d06082a8648ce3d0403028641049a692c077f63bbddca3103fc3522dfdecb5af0cf5c301046068e562bf677d36a8a54d09b5b2b4051e0cce6fe82a7093a5106252a7e1f7dc9c5a431715dcce93f5f200844454758588702227f4c1306082a8214004c04814d5307ffffffffffffff5f25060203000800015f24060301000703015f3740130431ab0078046cca727a6227de3170689aa783bbc4a169b88ef851202ba2f6145eaa4a90a735675edbc6c62ac3ef749a01e2e44498920f81173b10b02cc429"

	hexSubCA = "7f2181d87f4e81915f290170420844454758588702227f494d06082a8648ce3d0403028641041d63d517ff58dca0f8fda5ce3230f2a8fe20a2fcbb53519f32fd044837979fb99fedf5085849e1d727770bbb0c7886f2300e5cb2d42e03a7d3f823d4ba17f2355f200844455453491002237f4c1306082a8214004c04814d5307800000000000035f25060203000800015f24060301000703015f374080c5d5dd3fafe066153a49d616c269ce2ae12ea20778fe3ad02e590cb08c5cc084db8104f26d94d274f57de49082011196f4926adf172d8032f499f5434c6830"

	hexEE = "7f2181dd7f4e81965f290170420844455453491002237f494e06092a8214004c0401010186410498e387e0cf6cbcd78ac758701256f768b3d385e33d49d5d82f5cb3daf216aefc529c6e70e32c52531eb8d420880db34f122bfb273993d6f414cd3c4d4f5702fc5f200c0001801234567890123456787f4c1306082a8214004c04814d5307000000000000015f25060203000800015f24060301000703015f374062cc5c9d5a66265f21dc0b4c672ce8a01979fadcc346466d4e7a46957b2141149ac4be099a53979f4fa3b9fcb78c5a38f4bd69b3ff506d2bb14ad1b551c51886"
)

func decodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func parseFixture(t *testing.T, s string) *cvc.Cvc {
	t.Helper()
	c, err := cvc.Parse(decodeHex(t, s))
	require.NoError(t, err)
	return c
}

func TestInitializeClosureAdmitsAllThreeInAnyOrder(t *testing.T) {
	root := parseFixture(t, hexRoot)
	sub := parseFixture(t, hexSubCA)
	ee := parseFixture(t, hexEE)

	// Seed the trust anchor: the root's own key, under its CAR.
	keys := keySinkStub{root.CAR().String(): mustPublicKey(t, root)}
	var cc Cache
	admitted, untrusted := cc.Initialize([]*cvc.Cvc{ee, sub, root}, &keys)

	assert.Len(t, admitted, 3)
	assert.Empty(t, untrusted)
	assert.Equal(t, 3, cc.Len())

	stats := cc.Stats()
	assert.Equal(t, 3, stats.Trusted)
	assert.Equal(t, 0, stats.Untrusted)
}

func TestInitializeQuarantinesUnreachableCandidate(t *testing.T) {
	sub := parseFixture(t, hexSubCA)
	ee := parseFixture(t, hexEE)

	var keys keySinkStub
	var cc Cache
	admitted, untrusted := cc.Initialize([]*cvc.Cvc{sub, ee}, &keys)

	assert.Empty(t, admitted, "sub-CA's issuer key is never supplied, so nothing in the closure can start")
	assert.Len(t, untrusted, 2)
	assert.Equal(t, 0, cc.Len())
}

func TestAdmitAcceptsValidSignatureAgainstKnownIssuer(t *testing.T) {
	root := parseFixture(t, hexRoot)
	keys := keySinkStub{root.CAR().String(): mustPublicKey(t, root)}
	assert.True(t, Admit(root, keys))
}

func TestAdmitRejectsUnknownIssuer(t *testing.T) {
	root := parseFixture(t, hexRoot)
	assert.False(t, Admit(root, keySinkStub{}))
}

func TestParentsFindsByCHR(t *testing.T) {
	root := parseFixture(t, hexRoot)
	sub := parseFixture(t, hexSubCA)

	var cc Cache
	cc.Add(root)
	cc.Add(sub)

	parents := cc.Parents(sub)
	require.Len(t, parents, 1)
	assert.Equal(t, root.CHR().String(), parents[0].CHR().String())
}

func TestChainResolvesTwoHopsExcludingRoot(t *testing.T) {
	root := parseFixture(t, hexRoot)
	sub := parseFixture(t, hexSubCA)
	ee := parseFixture(t, hexEE)

	var cc Cache
	cc.Add(root)
	cc.Add(sub)
	cc.Add(ee)

	chain, err := cc.Chain(ee, root.CAR().String())
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, ee.CHR().String(), chain[0].CHR().String())
	assert.Equal(t, sub.CHR().String(), chain[1].CHR().String())
}

func TestChainRejectsSelfSignedLeaf(t *testing.T) {
	root := parseFixture(t, hexRoot)
	var cc Cache
	cc.Add(root)

	_, err := cc.Chain(root, "")
	assert.ErrorIs(t, err, ErrLeafIsRoot)
}

func TestChainFailsWithoutPath(t *testing.T) {
	ee := parseFixture(t, hexEE)
	var cc Cache
	cc.Add(ee)

	_, err := cc.Chain(ee, "")
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestPathForSelfSignedRootIsSingleElement(t *testing.T) {
	root := parseFixture(t, hexRoot)
	var cc Cache
	cc.Add(root)

	path, err := cc.Path(root)
	require.NoError(t, err)
	assert.Equal(t, []string{root.CHR().String()}, path)
}

func TestPathForLeafIncludesRootCARThenEachCHR(t *testing.T) {
	root := parseFixture(t, hexRoot)
	sub := parseFixture(t, hexSubCA)
	ee := parseFixture(t, hexEE)

	var cc Cache
	cc.Add(root)
	cc.Add(sub)
	cc.Add(ee)

	path, err := cc.Path(ee)
	require.NoError(t, err)
	assert.Equal(t, []string{root.CAR().String(), sub.CHR().String(), ee.CHR().String()}, path)
}

func TestClearForgetsEverything(t *testing.T) {
	root := parseFixture(t, hexRoot)
	var cc Cache
	cc.Add(root)
	require.Equal(t, 1, cc.Len())

	cc.Clear()
	assert.Equal(t, 0, cc.Len())
	assert.False(t, cc.Contains(root))
}

func mustPublicKey(t *testing.T, c *cvc.Cvc) cvc.PublicKey {
	t.Helper()
	pk, err := c.PublicKey()
	require.NoError(t, err)
	return pk
}

// keySinkStub is a trivial KeySink for tests.
type keySinkStub map[string]cvc.PublicKey

func (k keySinkStub) PublicKey(chr string) (cvc.PublicKey, bool) {
	pk, ok := k[chr]
	return pk, ok
}

func (k *keySinkStub) Add(chr string, key cvc.PublicKey) error {
	if *k == nil {
		*k = make(keySinkStub)
	}
	(*k)[chr] = key
	return nil
}

package oracle_test

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/oracle"
)

var (
	envOnce   sync.Once
	envOracle *oracle.Oracle
	envEngine *fhe.Engine
	envErr    error
)

func testEnv(t *testing.T) (*oracle.Oracle, *fhe.Engine) {
	t.Helper()
	envOnce.Do(func() {
		profile, err := fhe.NewProfile()
		if err != nil {
			envErr = err
			return
		}
		envOracle, err = oracle.New(profile)
		if err != nil {
			envErr = err
			return
		}
		envEngine = fhe.NewEngine(profile, envOracle.PublicKey(), envOracle.RelinKey(), envOracle)
	})
	require.NoError(t, envErr)
	return envOracle, envEngine
}

func TestSignAndVerifyBundle(t *testing.T) {
	o, _ := testEnv(t)

	requestID := "req-123"
	values := []int64{12, 20, 3, 55, 60}

	proof, err := o.SignBundle(requestID, values)
	require.NoError(t, err)

	t.Run("valid proof", func(t *testing.T) {
		assert.True(t, oracle.VerifyBundle(o.Address(), requestID, values, proof))
	})

	t.Run("tampered values", func(t *testing.T) {
		bad := []int64{13, 20, 3, 55, 60}
		assert.False(t, oracle.VerifyBundle(o.Address(), requestID, bad, proof))
	})

	t.Run("wrong request id", func(t *testing.T) {
		assert.False(t, oracle.VerifyBundle(o.Address(), "req-456", values, proof))
	})

	t.Run("wrong oracle address", func(t *testing.T) {
		other := common.HexToAddress("0x1234567890123456789012345678901234567890")
		assert.False(t, oracle.VerifyBundle(other, requestID, values, proof))
	})

	t.Run("malformed proof", func(t *testing.T) {
		assert.False(t, oracle.VerifyBundle(o.Address(), requestID, values, []byte("short")))
	})
}

func TestBundleDigestDeterministic(t *testing.T) {
	values := []int64{1, 2, 3}
	d1 := oracle.BundleDigest("abc", values)
	d2 := oracle.BundleDigest("abc", values)
	assert.Equal(t, d1, d2)

	d3 := oracle.BundleDigest("abd", values)
	assert.NotEqual(t, d1, d3)
}

func TestDecryptBundleRounding(t *testing.T) {
	o, eng := testEnv(t)

	a, err := eng.Encrypt(12)
	require.NoError(t, err)
	b, err := eng.Encrypt(19.7)
	require.NoError(t, err)

	values, err := o.DecryptBundle([]*fhe.Ciphertext{a, b})
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 20}, values)
}

func TestRefreshRestoresLevel(t *testing.T) {
	o, eng := testEnv(t)

	a, err := eng.Encrypt(9)
	require.NoError(t, err)

	// 消耗若干层级
	out := a
	for i := 0; i < 3; i++ {
		out, err = eng.MulConst(out, 1)
		require.NoError(t, err)
	}
	require.Less(t, out.Level(), o.Profile().MaxLevel())

	fresh, err := o.Refresh(out.CT)
	require.NoError(t, err)
	assert.Equal(t, o.Profile().MaxLevel(), fresh.Level())

	v, err := o.DecryptValue(fresh)
	require.NoError(t, err)
	assert.InDelta(t, 9, v, 1e-2)
}

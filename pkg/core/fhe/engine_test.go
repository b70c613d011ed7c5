package fhe_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/oracle"
)

var (
	envOnce   sync.Once
	envEngine *fhe.Engine
	envOracle *oracle.Oracle
	envErr    error
)

// testEnv 共享测试环境：参数、预言机（兼任刷新服务）、引擎
// 密钥生成开销大，整个包只做一次
func testEnv(t *testing.T) (*fhe.Engine, *oracle.Oracle) {
	t.Helper()
	envOnce.Do(func() {
		profile, err := fhe.NewProfile()
		if err != nil {
			envErr = err
			return
		}
		o, err := oracle.New(profile)
		if err != nil {
			envErr = err
			return
		}
		envOracle = o
		envEngine = fhe.NewEngine(profile, o.PublicKey(), o.RelinKey(), o)
	})
	require.NoError(t, envErr)
	return envEngine, envOracle
}

// decrypt 解密单个标量（测试观测用）
func decrypt(t *testing.T, o *oracle.Oracle, ct *fhe.Ciphertext) float64 {
	t.Helper()
	v, err := o.DecryptValue(ct.CT)
	require.NoError(t, err)
	return v
}

func TestEncryptDecrypt(t *testing.T) {
	eng, o := testEnv(t)

	for _, v := range []float64{0, 1, 42, -17, 3.5} {
		ct, err := eng.Encrypt(v)
		require.NoError(t, err)
		assert.InDelta(t, v, decrypt(t, o, ct), 1e-3)
	}
}

func TestAddSub(t *testing.T) {
	eng, o := testEnv(t)

	a, err := eng.Encrypt(12)
	require.NoError(t, err)
	b, err := eng.Encrypt(30)
	require.NoError(t, err)

	t.Run("add", func(t *testing.T) {
		sum, err := eng.Add(a, b)
		require.NoError(t, err)
		assert.InDelta(t, 42, decrypt(t, o, sum), 1e-3)
	})

	t.Run("sub", func(t *testing.T) {
		diff, err := eng.Sub(a, b)
		require.NoError(t, err)
		assert.InDelta(t, -18, decrypt(t, o, diff), 1e-3)
	})

	t.Run("add const", func(t *testing.T) {
		out, err := eng.AddConst(a, 8)
		require.NoError(t, err)
		assert.InDelta(t, 20, decrypt(t, o, out), 1e-3)
	})

	t.Run("sub from const", func(t *testing.T) {
		out, err := eng.SubFromConst(100, a)
		require.NoError(t, err)
		assert.InDelta(t, 88, decrypt(t, o, out), 1e-3)
	})
}

func TestMul(t *testing.T) {
	eng, o := testEnv(t)

	a, err := eng.Encrypt(6)
	require.NoError(t, err)
	b, err := eng.Encrypt(7)
	require.NoError(t, err)

	t.Run("ciphertext mul", func(t *testing.T) {
		out, err := eng.Mul(a, b)
		require.NoError(t, err)
		assert.InDelta(t, 42, decrypt(t, o, out), 1e-2)
	})

	t.Run("const mul", func(t *testing.T) {
		out, err := eng.MulConst(a, 20)
		require.NoError(t, err)
		assert.InDelta(t, 120, decrypt(t, o, out), 1e-2)
	})
}

func TestDiv(t *testing.T) {
	eng, o := testEnv(t)

	t.Run("exact", func(t *testing.T) {
		num, err := eng.Encrypt(84)
		require.NoError(t, err)
		den, err := eng.Encrypt(7)
		require.NoError(t, err)

		out, err := eng.Div(num, den, 16)
		require.NoError(t, err)
		assert.InDelta(t, 12, decrypt(t, o, out), 0.05)
	})

	t.Run("fractional", func(t *testing.T) {
		num, err := eng.Encrypt(60)
		require.NoError(t, err)
		den, err := eng.Encrypt(8)
		require.NoError(t, err)

		out, err := eng.Div(num, den, 16)
		require.NoError(t, err)
		assert.InDelta(t, 7.5, decrypt(t, o, out), 0.05)
	})

	t.Run("denominator one", func(t *testing.T) {
		num, err := eng.Encrypt(33)
		require.NoError(t, err)
		den, err := eng.Encrypt(1)
		require.NoError(t, err)

		out, err := eng.Div(num, den, 1024)
		require.NoError(t, err)
		assert.InDelta(t, 33, decrypt(t, o, out), 0.1)
	})

	t.Run("invalid bound", func(t *testing.T) {
		num, err := eng.Encrypt(1)
		require.NoError(t, err)
		_, err = eng.Div(num, num, 0)
		assert.Error(t, err)
	})
}

func TestSignAbs(t *testing.T) {
	eng, o := testEnv(t)

	t.Run("positive", func(t *testing.T) {
		a, err := eng.Encrypt(5)
		require.NoError(t, err)
		s, err := eng.Sign(a, 10)
		require.NoError(t, err)
		assert.InDelta(t, 1, decrypt(t, o, s), 0.05)
	})

	t.Run("negative", func(t *testing.T) {
		a, err := eng.Encrypt(-3)
		require.NoError(t, err)
		s, err := eng.Sign(a, 10)
		require.NoError(t, err)
		assert.InDelta(t, -1, decrypt(t, o, s), 0.05)
	})

	t.Run("abs", func(t *testing.T) {
		a, err := eng.Encrypt(-8)
		require.NoError(t, err)
		out, err := eng.Abs(a, 10)
		require.NoError(t, err)
		assert.InDelta(t, 8, decrypt(t, o, out), 0.1)
	})
}

func TestMaxMinGeSelect(t *testing.T) {
	eng, o := testEnv(t)

	a, err := eng.Encrypt(70)
	require.NoError(t, err)
	b, err := eng.Encrypt(40)
	require.NoError(t, err)

	t.Run("max", func(t *testing.T) {
		out, err := eng.Max(a, b, 128)
		require.NoError(t, err)
		assert.InDelta(t, 70, decrypt(t, o, out), 0.5)
	})

	t.Run("min", func(t *testing.T) {
		out, err := eng.Min(a, b, 128)
		require.NoError(t, err)
		assert.InDelta(t, 40, decrypt(t, o, out), 0.5)
	})

	t.Run("ge", func(t *testing.T) {
		flag, err := eng.Ge(a, b, 128)
		require.NoError(t, err)
		assert.InDelta(t, 1, decrypt(t, o, flag), 0.05)

		flag, err = eng.Ge(b, a, 128)
		require.NoError(t, err)
		assert.InDelta(t, 0, decrypt(t, o, flag), 0.05)
	})

	t.Run("select", func(t *testing.T) {
		cond, err := eng.Encrypt(1)
		require.NoError(t, err)
		out, err := eng.Select(cond, a, b)
		require.NoError(t, err)
		assert.InDelta(t, 70, decrypt(t, o, out), 0.5)

		cond, err = eng.Encrypt(0)
		require.NoError(t, err)
		out, err = eng.Select(cond, a, b)
		require.NoError(t, err)
		assert.InDelta(t, 40, decrypt(t, o, out), 0.5)
	})
}

func TestZeroConstant(t *testing.T) {
	eng, o := testEnv(t)

	z, err := eng.Zero()
	require.NoError(t, err)
	assert.InDelta(t, 0, decrypt(t, o, z), 1e-3)

	c, err := eng.Constant(99)
	require.NoError(t, err)
	assert.InDelta(t, 99, decrypt(t, o, c), 1e-3)
}

func TestProfileRoundTrip(t *testing.T) {
	profile, err := fhe.NewProfile()
	require.NoError(t, err)

	restored, err := fhe.ProfileFromLiteral(profile.LiteralB64())
	require.NoError(t, err)
	assert.Equal(t, profile.Params.LogN(), restored.Params.LogN())
	assert.Equal(t, profile.MaxLevel(), restored.MaxLevel())
}

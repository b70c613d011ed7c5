package aggregate_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/oracle"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/aggregate"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/ledger"
	testenv "github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/testFunc"
)

var (
	envOnce   sync.Once
	envEngine *fhe.Engine
	envOracle *oracle.Oracle
	envErr    error
)

func testEnv(t *testing.T) (*fhe.Engine, *oracle.Oracle) {
	t.Helper()
	envOnce.Do(func() {
		envEngine, envOracle, envErr = testenv.NewEnv()
	})
	require.NoError(t, envErr)
	return envEngine, envOracle
}

// newAccumulator 构造账本+累加器，分母上界取小值换取除法精度
func newAccumulator(t *testing.T, eng *fhe.Engine) (*aggregate.Accumulator, *ledger.Ledger) {
	t.Helper()
	led := ledger.NewLedger()
	acc := aggregate.NewAccumulator(eng, led, nil, aggregate.DefaultScoreParams(), 16)
	require.NoError(t, acc.RegisterServiceType("municipal"))
	return acc, led
}

// submit 提交一条加密反馈
func submit(t *testing.T, led *ledger.Ledger, eng *fhe.Engine, serviceType string, rating, rt float64) uint64 {
	t.Helper()
	encST, err := eng.Encrypt(1)
	require.NoError(t, err)
	encRating, err := eng.Encrypt(rating)
	require.NoError(t, err)
	encRT, err := eng.Encrypt(rt)
	require.NoError(t, err)
	id, err := led.Submit("citizen-a", serviceType, encST, encRating, encRT, nil)
	require.NoError(t, err)
	return id
}

// decrypt 解密单个标量（测试观测用）
func decrypt(t *testing.T, o *oracle.Oracle, ct *fhe.Ciphertext) float64 {
	t.Helper()
	v, err := o.DecryptValue(ct.CT)
	require.NoError(t, err)
	return v
}

// expectedImprovement 改进分数的明文第二推导路径
func expectedImprovement(ratings, rts []float64) float64 {
	p := aggregate.DefaultScoreParams()
	imp := 0.0
	for i := range ratings {
		inner := 0.5 * (ratings[i]*p.RatingWeight + (p.BaseScore - rts[i]/p.ResponseDivisor))
		imp = 0.5 * (imp + inner)
	}
	return imp
}

func TestRegistry(t *testing.T) {
	eng, _ := testEnv(t)
	acc, _ := newAccumulator(t, eng)

	require.NoError(t, acc.RegisterServiceType("transport"))
	// 重复注册是幂等的
	require.NoError(t, acc.RegisterServiceType("transport"))

	assert.Equal(t, []string{"municipal", "transport"}, acc.ServiceTypes())
	assert.True(t, acc.IsRegistered("municipal"))
	assert.False(t, acc.IsRegistered("health"))

	err := acc.RegisterServiceType("")
	assert.Error(t, err)
}

func TestUpdateAccumulates(t *testing.T) {
	eng, o := testEnv(t)
	acc, led := newAccumulator(t, eng)

	ratings := []float64{5, 3, 4}
	rts := []float64{10, 30, 20}
	for i := range ratings {
		id := submit(t, led, eng, "municipal", ratings[i], rts[i])
		require.NoError(t, acc.Update("municipal", id))
	}
	assert.Equal(t, uint64(3), acc.UpdateCount("municipal"))

	handles, err := acc.Snapshot("municipal")
	require.NoError(t, err)
	require.Len(t, handles, 5)

	totalRating := decrypt(t, o, handles[0])
	responseAvg := decrypt(t, o, handles[1])
	count := decrypt(t, o, handles[2])
	improvement := decrypt(t, o, handles[3])
	totalResponse := decrypt(t, o, handles[4])

	assert.InDelta(t, 12, totalRating, 0.1)
	assert.InDelta(t, 3, count, 0.05)
	assert.InDelta(t, 60, totalResponse, 0.1)
	// 增量运行均值在数学上等于普通均值
	assert.InDelta(t, stat.Mean(rts, nil), responseAvg, 0.5)
	assert.InDelta(t, expectedImprovement(ratings, rts), improvement, 0.5)
}

func TestUpdateRejectsDuplicate(t *testing.T) {
	eng, _ := testEnv(t)
	acc, led := newAccumulator(t, eng)

	id := submit(t, led, eng, "municipal", 4, 15)
	require.NoError(t, acc.Update("municipal", id))

	err := acc.Update("municipal", id)
	assert.ErrorIs(t, err, ledger.ErrAlreadyAggregated)
	assert.Equal(t, uint64(1), acc.UpdateCount("municipal"))
}

func TestUpdateUnknownServiceType(t *testing.T) {
	eng, _ := testEnv(t)
	acc, led := newAccumulator(t, eng)

	id := submit(t, led, eng, "municipal", 4, 15)
	err := acc.Update("health", id)
	assert.ErrorIs(t, err, aggregate.ErrUnknownServiceType)
}

func TestUpdateServiceTypeMismatch(t *testing.T) {
	eng, _ := testEnv(t)
	acc, led := newAccumulator(t, eng)
	require.NoError(t, acc.RegisterServiceType("transport"))

	id := submit(t, led, eng, "municipal", 4, 15)
	err := acc.Update("transport", id)
	assert.Error(t, err)

	// 失败的更新不消耗聚合标记
	done, err := led.IsAggregated(id)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestUpdateMissingFeedback(t *testing.T) {
	eng, _ := testEnv(t)
	acc, _ := newAccumulator(t, eng)

	err := acc.Update("municipal", 99)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestGetNotInitialized(t *testing.T) {
	eng, _ := testEnv(t)
	acc, _ := newAccumulator(t, eng)

	_, err := acc.Get("municipal")
	assert.ErrorIs(t, err, aggregate.ErrNotFound)

	_, err = acc.Snapshot("municipal")
	assert.ErrorIs(t, err, aggregate.ErrNotFound)
}

func TestSnapshotIsCopy(t *testing.T) {
	eng, o := testEnv(t)
	acc, led := newAccumulator(t, eng)

	id := submit(t, led, eng, "municipal", 5, 10)
	require.NoError(t, acc.Update("municipal", id))

	handles, err := acc.Snapshot("municipal")
	require.NoError(t, err)
	before := decrypt(t, o, handles[2])

	// 快照之后的更新不影响已取出的句柄
	id2 := submit(t, led, eng, "municipal", 3, 30)
	require.NoError(t, acc.Update("municipal", id2))

	assert.InDelta(t, before, decrypt(t, o, handles[2]), 0.05)
	assert.InDelta(t, 1, before, 0.05)
}

package reveal_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/oracle"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/aggregate"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/auth"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/events"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/ledger"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/reveal"
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

// captureClient 记录派发的解密请求，不自动回调
type captureClient struct {
	requestID string
	handles   []*fhe.Ciphertext
	fail      bool
}

func (c *captureClient) RequestDecryption(requestID string, handles []*fhe.Ciphertext) error {
	if c.fail {
		return errors.New("oracle unreachable")
	}
	c.requestID = requestID
	c.handles = handles
	return nil
}

type fixture struct {
	protocol *reveal.Protocol
	acc      *aggregate.Accumulator
	led      *ledger.Ledger
	client   *captureClient
	hub      *events.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	eng, o := testEnv(t)

	led := ledger.NewLedger()
	acc := aggregate.NewAccumulator(eng, led, nil, aggregate.DefaultScoreParams(), 16)
	require.NoError(t, acc.RegisterServiceType("municipal"))

	authz := auth.NewManager("admin")
	client := &captureClient{}
	hub := events.NewHub()
	protocol := reveal.NewProtocol(acc, authz, led.Store(), client, o.Address(), hub)

	return &fixture{protocol: protocol, acc: acc, led: led, client: client, hub: hub}
}

// seed 提交反馈并计入聚合: ratings {5,3,4}, rts {10,30,20}
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	eng, _ := testEnv(t)

	ratings := []float64{5, 3, 4}
	rts := []float64{10, 30, 20}
	for i := range ratings {
		encST, err := eng.Encrypt(1)
		require.NoError(t, err)
		encRating, err := eng.Encrypt(ratings[i])
		require.NoError(t, err)
		encRT, err := eng.Encrypt(rts[i])
		require.NoError(t, err)
		id, err := f.led.Submit("citizen-a", "municipal", encST, encRating, encRT, nil)
		require.NoError(t, err)
		require.NoError(t, f.acc.Update("municipal", id))
	}
}

// bundle 扮演预言机：解密派发的句柄并签名
func (f *fixture) bundle(t *testing.T) ([]int64, []byte) {
	t.Helper()
	_, o := testEnv(t)

	values, err := o.DecryptBundle(f.client.handles)
	require.NoError(t, err)
	proof, err := o.SignBundle(f.client.requestID, values)
	require.NoError(t, err)
	return values, proof
}

func TestRequestRevealUnauthorized(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	_, err := f.protocol.RequestReveal("citizen-a", "municipal")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Equal(t, 0, f.protocol.PendingRequests())
}

func TestRequestRevealNoAggregate(t *testing.T) {
	f := newFixture(t)

	_, err := f.protocol.RequestReveal("admin", "municipal")
	assert.ErrorIs(t, err, aggregate.ErrNotFound)
}

func TestRequestRevealDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.client.fail = true

	_, err := f.protocol.RequestReveal("admin", "municipal")
	assert.Error(t, err)
	// 派发失败的请求不得滞留
	assert.Equal(t, 0, f.protocol.PendingRequests())
}

func TestCompleteUnknownRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.protocol.CompleteReveal("no-such-request", []int64{1, 2, 3, 4, 5}, nil)
	assert.ErrorIs(t, err, reveal.ErrInvalidRequest)
}

func TestFullRevealLifecycle(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, reveal.StateUninitialized, f.protocol.State("municipal"))
	f.seed(t)
	assert.Equal(t, reveal.StateAccumulating, f.protocol.State("municipal"))

	ch := f.hub.Subscribe()

	reqID, err := f.protocol.RequestReveal("admin", "municipal")
	require.NoError(t, err)
	assert.Equal(t, reqID, f.client.requestID)
	assert.Equal(t, reveal.StateRevealPending, f.protocol.State("municipal"))

	values, proof := f.bundle(t)
	snap, err := f.protocol.CompleteReveal(reqID, values, proof)
	require.NoError(t, err)

	assert.True(t, snap.Revealed)
	assert.Equal(t, int64(3), snap.Count)
	// avgRating由揭示的总和独立推导: 12/3
	assert.InDelta(t, 4, snap.AvgRating, 1e-9)
	assert.InDelta(t, 20, snap.AvgResponseTime, 1)
	assert.Equal(t, reqID, snap.RequestID)
	assert.Equal(t, reveal.StateRevealed, f.protocol.State("municipal"))

	got, err := f.protocol.Decrypted("municipal")
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	select {
	case e := <-ch:
		assert.Equal(t, events.TypeAggregateDecrypted, e.Type)
		assert.Equal(t, reqID, e.RequestID)
	case <-time.After(time.Second):
		t.Fatal("未收到揭示事件")
	}

	t.Run("second reveal rejected", func(t *testing.T) {
		_, err := f.protocol.RequestReveal("admin", "municipal")
		assert.ErrorIs(t, err, reveal.ErrAlreadyRevealed)
	})

	t.Run("duplicate delivery rejected", func(t *testing.T) {
		_, err := f.protocol.CompleteReveal(reqID, values, proof)
		assert.ErrorIs(t, err, reveal.ErrAlreadyRevealed)
	})
}

func TestProofInvalidThenRetry(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	reqID, err := f.protocol.RequestReveal("admin", "municipal")
	require.NoError(t, err)

	values, proof := f.bundle(t)

	// 篡改明文包使证明失配
	tampered := append([]int64(nil), values...)
	tampered[0]++
	_, err = f.protocol.CompleteReveal(reqID, tampered, proof)
	assert.ErrorIs(t, err, reveal.ErrProofInvalid)

	// 请求仍然有效，携带有效证明重试成功
	assert.Equal(t, 1, f.protocol.PendingRequests())
	snap, err := f.protocol.CompleteReveal(reqID, values, proof)
	require.NoError(t, err)
	assert.True(t, snap.Revealed)
}

func TestCompleteBadBundleLength(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	reqID, err := f.protocol.RequestReveal("admin", "municipal")
	require.NoError(t, err)

	_, err = f.protocol.CompleteReveal(reqID, []int64{1, 2}, nil)
	assert.ErrorIs(t, err, reveal.ErrInvalidRequest)
}

func TestDecryptedNotRevealed(t *testing.T) {
	f := newFixture(t)

	_, err := f.protocol.Decrypted("municipal")
	assert.ErrorIs(t, err, reveal.ErrNotRevealed)
}

func TestRevealArchivesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	_, err := f.protocol.RequestReveal("admin", "municipal")
	require.NoError(t, err)

	// 五个字段的快照密文全部归档
	for i := 0; i < 5; i++ {
		_, ok := f.led.Store().Latest(fmt.Sprintf("aggregate/municipal/%d", i))
		assert.True(t, ok, "字段 %d 未归档", i)
	}
}

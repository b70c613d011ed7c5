package reveal

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/oracle"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/aggregate"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/auth"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/events"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/ledger"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/utils"
)

var (
	// ErrAlreadyRevealed 一次性写入约束：同一服务类型第二次揭示必须失败
	ErrAlreadyRevealed = errors.New("aggregate already revealed")
	// ErrInvalidRequest 未知的解密请求ID
	ErrInvalidRequest = errors.New("invalid decryption request")
	// ErrProofInvalid 预言机签名证明验证失败
	ErrProofInvalid = errors.New("decryption proof invalid")
	// ErrNotRevealed 快照尚未揭示
	ErrNotRevealed = errors.New("aggregate not revealed")
)

// 状态机状态（按服务类型）
const (
	StateUninitialized = "Uninitialized"
	StateAccumulating  = "Accumulating"
	StateRevealPending = "RevealPending"
	StateRevealed      = "Revealed"
)

// 明文包字段顺序，与Accumulator.Snapshot一致
const (
	idxTotalRating = iota
	idxResponseAvg
	idxCount
	idxImprovement
	idxTotalResponse
	bundleLen
)

// DecryptedAggregate 揭示后的明文快照
// 恰好写入一次：revealed从false翻转为true时写入，之后不可变
type DecryptedAggregate struct {
	ServiceType      string    `json:"service_type"`
	AvgRating        float64   `json:"avg_rating"`
	AvgResponseTime  float64   `json:"avg_response_time"`
	Count            int64     `json:"count"`
	ImprovementScore int64     `json:"improvement_score"`
	Revealed         bool      `json:"revealed"`
	RequestID        string    `json:"request_id"`
	RevealedAt       time.Time `json:"revealed_at"`
}

// request 临时解密请求关联记录
// 请求揭示时创建，对应揭示完成时消费失效；证明验证失败时保留（可重试策略）
type request struct {
	id          string
	serviceType string
	handles     []*fhe.Ciphertext
	createdAt   time.Time
}

// OracleClient 解密请求出口
// RequestReveal立即返回；预言机在未指定的延迟后回调CompleteReveal
type OracleClient interface {
	RequestDecryption(requestID string, handles []*fhe.Ciphertext) error
}

// Protocol 解密请求/揭示协议
// 每个服务类型的状态机: Uninitialized → Accumulating → RevealPending → Revealed(终态)
// 持有解密请求与明文快照；揭示标记与快照写入在同一临界区内完成（原子性）
type Protocol struct {
	acc        *aggregate.Accumulator
	authz      *auth.Manager
	store      *ledger.CipherStore
	client     OracleClient
	oracleAddr common.Address
	hub        *events.Hub

	// 运行均值交叉校验容差
	tolerance float64

	mu        sync.Mutex
	requests  map[string]*request
	snapshots map[string]*DecryptedAggregate
	// 已消费的请求ID→服务类型，用于把重复投递识别为AlreadyRevealed而非InvalidRequest
	completed map[string]string
}

// NewProtocol 创建新的揭示协议
func NewProtocol(acc *aggregate.Accumulator, authz *auth.Manager, store *ledger.CipherStore, client OracleClient, oracleAddr common.Address, hub *events.Hub) *Protocol {
	return &Protocol{
		acc:        acc,
		authz:      authz,
		store:      store,
		client:     client,
		oracleAddr: oracleAddr,
		hub:        hub,
		tolerance:  1.0,
		requests:   make(map[string]*request),
		snapshots:  make(map[string]*DecryptedAggregate),
		completed:  make(map[string]string),
	}
}

// RequestReveal 请求揭示服务类型的聚合快照
// 守卫: 调用方须持有manager能力；聚合必须存在；不得已揭示
// 铸造请求ID并绑定服务类型，把快照句柄交给预言机后立即返回
func (p *Protocol) RequestReveal(caller, serviceType string) (string, error) {
	if !p.authz.IsManager(caller) {
		return "", fmt.Errorf("%w: %s 不持有manager能力", auth.ErrUnauthorized, caller)
	}

	p.mu.Lock()
	if snap, ok := p.snapshots[serviceType]; ok && snap.Revealed {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyRevealed, serviceType)
	}
	p.mu.Unlock()

	handles, err := p.acc.Snapshot(serviceType)
	if err != nil {
		return "", err
	}

	req := &request{
		id:          uuid.NewString(),
		serviceType: serviceType,
		handles:     handles,
		createdAt:   time.Now(),
	}

	p.mu.Lock()
	p.requests[req.id] = req
	p.mu.Unlock()

	// 快照密文归档（追加式历史）
	p.archiveSnapshot(serviceType, handles)

	if err := p.client.RequestDecryption(req.id, handles); err != nil {
		p.mu.Lock()
		delete(p.requests, req.id)
		p.mu.Unlock()
		return "", fmt.Errorf("解密请求派发失败: %w", err)
	}

	fmt.Printf("[揭示] 服务类型 %s 的解密请求 %s 已派发\n", serviceType, req.id)
	return req.id, nil
}

// archiveSnapshot 把快照句柄序列化后写入密文存储
func (p *Protocol) archiveSnapshot(serviceType string, handles []*fhe.Ciphertext) {
	if p.store == nil {
		return
	}
	for i, h := range handles {
		blob, err := utils.MarshalCiphertext(h)
		if err != nil {
			fmt.Printf("[揭示] 快照归档失败(字段%d): %v\n", i, err)
			continue
		}
		p.store.Append(fmt.Sprintf("aggregate/%s/%d", serviceType, i), []byte(blob))
	}
}

// CompleteReveal 预言机回调：校验证明并提交明文快照
// 失败语义: 未知请求ID→ErrInvalidRequest（不触碰任何快照）；
// 证明验证失败→ErrProofInvalid（请求保留，预言机可重试）；
// 目标已揭示→ErrAlreadyRevealed（重复投递的幂等守卫）
// 成功时: 由揭示的total独立重算avgRating，一次性写入快照，请求消费失效
func (p *Protocol) CompleteReveal(requestID string, values []int64, proof []byte) (*DecryptedAggregate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, ok := p.requests[requestID]
	if !ok {
		// 重复投递的幂等守卫：已消费的请求按AlreadyRevealed拒绝
		if t, done := p.completed[requestID]; done {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRevealed, t)
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, requestID)
	}

	if len(values) != bundleLen {
		return nil, fmt.Errorf("%w: 明文包长度 %d", ErrInvalidRequest, len(values))
	}

	if !oracle.VerifyBundle(p.oracleAddr, requestID, values, proof) {
		// 请求保留：同一请求ID携带有效证明的重试仍可成功
		return nil, fmt.Errorf("%w: 请求 %s", ErrProofInvalid, requestID)
	}

	if snap, ok := p.snapshots[req.serviceType]; ok && snap.Revealed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRevealed, req.serviceType)
	}

	totalRating := values[idxTotalRating]
	responseAvg := values[idxResponseAvg]
	count := values[idxCount]
	improvement := values[idxImprovement]
	totalResponse := values[idxTotalResponse]

	// avgRating由揭示的total独立推导（区别于同态运行均值的第二条推导路径）
	var avgRating float64
	if count > 0 {
		avgRating = float64(totalRating) / float64(count)
	}

	// 交叉校验：同态运行均值 vs 揭示后除法
	if count > 0 {
		recomputed := float64(totalResponse) / float64(count)
		if math.Abs(recomputed-float64(responseAvg)) > p.tolerance {
			fmt.Printf("[揭示] 警告: 服务类型 %s 运行均值交叉校验偏差 (同态=%d, 重算=%.2f)\n",
				req.serviceType, responseAvg, recomputed)
		}
	}

	snap := &DecryptedAggregate{
		ServiceType:      req.serviceType,
		AvgRating:        avgRating,
		AvgResponseTime:  float64(responseAvg),
		Count:            count,
		ImprovementScore: improvement,
		Revealed:         true,
		RequestID:        requestID,
		RevealedAt:       time.Now(),
	}

	// 揭示标记与快照写入在同一临界区内完成
	p.snapshots[req.serviceType] = snap
	delete(p.requests, requestID)
	p.completed[requestID] = req.serviceType

	if p.hub != nil {
		p.hub.Publish(events.Event{
			Type:        events.TypeAggregateDecrypted,
			ServiceType: req.serviceType,
			RequestID:   requestID,
		})
	}
	fmt.Printf("[揭示] 服务类型 %s 已揭示: count=%d avgRating=%.2f responseAvg=%d improvement=%d\n",
		req.serviceType, count, avgRating, responseAvg, improvement)
	return snap, nil
}

// Decrypted 获取已揭示的明文快照
func (p *Protocol) Decrypted(serviceType string) (*DecryptedAggregate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, ok := p.snapshots[serviceType]
	if !ok || !snap.Revealed {
		return nil, fmt.Errorf("%w: %s", ErrNotRevealed, serviceType)
	}
	return snap, nil
}

// State 服务类型当前的状态机状态
func (p *Protocol) State(serviceType string) string {
	p.mu.Lock()
	if snap, ok := p.snapshots[serviceType]; ok && snap.Revealed {
		p.mu.Unlock()
		return StateRevealed
	}
	for _, req := range p.requests {
		if req.serviceType == serviceType {
			p.mu.Unlock()
			return StateRevealPending
		}
	}
	p.mu.Unlock()

	if _, err := p.acc.Get(serviceType); err == nil {
		return StateAccumulating
	}
	return StateUninitialized
}

// PendingRequests 当前挂起的解密请求数
func (p *Protocol) PendingRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/events"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/ledger"
)

var (
	// ErrNotFound 引用的聚合不存在
	ErrNotFound = errors.New("aggregate not found")
	// ErrUnknownServiceType 服务类型未注册
	ErrUnknownServiceType = errors.New("unknown service type")
)

// ScoreParams 改进分数公式常数
// improvement' = avg(prev, avg(rating*RatingWeight, BaseScore - responseTime/ResponseDivisor))
// 公式本身为兼容性保留，常数可配置
type ScoreParams struct {
	RatingWeight    float64
	BaseScore       float64
	ResponseDivisor float64
}

// DefaultScoreParams 默认改进分数常数
func DefaultScoreParams() ScoreParams {
	return ScoreParams{
		RatingWeight:    20,
		BaseScore:       100,
		ResponseDivisor: 10,
	}
}

// Aggregate 按服务类型的加密运行统计
// 五个字段全部是加密标量；只通过累加器的更新操作变更，从不删除
// count只增不减；total/average只按定义的增量公式重算
type Aggregate struct {
	TotalRating   *fhe.Ciphertext
	ResponseAvg   *fhe.Ciphertext
	Count         *fhe.Ciphertext
	Improvement   *fhe.Ciphertext
	TotalResponse *fhe.Ciphertext

	// 明文更新次数，仅用于状态页展示，不参与协议
	Updates uint64

	// 类型内锁：防止并发提交造成的更新丢失
	mu sync.Mutex
}

// Accumulator 聚合累加器
// 维护服务类型注册表与各类型的加密聚合；所有算术同态执行，平台侧明文从不落地
type Accumulator struct {
	engine *fhe.Engine
	led    *ledger.Ledger
	hub    *events.Hub
	score  ScoreParams

	// 除法归一化用的分母上界（count最大取值）
	maxCount float64

	mu         sync.RWMutex
	registry   map[string]bool
	aggregates map[string]*Aggregate
}

// NewAccumulator 创建新的聚合累加器
func NewAccumulator(engine *fhe.Engine, led *ledger.Ledger, hub *events.Hub, score ScoreParams, maxCount float64) *Accumulator {
	if maxCount <= 0 {
		maxCount = 1024
	}
	return &Accumulator{
		engine:     engine,
		led:        led,
		hub:        hub,
		score:      score,
		maxCount:   maxCount,
		registry:   make(map[string]bool),
		aggregates: make(map[string]*Aggregate),
	}
}

// RegisterServiceType 注册服务类型
// 显式注册表替代固定范围遍历；重复注册是无害的幂等操作
func (a *Accumulator) RegisterServiceType(serviceType string) error {
	if serviceType == "" {
		return fmt.Errorf("服务类型不能为空")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.registry[serviceType] {
		a.registry[serviceType] = true
		fmt.Printf("[聚合] 注册服务类型: %s\n", serviceType)
	}
	return nil
}

// ServiceTypes 获取已注册的服务类型（排序后）
func (a *Accumulator) ServiceTypes() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.registry))
	for t := range a.registry {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// IsRegistered 服务类型是否已注册
func (a *Accumulator) IsRegistered(serviceType string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registry[serviceType]
}

// getOrInit 获取或零初始化服务类型的聚合
func (a *Accumulator) getOrInit(serviceType string) (*Aggregate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if agg, ok := a.aggregates[serviceType]; ok {
		return agg, nil
	}

	zeroOf := func() (*fhe.Ciphertext, error) { return a.engine.Zero() }
	total, err := zeroOf()
	if err != nil {
		return nil, err
	}
	avg, err := zeroOf()
	if err != nil {
		return nil, err
	}
	count, err := zeroOf()
	if err != nil {
		return nil, err
	}
	improvement, err := zeroOf()
	if err != nil {
		return nil, err
	}
	totalResponse, err := zeroOf()
	if err != nil {
		return nil, err
	}

	agg := &Aggregate{
		TotalRating:   total,
		ResponseAvg:   avg,
		Count:         count,
		Improvement:   improvement,
		TotalResponse: totalResponse,
	}
	a.aggregates[serviceType] = agg
	return agg, nil
}

// Update 把一条反馈同态计入服务类型的聚合
// 先通过账本置位聚合标记（重复计入返回ledger.ErrAlreadyAggregated），
// 中途失败回滚标记，保证全有或全无
func (a *Accumulator) Update(serviceType string, feedbackID uint64) error {
	if !a.IsRegistered(serviceType) {
		return fmt.Errorf("%w: %s", ErrUnknownServiceType, serviceType)
	}

	fb, err := a.led.Get(feedbackID)
	if err != nil {
		return err
	}
	if fb.ServiceType != serviceType {
		return fmt.Errorf("反馈 #%d 的服务类型 %s 与目标 %s 不一致", feedbackID, fb.ServiceType, serviceType)
	}

	if err := a.led.MarkAggregated(feedbackID); err != nil {
		return err
	}

	if err := a.apply(serviceType, fb); err != nil {
		a.led.ClearAggregated(feedbackID)
		return err
	}

	if a.hub != nil {
		a.hub.Publish(events.Event{
			Type:        events.TypeAggregateUpdated,
			FeedbackID:  feedbackID,
			ServiceType: serviceType,
		})
	}
	fmt.Printf("[聚合] 反馈 #%d 已计入服务类型 %s\n", feedbackID, serviceType)
	return nil
}

// apply 执行增量同态更新
func (a *Accumulator) apply(serviceType string, fb *ledger.EncryptedFeedback) error {
	agg, err := a.getOrInit(serviceType)
	if err != nil {
		return err
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	eng := a.engine
	rating := fb.EncRating
	rt := fb.EncResponseTime

	// totalRating += rating
	newTotal, err := eng.Add(agg.TotalRating, rating)
	if err != nil {
		return fmt.Errorf("评分总和更新失败: %w", err)
	}

	// count' = count + 1
	newCount, err := eng.AddConst(agg.Count, 1)
	if err != nil {
		return fmt.Errorf("计数更新失败: %w", err)
	}

	// responseAvg' = (responseAvg*count + responseTime) / count'
	weighted, err := eng.Mul(agg.ResponseAvg, agg.Count)
	if err != nil {
		return fmt.Errorf("运行均值加权失败: %w", err)
	}
	numerator, err := eng.Add(weighted, rt)
	if err != nil {
		return fmt.Errorf("运行均值分子失败: %w", err)
	}
	newAvg, err := eng.Div(numerator, newCount, a.maxCount)
	if err != nil {
		return fmt.Errorf("运行均值除法失败: %w", err)
	}

	// improvement' = avg(prev, avg(rating*W, B - responseTime/D))
	ratingTerm, err := eng.MulConst(rating, a.score.RatingWeight)
	if err != nil {
		return fmt.Errorf("改进分数评分项失败: %w", err)
	}
	rtScaled, err := eng.MulConst(rt, 1/a.score.ResponseDivisor)
	if err != nil {
		return fmt.Errorf("改进分数响应项失败: %w", err)
	}
	rtTerm, err := eng.SubFromConst(a.score.BaseScore, rtScaled)
	if err != nil {
		return fmt.Errorf("改进分数响应项失败: %w", err)
	}
	innerSum, err := eng.Add(ratingTerm, rtTerm)
	if err != nil {
		return fmt.Errorf("改进分数内层混合失败: %w", err)
	}
	inner, err := eng.MulConst(innerSum, 0.5)
	if err != nil {
		return fmt.Errorf("改进分数内层混合失败: %w", err)
	}
	outerSum, err := eng.Add(agg.Improvement, inner)
	if err != nil {
		return fmt.Errorf("改进分数外层混合失败: %w", err)
	}
	newImprovement, err := eng.MulConst(outerSum, 0.5)
	if err != nil {
		return fmt.Errorf("改进分数外层混合失败: %w", err)
	}

	// totalResponse += responseTime（揭示后一致性交叉校验用）
	newTotalResponse, err := eng.Add(agg.TotalResponse, rt)
	if err != nil {
		return fmt.Errorf("响应总和更新失败: %w", err)
	}

	agg.TotalRating = newTotal
	agg.Count = newCount
	agg.ResponseAvg = newAvg
	agg.Improvement = newImprovement
	agg.TotalResponse = newTotalResponse
	agg.Updates++
	return nil
}

// Get 获取服务类型的聚合
func (a *Accumulator) Get(serviceType string) (*Aggregate, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	agg, ok := a.aggregates[serviceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, serviceType)
	}
	return agg, nil
}

// Snapshot 获取聚合五个字段的密文句柄副本
// 顺序固定: [totalRating, responseAvg, count, improvement, totalResponse]
// 揭示协议据此与预言机交换明文包
func (a *Accumulator) Snapshot(serviceType string) ([]*fhe.Ciphertext, error) {
	agg, err := a.Get(serviceType)
	if err != nil {
		return nil, err
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	return []*fhe.Ciphertext{
		agg.TotalRating.Copy(),
		agg.ResponseAvg.Copy(),
		agg.Count.Copy(),
		agg.Improvement.Copy(),
		agg.TotalResponse.Copy(),
	}, nil
}

// Updates 服务类型的明文更新次数（状态页用）
func (a *Accumulator) UpdateCount(serviceType string) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if agg, ok := a.aggregates[serviceType]; ok {
		return agg.Updates
	}
	return 0
}

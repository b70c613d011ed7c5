package aggregate

import (
	"fmt"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
)

// Analytics 只读加密分析视图
// 聚合快照上的纯函数：输入若干ServiceAggregate，输出加密标量句柄
// 无状态、不进入揭示状态机；调用方须另行请求解密才能观测结果
type Analytics struct {
	engine *fhe.Engine
	acc    *Accumulator
	score  ScoreParams

	// 符号/最大值电路的归一化上界（改进分数的数值范围）
	scoreBound float64
	// 比值电路的分母上界（响应均值的数值范围）
	avgBound float64
}

// NewAnalytics 创建新的加密分析视图
func NewAnalytics(engine *fhe.Engine, acc *Accumulator, score ScoreParams) *Analytics {
	return &Analytics{
		engine:     engine,
		acc:        acc,
		score:      score,
		scoreBound: 2 * score.BaseScore,
		avgBound:   1024,
	}
}

// urgency 单类型紧迫度: BaseScore - improvement，分数越低紧迫度越高
func (an *Analytics) urgency(serviceType string) (*fhe.Ciphertext, error) {
	agg, err := an.acc.Get(serviceType)
	if err != nil {
		return nil, err
	}
	agg.mu.Lock()
	improvement := agg.Improvement.Copy()
	agg.mu.Unlock()

	return an.engine.SubFromConst(an.score.BaseScore, improvement)
}

// HighestPriority 最高优先级：各类型紧迫度的同态最大值
func (an *Analytics) HighestPriority(serviceTypes ...string) (*fhe.Ciphertext, error) {
	if len(serviceTypes) == 0 {
		return nil, fmt.Errorf("%w: 未指定服务类型", ErrNotFound)
	}

	best, err := an.urgency(serviceTypes[0])
	if err != nil {
		return nil, err
	}
	for _, t := range serviceTypes[1:] {
		u, err := an.urgency(t)
		if err != nil {
			return nil, err
		}
		best, err = an.engine.Max(best, u, an.scoreBound)
		if err != nil {
			return nil, err
		}
	}
	return best, nil
}

// DegradationFlag 退化检测：improvement低于阈值时约为1的加密0/1标志
func (an *Analytics) DegradationFlag(serviceType string, threshold float64) (*fhe.Ciphertext, error) {
	agg, err := an.acc.Get(serviceType)
	if err != nil {
		return nil, err
	}
	agg.mu.Lock()
	improvement := agg.Improvement.Copy()
	agg.mu.Unlock()

	thr, err := an.engine.Constant(threshold)
	if err != nil {
		return nil, err
	}
	// threshold >= improvement  ⇔  improvement < threshold（边界取约1）
	return an.engine.Ge(thr, improvement, an.scoreBound)
}

// EfficiencyIndex 效率指数：improvement / responseAvg 的同态比值
func (an *Analytics) EfficiencyIndex(serviceType string) (*fhe.Ciphertext, error) {
	agg, err := an.acc.Get(serviceType)
	if err != nil {
		return nil, err
	}
	agg.mu.Lock()
	improvement := agg.Improvement.Copy()
	responseAvg := agg.ResponseAvg.Copy()
	agg.mu.Unlock()

	return an.engine.Div(improvement, responseAvg, an.avgBound)
}

// TrustIndex 信任指数：各类型improvement的同态平均
func (an *Analytics) TrustIndex(serviceTypes ...string) (*fhe.Ciphertext, error) {
	if len(serviceTypes) == 0 {
		return nil, fmt.Errorf("%w: 未指定服务类型", ErrNotFound)
	}

	var sum *fhe.Ciphertext
	for _, t := range serviceTypes {
		agg, err := an.acc.Get(t)
		if err != nil {
			return nil, err
		}
		agg.mu.Lock()
		improvement := agg.Improvement.Copy()
		agg.mu.Unlock()

		if sum == nil {
			sum = improvement
			continue
		}
		sum, err = an.engine.Add(sum, improvement)
		if err != nil {
			return nil, err
		}
	}
	return an.engine.MulConst(sum, 1/float64(len(serviceTypes)))
}

package fhe

import (
	"fmt"
	"math"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// Ciphertext 加密标量句柄
// 单槽CKKS密文，仅槽0的实部有效；平台侧所有运算只通过Engine进行，明文从不落地
type Ciphertext struct {
	CT *rlwe.Ciphertext
}

// Copy 复制密文句柄
func (c *Ciphertext) Copy() *Ciphertext {
	return &Ciphertext{CT: c.CT.CopyNew()}
}

// Level 获取密文当前层级
func (c *Ciphertext) Level() int {
	return c.CT.Level()
}

// Refresher 密文刷新接口
// 同态除法和符号函数是迭代电路，层级耗尽时需要外部刷新服务
// （由解密预言机实现：解密后在最高层级重新加密）
type Refresher interface {
	Refresh(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error)
}

// Engine 同态运算引擎
// 持有公钥和求值密钥，不持有私钥；除法、比较等深电路通过Refresher恢复层级
type Engine struct {
	params    ckks.Parameters
	encoder   *ckks.Encoder
	encryptor *rlwe.Encryptor
	evaluator *ckks.Evaluator
	refresher Refresher
}

// NewEngine 创建新的同态运算引擎
func NewEngine(profile *Profile, pk *rlwe.PublicKey, rlk *rlwe.RelinearizationKey, refresher Refresher) *Engine {
	params := profile.Params
	evk := rlwe.NewMemEvaluationKeySet(rlk)

	return &Engine{
		params:    params,
		encoder:   ckks.NewEncoder(params),
		encryptor: rlwe.NewEncryptor(params, pk),
		evaluator: ckks.NewEvaluator(params, evk),
		refresher: refresher,
	}
}

// Encrypt 用公钥加密一个标量
func (e *Engine) Encrypt(value float64) (*Ciphertext, error) {
	pt := ckks.NewPlaintext(e.params, e.params.MaxLevel())
	if err := e.encoder.Encode([]float64{value}, pt); err != nil {
		return nil, fmt.Errorf("编码失败: %w", err)
	}
	ct, err := e.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("加密失败: %w", err)
	}
	return &Ciphertext{CT: ct}, nil
}

// Zero 加密零值构造器
func (e *Engine) Zero() (*Ciphertext, error) {
	return e.Encrypt(0)
}

// Constant 加密常数构造器
func (e *Engine) Constant(value float64) (*Ciphertext, error) {
	return e.Encrypt(value)
}

// ensure 保证密文至少还有need个可用层级，不足时通过刷新服务恢复
func (e *Engine) ensure(ct *Ciphertext, need int) error {
	if ct.CT.Level() >= need {
		return nil
	}
	if e.refresher == nil {
		return fmt.Errorf("密文层级耗尽(level=%d)且未配置刷新服务", ct.CT.Level())
	}
	fresh, err := e.refresher.Refresh(ct.CT)
	if err != nil {
		return fmt.Errorf("密文刷新失败: %w", err)
	}
	ct.CT = fresh
	return nil
}

// Add 同态加法
func (e *Engine) Add(a, b *Ciphertext) (*Ciphertext, error) {
	out, err := e.evaluator.AddNew(a.CT, b.CT)
	if err != nil {
		return nil, err
	}
	return &Ciphertext{CT: out}, nil
}

// Sub 同态减法
func (e *Engine) Sub(a, b *Ciphertext) (*Ciphertext, error) {
	out, err := e.evaluator.SubNew(a.CT, b.CT)
	if err != nil {
		return nil, err
	}
	return &Ciphertext{CT: out}, nil
}

// AddConst 同态加常数
func (e *Engine) AddConst(a *Ciphertext, c float64) (*Ciphertext, error) {
	out, err := e.evaluator.AddNew(a.CT, c)
	if err != nil {
		return nil, err
	}
	return &Ciphertext{CT: out}, nil
}

// SubFromConst 常数减密文: c - a
func (e *Engine) SubFromConst(c float64, a *Ciphertext) (*Ciphertext, error) {
	neg, err := e.MulConst(a, -1)
	if err != nil {
		return nil, err
	}
	return e.AddConst(neg, c)
}

// Mul 同态乘法（密文×密文），重线性化并重缩放
func (e *Engine) Mul(a, b *Ciphertext) (*Ciphertext, error) {
	if err := e.ensure(a, 2); err != nil {
		return nil, err
	}
	if err := e.ensure(b, 2); err != nil {
		return nil, err
	}
	out, err := e.evaluator.MulRelinNew(a.CT, b.CT)
	if err != nil {
		return nil, err
	}
	if err := e.evaluator.Rescale(out, out); err != nil {
		return nil, fmt.Errorf("重缩放失败: %w", err)
	}
	return &Ciphertext{CT: out}, nil
}

// MulConst 同态乘常数
func (e *Engine) MulConst(a *Ciphertext, c float64) (*Ciphertext, error) {
	if err := e.ensure(a, 2); err != nil {
		return nil, err
	}
	out, err := e.evaluator.MulNew(a.CT, c)
	if err != nil {
		return nil, err
	}
	if err := e.evaluator.Rescale(out, out); err != nil {
		return nil, fmt.Errorf("重缩放失败: %w", err)
	}
	return &Ciphertext{CT: out}, nil
}

// Inverse 同态求倒数（Goldschmidt迭代）
// 输入y须落在(0,1]区间，迭代次数由调用方根据y的下界决定
// 递推式: x <- x*(2 - y*x)，误差平方收敛
func (e *Engine) Inverse(y *Ciphertext, iterations int) (*Ciphertext, error) {
	// 初值 x0 = 2 - y
	x, err := e.SubFromConst(2, y)
	if err != nil {
		return nil, err
	}

	yw := y.Copy()
	for i := 0; i < iterations; i++ {
		if err := e.ensure(x, 3); err != nil {
			return nil, err
		}
		if err := e.ensure(yw, 3); err != nil {
			return nil, err
		}
		// t = y*x
		t, err := e.Mul(yw, x)
		if err != nil {
			return nil, err
		}
		// s = 2 - t
		s, err := e.SubFromConst(2, t)
		if err != nil {
			return nil, err
		}
		// x = x*s
		x, err = e.Mul(x, s)
		if err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Div 同态除法: num/den
// den须落在(0, bound]区间；先归一化到(0,1]再做倒数迭代
// 运行均值更新规则依赖本操作（加密分母除法）
func (e *Engine) Div(num, den *Ciphertext, bound float64) (*Ciphertext, error) {
	if bound <= 0 {
		return nil, fmt.Errorf("无效的分母上界: %v", bound)
	}
	// y = den/bound ∈ (0,1]
	y, err := e.MulConst(den, 1/bound)
	if err != nil {
		return nil, err
	}

	// 迭代次数随上界对数增长
	iterations := int(math.Ceil(math.Log2(bound))) + 4
	inv, err := e.Inverse(y, iterations)
	if err != nil {
		return nil, err
	}

	// num/den = num * (1/y) / bound
	out, err := e.Mul(num, inv)
	if err != nil {
		return nil, err
	}
	return e.MulConst(out, 1/bound)
}

// Sign 同态符号函数近似
// 输入先按bound归一化到[-1,1]，再迭代 f(x)=1.5x-0.5x^3 逼近±1
func (e *Engine) Sign(a *Ciphertext, bound float64) (*Ciphertext, error) {
	x, err := e.MulConst(a, 1/bound)
	if err != nil {
		return nil, err
	}

	const iterations = 10
	for i := 0; i < iterations; i++ {
		if err := e.ensure(x, 3); err != nil {
			return nil, err
		}
		// x2 = x*x
		x2, err := e.Mul(x, x)
		if err != nil {
			return nil, err
		}
		// s = 1.5 - 0.5*x2
		half, err := e.MulConst(x2, -0.5)
		if err != nil {
			return nil, err
		}
		s, err := e.AddConst(half, 1.5)
		if err != nil {
			return nil, err
		}
		// x = x*s
		x, err = e.Mul(x, s)
		if err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Abs 同态绝对值: |a| = a*sign(a)
func (e *Engine) Abs(a *Ciphertext, bound float64) (*Ciphertext, error) {
	s, err := e.Sign(a, bound)
	if err != nil {
		return nil, err
	}
	return e.Mul(a, s)
}

// Max 同态最大值: max(a,b) = (a+b)/2 + |a-b|/2
func (e *Engine) Max(a, b *Ciphertext, bound float64) (*Ciphertext, error) {
	sum, err := e.Add(a, b)
	if err != nil {
		return nil, err
	}
	diff, err := e.Sub(a, b)
	if err != nil {
		return nil, err
	}
	absDiff, err := e.Abs(diff, bound)
	if err != nil {
		return nil, err
	}
	out, err := e.Add(sum, absDiff)
	if err != nil {
		return nil, err
	}
	return e.MulConst(out, 0.5)
}

// Min 同态最小值: min(a,b) = (a+b)/2 - |a-b|/2
func (e *Engine) Min(a, b *Ciphertext, bound float64) (*Ciphertext, error) {
	sum, err := e.Add(a, b)
	if err != nil {
		return nil, err
	}
	diff, err := e.Sub(a, b)
	if err != nil {
		return nil, err
	}
	absDiff, err := e.Abs(diff, bound)
	if err != nil {
		return nil, err
	}
	out, err := e.Sub(sum, absDiff)
	if err != nil {
		return nil, err
	}
	return e.MulConst(out, 0.5)
}

// Ge 同态阈值比较: a>=b时约为1，a<b时约为0
func (e *Engine) Ge(a, b *Ciphertext, bound float64) (*Ciphertext, error) {
	diff, err := e.Sub(a, b)
	if err != nil {
		return nil, err
	}
	s, err := e.Sign(diff, bound)
	if err != nil {
		return nil, err
	}
	half, err := e.MulConst(s, 0.5)
	if err != nil {
		return nil, err
	}
	return e.AddConst(half, 0.5)
}

// Select 同态选择: cond*a + (1-cond)*b，cond为加密的0/1标志
func (e *Engine) Select(cond, a, b *Ciphertext) (*Ciphertext, error) {
	left, err := e.Mul(cond, a)
	if err != nil {
		return nil, err
	}
	notCond, err := e.SubFromConst(1, cond)
	if err != nil {
		return nil, err
	}
	right, err := e.Mul(notCond, b)
	if err != nil {
		return nil, err
	}
	return e.Add(left, right)
}

package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/utils"
)

var (
	// ErrNotFound 引用的反馈记录不存在
	ErrNotFound = errors.New("feedback not found")
	// ErrAlreadyAggregated 反馈已被计入聚合，拒绝重复计入
	ErrAlreadyAggregated = errors.New("feedback already aggregated")
)

// EncryptedFeedback 加密反馈记录
// 创建后不可变；service_type为明文路由键，四个密文字段内容不可校验（内容加密，仅能约束身份绑定）
type EncryptedFeedback struct {
	ID          uint64
	Citizen     string
	ServiceType string

	EncServiceType  *fhe.Ciphertext
	EncRating       *fhe.Ciphertext
	EncResponseTime *fhe.Ciphertext
	// 评论密文是不参与同态运算的不透明字节串
	EncComment []byte

	SubmittedAt time.Time

	// 聚合标记：累加器通过账本API置位，保证同一条反馈不被重复计入
	aggregated bool
}

// Ledger 反馈账本
// 追加式存储加密反馈记录，维护公民个人索引与单调递增ID；并持有密文存储
type Ledger struct {
	mu        sync.RWMutex
	nextID    uint64
	records   map[uint64]*EncryptedFeedback
	byCitizen map[string][]uint64
	store     *CipherStore
}

// NewLedger 创建新的反馈账本
func NewLedger() *Ledger {
	return &Ledger{
		nextID:    1,
		records:   make(map[uint64]*EncryptedFeedback),
		byCitizen: make(map[string][]uint64),
		store:     NewCipherStore(),
	}
}

// Store 获取账本持有的密文存储
func (l *Ledger) Store() *CipherStore {
	return l.store
}

// Submit 提交加密反馈
// 分配单调递增ID，存储不可变记录，追加公民个人索引，并把原始密文归档进密文存储
func (l *Ledger) Submit(citizen, serviceType string, encST, encRating, encRT *fhe.Ciphertext, encComment []byte) (uint64, error) {
	if citizen == "" {
		return 0, fmt.Errorf("公民身份不能为空")
	}
	if encST == nil || encRating == nil || encRT == nil {
		return 0, fmt.Errorf("密文字段不完整")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++

	fb := &EncryptedFeedback{
		ID:              id,
		Citizen:         citizen,
		ServiceType:     serviceType,
		EncServiceType:  encST,
		EncRating:       encRating,
		EncResponseTime: encRT,
		EncComment:      encComment,
		SubmittedAt:     time.Now(),
	}
	l.records[id] = fb
	l.byCitizen[citizen] = append(l.byCitizen[citizen], id)

	// 原始密文归档（追加式，按反馈字段分键）
	l.archiveLocked(fb)

	fmt.Printf("[账本] 公民 %s 提交反馈 #%d (服务类型: %s)\n", citizen, id, serviceType)
	return id, nil
}

// archiveLocked 把反馈的原始密文序列化后写入密文存储
// 序列化失败只影响归档，不影响账本记录本身
func (l *Ledger) archiveLocked(fb *EncryptedFeedback) {
	fields := map[string]*fhe.Ciphertext{
		"service_type":  fb.EncServiceType,
		"rating":        fb.EncRating,
		"response_time": fb.EncResponseTime,
	}
	for name, ct := range fields {
		blob, err := utils.MarshalCiphertext(ct)
		if err != nil {
			fmt.Printf("[账本] 反馈 #%d 字段 %s 归档失败: %v\n", fb.ID, name, err)
			continue
		}
		l.store.Append(fmt.Sprintf("feedback/%d/%s", fb.ID, name), []byte(blob))
	}
	if len(fb.EncComment) > 0 {
		l.store.Append(fmt.Sprintf("feedback/%d/comment", fb.ID), fb.EncComment)
	}
}

// Get 获取反馈记录
func (l *Ledger) Get(id uint64) (*EncryptedFeedback, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fb, ok := l.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: #%d", ErrNotFound, id)
	}
	return fb, nil
}

// ByCitizen 获取公民的个人反馈索引
func (l *Ledger) ByCitizen(citizen string) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.byCitizen[citizen]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// MarkAggregated 置位聚合标记
// 原子检查并置位；第二次调用返回ErrAlreadyAggregated，使聚合更新幂等拒绝重复计入
func (l *Ledger) MarkAggregated(id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fb, ok := l.records[id]
	if !ok {
		return fmt.Errorf("%w: #%d", ErrNotFound, id)
	}
	if fb.aggregated {
		return fmt.Errorf("%w: #%d", ErrAlreadyAggregated, id)
	}
	fb.aggregated = true
	return nil
}

// ClearAggregated 回滚聚合标记
// 仅在聚合更新中途失败时由累加器调用，保证全有或全无
func (l *Ledger) ClearAggregated(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if fb, ok := l.records[id]; ok {
		fb.aggregated = false
	}
}

// IsAggregated 查询聚合标记
func (l *Ledger) IsAggregated(id uint64) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fb, ok := l.records[id]
	if !ok {
		return false, fmt.Errorf("%w: #%d", ErrNotFound, id)
	}
	return fb.aggregated, nil
}

// Count 账本中的反馈总数
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

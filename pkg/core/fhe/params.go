package fhe

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tuneinsight/lattigo/v6/ring"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// Profile CKKS参数配置
// 所有组件（平台引擎、预言机）必须使用同一份参数，参数由预言机在启动时下发
type Profile struct {
	Params ckks.Parameters
	// base64编码的参数字面量，便于通过HTTP下发
	paramsLiteralB64 string
}

// initParameters 初始化CKKS参数
// LogN=14，8个Q模数，名义上支持32位整数范围的加密标量运算
func initParameters() (ckks.Parameters, error) {
	literal := ckks.ParametersLiteral{
		LogN:            14,
		LogQ:            []int{55, 45, 45, 45, 45, 45, 45, 45},
		LogP:            []int{61},
		LogDefaultScale: 45,
		RingType:        ring.Standard,
	}

	params, err := ckks.NewParametersFromLiteral(literal)
	if err != nil {
		return params, fmt.Errorf("参数创建失败: %w", err)
	}
	return params, nil
}

// NewProfile 创建新的参数配置
func NewProfile() (*Profile, error) {
	params, err := initParameters()
	if err != nil {
		return nil, err
	}

	jsonBytes, err := json.Marshal(params.ParametersLiteral())
	if err != nil {
		return nil, fmt.Errorf("序列化参数字面量失败: %w", err)
	}

	return &Profile{
		Params:           params,
		paramsLiteralB64: base64.StdEncoding.EncodeToString(jsonBytes),
	}, nil
}

// ProfileFromLiteral 从base64编码的参数字面量恢复配置
// 平台启动时从预言机 /params 接口获取
func ProfileFromLiteral(literalB64 string) (*Profile, error) {
	jsonBytes, err := base64.StdEncoding.DecodeString(literalB64)
	if err != nil {
		return nil, fmt.Errorf("参数字面量解码失败: %w", err)
	}

	var literal ckks.ParametersLiteral
	if err := json.Unmarshal(jsonBytes, &literal); err != nil {
		return nil, fmt.Errorf("参数字面量解析失败: %w", err)
	}

	params, err := ckks.NewParametersFromLiteral(literal)
	if err != nil {
		return nil, fmt.Errorf("参数恢复失败: %w", err)
	}

	return &Profile{
		Params:           params,
		paramsLiteralB64: literalB64,
	}, nil
}

// LiteralB64 获取base64编码的参数字面量
func (p *Profile) LiteralB64() string {
	return p.paramsLiteralB64
}

// MaxLevel 获取最大层级
func (p *Profile) MaxLevel() int {
	return p.Params.MaxLevel()
}

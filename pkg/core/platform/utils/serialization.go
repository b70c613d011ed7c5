// 序列化与编码工具函数
// 提供结构体与字节流、Base64字符串之间的转换，便于网络传输和存储
package utils

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
)

// EncodeShare 将结构体序列化为字节流
func EncodeShare(share interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(share); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeShare 将字节流反序列化为结构体
func DecodeShare(data []byte, share interface{}) error {
	buf := bytes.NewBuffer(data)
	dec := gob.NewDecoder(buf)
	return dec.Decode(share)
}

// EncodeToBase64 将字节流编码为Base64字符串，便于网络传输
func EncodeToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeFromBase64 将Base64字符串解码为字节流
func DecodeFromBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// MarshalCiphertext 将加密标量句柄序列化为Base64字符串
func MarshalCiphertext(ct *fhe.Ciphertext) (string, error) {
	if ct == nil || ct.CT == nil {
		return "", fmt.Errorf("密文句柄为空")
	}
	data, err := ct.CT.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("密文序列化失败: %w", err)
	}
	return EncodeToBase64(data), nil
}

// UnmarshalCiphertext 从Base64字符串恢复加密标量句柄
func UnmarshalCiphertext(s string) (*fhe.Ciphertext, error) {
	data, err := DecodeFromBase64(s)
	if err != nil {
		return nil, fmt.Errorf("密文解码失败: %w", err)
	}
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("密文反序列化失败: %w", err)
	}
	return &fhe.Ciphertext{CT: ct}, nil
}

// MarshalCiphertexts 批量序列化加密标量句柄
func MarshalCiphertexts(cts []*fhe.Ciphertext) ([]string, error) {
	out := make([]string, len(cts))
	for i, ct := range cts {
		s, err := MarshalCiphertext(ct)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// UnmarshalCiphertexts 批量恢复加密标量句柄
func UnmarshalCiphertexts(ss []string) ([]*fhe.Ciphertext, error) {
	out := make([]*fhe.Ciphertext, len(ss))
	for i, s := range ss {
		ct, err := UnmarshalCiphertext(s)
		if err != nil {
			return nil, err
		}
		out[i] = ct
	}
	return out, nil
}

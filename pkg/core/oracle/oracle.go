package oracle

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
)

// Oracle 解密预言机
// 系统中唯一持有FHE私钥的组件；解密聚合快照并对明文包出具secp256k1签名证明，
// 同时为平台引擎提供密文刷新（解密后在最高层级重新加密）
type Oracle struct {
	profile   *fhe.Profile
	sk        *rlwe.SecretKey
	pk        *rlwe.PublicKey
	rlk       *rlwe.RelinearizationKey
	encoder   *ckks.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor

	// 签名身份，平台以地址识别预言机
	signKey *ecdsa.PrivateKey

	mu sync.Mutex
}

// New 创建新的解密预言机，生成FHE密钥对与签名身份
func New(profile *fhe.Profile) (*Oracle, error) {
	params := profile.Params

	kgen := rlwe.NewKeyGenerator(params)
	sk := kgen.GenSecretKeyNew()
	pk := kgen.GenPublicKeyNew(sk)
	rlk := kgen.GenRelinearizationKeyNew(sk)

	signKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("签名密钥生成失败: %w", err)
	}

	o := &Oracle{
		profile:   profile,
		sk:        sk,
		pk:        pk,
		rlk:       rlk,
		encoder:   ckks.NewEncoder(params),
		encryptor: rlwe.NewEncryptor(params, pk),
		decryptor: rlwe.NewDecryptor(params, sk),
		signKey:   signKey,
	}

	fmt.Printf("[预言机] 密钥生成完成, 签名地址: %s\n", o.Address().Hex())
	return o, nil
}

// Profile 获取参数配置
func (o *Oracle) Profile() *fhe.Profile {
	return o.profile
}

// PublicKey 获取FHE公钥
func (o *Oracle) PublicKey() *rlwe.PublicKey {
	return o.pk
}

// RelinKey 获取重线性化密钥
func (o *Oracle) RelinKey() *rlwe.RelinearizationKey {
	return o.rlk
}

// Address 获取预言机签名地址
func (o *Oracle) Address() common.Address {
	return crypto.PubkeyToAddress(o.signKey.PublicKey)
}

// DecryptValue 解密单个加密标量
func (o *Oracle) DecryptValue(ct *rlwe.Ciphertext) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pt := o.decryptor.DecryptNew(ct)
	values := make([]float64, o.profile.Params.MaxSlots())
	if err := o.encoder.Decode(pt, values); err != nil {
		return 0, fmt.Errorf("解码失败: %w", err)
	}
	return values[0], nil
}

// DecryptBundle 解密一组加密标量并取整
// 揭示协议按32位整数语义取整（四舍五入），CKKS噪声在该精度下可忽略
func (o *Oracle) DecryptBundle(cts []*fhe.Ciphertext) ([]int64, error) {
	values := make([]int64, len(cts))
	for i, ct := range cts {
		v, err := o.DecryptValue(ct.CT)
		if err != nil {
			return nil, fmt.Errorf("第%d个密文解密失败: %w", i, err)
		}
		values[i] = int64(math.Round(v))
	}
	return values, nil
}

// Refresh 密文刷新：解密后在最高层级重新加密
// 实现fhe.Refresher接口，供引擎的除法/符号迭代电路恢复层级
func (o *Oracle) Refresh(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	v, err := o.DecryptValue(ct)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	params := o.profile.Params
	pt := ckks.NewPlaintext(params, params.MaxLevel())
	if err := o.encoder.Encode([]float64{v}, pt); err != nil {
		return nil, fmt.Errorf("重编码失败: %w", err)
	}
	fresh, err := o.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("重加密失败: %w", err)
	}
	return fresh, nil
}

// SignBundle 对明文包出具签名证明
func (o *Oracle) SignBundle(requestID string, values []int64) ([]byte, error) {
	digest := BundleDigest(requestID, values)
	sig, err := crypto.Sign(digest, o.signKey)
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	return sig, nil
}

// BundleDigest 计算明文包摘要: Keccak256(requestID || 大端编码的各明文值)
func BundleDigest(requestID string, values []int64) []byte {
	buf := make([]byte, 0, len(requestID)+8*len(values))
	buf = append(buf, []byte(requestID)...)
	for _, v := range values {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v))
		buf = append(buf, b[:]...)
	}
	return crypto.Keccak256(buf)
}

// VerifyBundle 验证明文包签名是否出自指定预言机地址
func VerifyBundle(oracleAddr common.Address, requestID string, values []int64, proof []byte) bool {
	if len(proof) != crypto.SignatureLength {
		return false
	}
	digest := BundleDigest(requestID, values)
	pub, err := crypto.SigToPub(digest, proof)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == oracleAddr
}

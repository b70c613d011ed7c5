package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/utils"
)

// Client 平台侧预言机HTTP客户端
// 负责启动时获取参数/公钥材料，以及把解密请求转发给预言机服务
type Client struct {
	baseURL     string
	callbackURL string
	httpClient  *http.Client
}

// NewClient 创建新的预言机客户端
// callbackURL为平台揭示回调地址（预言机解密完成后POST到该地址）
func NewClient(baseURL, callbackURL string) *Client {
	return &Client{
		baseURL:     baseURL,
		callbackURL: callbackURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// FetchedParams 从预言机获取的参数与公钥材料
type FetchedParams struct {
	Profile       *fhe.Profile
	PublicKey     *rlwe.PublicKey
	RelinKey      *rlwe.RelinearizationKey
	OracleAddress common.Address
}

// FetchParams 从预言机 /params 接口获取参数与公钥材料
func (c *Client) FetchParams() (*FetchedParams, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/params")
	if err != nil {
		return nil, fmt.Errorf("获取预言机参数失败: %w", err)
	}
	defer resp.Body.Close()

	var body utils.OracleParamsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("参数响应解析失败: %w", err)
	}

	profile, err := fhe.ProfileFromLiteral(body.ParamsLiteral)
	if err != nil {
		return nil, err
	}

	pkBytes, err := utils.DecodeFromBase64(body.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("公钥解码失败: %w", err)
	}
	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(pkBytes); err != nil {
		return nil, fmt.Errorf("公钥反序列化失败: %w", err)
	}

	rlkBytes, err := utils.DecodeFromBase64(body.RelinKey)
	if err != nil {
		return nil, fmt.Errorf("重线性化密钥解码失败: %w", err)
	}
	rlk := new(rlwe.RelinearizationKey)
	if err := rlk.UnmarshalBinary(rlkBytes); err != nil {
		return nil, fmt.Errorf("重线性化密钥反序列化失败: %w", err)
	}

	return &FetchedParams{
		Profile:       profile,
		PublicKey:     pk,
		RelinKey:      rlk,
		OracleAddress: common.HexToAddress(body.OracleAddress),
	}, nil
}

// RequestDecryption 把聚合快照的解密请求转发给预言机
// 立即返回；预言机解密完成后异步POST回平台的揭示回调接口
func (c *Client) RequestDecryption(requestID string, handles []*fhe.Ciphertext) error {
	cts, err := utils.MarshalCiphertexts(handles)
	if err != nil {
		return err
	}

	reqBody, err := json.Marshal(utils.DecryptRequestBody{
		RequestID:   requestID,
		Ciphertexts: cts,
		CallbackURL: c.callbackURL,
	})
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Post(c.baseURL+"/decrypt", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("解密请求发送失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("预言机拒绝解密请求: HTTP %d", resp.StatusCode)
	}
	return nil
}

// RefreshClient 密文刷新HTTP客户端，实现fhe.Refresher接口
type RefreshClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRefreshClient 创建新的密文刷新客户端
func NewRefreshClient(baseURL string) *RefreshClient {
	return &RefreshClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Refresh 通过预言机 /refresh 接口刷新密文
func (rc *RefreshClient) Refresh(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	ctB64, err := utils.MarshalCiphertext(&fhe.Ciphertext{CT: ct})
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(utils.RefreshRequestBody{Ciphertext: ctB64})
	if err != nil {
		return nil, err
	}

	resp, err := rc.httpClient.Post(rc.baseURL+"/refresh", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("刷新请求发送失败: %w", err)
	}
	defer resp.Body.Close()

	var body utils.RefreshResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("刷新响应解析失败: %w", err)
	}

	fresh, err := utils.UnmarshalCiphertext(body.Ciphertext)
	if err != nil {
		return nil, err
	}
	return fresh.CT, nil
}

// CompleteFunc 揭示完成回调签名（绑定到揭示协议的CompleteReveal）
type CompleteFunc func(requestID string, values []int64, proof []byte) error

// InProcess 进程内预言机客户端
// 演示与测试使用：同步解密、签名并直接回调揭示协议，不经过网络
type InProcess struct {
	oracle   *Oracle
	complete CompleteFunc
}

// NewInProcess 创建进程内预言机客户端
func NewInProcess(o *Oracle) *InProcess {
	return &InProcess{oracle: o}
}

// BindCompletion 绑定揭示完成回调
// 协议与客户端互相引用，构造完协议后再绑定
func (ip *InProcess) BindCompletion(complete CompleteFunc) {
	ip.complete = complete
}

// RequestDecryption 同步解密并回调
func (ip *InProcess) RequestDecryption(requestID string, handles []*fhe.Ciphertext) error {
	if ip.complete == nil {
		return fmt.Errorf("未绑定揭示完成回调")
	}

	values, err := ip.oracle.DecryptBundle(handles)
	if err != nil {
		return err
	}
	proof, err := ip.oracle.SignBundle(requestID, values)
	if err != nil {
		return err
	}
	return ip.complete(requestID, values, proof)
}

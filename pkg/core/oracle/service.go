package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/utils"
)

// Service 预言机HTTP服务
// 下发参数与公钥材料、处理解密请求（异步回调平台）、提供密文刷新
type Service struct {
	oracle *Oracle
	router *gin.Engine
	port   string

	httpClient *http.Client
}

// NewService 创建新的预言机HTTP服务
func NewService(o *Oracle, port string) *Service {
	s := &Service{
		oracle: o,
		router: gin.Default(),
		port:   port,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	s.setupRoutes()
	return s
}

// setupRoutes 设置HTTP路由
func (s *Service) setupRoutes() {
	s.router.GET("/params", s.paramsHandler)
	s.router.POST("/decrypt", s.decryptHandler)
	s.router.POST("/refresh", s.refreshHandler)
}

// Start 启动预言机服务
func (s *Service) Start() error {
	fmt.Printf("预言机启动中, 监听端口 %s, 签名地址 %s\n", s.port, s.oracle.Address().Hex())
	return s.router.Run(":" + s.port)
}

// GetRouter 获取路由器
func (s *Service) GetRouter() *gin.Engine {
	return s.router
}

// paramsHandler 参数与公钥材料下发处理器
func (s *Service) paramsHandler(ctx *gin.Context) {
	pkBytes, err := s.oracle.PublicKey().MarshalBinary()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rlkBytes, err := s.oracle.RelinKey().MarshalBinary()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, utils.OracleParamsResponse{
		ParamsLiteral: s.oracle.Profile().LiteralB64(),
		PublicKey:     utils.EncodeToBase64(pkBytes),
		RelinKey:      utils.EncodeToBase64(rlkBytes),
		OracleAddress: s.oracle.Address().Hex(),
	})
}

// decryptHandler 解密请求处理器
// 立即返回202；解密与签名在协程中完成后POST回平台的回调地址
func (s *Service) decryptHandler(ctx *gin.Context) {
	var req utils.DecryptRequestBody
	if err := ctx.ShouldBindJSON(&req); err != nil || req.RequestID == "" || req.CallbackURL == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request, request_id and callback_url required"})
		return
	}

	handles, err := utils.UnmarshalCiphertexts(req.Ciphertexts)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid ciphertexts"})
		return
	}

	go s.processDecryption(req.RequestID, req.CallbackURL, handles)
	ctx.JSON(http.StatusAccepted, gin.H{"status": "decryption scheduled"})
}

// processDecryption 解密、签名并回调平台
func (s *Service) processDecryption(requestID, callbackURL string, handles []*fhe.Ciphertext) {
	values, err := s.oracle.DecryptBundle(handles)
	if err != nil {
		fmt.Printf("[预言机] 请求 %s 解密失败: %v\n", requestID, err)
		return
	}
	proof, err := s.oracle.SignBundle(requestID, values)
	if err != nil {
		fmt.Printf("[预言机] 请求 %s 签名失败: %v\n", requestID, err)
		return
	}

	reqBody, err := json.Marshal(utils.RevealCompleteBody{
		RequestID: requestID,
		Values:    values,
		Proof:     utils.EncodeToBase64(proof),
	})
	if err != nil {
		fmt.Printf("[预言机] 请求 %s 回调体构造失败: %v\n", requestID, err)
		return
	}

	resp, err := s.httpClient.Post(callbackURL, "application/json", bytes.NewReader(reqBody))
	if err != nil {
		fmt.Printf("[预言机] 请求 %s 回调失败: %v\n", requestID, err)
		return
	}
	defer resp.Body.Close()

	fmt.Printf("[预言机] 请求 %s 回调完成: HTTP %d\n", requestID, resp.StatusCode)
}

// refreshHandler 密文刷新处理器
func (s *Service) refreshHandler(ctx *gin.Context) {
	var req utils.RefreshRequestBody
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Ciphertext == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request, ciphertext required"})
		return
	}

	ct, err := utils.UnmarshalCiphertext(req.Ciphertext)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid ciphertext"})
		return
	}

	fresh, err := s.oracle.Refresh(ct.CT)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	freshB64, err := utils.MarshalCiphertext(&fhe.Ciphertext{CT: fresh})
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, utils.RefreshResponseBody{Ciphertext: freshB64})
}

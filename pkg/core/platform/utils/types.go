package utils

// SubmitFeedbackRequest 提交加密反馈请求体
// 四个密文字段均为Base64编码；service_type为明文路由键（参见DESIGN.md的公开问题决策）
type SubmitFeedbackRequest struct {
	Citizen         string `json:"citizen"`
	ServiceType     string `json:"service_type"`
	EncServiceType  string `json:"enc_service_type"`
	EncRating       string `json:"enc_rating"`
	EncResponseTime string `json:"enc_response_time"`
	EncComment      string `json:"enc_comment"`
}

// SubmitFeedbackResponse 提交加密反馈响应体
type SubmitFeedbackResponse struct {
	FeedbackID uint64 `json:"feedback_id"`
}

// RevealRequestBody 请求揭示聚合统计
type RevealRequestBody struct {
	Caller      string `json:"caller"`
	ServiceType string `json:"service_type"`
}

// RevealCompleteBody 预言机回调：携带明文包与证明
type RevealCompleteBody struct {
	RequestID string  `json:"request_id"`
	Values    []int64 `json:"values"`
	Proof     string  `json:"proof"`
}

// DecryptRequestBody 平台向预言机发起的解密请求
type DecryptRequestBody struct {
	RequestID   string   `json:"request_id"`
	Ciphertexts []string `json:"ciphertexts"`
	CallbackURL string   `json:"callback_url"`
}

// RefreshRequestBody 密文刷新请求
type RefreshRequestBody struct {
	Ciphertext string `json:"ciphertext"`
}

// RefreshResponseBody 密文刷新响应
type RefreshResponseBody struct {
	Ciphertext string `json:"ciphertext"`
}

// GrantManagerRequest 授予管理员能力请求体
type GrantManagerRequest struct {
	Caller string `json:"caller"`
	Target string `json:"target"`
}

// RegisterServiceRequest 注册服务类型请求体
type RegisterServiceRequest struct {
	Caller      string `json:"caller"`
	ServiceType string `json:"service_type"`
}

// OracleParamsResponse 预言机参数下发响应
type OracleParamsResponse struct {
	ParamsLiteral string `json:"params_literal"`
	PublicKey     string `json:"public_key"`
	RelinKey      string `json:"relin_key"`
	OracleAddress string `json:"oracle_address"`
}

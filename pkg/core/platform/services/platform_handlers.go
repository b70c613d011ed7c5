package services

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/aggregate"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/auth"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/ledger"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/reveal"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/utils"
)

// upgrader WebSocket升级器（事件订阅接口用）
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// errStatus 错误分类到HTTP状态码的映射
func errStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, aggregate.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, reveal.ErrNotRevealed):
		return http.StatusNotFound
	case errors.Is(err, reveal.ErrAlreadyRevealed),
		errors.Is(err, ledger.ErrAlreadyAggregated):
		return http.StatusConflict
	case errors.Is(err, reveal.ErrInvalidRequest),
		errors.Is(err, aggregate.ErrUnknownServiceType):
		return http.StatusBadRequest
	case errors.Is(err, reveal.ErrProofInvalid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ==================== HTTP处理器方法 ====================

// submitFeedbackHandler 提交加密反馈处理器
func (p *Platform) submitFeedbackHandler(ctx *gin.Context) {
	var req utils.SubmitFeedbackRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Citizen == "" || req.ServiceType == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request, citizen and service_type required"})
		return
	}

	encST, err := utils.UnmarshalCiphertext(req.EncServiceType)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid enc_service_type"})
		return
	}
	encRating, err := utils.UnmarshalCiphertext(req.EncRating)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid enc_rating"})
		return
	}
	encRT, err := utils.UnmarshalCiphertext(req.EncResponseTime)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid enc_response_time"})
		return
	}

	var encComment []byte
	if req.EncComment != "" {
		encComment, err = utils.DecodeFromBase64(req.EncComment)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid enc_comment"})
			return
		}
	}

	id, err := p.SubmitFeedback(req.Citizen, req.ServiceType, encST, encRating, encRT, encComment)
	if err != nil {
		ctx.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, utils.SubmitFeedbackResponse{FeedbackID: id})
}

// citizenFeedbackHandler 公民个人反馈索引处理器
func (p *Platform) citizenFeedbackHandler(ctx *gin.Context) {
	citizen := ctx.Param("citizen")
	ids := p.Ledger.ByCitizen(citizen)
	ctx.JSON(http.StatusOK, gin.H{"citizen": citizen, "feedback_ids": ids})
}

// listServicesHandler 服务类型列表处理器
func (p *Platform) listServicesHandler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"service_types": p.Accumulator.ServiceTypes()})
}

// registerServiceHandler 注册服务类型处理器（仅管理员）
func (p *Platform) registerServiceHandler(ctx *gin.Context) {
	var req utils.RegisterServiceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.ServiceType == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request, service_type required"})
		return
	}

	if req.Caller != p.Auth.Admin() {
		ctx.JSON(http.StatusForbidden, gin.H{"error": auth.ErrUnauthorized.Error()})
		return
	}

	if err := p.Accumulator.RegisterServiceType(req.ServiceType); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "registered"})
}

// aggregateStatusHandler 聚合状态处理器
func (p *Platform) aggregateStatusHandler(ctx *gin.Context) {
	serviceType := ctx.Param("type")
	ctx.JSON(http.StatusOK, gin.H{
		"service_type": serviceType,
		"state":        p.Protocol.State(serviceType),
		"updates":      p.Accumulator.UpdateCount(serviceType),
	})
}

// requestRevealHandler 请求揭示处理器
func (p *Platform) requestRevealHandler(ctx *gin.Context) {
	var req utils.RevealRequestBody
	if err := ctx.ShouldBindJSON(&req); err != nil || req.ServiceType == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request, service_type required"})
		return
	}

	requestID, err := p.Protocol.RequestReveal(req.Caller, req.ServiceType)
	if err != nil {
		ctx.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"request_id": requestID})
}

// completeRevealHandler 揭示完成回调处理器（预言机调用）
func (p *Platform) completeRevealHandler(ctx *gin.Context) {
	var req utils.RevealCompleteBody
	if err := ctx.ShouldBindJSON(&req); err != nil || req.RequestID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request, request_id required"})
		return
	}

	proof, err := utils.DecodeFromBase64(req.Proof)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid proof encoding"})
		return
	}

	snap, err := p.Protocol.CompleteReveal(req.RequestID, req.Values, proof)
	if err != nil {
		ctx.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

// decryptedHandler 已揭示快照查询处理器
func (p *Platform) decryptedHandler(ctx *gin.Context) {
	serviceType := ctx.Param("type")
	snap, err := p.Protocol.Decrypted(serviceType)
	if err != nil {
		ctx.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

// encryptedResult 把加密分析结果编码进响应
func encryptedResult(ctx *gin.Context, ct *fhe.Ciphertext, err error) {
	if err != nil {
		ctx.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	b64, err := utils.MarshalCiphertext(ct)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ciphertext": b64})
}

// priorityHandler 最高优先级分析处理器
func (p *Platform) priorityHandler(ctx *gin.Context) {
	types := p.Accumulator.ServiceTypes()
	ct, err := p.Analytics.HighestPriority(types...)
	encryptedResult(ctx, ct, err)
}

// efficiencyHandler 效率指数分析处理器
func (p *Platform) efficiencyHandler(ctx *gin.Context) {
	ct, err := p.Analytics.EfficiencyIndex(ctx.Param("type"))
	encryptedResult(ctx, ct, err)
}

// trustHandler 信任指数分析处理器
func (p *Platform) trustHandler(ctx *gin.Context) {
	types := p.Accumulator.ServiceTypes()
	ct, err := p.Analytics.TrustIndex(types...)
	encryptedResult(ctx, ct, err)
}

// degradationHandler 退化检测分析处理器
func (p *Platform) degradationHandler(ctx *gin.Context) {
	threshold := 50.0
	if s := ctx.Query("threshold"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			threshold = f
		}
	}
	ct, err := p.Analytics.DegradationFlag(ctx.Param("type"), threshold)
	encryptedResult(ctx, ct, err)
}

// grantManagerHandler 授予manager能力处理器
func (p *Platform) grantManagerHandler(ctx *gin.Context) {
	var req utils.GrantManagerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Target == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request, target required"})
		return
	}

	if err := p.Auth.GrantManager(req.Caller, req.Target); err != nil {
		ctx.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "granted"})
}

// eventsHandler WebSocket事件订阅处理器
func (p *Platform) eventsHandler(ctx *gin.Context) {
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade failed"})
		return
	}
	p.Hub.AddConn(conn)
}

// statusHandler 平台状态处理器
func (p *Platform) statusHandler(ctx *gin.Context) {
	types := p.Accumulator.ServiceTypes()
	states := make(map[string]string, len(types))
	for _, t := range types {
		states[t] = p.Protocol.State(t)
	}

	ctx.JSON(http.StatusOK, gin.H{
		"feedback_count":   p.Ledger.Count(),
		"service_types":    types,
		"states":           states,
		"pending_requests": p.Protocol.PendingRequests(),
		"event_conns":      p.Hub.ConnCount(),
		"admin":            p.Auth.Admin(),
		"managers":         p.Auth.Managers(),
	})
}

package services

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/aggregate"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/auth"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/config"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/events"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/ledger"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/reveal"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/server"
)

// Platform 反馈平台主结构体
// 账本拥有反馈记录与密文存储，累加器拥有聚合，协议拥有解密请求与明文快照；
// 任何实体的变更都只经过拥有它的组件API
type Platform struct {
	// 反馈账本
	Ledger *ledger.Ledger

	// 聚合累加器
	Accumulator *aggregate.Accumulator

	// 加密分析视图
	Analytics *aggregate.Analytics

	// 揭示协议
	Protocol *reveal.Protocol

	// 授权管理
	Auth *auth.Manager

	// 事件中心
	Hub *events.Hub

	// 同态运算引擎
	Engine *fhe.Engine

	// HTTP服务器
	HTTPServer *server.HTTPServer

	cfg *config.Config
}

// NewPlatform 创建新的反馈平台实例
func NewPlatform(cfg *config.Config, engine *fhe.Engine, client reveal.OracleClient, oracleAddr common.Address) *Platform {
	hub := events.NewHub()
	led := ledger.NewLedger()
	authz := auth.NewManager(cfg.AdminID)

	score := aggregate.ScoreParams{
		RatingWeight:    cfg.RatingWeight,
		BaseScore:       cfg.BaseScore,
		ResponseDivisor: cfg.ResponseDivisor,
	}
	acc := aggregate.NewAccumulator(engine, led, hub, score, cfg.MaxCount)
	analytics := aggregate.NewAnalytics(engine, acc, score)
	protocol := reveal.NewProtocol(acc, authz, led.Store(), client, oracleAddr, hub)

	httpServer := server.NewHTTPServer(cfg.PlatformPort)

	p := &Platform{
		Ledger:      led,
		Accumulator: acc,
		Analytics:   analytics,
		Protocol:    protocol,
		Auth:        authz,
		Hub:         hub,
		Engine:      engine,
		HTTPServer:  httpServer,
		cfg:         cfg,
	}

	p.setupRoutes()
	return p
}

// setupRoutes 设置HTTP路由
func (p *Platform) setupRoutes() {
	router := p.HTTPServer.GetRouter()

	// 反馈提交与查询
	router.POST("/feedback", p.submitFeedbackHandler)
	router.GET("/feedback/citizen/:citizen", p.citizenFeedbackHandler)

	// 服务类型注册表
	router.GET("/services", p.listServicesHandler)
	router.POST("/services", p.registerServiceHandler)

	// 聚合状态与揭示
	router.GET("/aggregate/:type/status", p.aggregateStatusHandler)
	router.GET("/aggregate/:type/decrypted", p.decryptedHandler)
	router.POST("/reveal/request", p.requestRevealHandler)
	router.POST("/reveal/complete", p.completeRevealHandler)

	// 加密分析视图
	router.GET("/analytics/priority", p.priorityHandler)
	router.GET("/analytics/efficiency/:type", p.efficiencyHandler)
	router.GET("/analytics/trust", p.trustHandler)
	router.GET("/analytics/degradation/:type", p.degradationHandler)

	// 授权
	router.POST("/auth/grant", p.grantManagerHandler)

	// 事件订阅与状态
	router.GET("/events/ws", p.eventsHandler)
	router.GET("/status", p.statusHandler)
}

// Start 启动平台
func (p *Platform) Start() error {
	fmt.Printf("反馈平台启动中...\n")
	return p.HTTPServer.Start()
}

// SubmitFeedback 提交加密反馈并计入聚合
// 控制流: 账本存储记录 → 事件 → 累加器同态更新聚合
func (p *Platform) SubmitFeedback(citizen, serviceType string, encST, encRating, encRT *fhe.Ciphertext, encComment []byte) (uint64, error) {
	if !p.Accumulator.IsRegistered(serviceType) {
		return 0, fmt.Errorf("%w: %s", aggregate.ErrUnknownServiceType, serviceType)
	}

	id, err := p.Ledger.Submit(citizen, serviceType, encST, encRating, encRT, encComment)
	if err != nil {
		return 0, err
	}

	p.Hub.Publish(events.Event{
		Type:        events.TypeFeedbackSubmitted,
		FeedbackID:  id,
		ServiceType: serviceType,
	})

	if err := p.Accumulator.Update(serviceType, id); err != nil {
		return id, fmt.Errorf("反馈 #%d 聚合更新失败: %w", id, err)
	}
	return id, nil
}

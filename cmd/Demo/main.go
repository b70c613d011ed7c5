// 单进程端到端演示
// 提交加密反馈 → 同态聚合 → 请求揭示 → 预言机解密并签名 → 验证证明并提交明文快照
package main

import (
	"fmt"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/oracle"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/config"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/services"
)

func main() {
	cfg := config.Load()

	fmt.Println("========== 初始化 ==========")
	profile, err := fhe.NewProfile()
	if err != nil {
		panic(err)
	}
	o, err := oracle.New(profile)
	if err != nil {
		panic(err)
	}

	// 进程内模式：预言机直接充当刷新服务与解密出口
	engine := fhe.NewEngine(profile, o.PublicKey(), o.RelinKey(), o)
	client := oracle.NewInProcess(o)

	platform := services.NewPlatform(cfg, engine, client, o.Address())
	client.BindCompletion(func(requestID string, values []int64, proof []byte) error {
		_, err := platform.Protocol.CompleteReveal(requestID, values, proof)
		return err
	})

	const serviceType = "municipal"
	if err := platform.Accumulator.RegisterServiceType(serviceType); err != nil {
		panic(err)
	}

	// 管理员授予揭示能力
	const manager = "alice"
	if err := platform.Auth.GrantManager(cfg.AdminID, manager); err != nil {
		panic(err)
	}

	fmt.Println("\n========== 提交加密反馈 ==========")
	ratings := []float64{5, 3, 4}
	responseTimes := []float64{10, 30, 20}
	for i := range ratings {
		encST, err := engine.Encrypt(1)
		if err != nil {
			panic(err)
		}
		encRating, err := engine.Encrypt(ratings[i])
		if err != nil {
			panic(err)
		}
		encRT, err := engine.Encrypt(responseTimes[i])
		if err != nil {
			panic(err)
		}

		citizen := fmt.Sprintf("citizen-%d", i+1)
		id, err := platform.SubmitFeedback(citizen, serviceType, encST, encRating, encRT, []byte("FHE-comment"))
		if err != nil {
			panic(err)
		}
		fmt.Printf("反馈 #%d: 评分=%.0f 响应时间=%.0f\n", id, ratings[i], responseTimes[i])
	}

	fmt.Println("\n========== 请求揭示 ==========")
	requestID, err := platform.Protocol.RequestReveal(manager, serviceType)
	if err != nil {
		panic(err)
	}
	fmt.Printf("解密请求: %s\n", requestID)

	snap, err := platform.Protocol.Decrypted(serviceType)
	if err != nil {
		panic(err)
	}

	fmt.Println("\n========== 揭示结果 ==========")
	fmt.Printf("服务类型:     %s\n", snap.ServiceType)
	fmt.Printf("反馈条数:     %d\n", snap.Count)
	fmt.Printf("平均评分:     %.2f\n", snap.AvgRating)
	fmt.Printf("平均响应时间: %.2f\n", snap.AvgResponseTime)
	fmt.Printf("改进分数:     %d\n", snap.ImprovementScore)

	fmt.Println("\n========== 加密分析视图 ==========")
	eff, err := platform.Analytics.EfficiencyIndex(serviceType)
	if err != nil {
		panic(err)
	}
	effVal, err := o.DecryptValue(eff.CT)
	if err != nil {
		panic(err)
	}
	fmt.Printf("效率指数(解密后): %.4f\n", effVal)

	fmt.Println("\n演示完成")
}

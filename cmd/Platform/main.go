package main

import (
	"fmt"
	"time"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/oracle"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/config"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/services"
)

func main() {
	cfg := config.Load()

	client := oracle.NewClient(cfg.OracleURL, cfg.PlatformURL+"/reveal/complete")

	// 从预言机获取参数与公钥材料（预言机可能尚未就绪，重试）
	var fetched *oracle.FetchedParams
	var err error
	for i := 0; i < 10; i++ {
		fetched, err = client.FetchParams()
		if err == nil {
			break
		}
		fmt.Printf("等待预言机就绪 (%d/10): %v\n", i+1, err)
		time.Sleep(3 * time.Second)
	}
	if err != nil {
		panic(fmt.Sprintf("无法连接预言机: %v", err))
	}
	fmt.Printf("预言机签名地址: %s\n", fetched.OracleAddress.Hex())

	refresher := oracle.NewRefreshClient(cfg.OracleURL)
	engine := fhe.NewEngine(fetched.Profile, fetched.PublicKey, fetched.RelinKey, refresher)

	platform := services.NewPlatform(cfg, engine, client, fetched.OracleAddress)

	// 启动时注册配置的服务类型
	for _, t := range cfg.ServiceTypes {
		if err := platform.Accumulator.RegisterServiceType(t); err != nil {
			panic(err)
		}
	}

	if err := platform.Start(); err != nil {
		panic(err)
	}
}

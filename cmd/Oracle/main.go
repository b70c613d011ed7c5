package main

import (
	"fmt"

	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/oracle"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/platform/config"
)

func main() {
	cfg := config.Load()

	fmt.Println("初始化CKKS参数...")
	profile, err := fhe.NewProfile()
	if err != nil {
		panic(err)
	}

	o, err := oracle.New(profile)
	if err != nil {
		panic(err)
	}

	svc := oracle.NewService(o, cfg.OraclePort)
	if err := svc.Start(); err != nil {
		panic(err)
	}
}

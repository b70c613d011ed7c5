// 测试辅助函数
// 参数与密钥生成开销大，各包的测试通过NewEnv共享同一套构造逻辑
package test

import (
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/fhe"
	"github.com/TylerMcfarland5207JudyMueller/ServiceLoopFHE/pkg/core/oracle"
)

// NewEnv 构造测试环境：参数、预言机（兼任刷新服务）、引擎
func NewEnv() (*fhe.Engine, *oracle.Oracle, error) {
	profile, err := fhe.NewProfile()
	if err != nil {
		return nil, nil, err
	}
	o, err := oracle.New(profile)
	if err != nil {
		return nil, nil, err
	}
	engine := fhe.NewEngine(profile, o.PublicKey(), o.RelinKey(), o)
	return engine, o, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config 平台配置
// 改进分数常数可配置（公式形状为兼容性保留）
type Config struct {
	PlatformPort string
	OraclePort   string
	OracleURL    string
	PlatformURL  string

	// 管理员身份，初始化后不可变
	AdminID string

	// 改进分数常数
	RatingWeight    float64
	BaseScore       float64
	ResponseDivisor float64

	// 除法归一化的分母上界（count最大取值）
	MaxCount float64

	// 启动时注册的服务类型
	ServiceTypes []string
}

// Load 从环境变量加载配置（.env文件存在时先载入）
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		fmt.Println("[配置] 已载入 .env 文件")
	}

	return &Config{
		PlatformPort:    getEnv("PLATFORM_PORT", "8080"),
		OraclePort:      getEnv("ORACLE_PORT", "8090"),
		OracleURL:       getEnv("ORACLE_URL", "http://127.0.0.1:8090"),
		PlatformURL:     getEnv("PLATFORM_URL", "http://127.0.0.1:8080"),
		AdminID:         getEnv("ADMIN_ID", "admin"),
		RatingWeight:    getEnvFloat("SCORE_RATING_WEIGHT", 20),
		BaseScore:       getEnvFloat("SCORE_BASE", 100),
		ResponseDivisor: getEnvFloat("SCORE_RESPONSE_DIVISOR", 10),
		MaxCount:        getEnvFloat("MAX_COUNT", 1024),
		ServiceTypes:    getEnvList("SERVICE_TYPES", "municipal,transport,health,education,sanitation"),
	}
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

// =============================================================================
// 📦 mediaflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Providers:    DefaultProvidersConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Relocation:   DefaultRelocationConfig(),
		Proxy:        DefaultProxyConfig(),
		Storage:      DefaultStorageConfig(),
		Redis:        DefaultRedisConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    0,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultProvidersConfig 返回默认厂商配置（凭证需自行填写）
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Vidu:     ProviderConfig{BaseURL: "https://api.vidu.com", Model: "viduq1"},
		Kling:    ProviderConfig{BaseURL: "https://api-beijing.klingai.com", Model: "kling-v2-1"},
		Seedance: ProviderConfig{BaseURL: "https://ark.cn-beijing.volces.com/api/v3", Model: "doubao-seedance-1-0-pro-250528"},
		Runway:   ProviderConfig{BaseURL: "https://api.dev.runwayml.com", Model: "gen4_turbo"},
	}
}

// DefaultOrchestratorConfig 返回默认编排配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		SubmitTimeout: 5 * time.Minute,
		PollTimeout:   30 * time.Second,
	}
}

// DefaultRelocationConfig 返回默认重定位配置
func DefaultRelocationConfig() RelocationConfig {
	return RelocationConfig{
		Mode:         RelocationModeReject,
		Cache:        CacheBackendMemory,
		KeyPrefix:    "mediaflow:relocation:",
		CacheTTL:     30 * 24 * time.Hour,
		ClaimTTL:     10 * time.Minute,
		ClaimWait:    5 * time.Second,
		FetchTimeout: 10 * time.Minute,
	}
}

// DefaultProxyConfig 返回默认代理配置
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		Enabled:             true,
		DefaultCacheControl: "public, max-age=86400",
		MaxRedirects:        5,
		MaxBufferBytes:      64 << 20,
		DialTimeout:         10 * time.Second,
	}
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Driver:          StorageDriverMemory,
		Region:          "us-east-1",
		Timeout:         10 * time.Minute,
		PresignMaxBytes: 20 << 20,
		PresignTTL:      15 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "mediaflow",
		SampleRate:   0.1,
	}
}

package video

import "time"

// ViduConfig 配置 Vidu 视频生成服务.
type ViduConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"` // viduq1, vidu2.0
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// KlingConfig 配置可灵视频生成服务（AK/SK 签发 JWT）.
type KlingConfig struct {
	AccessKey string        `json:"access_key" yaml:"access_key"`
	SecretKey string        `json:"secret_key" yaml:"secret_key"`
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	Model     string        `json:"model,omitempty" yaml:"model,omitempty"` // kling-v2-1, kling-video-o1
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// SeedanceConfig 配置火山方舟 Seedance 视频生成服务.
type SeedanceConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"` // doubao-seedance-1-0-pro-250528
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// RunwayConfig 配置了 Runway ML 视频生成提供者.
type RunwayConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"` // gen4_turbo, gen3a_turbo
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// defaultClientTimeout bounds a single vendor exchange when the caller's
// context carries no deadline.
const defaultClientTimeout = 6 * time.Minute

// DefaultViduConfig 返回默认 Vidu 配置.
func DefaultViduConfig() ViduConfig {
	return ViduConfig{
		BaseURL: "https://api.vidu.com",
		Model:   "viduq1",
		Timeout: defaultClientTimeout,
	}
}

// DefaultKlingConfig 返回默认可灵配置.
func DefaultKlingConfig() KlingConfig {
	return KlingConfig{
		BaseURL: "https://api-beijing.klingai.com",
		Model:   "kling-v2-1",
		Timeout: defaultClientTimeout,
	}
}

// DefaultSeedanceConfig 返回默认 Seedance 配置.
func DefaultSeedanceConfig() SeedanceConfig {
	return SeedanceConfig{
		BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
		Model:   "doubao-seedance-1-0-pro-250528",
		Timeout: defaultClientTimeout,
	}
}

// DefaultRunwayConfig 返回默认 Runway 配置.
func DefaultRunwayConfig() RunwayConfig {
	return RunwayConfig{
		BaseURL: "https://api.dev.runwayml.com",
		Model:   "gen4_turbo",
		Timeout: defaultClientTimeout,
	}
}

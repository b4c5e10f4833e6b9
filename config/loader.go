// =============================================================================
// 📦 mediaflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("MEDIAFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AllowedProxyHostsEnv 是不带前缀的代理白名单环境变量（逗号分隔）
const AllowedProxyHostsEnv = "ALLOWED_PROXY_HOSTS"

// 重定位模式
const (
	RelocationModeReject      = "reject"
	RelocationModePassthrough = "passthrough"
)

// 存储驱动
const (
	StorageDriverS3     = "s3"
	StorageDriverGCS    = "gcs"
	StorageDriverMemory = "memory"
)

// 重定位缓存后端
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 mediaflow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Providers 视频厂商配置
	Providers ProvidersConfig `yaml:"providers" env:"PROVIDERS"`

	// Orchestrator 任务编排配置
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Relocation 资源重定位配置
	Relocation RelocationConfig `yaml:"relocation" env:"RELOCATION"`

	// Proxy 流式代理配置
	Proxy ProxyConfig `yaml:"proxy" env:"PROXY"`

	// Storage 对象存储配置
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（0 表示不限制，代理长视频流时需要）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 允许的 CORS 来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// API Key 列表，为空时关闭认证
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 是否允许通过 query 参数传递 API Key（<video> 标签无法设置请求头）
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// 每个 IP 每秒请求数
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// ProviderConfig 单个视频厂商配置
type ProviderConfig struct {
	// API Key（vidu / seedance / runway）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Access Key（kling）
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	// Secret Key（kling）
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
}

// Configured 判断厂商凭证是否齐全
func (p ProviderConfig) Configured() bool {
	return p.APIKey != "" || (p.AccessKey != "" && p.SecretKey != "")
}

// ProvidersConfig 视频厂商集合
type ProvidersConfig struct {
	Vidu     ProviderConfig `yaml:"vidu" env:"VIDU"`
	Kling    ProviderConfig `yaml:"kling" env:"KLING"`
	Seedance ProviderConfig `yaml:"seedance" env:"SEEDANCE"`
	Runway   ProviderConfig `yaml:"runway" env:"RUNWAY"`
}

// OrchestratorConfig 任务编排配置
type OrchestratorConfig struct {
	// 提交超时（分钟级）
	SubmitTimeout time.Duration `yaml:"submit_timeout" env:"SUBMIT_TIMEOUT"`
	// 轮询超时（十秒级）
	PollTimeout time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT"`
}

// RelocationConfig 资源重定位配置
type RelocationConfig struct {
	// 非白名单主机处理方式: reject, passthrough
	Mode string `yaml:"mode" env:"MODE"`
	// 缓存后端: memory, redis
	Cache string `yaml:"cache" env:"CACHE"`
	// Redis key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 已完成记录保留时长（redis）
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// 跨进程占用锁时长
	ClaimTTL time.Duration `yaml:"claim_ttl" env:"CLAIM_TTL"`
	// 未抢到占用锁时等待对方完成的时长
	ClaimWait time.Duration `yaml:"claim_wait" env:"CLAIM_WAIT"`
	// 下载 + 上传整体超时
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	// 额外默认白名单（厂商资源域名）
	DefaultHosts []string `yaml:"default_hosts" env:"DEFAULT_HOSTS"`
}

// ProxyConfig 流式代理配置
type ProxyConfig struct {
	// 是否启用代理端点
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 允许的上游主机（另外合并 ALLOWED_PROXY_HOSTS）
	AllowedHosts []string `yaml:"allowed_hosts" env:"ALLOWED_HOSTS"`
	// 2xx 且上游未设置时的默认 Cache-Control
	DefaultCacheControl string `yaml:"default_cache_control" env:"DEFAULT_CACHE_CONTROL"`
	// 最大重定向跳数
	MaxRedirects int `yaml:"max_redirects" env:"MAX_REDIRECTS"`
	// 无法 flush 时的缓冲上限
	MaxBufferBytes int64 `yaml:"max_buffer_bytes" env:"MAX_BUFFER_BYTES"`
	// 建立上游连接的超时（不限制流式传输时长）
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// StorageConfig 对象存储配置
type StorageConfig struct {
	// 驱动: s3, gcs, memory
	Driver string `yaml:"driver" env:"DRIVER"`
	// 桶名
	Bucket string `yaml:"bucket" env:"BUCKET"`
	// 区域（s3）
	Region string `yaml:"region" env:"REGION"`
	// 自定义端点（R2 / MinIO 等 S3 兼容服务）
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// 访问密钥
	AccessKeyID string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	// 访问密钥 Secret
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	// 使用 path-style 地址
	UsePathStyle bool `yaml:"use_path_style" env:"USE_PATH_STYLE"`
	// GCS 服务账号 JSON
	CredentialsJSON string `yaml:"credentials_json" env:"CREDENTIALS_JSON"`
	// 公网访问基础 URL，例如 https://cdn.example.com
	PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	// 单次写入超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 预签名上传最大文件大小
	PresignMaxBytes int64 `yaml:"presign_max_bytes" env:"PRESIGN_MAX_BYTES"`
	// 预签名有效期
	PresignTTL time.Duration `yaml:"presign_ttl" env:"PRESIGN_TTL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MEDIAFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 合并不带前缀的代理白名单
	cfg.Proxy.AllowedHosts = append(cfg.Proxy.AllowedHosts, splitList(os.Getenv(AllowedProxyHostsEnv))...)

	// 5. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(splitList(value)))
		}
	}

	return nil
}

// splitList 拆分逗号分隔列表，丢弃空项
func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	// 验证编排超时
	if c.Orchestrator.SubmitTimeout <= 0 || c.Orchestrator.PollTimeout <= 0 {
		errs = append(errs, "orchestrator timeouts must be positive")
	}

	// 验证重定位配置
	switch c.Relocation.Mode {
	case RelocationModeReject, RelocationModePassthrough:
	default:
		errs = append(errs, fmt.Sprintf("relocation.mode must be %q or %q", RelocationModeReject, RelocationModePassthrough))
	}
	switch c.Relocation.Cache {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		errs = append(errs, "relocation.cache must be memory or redis")
	}

	// 验证代理配置
	if c.Proxy.MaxRedirects < 0 {
		errs = append(errs, "proxy.max_redirects must not be negative")
	}

	// 验证存储配置
	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverS3, StorageDriverGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, "storage.bucket is required")
		}
	default:
		errs = append(errs, "storage.driver must be s3, gcs or memory")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

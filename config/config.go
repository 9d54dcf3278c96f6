// Package config 提供配置加载功能
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"blog_writer_agent/generator"
)

const envPrefix = "BLOGGEN"

// 支持的模型提供方
const (
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Editor modes.
const (
	EditorLocal  = "local"
	EditorRemote = "remote"
)

// Config 应用配置
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Writer  LLMConfig     `mapstructure:"writer"`
	Editor  EditorConfig  `mapstructure:"editor"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	LLM     CallConfig    `mapstructure:"llm"`
	Loop    LoopConfig    `mapstructure:"loop"`
	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	MaxConcurrentRuns int64         `mapstructure:"max_concurrent_runs"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
}

// LLMConfig 模型配置
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// EditorConfig 编辑角色配置；未填写的模型字段沿用 writer 的设置。
type EditorConfig struct {
	LLMConfig `mapstructure:",squash"`
	Mode      string `mapstructure:"mode"`
	RemoteURL string `mapstructure:"remote_url"`
}

// HTTPConfig 共享 HTTP 客户端超时
type HTTPConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

// CallConfig applies to every model call.
type CallConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	MaxTokens         int64         `mapstructure:"max_tokens"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// LoopConfig 迭代循环配置
type LoopConfig struct {
	MaxIterations   int           `mapstructure:"max_iterations"`
	SentenceCeiling int           `mapstructure:"sentence_ceiling"`
	UsageMode       string        `mapstructure:"usage_mode"`
	StripMarkup     bool          `mapstructure:"strip_markup"`
	StrictSentinels bool          `mapstructure:"strict_sentinels"`
	// CallTimeout 单次 writer/editor 调用的总时限（含 SDK 重试）
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
}

// Load 加载配置
// 按优先级：默认值 -> 配置文件（可选）-> BLOGGEN_* 环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
				v.SetConfigType(ext)
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyFallbacks()
	return &cfg, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_concurrent_runs", 4)
	v.SetDefault("server.run_timeout", "5m")

	v.SetDefault("writer.provider", ProviderOpenAI)
	v.SetDefault("writer.model", "")
	v.SetDefault("writer.api_key", "")
	v.SetDefault("writer.base_url", "")

	v.SetDefault("editor.mode", EditorLocal)
	v.SetDefault("editor.provider", "")
	v.SetDefault("editor.model", "")
	v.SetDefault("editor.api_key", "")
	v.SetDefault("editor.base_url", "")
	v.SetDefault("editor.remote_url", "")

	v.SetDefault("http.connect_timeout", "10s")
	v.SetDefault("http.read_timeout", "30s")

	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.request_timeout", "60s")
	v.SetDefault("llm.requests_per_second", 0)
	v.SetDefault("llm.burst", 1)

	v.SetDefault("loop.max_iterations", generator.DefaultMaxIterations)
	v.SetDefault("loop.sentence_ceiling", generator.DefaultSentenceCeiling)
	v.SetDefault("loop.usage_mode", string(generator.UsageEstimate))
	v.SetDefault("loop.strip_markup", true)
	v.SetDefault("loop.call_timeout", "3m")
	v.SetDefault("loop.strict_sentinels", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "blog-writer-agent")
}

// applyFallbacks 补全未显式配置的字段：editor 沿用 writer，API key 读取厂商环境变量。
func (c *Config) applyFallbacks() {
	c.Writer.APIKey = resolveKey(c.Writer)

	if c.Editor.Provider == "" {
		c.Editor.Provider = c.Writer.Provider
	}
	if c.Editor.Model == "" {
		c.Editor.Model = c.Writer.Model
	}
	if c.Editor.BaseURL == "" && c.Editor.Provider == c.Writer.Provider {
		c.Editor.BaseURL = c.Writer.BaseURL
	}
	if c.Editor.APIKey == "" && c.Editor.Provider == c.Writer.Provider {
		c.Editor.APIKey = c.Writer.APIKey
	}
	c.Editor.APIKey = resolveKey(c.Editor.LLMConfig)
	c.Editor.Mode = strings.ToLower(strings.TrimSpace(c.Editor.Mode))
	if c.Editor.Mode == "" {
		c.Editor.Mode = EditorLocal
	}
}

func resolveKey(l LLMConfig) string {
	if l.APIKey != "" {
		return l.APIKey
	}
	switch l.Provider {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, validateLLM("writer", c.Writer))

	switch c.Editor.Mode {
	case EditorLocal:
		errs = append(errs, validateLLM("editor", c.Editor.LLMConfig))
	case EditorRemote:
		if strings.TrimSpace(c.Editor.RemoteURL) == "" {
			errs = append(errs, errors.New("editor.remote_url is required when editor.mode is remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("editor.mode %q not supported (want local or remote)", c.Editor.Mode))
	}

	if c.Server.MaxConcurrentRuns <= 0 {
		errs = append(errs, fmt.Errorf("server.max_concurrent_runs must be positive, got %d", c.Server.MaxConcurrentRuns))
	}
	if c.Loop.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("loop.max_iterations must be at least 1, got %d", c.Loop.MaxIterations))
	}
	if c.Loop.SentenceCeiling < 1 {
		errs = append(errs, fmt.Errorf("loop.sentence_ceiling must be at least 1, got %d", c.Loop.SentenceCeiling))
	}
	if c.Loop.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("loop.call_timeout must be positive, got %s", c.Loop.CallTimeout))
	}
	if _, err := generator.ParseUsageMode(c.Loop.UsageMode); err != nil {
		errs = append(errs, err)
	}
	if c.LLM.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("llm.requests_per_second cannot be negative"))
	}
	if c.LLM.RequestsPerSecond > 0 && c.LLM.Burst < 1 {
		errs = append(errs, fmt.Errorf("llm.burst must be at least 1 when rate limiting is on"))
	}
	return errors.Join(errs...)
}

func validateLLM(role string, l LLMConfig) error {
	switch l.Provider {
	case ProviderMock:
		return nil
	case ProviderOpenAI, ProviderAnthropic:
	case ProviderDeepSeek:
		// DeepSeek 提供 OpenAI 兼容接口，需填写 base_url
		if l.BaseURL == "" {
			return fmt.Errorf("%s: provider deepseek requires base_url (OpenAI-compatible endpoint)", role)
		}
	case "":
		return fmt.Errorf("%s.provider is required", role)
	default:
		return fmt.Errorf("%s: llm provider %s not supported", role, l.Provider)
	}
	if l.Model == "" {
		return fmt.Errorf("%s.model is required", role)
	}
	if l.APIKey == "" {
		return fmt.Errorf("%s.api_key is required for provider %s", role, l.Provider)
	}
	return nil
}

// WriterSettings returns the call settings for the writer model.
func (c *Config) WriterSettings() *generator.LLMSettings {
	return c.settings(c.Writer)
}

// EditorSettings returns the call settings for the local editor model.
func (c *Config) EditorSettings() *generator.LLMSettings {
	return c.settings(c.Editor.LLMConfig)
}

func (c *Config) settings(l LLMConfig) *generator.LLMSettings {
	return &generator.LLMSettings{
		Provider:       l.Provider,
		Model:          l.Model,
		APIKey:         l.APIKey,
		BaseURL:        l.BaseURL,
		MaxTokens:      c.LLM.MaxTokens,
		MaxRetries:     c.LLM.MaxRetries,
		RequestTimeout: c.LLM.RequestTimeout,
	}
}

// LoopOptions maps the loop section onto generator.Options.
func (c *Config) LoopOptions() generator.Options {
	return generator.Options{
		MaxIterations:   c.Loop.MaxIterations,
		SentenceCeiling: c.Loop.SentenceCeiling,
		UsageMode:       generator.UsageMode(c.Loop.UsageMode),
		CallTimeout:     c.Loop.CallTimeout,
	}
}

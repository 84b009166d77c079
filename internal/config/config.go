package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// ErrCodeNotFound 表示显式指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

// PathEnvVar 允许通过环境变量指定配置文件路径。
const PathEnvVar = "CONFIG_PATH"

// DefaultPaths 是未显式指定时依次尝试的配置文件（均为可选）。
// YAML 解析器同时接受 JSON，因此 ratingmeta.json 也走同一个 parser。
var DefaultPaths = []string{"ratingmeta.yaml", "ratingmeta.yml", "ratingmeta.json"}

const (
	DefaultCinemetaBaseURL    = "https://v3-cinemeta.strem.io"
	DefaultCinemetaCatalogURL = "https://cinemeta-catalogs.strem.io"
	DefaultProxyListURL       = "https://github.com/zloi-user/hideip.me/raw/main/https.txt"
)

// Config 是合并“默认值 -> 配置文件 -> 环境变量”之后的最终配置。
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Cinemeta CinemetaConfig `koanf:"cinemeta"`
	Cache    CacheConfig    `koanf:"cache"`
	Database DatabaseConfig `koanf:"database"`
	Network  NetworkConfig  `koanf:"network"`
	Ratings  RatingsConfig  `koanf:"ratings"`
	Catalog  CatalogConfig  `koanf:"catalog"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// Addr 返回 http.Server 监听地址。
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type CinemetaConfig struct {
	BaseURL    string `koanf:"base_url"`
	CatalogURL string `koanf:"catalog_url"`
}

// CacheConfig：RedisURL 与 Dir 二选一（Redis 优先）；都为空时缓存关闭。
type CacheConfig struct {
	RedisURL   string        `koanf:"redis_url"`
	Dir        string        `koanf:"dir"`
	Memory     bool          `koanf:"memory"`
	RatingTTL  time.Duration `koanf:"rating_ttl"`
	CatalogTTL time.Duration `koanf:"catalog_ttl"`
}

// Enabled 表示是否配置了任何缓存后端。
func (c CacheConfig) Enabled() bool {
	return strings.TrimSpace(c.RedisURL) != "" || strings.TrimSpace(c.Dir) != "" || c.Memory
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type NetworkConfig struct {
	AttemptTimeout   time.Duration `koanf:"attempt_timeout"`
	RetryMax         int           `koanf:"retry_max"`
	UseProxy         bool          `koanf:"use_proxy"`
	ProxyListURL     string        `koanf:"proxy_list_url"`
	ProxyListLimit   int           `koanf:"proxy_list_limit"`
	ProxyRefresh     time.Duration `koanf:"proxy_refresh"`
	HostRatePerSec   float64       `koanf:"host_rate_per_sec"`
	PosterMaxBytes   int64         `koanf:"poster_max_bytes"`
	BreakerFailures  int           `koanf:"breaker_failures"`
	BreakerOpenDelay time.Duration `koanf:"breaker_open_delay"`
}

// RatingsConfig.Providers 是默认 allow-list（请求未指定时使用），"all" 表示不过滤。
type RatingsConfig struct {
	Providers []string `koanf:"providers"`
}

type CatalogConfig struct {
	Concurrency int `koanf:"concurrency"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Path == "" {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Defaults 返回内置默认值（第一层）。
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           3000,
			RequestTimeout: 60 * time.Second,
		},
		Cinemeta: CinemetaConfig{
			BaseURL:    DefaultCinemetaBaseURL,
			CatalogURL: DefaultCinemetaCatalogURL,
		},
		Cache: CacheConfig{
			RatingTTL:  24 * time.Hour,
			CatalogTTL: 6 * time.Hour,
		},
		Network: NetworkConfig{
			AttemptTimeout:   2 * time.Second,
			RetryMax:         2,
			ProxyListURL:     DefaultProxyListURL,
			ProxyListLimit:   100,
			ProxyRefresh:     time.Hour,
			HostRatePerSec:   5,
			PosterMaxBytes:   10 << 20,
			BreakerFailures:  5,
			BreakerOpenDelay: time.Minute,
		},
		Ratings: RatingsConfig{Providers: []string{"all"}},
		Catalog: CatalogConfig{Concurrency: 8},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load 读取配置。
//
// 发现规则（固定）：
// 1) path 非空：必须存在
// 2) path 为空：CONFIG_PATH 环境变量（必须存在）> DefaultPaths 中第一个存在的文件（可选）
//
// 覆盖优先级：环境变量 > 配置文件 > 默认值。
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, &Error{Code: ErrCodeInvalid, Err: fmt.Errorf("加载默认值失败：%w", err)}
	}

	cfgPath, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}
	if cfgPath != "" {
		if err := k.Load(file.Provider(cfgPath), yaml.Parser()); err != nil {
			return Config{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return Config{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("加载环境变量失败：%w", err)}
	}
	if err := splitCommaFields(k); err != nil {
		return Config{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	explicit := strings.TrimSpace(path)
	if explicit == "" {
		explicit = strings.TrimSpace(os.Getenv(PathEnvVar))
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", &Error{Code: ErrCodeNotFound, Path: explicit, Err: os.ErrNotExist}
			}
			return "", &Error{Code: ErrCodeInvalid, Path: explicit, Err: err}
		}
		return explicit, nil
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// envNames 保留原有部署使用的环境变量名。未列出的环境变量被忽略。
var envNames = map[string]string{
	"HOST":                 "server.host",
	"PORT":                 "server.port",
	"REQUEST_TIMEOUT":      "server.request_timeout",
	"CINEMETA_BASE_URL":    "cinemeta.base_url",
	"CINEMETA_CATALOG_URL": "cinemeta.catalog_url",
	"REDIS_URL":            "cache.redis_url",
	"CACHE_DIR":            "cache.dir",
	"CACHE_MEMORY":         "cache.memory",
	"RATING_TTL":           "cache.rating_ttl",
	"CATALOG_TTL":          "cache.catalog_ttl",
	"DATABASE_URL":         "database.url",
	"NETWORK_TIMEOUT":      "network.attempt_timeout",
	"NETWORK_RETRY_MAX":    "network.retry_max",
	"USE_PROXY":            "network.use_proxy",
	"PROXY_URL":            "network.proxy_list_url",
	"PROXY_LIST_LIMIT":     "network.proxy_list_limit",
	"DEFAULT_PROVIDERS":    "ratings.providers",
	"CATALOG_CONCURRENCY":  "catalog.concurrency",
	"LOG_LEVEL":            "log.level",
	"LOG_FORMAT":           "log.format",
	"LOG_FILE":             "log.file",
}

func envKey(name string) string {
	return envNames[strings.ToUpper(name)]
}

var commaFields = []string{"ratings.providers"}

// splitCommaFields 把环境变量中的逗号分隔字符串转换为切片（文件里已是数组的保持不变）。
func splitCommaFields(k *koanf.Koanf) error {
	for _, path := range commaFields {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("设置 %s 失败：%w", path, err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port 超出范围：%d", c.Server.Port)
	}
	for name, raw := range map[string]string{
		"cinemeta.base_url":    c.Cinemeta.BaseURL,
		"cinemeta.catalog_url": c.Cinemeta.CatalogURL,
	} {
		if err := validateHTTPURL(name, raw); err != nil {
			return err
		}
	}
	c.Cinemeta.BaseURL = strings.TrimRight(c.Cinemeta.BaseURL, "/")
	c.Cinemeta.CatalogURL = strings.TrimRight(c.Cinemeta.CatalogURL, "/")

	if r := strings.TrimSpace(c.Cache.RedisURL); r != "" {
		u, err := url.Parse(r)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			return fmt.Errorf("cache.redis_url 必须是 redis:// 或 rediss://：%q", r)
		}
	}
	if c.Cache.RatingTTL <= 0 || c.Cache.CatalogTTL <= 0 {
		return fmt.Errorf("cache TTL 必须为正数")
	}

	if c.Network.AttemptTimeout <= 0 {
		return fmt.Errorf("network.attempt_timeout 必须为正数")
	}
	if c.Network.RetryMax < 0 {
		c.Network.RetryMax = 0
	}
	if c.Network.UseProxy {
		if err := validateHTTPURL("network.proxy_list_url", c.Network.ProxyListURL); err != nil {
			return err
		}
	}
	if c.Network.ProxyListLimit < 1 {
		c.Network.ProxyListLimit = 100
	}

	// 约定：范围 [1, 32]；超出截断。
	if c.Catalog.Concurrency < 1 {
		c.Catalog.Concurrency = 1
	}
	if c.Catalog.Concurrency > 32 {
		c.Catalog.Concurrency = 32
	}

	if len(c.Ratings.Providers) == 0 {
		c.Ratings.Providers = []string{"all"}
	}
	return nil
}

func validateHTTPURL(name, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", name, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", name, raw)
	}
	return nil
}

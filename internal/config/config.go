// Package config 提供配置管理
//
// 配置来源按优先级从低到高：内置默认值、YAML 文件、CLEANBEAR_ 前缀的环境变量。
// 环境变量中的 "__" 表示层级，例如 CLEANBEAR_ROUTING__KAKAO_API_KEY。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "CLEANBEAR_"

// Config 应用配置
type Config struct {
	App      AppConfig      `koanf:"app"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Routing  RoutingConfig  `koanf:"routing"`
	Rules    RulesConfig    `koanf:"rules"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	MQTT     MQTTConfig     `koanf:"mqtt"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	API      APIConfig      `koanf:"api"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name      string `koanf:"name"`
	Env       string `koanf:"env"`
	Port      int    `koanf:"port"`
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"` // json/console
}

// DatabaseConfig 数据库配置，未启用时技师名册只能来自请求
type DatabaseConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Name            string        `koanf:"name"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	AutoMigrate     bool          `koanf:"auto_migrate"` // 启动时创建缺失的表
}

// DSN 返回数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig Redis配置，用于路程缓存
type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	PoolSize int    `koanf:"pool_size"`
}

// Addr 返回Redis地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// 路程服务类型
const (
	ProviderKakao     = "kakao"
	ProviderHaversine = "haversine"
)

// RoutingConfig 路程服务配置
type RoutingConfig struct {
	Provider    string        `koanf:"provider"` // kakao/haversine
	KakaoAPIKey string        `koanf:"kakao_api_key"`
	KakaoURL    string        `koanf:"kakao_url"`
	Timeout     time.Duration `koanf:"timeout"`
	Retries     int           `koanf:"retries"`
	RetryDelay  time.Duration `koanf:"retry_delay"`
	FailMinutes float64       `koanf:"fail_minutes"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`
	AvgSpeedKmh float64       `koanf:"avg_speed_kmh"`
}

// UseKakao 是否调用地图服务
func (c *RoutingConfig) UseKakao() bool {
	return c.Provider == ProviderKakao && c.KakaoAPIKey != ""
}

// RulesConfig 请求未提供时使用的系统规则
type RulesConfig struct {
	WorkStart        string `koanf:"work_start"`
	WorkEnd          string `koanf:"work_end"`
	MaxPreassignDays int    `koanf:"max_preassign_days"`
	DefaultBufferMin int    `koanf:"default_buffer_min"`
}

// SystemRules 转换为系统规则
func (c RulesConfig) SystemRules() model.SystemRules {
	return model.SystemRules{
		WorkStart:        c.WorkStart,
		WorkEnd:          c.WorkEnd,
		MaxPreassignDays: c.MaxPreassignDays,
		DefaultBufferMin: c.DefaultBufferMin,
	}
}

// 候选比较策略
const (
	TieBreakNearest    = "nearest"
	TieBreakRoundRobin = "round_robin"
)

// DispatchConfig 派单引擎配置
type DispatchConfig struct {
	DefaultDurations        map[string]int `koanf:"default_durations"`
	TieBreak                string         `koanf:"tie_break"`
	LoadPenalty             float64        `koanf:"load_penalty"`
	ReserveFlexibleCapacity bool           `koanf:"reserve_flexible_capacity"`
	RosterRefreshInterval   time.Duration  `koanf:"roster_refresh_interval"`
}

// MQTTConfig 结果推送配置
type MQTTConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Broker   string        `koanf:"broker"`
	ClientID string        `koanf:"client_id"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	Topic    string        `koanf:"topic"`
	QoS      byte          `koanf:"qos"`
	Timeout  time.Duration `koanf:"timeout"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// APIConfig API配置
type APIConfig struct {
	RateLimit int           `koanf:"rate_limit"`
	Timeout   time.Duration `koanf:"timeout"`
	Keys      []string      `koanf:"keys"` // 为空时不校验 X-API-Key
	CORS      CORSConfig    `koanf:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	Enabled bool     `koanf:"enabled"`
	Origins []string `koanf:"origins"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:      "cleanbear",
			Env:       "development",
			Port:      8080,
			LogLevel:  "info",
			LogFormat: "console",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "cleanbear",
			User:            "cleanbear",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			PoolSize: 10,
		},
		Routing: RoutingConfig{
			Provider:    ProviderHaversine,
			KakaoURL:    "https://apis-navi.kakaomobility.com/v1/directions",
			Timeout:     10 * time.Second,
			Retries:     2,
			RetryDelay:  500 * time.Millisecond,
			FailMinutes: 9999,
			CacheTTL:    24 * time.Hour,
			AvgSpeedKmh: 30,
		},
		Rules: RulesConfig{
			WorkStart:        "09:00",
			WorkEnd:          "18:00",
			MaxPreassignDays: 3,
			DefaultBufferMin: 30,
		},
		Dispatch: DispatchConfig{
			DefaultDurations: map[string]int{
				"입주청소":  180,
				"이사청소":  180,
				"에어컨청소": 120,
				"청소청소":  150,
			},
			TieBreak:                TieBreakNearest,
			LoadPenalty:             5,
			ReserveFlexibleCapacity: true,
			RosterRefreshInterval:   5 * time.Minute,
		},
		MQTT: MQTTConfig{
			ClientID: "cleanbear",
			Topic:    "cleanbear/assignments",
			QoS:      1,
			Timeout:  5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		API: APIConfig{
			RateLimit: 100,
			Timeout:   60 * time.Second,
			CORS: CORSConfig{
				Enabled: true,
				Origins: []string{"*"},
			},
		},
	}
}

// Load 加载配置；path 为空或文件不存在时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil, fmt.Errorf("不支持的配置格式: %s", ext)
		}
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	// 环境变量覆盖
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("app.port 无效: %d", c.App.Port)
	}
	if err := c.Rules.SystemRules().Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	switch c.Routing.Provider {
	case ProviderKakao, ProviderHaversine:
	default:
		return fmt.Errorf("routing.provider 未知: %s", c.Routing.Provider)
	}
	if c.Routing.Retries < 0 {
		return fmt.Errorf("routing.retries 不能为负数")
	}
	if c.Routing.FailMinutes <= 0 {
		return fmt.Errorf("routing.fail_minutes 必须为正数")
	}
	switch c.Dispatch.TieBreak {
	case TieBreakNearest, TieBreakRoundRobin:
	default:
		return fmt.Errorf("dispatch.tie_break 未知: %s", c.Dispatch.TieBreak)
	}
	for service, d := range c.Dispatch.DefaultDurations {
		if d <= 0 {
			return fmt.Errorf("dispatch.default_durations[%s] 必须为正数", service)
		}
	}
	if c.MQTT.Enabled && (c.MQTT.Broker == "" || c.MQTT.Topic == "") {
		return fmt.Errorf("mqtt 启用时 broker 和 topic 必填")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos 只能是 0/1/2")
	}
	return nil
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	Waitlist   WaitlistConfig   `mapstructure:"waitlist"`
	Matcher    MatcherConfig    `mapstructure:"matcher"`
	ChangeFeed ChangeFeedConfig `mapstructure:"changefeed"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port      int             `mapstructure:"port"`
	BaseURL   string          `mapstructure:"base_url"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// RateLimitConfig 顾客入队接口限流
type RateLimitConfig struct {
	JoinLimit  int           `mapstructure:"join_limit"`
	JoinWindow time.Duration `mapstructure:"join_window"`
}

// DatabaseConfig PostgreSQL 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 连接最大生命周期（分钟）
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 空闲连接最大存活时间（分钟）
}

// DSN 生成 PostgreSQL 连接字符串（gorm 与 pgx 共用）
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig JWT 认证配置
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	PatronTokenTTL time.Duration `mapstructure:"patron_token_ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WaitlistConfig 排队/预订状态机配置
type WaitlistConfig struct {
	ReadyGrace                 time.Duration `mapstructure:"ready_grace"`     // 叫号后到店时限
	SweepInterval              time.Duration `mapstructure:"sweep_interval"`  // 过期扫描周期
	SweepBatchSize             int           `mapstructure:"sweep_batch_size"`
	DefaultMaxExtensionMinutes int           `mapstructure:"default_max_extension_minutes"`
	DefaultWaitMinutes         int           `mapstructure:"default_wait_minutes"`
	DefaultPrepMinutes         int           `mapstructure:"default_prep_minutes"`
	BusyTTL                    time.Duration `mapstructure:"busy_ttl"`
}

// MatcherConfig 桌位匹配配置
type MatcherConfig struct {
	MaxCombinationTables int `mapstructure:"max_combination_tables"`
}

// ChangeFeedConfig 数据变更转发配置
type ChangeFeedConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	PGChannel          string `mapstructure:"pg_channel"`
	RedisChannelPrefix string `mapstructure:"redis_channel_prefix"`
}

// Load 从配置文件与环境变量加载配置
// 优先级：环境变量 > .env > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	// .env 仅用于本地开发，不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("TABLEREADY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时仅依赖默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.rate_limit.join_limit", 10)
	v.SetDefault("server.rate_limit.join_window", "1m")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "tableready")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)
	v.SetDefault("db.conn_max_idle_time", 30)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.access_token_ttl", "12h")
	v.SetDefault("auth.patron_token_ttl", "24h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("waitlist.ready_grace", "5m")
	v.SetDefault("waitlist.sweep_interval", "30s")
	v.SetDefault("waitlist.sweep_batch_size", 200)
	v.SetDefault("waitlist.default_max_extension_minutes", 45)
	v.SetDefault("waitlist.default_wait_minutes", 20)
	v.SetDefault("waitlist.default_prep_minutes", 15)
	v.SetDefault("waitlist.busy_ttl", "30m")

	v.SetDefault("matcher.max_combination_tables", 16)

	v.SetDefault("changefeed.enabled", false)
	v.SetDefault("changefeed.pg_channel", "waitlist_changes")
	v.SetDefault("changefeed.redis_channel_prefix", "venue")
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 不能为空")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 长度不能少于 16 字符")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	if c.Waitlist.ReadyGrace <= 0 {
		return fmt.Errorf("配置校验失败: waitlist.ready_grace 必须大于 0")
	}
	if c.Waitlist.SweepInterval <= 0 {
		return fmt.Errorf("配置校验失败: waitlist.sweep_interval 必须大于 0")
	}
	if c.Matcher.MaxCombinationTables <= 0 || c.Matcher.MaxCombinationTables > 24 {
		return fmt.Errorf("配置校验失败: matcher.max_combination_tables 必须在 1-24 之间")
	}
	return nil
}

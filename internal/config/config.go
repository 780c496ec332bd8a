// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Tutor    TutorConfig    `mapstructure:"tutor"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// JWTConfig 存储 JWT 校验所需的密钥。签发由平台的认证服务负责。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// BackendConfig 描述远端 AI 后端（平台 REST API）。
type BackendConfig struct {
	BaseURL  string          `mapstructure:"base_url"`
	Timeouts BackendTimeouts `mapstructure:"timeouts"`
}

// BackendTimeouts 是各类调用的超时预算。
type BackendTimeouts struct {
	Chat    time.Duration `mapstructure:"chat"`
	Explain time.Duration `mapstructure:"explain"`
	Quiz    time.Duration `mapstructure:"quiz"`
	Status  time.Duration `mapstructure:"status"`
	Profile time.Duration `mapstructure:"profile"`
}

// TutorConfig 控制辅导会话的行为。
type TutorConfig struct {
	HistoryWindow  int           `mapstructure:"history_window"`
	WelcomeMessage string        `mapstructure:"welcome_message"`
	StripMarkers   bool          `mapstructure:"strip_markers"`
	StatusCacheTTL time.Duration `mapstructure:"status_cache_ttl"`
	Quiz           QuizConfig    `mapstructure:"quiz"`
}

// QuizConfig 控制由标记触发的测验生成。
type QuizConfig struct {
	QuestionCount     int    `mapstructure:"question_count"`
	DefaultDifficulty string `mapstructure:"default_difficulty"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。DSN 为空时不记录使用事件。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时关闭事件发布。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// Enabled 判断是否配置了 Kafka。
func (k KafkaConfig) Enabled() bool {
	return strings.TrimSpace(k.Brokers) != ""
}

// BrokerList 将逗号分隔的 brokers 拆分为列表。
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("backend.timeouts.chat", 120*time.Second)
	v.SetDefault("backend.timeouts.explain", 120*time.Second)
	v.SetDefault("backend.timeouts.quiz", 120*time.Second)
	v.SetDefault("backend.timeouts.status", 30*time.Second)
	v.SetDefault("backend.timeouts.profile", 30*time.Second)
	v.SetDefault("tutor.history_window", 10)
	v.SetDefault("tutor.strip_markers", true)
	v.SetDefault("tutor.status_cache_ttl", 30*time.Second)
	v.SetDefault("tutor.quiz.question_count", 5)
	v.SetDefault("tutor.quiz.default_difficulty", "medium")
	v.SetDefault("kafka.topic", "tutor-events")
	v.SetDefault("kafka.group_id", "pai-tutor-go-events")
}

// Load 从指定路径读取 YAML 配置，并叠加 TUTOR_ 前缀的环境变量。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate 检查必须的配置项。
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url cannot be empty")
	}
	if c.Tutor.HistoryWindow <= 0 {
		return errors.New("tutor.history_window must be > 0")
	}
	if c.Tutor.Quiz.QuestionCount <= 0 {
		return errors.New("tutor.quiz.question_count must be > 0")
	}
	t := c.Backend.Timeouts
	if t.Chat <= 0 || t.Explain <= 0 || t.Quiz <= 0 || t.Status <= 0 || t.Profile <= 0 {
		return errors.New("backend.timeouts must all be > 0")
	}
	return nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}
	Conf = *cfg
}

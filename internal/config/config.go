// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 启动时构建一次，之后以指针形式传入各组件，只读使用。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	NLP           ServiceConfig       `mapstructure:"nlp"`
	Sentiment     ServiceConfig       `mapstructure:"sentiment"`
	Messenger     MessengerConfig     `mapstructure:"messenger"`
	Slack         SlackConfig         `mapstructure:"slack"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Answer        AnswerConfig        `mapstructure:"answer"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Timeouts      TimeoutConfig       `mapstructure:"timeouts"`
	Knowledge     KnowledgeConfig     `mapstructure:"knowledge"`
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

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
// 知识库与情感分析记录分别存放在两个索引中。
type ElasticsearchConfig struct {
	Addresses      string `mapstructure:"addresses"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	KnowledgeIndex string `mapstructure:"knowledge_index"`
	SentimentIndex string `mapstructure:"sentiment_index"`
}

// KafkaConfig 存储消息变更事件流的配置。
type KafkaConfig struct {
	Brokers     string        `mapstructure:"brokers"`
	Topic       string        `mapstructure:"topic"`
	GroupID     string        `mapstructure:"group_id"`
	BatchSize   int           `mapstructure:"batch_size"`
	BatchWait   time.Duration `mapstructure:"batch_wait"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// ServiceConfig 描述一个外部 HTTP 服务（词干化、情感分析）。
type ServiceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// MessengerConfig 存储聊天渠道发送接口的配置。
type MessengerConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	AccessToken string `mapstructure:"access_token"`
	PageID      string `mapstructure:"page_id"`
}

// SlackConfig 存储审核频道的配置。webhook 由渠道安装流程预先获得。
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	ChannelID  string `mapstructure:"channel_id"`
}

// JWTConfig 存储运维接口令牌的配置。
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// AnswerConfig 存储自动应答策略。
type AnswerConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	MaxQueryLength      int     `mapstructure:"max_query_length"`
	CandidateSize       int     `mapstructure:"candidate_size"`
	FallbackText        string  `mapstructure:"fallback_text"`
	RejectionText       string  `mapstructure:"rejection_text"`
}

// OrchestratorConfig 存储编排器的并发与重试参数。
type OrchestratorConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	DispatchAttempts int           `mapstructure:"dispatch_attempts"`
	DispatchBackoff  time.Duration `mapstructure:"dispatch_backoff"`
}

// TimeoutConfig 为每一类外部调用设置超时。
type TimeoutConfig struct {
	Stemmer   time.Duration `mapstructure:"stemmer"`
	Search    time.Duration `mapstructure:"search"`
	Sentiment time.Duration `mapstructure:"sentiment"`
	Dispatch  time.Duration `mapstructure:"dispatch"`
	Notify    time.Duration `mapstructure:"notify"`
	Store     time.Duration `mapstructure:"store"`
}

// KnowledgeConfig 描述知识库数据源。
type KnowledgeConfig struct {
	SeedFile string `mapstructure:"seed_file"`
	Bucket   string `mapstructure:"bucket"`
	Object   string `mapstructure:"object"`
}

const (
	DefaultFallbackText  = "Unfortunately I did not understand your request. Could you rephrase your question?"
	DefaultRejectionText = DefaultFallbackText
)

// Load 从指定路径读取 YAML 配置，叠加环境变量与默认值，并完成校验。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	// 允许通过环境变量覆盖敏感配置，例如 MESSENGER_ACCESS_TOKEN
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("elasticsearch.knowledge_index", "knowledgebase")
	v.SetDefault("elasticsearch.sentiment_index", "messages")
	v.SetDefault("kafka.topic", "message-events")
	v.SetDefault("kafka.group_id", "answer-desk-orchestrator")
	v.SetDefault("kafka.batch_size", 10)
	v.SetDefault("kafka.batch_wait", "500ms")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("messenger.base_url", "https://graph.facebook.com/v2.8")
	v.SetDefault("jwt.token_expire_hours", 24)
	v.SetDefault("answer.confidence_threshold", 0.02)
	v.SetDefault("answer.max_query_length", 230)
	v.SetDefault("answer.candidate_size", 5)
	v.SetDefault("answer.fallback_text", DefaultFallbackText)
	v.SetDefault("answer.rejection_text", DefaultRejectionText)
	v.SetDefault("orchestrator.concurrency", 5)
	v.SetDefault("orchestrator.dispatch_attempts", 3)
	v.SetDefault("orchestrator.dispatch_backoff", "200ms")
	v.SetDefault("timeouts.stemmer", "5s")
	v.SetDefault("timeouts.search", "5s")
	v.SetDefault("timeouts.sentiment", "5s")
	v.SetDefault("timeouts.dispatch", "10s")
	v.SetDefault("timeouts.notify", "10s")
	v.SetDefault("timeouts.store", "3s")
	// 密钥类配置没有默认值，注册空值以便环境变量能够覆盖
	v.SetDefault("messenger.access_token", "")
	v.SetDefault("slack.webhook_url", "")
	v.SetDefault("jwt.secret", "")
}

// Validate 检查会影响状态机行为的关键参数。
func (c *Config) Validate() error {
	if c.Answer.ConfidenceThreshold < 0 {
		return errors.New("answer.confidence_threshold 不能为负数")
	}
	if c.Answer.MaxQueryLength < 1 {
		return errors.New("answer.max_query_length 必须大于 0")
	}
	if c.Answer.CandidateSize < 1 {
		return errors.New("answer.candidate_size 必须大于 0")
	}
	if strings.TrimSpace(c.Answer.FallbackText) == "" || strings.TrimSpace(c.Answer.RejectionText) == "" {
		return errors.New("answer.fallback_text 与 answer.rejection_text 不能为空")
	}
	if c.Orchestrator.Concurrency < 1 {
		return errors.New("orchestrator.concurrency 必须大于 0")
	}
	if c.Orchestrator.DispatchAttempts < 1 {
		return errors.New("orchestrator.dispatch_attempts 必须大于 0")
	}
	if c.Kafka.MaxAttempts < 1 {
		return errors.New("kafka.max_attempts 必须大于 0")
	}
	return nil
}

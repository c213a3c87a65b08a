// Package conf 负责加载、归一化并校验服务的启动配置。
// 配置文件为 YAML，经 Kratos config 扫描进原始结构后转换为强类型的
// RuntimeConfig，供 Wire 注入下游组件。
package conf

import (
	"time"

	"github.com/bionicotaku/lingo-utils/observability"
	"github.com/bionicotaku/lingo-utils/txmanager"
)

// ServiceMetadata 保存服务标识信息，供日志和可观测性组件使用。
type ServiceMetadata struct {
	Name        string
	Version     string
	Environment string
	InstanceID  string
}

// RuntimeConfig 聚合归一化后的全部配置片段。
type RuntimeConfig struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Storage       StorageConfig
	Origin        OriginConfig
	Cache         CacheConfig
	Sweeper       SweeperConfig
	DiskGuard     DiskGuardConfig
	Observability observability.ObservabilityConfig
	Service       ServiceMetadata
}

// ServerConfig 描述 HTTP 服务监听参数。
type ServerConfig struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// DatabaseConfig 描述 PostgreSQL 连接池参数。
type DatabaseConfig struct {
	DSN                string
	MaxOpenConns       int32
	MinOpenConns       int32
	MaxConnLifetime    time.Duration
	MaxConnIdleTime    time.Duration
	HealthCheckPeriod  time.Duration
	Schema             string
	PreparedStatements bool
	Transaction        txmanager.Config
}

// StorageConfig 选择远端存储后端并携带各后端的连接参数。
type StorageConfig struct {
	// Backend 取值 "filestore"（自建文件存储 HTTP API）或 "gcs"。
	Backend string
	// Root 为所有逻辑路径统一添加的前缀，允许为空（表示无前缀）。
	Root      string
	Filestore FilestoreConfig
	GCS       GCSConfig
}

// FilestoreConfig 描述自建文件存储服务的访问参数。
type FilestoreConfig struct {
	BaseURL        string
	Username       string
	Password       string
	RequestTimeout time.Duration
	RetryDelay     time.Duration
}

// GCSConfig 描述 Google Cloud Storage 后端参数。
type GCSConfig struct {
	Bucket               string
	SignerServiceAccount string
	SignedURLTTL         time.Duration
}

// OriginConfig 描述源站抓取的超时、重试与伪装头配置。
type OriginConfig struct {
	RequestTimeout time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	HostProfiles   []HostProfile
}

// HostProfile 为匹配 HostSuffix 的源站指定请求头伪装。
type HostProfile struct {
	HostSuffix string
	Referer    string
	Origin     string
	UserAgent  string
}

// CacheConfig 描述缓存管线的重试策略与降级行为。
type CacheConfig struct {
	// RetryCeiling 为失败次数上限，达到后记录转入终态 failed。
	RetryCeiling int32
	// Backoff 为按 retry_count 递增的等待表，超出部分重复末值。
	Backoff []time.Duration
	// ProxyURLTemplate 为降级透传地址模板，%s 替换为转义后的原始 URL；
	// 为空时直接回退到原始 URL。
	ProxyURLTemplate string
}

// SweeperConfig 描述后台批量补偿任务的节奏与并发度。
type SweeperConfig struct {
	Interval    time.Duration
	BatchSize   int32
	Concurrency int
}

// DiskGuardConfig 描述磁盘空间熔断器的采样参数。
type DiskGuardConfig struct {
	// Path 为本地暂存目录，对其所在文件系统采样剩余空间。
	Path         string
	Interval     time.Duration
	MinFreeBytes int64
}

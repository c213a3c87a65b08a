package conf

import (
	"github.com/bionicotaku/lingo-utils/observability"
	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/google/wire"
)

// ProviderSet 暴露各配置片段的访问器供 Wire 依赖注入使用。
var ProviderSet = wire.NewSet(
	ProvideServerConfig,
	ProvideDatabaseConfig,
	ProvideStorageConfig,
	ProvideOriginConfig,
	ProvideCacheConfig,
	ProvideSweeperConfig,
	ProvideDiskGuardConfig,
	ProvideTxConfig,
	ProvideObservabilityConfig,
	ProvideServiceMetadata,
)

// ProvideServerConfig 返回 HTTP 服务配置片段。
func ProvideServerConfig(rc *RuntimeConfig) ServerConfig { return rc.Server }

// ProvideDatabaseConfig 返回数据库配置片段。
func ProvideDatabaseConfig(rc *RuntimeConfig) DatabaseConfig { return rc.Database }

// ProvideStorageConfig 返回远端存储配置片段。
func ProvideStorageConfig(rc *RuntimeConfig) StorageConfig { return rc.Storage }

// ProvideOriginConfig 返回源站抓取配置片段。
func ProvideOriginConfig(rc *RuntimeConfig) OriginConfig { return rc.Origin }

// ProvideCacheConfig 返回缓存管线配置片段。
func ProvideCacheConfig(rc *RuntimeConfig) CacheConfig { return rc.Cache }

// ProvideSweeperConfig 返回批量补偿任务配置片段。
func ProvideSweeperConfig(rc *RuntimeConfig) SweeperConfig { return rc.Sweeper }

// ProvideDiskGuardConfig 返回磁盘熔断器配置片段。
func ProvideDiskGuardConfig(rc *RuntimeConfig) DiskGuardConfig { return rc.DiskGuard }

// ProvideTxConfig 返回事务管理器配置。
func ProvideTxConfig(rc *RuntimeConfig) txmanager.Config { return rc.Database.Transaction }

// ProvideServiceMetadata 返回服务元信息。
func ProvideServiceMetadata(rc *RuntimeConfig) ServiceMetadata { return rc.Service }

// ProvideObservabilityConfig 返回可观测性配置。
func ProvideObservabilityConfig(rc *RuntimeConfig) observability.ObservabilityConfig {
	return rc.Observability
}

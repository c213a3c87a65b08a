package repositories

import (
	"github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProviderSet 暴露 Repository 层的构造函数供 Wire 依赖注入使用。
var ProviderSet = wire.NewSet(
	ProvideImageCacheRepository,
	NewEntityMediaRepository,
)

// ProvideImageCacheRepository 从缓存配置读取重试上限并装配仓储。
func ProvideImageCacheRepository(db *pgxpool.Pool, cacheCfg conf.CacheConfig, logger log.Logger) *ImageCacheRepository {
	return NewImageCacheRepository(db, cacheCfg.RetryCeiling, logger)
}

package mediasweep

import (
	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"
	"github.com/bionicotaku/lingo-services-media/internal/repositories"
	"github.com/bionicotaku/lingo-services-media/internal/services"
	"github.com/bionicotaku/lingo-services-media/internal/tasks/diskguard"
)

// ProvideRunner 装配补偿任务：索引仓储、搬运服务与磁盘熔断器。
func ProvideRunner(
	repo *repositories.ImageCacheRepository,
	transfer *services.MediaTransferService,
	guard *diskguard.Guard,
	sweeperCfg conf.SweeperConfig,
	cacheCfg conf.CacheConfig,
	logger log.Logger,
) (*Runner, error) {
	return NewRunner(RunnerParams{
		Index:    repo,
		Transfer: transfer,
		Breaker:  guard,
		Sweeper:  sweeperCfg,
		Backoff:  cacheCfg.Backoff,
		Logger:   logger,
	})
}

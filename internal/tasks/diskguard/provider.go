package diskguard

import (
	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"
)

// ProvideGuard 从配置装配磁盘熔断器。
func ProvideGuard(cfg conf.DiskGuardConfig, logger log.Logger) *Guard {
	return NewGuard(cfg, logger)
}

package clients

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-media/internal/clients/filestore"
	"github.com/bionicotaku/lingo-services-media/internal/clients/gcstore"
	"github.com/bionicotaku/lingo-services-media/internal/clients/origin"
	"github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"
	"github.com/bionicotaku/lingo-services-media/internal/services"
)

// ProviderSet 聚合所有外部客户端的装配入口。
var ProviderSet = wire.NewSet(
	origin.ProviderSet,
	ProvideRemoteStore,
)

// ProvideRemoteStore 按配置选择存储后端，只构造被选中的那一个。
func ProvideRemoteStore(ctx context.Context, cfg conf.StorageConfig, logger log.Logger) (services.RemoteStore, func(), error) {
	switch cfg.Backend {
	case "gcs":
		client, cleanup, err := gcstore.NewClient(ctx, cfg.GCS, cfg.Root, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, cleanup, err
	default:
		return filestore.NewClient(cfg.Filestore, cfg.Root, logger), func() {}, nil
	}
}

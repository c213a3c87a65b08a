package services

import (
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-media/internal/clients/origin"
	"github.com/bionicotaku/lingo-services-media/internal/repositories"
)

// ProviderSet 暴露服务层构造器与接口绑定，供 wire 装配。
var ProviderSet = wire.NewSet(
	NewMediaTransferService,
	NewMediaResolverService,
	wire.Bind(new(ImageCacheIndex), new(*repositories.ImageCacheRepository)),
	wire.Bind(new(EntityMediaWriter), new(*repositories.EntityMediaRepository)),
	wire.Bind(new(OriginFetcher), new(*origin.Fetcher)),
)

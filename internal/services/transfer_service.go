package services

import (
	"context"
	"fmt"

	"github.com/bionicotaku/lingo-services-media/internal/clients/origin"
	"github.com/bionicotaku/lingo-services-media/internal/models/po"
	"github.com/go-kratos/kratos/v2/log"
)

// OriginFetcher 从源站抓取一张图片的原始字节。
type OriginFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*origin.Payload, error)
}

// RemoteStore 是远端对象存储的抽象：上传、解析可访问地址、判断归属。
type RemoteStore interface {
	Upload(ctx context.Context, path string, data []byte, mimeType string) (int64, error)
	ResolveURL(ctx context.Context, path string) (string, error)
	Download(ctx context.Context, path string) ([]byte, error)
	Holds(rawURL string) bool
}

// TransferResult 描述一次成功搬运后的落盘信息。
type TransferResult struct {
	Location string
	Size     int64
	MimeType string
}

// mimeExtensions 把常见图片 MIME 映射到存储扩展名；未知类型统一落 .img。
var mimeExtensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/avif":    ".avif",
	"image/bmp":     ".bmp",
	"image/svg+xml": ".svg",
	"image/x-icon":  ".ico",
}

func extensionForMIME(mimeType string) string {
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return ".img"
}

// MediaTransferService 执行"抓取 → 上传 → 解析地址"的单次搬运序列。
// 它不触碰缓存索引；状态推进由调用方（解析服务 / 补偿任务）负责。
type MediaTransferService struct {
	fetcher OriginFetcher
	store   RemoteStore
	log     *log.Helper
}

func NewMediaTransferService(fetcher OriginFetcher, store RemoteStore, logger log.Logger) *MediaTransferService {
	return &MediaTransferService{
		fetcher: fetcher,
		store:   store,
		log:     log.NewHelper(log.With(logger, "module", "service/media_transfer")),
	}
}

// Transfer 把 originalURL 指向的图片搬运到远端存储。
// 存储路径形如 <kind>/<urlHash><ext>，内容寻址保证幂等覆盖。
func (s *MediaTransferService) Transfer(ctx context.Context, originalURL, urlHash string, kind po.EntityKind) (*TransferResult, error) {
	payload, err := s.fetcher.Fetch(ctx, originalURL)
	if err != nil {
		return nil, fmt.Errorf("fetch origin: %w", err)
	}

	mimeType := payload.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	// 补偿任务不知道记录属于哪类实体，统一落在通用前缀下。
	prefix := "images"
	if kind.Valid() {
		prefix = string(kind)
	}
	path := fmt.Sprintf("%s/%s%s", prefix, urlHash, extensionForMIME(mimeType))

	size, err := s.store.Upload(ctx, path, payload.Data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}

	location, err := s.store.ResolveURL(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("resolve url %s: %w", path, err)
	}

	s.log.WithContext(ctx).Debugf("transferred %s -> %s (%d bytes)", originalURL, path, size)
	return &TransferResult{Location: location, Size: size, MimeType: mimeType}, nil
}

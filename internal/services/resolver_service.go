package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	txmanager "github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"
	"github.com/bionicotaku/lingo-services-media/internal/models/po"
	"github.com/bionicotaku/lingo-services-media/internal/repositories"
)

// ImageCacheIndex 是缓存索引的读写面，由 repositories.ImageCacheRepository 实现。
type ImageCacheIndex interface {
	FindByHash(ctx context.Context, sess txmanager.Session, hash string) (*po.ImageCacheRecord, error)
	CreateIfAbsent(ctx context.Context, sess txmanager.Session, originalURL, hash string) (bool, error)
	Claim(ctx context.Context, sess txmanager.Session, id uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, sess txmanager.Session, id uuid.UUID, location string, size int64, mimeType string) error
	MarkFailed(ctx context.Context, sess txmanager.Session, id uuid.UUID, cause string, nextRetryAt *time.Time) (po.ImageCacheStatus, int32, error)
	RecordAccess(ctx context.Context, sess txmanager.Session, id uuid.UUID)
	Stats(ctx context.Context, sess txmanager.Session) (*po.ImageCacheStats, error)
}

// EntityMediaWriter 把缓存地址回写到业务实体表。
type EntityMediaWriter interface {
	WriteBack(ctx context.Context, sess txmanager.Session, kind po.EntityKind, entityID uuid.UUID, location string) (bool, error)
}

// ResolveKind 标记解析结果应当如何被消费。
type ResolveKind string

const (
	// ResolveKindNone 输入为空，无图可用。
	ResolveKindNone ResolveKind = "none"
	// ResolveKindRemote 值是一个可直接访问的远端 URL。
	ResolveKindRemote ResolveKind = "remote"
	// ResolveKindLocal 值是存储后端根目录下的本地路径。
	ResolveKindLocal ResolveKind = "local"
	// ResolveKindRedirect 值是回退地址（代理或源站），缓存尚不可用。
	ResolveKindRedirect ResolveKind = "redirect"
)

// ResolveResult 是一次解析的最终答案，保证总能给出一个可服务的值（除 none 外）。
type ResolveResult struct {
	Kind  ResolveKind `json:"kind"`
	Value string      `json:"value"`
}

// MediaResolverService 实现按需解析：命中直接返回缓存地址，
// 未命中则尝试抢占下载权并同步搬运；任何失败都降级为回退地址，绝不向调用方报错。
type MediaResolverService struct {
	index    ImageCacheIndex
	entities EntityMediaWriter
	transfer *MediaTransferService
	store    RemoteStore
	txm      txmanager.Manager
	proxyTpl string
	log      *log.Helper
}

func NewMediaResolverService(
	index ImageCacheIndex,
	entities EntityMediaWriter,
	transfer *MediaTransferService,
	store RemoteStore,
	txm txmanager.Manager,
	cacheCfg conf.CacheConfig,
	logger log.Logger,
) *MediaResolverService {
	return &MediaResolverService{
		index:    index,
		entities: entities,
		transfer: transfer,
		store:    store,
		txm:      txm,
		proxyTpl: cacheCfg.ProxyURLTemplate,
		log:      log.NewHelper(log.With(logger, "module", "service/media_resolver")),
	}
}

// Resolve 把源 URL 换成当前最优的可服务地址。
// entityID 为 uuid.Nil 时跳过实体回写，只推进缓存索引。
func (s *MediaResolverService) Resolve(ctx context.Context, originalURL string, kind po.EntityKind, entityID uuid.UUID) ResolveResult {
	if strings.TrimSpace(originalURL) == "" {
		return ResolveResult{Kind: ResolveKindNone}
	}
	// 已经指向自家存储的地址原样返回，避免缓存自己的缓存。
	if s.store.Holds(originalURL) {
		return ResolveResult{Kind: ResolveKindRemote, Value: originalURL}
	}

	hash := ContentAddress(originalURL)
	rec, err := s.index.FindByHash(ctx, nil, hash)
	switch {
	case err == nil:
		if res, ok := s.resolveExisting(ctx, rec, kind, entityID); ok {
			return res
		}
	case errors.Is(err, repositories.ErrCacheRecordNotFound):
		if created, cerr := s.index.CreateIfAbsent(ctx, nil, originalURL, hash); cerr != nil {
			s.log.WithContext(ctx).Warnf("create cache record for %s: %v", originalURL, cerr)
			return s.fallback(originalURL)
		} else if !created {
			s.log.WithContext(ctx).Debugf("cache record for %s created concurrently", hash)
		}
		rec, err = s.index.FindByHash(ctx, nil, hash)
		if err != nil {
			s.log.WithContext(ctx).Warnf("reload cache record %s: %v", hash, err)
			return s.fallback(originalURL)
		}
		if res, ok := s.resolveExisting(ctx, rec, kind, entityID); ok {
			return res
		}
	default:
		s.log.WithContext(ctx).Warnf("lookup cache record %s: %v", hash, err)
		return s.fallback(originalURL)
	}

	// 记录处于 pending：竞争下载权，输了就让赢家干活，自己走回退。
	won, err := s.index.Claim(ctx, nil, rec.ID)
	if err != nil {
		s.log.WithContext(ctx).Warnf("claim cache record %s: %v", rec.ID, err)
		return s.fallback(originalURL)
	}
	if !won {
		return s.fallback(originalURL)
	}
	return s.transferAndComplete(ctx, rec, kind, entityID)
}

// resolveExisting 处理已有记录：completed 直接可服务，downloading/failed 走回退,
// pending 返回 (_, false) 交给调用方继续竞争。
func (s *MediaResolverService) resolveExisting(ctx context.Context, rec *po.ImageCacheRecord, kind po.EntityKind, entityID uuid.UUID) (ResolveResult, bool) {
	switch rec.Status {
	case po.ImageCacheStatusCompleted:
		s.index.RecordAccess(ctx, nil, rec.ID)
		// 命中时尽力把缓存地址补写到实体上，覆盖历史上没回写成功的记录。
		if entityID != uuid.Nil && kind.Valid() && rec.RemoteLocation != nil && s.store.Holds(*rec.RemoteLocation) {
			if _, err := s.entities.WriteBack(ctx, nil, kind, entityID, *rec.RemoteLocation); err != nil {
				s.log.WithContext(ctx).Warnf("write back %s/%s on hit: %v", kind, entityID, err)
			}
		}
		return s.serve(rec.RemoteLocation), true
	case po.ImageCacheStatusDownloading, po.ImageCacheStatusFailed:
		return s.fallback(rec.OriginalURL), true
	default:
		return ResolveResult{}, false
	}
}

// transferAndComplete 在抢到下载权之后同步搬运一次。
// 成功则落 completed 并回写实体；失败交给补偿任务按退避重试，本次请求降级回退。
func (s *MediaResolverService) transferAndComplete(ctx context.Context, rec *po.ImageCacheRecord, kind po.EntityKind, entityID uuid.UUID) ResolveResult {
	result, err := s.transfer.Transfer(ctx, rec.OriginalURL, rec.URLHash, kind)
	if err != nil {
		s.log.WithContext(ctx).Warnf("transfer %s: %v", rec.OriginalURL, err)
		if _, _, ferr := s.index.MarkFailed(ctx, nil, rec.ID, err.Error(), nil); ferr != nil {
			s.log.WithContext(ctx).Errorf("mark failed %s: %v", rec.ID, ferr)
		}
		return s.fallback(rec.OriginalURL)
	}

	if err := s.CompleteRecord(ctx, rec.ID, result, kind, entityID); err != nil {
		s.log.WithContext(ctx).Errorf("complete cache record %s: %v", rec.ID, err)
		// 落 completed 失败必须把记录退回 pending，否则它会卡死在
		// downloading：claim 和补偿队列都只认 pending。
		if _, _, ferr := s.index.MarkFailed(ctx, nil, rec.ID, err.Error(), nil); ferr != nil {
			s.log.WithContext(ctx).Errorf("mark failed %s: %v", rec.ID, ferr)
		}
		return s.fallback(rec.OriginalURL)
	}
	return s.serve(&result.Location)
}

// CompleteRecord 在事务里落 completed，随后尽力回写实体缓存列。
// 回写失败只记日志：实体不存在或列更新失败都不能回滚已完成的下载。
func (s *MediaResolverService) CompleteRecord(ctx context.Context, id uuid.UUID, result *TransferResult, kind po.EntityKind, entityID uuid.UUID) error {
	err := s.txm.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		return s.index.MarkCompleted(txCtx, sess, id, result.Location, result.Size, result.MimeType)
	})
	if err != nil {
		return err
	}
	if entityID != uuid.Nil && kind.Valid() {
		if _, werr := s.entities.WriteBack(ctx, nil, kind, entityID, result.Location); werr != nil {
			s.log.WithContext(ctx).Warnf("write back %s/%s: %v", kind, entityID, werr)
		}
	}
	return nil
}

// Stats 返回缓存索引的状态分布。
func (s *MediaResolverService) Stats(ctx context.Context) (*po.ImageCacheStats, error) {
	return s.index.Stats(ctx, nil)
}

// serve 把存量地址翻译成结果类型：存储后端内的 URL 是 remote，
// 相对路径是 local，指向别处的历史 URL 按 redirect 透传。
func (s *MediaResolverService) serve(location *string) ResolveResult {
	if location == nil || *location == "" {
		return ResolveResult{Kind: ResolveKindNone}
	}
	if isLocalPath(*location) {
		return ResolveResult{Kind: ResolveKindLocal, Value: *location}
	}
	if s.store.Holds(*location) {
		return ResolveResult{Kind: ResolveKindRemote, Value: *location}
	}
	return ResolveResult{Kind: ResolveKindRedirect, Value: *location}
}

// fallback 在缓存不可服务时给出保底地址：优先代理模板，否则直连源站。
func (s *MediaResolverService) fallback(originalURL string) ResolveResult {
	if s.proxyTpl != "" {
		return ResolveResult{
			Kind:  ResolveKindRedirect,
			Value: fmt.Sprintf(s.proxyTpl, url.QueryEscape(originalURL)),
		}
	}
	return ResolveResult{Kind: ResolveKindRedirect, Value: originalURL}
}

func isLocalPath(location string) bool {
	return !strings.Contains(location, "://")
}

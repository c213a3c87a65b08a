// Package repositories 实现数据访问层，基于 pgx 封装 media schema 的表操作。
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bionicotaku/lingo-services-media/internal/models/po"
	"github.com/bionicotaku/lingo-services-media/internal/repositories/mappers"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCacheRecordNotFound 表示缓存记录不存在。
var ErrCacheRecordNotFound = errors.New("image cache record not found")

// querier 抽象 *pgxpool.Pool 与 pgx.Tx 共有的查询能力。
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ImageCacheRepository 封装 media.image_cache 表的访问逻辑。
//
// 该表是整条缓存管线唯一的共享可变状态：Resolver 与后台补偿任务之间
// 不持有任何进程内锁，全部通过 Claim 的条件更新在数据库层串行化。
type ImageCacheRepository struct {
	db      *pgxpool.Pool
	ceiling int32
	log     *log.Helper
}

// NewImageCacheRepository 构造 ImageCacheRepository。
// ceiling 为失败重试上限，达到后记录进入终态 failed。
func NewImageCacheRepository(db *pgxpool.Pool, ceiling int32, logger log.Logger) *ImageCacheRepository {
	return &ImageCacheRepository{
		db:      db,
		ceiling: ceiling,
		log:     log.NewHelper(logger),
	}
}

func (r *ImageCacheRepository) q(sess txmanager.Session) querier {
	if sess != nil {
		return sess.Tx()
	}
	return r.db
}

// FindByHash 按 url_hash 点查缓存记录，无副作用。
func (r *ImageCacheRepository) FindByHash(ctx context.Context, sess txmanager.Session, hash string) (*po.ImageCacheRecord, error) {
	sql := `SELECT ` + mappers.ImageCacheColumns + ` FROM media.image_cache WHERE url_hash = $1`
	rec, err := mappers.ScanImageCacheRecord(r.q(sess).QueryRow(ctx, sql, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCacheRecordNotFound
		}
		r.log.WithContext(ctx).Errorf("find cache record failed: url_hash=%s err=%v", hash, err)
		return nil, fmt.Errorf("find cache record: %w", err)
	}
	return rec, nil
}

// CreateIfAbsent 插入一条 pending 记录；若同 hash 已存在则静默跳过。
// 幂等性由 url_hash 唯一约束保证，并发创建只会留下一行。
// 返回值表示本次调用是否真正插入了新行。
func (r *ImageCacheRepository) CreateIfAbsent(ctx context.Context, sess txmanager.Session, originalURL, hash string) (bool, error) {
	sql := `INSERT INTO media.image_cache (id, original_url, url_hash, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (url_hash) DO NOTHING`
	tag, err := r.q(sess).Exec(ctx, sql, uuid.New(), originalURL, hash)
	if err != nil {
		r.log.WithContext(ctx).Errorf("create cache record failed: url_hash=%s err=%v", hash, err)
		return false, fmt.Errorf("create cache record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Claim 原子地执行 pending → downloading 的条件转移。
//
// 仅当记录当前为 pending 且不处于重试冷却期时成功；返回 false 表示
// 竞争失败（已被他人认领、已完成或在冷却中），这是正常的控制流信号
// 而非错误。Resolver 与补偿任务都必须先赢得 Claim 才能发起网络 I/O，
// 这就是"同一 URL 至多一个并发下载"的全部保证来源。
func (r *ImageCacheRepository) Claim(ctx context.Context, sess txmanager.Session, id uuid.UUID) (bool, error) {
	sql := `UPDATE media.image_cache
		SET status = 'downloading', updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= now())`
	tag, err := r.q(sess).Exec(ctx, sql, id)
	if err != nil {
		r.log.WithContext(ctx).Errorf("claim cache record failed: id=%s err=%v", id, err)
		return false, fmt.Errorf("claim cache record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted 将记录置为 completed，写入产物信息并清空失败痕迹；
// 触发这次下载的请求本身也计入访问遥测。
func (r *ImageCacheRepository) MarkCompleted(ctx context.Context, sess txmanager.Session, id uuid.UUID, location string, size int64, mimeType string) error {
	sql := `UPDATE media.image_cache
		SET status = 'completed',
		    remote_location = $2,
		    file_size = $3,
		    mime_type = $4,
		    retry_count = 0,
		    last_error = NULL,
		    next_retry_at = NULL,
		    access_count = access_count + 1,
		    last_accessed_at = now(),
		    first_accessed_at = COALESCE(first_accessed_at, now()),
		    updated_at = now()
		WHERE id = $1`
	tag, err := r.q(sess).Exec(ctx, sql, id, location, size, mimeType)
	if err != nil {
		r.log.WithContext(ctx).Errorf("mark cache record completed failed: id=%s err=%v", id, err)
		return fmt.Errorf("mark cache record completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCacheRecordNotFound
	}
	return nil
}

// MarkFailed 记录一次失败：重试次数加一；若新计数仍低于上限则回到
// pending 并带上 nextRetryAt（nil 表示立即可重试），否则进入终态
// failed 并清空 nextRetryAt。返回更新后的状态与计数供调用方记日志。
func (r *ImageCacheRepository) MarkFailed(ctx context.Context, sess txmanager.Session, id uuid.UUID, cause string, nextRetryAt *time.Time) (po.ImageCacheStatus, int32, error) {
	sql := `UPDATE media.image_cache
		SET status = CASE WHEN retry_count + 1 >= $4 THEN 'failed' ELSE 'pending' END,
		    retry_count = retry_count + 1,
		    last_error = $2,
		    next_retry_at = CASE WHEN retry_count + 1 >= $4 THEN NULL ELSE $3 END,
		    updated_at = now()
		WHERE id = $1
		RETURNING status, retry_count`
	var status string
	var count int32
	err := r.q(sess).QueryRow(ctx, sql, id, cause, nextRetryAt, r.ceiling).Scan(&status, &count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, ErrCacheRecordNotFound
		}
		r.log.WithContext(ctx).Errorf("mark cache record failed errored: id=%s err=%v", id, err)
		return "", 0, fmt.Errorf("mark cache record failed: %w", err)
	}
	return po.ImageCacheStatus(status), count, nil
}

// RecordAccess 为一次缓存命中累计访问遥测。出错只记日志不上抛，
// 绝不让遥测失败影响请求路径。
func (r *ImageCacheRepository) RecordAccess(ctx context.Context, sess txmanager.Session, id uuid.UUID) {
	sql := `UPDATE media.image_cache
		SET access_count = access_count + 1,
		    last_accessed_at = now(),
		    first_accessed_at = COALESCE(first_accessed_at, now()),
		    updated_at = now()
		WHERE id = $1`
	if _, err := r.q(sess).Exec(ctx, sql, id); err != nil {
		r.log.WithContext(ctx).Warnf("record cache access failed: id=%s err=%v", id, err)
	}
}

// DueForRetry 返回至多 limit 条已到期的 pending 记录，按创建时间
// 从旧到新排序以保证公平。
func (r *ImageCacheRepository) DueForRetry(ctx context.Context, sess txmanager.Session, limit int32) ([]*po.ImageCacheRecord, error) {
	sql := `SELECT ` + mappers.ImageCacheColumns + `
		FROM media.image_cache
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at ASC
		LIMIT $1`
	rows, err := r.q(sess).Query(ctx, sql, limit)
	if err != nil {
		r.log.WithContext(ctx).Errorf("list due cache records failed: err=%v", err)
		return nil, fmt.Errorf("list due cache records: %w", err)
	}
	defer rows.Close()

	var records []*po.ImageCacheRecord
	for rows.Next() {
		rec, err := mappers.ScanImageCacheRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due cache record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due cache records: %w", err)
	}
	return records, nil
}

// Stats 聚合缓存表的状态计数。
func (r *ImageCacheRepository) Stats(ctx context.Context, sess txmanager.Session) (*po.ImageCacheStats, error) {
	sql := `SELECT count(*),
		count(*) FILTER (WHERE status = 'pending'),
		count(*) FILTER (WHERE status = 'completed'),
		count(*) FILTER (WHERE status = 'failed')
		FROM media.image_cache`
	var stats po.ImageCacheStats
	err := r.q(sess).QueryRow(ctx, sql).Scan(&stats.Total, &stats.Pending, &stats.Completed, &stats.Failed)
	if err != nil {
		r.log.WithContext(ctx).Errorf("aggregate cache stats failed: err=%v", err)
		return nil, fmt.Errorf("aggregate cache stats: %w", err)
	}
	return &stats, nil
}

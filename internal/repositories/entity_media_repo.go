package repositories

import (
	"context"
	"fmt"

	"github.com/bionicotaku/lingo-services-media/internal/models/po"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EntityMediaRepository 负责把解析完成的缓存地址回写到业务实体的
// 冗余列上。业务行不属于缓存管线：回写是单向、尽力而为的副作用，
// 实体不存在或值未变化时静默跳过。
type EntityMediaRepository struct {
	db  *pgxpool.Pool
	log *log.Helper
}

// NewEntityMediaRepository 构造 EntityMediaRepository。
func NewEntityMediaRepository(db *pgxpool.Pool, logger log.Logger) *EntityMediaRepository {
	return &EntityMediaRepository{
		db:  db,
		log: log.NewHelper(logger),
	}
}

func (r *EntityMediaRepository) q(sess txmanager.Session) querier {
	if sess != nil {
		return sess.Tx()
	}
	return r.db
}

// WriteBack 把缓存地址写到对应实体的冗余列。返回是否真正更新了行。
func (r *EntityMediaRepository) WriteBack(ctx context.Context, sess txmanager.Session, kind po.EntityKind, entityID uuid.UUID, location string) (bool, error) {
	var sql string
	switch kind {
	case po.EntityKindCreator:
		sql = `UPDATE media.creators
			SET cached_avatar_url = $2, updated_at = now()
			WHERE creator_id = $1 AND cached_avatar_url IS DISTINCT FROM $2`
	case po.EntityKindVideo:
		sql = `UPDATE media.videos
			SET cached_thumbnail_url = $2, updated_at = now()
			WHERE video_id = $1 AND cached_thumbnail_url IS DISTINCT FROM $2`
	default:
		return false, fmt.Errorf("write back media location: unknown entity kind %q", kind)
	}

	tag, err := r.q(sess).Exec(ctx, sql, entityID, location)
	if err != nil {
		r.log.WithContext(ctx).Errorf("write back media location failed: kind=%s entity_id=%s err=%v", kind, entityID, err)
		return false, fmt.Errorf("write back media location: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

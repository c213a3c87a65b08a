// Package mappers 负责数据库行与持久化对象之间的转换。
package mappers

import (
	"github.com/bionicotaku/lingo-services-media/internal/models/po"
)

// ImageCacheColumns 为 media.image_cache 的查询列清单，与
// ScanImageCacheRecord 的扫描顺序保持一致。
const ImageCacheColumns = `id, original_url, url_hash, status, remote_location,
	file_size, mime_type, retry_count, last_error, next_retry_at,
	access_count, first_accessed_at, last_accessed_at, created_at, updated_at`

// row 抽象 pgx.Row / pgx.Rows 共有的 Scan 能力。
type row interface {
	Scan(dest ...any) error
}

// ScanImageCacheRecord 按 ImageCacheColumns 的顺序扫描一行缓存记录。
func ScanImageCacheRecord(r row) (*po.ImageCacheRecord, error) {
	var rec po.ImageCacheRecord
	var status string
	if err := r.Scan(
		&rec.ID,
		&rec.OriginalURL,
		&rec.URLHash,
		&status,
		&rec.RemoteLocation,
		&rec.FileSize,
		&rec.MimeType,
		&rec.RetryCount,
		&rec.LastError,
		&rec.NextRetryAt,
		&rec.AccessCount,
		&rec.FirstAccessedAt,
		&rec.LastAccessedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = po.ImageCacheStatus(status)
	return &rec, nil
}

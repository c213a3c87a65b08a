package po

import (
	"time"

	"github.com/google/uuid"
)

// ImageCacheStatus 表示缓存记录的当前状态。
type ImageCacheStatus string

const (
	ImageCacheStatusPending     ImageCacheStatus = "pending"
	ImageCacheStatusDownloading ImageCacheStatus = "downloading"
	ImageCacheStatusCompleted   ImageCacheStatus = "completed"
	ImageCacheStatusFailed      ImageCacheStatus = "failed"
)

// Terminal reports whether no further automatic transition leaves the state.
func (s ImageCacheStatus) Terminal() bool {
	return s == ImageCacheStatusCompleted || s == ImageCacheStatusFailed
}

// ImageCacheRecord 描述 media.image_cache 表中的一条缓存记录。
// url_hash 是 original_url 的 SHA-256（十六进制），也是全表唯一的去重键。
type ImageCacheRecord struct {
	ID              uuid.UUID
	OriginalURL     string
	URLHash         string
	Status          ImageCacheStatus
	RemoteLocation  *string
	FileSize        *int64
	MimeType        *string
	RetryCount      int32
	LastError       *string
	NextRetryAt     *time.Time
	AccessCount     int64
	FirstAccessedAt *time.Time
	LastAccessedAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ImageCacheStats 聚合缓存表的状态计数，供 stats 查询使用。
type ImageCacheStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

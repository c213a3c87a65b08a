package conf

import "time"

// 配置缺省值。重试上限与退避表在原始部署中是环境可调参数，这里只作为
// 缺省语义：递增且有界的重试，而非固定常量。
const (
	defaultConfPath = "configs"

	defaultHTTPAddr    = ":8000"
	defaultHTTPTimeout = 30 * time.Second

	defaultStorageBackend = "filestore"

	defaultOriginTimeout     = 30 * time.Second
	defaultOriginAttempts    = 3
	defaultOriginRetryDelay  = 500 * time.Millisecond
	defaultFilestoreTimeout  = 60 * time.Second
	defaultFilestoreRetry    = 2 * time.Second
	defaultSignedURLTTL      = 15 * time.Minute
	defaultRetryCeiling      = 3
	defaultSweepInterval     = time.Minute
	defaultSweepBatchSize    = 20
	defaultSweepConcurrency  = 5
	defaultGuardInterval     = time.Hour
	defaultGuardMinFreeBytes = 10 << 30 // 10 GiB
)

var defaultBackoff = []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}

// applyDefaults 在归一化结果上补齐缺省值。
func applyDefaults(rc *RuntimeConfig) {
	if rc.Server.Addr == "" {
		rc.Server.Addr = defaultHTTPAddr
	}
	if rc.Server.Timeout <= 0 {
		rc.Server.Timeout = defaultHTTPTimeout
	}

	if rc.Storage.Backend == "" {
		rc.Storage.Backend = defaultStorageBackend
	}
	if rc.Storage.Filestore.RequestTimeout <= 0 {
		rc.Storage.Filestore.RequestTimeout = defaultFilestoreTimeout
	}
	if rc.Storage.Filestore.RetryDelay <= 0 {
		rc.Storage.Filestore.RetryDelay = defaultFilestoreRetry
	}
	if rc.Storage.GCS.SignedURLTTL <= 0 {
		rc.Storage.GCS.SignedURLTTL = defaultSignedURLTTL
	}

	if rc.Origin.RequestTimeout <= 0 {
		rc.Origin.RequestTimeout = defaultOriginTimeout
	}
	if rc.Origin.MaxAttempts <= 0 {
		rc.Origin.MaxAttempts = defaultOriginAttempts
	}
	if rc.Origin.RetryBaseDelay <= 0 {
		rc.Origin.RetryBaseDelay = defaultOriginRetryDelay
	}

	if rc.Cache.RetryCeiling <= 0 {
		rc.Cache.RetryCeiling = defaultRetryCeiling
	}
	if len(rc.Cache.Backoff) == 0 {
		rc.Cache.Backoff = append([]time.Duration(nil), defaultBackoff...)
	}

	if rc.Sweeper.Interval <= 0 {
		rc.Sweeper.Interval = defaultSweepInterval
	}
	if rc.Sweeper.BatchSize <= 0 {
		rc.Sweeper.BatchSize = defaultSweepBatchSize
	}
	if rc.Sweeper.Concurrency <= 0 {
		rc.Sweeper.Concurrency = defaultSweepConcurrency
	}

	if rc.DiskGuard.Interval <= 0 {
		rc.DiskGuard.Interval = defaultGuardInterval
	}
	if rc.DiskGuard.MinFreeBytes <= 0 {
		rc.DiskGuard.MinFreeBytes = defaultGuardMinFreeBytes
	}
	if rc.DiskGuard.Path == "" {
		rc.DiskGuard.Path = "."
	}
}

package conf

import (
	"fmt"
	"time"

	"github.com/bionicotaku/lingo-utils/observability"
	"github.com/bionicotaku/lingo-utils/txmanager"
)

// normalize 将原始文件结构转换为 RuntimeConfig，解析所有时长字段。
// 解析失败返回带字段路径的错误，便于定位配置问题。
func normalize(b *fileBootstrap) (RuntimeConfig, error) {
	rc := RuntimeConfig{}
	if b == nil {
		return rc, nil
	}

	var err error
	if rc.Server, err = serverFromFile(b.Server); err != nil {
		return rc, err
	}
	if rc.Database, err = databaseFromFile(b.Data); err != nil {
		return rc, err
	}
	if rc.Storage, err = storageFromFile(b.Storage); err != nil {
		return rc, err
	}
	if rc.Origin, err = originFromFile(b.Origin); err != nil {
		return rc, err
	}
	if rc.Cache, err = cacheFromFile(b.Cache); err != nil {
		return rc, err
	}
	if rc.Sweeper, err = sweeperFromFile(b.Sweeper); err != nil {
		return rc, err
	}
	if rc.DiskGuard, err = diskGuardFromFile(b.DiskGuard); err != nil {
		return rc, err
	}
	rc.Observability = observabilityFromFile(b.Observability)
	return rc, nil
}

func serverFromFile(s *fileServer) (ServerConfig, error) {
	cfg := ServerConfig{}
	if s == nil || s.HTTP == nil {
		return cfg, nil
	}
	cfg.Network = s.HTTP.Network
	cfg.Addr = s.HTTP.Addr
	d, err := durationField("server.http.timeout", s.HTTP.Timeout)
	if err != nil {
		return cfg, err
	}
	cfg.Timeout = d
	return cfg, nil
}

func databaseFromFile(d *fileData) (DatabaseConfig, error) {
	cfg := DatabaseConfig{}
	if d == nil || d.Postgres == nil {
		return cfg, nil
	}
	pg := d.Postgres
	cfg.DSN = pg.DSN
	cfg.MaxOpenConns = pg.MaxOpenConns
	cfg.MinOpenConns = pg.MinOpenConns
	cfg.Schema = pg.Schema
	cfg.PreparedStatements = pg.PreparedStatements

	var err error
	if cfg.MaxConnLifetime, err = durationField("data.postgres.max_conn_lifetime", pg.MaxConnLifetime); err != nil {
		return cfg, err
	}
	if cfg.MaxConnIdleTime, err = durationField("data.postgres.max_conn_idle_time", pg.MaxConnIdleTime); err != nil {
		return cfg, err
	}
	if cfg.HealthCheckPeriod, err = durationField("data.postgres.health_check_period", pg.HealthCheckPeriod); err != nil {
		return cfg, err
	}

	if tx := pg.Transaction; tx != nil {
		txCfg := txmanager.Config{
			DefaultIsolation: tx.DefaultIsolation,
			MaxRetries:       tx.MaxRetries,
		}
		if txCfg.DefaultTimeout, err = durationField("data.postgres.transaction.default_timeout", tx.DefaultTimeout); err != nil {
			return cfg, err
		}
		if txCfg.LockTimeout, err = durationField("data.postgres.transaction.lock_timeout", tx.LockTimeout); err != nil {
			return cfg, err
		}
		cfg.Transaction = txCfg
	}
	return cfg, nil
}

func storageFromFile(s *fileStorage) (StorageConfig, error) {
	cfg := StorageConfig{}
	if s == nil {
		return cfg, nil
	}
	cfg.Backend = s.Backend
	cfg.Root = s.Root

	var err error
	if fs := s.Filestore; fs != nil {
		cfg.Filestore = FilestoreConfig{
			BaseURL:  fs.BaseURL,
			Username: fs.Username,
			Password: fs.Password,
		}
		if cfg.Filestore.RequestTimeout, err = durationField("storage.filestore.request_timeout", fs.RequestTimeout); err != nil {
			return cfg, err
		}
		if cfg.Filestore.RetryDelay, err = durationField("storage.filestore.retry_delay", fs.RetryDelay); err != nil {
			return cfg, err
		}
	}
	if g := s.GCS; g != nil {
		cfg.GCS = GCSConfig{
			Bucket:               g.Bucket,
			SignerServiceAccount: g.SignerServiceAccount,
		}
		if cfg.GCS.SignedURLTTL, err = durationField("storage.gcs.signed_url_ttl", g.SignedURLTTL); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func originFromFile(o *fileOrigin) (OriginConfig, error) {
	cfg := OriginConfig{}
	if o == nil {
		return cfg, nil
	}
	cfg.MaxAttempts = o.MaxAttempts

	var err error
	if cfg.RequestTimeout, err = durationField("origin.request_timeout", o.RequestTimeout); err != nil {
		return cfg, err
	}
	if cfg.RetryBaseDelay, err = durationField("origin.retry_base_delay", o.RetryBaseDelay); err != nil {
		return cfg, err
	}
	for _, p := range o.HostProfiles {
		cfg.HostProfiles = append(cfg.HostProfiles, HostProfile{
			HostSuffix: p.HostSuffix,
			Referer:    p.Referer,
			Origin:     p.Origin,
			UserAgent:  p.UserAgent,
		})
	}
	return cfg, nil
}

func cacheFromFile(c *fileCache) (CacheConfig, error) {
	cfg := CacheConfig{}
	if c == nil {
		return cfg, nil
	}
	cfg.RetryCeiling = c.RetryCeiling
	cfg.ProxyURLTemplate = c.ProxyURLTemplate
	for i, raw := range c.Backoff {
		d, err := durationField(fmt.Sprintf("cache.backoff[%d]", i), raw)
		if err != nil {
			return cfg, err
		}
		cfg.Backoff = append(cfg.Backoff, d)
	}
	return cfg, nil
}

func sweeperFromFile(s *fileSweeper) (SweeperConfig, error) {
	cfg := SweeperConfig{}
	if s == nil {
		return cfg, nil
	}
	cfg.BatchSize = s.BatchSize
	cfg.Concurrency = s.Concurrency
	var err error
	if cfg.Interval, err = durationField("sweeper.interval", s.Interval); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func diskGuardFromFile(d *fileDiskGuard) (DiskGuardConfig, error) {
	cfg := DiskGuardConfig{}
	if d == nil {
		return cfg, nil
	}
	cfg.Path = d.Path
	cfg.MinFreeBytes = d.MinFreeBytes
	var err error
	if cfg.Interval, err = durationField("disk_guard.interval", d.Interval); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func observabilityFromFile(o *fileObservability) observability.ObservabilityConfig {
	cfg := observability.ObservabilityConfig{}
	if o == nil || o.Tracing == nil {
		return cfg
	}
	cfg.Tracing = &observability.TracingConfig{
		Enabled:       o.Tracing.Enabled,
		Exporter:      o.Tracing.Exporter,
		Endpoint:      o.Tracing.Endpoint,
		Insecure:      o.Tracing.Insecure,
		SamplingRatio: o.Tracing.SamplingRatio,
	}
	return cfg
}

// durationField 解析单个时长字段，空字符串视为零值。
func durationField(path, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, BuildError{Stage: "parse", Path: path, Err: err}
	}
	return d, nil
}

package conf

// 本文件定义配置文件的原始结构。字段与 YAML 一一对应，时长一律使用
// Go duration 字符串（"30s"、"5m"），在 normalize.go 中解析为 time.Duration。

type fileBootstrap struct {
	Server        *fileServer        `json:"server"`
	Data          *fileData          `json:"data"`
	Storage       *fileStorage       `json:"storage"`
	Origin        *fileOrigin        `json:"origin"`
	Cache         *fileCache         `json:"cache"`
	Sweeper       *fileSweeper       `json:"sweeper"`
	DiskGuard     *fileDiskGuard     `json:"disk_guard"`
	Observability *fileObservability `json:"observability"`
}

type fileServer struct {
	HTTP *fileHTTPServer `json:"http"`
}

type fileHTTPServer struct {
	Network string `json:"network"`
	Addr    string `json:"addr"`
	Timeout string `json:"timeout"`
}

type fileData struct {
	Postgres *filePostgres `json:"postgres"`
}

type filePostgres struct {
	DSN                string           `json:"dsn"`
	MaxOpenConns       int32            `json:"max_open_conns"`
	MinOpenConns       int32            `json:"min_open_conns"`
	MaxConnLifetime    string           `json:"max_conn_lifetime"`
	MaxConnIdleTime    string           `json:"max_conn_idle_time"`
	HealthCheckPeriod  string           `json:"health_check_period"`
	Schema             string           `json:"schema"`
	PreparedStatements bool             `json:"enable_prepared_statements"`
	Transaction        *fileTransaction `json:"transaction"`
}

type fileTransaction struct {
	DefaultIsolation string `json:"default_isolation"`
	DefaultTimeout   string `json:"default_timeout"`
	LockTimeout      string `json:"lock_timeout"`
	MaxRetries       int    `json:"max_retries"`
}

type fileStorage struct {
	Backend   string         `json:"backend"`
	Root      string         `json:"root"`
	Filestore *fileFilestore `json:"filestore"`
	GCS       *fileGCS       `json:"gcs"`
}

type fileFilestore struct {
	BaseURL        string `json:"base_url"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	RequestTimeout string `json:"request_timeout"`
	RetryDelay     string `json:"retry_delay"`
}

type fileGCS struct {
	Bucket               string `json:"bucket"`
	SignerServiceAccount string `json:"signer_service_account"`
	SignedURLTTL         string `json:"signed_url_ttl"`
}

type fileOrigin struct {
	RequestTimeout string            `json:"request_timeout"`
	MaxAttempts    int               `json:"max_attempts"`
	RetryBaseDelay string            `json:"retry_base_delay"`
	HostProfiles   []fileHostProfile `json:"host_profiles"`
}

type fileHostProfile struct {
	HostSuffix string `json:"host_suffix"`
	Referer    string `json:"referer"`
	Origin     string `json:"origin"`
	UserAgent  string `json:"user_agent"`
}

type fileCache struct {
	RetryCeiling     int32    `json:"retry_ceiling"`
	Backoff          []string `json:"backoff"`
	ProxyURLTemplate string   `json:"proxy_url_template"`
}

type fileSweeper struct {
	Interval    string `json:"interval"`
	BatchSize   int32  `json:"batch_size"`
	Concurrency int    `json:"concurrency"`
}

type fileDiskGuard struct {
	Path         string `json:"path"`
	Interval     string `json:"interval"`
	MinFreeBytes int64  `json:"min_free_bytes"`
}

type fileObservability struct {
	Tracing *fileTracing `json:"tracing"`
}

type fileTracing struct {
	Enabled       bool    `json:"enabled"`
	Exporter      string  `json:"exporter"`
	Endpoint      string  `json:"endpoint"`
	Insecure      bool    `json:"insecure"`
	SamplingRatio float64 `json:"sampling_ratio"`
}

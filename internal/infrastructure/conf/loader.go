package conf

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/joho/godotenv"
)

const (
	envConfPath       = "CONF_PATH"
	envServiceName    = "SERVICE_NAME"
	envServiceVersion = "SERVICE_VERSION"
	envAppEnv         = "APP_ENV"
	envDatabaseURL    = "DATABASE_URL"
	envPort           = "PORT"
	envFilestorePass  = "FILESTORE_PASSWORD"
)

var envFileNames = []string{".env.local", ".env"}

// Params 包含构造配置所需的运行时输入参数。
type Params struct {
	ConfPath string // 配置文件路径（可为空，使用默认值）
	Name     string // 服务名（ldflags 注入，可为空）
	Version  string // 服务版本（ldflags 注入，可为空）
}

// BuildError 捕获配置构建过程中的上下文错误信息。
type BuildError struct {
	Stage string
	Path  string
	Err   error
}

// Error 实现 error 接口，提供包含上下文的错误信息。
func (e BuildError) Error() string {
	if e.Stage == "" {
		return e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("config %s at %q: %v", e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Stage, e.Err)
}

// Unwrap 暴露底层错误，支持 errors.Is/As 链式查询。
func (e BuildError) Unwrap() error {
	return e.Err
}

// ParseConfPath 从命令行参数解析 -conf 标志。
func ParseConfPath(fs *flag.FlagSet, args []string) (string, error) {
	confPath := fs.String("conf", "", "config path or directory, eg: -conf configs/config.yaml")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *confPath, nil
}

// ResolveConfPath 应用回退规则确定要加载的配置目录/文件路径。
// 优先级：显式传入路径 > CONF_PATH 环境变量 > 默认路径。
func ResolveConfPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(envConfPath); env != "" {
		return env
	}
	return defaultConfPath
}

// Load 从 bootstrap 配置文件构建 RuntimeConfig。
//
// 流程：
// 1. 解析配置路径（应用回退规则）并加载 .env 文件
// 2. 使用 Kratos config 加载 YAML 并扫描进原始结构
// 3. 归一化（时长解析）、应用环境变量覆盖与缺省值
// 4. 校验必填项
func Load(params Params) (*RuntimeConfig, func(), error) {
	confPath := ResolveConfPath(params.ConfPath)
	loadEnvFiles(confPath)

	source := config.New(config.WithSource(file.NewSource(confPath)))
	cleanup := func() { _ = source.Close() }

	if err := source.Load(); err != nil {
		cleanup()
		return nil, nil, BuildError{Stage: "load", Path: confPath, Err: err}
	}

	var raw fileBootstrap
	if err := source.Scan(&raw); err != nil {
		cleanup()
		return nil, nil, BuildError{Stage: "scan", Path: confPath, Err: err}
	}

	rc, err := normalize(&raw)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	applyEnvOverrides(&rc)
	applyDefaults(&rc)
	rc.Service = buildServiceMetadata(params)

	if err := validate(&rc); err != nil {
		cleanup()
		return nil, nil, err
	}
	return &rc, cleanup, nil
}

// loadEnvFiles 尝试从配置目录与工作目录加载 .env 文件（存在才加载，
// 不覆盖已设置的环境变量）。
func loadEnvFiles(confPath string) {
	dirs := []string{confPath, "."}
	if info, err := os.Stat(confPath); err == nil && !info.IsDir() {
		dirs[0] = filepath.Dir(confPath)
	}
	for _, dir := range dirs {
		for _, name := range envFileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			_ = godotenv.Load(path)
		}
	}
}

// applyEnvOverrides 应用环境变量覆盖（部署平台注入的值优先于文件）。
func applyEnvOverrides(rc *RuntimeConfig) {
	if dsn := os.Getenv(envDatabaseURL); dsn != "" {
		rc.Database.DSN = dsn
	}
	if port := os.Getenv(envPort); port != "" {
		host := ""
		if h, _, err := net.SplitHostPort(rc.Server.Addr); err == nil {
			host = h
		}
		rc.Server.Addr = net.JoinHostPort(host, port)
	}
	if pass := os.Getenv(envFilestorePass); pass != "" {
		rc.Storage.Filestore.Password = pass
	}
}

func buildServiceMetadata(params Params) ServiceMetadata {
	meta := ServiceMetadata{
		Name:        params.Name,
		Version:     params.Version,
		Environment: os.Getenv(envAppEnv),
	}
	if v := os.Getenv(envServiceName); v != "" {
		meta.Name = v
	}
	if v := os.Getenv(envServiceVersion); v != "" {
		meta.Version = v
	}
	if meta.Name == "" {
		meta.Name = "lingo-services-media"
	}
	if meta.Version == "" {
		meta.Version = "dev"
	}
	if meta.Environment == "" {
		meta.Environment = "development"
	}
	meta.InstanceID, _ = os.Hostname()
	return meta
}

// validate 校验必填项与跨字段约束。
func validate(rc *RuntimeConfig) error {
	if rc.Database.DSN == "" {
		return BuildError{Stage: "validate", Path: "data.postgres.dsn", Err: fmt.Errorf("postgres DSN is required (set DATABASE_URL)")}
	}
	switch rc.Storage.Backend {
	case "filestore":
		if rc.Storage.Filestore.BaseURL == "" {
			return BuildError{Stage: "validate", Path: "storage.filestore.base_url", Err: fmt.Errorf("filestore base_url is required")}
		}
	case "gcs":
		if rc.Storage.GCS.Bucket == "" {
			return BuildError{Stage: "validate", Path: "storage.gcs.bucket", Err: fmt.Errorf("gcs bucket is required")}
		}
	default:
		return BuildError{Stage: "validate", Path: "storage.backend", Err: fmt.Errorf("unknown storage backend %q", rc.Storage.Backend)}
	}
	return nil
}

// Package gcstore 提供远端存储接口的 Google Cloud Storage 实现，
// 作为自建文件存储之外的可选后端（storage.backend: gcs）。
package gcstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/oauth2/google"

	"github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"
)

// Client 通过 GCS SDK 上传/下载对象，并用 V4 Signed URL 生成持久
// 访问地址。签名要求默认凭据中包含 service account 私钥。
type Client struct {
	bucket         string
	root           string
	ttl            time.Duration
	gcs            *storage.Client
	googleAccessID string
	privateKey     []byte
	now            func() time.Time
	log            *log.Helper
}

// Option 定义可选配置。
type Option func(*Client)

// WithClock 覆盖时间获取函数，便于测试。
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithServiceAccountKey 允许直接注入访问 ID 与私钥（测试友好）。
func WithServiceAccountKey(accessID string, privateKey []byte) Option {
	return func(c *Client) {
		if accessID != "" {
			c.googleAccessID = accessID
		}
		if len(privateKey) > 0 {
			c.privateKey = append([]byte(nil), privateKey...)
		}
	}
}

// NewClient 创建 GCS 后端客户端。
func NewClient(ctx context.Context, cfg conf.GCSConfig, root string, logger log.Logger, opts ...Option) (*Client, func(), error) {
	if cfg.Bucket == "" {
		return nil, nil, errors.New("gcstore: bucket is required")
	}

	gcsClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init gcs client: %w", err)
	}

	c := &Client{
		bucket:         cfg.Bucket,
		root:           strings.Trim(root, "/"),
		ttl:            cfg.SignedURLTTL,
		gcs:            gcsClient,
		googleAccessID: cfg.SignerServiceAccount,
		now:            time.Now,
		log:            log.NewHelper(logger),
	}
	for _, opt := range opts {
		opt(c)
	}

	if len(c.privateKey) == 0 {
		privKey, detectedAccessID, err := loadServiceAccountKey(ctx)
		if err != nil {
			_ = gcsClient.Close()
			return nil, nil, fmt.Errorf("init gcs signer: %w", err)
		}
		c.privateKey = privKey
		if c.googleAccessID == "" {
			c.googleAccessID = detectedAccessID
		} else if detectedAccessID != "" && detectedAccessID != c.googleAccessID {
			c.log.WithContext(ctx).Warnf("gcs signer access id mismatch: config=%s credentials=%s", c.googleAccessID, detectedAccessID)
		}
	}
	if c.googleAccessID == "" {
		_ = gcsClient.Close()
		return nil, nil, errors.New("gcstore: google access id is required")
	}

	cleanup := func() { _ = gcsClient.Close() }
	return c, cleanup, nil
}

// Upload 写入对象并返回字节数。
func (c *Client) Upload(ctx context.Context, path string, data []byte, mimeType string) (int64, error) {
	w := c.gcs.Bucket(c.bucket).Object(c.objectName(path)).NewWriter(ctx)
	if mimeType != "" {
		w.ContentType = mimeType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("gcs upload write: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("gcs upload close: %w", err)
	}
	return int64(len(data)), nil
}

// ResolveURL 为对象生成 V4 Signed GET URL。
func (c *Client) ResolveURL(_ context.Context, path string) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        c.now().Add(c.ttl),
		GoogleAccessID: c.googleAccessID,
		PrivateKey:     c.privateKey,
	}
	url, err := storage.SignedURL(c.bucket, c.objectName(path), opts)
	if err != nil {
		return "", fmt.Errorf("gcs signed url: %w", err)
	}
	return url, nil
}

// Download 读取对象的全部字节。
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	r, err := c.gcs.Bucket(c.bucket).Object(c.objectName(path)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs download open: %w", err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs download read: %w", err)
	}
	return data, nil
}

// Holds reports whether the URL already points into this bucket.
func (c *Client) Holds(rawURL string) bool {
	return strings.Contains(rawURL, "storage.googleapis.com/"+c.bucket+"/") ||
		strings.HasPrefix(rawURL, "gs://"+c.bucket+"/")
}

func (c *Client) objectName(path string) string {
	path = strings.TrimLeft(path, "/")
	if c.root == "" {
		return path
	}
	return c.root + "/" + path
}

type serviceAccountKey struct {
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
}

func loadServiceAccountKey(ctx context.Context) ([]byte, string, error) {
	creds, err := google.FindDefaultCredentials(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("find default credentials: %w", err)
	}
	if len(creds.JSON) == 0 {
		return nil, "", errors.New("service account JSON not found in default credentials")
	}

	var key serviceAccountKey
	if err := json.Unmarshal(creds.JSON, &key); err != nil {
		return nil, "", fmt.Errorf("parse service account json: %w", err)
	}
	if key.PrivateKey == "" {
		return nil, "", errors.New("service account private key is empty; use a service account JSON credential")
	}
	return []byte(key.PrivateKey), key.ClientEmail, nil
}

// Package filestore 封装自建文件存储服务的 HTTP API 客户端。
//
// 协议：POST /api/auth/login 换取短期 token；PUT /api/fs/put 以
// File-Path 头上传字节；POST /api/fs/get 查询路径信息并取得可直接
// GET 的 raw_url。token 只保存在客户端内存中，由持有该客户端的
// 组件独占，不存在跨组件的共享可变状态。
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"
	"github.com/go-kratos/kratos/v2/log"
)

// APIError 表示存储服务返回了业务层错误码。
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("filestore api error: code=%d message=%s", e.Code, e.Message)
}

// AuthExpired reports whether the error is the token-expiry signal.
func (e *APIError) AuthExpired() bool { return e.Code == http.StatusUnauthorized }

// NetworkError 表示传输层故障（连接失败、超时），与业务错误区分，
// 以便调用方应用"重试一次"的策略。
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("filestore network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Client 为文件存储服务的 HTTP 客户端。
type Client struct {
	httpc      *http.Client
	baseURL    string
	username   string
	password   string
	root       string
	retryDelay time.Duration
	log        *log.Helper

	mu    sync.Mutex
	token string
}

// NewClient 构造 Client。root 为所有逻辑路径的统一前缀，允许为空。
func NewClient(cfg conf.FilestoreConfig, root string, logger log.Logger) *Client {
	return &Client{
		httpc:      &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		root:       strings.Trim(root, "/"),
		retryDelay: cfg.RetryDelay,
		log:        log.NewHelper(logger),
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Login 用凭据换取新 token 并缓存在内存中。
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := c.roundTrip(req, "login")
	if err != nil {
		return err
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if payload.Token == "" {
		return &APIError{Code: http.StatusUnauthorized, Message: "login returned empty token"}
	}

	c.mu.Lock()
	c.token = payload.Token
	c.mu.Unlock()
	return nil
}

// Upload 上传字节到逻辑路径，返回写入的字节数。
//
// 传输层故障固定延迟后重试一次；token 过期触发恰好一次重新登录与
// 一次原调用重试，第二次失败原样上抛。
func (c *Client) Upload(ctx context.Context, path string, data []byte, mimeType string) (int64, error) {
	err := c.retryNetwork(ctx, "upload", func() error {
		return c.withAuth(ctx, func(token string) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/fs/put", bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("build upload request: %w", err)
			}
			req.Header.Set("Authorization", token)
			req.Header.Set("File-Path", url.PathEscape(c.fullPath(path)))
			if mimeType != "" {
				req.Header.Set("Content-Type", mimeType)
			}
			req.ContentLength = int64(len(data))

			_, err = c.roundTrip(req, "upload")
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// ResolveURL 查询逻辑路径的持久访问地址。
func (c *Client) ResolveURL(ctx context.Context, path string) (string, error) {
	var rawURL string
	err := c.withAuth(ctx, func(token string) error {
		body, err := json.Marshal(map[string]string{"path": c.fullPath(path)})
		if err != nil {
			return fmt.Errorf("encode resolve request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/fs/get", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build resolve request: %w", err)
		}
		req.Header.Set("Authorization", token)
		req.Header.Set("Content-Type", "application/json")

		data, err := c.roundTrip(req, "resolve")
		if err != nil {
			return err
		}
		var payload struct {
			RawURL string `json:"raw_url"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("decode resolve response: %w", err)
		}
		if payload.RawURL == "" {
			return &APIError{Code: http.StatusNotFound, Message: "path has no raw url"}
		}
		rawURL = payload.RawURL
		return nil
	})
	if err != nil {
		return "", err
	}
	return rawURL, nil
}

// Download 下载逻辑路径的原始字节。传输层故障重试一次。
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	rawURL, err := c.ResolveURL(ctx, path)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = c.retryNetwork(ctx, "download", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("build download request: %w", err)
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			return &NetworkError{Op: "download", Err: err}
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return &APIError{Code: resp.StatusCode, Message: "download failed"}
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return &NetworkError{Op: "download", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Holds reports whether the URL already points into this store.
func (c *Client) Holds(rawURL string) bool {
	return c.baseURL != "" && strings.HasPrefix(rawURL, c.baseURL)
}

// fullPath 为逻辑路径加上 root 前缀，空前缀表示无前缀。
func (c *Client) fullPath(path string) string {
	path = strings.TrimLeft(path, "/")
	if c.root == "" {
		return "/" + path
	}
	return "/" + c.root + "/" + path
}

// withAuth 执行需要 token 的调用：token 过期时恰好一次重新登录加
// 一次重试，再失败则原样上抛。
func (c *Client) withAuth(ctx context.Context, call func(token string) error) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	err = call(token)
	if !isAuthExpired(err) {
		return err
	}

	c.log.WithContext(ctx).Info("filestore token expired, re-login once")
	if err := c.Login(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	token = c.token
	c.mu.Unlock()
	return call(token)
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	token = c.token
	c.mu.Unlock()
	return token, nil
}

// retryNetwork 对传输层故障在固定延迟后重试一次，其余错误立即上抛。
func (c *Client) retryNetwork(ctx context.Context, op string, call func() error) error {
	err := call()
	var netErr *NetworkError
	if err == nil || !errors.As(err, &netErr) {
		return err
	}

	c.log.WithContext(ctx).Warnf("filestore %s network failure, retrying once: err=%v", op, err)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.retryDelay):
	}
	return call()
}

// roundTrip 发送请求并解包统一的响应信封。
func (c *Client) roundTrip(req *http.Request, op string) (json.RawMessage, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &APIError{Code: http.StatusUnauthorized, Message: "authentication expired"}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	if env.Code != http.StatusOK {
		return nil, &APIError{Code: env.Code, Message: env.Message}
	}
	return env.Data, nil
}

func isAuthExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.AuthExpired()
}

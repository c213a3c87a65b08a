// Package origin 负责从第三方源站下载原始图片字节。
//
// 源站多为 CDN 前置且带防盗链的"对抗性"地址：按主机名匹配请求头
// 伪装档案（Referer / Origin / User-Agent），否则会被 403 拒绝。
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"
	"github.com/go-kratos/kratos/v2/log"
)

// Payload 为一次成功抓取的结果。
type Payload struct {
	Data     []byte
	MimeType string
}

// StatusError 表示源站返回了非 2xx 状态码。此类错误不重试：
// 对本次尝试而言视为永久失败。
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("origin returned status %d for %s", e.Code, e.URL)
}

// Fetcher 按配置的重试与伪装策略抓取源站图片。
type Fetcher struct {
	httpc    *http.Client
	attempts int
	delay    time.Duration
	profiles []conf.HostProfile
	log      *log.Helper
}

// NewFetcher 构造 Fetcher。配置中的伪装档案排在内置档案之前，
// 因此可以覆盖内置条目。
func NewFetcher(cfg conf.OriginConfig, logger log.Logger) *Fetcher {
	return &Fetcher{
		httpc: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		attempts: cfg.MaxAttempts,
		delay:    cfg.RetryBaseDelay,
		profiles: append(append([]conf.HostProfile(nil), cfg.HostProfiles...), builtinProfiles...),
		log:      log.NewHelper(logger),
	}
}

// Fetch 下载 rawURL 的原始字节。
//
// 重试策略：仅对传输层故障（超时、连接失败）做有界重试并按次数
// 指数退避；非 2xx 响应不重试。Content-Type 取响应头的媒体类型部分。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Payload, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.delay << (attempt - 2)):
			}
		}

		payload, err := f.fetchOnce(ctx, rawURL, parsed.Hostname())
		if err == nil {
			return payload, nil
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) || errors.Is(err, context.Canceled) {
			return nil, err
		}

		lastErr = err
		f.log.WithContext(ctx).Warnf("origin fetch attempt failed: url=%s attempt=%d err=%v", rawURL, attempt, err)
	}
	return nil, fmt.Errorf("origin fetch exhausted after %d attempts: %w", f.attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL, host string) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	f.applyProfile(req, host)

	resp, err := f.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("origin request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read origin body: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = mime[:idx]
	}
	return &Payload{
		Data:     data,
		MimeType: strings.TrimSpace(strings.ToLower(mime)),
	}, nil
}

// applyProfile 按主机后缀匹配第一条伪装档案并应用到请求头。
func (f *Fetcher) applyProfile(req *http.Request, host string) {
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")
	for _, p := range f.profiles {
		if !strings.HasSuffix(host, p.HostSuffix) {
			continue
		}
		if p.Referer != "" {
			req.Header.Set("Referer", p.Referer)
		}
		if p.Origin != "" {
			req.Header.Set("Origin", p.Origin)
		}
		if p.UserAgent != "" {
			req.Header.Set("User-Agent", p.UserAgent)
		}
		return
	}
}

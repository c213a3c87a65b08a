// Package diskguard 周期性采样本地暂存盘的剩余空间，
// 低于水位线时暂停整个批量下载管线（熔断），恢复后自动放行。
package diskguard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sys/unix"

	"github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"
)

// StatfsFunc 返回某路径所在文件系统的可用字节数。
type StatfsFunc func(path string) (uint64, error)

// Guard 是磁盘空间熔断器。采样失败时保持放行（fail-open）：
// 宁可多下载几张图，也不让一次 statfs 抖动卡死整条管线。
type Guard struct {
	path     string
	interval time.Duration
	minFree  uint64
	statfs   StatfsFunc

	paused   atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	log      *log.Helper
}

// Option 定制 Guard 行为，目前仅用于测试替换采样函数。
type Option func(*Guard)

// WithStatfs 替换剩余空间采样实现。
func WithStatfs(fn StatfsFunc) Option {
	return func(g *Guard) { g.statfs = fn }
}

func NewGuard(cfg conf.DiskGuardConfig, logger log.Logger, opts ...Option) *Guard {
	g := &Guard{
		path:     cfg.Path,
		interval: cfg.Interval,
		minFree:  uint64(cfg.MinFreeBytes),
		statfs:   statfsAvail,
		stopCh:   make(chan struct{}),
		log:      log.NewHelper(log.With(logger, "module", "task/diskguard")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsPaused 报告管线当前是否被熔断。
func (g *Guard) IsPaused() bool {
	return g.paused.Load()
}

// Start 立即采样一次，然后按固定间隔重复，直到 Stop 或 ctx 取消。
// 满足 kratos transport.Server 接口，由应用生命周期托管。
func (g *Guard) Start(ctx context.Context) error {
	g.log.Infof("disk guard started: path=%s min_free=%d interval=%s", g.path, g.minFree, g.interval)
	g.sample()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.stopCh:
			return nil
		case <-ticker.C:
			g.sample()
		}
	}
}

// Stop 终止采样循环，幂等。
func (g *Guard) Stop(_ context.Context) error {
	g.stopOnce.Do(func() { close(g.stopCh) })
	return nil
}

func (g *Guard) sample() {
	free, err := g.statfs(g.path)
	if err != nil {
		g.log.Warnf("statfs %s failed, keeping pipeline open: %v", g.path, err)
		g.paused.Store(false)
		return
	}

	paused := free < g.minFree
	if paused != g.paused.Swap(paused) {
		if paused {
			g.log.Warnf("free space %d below watermark %d, pausing pipeline", free, g.minFree)
		} else {
			g.log.Infof("free space %d recovered above watermark %d, resuming pipeline", free, g.minFree)
		}
	}
}

func statfsAvail(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// Package mediasweep 是缓存索引的补偿任务：按固定周期扫描到期的
// pending 记录，抢占下载权后并发搬运，失败按退避表重新排队。
package mediasweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	txmanager "github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"
	"github.com/bionicotaku/lingo-services-media/internal/models/po"
	"github.com/bionicotaku/lingo-services-media/internal/services"
)

// Breaker 在每个扫描周期开始前被询问一次；暂停时整个周期跳过。
type Breaker interface {
	IsPaused() bool
}

// cacheIndex 是补偿任务需要的索引操作子集。
type cacheIndex interface {
	DueForRetry(ctx context.Context, sess txmanager.Session, limit int32) ([]*po.ImageCacheRecord, error)
	Claim(ctx context.Context, sess txmanager.Session, id uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, sess txmanager.Session, id uuid.UUID, location string, size int64, mimeType string) error
	MarkFailed(ctx context.Context, sess txmanager.Session, id uuid.UUID, cause string, nextRetryAt *time.Time) (po.ImageCacheStatus, int32, error)
}

// transferrer 执行共享的抓取+上传序列。
type transferrer interface {
	Transfer(ctx context.Context, originalURL, urlHash string, kind po.EntityKind) (*services.TransferResult, error)
}

// RunnerParams 注入构建 Runner 所需的依赖。
type RunnerParams struct {
	Index    cacheIndex
	Transfer transferrer
	Breaker  Breaker
	Sweeper  conf.SweeperConfig
	Backoff  []time.Duration
	Logger   log.Logger
	Now      func() time.Time
}

// Runner 驱动扫描循环，实现 kratos transport.Server 接口。
type Runner struct {
	index       cacheIndex
	transfer    transferrer
	breaker     Breaker
	interval    time.Duration
	batchSize   int32
	concurrency int
	backoff     []time.Duration
	now         func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	log      *log.Helper
}

func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Index == nil {
		return nil, fmt.Errorf("mediasweep: cache index is required")
	}
	if params.Transfer == nil {
		return nil, fmt.Errorf("mediasweep: transfer service is required")
	}
	if params.Breaker == nil {
		return nil, fmt.Errorf("mediasweep: disk breaker is required")
	}
	if len(params.Backoff) == 0 {
		return nil, fmt.Errorf("mediasweep: backoff table is required")
	}

	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		index:       params.Index,
		transfer:    params.Transfer,
		breaker:     params.Breaker,
		interval:    params.Sweeper.Interval,
		batchSize:   params.Sweeper.BatchSize,
		concurrency: params.Sweeper.Concurrency,
		backoff:     params.Backoff,
		now:         now,
		stopCh:      make(chan struct{}),
		log:         log.NewHelper(log.With(params.Logger, "module", "task/mediasweep")),
	}, nil
}

// Start 立即执行一轮扫描，之后按固定间隔重复。
// 周期内的搬运在循环协程里同步收尾，Stop 天然等待在途工作排空。
func (r *Runner) Start(ctx context.Context) error {
	r.log.Infof("media sweep started: interval=%s batch=%d concurrency=%d", r.interval, r.batchSize, r.concurrency)
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stopCh:
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// Stop 请求停止扫描循环，幂等。
func (r *Runner) Stop(_ context.Context) error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	return nil
}

// sweep 执行一个完整周期：熔断检查 → 取批 → 抢占 → 并发搬运 → 等待收尾。
func (r *Runner) sweep(ctx context.Context) {
	if r.breaker.IsPaused() {
		r.log.Warnf("disk breaker is paused, skipping sweep cycle")
		return
	}

	records, err := r.index.DueForRetry(ctx, nil, r.batchSize)
	if err != nil {
		r.log.Errorf("list due records: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}
	r.log.Debugf("sweep cycle picked up %d due records", len(records))

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			r.process(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
}

// process 处理单条记录；抢占失败说明请求路径已经接手，静默跳过。
func (r *Runner) process(ctx context.Context, rec *po.ImageCacheRecord) {
	won, err := r.index.Claim(ctx, nil, rec.ID)
	if err != nil {
		r.log.Warnf("claim %s: %v", rec.ID, err)
		return
	}
	if !won {
		return
	}

	result, err := r.transfer.Transfer(ctx, rec.OriginalURL, rec.URLHash, po.EntityKind(""))
	if err != nil {
		next := r.now().Add(r.backoffFor(rec.RetryCount))
		status, count, ferr := r.index.MarkFailed(ctx, nil, rec.ID, err.Error(), &next)
		if ferr != nil {
			r.log.Errorf("mark failed %s: %v", rec.ID, ferr)
			return
		}
		if status == po.ImageCacheStatusFailed {
			r.log.Warnf("record %s exhausted retries (%d), now terminal: %v", rec.ID, count, err)
		} else {
			r.log.Warnf("record %s attempt %d failed, retry at %s: %v", rec.ID, count, next.Format(time.RFC3339), err)
		}
		return
	}

	if err := r.index.MarkCompleted(ctx, nil, rec.ID, result.Location, result.Size, result.MimeType); err != nil {
		r.log.Errorf("mark completed %s: %v", rec.ID, err)
		// 不能让记录停在 downloading，退回 pending 等下一轮重试。
		next := r.now().Add(r.backoffFor(rec.RetryCount))
		if _, _, ferr := r.index.MarkFailed(ctx, nil, rec.ID, err.Error(), &next); ferr != nil {
			r.log.Errorf("mark failed %s: %v", rec.ID, ferr)
		}
		return
	}
	r.log.Infof("record %s completed: %s (%d bytes)", rec.ID, result.Location, result.Size)
}

// backoffFor 按已失败次数取退避表项，越界时重复最后一项。
func (r *Runner) backoffFor(retryCount int32) time.Duration {
	idx := int(retryCount)
	if idx >= len(r.backoff) {
		idx = len(r.backoff) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return r.backoff[idx]
}

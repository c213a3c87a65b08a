package repositories_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/bionicotaku/lingo-services-media/internal/models/po"
	"github.com/bionicotaku/lingo-services-media/internal/repositories"
	"github.com/bionicotaku/lingo-services-media/internal/services"
)

func startPostgres(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "media",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://postgres:postgres@%s:%s/media?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("skip integration: cannot start postgres container: %v", err)
		return "", func() {}
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/media?sslmode=disable", host, port.Port())
	cleanup := func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(termCtx)
	}
	return dsn, cleanup
}

func applyAllMigrations(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	migrationsDir := filepath.Join("..", "..", "..", "migrations")
	files, err := os.ReadDir(migrationsDir)
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".sql" {
			continue
		}
		paths = append(paths, filepath.Join(migrationsDir, f.Name()))
	}
	sort.Strings(paths)

	for _, path := range paths {
		sqlBytes, readErr := os.ReadFile(path)
		require.NoError(t, readErr)
		_, execErr := pool.Exec(ctx, string(sqlBytes))
		require.NoErrorf(t, execErr, "apply migration %s", filepath.Base(path))
	}
}

func newRepo(pool *pgxpool.Pool, ceiling int32) *repositories.ImageCacheRepository {
	return repositories.NewImageCacheRepository(pool, ceiling, log.NewStdLogger(io.Discard))
}

func TestImageCacheRepository_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn, terminate := startPostgres(ctx, t)
	defer terminate()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	applyAllMigrations(ctx, t, pool)

	repo := newRepo(pool, 3)
	originalURL := "https://cdn.example/lifecycle.jpg"
	hash := services.ContentAddress(originalURL)

	created, err := repo.CreateIfAbsent(ctx, nil, originalURL, hash)
	require.NoError(t, err)
	require.True(t, created)

	// 同 hash 重复插入必须静默跳过。
	again, err := repo.CreateIfAbsent(ctx, nil, originalURL, hash)
	require.NoError(t, err)
	require.False(t, again)

	rec, err := repo.FindByHash(ctx, nil, hash)
	require.NoError(t, err)
	require.Equal(t, po.ImageCacheStatusPending, rec.Status)
	require.Equal(t, originalURL, rec.OriginalURL)

	won, err := repo.Claim(ctx, nil, rec.ID)
	require.NoError(t, err)
	require.True(t, won)

	// downloading 状态下不可再次认领。
	lost, err := repo.Claim(ctx, nil, rec.ID)
	require.NoError(t, err)
	require.False(t, lost)

	require.NoError(t, repo.MarkCompleted(ctx, nil, rec.ID, "https://store.example/creator/"+hash+".jpg", 2048, "image/jpeg"))

	done, err := repo.FindByHash(ctx, nil, hash)
	require.NoError(t, err)
	require.Equal(t, po.ImageCacheStatusCompleted, done.Status)
	require.NotNil(t, done.RemoteLocation)
	require.Equal(t, "https://store.example/creator/"+hash+".jpg", *done.RemoteLocation)
	require.NotNil(t, done.FileSize)
	require.EqualValues(t, 2048, *done.FileSize)
	require.EqualValues(t, 1, done.AccessCount)
	require.NotNil(t, done.FirstAccessedAt)

	repo.RecordAccess(ctx, nil, rec.ID)
	hit, err := repo.FindByHash(ctx, nil, hash)
	require.NoError(t, err)
	require.EqualValues(t, 2, hit.AccessCount)

	stats, err := repo.Stats(ctx, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Total)
	require.EqualValues(t, 1, stats.Completed)
}

func TestImageCacheRepository_ClaimIsExclusiveUnderConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn, terminate := startPostgres(ctx, t)
	defer terminate()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	applyAllMigrations(ctx, t, pool)

	repo := newRepo(pool, 3)
	hash := services.ContentAddress("https://cdn.example/contended.jpg")
	_, err = repo.CreateIfAbsent(ctx, nil, "https://cdn.example/contended.jpg", hash)
	require.NoError(t, err)
	rec, err := repo.FindByHash(ctx, nil, hash)
	require.NoError(t, err)

	const contenders = 10
	var wg sync.WaitGroup
	wins := make(chan bool, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, claimErr := repo.Claim(ctx, nil, rec.ID)
			require.NoError(t, claimErr)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	require.Equal(t, 1, winners, "exactly one contender may win the claim")
}

func TestImageCacheRepository_MarkFailedProgressesToTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn, terminate := startPostgres(ctx, t)
	defer terminate()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	applyAllMigrations(ctx, t, pool)

	repo := newRepo(pool, 3)
	hash := services.ContentAddress("https://cdn.example/flaky.jpg")
	_, err = repo.CreateIfAbsent(ctx, nil, "https://cdn.example/flaky.jpg", hash)
	require.NoError(t, err)
	rec, err := repo.FindByHash(ctx, nil, hash)
	require.NoError(t, err)

	// 第一次失败：回到 pending，带未来的重试时间，冷却期内不可认领。
	future := time.Now().Add(time.Hour)
	status, count, err := repo.MarkFailed(ctx, nil, rec.ID, "origin timeout", &future)
	require.NoError(t, err)
	require.Equal(t, po.ImageCacheStatusPending, status)
	require.EqualValues(t, 1, count)

	won, err := repo.Claim(ctx, nil, rec.ID)
	require.NoError(t, err)
	require.False(t, won, "cooldown must block the claim")

	due, err := repo.DueForRetry(ctx, nil, 10)
	require.NoError(t, err)
	require.Empty(t, due, "cooldown must hide the record from the sweep")

	// 把重试时间拨到过去后重新可认领、可扫描。
	past := time.Now().Add(-time.Minute)
	_, _, err = repo.MarkFailed(ctx, nil, rec.ID, "origin timeout again", &past)
	require.NoError(t, err)

	due, err = repo.DueForRetry(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	won, err = repo.Claim(ctx, nil, rec.ID)
	require.NoError(t, err)
	require.True(t, won)

	// 第三次失败触顶：终态 failed，清空重试时间，此后不可认领不可扫描。
	status, count, err = repo.MarkFailed(ctx, nil, rec.ID, "origin gave up", &future)
	require.NoError(t, err)
	require.Equal(t, po.ImageCacheStatusFailed, status)
	require.EqualValues(t, 3, count)

	terminal, err := repo.FindByHash(ctx, nil, hash)
	require.NoError(t, err)
	require.Nil(t, terminal.NextRetryAt)
	require.NotNil(t, terminal.LastError)

	won, err = repo.Claim(ctx, nil, rec.ID)
	require.NoError(t, err)
	require.False(t, won)

	due, err = repo.DueForRetry(ctx, nil, 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestImageCacheRepository_DueForRetryOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn, terminate := startPostgres(ctx, t)
	defer terminate()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	applyAllMigrations(ctx, t, pool)

	repo := newRepo(pool, 3)
	urls := []string{
		"https://cdn.example/oldest.jpg",
		"https://cdn.example/middle.jpg",
		"https://cdn.example/newest.jpg",
	}
	for i, u := range urls {
		_, err := repo.CreateIfAbsent(ctx, nil, u, services.ContentAddress(u))
		require.NoError(t, err)
		_, err = pool.Exec(ctx,
			`UPDATE media.image_cache SET created_at = now() - ($2 || ' minutes')::interval WHERE url_hash = $1`,
			services.ContentAddress(u), fmt.Sprintf("%d", len(urls)-i))
		require.NoError(t, err)
	}

	due, err := repo.DueForRetry(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, urls[0], due[0].OriginalURL)
	require.Equal(t, urls[1], due[1].OriginalURL)
}

func TestEntityMediaRepository_WriteBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn, terminate := startPostgres(ctx, t)
	defer terminate()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	applyAllMigrations(ctx, t, pool)

	repo := repositories.NewEntityMediaRepository(pool, log.NewStdLogger(io.Discard))
	creatorID := uuid.New()
	_, err = pool.Exec(ctx,
		`INSERT INTO media.creators (creator_id, display_name, avatar_url) VALUES ($1, 'tester', 'https://cdn.example/avatar.jpg')`,
		creatorID)
	require.NoError(t, err)

	location := "https://store.example/creator/abc.jpg"
	updated, err := repo.WriteBack(ctx, nil, po.EntityKindCreator, creatorID, location)
	require.NoError(t, err)
	require.True(t, updated)

	// 相同值重复回写应当是空操作。
	updated, err = repo.WriteBack(ctx, nil, po.EntityKindCreator, creatorID, location)
	require.NoError(t, err)
	require.False(t, updated)

	// 实体不存在时静默返回未更新。
	updated, err = repo.WriteBack(ctx, nil, po.EntityKindVideo, uuid.New(), location)
	require.NoError(t, err)
	require.False(t, updated)

	_, err = repo.WriteBack(ctx, nil, po.EntityKind("channel"), creatorID, location)
	require.Error(t, err)

	var stored string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT cached_avatar_url FROM media.creators WHERE creator_id = $1`, creatorID).Scan(&stored))
	require.Equal(t, location, stored)
}

package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"gallerysync/pkg/pipeline"
	"gallerysync/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestRepo 构建隔离的测试环境
func setupTestRepo(t *testing.T) *Repository {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	jdb := NewWithConn(db)
	require.NoError(t, jdb.AutoMigrate())

	return NewRepository(jdb)
}

func sampleReport(id string, started time.Time) *pipeline.Report {
	return &pipeline.Report{
		RunID:      id,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Assets:     2,
		Discovered: 3,
		Hashed:     3,
		Checked:    3,
		Uploaded:   1,
		Present:    2,
		Reconciled: 2,
		Unchanged:  1,
	}
}

func TestRepository_RunLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	// 1. 准备数据
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rep := sampleReport("run-1", started)
	rep.Failed = 1
	rep.Errors = []*pipeline.StageError{{
		Stage:   pipeline.StageUpload,
		Asset:   "A",
		Variant: "Trips/IMG_1.JPG",
		Err:     fmt.Errorf("%w: broken pipe", pipeline.ErrChunkUpload),
	}}

	// 2. 写入
	require.NoError(t, repo.SaveRun(ctx, rep))

	// 3. 读取并验证
	run, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, 1, run.Uploaded)
	assert.Equal(t, 2, run.Present)
	assert.True(t, started.Equal(run.StartedAt.UTC()))

	entries, err := RunErrors(run)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "upload", entries[0].Stage)
	assert.Equal(t, "chunk upload failed: broken pipe", entries[0].Error)

	// 验证 JSON 存储
	assert.JSONEq(t, `[{"stage":"upload","asset":"A","variant":"Trips/IMG_1.JPG","error":"chunk upload failed: broken pipe"}]`, string(run.Errors))
}

func TestRepository_SaveRunIsIdempotent(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	rep := sampleReport("run-1", time.Now())
	require.NoError(t, repo.SaveRun(ctx, rep))

	rep.Cancelled = 4
	require.NoError(t, repo.SaveRun(ctx, rep), "同一个 RunID 再次保存应该覆盖")

	run, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, run.Status)
	assert.Equal(t, 4, run.Cancelled)

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRepository_GetRun_NotFound(t *testing.T) {
	repo := setupTestRepo(t)
	_, err := repo.GetRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestRepository_ListRuns_Order(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SaveRun(ctx, sampleReport(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := repo.ListRuns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-4", runs[0].ID, "最近的在前")
	assert.Equal(t, "run-2", runs[2].ID)
	assert.Equal(t, StatusOK, runs[0].Status)
}

func TestRepository_Uploads(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	fp := types.Fingerprint("0123456789abcdef0123456789abcdef")

	require.NoError(t, repo.RecordUpload(ctx, pipeline.Upload{
		RunID: "run-1", AssetID: "A", Path: "a.jpg", Fingerprint: fp,
		RemoteID: 41, Name: "a.jpg", Size: 10, Chunks: 1, Duration: 1500 * time.Millisecond,
	}))
	require.NoError(t, repo.RecordUpload(ctx, pipeline.Upload{
		RunID: "run-2", AssetID: "A", Path: "a.jpg", Fingerprint: fp,
		RemoteID: 42, Name: "a.jpg", Size: 10, Chunks: 1,
	}))

	// 最近一次
	u, err := repo.FindUpload(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.RemoteID)

	uploads, err := repo.UploadsForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, int64(1500), uploads[0].DurationMs)

	_, err = repo.FindUpload(ctx, "ffffffffffffffffffffffffffffffff")
	assert.ErrorIs(t, err, ErrUploadNotFound)
}

func TestOpen_SQLiteFile(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "journal.db")
	db, err := Open(context.Background(), Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.SaveRun(context.Background(), sampleReport("run-x", time.Now())))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported journal driver")
}

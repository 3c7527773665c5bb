package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gallerysync/pkg/pipeline"
	"gallerysync/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRunNotFound    = errors.New("run not found in journal")
	ErrUploadNotFound = errors.New("upload not found in journal")
)

const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Repository 封装所有对运行日志的读写
// journal 只是历史记录，流水线从不依赖它做决策
type Repository struct {
	db *DB
}

var _ pipeline.UploadRecorder = (*Repository)(nil)

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// -----------------------------------------------------------------------------
// 1. 上传记录
// -----------------------------------------------------------------------------

func (r *Repository) RecordUpload(ctx context.Context, u pipeline.Upload) error {
	model := UploadModel{
		RunID:       u.RunID,
		Fingerprint: u.Fingerprint.String(),
		RemoteID:    int64(u.RemoteID),
		AssetID:     u.AssetID,
		Path:        u.Path,
		Name:        u.Name,
		Size:        u.Size,
		Chunks:      u.Chunks,
		DurationMs:  u.Duration.Milliseconds(),
	}
	if err := r.db.GetConn().WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

// FindUpload 返回某个指纹最近一次的上传记录
func (r *Repository) FindUpload(ctx context.Context, fp types.Fingerprint) (*UploadModel, error) {
	var u UploadModel
	err := r.db.GetConn().WithContext(ctx).
		Where("fingerprint = ?", fp.String()).
		Order("id DESC").
		First(&u).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) UploadsForRun(ctx context.Context, runID string) ([]UploadModel, error) {
	var uploads []UploadModel
	err := r.db.GetConn().WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&uploads).Error
	return uploads, err
}

// -----------------------------------------------------------------------------
// 2. 运行汇总
// -----------------------------------------------------------------------------

// SaveRun 把 Report 投影到数据库
// 同一个 RunID 再次保存会覆盖 (幂等写入)
func (r *Repository) SaveRun(ctx context.Context, rep *pipeline.Report) error {
	// 1. 转换错误列表
	entries := make([]ErrorEntry, 0, len(rep.Errors))
	for _, e := range rep.Errors {
		entries = append(entries, ErrorEntry{
			Stage:   string(e.Stage),
			Asset:   e.Asset,
			Variant: e.Variant,
			Error:   e.Err.Error(),
		})
	}
	errorsJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	// 2. 构造 Model
	model := RunModel{
		ID:            rep.RunID,
		StartedAt:     rep.StartedAt,
		FinishedAt:    rep.FinishedAt,
		Status:        statusOf(rep),
		Assets:        rep.Assets,
		Discovered:    rep.Discovered,
		AlbumsCreated: rep.AlbumsCreated,
		Hashed:        rep.Hashed,
		Unavailable:   rep.Unavailable,
		Checked:       rep.Checked,
		Present:       rep.Present,
		Uploaded:      rep.Uploaded,
		Deduplicated:  rep.Deduplicated,
		Reconciled:    rep.Reconciled,
		Unchanged:     rep.Unchanged,
		Failed:        rep.Failed,
		Cancelled:     rep.Cancelled,
		Errors:        datatypes.JSON(errorsJSON),
	}

	// 3. 写入 (冲突时整行覆盖)
	err = r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (r *Repository) GetRun(ctx context.Context, id string) (*RunModel, error) {
	var run RunModel
	err := r.db.GetConn().WithContext(ctx).
		Where("id = ?", id).
		First(&run).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns 按开始时间倒序返回最近的运行
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]RunModel, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []RunModel
	err := r.db.GetConn().WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// RunErrors 解码 RunModel.Errors
func RunErrors(run *RunModel) ([]ErrorEntry, error) {
	if len(run.Errors) == 0 {
		return nil, nil
	}
	var entries []ErrorEntry
	if err := json.Unmarshal(run.Errors, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode run errors: %w", err)
	}
	return entries, nil
}

func statusOf(rep *pipeline.Report) string {
	switch {
	case rep.Cancelled > 0:
		return StatusCancelled
	case rep.Failed > 0:
		return StatusFailed
	default:
		return StatusOK
	}
}

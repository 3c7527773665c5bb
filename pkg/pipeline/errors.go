package pipeline

import (
	"errors"
	"fmt"

	"gallerysync/pkg/album"
)

var (
	// ErrFileUnavailable 文件在枚举之后、读取之前消失了
	ErrFileUnavailable = errors.New("file unavailable")
	// ErrHash 读取文件内容失败 (权限、IO 错误)
	ErrHash = errors.New("hash failed")
	// ErrBatchQuery 批量存在性查询在重试之后仍然失败
	ErrBatchQuery = errors.New("existence batch query failed")
	// ErrChunkUpload 某个分块上传失败
	ErrChunkUpload = errors.New("chunk upload failed")
	// ErrContentChanged 上传时读到的内容和计算指纹时不一致
	ErrContentChanged = errors.New("content changed since hashing")
	// ErrFinalize pwg.images.add 失败
	ErrFinalize = errors.New("finalize upload failed")
	// ErrAlbumCreate 资产依赖的相册没能创建
	ErrAlbumCreate = album.ErrCreate
	// ErrReconcile 读取或更新相册归属失败
	ErrReconcile = errors.New("album reconcile failed")
	// ErrCancelled 运行被取消，条目没有被处理
	ErrCancelled = errors.New("cancelled")
)

// Stage 标识出错的阶段
type Stage string

const (
	StageAlbums    Stage = "albums"
	StageHash      Stage = "hash"
	StageCheck     Stage = "check"
	StageUpload    Stage = "upload"
	StageReconcile Stage = "reconcile"
)

// StageError 记录某个条目在某个阶段的失败
type StageError struct {
	Stage   Stage
	Asset   string // Asset ID，相册阶段为空
	Variant string // 文件 key 或相册路径
	Err     error
}

func (e *StageError) Error() string {
	if e.Asset == "" {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Variant, e.Err)
	}
	return fmt.Sprintf("[%s] %s (%s): %v", e.Stage, e.Variant, e.Asset, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func newStageError(stage Stage, it Item, err error) *StageError {
	return &StageError{Stage: stage, Asset: it.Asset.ID, Variant: it.Variant.Path, Err: err}
}

package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound = errors.New("object not found")
)

// Store defines the read side of a media library backend.
// Keys are slash-separated paths relative to the library root.
// Implementations can be local disk or an S3 compatible bucket.
type Store interface {
	// Open 打开一个文件用于流式读取
	// 文件不存在时必须返回 ErrNotFound (可以被 errors.Is 识别)
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// List 返回库里所有文件的 key，顺序稳定 (字典序)
	List(ctx context.Context) ([]string, error)
}

// Info 是一个文件的元数据
type Info struct {
	Key        string
	Size       int64
	ModifiedAt time.Time
}

// Statter 是可选能力：不打开文件就能拿到大小和修改时间
// 实现了它的 Store 可以配合指纹缓存跳过未修改的文件
type Statter interface {
	Stat(ctx context.Context, key string) (Info, error)
}

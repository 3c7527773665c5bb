package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gallerysync/pkg/chunker"
	"gallerysync/pkg/core"
	"gallerysync/pkg/gallery"
	"gallerysync/pkg/storage"
	"gallerysync/pkg/types"

	"golang.org/x/sync/singleflight"
)

// Upload 描述一次成功的上传，交给 UploadRecorder 持久化
type Upload struct {
	RunID       string
	AssetID     string
	Path        string
	Fingerprint types.Fingerprint
	RemoteID    types.AssetID
	Name        string
	Size        int64
	Chunks      int
	Duration    time.Duration
}

// UploadRecorder 接收每一次成功的上传
// 记录失败不影响流水线
type UploadRecorder interface {
	RecordUpload(ctx context.Context, u Upload) error
}

// uploadStage 把远端不存在的文件分块上传并提交
// 每个 worker 独立负责一个条目的完整上传
type uploadStage struct {
	base
	in, out *Queue
	store   storage.Store
	remote  gallery.Gallery
	chunker *chunker.Chunker
	album   types.AlbumID
	runID   string
	journal UploadRecorder

	// 同一次运行里，相同内容只上传一次
	flight singleflight.Group
	mu     sync.Mutex
	done   map[types.Fingerprint]types.AssetID
}

func newUploadStage(rep *recorder, in, out *Queue, store storage.Store, remote gallery.Gallery, cfg Config, runID string, journal UploadRecorder) *uploadStage {
	return &uploadStage{
		base:    base{stage: StageUpload, rep: rep},
		in:      in,
		out:     out,
		store:   store,
		remote:  remote,
		chunker: chunker.NewChunker(cfg.ChunkSize),
		album:   cfg.DefaultAlbum,
		runID:   runID,
		journal: journal,
		done:    make(map[types.Fingerprint]types.AssetID),
	}
}

func (s *uploadStage) run(ctx context.Context) {
	s.serve(ctx, s.in, s.handle)
}

func (s *uploadStage) uploaded(fp types.Fingerprint) (types.AssetID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.done[fp]
	return id, ok
}

// ownFailure 报告错误是否只和领头条目自己的文件有关
// 内容相同的其他条目不应该继承这种错误
func ownFailure(err error) bool {
	return errors.Is(err, ErrFileUnavailable) || errors.Is(err, ErrContentChanged)
}

func (s *uploadStage) handle(ctx context.Context, it Item) {
	fp := it.Fingerprint

	var (
		v      any
		err    error
		leader bool
	)
	for attempt := 0; ; attempt++ {
		leader = false
		v, err, _ = s.flight.Do(fp.String(), func() (any, error) {
			// 另一个条目已经上传过同样的内容
			if id, ok := s.uploaded(fp); ok {
				return id, nil
			}
			leader = true

			id, err := s.upload(ctx, it)
			if err != nil {
				return types.AssetID(0), err
			}
			s.mu.Lock()
			s.done[fp] = id
			s.mu.Unlock()
			return id, nil
		})
		if err == nil || leader || attempt > 0 || !ownFailure(err) {
			break
		}
		// 领头条目的文件坏了，用自己的文件再来一次
		slog.DebugContext(ctx, "leader upload failed, retrying with own file",
			slog.String("file", it.Variant.Path),
			slog.String("err", err.Error()))
	}
	if err != nil {
		s.failOrCancel(ctx, it, err)
		return
	}

	it.RemoteID = v.(types.AssetID)
	if leader {
		s.rep.update(func(r *Report) { r.Uploaded++ })
	} else {
		slog.InfoContext(ctx, "same content already uploaded in this run",
			slog.String("file", it.Variant.Path),
			slog.Int64("id", int64(it.RemoteID)))
		s.rep.update(func(r *Report) { r.Deduplicated++ })
	}
	s.out.Put(it)
}

// upload 顺序发送所有分块，然后提交
// 任何一步失败都直接放弃，不会调用 finalize
func (s *uploadStage) upload(ctx context.Context, it Item) (types.AssetID, error) {
	start := time.Now()
	fp := it.Fingerprint
	filename := core.UploadName(it.Asset, fp)

	rc, err := s.store.Open(ctx, it.Variant.Path)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%w: %w", ErrFileUnavailable, err)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrChunkUpload, err)
	}
	defer rc.Close()

	slog.DebugContext(ctx, "uploading",
		slog.String("file", it.Variant.Path),
		slog.Int64("size", it.Size),
		slog.Int("chunks", len(s.chunker.Cut(int(it.Size)))))

	// 1. 边读边校验：文件在 hash 之后被改过就不能提交
	sum := core.NewFingerprinter()
	chunks, err := s.chunker.Split(io.TeeReader(rc, sum), func(position int, data []byte) error {
		slog.DebugContext(ctx, "uploading chunk",
			slog.String("file", filename),
			slog.Int("position", position),
			slog.Int("bytes", len(data)))
		return s.remote.UploadChunk(ctx, fp, position, data)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: after %d chunks: %w", ErrChunkUpload, chunks, err)
	}
	if got := sum.Sum(); got != fp {
		return 0, fmt.Errorf("%w: %w (%s != %s)", ErrChunkUpload, ErrContentChanged, got.Short(), fp.Short())
	}

	// 2. 提交；API 要求至少一个相册，真正的归属由 reconcile 决定
	id, err := s.remote.FinalizeUpload(ctx, gallery.FinalizeRequest{
		Fingerprint: fp,
		Categories:  []types.AlbumID{s.album},
		Filename:    filename,
		Name:        core.DisplayName(it.Asset, fp),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFinalize, err)
	}

	slog.InfoContext(ctx, "uploaded",
		slog.String("file", it.Variant.Path),
		slog.String("as", filename),
		slog.Int64("id", int64(id)),
		slog.Int("chunks", chunks))

	// 3. 记账，失败只打日志
	if s.journal != nil {
		rec := Upload{
			RunID:       s.runID,
			AssetID:     it.Asset.ID,
			Path:        it.Variant.Path,
			Fingerprint: fp,
			RemoteID:    id,
			Name:        filename,
			Size:        sum.Size(),
			Chunks:      chunks,
			Duration:    time.Since(start),
		}
		if err := s.journal.RecordUpload(ctx, rec); err != nil {
			slog.WarnContext(ctx, "failed to record upload", slog.String("err", err.Error()))
		}
	}

	return id, nil
}

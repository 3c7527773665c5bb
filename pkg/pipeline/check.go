package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gallerysync/pkg/gallery"
	"gallerysync/pkg/types"

	"github.com/cenkalti/backoff/v5"
)

// checkStage 把指纹攒成批次，一次请求查询整批的存在性
//
// 批次策略是贪心的 micro-batch：阻塞等待第一个条目，
// 然后不阻塞地取走队列里已有的条目，直到 maxBatch
type checkStage struct {
	base
	in        *Queue
	upload    *Queue // 远端不存在
	reconcile *Queue // 远端已存在
	remote    gallery.Gallery

	maxBatch   int
	attempts   uint
	newBackOff func() backoff.BackOff
}

func newCheckStage(rep *recorder, in, upload, reconcile *Queue, remote gallery.Gallery, cfg Config) *checkStage {
	interval := cfg.RetryInterval
	return &checkStage{
		base:      base{stage: StageCheck, rep: rep},
		in:        in,
		upload:    upload,
		reconcile: reconcile,
		remote:    remote,
		maxBatch:  cfg.MaxBatch,
		attempts:  uint(cfg.Retries) + 1,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = interval
			b.MaxInterval = 30 * interval
			return b
		},
	}
}

func (s *checkStage) run(ctx context.Context) {
	for {
		batch, ok := s.next()
		if !ok {
			return
		}
		slog.DebugContext(ctx, "existence batch",
			slog.Int("size", len(batch)),
			slog.Int("backlog", s.in.Len()))
		s.process(ctx, batch)
	}
}

// next 取下一批；队列关闭且为空时返回 false
func (s *checkStage) next() ([]Item, bool) {
	first, ok := <-s.in.Items()
	if !ok {
		return nil, false
	}

	batch := []Item{first}
	for len(batch) < s.maxBatch {
		select {
		case it, ok := <-s.in.Items():
			if !ok {
				return batch, true
			}
			batch = append(batch, it)
		default:
			return batch, true
		}
	}
	return batch, true
}

func (s *checkStage) process(ctx context.Context, batch []Item) {
	// routed 之前的条目已经交给下游，panic 时只记剩下的
	routed := 0
	defer func() {
		for range batch {
			s.in.Done()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			for _, it := range batch[routed:] {
				s.recoverFromPanic(ctx, it, r)
			}
		}
	}()

	if ctx.Err() != nil {
		for _, it := range batch {
			s.cancel(it)
		}
		return
	}

	fps := uniqueFingerprints(batch)
	slog.InfoContext(ctx, "checking existence", slog.Int("batch", len(batch)), slog.Int("unique", len(fps)))

	result, err := s.query(ctx, fps)
	if err != nil {
		// 没有部分结果可用：整批失败，不猜测任何条目的去向
		for _, it := range batch {
			s.failOrCancel(ctx, it, fmt.Errorf("%w: %w", ErrBatchQuery, err))
		}
		return
	}

	for i, it := range batch {
		routed = i
		id, answered := result[it.Fingerprint]
		switch {
		case !answered:
			s.fail(ctx, it, fmt.Errorf("%w: no answer for %s", ErrBatchQuery, it.Fingerprint))
		case id == nil:
			slog.InfoContext(ctx, "need to upload", slog.String("file", it.Variant.Path), slog.String("md5", it.Fingerprint.Short()))
			s.rep.update(func(r *Report) { r.Checked++ })
			s.upload.Put(it)
		default:
			slog.InfoContext(ctx, "already uploaded", slog.String("file", it.Variant.Path), slog.Int64("id", int64(*id)))
			it.RemoteID = *id
			it.Existing = true
			s.rep.update(func(r *Report) { r.Checked++; r.Present++ })
			s.reconcile.Put(it)
		}
	}
	routed = len(batch)
}

// query 带有限次数重试的批量查询
func (s *checkStage) query(ctx context.Context, fps []types.Fingerprint) (map[types.Fingerprint]*types.AssetID, error) {
	op := func() (map[types.Fingerprint]*types.AssetID, error) {
		result, err := s.remote.CheckExistence(ctx, fps)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return result, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "existence check failed, retrying",
				slog.Int("batch", len(fps)),
				slog.Duration("in", next),
				slog.String("err", err.Error()))
		}),
	)
}

func uniqueFingerprints(batch []Item) []types.Fingerprint {
	seen := make(map[types.Fingerprint]struct{}, len(batch))
	out := make([]types.Fingerprint, 0, len(batch))
	for _, it := range batch {
		if _, dup := seen[it.Fingerprint]; dup {
			continue
		}
		seen[it.Fingerprint] = struct{}{}
		out = append(out, it.Fingerprint)
	}
	return out
}

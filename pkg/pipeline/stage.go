package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// base 是所有 stage 共享的记账逻辑
type base struct {
	stage Stage
	rep   *recorder
}

func (b base) fail(ctx context.Context, it Item, err error) {
	se := newStageError(b.stage, it, err)
	slog.ErrorContext(ctx, "item failed",
		slog.String("stage", string(b.stage)),
		slog.String("file", it.Variant.Path),
		slog.String("err", err.Error()))
	b.rep.fail(se)
}

func (b base) cancel(it Item) {
	b.rep.update(func(r *Report) { r.Cancelled++ })
}

// failOrCancel 把取消引起的失败计入 Cancelled 而不是 Failed
func (b base) failOrCancel(ctx context.Context, it Item, err error) {
	if ctx.Err() != nil {
		b.cancel(it)
		return
	}
	b.fail(ctx, it, err)
}

// serve 持续处理 q 直到它被关闭
// 每个条目都会被 Done：包括失败、取消和 panic
func (b base) serve(ctx context.Context, q *Queue, handle func(context.Context, Item)) {
	for it := range q.Items() {
		b.process(ctx, q, it, handle)
	}
}

func (b base) process(ctx context.Context, q *Queue, it Item, handle func(context.Context, Item)) {
	defer q.Done()
	defer func() {
		if r := recover(); r != nil {
			b.recoverFromPanic(ctx, it, r)
		}
	}()

	// 已取消：不再发起任何网络请求，只负责把队列排空
	if ctx.Err() != nil {
		b.cancel(it)
		return
	}
	handle(ctx, it)
}

func (b base) recoverFromPanic(ctx context.Context, it Item, p any) {
	slog.ErrorContext(ctx, "🔥 PANIC RECOVERED",
		slog.String("stage", string(b.stage)),
		slog.Any("panic", p),
		slog.String("stack", string(debug.Stack())),
	)
	b.rep.fail(newStageError(b.stage, it, fmt.Errorf("panic: %v", p)))
}

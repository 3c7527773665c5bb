package gallery

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// 1. Rate Limit + Logging RoundTripper
// =============================================================================

// transport 包在 http.RoundTripper 外面，负责限速和结构化日志
// 所有 ws 调用都会经过这里
type transport struct {
	next    http.RoundTripper
	limiter *rate.Limiter // nil 表示不限速
}

func newTransport(next http.RoundTripper, limiter *rate.Limiter) *transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &transport{next: next, limiter: limiter}
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		// 等待令牌；ctx 取消会直接返回
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	logCall(req.Context(), req.URL.Query().Get("method"), status, duration, err)

	return resp, err
}

// logCall 统一的日志打印逻辑
// 只记录方法名，不记录表单 (里面有密码和分块数据)
func logCall(ctx context.Context, method string, status int, duration time.Duration, err error) {
	level := slog.LevelDebug
	switch {
	case err != nil || status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}

	slog.Log(ctx, level, "gallery request",
		slog.String("method", method),
		slog.Int("status", status),
		slog.Duration("dur", duration),
		slog.String("err", errToString(err)),
	)
}

func errToString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

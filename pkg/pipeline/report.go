package pipeline

import (
	"sync"
	"time"
)

// Report 是一次运行的结果汇总
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Assets        int // 资产数量
	Discovered    int // (asset, variant) 条目数量
	AlbumsKnown   int
	AlbumsCreated int

	Hashed       int // 成功计算指纹
	HashCached   int // 其中直接来自指纹缓存的数量
	Unavailable  int // 文件已消失，被丢弃
	Checked      int // 完成存在性查询
	Present      int // 远端已存在
	Uploaded     int // 本次新上传
	Deduplicated int // 与本次运行中另一个条目内容相同，复用其上传结果
	Reconciled   int // 更新了相册归属
	Unchanged    int // 相册归属无需修改
	Failed       int
	Cancelled    int

	Errors []*StageError
}

func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// OK 表示没有任何失败和取消
func (r *Report) OK() bool { return r.Failed == 0 && r.Cancelled == 0 }

// FailuresByStage 按阶段统计失败数量
func (r *Report) FailuresByStage() map[Stage]int {
	out := make(map[Stage]int)
	for _, e := range r.Errors {
		out[e.Stage]++
	}
	return out
}

// recorder 是 Report 的并发安全写入端
type recorder struct {
	mu  sync.Mutex
	rep Report
}

func (r *recorder) update(fn func(*Report)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.rep)
}

func (r *recorder) fail(err *StageError) {
	r.update(func(rep *Report) {
		rep.Failed++
		rep.Errors = append(rep.Errors, err)
	})
}

func (r *recorder) snapshot() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.rep
	out.Errors = append([]*StageError(nil), r.rep.Errors...)
	return &out
}

package pipeline

import "sync"

// Queue 是 stage 之间的 FIFO 队列，额外带一个待处理计数
// Put 计数加一，Done 计数减一；Wait 在计数归零时返回
//
// 使用约束：上游 stage 全部 Done 之后才能 Close 下游队列，
// 这样 Close 之后不会再有 Put，Wait 也不会和 Add 竞争
type Queue struct {
	name    string
	ch      chan Item
	pending sync.WaitGroup
	once    sync.Once
}

func NewQueue(name string, size int) *Queue {
	if size < 0 {
		size = 0
	}
	return &Queue{name: name, ch: make(chan Item, size)}
}

func (q *Queue) Name() string { return q.name }

// Put 入队；队列满时阻塞，直到有 worker 取走
func (q *Queue) Put(it Item) {
	q.pending.Add(1)
	q.ch <- it
}

// Items 返回给 worker 读取的通道，Close 之后 range 会结束
func (q *Queue) Items() <-chan Item { return q.ch }

// Done 标记一个条目已处理完 (无论成功与否)
func (q *Queue) Done() { q.pending.Done() }

// Len 返回当前缓冲区中尚未被取走的条目数
func (q *Queue) Len() int { return len(q.ch) }

// Wait 阻塞直到所有 Put 进来的条目都被 Done
func (q *Queue) Wait() { q.pending.Wait() }

// Close 通知 worker 不会再有新条目，可重复调用
func (q *Queue) Close() { q.once.Do(func() { close(q.ch) }) }

package ws

import (
	"container/heap"
	"sync"
	"time"
)

// expiryItem 一次性定时检查
type expiryItem struct {
	seq      uint64
	key      string
	deadline time.Time
	fn       func()
}

// expiryHeap 按 deadline 升序的优先队列
type expiryHeap struct {
	items []*expiryItem
	index map[uint64]int // seq -> heap index
}

func (h *expiryHeap) Len() int { return len(h.items) }

func (h *expiryHeap) Less(i, j int) bool {
	if h.items[i].deadline.Equal(h.items[j].deadline) {
		return h.items[i].seq < h.items[j].seq
	}
	return h.items[i].deadline.Before(h.items[j].deadline)
}

func (h *expiryHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.index[h.items[i].seq] = i
	h.index[h.items[j].seq] = j
}

func (h *expiryHeap) Push(x any) {
	item := x.(*expiryItem)
	h.index[item.seq] = len(h.items)
	h.items = append(h.items, item)
}

func (h *expiryHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	delete(h.index, item.seq)
	return item
}

// popDue 弹出所有到期项
func (h *expiryHeap) popDue(now time.Time) []*expiryItem {
	var due []*expiryItem
	for len(h.items) > 0 && !h.items[0].deadline.After(now) {
		due = append(due, heap.Pop(h).(*expiryItem))
	}
	return due
}

// ExpiryQueue 可取消的一次性定时器队列
//
// 所有定时项共用一个 goroutine 和一个 timer；回调在队列锁之外执行，
// 回调内可以再次调用 Schedule 或 Cancel。
type ExpiryQueue struct {
	mu      sync.Mutex
	heap    *expiryHeap
	seq     uint64
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	stopped bool
}

// ExpiryHandle 定时项句柄
type ExpiryHandle struct {
	q   *ExpiryQueue
	seq uint64
}

// NewExpiryQueue 创建并启动队列
func NewExpiryQueue() *ExpiryQueue {
	q := &ExpiryQueue{
		heap: &expiryHeap{index: make(map[uint64]int)},
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Schedule 在 d 之后执行 fn，key 仅用于观测
func (q *ExpiryQueue) Schedule(key string, d time.Duration, fn func()) ExpiryHandle {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ExpiryHandle{}
	}
	q.seq++
	item := &expiryItem{seq: q.seq, key: key, deadline: time.Now().Add(d), fn: fn}
	heap.Push(q.heap, item)
	head := q.heap.items[0] == item
	q.mu.Unlock()

	if head {
		q.notify()
	}
	return ExpiryHandle{q: q, seq: item.seq}
}

// Cancel 取消定时项，已执行或已取消时返回 false
func (h ExpiryHandle) Cancel() bool {
	if h.q == nil {
		return false
	}
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()

	idx, ok := q.heap.index[h.seq]
	if !ok {
		return false
	}
	heap.Remove(q.heap, idx)
	return true
}

// Pending 定时项是否仍在等待
func (h ExpiryHandle) Pending() bool {
	if h.q == nil {
		return false
	}
	h.q.mu.Lock()
	defer h.q.mu.Unlock()
	_, ok := h.q.heap.index[h.seq]
	return ok
}

// Len 等待中的定时项数量
func (q *ExpiryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Stop 停止队列，丢弃所有未执行的定时项
func (q *ExpiryQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.stopped = true
	q.heap = &expiryHeap{index: make(map[uint64]int)}
	q.mu.Unlock()

	close(q.stop)
	<-q.done
}

func (q *ExpiryQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *ExpiryQueue) run() {
	defer close(q.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		q.mu.Lock()
		due := q.heap.popDue(time.Now())
		var next time.Time
		if q.heap.Len() > 0 {
			next = q.heap.items[0].deadline
		}
		q.mu.Unlock()

		for _, item := range due {
			item.fn()
		}
		if len(due) > 0 {
			continue
		}

		var fire <-chan time.Time
		if !next.IsZero() {
			timer.Reset(time.Until(next))
			fire = timer.C
		}

		select {
		case <-fire:
		case <-q.wake:
			timer.Stop()
		case <-q.stop:
			return
		}
	}
}

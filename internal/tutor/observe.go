package tutor

import "sync"

// observers 保存一组回调。回调在调用方的 goroutine 中同步执行，不能回调持有锁的方法。
type observers[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (o *observers[T]) add(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(T))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *observers[T]) notify(v T) {
	o.mu.Lock()
	fns := make([]func(T), 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

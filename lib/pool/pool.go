package pool

/*
通用对象池，用于管理和重用网络连接等资源。
集群客户端为每个节点维护一个 Pool，单个连接同一时刻只处理一个请求，
需要并发访问同一节点时由池创建更多连接，最多 MaxActive 个。
*/

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 表示池已经关闭
var ErrClosed = errors.New("pool closed")

type request[T any] chan T

// Config limits the number of pooled objects
type Config struct {
	MaxIdle   uint
	MaxActive uint
}

// Pool stores object for reusing, such as redis connection
type Pool[T any] struct {
	Config
	// 创建新对象的工厂方法
	factory func(ctx context.Context) (T, error)
	// 销毁对象的方法
	finalizer func(x T)
	// 存储空闲对象的通道
	idles chan T
	// 等待获取对象的请求队列
	waitingReqs []request[T]
	// increases during creating connection, decrease during destroying connection
	activeCount uint
	mu          sync.Mutex
	closed      bool
}

// New creates a pool. factory receives the context of the Get call that triggered it.
func New[T any](factory func(ctx context.Context) (T, error), finalizer func(x T), cfg Config) *Pool[T] {
	if cfg.MaxActive == 0 {
		cfg.MaxActive = 1
	}
	return &Pool[T]{
		factory:     factory,
		finalizer:   finalizer,
		idles:       make(chan T, cfg.MaxIdle),
		waitingReqs: make([]request[T], 0),
		Config:      cfg,
	}
}

// abandon removes a waiting request whose caller gave up. If an object was
// handed over concurrently it is returned to the pool.
func (pool *Pool[T]) abandon(req request[T]) {
	pool.mu.Lock()
	for i, r := range pool.waitingReqs {
		if r == req {
			pool.waitingReqs = append(pool.waitingReqs[:i], pool.waitingReqs[i+1:]...)
			pool.mu.Unlock()
			return
		}
	}
	pool.mu.Unlock()
	// already removed by Put/Discard: an object (or a close signal) is in flight
	if x, ok := <-req; ok {
		pool.Put(x)
		return
	}
	// pass the wake-up on so a released slot is not lost
	pool.mu.Lock()
	if !pool.closed {
		pool.wakeOneLocked()
	}
	pool.mu.Unlock()
}

// wakeOneLocked lets the first waiter retry creation after a slot was released.
// invoker should have pool.mu
func (pool *Pool[T]) wakeOneLocked() {
	if len(pool.waitingReqs) == 0 {
		return
	}
	req := pool.waitingReqs[0]
	pool.waitingReqs = pool.waitingReqs[1:]
	close(req)
}

// Get returns an idle object or creates a new one, blocking while MaxActive objects are in use
func (pool *Pool[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		pool.mu.Lock()
		if pool.closed {
			pool.mu.Unlock()
			return zero, ErrClosed
		}
		select {
		case item := <-pool.idles:
			pool.mu.Unlock()
			return item, nil
		default:
		}

		if pool.activeCount < pool.MaxActive {
			// create a new connection
			pool.activeCount++ // hold a place for new connection
			pool.mu.Unlock()
			x, err := pool.factory(ctx)
			if err != nil {
				// create failed return token
				pool.mu.Lock()
				pool.activeCount--
				pool.wakeOneLocked()
				pool.mu.Unlock()
				return zero, err
			}
			return x, nil
		}

		// waiting for connection being returned
		req := make(request[T], 1)
		pool.waitingReqs = append(pool.waitingReqs, req)
		pool.mu.Unlock()
		select {
		case x, ok := <-req:
			if ok {
				return x, nil
			}
			// woken up because a slot was released or the pool closed, try again
		case <-ctx.Done():
			pool.abandon(req)
			return zero, ctx.Err()
		}
	}
}

// Put returns a healthy object to the pool
func (pool *Pool[T]) Put(x T) {
	pool.mu.Lock()

	if pool.closed {
		pool.activeCount--
		pool.mu.Unlock()
		pool.finalizer(x)
		return
	}
	// 如果有等待请求，将对象分配给第一个等待请求
	if len(pool.waitingReqs) > 0 {
		req := pool.waitingReqs[0]
		pool.waitingReqs = pool.waitingReqs[1:]
		req <- x
		pool.mu.Unlock()
		return
	}

	select {
	case pool.idles <- x:
		pool.mu.Unlock()
		return
	default:
		// reach max idle, destroy redundant item
		pool.activeCount--
		pool.mu.Unlock()
		pool.finalizer(x)
	}
}

// Discard destroys a broken object and frees its slot
func (pool *Pool[T]) Discard(x T) {
	pool.mu.Lock()
	pool.activeCount--
	pool.wakeOneLocked()
	pool.mu.Unlock()
	pool.finalizer(x)
}

// Active returns the number of objects created and not yet destroyed
func (pool *Pool[T]) Active() uint {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return pool.activeCount
}

// Close destroys all idle objects. Objects in use are destroyed when returned.
func (pool *Pool[T]) Close() {
	pool.mu.Lock()
	if pool.closed {
		pool.mu.Unlock()
		return
	}
	pool.closed = true
	close(pool.idles)
	for _, req := range pool.waitingReqs {
		close(req)
	}
	pool.waitingReqs = nil
	pool.mu.Unlock()

	for x := range pool.idles {
		pool.mu.Lock()
		pool.activeCount--
		pool.mu.Unlock()
		pool.finalizer(x)
	}
}

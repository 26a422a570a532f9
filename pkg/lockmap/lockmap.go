package lockmap

import "sync"

// KeyedMutex 为每个 key 提供一把独立的互斥锁
// 不同 key 之间互不阻塞；没人持有的锁会被回收，避免 map 无限增长
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock 获取 key 对应的锁，返回解锁函数
// 用法: defer km.Lock(key)()
func (km *KeyedMutex) Lock(key string) func() {
	km.mu.Lock()
	e, ok := km.locks[key]
	if !ok {
		e = &entry{}
		km.locks[key] = e
	}
	e.refs++
	km.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		km.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

// Len 返回当前仍被引用的 key 数量 (测试用)
func (km *KeyedMutex) Len() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}

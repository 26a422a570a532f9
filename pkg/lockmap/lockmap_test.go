package lockmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("same")
			defer unlock()
			// 非原子操作，只有锁生效才不会丢失更新
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, km.Len(), "idle locks should be released")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := New()

	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		// b 不应该被 a 阻塞
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()

	assert.Equal(t, 0, km.Len())
}

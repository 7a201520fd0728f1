package renderer

import (
	"sync"
	"testing"
)

func TestThreadSerializesCalls(t *testing.T) {
	th := startThread()
	defer th.stop()

	var (
		wg    sync.WaitGroup
		count int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th.do(func() { count++ })
		}()
	}
	wg.Wait()

	if count != 50 {
		t.Errorf("expected 50 calls, got %d", count)
	}
}

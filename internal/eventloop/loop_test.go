package eventloop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLoop() *Loop {
	return New(zerolog.Nop())
}

func TestMailboxHandlersRunInOrder(t *testing.T) {
	l := newTestLoop()
	go l.Run()
	defer l.Terminate()

	var mu sync.Mutex
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		l.AddMailboxHandler("m", func(any) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	l.AddMailboxHandler("m", func(any) { close(done) })
	l.Post("m", nil)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("order = %v, want 3 entries", order)
	}
	for i, v := range order {
		if v != i {
			t.Errorf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestHandlersDoNotRunConcurrently(t *testing.T) {
	l := newTestLoop()
	go l.Run()
	defer l.Terminate()

	var counter int64
	var raceDetected int32

	handler := func(any) {
		v := atomic.AddInt64(&counter, 1)
		if v != 1 {
			atomic.StoreInt32(&raceDetected, 1)
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&counter, -1)
	}
	l.AddMailboxHandler("a", handler)
	l.AddMailboxHandler("b", handler)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		name := "a"
		if i%2 == 0 {
			name = "b"
		}
		go func(name string) {
			defer wg.Done()
			l.Post(name, nil)
		}(name)
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&raceDetected) != 0 {
		t.Fatal("handlers ran concurrently")
	}
}

func TestTimerFires(t *testing.T) {
	l := newTestLoop()
	go l.Run()
	defer l.Terminate()

	fired := make(chan struct{})
	l.AddTimer(10*time.Millisecond, false, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestRemoveTimerCancelsRepeat(t *testing.T) {
	l := newTestLoop()
	go l.Run()
	defer l.Terminate()

	var count int64
	h := l.AddTimer(5*time.Millisecond, true, func() { atomic.AddInt64(&count, 1) })
	time.Sleep(30 * time.Millisecond)
	l.RemoveTimer(h)
	seen := atomic.LoadInt64(&count)
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt64(&count) > seen+1 {
		t.Fatalf("timer kept firing after RemoveTimer: before=%d after=%d", seen, atomic.LoadInt64(&count))
	}
}

func TestRunBlockingPostsResult(t *testing.T) {
	l := newTestLoop()
	go l.Run()
	defer l.Terminate()

	ch := l.RunBlocking(func() (any, error) { return 42, nil })
	res := <-ch
	if res.Err != nil || res.Value != 42 {
		t.Fatalf("got %+v, want 42/nil", res)
	}
}

func TestBackoffBoundsAndGrows(t *testing.T) {
	b := NewBackoff()
	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := b.Next()
		if d < 0 {
			t.Fatalf("negative backoff %v", d)
		}
		maxAllowed := time.Duration(float64(b.Cap) * 1.2)
		if d > maxAllowed {
			t.Fatalf("backoff %v exceeds capped+jitter bound %v", d, maxAllowed)
		}
		// Jitter ranges of successive uncapped steps do not overlap, so
		// the delay must strictly grow until the cap is reached.
		if i > 0 && b.Base<<(i-1) < b.Cap && d <= prev {
			t.Fatalf("backoff step %d = %v did not grow from %v", i, d, prev)
		}
		prev = d
	}
}

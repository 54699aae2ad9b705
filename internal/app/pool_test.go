package app

import (
	"sync/atomic"
	"testing"
)

func TestPoolRunsEverySubmittedJob(t *testing.T) {
	p := NewPool(4)
	var ran int64
	for i := 0; i < 100; i++ {
		p.Submit(func() { atomic.AddInt64(&ran, 1) })
	}
	p.Stop()
	if got := atomic.LoadInt64(&ran); got != 100 {
		t.Fatalf("expected 100 jobs run, got %d", got)
	}
}

func TestPoolClampsWorkerCount(t *testing.T) {
	p := NewPool(0)
	done := make(chan struct{})
	p.Submit(func() { close(done) })
	<-done
	p.Stop()
}

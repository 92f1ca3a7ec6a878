package worker_test

import (
	"sync/atomic"
	"testing"

	"github.com/firasghr/GoPersonaEngine/worker"
)

func TestWorkerPool_ExecutesAllJobs(t *testing.T) {
	const jobs = 500
	wp := worker.NewWorkerPool(10)
	wp.Start()

	var counter int64
	for i := 0; i < jobs; i++ {
		wp.Submit(func() {
			atomic.AddInt64(&counter, 1)
		})
	}
	wp.Stop()

	if counter != jobs {
		t.Errorf("expected %d jobs executed, got %d", jobs, counter)
	}
}

func TestWorkerPool_ZeroWorkersFallsBackToOne(t *testing.T) {
	wp := worker.NewWorkerPool(0)
	wp.Start()
	var ran int64
	wp.Submit(func() { atomic.AddInt64(&ran, 1) })
	wp.Stop()
	if ran != 1 {
		t.Errorf("expected job to run, ran=%d", ran)
	}
}

func TestMap_PreservesOrder(t *testing.T) {
	in := []int{5, 1, 4, 2, 3}
	got := worker.Map(in, 3, func(v int) int { return v * v })
	want := []int{25, 1, 16, 4, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMap_Empty(t *testing.T) {
	if got := worker.Map([]string(nil), 4, func(s string) int { return len(s) }); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

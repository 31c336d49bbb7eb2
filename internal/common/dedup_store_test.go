package common

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDedupStoreMarkIfAbsent(t *testing.T) {
	d := NewDedupStore(time.Minute)

	if !d.MarkIfAbsent("call_1") {
		t.Fatal("first MarkIfAbsent should report absent")
	}
	if d.MarkIfAbsent("call_1") {
		t.Error("second MarkIfAbsent should report present")
	}
	if !d.Seen("call_1") {
		t.Error("Seen() = false after mark")
	}

	d.Forget("call_1")
	if d.Seen("call_1") {
		t.Error("Seen() = true after Forget")
	}
}

func TestDedupStoreExpires(t *testing.T) {
	d := NewDedupStore(20 * time.Millisecond)
	d.Mark("call_1")

	time.Sleep(40 * time.Millisecond)

	if d.Seen("call_1") {
		t.Error("entry should have expired")
	}
	if !d.MarkIfAbsent("call_1") {
		t.Error("expired entry should be re-markable")
	}
}

func TestDedupStoreConcurrentMark(t *testing.T) {
	d := NewDedupStore(time.Minute)
	var winners int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.MarkIfAbsent("call_1") {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

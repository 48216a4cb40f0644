package inqueue

import (
	"testing"

	"github.com/samharper/streampeer/pkg/wire"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		pkg, err := wire.NewBuilder(1).AppendUint8(uint8(i)).Build()
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		q.Enqueue(pkg, i)
	}
	if q.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", q.Len())
	}
	for i := 0; i < 5; i++ {
		pkg, handle, ok := q.TryDequeue()
		if !ok {
			t.Fatalf("TryDequeue %d: not ok", i)
		}
		if handle.(int) != i {
			t.Fatalf("handle = %v, want %d", handle, i)
		}
		v, err := pkg.ExtractUint8()
		if err != nil || int(v) != i {
			t.Fatalf("body = %v, err %v, want %d", v, err, i)
		}
	}
	if _, _, ok := q.TryDequeue(); ok {
		t.Fatalf("TryDequeue on empty queue reported ok")
	}
}

func TestNotifyFiresOnce(t *testing.T) {
	q := New()
	pkg, _ := wire.NewBuilder(1).Build()
	q.Enqueue(pkg, nil)
	q.Enqueue(pkg, nil)

	select {
	case <-q.Notify():
	default:
		t.Fatalf("Notify channel empty after two enqueues")
	}
	select {
	case <-q.Notify():
		t.Fatalf("Notify channel should be drained after one receive")
	default:
	}
}

package audio

import "testing"

func TestIsAllowedSize(t *testing.T) {
	for _, n := range []int{512, 1024, 1536} {
		if !IsAllowedSize(n) {
			t.Errorf("expected %d to be allowed", n)
		}
	}
	for _, n := range []int{0, 256, 900, 2048} {
		if IsAllowedSize(n) {
			t.Errorf("expected %d to be disallowed", n)
		}
	}
}

func TestRingBuffer_NextFrame_ExactMultiple(t *testing.T) {
	rb := NewRingBuffer(512)
	rb.Push(make([]float32, 1024))

	f1 := rb.NextFrame()
	if len(f1) != 512 {
		t.Fatalf("expected frame of 512, got %d", len(f1))
	}
	f2 := rb.NextFrame()
	if len(f2) != 512 {
		t.Fatalf("expected frame of 512, got %d", len(f2))
	}
	if f3 := rb.NextFrame(); f3 != nil {
		t.Fatalf("expected nil after draining, got %v", f3)
	}
}

func TestRingBuffer_RetainsRemainder(t *testing.T) {
	rb := NewRingBuffer(512)
	rb.Push(make([]float32, 600))

	f1 := rb.NextFrame()
	if len(f1) != 512 {
		t.Fatalf("expected frame of 512, got %d", len(f1))
	}
	if rb.Pending() != 88 {
		t.Fatalf("expected 88 pending samples, got %d", rb.Pending())
	}
	if f2 := rb.NextFrame(); f2 != nil {
		t.Fatalf("expected nil with insufficient samples, got %d", len(f2))
	}

	rb.Push(make([]float32, 424))
	f2 := rb.NextFrame()
	if len(f2) != 512 {
		t.Fatalf("expected frame of 512 after topping up, got %d", len(f2))
	}
}

func TestRingBuffer_Flush(t *testing.T) {
	rb := NewRingBuffer(512)

	if f := rb.Flush(); f != nil {
		t.Fatalf("expected nil flush on empty buffer, got %v", f)
	}

	rb.Push(make([]float32, 100))
	f := rb.Flush()
	if len(f) != 100 {
		t.Fatalf("expected flush of 100 samples, got %d", len(f))
	}
	if rb.Pending() != 0 {
		t.Fatalf("expected buffer cleared after flush, got %d pending", rb.Pending())
	}
}

func TestRingBuffer_FrameIsIndependentCopy(t *testing.T) {
	rb := NewRingBuffer(512)
	rb.Push(make([]float32, 512))
	f := rb.NextFrame()

	rb.Push(make([]float32, 512))
	for _, v := range rb.NextFrame() {
		_ = v
	}
	for _, v := range f {
		if v != 0 {
			t.Fatalf("expected frame to remain untouched by later pushes")
		}
	}
}

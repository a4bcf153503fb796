package datafilter

import (
	"sync"
	"testing"
)

func TestFilter_Defaults(t *testing.T) {
	if !New(true).IsEnabled() {
		t.Error("enabled default not honoured")
	}
	if New(false).IsEnabled() {
		t.Error("disabled default not honoured")
	}
}

func TestFilter_NestedOverrides(t *testing.T) {
	f := New(true)

	outer := f.Disable()
	if f.IsEnabled() {
		t.Fatal("expected disabled inside outer scope")
	}
	inner := f.Enable()
	if !f.IsEnabled() {
		t.Fatal("expected enabled inside inner scope")
	}
	inner.Release()
	if f.IsEnabled() {
		t.Error("inner release must restore the outer override")
	}
	outer.Release()
	if !f.IsEnabled() {
		t.Error("outer release must restore the default")
	}
	if f.Depth() != 0 {
		t.Errorf("depth = %d, want 0", f.Depth())
	}
}

func TestFilter_OutOfOrderRelease(t *testing.T) {
	f := New(true)
	outer := f.Disable()
	inner := f.Enable()

	outer.Release()
	if !f.IsEnabled() {
		t.Error("inner override must stay in force")
	}
	inner.Release()
	if !f.IsEnabled() || f.Depth() != 0 {
		t.Errorf("enabled=%v depth=%d, want default with no overrides", f.IsEnabled(), f.Depth())
	}
}

func TestHandle_ReleaseIsIdempotent(t *testing.T) {
	f := New(true)
	outer := f.Disable()
	inner := f.Disable()
	inner.Release()
	inner.Release()
	if f.Depth() != 1 || f.IsEnabled() {
		t.Errorf("double release removed another override: depth=%d", f.Depth())
	}
	outer.Release()

	var h *Handle
	h.Release()
}

func TestFilter_ConcurrentOverrides(t *testing.T) {
	f := New(true)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := f.Disable()
			_ = f.IsEnabled()
			h.Release()
		}()
	}
	wg.Wait()
	if f.Depth() != 0 || !f.IsEnabled() {
		t.Errorf("depth = %d after all releases", f.Depth())
	}
}

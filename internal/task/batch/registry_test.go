package batch

import (
	"errors"
	"slices"
	"testing"
)

func TestRegisterCurrentWindow(t *testing.T) {
	t.Parallel()
	src := []string{"a", "b", "c", "d", "e"}
	tests := []struct {
		name string
		size int
		want []string
	}{
		{name: "default covers all", size: 0, want: src},
		{name: "size 2", size: 2, want: []string{"a", "b"}},
		{name: "size larger than source", size: 9, want: src},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if err := Register(r, "k", src, tt.size); err != nil {
				t.Fatalf("Register: %v", err)
			}
			got, err := Current[string](r, "k")
			if err != nil {
				t.Fatalf("Current: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("Current = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := Register(r, "empty", []int{}, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty source: err = %v, want ErrInvalidArgument", err)
	}
	if err := Register(r, "neg", []int{1}, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("negative size: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := Current[int](r, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key: err = %v, want ErrNotFound", err)
	}
	if _, err := Advance[int](r, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("advance missing key: err = %v, want ErrNotFound", err)
	}
}

func TestTypeMismatch(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := Register(r, "k", []int{1, 2}, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := Current[string](r, "k"); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("err = %v, want ErrTypeMismatch", err)
	}
}

func TestAdvancePartitionsSourceWithPeriod(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ n, size int }{{7, 3}, {6, 2}, {5, 5}, {5, 1}, {1, 4}} {
		src := make([]int, tc.n)
		for i := range src {
			src[i] = i
		}
		r := NewRegistry()
		if err := Register(r, "k", src, tc.size); err != nil {
			t.Fatal(err)
		}
		period := (tc.n + tc.size - 1) / tc.size

		first, _ := Current[int](r, "k")
		seen := slices.Clone(first)
		for i := 1; i < period; i++ {
			w, err := Advance[int](r, "k")
			if err != nil {
				t.Fatal(err)
			}
			if len(w) == 0 {
				t.Fatalf("n=%d size=%d: empty window at step %d", tc.n, tc.size, i)
			}
			seen = append(seen, w...)
		}
		if !slices.Equal(seen, src) {
			t.Fatalf("n=%d size=%d: union of windows = %v, want %v", tc.n, tc.size, seen, src)
		}
		// One more advance wraps to the first window.
		again, _ := Advance[int](r, "k")
		if !slices.Equal(again, first) {
			t.Fatalf("n=%d size=%d: after period window = %v, want %v", tc.n, tc.size, again, first)
		}
	}
}

func TestResize(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := Register(r, "k", []int{1, 2, 3, 4}, 4); err != nil {
		t.Fatal(err)
	}
	if err := r.Resize("k", 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Resize(0) err = %v, want ErrInvalidArgument", err)
	}
	if err := r.Resize("nope", 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resize(missing) err = %v, want ErrNotFound", err)
	}
	if err := r.Resize("k", 2); err != nil {
		t.Fatal(err)
	}
	if n, err := r.Size("k"); err != nil || n != 2 {
		t.Fatalf("Size = %d, %v; want 2", n, err)
	}
	// Current window is not recomputed until the next advance.
	cur, _ := Current[int](r, "k")
	if !slices.Equal(cur, []int{1, 2, 3, 4}) {
		t.Fatalf("Current after resize = %v", cur)
	}
	if err := r.Resize("k", 2); err != nil {
		t.Fatal(err)
	}
	next, _ := Advance[int](r, "k")
	if !slices.Equal(next, []int{3, 4}) {
		t.Fatalf("Advance after double resize = %v, want [3 4]", next)
	}
}

func TestReplaceSourceKeepsSingleWindowSemantics(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := Register(r, "k", []string{"a", "b"}, 0); err != nil {
		t.Fatal(err)
	}
	if err := ReplaceSource(r, "k", []string{"a", "b", "c", "d"}); err != nil {
		t.Fatal(err)
	}
	info, _ := r.Info("k")
	if info.WindowSize != 4 {
		t.Fatalf("WindowSize = %d, want 4", info.WindowSize)
	}
	w, _ := Advance[string](r, "k")
	if !slices.Equal(w, []string{"a", "b", "c", "d"}) {
		t.Fatalf("window = %v", w)
	}
}

func TestReplaceSourceShorterSelfHeals(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	src := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if err := Register(r, "k", src, 2); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := Advance[int](r, "k"); err != nil {
			t.Fatal(err)
		}
	}
	// index 4 of 5 windows; shrink to 3 elements (2 windows).
	if err := ReplaceSource(r, "k", []int{7, 8, 9}); err != nil {
		t.Fatal(err)
	}
	info, _ := r.Info("k")
	if info.WindowIndex < info.Windows {
		t.Fatalf("expected transient out-of-range index, got %+v", info)
	}
	w, err := Advance[int](r, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(w) == 0 {
		t.Fatal("advance after shrink returned an empty window")
	}
	info, _ = r.Info("k")
	if info.WindowIndex >= info.Windows {
		t.Fatalf("index not healed: %+v", info)
	}
}

func TestReplaceSourceEmptyKeepsOldAndAdvances(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := Register(r, "k", []int{1, 2, 3}, 1); err != nil {
		t.Fatal(err)
	}
	err := ReplaceSource(r, "k", []int{})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	info, _ := r.Info("k")
	if info.SourceLen != 3 || info.WindowIndex != 1 {
		t.Fatalf("info = %+v, want old source kept and index advanced to 1", info)
	}
	cur, _ := Current[int](r, "k")
	if !slices.Equal(cur, []int{2}) {
		t.Fatalf("Current = %v, want [2]", cur)
	}
}

func TestEnsureRegistersOnce(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	calls := 0
	src := func() ([]int, error) { calls++; return []int{1, 2}, nil }
	created, err := Ensure(r, "k", src, 1)
	if err != nil || !created {
		t.Fatalf("first Ensure: created=%v err=%v", created, err)
	}
	created, err = Ensure(r, "k", src, 1)
	if err != nil || created {
		t.Fatalf("second Ensure: created=%v err=%v", created, err)
	}
	if calls != 1 {
		t.Fatalf("source provider called %d times, want 1", calls)
	}
	if got := r.Keys(); !slices.Equal(got, []string{"k"}) {
		t.Fatalf("Keys = %v", got)
	}
}

func TestCurrentReturnsCopy(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	src := []int{1, 2}
	if err := Register(r, "k", src, 0); err != nil {
		t.Fatal(err)
	}
	src[0] = 99
	w, _ := Current[int](r, "k")
	w[1] = 42
	again, _ := Current[int](r, "k")
	if !slices.Equal(again, []int{1, 2}) {
		t.Fatalf("registry aliased caller memory: %v", again)
	}
}

package batch

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("batch instance not found")
	ErrTypeMismatch    = errors.New("batch instance element type mismatch")
)

// Info is a point-in-time view of one instance.
type Info struct {
	Key         string
	WindowSize  int
	WindowIndex int
	SourceLen   int
	Windows     int
	CurrentLen  int
}

type entry interface {
	resize(n int)
	info() Info
}

type instance[T any] struct {
	size   int
	index  int
	source []T
	window []T
}

func (in *instance[T]) resize(n int) { in.size = n }

func (in *instance[T]) info() Info {
	return Info{
		WindowSize:  in.size,
		WindowIndex: in.index,
		SourceLen:   len(in.source),
		Windows:     windowCount(len(in.source), in.size),
		CurrentLen:  len(in.window),
	}
}

func (in *instance[T]) advance() []T {
	n := windowCount(len(in.source), in.size)
	if n > 0 {
		in.index = (in.index + 1) % n
	} else {
		in.index = 0
	}
	in.window = slice(in.source, in.index, in.size)
	return in.window
}

// Registry owns named rotation instances. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]entry{}}
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	_, ok := r.entries[key]
	r.mu.Unlock()
	return ok
}

// Keys returns registered keys in lexical order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Resize changes the window size of key. The current window is left as is
// until the next Advance.
func (r *Registry) Resize(key string, size int) error {
	if size < 1 {
		return fmt.Errorf("%w: window size %d for %q must be >= 1", ErrInvalidArgument, size, key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	e.resize(size)
	return nil
}

// Size returns the window size of key.
func (r *Registry) Size(key string) (int, error) {
	in, err := r.Info(key)
	if err != nil {
		return 0, err
	}
	return in.WindowSize, nil
}

// Info describes the instance registered under key.
func (r *Registry) Info(key string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	in := e.info()
	in.Key = key
	return in, nil
}

// Register creates (or overwrites) the instance for key with window index 0.
// A size of 0 means a single window covering the whole source.
func Register[T any](r *Registry, key string, source []T, size int) error {
	in, err := newInstance(key, source, size)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.entries[key] = in
	r.mu.Unlock()
	return nil
}

// Ensure registers key unless it already exists. It reports whether a new
// instance was created. An existing instance must hold elements of type T.
func Ensure[T any](r *Registry, key string, source func() ([]T, error), size int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		if _, ok := e.(*instance[T]); !ok {
			return false, fmt.Errorf("%w: %q", ErrTypeMismatch, key)
		}
		return false, nil
	}
	src, err := source()
	if err != nil {
		return false, err
	}
	in, err := newInstance(key, src, size)
	if err != nil {
		return false, err
	}
	r.entries[key] = in
	return true, nil
}

// Current returns the live window for key.
func Current[T any](r *Registry, key string) ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, err := lookup[T](r, key)
	if err != nil {
		return nil, err
	}
	return slices.Clone(in.window), nil
}

// Advance moves key to its next window, computed from the current source, and
// returns it.
func Advance[T any](r *Registry, key string) ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, err := lookup[T](r, key)
	if err != nil {
		return nil, err
	}
	return slices.Clone(in.advance()), nil
}

// ReplaceSource swaps the source of key.
//
// An empty source is rejected with ErrInvalidArgument: the old source is kept
// and the instance is advanced once so rotation keeps moving.
func ReplaceSource[T any](r *Registry, key string, source []T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, err := lookup[T](r, key)
	if err != nil {
		return err
	}
	if len(source) == 0 {
		in.advance()
		return fmt.Errorf("%w: empty source for %q", ErrInvalidArgument, key)
	}
	if in.size == len(in.source) {
		in.size = len(source)
	}
	in.source = slices.Clone(source)
	return nil
}

func lookup[T any](r *Registry, key string) (*instance[T], error) {
	e, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	in, ok := e.(*instance[T])
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTypeMismatch, key)
	}
	return in, nil
}

func newInstance[T any](key string, source []T, size int) (*instance[T], error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("%w: empty source for %q", ErrInvalidArgument, key)
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: window size %d for %q must be >= 1", ErrInvalidArgument, size, key)
	}
	if size == 0 {
		size = len(source)
	}
	src := slices.Clone(source)
	return &instance[T]{size: size, source: src, window: slice(src, 0, size)}, nil
}

func windowCount(n, size int) int {
	if size < 1 {
		return 0
	}
	return (n + size - 1) / size
}

// slice returns source[index*size : index*size+size], clipped to the source.
// An index past the end yields an empty window.
func slice[T any](source []T, index, size int) []T {
	start := index * size
	if start >= len(source) {
		return nil
	}
	end := min(start+size, len(source))
	return source[start:end]
}

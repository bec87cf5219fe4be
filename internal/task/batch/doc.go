// Package batch implements the rotation registry used to spread large,
// slowly-changing collections (chains, subscribers, pools) across ticks.
//
// Every key owns one instance: a source slice, a window size and a window
// index. Only the current window is handed to a tick; Advance moves to the
// next window and wraps around, so over one period every element of the
// source is visited exactly once.
//
// A registry is shared by many runners. Element types are per key: the typed
// helpers (Register, Current, Advance, ReplaceSource) fail with
// ErrTypeMismatch when a key is used with a different element type than it
// was registered with.
//
// # Source replacement
//
// ReplaceSource swaps the source without touching the window index. If the
// instance was running as a single window (size == len(old source)) the size
// follows the new length. Otherwise the number of windows may shrink and the
// index may point past the end until the next Advance, which re-derives it
// modulo the new window count.
package batch

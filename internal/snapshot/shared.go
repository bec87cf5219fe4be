// Package snapshot holds the process-wide values every task reads on a tick
// (token prices and the full member list) and the job that refreshes them.
package snapshot

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotInitialized = errors.New("snapshot not initialized")

// Shared is written only by its Refresher and read by everything else.
type Shared struct {
	mu          sync.RWMutex
	primary     string
	prices      map[string]decimal.Decimal
	members     []string
	initialized bool
	updated     time.Time
}

// NewShared returns an uninitialized snapshot whose Price reports primary.
func NewShared(primary string) *Shared {
	return &Shared{primary: primary, prices: map[string]decimal.Decimal{}}
}

func (s *Shared) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Price returns the primary token's price.
func (s *Shared) Price() (decimal.Decimal, error) {
	p, ok, err := s.PriceOf(s.primary)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, errors.New("no price for primary token " + s.primary)
	}
	return p, nil
}

func (s *Shared) PriceOf(token string) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return decimal.Zero, false, ErrNotInitialized
	}
	p, ok := s.prices[strings.ToLower(token)]
	return p, ok, nil
}

func (s *Shared) Prices() (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return maps.Clone(s.prices), nil
}

// Members returns a copy of the full member list.
func (s *Shared) Members() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return slices.Clone(s.members), nil
}

func (s *Shared) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// store replaces whatever is non-nil. The first call that carries members
// marks the snapshot initialized.
func (s *Shared) store(prices map[string]decimal.Decimal, members []string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range prices {
		s.prices[strings.ToLower(k)] = v
	}
	if members != nil {
		s.members = slices.Clone(members)
	}
	s.updated = at
	first := !s.initialized && len(s.members) > 0
	if first {
		s.initialized = true
	}
	return first
}

// StripAccountPrefix turns a CAIP-10 account ("eip155:56:0xabc") into the
// bare address. Anything without a prefix is returned trimmed.
func StripAccountPrefix(account string) string {
	account = strings.TrimSpace(account)
	if i := strings.LastIndexByte(account, ':'); i >= 0 {
		return account[i+1:]
	}
	return account
}

// normalizeMembers strips prefixes, drops blanks and duplicates, and keeps
// first-seen order.
func normalizeMembers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, m := range in {
		m = StripAccountPrefix(m)
		if m == "" {
			continue
		}
		key := strings.ToLower(m)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Package lock serializes operations that touch the same ledger keys.
//
// Keys are always taken in sorted order so two operations over overlapping
// key sets cannot deadlock.
package lock

import (
	"context"
	"errors"
	"sort"
)

// ErrNotObtained is returned when a key stays held past the caller's deadline.
var ErrNotObtained = errors.New("lock: not obtained")

// Locker acquires every key or none of them.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// normalize sorts and de-duplicates keys, dropping empty ones.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	j := 0
	for i, k := range out {
		if i > 0 && k == out[j-1] {
			continue
		}
		out[j] = k
		j++
	}
	return out[:j]
}

/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package cache

import "sync"

// Memo is a per-query memoization overlay: unlike the shared Hierarchy,
// it never evicts on its own, since a single query execution must not
// have the block it is scanning disappear out from under it mid-scan.
// Entries are reference-counted instead — a value pinned via GetOrLoad
// stays live until every Handle issued for that key has been released,
// at which point the entry is dropped. One Memo belongs to one query.
type Memo struct {
	mu    sync.Mutex
	items map[string]*memoEntry
}

type memoEntry struct {
	value any
	refs  int
}

// NewMemo builds an empty per-query overlay.
func NewMemo() *Memo {
	return &Memo{items: make(map[string]*memoEntry)}
}

// Handle is a reference-counted pin on a Memo entry. Callers must call
// Release exactly once per Handle obtained.
type Handle struct {
	memo *Memo
	key  string
	val  any
}

// Value returns the pinned value.
func (h *Handle) Value() any { return h.val }

// Release drops this handle's reference. Once every handle for a key is
// released, the entry is dropped from the overlay.
func (h *Handle) Release() {
	h.memo.mu.Lock()
	defer h.memo.mu.Unlock()
	e, ok := h.memo.items[h.key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(h.memo.items, h.key)
	}
}

// GetOrLoad returns a pinned Handle for key, computing it via load on a
// miss. The caller owns the returned Handle and must Release it (typically
// via defer) once done reading the value.
func (m *Memo) GetOrLoad(key string, load func() (any, error)) (*Handle, error) {
	m.mu.Lock()
	if e, ok := m.items[key]; ok {
		e.refs++
		m.mu.Unlock()
		return &Handle{memo: m, key: key, val: e.value}, nil
	}
	m.mu.Unlock()

	v, err := load()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[key]; ok {
		// another goroutine populated it first; keep theirs, pin it too.
		e.refs++
		return &Handle{memo: m, key: key, val: e.value}, nil
	}
	m.items[key] = &memoEntry{value: v, refs: 1}
	return &Handle{memo: m, key: key, val: v}, nil
}

// Len reports how many distinct keys are currently pinned, for tests and
// leak diagnostics (a query that releases every handle should end at 0).
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import "time"

// sentWindow tracks transmitted ADUs awaiting responses. Entries are
// looked up by MBAP transaction ID and scanned for timeout in slot
// order. A nil slot is free.
type sentWindow struct {
	items []*adu
}

func newSentWindow(size int) *sentWindow {
	return &sentWindow{items: make([]*adu, size)}
}

// add stores a sent ADU, stamping its sent time. False when full.
func (w *sentWindow) add(a *adu, now time.Time) bool {
	for i, it := range w.items {
		if it == nil {
			w.items[i] = a
			a.sentAt = now
			return true
		}
	}
	return false
}

// takeByTransaction removes and returns the entry matching tid.
func (w *sentWindow) takeByTransaction(tid uint16) (*adu, bool) {
	for i, it := range w.items {
		if it != nil && it.transaction() == tid {
			w.items[i] = nil
			return it, true
		}
	}
	return nil, false
}

// nextTimeout removes and returns the first entry whose sent time is
// older than timeout.
func (w *sentWindow) nextTimeout(now time.Time, timeout time.Duration) (*adu, bool) {
	for i, it := range w.items {
		if it != nil && now.Sub(it.sentAt) >= timeout {
			w.items[i] = nil
			return it, true
		}
	}
	return nil, false
}

func (w *sentWindow) isEmpty() bool {
	for _, it := range w.items {
		if it != nil {
			return false
		}
	}
	return true
}

func (w *sentWindow) hasFree() bool {
	for _, it := range w.items {
		if it == nil {
			return true
		}
	}
	return false
}

// clear drops every entry without delivering callbacks.
func (w *sentWindow) clear() {
	for i := range w.items {
		w.items[i] = nil
	}
}

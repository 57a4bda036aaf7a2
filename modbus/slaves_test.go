// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"testing"
	"time"
)

func TestSlavesIterationOrder(t *testing.T) {
	s := NewSlaves(7, 1, 200, 3)

	var got []uint8
	for {
		id := s.Next()
		if id == SlaveEOF {
			break
		}
		got = append(got, id)
	}

	want := []uint8{1, 3, 7, 200}
	if len(got) != len(want) {
		t.Fatalf("iteration yielded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("iteration yielded %v, want %v", got, want)
		}
	}

	// Exhausted without repeat: stays EOF.
	if id := s.Next(); id != SlaveEOF {
		t.Fatalf("Next after EOF = %d, want EOF", id)
	}
}

func TestSlavesRepeatWraps(t *testing.T) {
	s := NewSlaves(2, 5)
	s.SetRepeatDelay(time.Second)

	want := []uint8{2, 5, 2, 5, 2}
	for i, w := range want {
		if id := s.Next(); id != w {
			t.Fatalf("Next #%d = %d, want %d", i, id, w)
		}
	}
	if !s.HasMore() {
		t.Fatal("HasMore with repeat enabled should always be true")
	}
}

func TestSlavesPeekDoesNotAdvance(t *testing.T) {
	s := NewSlaves(4, 9)
	if id := s.Peek(); id != 4 {
		t.Fatalf("Peek = %d, want 4", id)
	}
	if id := s.Peek(); id != 4 {
		t.Fatalf("second Peek = %d, want 4", id)
	}
	if id := s.Next(); id != 4 {
		t.Fatalf("Next = %d, want 4", id)
	}
	if id := s.Peek(); id != 9 {
		t.Fatalf("Peek after Next = %d, want 9", id)
	}
}

func TestSlavesSetRangeRemove(t *testing.T) {
	var s Slaves
	s.SetRange(10, 14)
	s.Remove(12)

	for _, id := range []uint8{10, 11, 13, 14} {
		if !s.IsSet(id) {
			t.Fatalf("IsSet(%d) = false", id)
		}
	}
	if s.IsSet(12) {
		t.Fatal("IsSet(12) = true after Remove")
	}

	// Out-of-range IDs are ignored.
	s.Set(248)
	if s.IsSet(248) {
		t.Fatal("reserved id 248 must not be settable")
	}
}

func TestSlavesActiveAndReset(t *testing.T) {
	s := NewSlaves(6)
	if s.Active() != SlaveBOF {
		t.Fatalf("Active before first Next = %#02x, want BOF", s.Active())
	}
	s.Next()
	if s.Active() != 6 {
		t.Fatalf("Active = %d, want 6", s.Active())
	}
	s.ResetActive()
	if s.Active() != SlaveBOF {
		t.Fatal("Active after ResetActive should be BOF")
	}
	if id := s.Next(); id != 6 {
		t.Fatalf("Next after ResetActive = %d, want 6", id)
	}
}

func TestBroadcastSet(t *testing.T) {
	s := Broadcast(500 * time.Millisecond)
	if !s.IsSet(0) {
		t.Fatal("broadcast set must contain id 0")
	}
	if !s.Repeat() || s.RepeatDelay() != 500*time.Millisecond {
		t.Fatal("broadcast set must repeat with the given delay")
	}
	// Single-element cyclic set: 0 forever.
	for i := 0; i < 3; i++ {
		if id := s.Next(); id != 0 {
			t.Fatalf("Next #%d = %d, want 0", i, id)
		}
	}
}

func TestSlavesClear(t *testing.T) {
	s := NewSlaves(1, 2)
	s.SetDelay(time.Second)
	s.SetRepeatDelay(time.Second)
	s.Next()
	s.Clear()
	if s.Valid() || s.Repeat() || s.Delay() != 0 || s.Active() != SlaveBOF {
		t.Fatal("Clear must reset mask, delays and cursor")
	}
}

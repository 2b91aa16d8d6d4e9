// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mark

import "testing"

func TestAllocateSmallestFree(t *testing.T) {
	a := NewAllocator()
	used := map[int]struct{}{0x001: {}, 0x002: {}, 0x004: {}}
	if got := a.Allocate(used); got != 0x003 {
		t.Fatalf("expected 0x003, got 0x%x", got)
	}
}

func TestAllocateEmpty(t *testing.T) {
	a := NewAllocator()
	if got := a.Allocate(nil); got != Min {
		t.Fatalf("expected Min, got 0x%x", got)
	}
}

func TestAllocateExhausted(t *testing.T) {
	a := NewAllocator()
	used := make(map[int]struct{}, Max-Min+1)
	for m := Min; m <= Max; m++ {
		used[m] = struct{}{}
	}
	got := a.Allocate(used)
	if got != Default {
		t.Fatalf("expected Default sentinel, got 0x%x", got)
	}
	if Steerable(got) {
		t.Fatal("sentinel must not be steerable")
	}
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package action

import "testing"

func TestOrdering(t *testing.T) {
	order := []Action{None, Reload, Start, Stop, Delete, Flush}
	for i := 0; i < len(order)-1; i++ {
		if order[i] >= order[i+1] {
			t.Fatalf("expected %v < %v", order[i], order[i+1])
		}
	}
}

func TestSetStrongerWins(t *testing.T) {
	cur, changed := Set(Stop, Reload)
	if cur != Stop || changed {
		t.Fatalf("weaker request should be dropped, got %v changed=%v", cur, changed)
	}

	cur, changed = Set(Reload, Delete)
	if cur != Delete || !changed {
		t.Fatalf("stronger request should win, got %v changed=%v", cur, changed)
	}
}

func TestMax(t *testing.T) {
	if Max(Start, Stop) != Stop {
		t.Fatal("expected Stop")
	}
	if Max(Flush, None) != Flush {
		t.Fatal("expected Flush")
	}
}

package shard

import (
	"sync"
	"testing"
)

// TestStateNames tests state string rendering
func TestStateNames(t *testing.T) {
	tests := []struct {
		state    State
		expected string
		terminal bool
	}{
		{StateInitial, "initial", false},
		{StateNoFormat, "no_format", false},
		{StateNoMeta, "no_meta", false},
		{StateNormal, "normal", false},
		{StateToShutdown, "to_shutdown", true},
		{StateDeleted, "deleted", true},
		{State(42), "unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
			if got := tt.state.Terminal(); got != tt.terminal {
				t.Errorf("Expected terminal=%v, got %v", tt.terminal, got)
			}
		})
	}
}

// TestKindIsWrite tests which operation kinds pass through admission
func TestKindIsWrite(t *testing.T) {
	writes := map[Kind]bool{
		KindCreate: true,
		KindGet:    false,
		KindPut:    true,
		KindReput:  true,
		KindDelete: false,
	}
	for kind, want := range writes {
		if got := kind.IsWrite(); got != want {
			t.Errorf("%s: expected IsWrite=%v, got %v", kind, want, got)
		}
	}
}

// TestStats tests operation counters
func TestStats(t *testing.T) {
	t.Run("record by kind", func(t *testing.T) {
		var s Stats
		s.Record(KindCreate)
		s.Record(KindGet)
		s.Record(KindGet)
		s.Record(KindPut)
		s.Record(KindReput)
		s.Record(KindDelete)
		Add(&s.Rejected)

		snap := s.Snapshot()
		if snap.Creates != 1 || snap.Gets != 2 || snap.Puts != 1 || snap.Reputs != 1 || snap.Deletes != 1 {
			t.Errorf("Unexpected counts: %+v", snap)
		}
		if snap.Rejected != 1 {
			t.Errorf("Expected 1 rejection, got %d", snap.Rejected)
		}
	})

	t.Run("concurrent updates", func(t *testing.T) {
		var s Stats
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					s.Record(KindGet)
					Add(&s.NotificationsSent)
				}
			}()
		}
		wg.Wait()

		snap := s.Snapshot()
		if snap.Gets != 1000 {
			t.Errorf("Expected 1000 gets, got %d", snap.Gets)
		}
		if snap.NotificationsSent != 1000 {
			t.Errorf("Expected 1000 notifications, got %d", snap.NotificationsSent)
		}
	})
}

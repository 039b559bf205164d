package scangroup

import (
	"testing"
	"time"
)

func newTestTracker(ttl time.Duration) (*Tracker, *time.Time) {
	tr := New(ttl)
	now := time.Now()
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestTracker_TrackThenLookup(t *testing.T) {
	tr, _ := newTestTracker(DefaultTTL)

	tr.Track("s1", "g1")

	got, ok := tr.Lookup("s1")
	if !ok {
		t.Fatal("Lookup missed a fresh entry")
	}
	if got != "g1" {
		t.Errorf("group = %q, want %q", got, "g1")
	}
}

func TestTracker_OverwriteLastWriterWins(t *testing.T) {
	tr, _ := newTestTracker(DefaultTTL)

	tr.Track("s1", "g1")
	tr.Track("s1", "g2")

	got, _ := tr.Lookup("s1")
	if got != "g2" {
		t.Errorf("group = %q, want %q", got, "g2")
	}
}

func TestTracker_ExpiredEntryDeletedOnLookup(t *testing.T) {
	tr, now := newTestTracker(5 * time.Minute)

	tr.Track("s1", "g1")
	*now = now.Add(5 * time.Minute)

	if _, ok := tr.Lookup("s1"); ok {
		t.Error("Lookup returned an expired entry")
	}
	if tr.Len() != 0 {
		t.Errorf("expired entry not deleted: len = %d, want 0", tr.Len())
	}
}

func TestTracker_WriteSweepsExpired(t *testing.T) {
	tr, now := newTestTracker(5 * time.Minute)

	tr.Track("old1", "g1")
	tr.Track("old2", "g2")
	*now = now.Add(6 * time.Minute)

	tr.Track("fresh", "g3")

	if tr.Len() != 1 {
		t.Errorf("len = %d, want 1 (expired entries swept on write)", tr.Len())
	}
}

func TestTracker_IgnoresEmptyIdentifiers(t *testing.T) {
	tr, _ := newTestTracker(DefaultTTL)

	tr.Track("", "g1")
	tr.Track("s1", "")

	if tr.Len() != 0 {
		t.Errorf("len = %d, want 0", tr.Len())
	}
}

package control

import "testing"

func track(title string) TrackInfo {
	return TrackInfo{URL: "http://example.com", Title: title, Artist: "Artist"}
}

func TestQueueAddAndGetByID(t *testing.T) {
	q := NewPlaybackQueue()
	id1 := q.Add(track("Track 1"))
	q.Add(track("Track 2"))

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	item, ok := q.GetByID(id1)
	if !ok || item.Track.Title != "Track 1" {
		t.Fatalf("GetByID(id1) = %+v, ok=%v", item, ok)
	}
}

func TestQueueNavigation(t *testing.T) {
	q := NewPlaybackQueue()
	q.Add(track("Track 1"))
	q.Add(track("Track 2"))
	q.Add(track("Track 3"))

	q.SetCurrent(0)
	if cur, _ := q.Current(); cur.Track.Title != "Track 1" {
		t.Fatalf("current = %q, want Track 1", cur.Track.Title)
	}

	q.Next()
	if cur, _ := q.Current(); cur.Track.Title != "Track 2" {
		t.Fatalf("current after Next = %q, want Track 2", cur.Track.Title)
	}

	q.Previous()
	if cur, _ := q.Current(); cur.Track.Title != "Track 1" {
		t.Fatalf("current after Previous = %q, want Track 1", cur.Track.Title)
	}
}

func TestQueueRemoveAdjustsCurrentIndex(t *testing.T) {
	q := NewPlaybackQueue()
	q.Add(track("Track 1"))
	q.Add(track("Track 2"))

	q.SetCurrent(1)
	q.Remove(0)

	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
	idx, ok := q.CurrentIndex()
	if !ok || idx != 0 {
		t.Fatalf("CurrentIndex() = %d, ok=%v, want 0", idx, ok)
	}
}

func TestQueueShufflePinsCurrentTrack(t *testing.T) {
	q := NewPlaybackQueue()
	for i := 0; i < 10; i++ {
		q.Add(track(string(rune('0' + i))))
	}

	q.SetCurrent(5)
	q.Shuffle()

	if !q.IsShuffled() {
		t.Fatal("expected IsShuffled() to be true")
	}
	cur, _ := q.Current()
	if cur.Track.Title != string(rune('0'+5)) {
		t.Fatalf("current track changed across shuffle: got %q", cur.Track.Title)
	}
}

func TestQueueInsertDuringShuffleVisitsAllTracks(t *testing.T) {
	q := NewPlaybackQueue()
	q.Add(track("1"))
	q.Add(track("2"))

	q.SetCurrent(0)
	q.Shuffle()
	q.Insert(1, track("1.5"))

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	if got, _ := q.Get(1); got.Track.Title != "1.5" {
		t.Fatalf("Get(1) = %q, want 1.5", got.Track.Title)
	}
	if got, _ := q.Get(2); got.Track.Title != "2" {
		t.Fatalf("Get(2) = %q, want 2", got.Track.Title)
	}

	seen := map[string]bool{}
	if cur, ok := q.Current(); ok {
		seen[cur.Track.Title] = true
	}
	for {
		item, ok := q.Next()
		if !ok {
			break
		}
		seen[item.Track.Title] = true
	}
	if len(seen) != 3 {
		t.Fatalf("visited %d distinct tracks in shuffle mode, want 3 (%v)", len(seen), seen)
	}
}

func TestQueueMoveTrackDuringShuffle(t *testing.T) {
	q := NewPlaybackQueue()
	q.Add(track("A"))
	q.Add(track("B"))
	q.Add(track("C"))

	q.SetCurrent(0)
	q.Shuffle()
	q.MoveTrack(2, 0)

	if got, _ := q.Get(0); got.Track.Title != "C" {
		t.Fatalf("Get(0) = %q, want C", got.Track.Title)
	}
	if got, _ := q.Get(1); got.Track.Title != "A" {
		t.Fatalf("Get(1) = %q, want A", got.Track.Title)
	}

	seen := map[string]bool{}
	if cur, ok := q.Current(); ok {
		seen[cur.Track.Title] = true
	}
	for {
		item, ok := q.Next()
		if !ok {
			break
		}
		seen[item.Track.Title] = true
	}
	for _, title := range []string{"A", "B", "C"} {
		if !seen[title] {
			t.Errorf("track %q never became reachable after move during shuffle", title)
		}
	}
}

func TestQueueUpcomingRespectsShuffleOrder(t *testing.T) {
	q := NewPlaybackQueue()
	q.Add(track("1"))
	q.Add(track("2"))
	q.Add(track("3"))
	q.SetCurrent(0)
	q.Shuffle()

	upcoming := q.Upcoming(10)
	if len(upcoming) != 2 {
		t.Fatalf("Upcoming(10) len = %d, want 2", len(upcoming))
	}
}

func TestQueueClearResetsState(t *testing.T) {
	q := NewPlaybackQueue()
	q.Add(track("1"))
	q.SetCurrent(0)
	q.Shuffle()

	q.Clear()

	if q.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", q.Len())
	}
	if _, ok := q.CurrentIndex(); ok {
		t.Fatal("expected no current index after Clear")
	}
	if q.IsShuffled() {
		t.Fatal("expected shuffle to be cleared")
	}
}

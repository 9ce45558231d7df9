package client

import (
	"testing"

	"github.com/airtap-go/airplay2/internal/control"
)

func newTestClient() *Client {
	return &Client{queue: control.NewPlaybackQueue()}
}

func TestAddToQueueAndRemoveFromQueue(t *testing.T) {
	c := newTestClient()

	id := c.AddToQueue(control.TrackInfo{Title: "First"})
	c.AddToQueue(control.TrackInfo{Title: "Second"})

	if len(c.QueueItems()) != 2 {
		t.Fatalf("expected 2 items, got %d", len(c.QueueItems()))
	}

	if !c.RemoveFromQueue(id) {
		t.Fatalf("expected RemoveFromQueue to succeed for a present id")
	}
	items := c.QueueItems()
	if len(items) != 1 || items[0].Track.Title != "Second" {
		t.Fatalf("expected only 'Second' to remain, got %+v", items)
	}
}

func TestRemoveFromQueueUnknownIDReturnsFalse(t *testing.T) {
	c := newTestClient()
	c.AddToQueue(control.TrackInfo{Title: "Only"})

	if c.RemoveFromQueue("does-not-exist") {
		t.Fatalf("expected RemoveFromQueue to return false for an unknown id")
	}
	if len(c.QueueItems()) != 1 {
		t.Fatalf("expected queue to be untouched")
	}
}

func TestClearQueue(t *testing.T) {
	c := newTestClient()
	c.AddToQueue(control.TrackInfo{Title: "A"})
	c.AddToQueue(control.TrackInfo{Title: "B"})

	c.ClearQueue()

	if len(c.QueueItems()) != 0 {
		t.Fatalf("expected empty queue after ClearQueue, got %d items", len(c.QueueItems()))
	}
}

func TestPlayNextInsertsAfterCurrent(t *testing.T) {
	c := newTestClient()
	c.AddToQueue(control.TrackInfo{Title: "First"})
	c.AddToQueue(control.TrackInfo{Title: "Third"})
	c.PlayNext(control.TrackInfo{Title: "Second"})

	items := c.QueueItems()
	if len(items) != 3 || items[1].Track.Title != "Second" {
		t.Fatalf("expected PlayNext to insert immediately after the first item, got %+v", items)
	}
}

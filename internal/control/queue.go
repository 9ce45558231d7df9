package control

import (
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// maxQueueHistory bounds how many previously played items Previous can
// walk back through before falling back to stepping the queue itself.
const maxQueueHistory = 100

// TrackInfo describes one piece of audio the queue can point at. Fields
// beyond URL/Title/Artist are optional metadata forwarded to the device
// via SetMetadata once a track becomes current.
type TrackInfo struct {
	URL    string
	Title  string
	Artist string

	Album        string
	ArtworkURL   string
	DurationSecs float64
	TrackNumber  int
	DiscNumber   int
	Genre        string
	ContentID    string
}

// QueueItem is one entry in a PlaybackQueue: a stable ID plus the track it
// names, so items can be reordered or removed without invalidating
// references held elsewhere (e.g. the shuffle order or history).
type QueueItem struct {
	ID    string
	Track TrackInfo
}

// PlaybackQueue is an ordered, optionally shuffled list of tracks with a
// notion of "current" and a bounded play history, grounded on the
// original project's control/queue.rs PlaybackQueue.
type PlaybackQueue struct {
	mu sync.Mutex

	items        []QueueItem
	currentIndex int // -1 when nothing is current

	history []string // most-recent last, capped at maxQueueHistory

	shuffleOrder    []int // nil when not shuffled
	shufflePosition int
}

// NewPlaybackQueue constructs an empty queue.
func NewPlaybackQueue() *PlaybackQueue {
	return &PlaybackQueue{currentIndex: -1}
}

// Add appends a track to the end of the queue and returns its item ID.
func (q *PlaybackQueue) Add(track TrackInfo) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.NewString()
	q.items = append(q.items, QueueItem{ID: id, Track: track})
	if q.shuffleOrder != nil {
		q.shuffleOrder = append(q.shuffleOrder, len(q.items)-1)
	}
	return id
}

// Insert places a track at a specific index, shifting later items down
// and adjusting the current index and shuffle order to match.
func (q *PlaybackQueue) Insert(index int, track TrackInfo) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	index = clampIndex(index, len(q.items))
	id := uuid.NewString()
	item := QueueItem{ID: id, Track: track}
	q.items = append(q.items, QueueItem{})
	copy(q.items[index+1:], q.items[index:])
	q.items[index] = item

	if q.currentIndex >= index {
		q.currentIndex++
	}
	q.shiftShuffleIndices(index, 1)
	if q.shuffleOrder != nil {
		q.shuffleOrder = append(q.shuffleOrder, index)
	}
	return id
}

// AddNext inserts a track immediately after the current item (or at the
// front if nothing is current).
func (q *PlaybackQueue) AddNext(track TrackInfo) string {
	q.mu.Lock()
	at := 0
	if q.currentIndex >= 0 {
		at = q.currentIndex + 1
	}
	q.mu.Unlock()
	return q.Insert(at, track)
}

// Remove deletes the item at index, adjusting the current index and
// shuffle order references accordingly. History is not touched: it holds
// item IDs, and an ID removed here may still be recorded there.
func (q *PlaybackQueue) Remove(index int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.items) {
		return false
	}
	q.items = append(q.items[:index], q.items[index+1:]...)

	switch {
	case q.currentIndex == index:
		q.currentIndex = -1
	case q.currentIndex > index:
		q.currentIndex--
	}
	q.shiftShuffleIndices(index, -1)
	return true
}

// MoveTrack relocates the item at "from" to position "to", adjusting the
// current index and shuffle order to continue pointing at the same
// tracks.
func (q *PlaybackQueue) MoveTrack(from, to int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if from < 0 || from >= len(q.items) || to < 0 || to >= len(q.items) || from == to {
		return false
	}
	item := q.items[from]
	q.items = append(q.items[:from], q.items[from+1:]...)
	q.items = append(q.items[:to], append([]QueueItem{item}, q.items[to:]...)...)

	q.currentIndex = remapIndex(q.currentIndex, from, to)
	for i, idx := range q.shuffleOrder {
		q.shuffleOrder[i] = remapIndex(idx, from, to)
	}
	return true
}

// Clear empties the queue, its history and its shuffle state.
func (q *PlaybackQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.currentIndex = -1
	q.history = nil
	q.shuffleOrder = nil
	q.shufflePosition = 0
}

// Current returns the currently-selected item, if any.
func (q *PlaybackQueue) Current() (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.currentIndex < 0 || q.currentIndex >= len(q.items) {
		return QueueItem{}, false
	}
	return q.items[q.currentIndex], true
}

// CurrentIndex returns the index of the currently-selected item.
func (q *PlaybackQueue) CurrentIndex() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.currentIndex < 0 {
		return 0, false
	}
	return q.currentIndex, true
}

// SetCurrent selects the item at index as current, pushing the previous
// current item onto history.
func (q *PlaybackQueue) SetCurrent(index int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.items) {
		return false
	}
	q.pushHistoryLocked()
	q.currentIndex = index
	if q.shuffleOrder != nil {
		for pos, idx := range q.shuffleOrder {
			if idx == index {
				q.shufflePosition = pos
				break
			}
		}
	}
	return true
}

// SkipTo is an alias for SetCurrent, matching the naming used by external
// "jump to this item" commands.
func (q *PlaybackQueue) SkipTo(index int) bool { return q.SetCurrent(index) }

// Next advances to the following track, honoring shuffle order when
// active. It returns false when the queue is exhausted.
func (q *PlaybackQueue) Next() (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return QueueItem{}, false
	}
	q.pushHistoryLocked()

	if q.shuffleOrder != nil {
		if q.shufflePosition+1 >= len(q.shuffleOrder) {
			return QueueItem{}, false
		}
		q.shufflePosition++
		q.currentIndex = q.shuffleOrder[q.shufflePosition]
		return q.items[q.currentIndex], true
	}

	next := q.currentIndex + 1
	if next >= len(q.items) {
		return QueueItem{}, false
	}
	q.currentIndex = next
	return q.items[next], true
}

// Previous steps back to the item played before the current one,
// preferring recorded history and falling back to stepping the queue (or
// shuffle order) backwards when history is empty.
func (q *PlaybackQueue) Previous() (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.history); n > 0 {
		id := q.history[n-1]
		q.history = q.history[:n-1]
		for i, item := range q.items {
			if item.ID == id {
				q.currentIndex = i
				return item, true
			}
		}
	}

	if q.shuffleOrder != nil {
		if q.shufflePosition == 0 {
			return QueueItem{}, false
		}
		q.shufflePosition--
		q.currentIndex = q.shuffleOrder[q.shufflePosition]
		return q.items[q.currentIndex], true
	}

	if q.currentIndex <= 0 {
		return QueueItem{}, false
	}
	q.currentIndex--
	return q.items[q.currentIndex], true
}

// Shuffle randomizes play order, pinning the currently playing track (if
// any) at the head of the new order so shuffling mid-playback doesn't
// interrupt what's already sounding.
func (q *PlaybackQueue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	order := make([]int, len(q.items))
	for i := range order {
		order[i] = i
	}
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	if q.currentIndex >= 0 {
		for pos, idx := range order {
			if idx == q.currentIndex {
				order[0], order[pos] = order[pos], order[0]
				break
			}
		}
		q.shufflePosition = 0
	}
	q.shuffleOrder = order
}

// Unshuffle restores sequential play order.
func (q *PlaybackQueue) Unshuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuffleOrder = nil
	q.shufflePosition = 0
}

// IsShuffled reports whether a shuffle order is currently active.
func (q *PlaybackQueue) IsShuffled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffleOrder != nil
}

// Len returns the number of items in the queue.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether the queue has no items.
func (q *PlaybackQueue) IsEmpty() bool { return q.Len() == 0 }

// Items returns a copy of the queue's items in queue order.
func (q *PlaybackQueue) Items() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Get returns the item at index.
func (q *PlaybackQueue) Get(index int) (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.items) {
		return QueueItem{}, false
	}
	return q.items[index], true
}

// GetByID looks an item up by its stable ID.
func (q *PlaybackQueue) GetByID(id string) (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ID == id {
			return item, true
		}
	}
	return QueueItem{}, false
}

// Upcoming returns up to count items that would play next, honoring
// shuffle order when active.
func (q *PlaybackQueue) Upcoming(count int) []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []QueueItem

	if q.shuffleOrder != nil {
		for pos := q.shufflePosition + 1; pos < len(q.shuffleOrder) && len(out) < count; pos++ {
			out = append(out, q.items[q.shuffleOrder[pos]])
		}
		return out
	}
	for i := q.currentIndex + 1; i < len(q.items) && len(out) < count; i++ {
		out = append(out, q.items[i])
	}
	return out
}

func (q *PlaybackQueue) pushHistoryLocked() {
	if q.currentIndex < 0 || q.currentIndex >= len(q.items) {
		return
	}
	q.history = append(q.history, q.items[q.currentIndex].ID)
	if len(q.history) > maxQueueHistory {
		q.history = q.history[len(q.history)-maxQueueHistory:]
	}
}

// shiftShuffleIndices adjusts every recorded shuffle-order index affected
// by an insertion (delta=1) or removal (delta=-1) at position.
func (q *PlaybackQueue) shiftShuffleIndices(position, delta int) {
	if q.shuffleOrder == nil {
		return
	}
	next := q.shuffleOrder[:0]
	for _, idx := range q.shuffleOrder {
		switch {
		case delta < 0 && idx == position:
			continue
		case idx >= position:
			idx += delta
		}
		next = append(next, idx)
	}
	q.shuffleOrder = next
}

func clampIndex(index, length int) int {
	if index < 0 {
		return 0
	}
	if index > length {
		return length
	}
	return index
}

// remapIndex adjusts idx to follow an item that moved from "from" to "to".
func remapIndex(idx, from, to int) int {
	switch {
	case idx == from:
		return to
	case from < to && idx > from && idx <= to:
		return idx - 1
	case from > to && idx >= to && idx < from:
		return idx + 1
	default:
		return idx
	}
}

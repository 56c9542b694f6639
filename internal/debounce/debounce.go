// Package debounce buffers inbound messages per workspace and flushes them
// as one merged batch after a quiescence window (spec.md §4.F).
package debounce

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Window is the fixed quiescence period before a buffer fires.
const Window = 2 * time.Second

// Item is a single buffered message.
type Item struct {
	Sender    string
	Content   string
	MessageID int64
	ReplyTo   *int64
	Timestamp time.Time
}

// Batch is the merged result of a flush.
type Batch struct {
	Text           string
	Sender         string
	ReplyToMessage int64
}

type entry struct {
	items []Item
	timer *time.Timer
}

// Debouncer holds one buffer per workspace key.
type Debouncer struct {
	mu      sync.Mutex
	entries map[string]*entry
	flushFn func(key string, batch Batch)
}

// New creates a Debouncer that calls flushFn when a buffer fires.
func New(flushFn func(key string, batch Batch)) *Debouncer {
	return &Debouncer{
		entries: make(map[string]*entry),
		flushFn: flushFn,
	}
}

// Key builds the workspace buffer key for a (chat, topic) pair.
func Key(chatID, topicID int64) string {
	return fmt.Sprintf("%d_%d", chatID, topicID)
}

// Enqueue appends item to key's buffer and (re)arms its timer.
func (d *Debouncer) Enqueue(key string, item Item) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key]
	if !ok {
		e = &entry{}
		d.entries[key] = e
	}
	e.items = append(e.items, item)

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(Window, func() {
		d.fire(key)
	})
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.entries, key)
	d.mu.Unlock()

	batch := merge(e.items)
	d.flushFn(key, batch)
}

// Flush synchronously fires every pending buffer, used on process shutdown.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	keys := make([]string, 0, len(d.entries))
	for k, e := range d.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		keys = append(keys, k)
	}
	d.mu.Unlock()

	for _, key := range keys {
		d.mu.Lock()
		e, ok := d.entries[key]
		if ok {
			delete(d.entries, key)
		}
		d.mu.Unlock()
		if !ok {
			continue
		}
		d.flushFn(key, merge(e.items))
	}
}

// merge combines buffered items in timestamp order per spec.md §4.F: if more
// than one sender contributed, each line is prefixed with "[sender]:"; the
// newest message id becomes the reply target.
func merge(items []Item) Batch {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	senders := make(map[string]struct{})
	for _, it := range sorted {
		senders[it.Sender] = struct{}{}
	}
	multiSender := len(senders) > 1

	lines := make([]string, 0, len(sorted))
	var newestID int64
	for _, it := range sorted {
		if multiSender {
			lines = append(lines, fmt.Sprintf("[%s]: %s", it.Sender, it.Content))
		} else {
			lines = append(lines, it.Content)
		}
		if it.MessageID > newestID {
			newestID = it.MessageID
		}
	}

	sender := "multiple"
	if !multiSender && len(sorted) > 0 {
		sender = sorted[0].Sender
	}

	return Batch{
		Text:           strings.Join(lines, "\n"),
		Sender:         sender,
		ReplyToMessage: newestID,
	}
}

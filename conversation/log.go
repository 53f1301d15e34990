package conversation

import (
	"sync"
)

// DefaultMaxEntries bounds the log when no limit is configured.
const DefaultMaxEntries = 10

type Entry struct {
	ID            int
	Transcript    string
	ReplyText     string
	ReplyAudioURL string
	Error         string
}

// Log is an Observer that records entries by utterance id, evicting the
// oldest past its limit. Updates for evicted ids are dropped.
type Log struct {
	Nop

	mu         sync.Mutex
	maxEntries int
	entries    []Entry
	inFlight   int
}

func NewLog(maxEntries int) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Log{maxEntries: maxEntries}
}

func (l *Log) OnUtteranceStarted(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.find(id) >= 0 {
		return
	}

	l.entries = append(l.entries, Entry{ID: id})
	if over := len(l.entries) - l.maxEntries; over > 0 {
		l.entries = append(l.entries[:0], l.entries[over:]...)
	}
}

func (l *Log) OnTranscriptionReady(id int, text string) {
	l.update(id, func(e *Entry) { e.Transcript = text })
}

func (l *Log) OnReplyReady(id int, text, audioURL string) {
	l.update(id, func(e *Entry) {
		e.ReplyText = text
		e.ReplyAudioURL = audioURL
	})
}

func (l *Log) OnUtteranceError(id int, message string) {
	l.update(id, func(e *Entry) { e.Error = message })
}

func (l *Log) OnRequestsInFlight(n int) {
	l.mu.Lock()
	l.inFlight = n
	l.mu.Unlock()
}

// Entries returns a copy, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

func (l *Log) Entry(id int) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.find(id); i >= 0 {
		return l.entries[i], true
	}
	return Entry{}, false
}

func (l *Log) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

func (l *Log) update(id int, fn func(e *Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.find(id); i >= 0 {
		fn(&l.entries[i])
	}
}

func (l *Log) find(id int) int {
	for i := range l.entries {
		if l.entries[i].ID == id {
			return i
		}
	}
	return -1
}

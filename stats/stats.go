package stats

import "sync"

type Stage string

const (
	StageSource Stage = "source"
	StageStore  Stage = "store"
)

type EventType string

const (
	EventTypeScanned   EventType = "scanned"
	EventTypeStored    EventType = "stored"
	EventTypeEvent     EventType = "event_stored"
	EventTypeDuplicate EventType = "duplicate"
	EventTypeCorrupt   EventType = "corrupt"
	EventTypeTagged    EventType = "tagged"
	EventTypeUntagged  EventType = "untagged"
	EventTypeError     EventType = "error"
)

type Event struct {
	Stage   Stage
	Type    EventType
	Archive string
	Source  string
	Err     error
}

// Summary is the per-run outcome reported back to the CLI layer.
// Duplicates and Untagged are expected, successful outcomes.
type Summary struct {
	Scanned    int
	Processed  int
	Events     int
	Duplicates int
	Corrupt    int
	Tagged     int
	Untagged   int
	Errors     int
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"processed", s.Processed,
		"events", s.Events,
		"skippedDuplicate", s.Duplicates,
		"skippedCorrupt", s.Corrupt,
		"tagged", s.Tagged,
		"untagged", s.Untagged,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Collector aggregates pipeline events into a Summary. Safe for use from
// multiple archive ingests running concurrently.
type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Record(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeStored:
		c.summary.Processed++
	case EventTypeEvent:
		c.summary.Events++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeCorrupt:
		c.summary.Corrupt++
	case EventTypeTagged:
		c.summary.Tagged++
	case EventTypeUntagged:
		c.summary.Untagged++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

package stats

import (
	"errors"
	"sync"
	"testing"
)

func TestCollectorAggregates(t *testing.T) {
	c := NewCollector()

	events := []Event{
		{Stage: StageSource, Type: EventTypeScanned},
		{Stage: StageSource, Type: EventTypeScanned},
		{Stage: StageStore, Type: EventTypeStored},
		{Stage: StageStore, Type: EventTypeEvent},
		{Stage: StageStore, Type: EventTypeDuplicate},
		{Stage: StageSource, Type: EventTypeCorrupt},
		{Stage: StageStore, Type: EventTypeTagged},
		{Stage: StageStore, Type: EventTypeUntagged},
		{Stage: StageStore, Type: EventTypeError, Err: errors.New("boom")},
	}
	for _, evt := range events {
		c.Record(evt)
	}

	s := c.Snapshot()
	if s.Scanned != 2 || s.Processed != 1 || s.Events != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.Duplicates != 1 || s.Corrupt != 1 || s.Tagged != 1 || s.Untagged != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.Errors != 1 || s.LastError == nil || s.LastError.Error() != "boom" {
		t.Errorf("error not captured: %+v", s)
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Record(Event{Type: EventTypeScanned})
			}
		}()
	}
	wg.Wait()

	if s := c.Snapshot(); s.Scanned != 1000 {
		t.Errorf("expected 1000 scanned, got %d", s.Scanned)
	}
}

func TestSummaryLogAttrs(t *testing.T) {
	s := Summary{Scanned: 5, Processed: 3, LastError: errors.New("x")}
	attrs := s.LogAttrs()
	if len(attrs)%2 != 0 {
		t.Errorf("attrs must be key/value pairs, got %d entries", len(attrs))
	}
	if attrs[0] != "scanned" || attrs[1] != 5 {
		t.Errorf("unexpected leading attrs: %v", attrs[:2])
	}
}

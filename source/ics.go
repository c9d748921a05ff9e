package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"mailvault/model"
)

// icsReader handles a standalone .ics file given directly as the archive.
type icsReader struct {
	path string
}

func (r *icsReader) Kind() Kind { return KindICS }

func (r *icsReader) Stream(ctx context.Context, after int64, out chan<- model.RawRecord) error {
	cur := &cursor{after: after}
	return streamICSFile(ctx, r.path, r.path, cur, out)
}

func streamICSFile(ctx context.Context, path, rel string, cur *cursor, out chan<- model.RawRecord) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ics %s: %w", path, err)
	}
	defer file.Close()

	events, err := parseICS(file)
	if err != nil {
		pos, active := cur.next()
		if !active {
			return nil
		}
		return emit(ctx, out, model.RawRecord{
			Position: pos,
			Source:   rel,
			Kind:     model.RecordEvent,
			Err:      fmt.Errorf("parse ics %s: %w", rel, err),
		})
	}

	for i := range events {
		pos, active := cur.next()
		if !active {
			continue
		}
		if err := emit(ctx, out, model.RawRecord{
			Position: pos,
			Source:   fmt.Sprintf("%s::vevent:%d", rel, i),
			Kind:     model.RecordEvent,
			Event:    &events[i],
		}); err != nil {
			return err
		}
	}
	return nil
}

// parseICS scans VEVENT blocks out of an ICS stream. Folded lines (RFC 5545:
// continuation lines start with space or tab) are unfolded first; property
// parameters after ';' are dropped.
func parseICS(r io.Reader) ([]model.SourceEvent, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if len(lines) > 0 {
				lines[len(lines)-1] += strings.TrimLeft(line, " \t")
			}
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var (
		events  []model.SourceEvent
		current map[string]string
	)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "BEGIN:VEVENT":
			current = make(map[string]string)
		case trimmed == "END:VEVENT":
			if current != nil {
				events = append(events, model.SourceEvent{
					Summary:  current["SUMMARY"],
					Location: current["LOCATION"],
					Start:    current["DTSTART"],
					End:      current["DTEND"],
				})
				current = nil
			}
		case current != nil && strings.Contains(line, ":"):
			key, value, _ := strings.Cut(line, ":")
			key, _, _ = strings.Cut(key, ";")
			current[strings.ToUpper(key)] = value
		}
	}
	return events, nil
}

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	mboxlib "github.com/emersion/go-mbox"

	"mailvault/model"
)

// cursor hands out archive-wide record positions and knows which positions
// were already committed in a previous run.
type cursor struct {
	pos   int64
	after int64
}

// next returns the next position and whether the record at it still needs
// processing.
func (c *cursor) next() (int64, bool) {
	c.pos++
	return c.pos, c.pos > c.after
}

type mboxReader struct {
	path  string
	label string
}

func (r *mboxReader) Kind() Kind { return KindMbox }

func (r *mboxReader) Stream(ctx context.Context, after int64, out chan<- model.RawRecord) error {
	cur := &cursor{after: after}
	return streamMboxFile(ctx, r.path, r.label, cur, out)
}

// streamMboxFile walks one mbox file message by message. Messages at or
// before the resume position are consumed but not emitted; a message that
// cannot be read yields an error record and ends the file, since the mbox
// framing beyond it cannot be trusted.
func streamMboxFile(ctx context.Context, path, label string, cur *cursor, out chan<- model.RawRecord) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox %s: %w", path, err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			pos, active := cur.next()
			if !active {
				return nil
			}
			return emit(ctx, out, model.RawRecord{
				Position: pos,
				Source:   fmt.Sprintf("%s::msg:%d", label, idx),
				Kind:     model.RecordMessage,
				Err:      fmt.Errorf("mbox message %d: %w", idx, err),
			})
		}

		pos, active := cur.next()
		if !active {
			if _, err := io.Copy(io.Discard, msgReader); err != nil {
				return fmt.Errorf("skip mbox message %d: %w", idx, err)
			}
			continue
		}

		source := fmt.Sprintf("%s::msg:%d", label, idx)
		raw, err := io.ReadAll(msgReader)
		if err != nil {
			if err := emit(ctx, out, model.RawRecord{
				Position: pos,
				Source:   source,
				Kind:     model.RecordMessage,
				Err:      fmt.Errorf("mbox message %d read: %w", idx, err),
			}); err != nil {
				return err
			}
			continue
		}

		if err := emit(ctx, out, model.RawRecord{
			Position: pos,
			Source:   source,
			Kind:     model.RecordMessage,
			Raw:      raw,
		}); err != nil {
			return err
		}
	}
}

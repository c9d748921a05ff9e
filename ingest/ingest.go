// Package ingest drives the streaming pipeline: source records are read,
// normalized, deduped, tagged and batched strictly in source order, and the
// per-archive checkpoint advances only after each batch transaction has
// committed. Any abrupt termination is equivalent to a crash; re-invoking
// ingestion on the same archive resumes from the checkpoint, and the
// content-hash dedup makes replaying the crash window a no-op.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"mailvault/checkpoint"
	"mailvault/config"
	"mailvault/model"
	"mailvault/normalize"
	"mailvault/semantic"
	"mailvault/source"
	"mailvault/stats"
	"mailvault/store"
	"mailvault/tagger"
)

// excerptLen bounds the body text handed to the semantic collaborator.
const excerptLen = 1000

// Options are the run parameters of one pipeline instance.
type Options struct {
	StateDir   string
	BatchSize  int
	ScratchDir string
	Readpst    string
}

// Pipeline ingests archives into a store using an immutable rules snapshot.
type Pipeline struct {
	store    *store.Store
	rules    *config.Rules
	indexer  semantic.Indexer
	logger   *slog.Logger
	opts     Options
	observer func(stats.Event)

	collector *stats.Collector
}

// New wires a pipeline. The rules snapshot must already be loaded and is
// never mutated during the run. indexer may be nil (semantic layer off).
func New(st *store.Store, rules *config.Rules, indexer semantic.Indexer, logger *slog.Logger, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if indexer == nil {
		indexer = semantic.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     st,
		rules:     rules,
		indexer:   indexer,
		logger:    logger,
		opts:      opts,
		collector: stats.NewCollector(),
	}
}

// Observe registers a callback invoked for every pipeline event, in addition
// to the internal collector. Used by the progress UI.
func (p *Pipeline) Observe(fn func(stats.Event)) {
	p.observer = fn
}

// Summary returns the aggregated counters so far.
func (p *Pipeline) Summary() stats.Summary {
	return p.collector.Snapshot()
}

// Run ingests each archive in turn. A fatal error in one archive is reported
// and recorded, and the remaining archives still run. The returned error
// joins all per-archive failures.
func (p *Pipeline) Run(ctx context.Context, archives []string) (stats.Summary, error) {
	var failures []error
	for _, archive := range archives {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		if err := p.RunArchive(ctx, archive); err != nil {
			p.record(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeError, Archive: archive, Err: err})
			p.logger.Error("archive ingest failed", "archive", archive, "err", err)
			failures = append(failures, fmt.Errorf("%s: %w", archive, err))
			continue
		}
		p.logger.Info("archive ingest completed", "archive", archive)
	}
	return p.collector.Snapshot(), errors.Join(failures...)
}

// RunArchive ingests a single archive, resuming from its checkpoint when the
// archive fingerprint still matches.
func (p *Pipeline) RunArchive(ctx context.Context, archive string) error {
	fingerprint, err := checkpoint.Fingerprint(archive)
	if err != nil {
		return runErr(ReasonArchiveUnreadable, err)
	}

	cpPath := checkpoint.PathFor(p.opts.StateDir, archive)
	after := p.resumePosition(cpPath, fingerprint, archive)

	reader, err := source.Open(archive, source.Options{
		ScratchDir: p.opts.ScratchDir,
		Readpst:    p.opts.Readpst,
		Logger:     p.logger,
	})
	if err != nil {
		switch {
		case errors.Is(err, source.ErrUnrecognized):
			return runErr(ReasonArchiveUnrecognized, err)
		case errors.Is(err, source.ErrToolMissing):
			return runErr(ReasonConversionToolAbsent, err)
		default:
			return runErr(ReasonArchiveUnreadable, err)
		}
	}
	p.logger.Info("ingesting archive", "archive", archive, "kind", reader.Kind(), "resumeAfter", after)

	records := make(chan model.RawRecord, 32)
	streamErr := make(chan error, 1)
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		streamErr <- reader.Stream(streamCtx, after, records)
		close(records)
	}()

	var (
		pending   []store.BatchItem
		lastPos   = after
		committed = after
	)

	flush := func() error {
		if lastPos <= committed {
			return nil
		}
		if err := p.commit(ctx, archive, cpPath, fingerprint, pending, lastPos); err != nil {
			return err
		}
		committed = lastPos
		pending = pending[:0]
		return nil
	}

	for rec := range records {
		p.record(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeScanned, Archive: archive, Source: rec.Source})

		if rec.Err != nil {
			p.record(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeCorrupt, Archive: archive, Source: rec.Source, Err: rec.Err})
			p.logger.Warn("skipping corrupt record", "archive", archive, "source", rec.Source, "err", rec.Err)
			lastPos = rec.Position
			continue
		}

		env, err := normalize.Envelope(rec)
		if err != nil {
			p.record(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeCorrupt, Archive: archive, Source: rec.Source, Err: err})
			p.logger.Warn("skipping undecodable record", "archive", archive, "source", rec.Source, "err", err)
			lastPos = rec.Position
			continue
		}

		pending = append(pending, store.BatchItem{
			Envelope: env,
			Tags:     tagger.Tag(env, p.rules),
		})
		lastPos = rec.Position

		if len(pending) >= p.opts.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := <-streamErr; err != nil && !errors.Is(err, context.Canceled) {
		// commit what is already batched before reporting the failure
		if ferr := flush(); ferr != nil {
			return ferr
		}
		return runErr(ReasonArchiveUnreadable, err)
	}

	return flush()
}

// commit writes one batch transaction and, only after it has committed,
// advances the checkpoint. A checkpoint write failure is logged but not
// fatal: replaying the batch on the next run is a no-op thanks to dedup.
func (p *Pipeline) commit(ctx context.Context, archive, cpPath, fingerprint string, batch []store.BatchItem, position int64) error {
	res, err := p.store.WriteBatch(ctx, archive, batch)
	if err != nil {
		p.record(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeError, Archive: archive, Err: err})
		return runErr(ReasonStorageCommit, err)
	}

	if err := checkpoint.Save(cpPath, checkpoint.Checkpoint{
		Fingerprint: fingerprint,
		Position:    position,
		UpdatedAt:   time.Now().UTC(),
	}); err != nil {
		p.logger.Warn("checkpoint not advanced", "archive", archive, "position", position, "err", err)
	}

	p.recordBatch(archive, res)
	p.indexInserted(ctx, res.Inserted)
	p.logger.Debug("batch committed",
		"archive", archive,
		"position", position,
		"messages", res.Messages,
		"events", res.Events,
		"duplicates", res.Duplicates,
	)
	return nil
}

func (p *Pipeline) recordBatch(archive string, res store.BatchResult) {
	for i := 0; i < res.Messages; i++ {
		p.record(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeStored, Archive: archive})
	}
	for i := 0; i < res.Events; i++ {
		p.record(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeEvent, Archive: archive})
	}
	for i := 0; i < res.Duplicates; i++ {
		p.record(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeDuplicate, Archive: archive})
	}
	for i := 0; i < res.Tagged; i++ {
		p.record(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeTagged, Archive: archive})
	}
	for i := 0; i < res.Untagged; i++ {
		p.record(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeUntagged, Archive: archive})
	}
}

// indexInserted hands newly stored messages to the semantic collaborator.
// Failures are absorbed: the batch is already committed and the collaborator
// must never fail ingestion.
func (p *Pipeline) indexInserted(ctx context.Context, inserted []store.InsertedMessage) {
	for _, msg := range inserted {
		text := msg.Subject + "\n" + excerpt(msg.Body)
		if err := p.indexer.EmbedAndIndex(ctx, msg.ID, text); err != nil {
			p.logger.Warn("semantic indexing failed", "messageID", msg.ID, "err", err)
		}
	}
}

// resumePosition loads the archive checkpoint and decides where to resume.
// A missing, torn or fingerprint-mismatched checkpoint restarts from zero;
// rows committed under the old checkpoint are protected by dedup.
func (p *Pipeline) resumePosition(cpPath, fingerprint, archive string) int64 {
	cp, err := checkpoint.Load(cpPath)
	if err != nil {
		p.logger.Warn("discarding unreadable checkpoint", "archive", archive, "err", err)
		return 0
	}
	if cp == nil {
		return 0
	}
	if cp.Fingerprint != fingerprint {
		p.logger.Info("archive changed, restarting from the beginning", "archive", archive)
		return 0
	}
	return cp.Position
}

func (p *Pipeline) record(evt stats.Event) {
	p.collector.Record(evt)
	if p.observer != nil {
		p.observer(evt)
	}
}

// excerpt truncates to excerptLen bytes without splitting a UTF-8 rune.
func excerpt(body string) string {
	if len(body) <= excerptLen {
		return body
	}
	cut := excerptLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}

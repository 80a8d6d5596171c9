package enrich

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/export"
	"github.com/sells-group/geoenrich/internal/fetcher"
	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/internal/monitoring"
)

// FileOptions configures one ProcessFile call.
type FileOptions struct {
	// OutputPath, when set, receives the enriched rows.
	OutputPath string
	// Format overrides the output format inferred from OutputPath.
	Format export.Format
	// OnProgress is called after each chunk with the completed percentage.
	OnProgress func(percent float64)
	// Discard drops records from the Result once written, keeping memory
	// bounded by the chunk size.
	Discard bool
}

// Result is the outcome of ProcessFile.
type Result struct {
	RunID   string
	Header  []string
	Records []model.Record
	Stats   model.StatsSnapshot
}

// ProcessFile enriches every row of source, which may be a local path, an
// http(s) or ftp URL, or a ZIP archive holding one table. Row failures are
// recorded in the stats; only source, decoding and output failures are
// returned as errors.
func (p *Processor) ProcessFile(ctx context.Context, source string, opts FileOptions) (*Result, error) {
	runID := uuid.New().String()
	log := zap.L().With(zap.String("run_id", runID), zap.String("source", source))
	log.Info("enrich: starting run", zap.String("output", opts.OutputPath))

	stats := model.NewStats(p.clock.Now())
	if p.runs != nil {
		if _, err := p.runs.CreateRun(ctx, runID, source, opts.OutputPath); err != nil {
			log.Warn("enrich: failed to record run", zap.Error(err))
		}
	}
	if p.metrics != nil {
		p.metrics.RunsInFlight.Inc()
		defer p.metrics.RunsInFlight.Dec()
	}

	res, runErr := p.run(ctx, source, opts, stats, log)
	stats.Finish(p.clock.Now())
	snap := stats.Snapshot()
	p.finish(ctx, runID, source, snap, runErr, log)

	if runErr != nil {
		return nil, runErr
	}
	res.RunID = runID
	res.Stats = snap
	return res, nil
}

func (p *Processor) run(ctx context.Context, source string, opts FileOptions, stats *model.Stats, log *zap.Logger) (*Result, error) {
	local, cleanup, err := p.resolver.Resolve(ctx, source)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	src, err := fetcher.Open(local, fetcher.CSVOptions{
		Delimiter: p.delimiter,
		ChunkSize: p.chunkSize,
		Encoding:  p.encoding,
	})
	if err != nil {
		return nil, eris.Wrap(err, "enrich: open source")
	}
	defer src.Close() //nolint:errcheck

	stats.SetTotal(src.Total())
	header := model.WithOutputColumns(p.columns.Header(src.Header()))
	log.Info("enrich: source opened", zap.Int("total_rows", src.Total()), zap.Strings("header", header))

	var w export.Writer
	if opts.OutputPath != "" {
		w, err = export.Create(opts.OutputPath, header, export.Options{Format: opts.Format, Delimiter: p.delimiter})
		if err != nil {
			return nil, err
		}
	}
	closeWriter := func() error {
		if w == nil {
			return nil
		}
		cw := w
		w = nil
		return cw.Close()
	}
	defer closeWriter() //nolint:errcheck

	res := &Result{Header: header}
	for {
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "enrich: read chunk")
		}

		if err := p.enrichChunk(ctx, chunk, header, stats, log); err != nil {
			return nil, err
		}

		if w != nil {
			if err := w.WriteChunk(chunk); err != nil {
				return nil, err
			}
		}
		if !opts.Discard {
			res.Records = append(res.Records, chunk.Records...)
		}

		snap := stats.Snapshot()
		log.Debug("enrich: chunk complete",
			zap.Int("chunk", chunk.Index),
			zap.Int("processed", snap.ProcessedRows),
			zap.Int("total", snap.TotalRows),
		)
		if opts.OnProgress != nil {
			opts.OnProgress(snap.Progress())
		}
	}

	if snap := stats.Snapshot(); snap.ProcessedRows != snap.TotalRows {
		log.Warn("enrich: processed rows differ from counted rows",
			zap.Int("processed", snap.ProcessedRows),
			zap.Int("total", snap.TotalRows),
		)
	}

	if err := closeWriter(); err != nil {
		return nil, err
	}
	return res, nil
}

// enrichChunk maps columns, adds the output columns and runs every row.
func (p *Processor) enrichChunk(ctx context.Context, chunk *model.Chunk, header []string, stats *model.Stats, log *zap.Logger) error {
	start := p.clock.Now()

	p.columns.Apply(chunk)
	chunk.Header = header
	for _, rec := range chunk.Records {
		for _, col := range model.OutputColumns {
			if _, ok := rec.Fields[col]; !ok {
				rec.Fields[col] = ""
			}
		}
	}

	if err := p.processChunk(ctx, chunk, stats, log); err != nil {
		return err
	}
	stats.AddProcessed(chunk.Len())

	if p.metrics != nil {
		p.metrics.ChunkDuration.Observe(p.clock.Since(start).Seconds())
	}
	return nil
}

// finish persists the run, records metrics and fires alerts. None of these
// failures affect the run's result.
func (p *Processor) finish(ctx context.Context, runID, source string, snap model.StatsSnapshot, runErr error, log *zap.Logger) {
	status := model.RunStatusComplete
	if runErr != nil {
		status = model.RunStatusFailed
		log.Error("enrich: run failed", zap.Error(runErr))
	} else {
		log.Info("enrich: run complete",
			zap.Int("total_rows", snap.TotalRows),
			zap.Int("processed_rows", snap.ProcessedRows),
			zap.Int("valid_ceps", snap.ValidCEPs),
			zap.Int("fixed_ceps", snap.FixedCEPs),
			zap.Int("found_coordinates", snap.FoundCoordinates),
			zap.Int("errors", len(snap.Errors)),
			zap.Duration("elapsed", snap.FinishedAt.Sub(snap.StartedAt)),
		)
	}

	// Bookkeeping still runs when ctx was cancelled mid-run.
	bg := context.WithoutCancel(ctx)

	if p.runs != nil {
		var err error
		if runErr != nil {
			err = p.runs.FailRun(bg, runID, snap, runErr)
		} else {
			err = p.runs.CompleteRun(bg, runID, snap)
		}
		if err != nil {
			log.Warn("enrich: failed to update run", zap.Error(err))
		}
	}

	p.metrics.ObserveRun(status, snap)

	if p.alerter != nil {
		p.alerter.NotifyRun(bg, monitoring.RunReport{
			RunID:  runID,
			Source: source,
			Stats:  snap,
			Err:    runErr,
		})
	}
}

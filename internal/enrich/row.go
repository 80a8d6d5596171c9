package enrich

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/pkg/cep"
)

// EnrichRecord applies the decision chain to one record in place:
//
//  1. A well-formed CD_CEP is looked up. A hit sets CD_CEP_CORRETO to the
//     canonical code and, when the row has no coordinates, geocodes the
//     directory address. A miss tries to correct the code from the row's
//     own address.
//  2. A row still without coordinates is geocoded from its own street,
//     neighborhood, city and state when street and city are present.
//
// Lookup errors are returned; the record keeps whatever was filled before.
func (p *Processor) EnrichRecord(ctx context.Context, rec model.Record, stats *model.Stats) error {
	if raw := rec.Get(model.ColCEP); raw != "" && cep.ValidFormat(raw) {
		addr, err := p.validator.Lookup(ctx, raw)
		if err != nil {
			return eris.Wrap(err, "enrich: validate cep")
		}

		if addr != nil {
			code, _ := cep.Normalize(raw)
			rec.Set(model.ColCEPCorrected, code)
			stats.IncValidCEP()

			if !rec.HasCoordinates() {
				coord, err := p.geocoder.SearchByAddress(ctx, addr.Street, "", addr.Neighborhood, addr.City, addr.State)
				if err != nil {
					return eris.Wrap(err, "enrich: geocode directory address")
				}
				if coord != nil {
					rec.SetCoordinates(coord.Lat, coord.Lon)
					stats.IncCoordinates()
				}
			}
		} else if code := p.correctByAddress(ctx, rec); code != "" {
			rec.Set(model.ColCEPCorrected, code)
			stats.IncFixedCEP()
		}
	}

	if rec.HasCoordinates() {
		return nil
	}

	street, city := rec.Get(model.ColStreet), rec.Get(model.ColCity)
	if street == "" || city == "" {
		return nil
	}

	coord, err := p.geocoder.SearchByAddress(ctx, street, "", rec.Get(model.ColNeighborhood), city, rec.Get(model.ColState))
	if err != nil {
		return eris.Wrap(err, "enrich: geocode row address")
	}
	if coord != nil {
		rec.SetCoordinates(coord.Lat, coord.Lon)
		stats.IncCoordinates()
	}
	return nil
}

// correctByAddress geocodes the row's own address as the first step of
// deriving a postal code from it. There is no reverse lookup from
// coordinates to a CEP yet, so it always returns "". The query is the same
// one the direct-address fallback issues next, which then hits the cache.
func (p *Processor) correctByAddress(ctx context.Context, rec model.Record) string {
	street, city := rec.Get(model.ColStreet), rec.Get(model.ColCity)
	if street == "" || city == "" {
		return ""
	}

	coord, err := p.geocoder.SearchByAddress(ctx, street, "", rec.Get(model.ColNeighborhood), city, rec.Get(model.ColState))
	if err != nil {
		zap.L().Warn("enrich: address lookup for cep correction failed",
			zap.String("street", street), zap.String("city", city), zap.Error(err))
		return ""
	}
	if coord != nil {
		zap.L().Debug("enrich: found coordinates for unresolved cep",
			zap.String("street", street), zap.Float64("lat", coord.Lat), zap.Float64("lon", coord.Lon))
	}
	return ""
}

// processRow enriches one record and records any failure, including a
// panic, against its absolute row index.
func (p *Processor) processRow(ctx context.Context, chunk *model.Chunk, i int, stats *model.Stats, log *zap.Logger) {
	row := chunk.Offset + i
	defer func() {
		if r := recover(); r != nil {
			log.Error("enrich: row panicked", zap.Int("row", row), zap.Any("panic", r))
			stats.AddError(model.RowError{Row: row, Chunk: chunk.Index, Error: fmt.Sprintf("panic: %v", r)})
		}
	}()

	if err := p.EnrichRecord(ctx, chunk.Records[i], stats); err != nil {
		log.Warn("enrich: row failed", zap.Int("row", row), zap.Error(err))
		stats.AddError(model.RowError{Row: row, Chunk: chunk.Index, Error: err.Error()})
	}
}

// processChunk enriches every record of a chunk in place. With concurrency
// above one, rows run on a bounded errgroup; records stay in input order
// because each worker writes only its own record.
func (p *Processor) processChunk(ctx context.Context, chunk *model.Chunk, stats *model.Stats, log *zap.Logger) error {
	if p.concurrency <= 1 {
		for i := range chunk.Records {
			if err := ctx.Err(); err != nil {
				return eris.Wrapf(err, "enrich: chunk %d cancelled", chunk.Index)
			}
			p.processRow(ctx, chunk, i, stats, log)
		}
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range chunk.Records {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			p.processRow(gCtx, chunk, i, stats, log)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrapf(err, "enrich: chunk %d cancelled", chunk.Index)
	}
	return nil
}

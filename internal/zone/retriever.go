package zone

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lead-scanner/internal/adapter"
	"github.com/lead-scanner/internal/category"
	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/geo"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/ratelimit"
	"github.com/lead-scanner/internal/retry"
	"github.com/lead-scanner/internal/telemetry"
)

// Fetcher retrieves tagged elements for one tile from one endpoint
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, b geo.Bounds, tags []category.OSMTag) ([]adapter.Element, error)
}

// Config tunes retrieval
type Config struct {
	Limits         Limits
	BatchSize      int
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseBackoff    time.Duration
}

// Retriever fetches a zone tile by tile with endpoint failover
type Retriever struct {
	fetcher Fetcher
	pool    *adapter.EndpointPool
	budget  adapter.CallBudget
	cfg     Config
}

// NewRetriever creates a retriever. budget may be nil.
func NewRetriever(fetcher Fetcher, pool *adapter.EndpointPool, budget adapter.CallBudget, cfg Config) *Retriever {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 25 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.Limits.ChunkDegrees <= 0 {
		cfg.Limits = DefaultLimits()
	}
	return &Retriever{fetcher: fetcher, pool: pool, budget: budget, cfg: cfg}
}

// TileError is the terminal failure of one tile
type TileError struct {
	Index    int        `json:"index"`
	Bounds   geo.Bounds `json:"bounds"`
	Attempts int        `json:"attempts"`
	Slow     bool       `json:"slow"`
	Err      error      `json:"-"`
}

func (e *TileError) Error() string {
	if e.Slow {
		return fmt.Sprintf("tile %d timed out after %d attempt(s): %v", e.Index, e.Attempts, e.Err)
	}
	return fmt.Sprintf("tile %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Err)
}

func (e *TileError) Unwrap() error { return e.Err }

// Progress is the running state reported after every batch
type Progress struct {
	TilesDone  int
	TilesTotal int
	Elements   []adapter.Element
	Failed     int
}

// Result is the outcome of a zone retrieval
type Result struct {
	Assessment *Assessment
	Elements   []adapter.Element
	TileErrors []*TileError
	Tiles      int
}

// Retrieve validates b, splits it and fetches every tile for cat.
// Tiles run in batches; onBatch (optional) sees the deduplicated elements
// accumulated so far after each batch. A failing tile never aborts its
// siblings. The returned error is non-nil only for invalid areas or when
// ctx ends; the partial result is returned alongside a context error.
func (r *Retriever) Retrieve(ctx context.Context, b geo.Bounds, cat category.Category, onBatch func(Progress)) (*Result, error) {
	logger := logging.FromContext(ctx).WithComponent("zone")

	tags := category.OSMTags(cat)
	if len(tags) == 0 {
		return nil, apperrors.NewInvalidParameterError("category", fmt.Sprintf("unknown category %q", cat))
	}

	assessment, err := Validate(b, r.cfg.Limits)
	if err != nil {
		return nil, err
	}
	if assessment.Risk == RiskTooLarge {
		return nil, apperrors.NewInvalidAreaError("area is too large", map[string]interface{}{
			"areaKm2":    assessment.AreaKm2,
			"maxAreaKm2": r.cfg.Limits.MaxAreaKm2,
		})
	}

	batchSize := r.cfg.BatchSize
	if assessment.Risk == RiskLarge {
		batchSize = 1
	}

	tiles := Chunk(b, r.cfg.Limits.ChunkDegrees)
	result := &Result{Assessment: assessment, Tiles: len(tiles)}
	seen := make(map[string]bool)
	var mu sync.Mutex

	logger.WithFields(map[string]interface{}{
		"category":  cat,
		"tiles":     len(tiles),
		"areaKm2":   assessment.AreaKm2,
		"batchSize": batchSize,
	}).Info("Starting zone retrieval")

	done := 0
	for start := 0; start < len(tiles); start += batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := start + batchSize
		if end > len(tiles) {
			end = len(tiles)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			idx, tile := i, tiles[i]
			g.Go(func() error {
				elements, tileErr := r.fetchTile(ctx, idx, tile, tags)

				mu.Lock()
				defer mu.Unlock()
				if tileErr != nil {
					result.TileErrors = append(result.TileErrors, tileErr)
					return nil
				}
				for _, el := range elements {
					if key := el.Key(); !seen[key] {
						seen[key] = true
						result.Elements = append(result.Elements, el)
					}
				}
				return nil
			})
		}
		_ = g.Wait()
		done = end

		if onBatch != nil {
			mu.Lock()
			snapshot := Progress{
				TilesDone:  done,
				TilesTotal: len(tiles),
				Elements:   append([]adapter.Element(nil), result.Elements...),
				Failed:     len(result.TileErrors),
			}
			mu.Unlock()
			onBatch(snapshot)
		}
	}

	logger.WithFields(map[string]interface{}{
		"elements":    len(result.Elements),
		"failedTiles": len(result.TileErrors),
	}).Info("Zone retrieval finished")
	return result, nil
}

// fetchTile tries the tile on rotating endpoints. A per-attempt timeout is
// terminal for the tile; network and upstream errors rotate with backoff.
func (r *Retriever) fetchTile(ctx context.Context, index int, tile geo.Bounds, tags []category.OSMTag) ([]adapter.Element, *TileError) {
	var elements []adapter.Element
	slow := false

	res := retry.WithExponentialBackoff(ctx, &retry.RetryConfig{
		MaxAttempts:  r.cfg.MaxAttempts,
		InitialDelay: r.cfg.BaseBackoff,
		MaxDelay:     8 * r.cfg.BaseBackoff,
		Multiplier:   2,
	}, func(ctx context.Context, attempt int) error {
		if r.budget != nil {
			if err := r.budget.Wait(ctx, 1, ratelimit.PriorityBestEffort); err != nil {
				return err
			}
		}

		epIdx, endpoint := r.pool.Pick()
		if err := r.pool.Wait(ctx, epIdx); err != nil {
			return retry.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()

		els, err := r.fetcher.Fetch(attemptCtx, endpoint, tile, tags)
		if err == nil {
			r.pool.MarkHealthy(epIdx)
			elements = els
			return nil
		}
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		if adapter.KindOf(err) == adapter.KindTimeout || errors.Is(err, context.DeadlineExceeded) {
			slow = true
			return retry.Permanent(err)
		}
		if adapter.KindOf(err) == adapter.KindBadRequest {
			return retry.Permanent(err)
		}
		r.pool.MarkFailed(epIdx, err)
		return err
	})

	if res.Success {
		telemetry.RecordZoneTile("ok")
		return elements, nil
	}

	outcome := "failed"
	if slow {
		outcome = "slow"
	}
	telemetry.RecordZoneTile(outcome)
	return nil, &TileError{Index: index, Bounds: tile, Attempts: res.Attempts, Slow: slow, Err: res.LastError}
}

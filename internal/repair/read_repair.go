package repair

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ringkv/internal/metrics"
	"ringkv/internal/model"
	"ringkv/internal/replication"
)

// Putter writes an object to one host.
type Putter interface {
	Put(ctx context.Context, host model.Host, obj *model.DataObject) replication.Outcome
}

// Result summarizes one repair round.
type Result struct {
	Repaired int
	Failed   int
	// Err is the first failed put, nil when every target was repaired or had
	// already moved on.
	Err error
}

// ReadRepairer writes the newest object to stale replicas.
type ReadRepairer struct {
	putter  Putter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewReadRepairer creates a new read repairer.
func NewReadRepairer(putter Putter, logger *zap.Logger, m *metrics.Metrics) *ReadRepairer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &ReadRepairer{putter: putter, logger: logger, metrics: m}
}

// Repair puts best to every target in parallel and waits for all of them.
// ctx should be detached from the request context. A failed put does not stop
// the others; failures are logged and the first one is reported in Result.Err.
func (r *ReadRepairer) Repair(ctx context.Context, best *model.DataObject, targets []model.Host) Result {
	if best == nil || len(targets) == 0 {
		return Result{}
	}

	r.logger.Info("read repair triggered",
		zap.Stringer("key", best.Key()),
		zap.Stringer("version", best.Version()),
		zap.Int("stale_replicas", len(targets)))

	outcomes := make([]replication.Outcome, len(targets))
	var g errgroup.Group
	for i, host := range targets {
		g.Go(func() error {
			out := r.putter.Put(ctx, host, best)
			outcomes[i] = out
			if out.Kind == replication.Success || out.Kind == replication.StaleVersion {
				return nil
			}
			return fmt.Errorf("repair %s: %w", host, out.Err)
		})
	}

	var res Result
	res.Err = g.Wait()
	for _, out := range outcomes {
		switch out.Kind {
		case replication.Success:
			res.Repaired++
			r.metrics.Repairs.WithLabelValues("repaired").Inc()
		case replication.StaleVersion:
			// The host already moved past the repaired version; nothing to do.
			r.metrics.Repairs.WithLabelValues("superseded").Inc()
		default:
			res.Failed++
			r.metrics.Repairs.WithLabelValues("failed").Inc()
			r.logger.Warn("read repair failed",
				zap.Stringer("key", best.Key()),
				zap.Stringer("host", out.Host),
				zap.Error(out.Err))
		}
	}

	if res.Err != nil {
		r.logger.Warn("read repair incomplete",
			zap.Stringer("key", best.Key()),
			zap.Int("repaired", res.Repaired),
			zap.Int("failed", res.Failed),
			zap.Error(res.Err))
		return res
	}
	r.logger.Debug("read repair completed",
		zap.Stringer("key", best.Key()),
		zap.Int("repaired", res.Repaired))
	return res
}

package transfer

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tidemark/keel/auth"
)

// Worker polls for due scheduled transfers, approves them as the system
// actor, and executes them. Individual failures are logged and never stop
// the loop.
type Worker struct {
	svc      *Service
	interval time.Duration
	batch    int
}

// NewWorker returns a Worker polling every |interval|.
func NewWorker(svc *Service, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{svc: svc, interval: interval, batch: 100}
}

// Run polls until |ctx| is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	var ticker = time.NewTicker(w.interval)
	defer ticker.Stop()

	log.WithField("interval", w.interval).Info("starting scheduled-transfer worker")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one poll pass: every due transfer is approved and executed under
// its own organization's system actor.
func (w *Worker) Tick(ctx context.Context) {
	var due, err = w.svc.Store().ListDue(ctx, time.Now(), w.batch)
	if err != nil {
		workerRunsCounter.WithLabelValues("list_error").Inc()
		log.WithField("error", err).Error("failed to list due transfers")
		return
	}

	for _, transfer := range due {
		var tenantCtx = auth.WithTenant(ctx, auth.System(transfer.OrganizationID))

		if _, err = w.svc.Approve(tenantCtx, transfer.ID); err != nil {
			workerRunsCounter.WithLabelValues("approve_error").Inc()
			log.WithFields(log.Fields{
				"error":    err,
				"transfer": transfer.ID,
				"org":      transfer.OrganizationID,
			}).Error("failed to approve due transfer")
			continue
		}
		if _, err = w.svc.Execute(tenantCtx, transfer.ID); err != nil {
			workerRunsCounter.WithLabelValues("execute_error").Inc()
			log.WithFields(log.Fields{
				"error":    err,
				"transfer": transfer.ID,
				"org":      transfer.OrganizationID,
			}).Error("failed to execute due transfer")
			continue
		}

		workerRunsCounter.WithLabelValues("completed").Inc()
		log.WithFields(log.Fields{
			"transfer": transfer.ID,
			"org":      transfer.OrganizationID,
			"sku":      transfer.SKU,
			"quantity": transfer.Quantity,
		}).Info("executed scheduled transfer")
	}
}

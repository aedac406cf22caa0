// Command labflowd is the external daemon: the only process allowed to
// resume a ready step into a fresh burst of execution (sleeping steps
// are left alone). It
// owns no in-memory workflow state between polls — everything it needs
// comes back from the store on every tick.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/scidag/labflow"
	"github.com/scidag/labflow/calc"
	"github.com/scidag/labflow/examples/strainrelax"
	"github.com/scidag/labflow/internal/config"
	"github.com/scidag/labflow/observer"
	"github.com/scidag/labflow/repo"
	"github.com/scidag/labflow/store/postgres"
	"github.com/scidag/labflow/store/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfgPath := os.Getenv("LABFLOW_CONFIG")
	cfg := config.Load(cfgPath)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("labflowd: open store: %v", err)
	}
	defer closeStore()

	repository, err := repo.New(cfg.Repository.Root)
	if err != nil {
		log.Fatalf("labflowd: open repository: %v", err)
	}

	calcSrc := calc.NewRegistry()

	var tracer labflow.Tracer
	if cfg.Observer.Enabled {
		_, shutdown, err := observer.Init(ctx)
		if err != nil {
			log.Fatalf("labflowd: observer init: %v", err)
		}
		defer shutdown(context.Background())
		tracer = observer.NewTracer()
	}

	registry := labflow.NewRegistry()
	if err := registry.Register(strainrelax.Module, strainrelax.Class, strainrelax.New); err != nil {
		log.Fatalf("labflowd: register strainrelax: %v", err)
	}
	// Real deployments register their own workflow packages here, each
	// under the reserved "workflows/" namespace, before the poll loop starts.

	d := &daemon{
		store:    store,
		repo:     repository,
		calcSrc:  calcSrc,
		registry: registry,
		tracer:   tracer,
		logger:   logger,
	}
	d.run(ctx, cfg.Daemon.PollInterval)
}

func openStore(ctx context.Context, cfg config.Config) (labflow.Store, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		st := postgres.New(pool)
		if err := st.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	default:
		st := sqlite.New(cfg.Database.SQLitePath)
		if err := st.Init(ctx); err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	}
}

// daemon polls the store for steps whose attached work has gone
// terminal and resumes them, one burst at a time. No goroutines run
// inside a single burst — that property is what lets the engine rely on
// persisted state alone between polls.
type daemon struct {
	store    labflow.Store
	repo     labflow.Repository
	calcSrc  labflow.CalculationSource
	registry *labflow.Registry
	tracer   labflow.Tracer
	logger   *slog.Logger
}

func (d *daemon) run(ctx context.Context, interval time.Duration) {
	d.logger.Info("labflowd started", "poll_interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("labflowd stopped")
			return
		case <-ticker.C:
			if err := d.checkAndRun(ctx); err != nil {
				d.logger.Error("poll failed", "error", err)
			}
		}
	}
}

func (d *daemon) checkAndRun(ctx context.Context) error {
	running, err := d.store.ListWorkflows(ctx, "", []labflow.State{labflow.StateRunning})
	if err != nil {
		return err
	}

	for _, rec := range running {
		steps, err := d.store.ListSteps(ctx, rec.ID, []labflow.State{labflow.StateRunning})
		if err != nil {
			return err
		}
		for _, step := range steps {
			if err := d.maybeAdvance(ctx, rec, step); err != nil {
				d.logger.Error("advance failed", "workflow", rec.ID, "step", step.Name, "error", err)
			}
		}
	}
	return nil
}

// maybeAdvance resumes step if it has an open next_call and every
// calculation/sub-workflow it attached has reached a terminal state
// (spec §5, C8). Steps still waiting on live work are left alone.
func (d *daemon) maybeAdvance(ctx context.Context, rec labflow.WorkflowRecord, step labflow.StepRecord) error {
	if !step.HasOpenNext() {
		return nil
	}

	ready, err := d.allAttachmentsTerminal(ctx, step)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}

	if step.NextCall == labflow.ExitSentinel {
		rec.Status = labflow.StateFinished
		return d.store.UpdateWorkflow(ctx, rec)
	}

	src, core, err := d.registry.Resume(ctx, d.store, d.repo, d.calcSrc, d.tracer, rec.ID)
	if err != nil {
		return err
	}
	d.logger.Info("burst", "workflow", rec.ID, "step", step.NextCall)
	return core.Invoke(ctx, src.Steps(), step.NextCall)
}

func (d *daemon) allAttachmentsTerminal(ctx context.Context, step labflow.StepRecord) (bool, error) {
	calcIDs, err := d.store.StepCalculations(ctx, step.ID)
	if err != nil {
		return false, err
	}
	for _, id := range calcIDs {
		c, err := d.calcSrc.Calculation(ctx, id)
		if err != nil {
			return false, err
		}
		terminal, err := c.IsTerminal(ctx)
		if err != nil {
			return false, err
		}
		if !terminal {
			return false, nil
		}
	}

	subIDs, err := d.store.StepSubworkflows(ctx, step.ID)
	if err != nil {
		return false, err
	}
	for _, id := range subIDs {
		sub, err := d.store.GetWorkflow(ctx, id)
		if err != nil {
			return false, err
		}
		if !sub.Status.Terminal() {
			return false, nil
		}
	}

	return true, nil
}

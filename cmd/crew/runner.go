package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fwojciec/crew"
	"github.com/fwojciec/crew/artifact"
	crewjson "github.com/fwojciec/crew/json"
	"github.com/fwojciec/crew/pipeline"
)

// runner executes one pipeline run and persists its outcome: the metrics
// file and the history record are written whether the run succeeds or not.
type runner struct {
	orch         *pipeline.Orchestrator
	requirements string
	artifacts    *artifact.Lister // nil disables watching
	metricsDir   string           // empty disables saving
	store        crew.RunStore    // nil disables history
	logger       *slog.Logger
	now          func() time.Time
}

// run has the signature of bubbletea.PipelineFunc.
func (r *runner) run(ctx context.Context, description string, onEvent crew.EventHandler) (*crew.PipelineResult, error) {
	started := r.now()
	stop := r.watch(ctx, onEvent)
	res, err := r.orch.Run(ctx,
		pipeline.Input{Description: description, Requirements: r.requirements},
		pipeline.WithEventHandler(onEvent))
	stop()

	var summary crew.MetricsSummary
	var pe *crew.PipelineError
	switch {
	case err == nil:
		summary = res.Metrics
	case errors.As(err, &pe):
		summary = pe.Metrics
	}

	if summary.SessionID != "" && r.metricsDir != "" {
		if path, serr := crewjson.SaveDir(r.metricsDir, summary); serr != nil {
			r.logger.Warn("save metrics", "error", serr)
		} else {
			r.logger.Info("metrics saved", "path", path)
		}
	}
	r.record(ctx, description, started, summary, res, err)
	return res, err
}

// metricsPath returns where the metrics of session are saved, or "" when
// saving is disabled.
func (r *runner) metricsPath(sessionID string) string {
	if r.metricsDir == "" || sessionID == "" {
		return ""
	}
	return filepath.Join(r.metricsDir, crewjson.Filename(sessionID))
}

// watch reports new artifact files as events until the returned function
// is called. It returns only after the watcher has stopped emitting.
func (r *runner) watch(ctx context.Context, onEvent crew.EventHandler) func() {
	if r.artifacts == nil {
		return func() {}
	}
	w, err := r.artifacts.Watch()
	if err != nil {
		r.logger.Warn("watch artifacts", "root", r.artifacts.Root(), "error", err)
		return func() {}
	}
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := w.Run(wctx, func(path string) {
			onEvent.Emit(crew.EventArtifact{Path: path})
		})
		if err != nil {
			r.logger.Warn("watch artifacts", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
		if err := w.Close(); err != nil {
			r.logger.Warn("close artifact watcher", "error", err)
		}
	}
}

func (r *runner) record(ctx context.Context, description string, started time.Time, summary crew.MetricsSummary, res *crew.PipelineResult, runErr error) {
	if r.store == nil {
		return
	}
	run := crew.Run{
		SessionID:    summary.SessionID,
		Description:  description,
		Requirements: r.requirements,
		Status:       crew.RunCompleted,
		Metrics:      summary,
		StartedAt:    started,
		EndedAt:      r.now(),
	}
	if res != nil {
		run.Plan = res.Plan.RawOutput
		run.Code = res.Code.RawOutput
		run.Tests = res.Tests.RawOutput
	}
	if runErr != nil {
		run.Status = crew.RunFailed
		run.Error = runErr.Error()
	}
	// The run context may already be cancelled; the record must still land.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.RecordRun(rctx, run); err != nil {
		r.logger.Warn("record run", "error", err)
	}
}

// describeFailure adds the metrics location to a failed run's error.
func (r *runner) describeFailure(err error) error {
	var pe *crew.PipelineError
	if errors.As(err, &pe) {
		if path := r.metricsPath(pe.Metrics.SessionID); path != "" {
			return fmt.Errorf("%w (metrics saved to %s)", err, path)
		}
	}
	return err
}

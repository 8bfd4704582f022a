package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	syncer "github.com/chmdznr/corpussync/internal/sync"
	"github.com/chmdznr/corpussync/internal/watch"
	"github.com/chmdznr/corpussync/pkg/models"
	"github.com/chmdznr/corpussync/pkg/utils"
)

func startSync(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := signalContext(c)
	defer cancel()

	if c.Bool("dry-run") {
		return printPlan(ctx, e)
	}
	return runSync(ctx, e, c.Int("workers"))
}

func runSync(ctx context.Context, e *env, workers int) error {
	progress := &progressBar{}
	rec, err := e.reconciler(workers, progress.update)
	if err != nil {
		return err
	}

	res, err := rec.Sync(ctx)
	progress.finish()
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("Sync completed in %s\n", utils.FormatDuration(res.Duration))
	fmt.Printf("- Uploaded: %d\n", res.Uploaded)
	fmt.Printf("- Deleted: %d\n", res.Deleted)
	fmt.Printf("- Unchanged: %d\n", res.Unchanged)
	fmt.Printf("- Remote files: %d\n", res.Remote)
	if len(res.Failed) == 0 {
		return nil
	}
	fmt.Printf("- Failed: %d\n", len(res.Failed))
	for _, f := range res.Failed {
		fmt.Printf("  %s: %v\n", f.Name, f.Err)
	}
	return fmt.Errorf("%d uploads failed, run sync again to retry", len(res.Failed))
}

func printPlan(ctx context.Context, e *env) error {
	reg, err := e.registry()
	if err != nil {
		return err
	}
	local, err := e.store.ListFiles(ctx)
	if err != nil {
		return err
	}
	remoteFiles, err := reg.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list remote files: %w", err)
	}

	plan := syncer.NewPlan(local, remoteFiles)
	if plan.Empty() {
		fmt.Printf("Remote is up to date (%d files)\n", len(plan.Unchanged))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Action", "Name", "Detail"})
	table.SetAutoFormatHeaders(false)
	for _, d := range plan.Delete {
		table.Append([]string{"delete", d.DisplayName, d.ID})
	}
	for _, u := range plan.Upload {
		table.Append([]string{"upload", u.File.Name, string(u.Reason) + ", " + utils.FormatSize(u.File.Size)})
	}
	table.Render()
	fmt.Printf("%d to delete, %d to upload, %d unchanged\n", len(plan.Delete), len(plan.Upload), len(plan.Unchanged))
	return nil
}

// progressBar renders the deleting and uploading phases of a pass.
// update is called from worker goroutines.
type progressBar struct {
	mu    sync.Mutex
	bar   *pb.ProgressBar
	phase models.SyncPhase
}

func (p *progressBar) update(pr models.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch pr.Phase {
	case models.PhaseDeleting, models.PhaseUploading:
		if pr.Total == 0 {
			return
		}
		if p.bar == nil || p.phase != pr.Phase {
			p.stop()
			p.bar = pb.New(pr.Total)
			p.bar.SetTemplate(`{{string . "phase"}} {{counters . }} {{bar . }} {{percent . }} {{etime . }}`)
			p.bar.Set("phase", string(pr.Phase))
			p.bar.Start()
			p.phase = pr.Phase
		}
		p.bar.SetCurrent(int64(pr.Completed))
	default:
		p.stop()
		p.phase = pr.Phase
	}
}

func (p *progressBar) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stop()
}

func (p *progressBar) stop() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}

// showStatus shows what is registered locally and how much of it the cached
// remote listing already holds.
func showStatus(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	stats, err := e.store.GetStats(c.Context)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("Project: %s\n", e.cfg.Project)
	fmt.Printf("Database: %s\n", e.store.Path())
	fmt.Printf("Remote: %s\n", e.cfg.Remote.Backend)
	fmt.Printf("Local Files: %d (Size: %s)\n", stats.LocalFiles, utils.FormatSize(stats.LocalSize))
	fmt.Printf("Remote Files: %d (Size: %s)\n", stats.RemoteFiles, utils.FormatSize(stats.RemoteSize))
	fmt.Printf("Files Pending: %d\n", stats.PendingFiles)
	fmt.Printf("Remote Orphans: %d\n", stats.OrphanFiles)
	synced := stats.LocalFiles - stats.PendingFiles
	fmt.Printf("Progress: %s\n", utils.FormatPercent(int(synced), int(stats.LocalFiles)))
	fmt.Printf("Corpus: %d posts, %d subscribers, %d opens, %d deliveries, %d context documents\n",
		stats.Posts, stats.Subscribers, stats.Opens, stats.Deliveries, stats.ContextDocs)
	if stats.PendingFiles > 0 || stats.OrphanFiles > 0 {
		fmt.Println("Run 'csync sync' to reconcile the remote registry")
	}
	return nil
}

func watchDir(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	dir := e.cfg.Watch.Dir
	if c.IsSet("dir") {
		dir = c.String("dir")
	}
	if dir == "" {
		return fmt.Errorf("a directory is required (--dir or watch.dir)")
	}
	interval := e.cfg.Watch.Interval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}

	rec, err := e.reconciler(0, nil)
	if err != nil {
		return err
	}
	w, err := watch.New(e.store, rec, watch.Options{
		Dir:      dir,
		Interval: interval,
		Logger:   e.logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	e.logger.Info("watching", zap.String("dir", dir), zap.Duration("interval", interval))
	return w.Run(ctx)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/aerobench/sweep-orchestrator/internal/batch"
	"github.com/aerobench/sweep-orchestrator/internal/config"
	"github.com/aerobench/sweep-orchestrator/internal/domain"
	"github.com/aerobench/sweep-orchestrator/internal/history"
	"github.com/aerobench/sweep-orchestrator/internal/observer"
	"github.com/aerobench/sweep-orchestrator/internal/pool"
	"github.com/aerobench/sweep-orchestrator/internal/resolver"
	"github.com/aerobench/sweep-orchestrator/internal/resultstore"
	"github.com/aerobench/sweep-orchestrator/internal/updater"
	"github.com/aerobench/sweep-orchestrator/tui"
	"github.com/aerobench/sweep-orchestrator/web/api"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	tuiPlan     string
	servePort   int
	updateCheck bool
)

func init() {
	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch CONFIG",
		Short: "Re-validate on config change and log record arrivals",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
	rootCmd.AddCommand(watchCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui [OUT_DIR]",
		Short: "Launch the sweep dashboard",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTUI,
	}
	tuiCmd.Flags().StringVar(&tuiPlan, "plan", "", "sweep config, for planned point counts")
	rootCmd.AddCommand(tuiCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve [OUT_DIR]",
		Short: "Serve the status API and event stream",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from engine config)")
	rootCmd.AddCommand(serveCmd)

	// batch command
	batchCmd := &cobra.Command{
		Use:   "batch SCHEDULE",
		Short: "Run sweeps on a cron schedule",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	rootCmd.AddCommand(batchCmd)

	// agents command
	agentsCmd := &cobra.Command{
		Use:   "agents",
		Short: "List connected pool agents",
		RunE:  runAgents,
	}
	rootCmd.AddCommand(agentsCmd)

	// update command
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Self-update from GitHub releases",
		RunE:  runUpdate,
	}
	updateCmd.Flags().BoolVar(&updateCheck, "check", false, "only check, do not install")
	rootCmd.AddCommand(updateCmd)

	// version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sweep-orch %s\n", version)
		},
	}
	rootCmd.AddCommand(versionCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	tree, err := resolver.Resolve(args[0])
	if err != nil {
		return err
	}
	store := resultstore.New(tree.OutDir)
	outDir := tree.OutDir

	var obs *observer.Observer
	obs, err = observer.New(observer.Config{
		ConfigPath: args[0],
		OutDir:     tree.OutDir,
		OnConfigChange: func() {
			newTree, err := resolver.Resolve(args[0])
			if err != nil {
				fmt.Printf("[watch] config invalid: %v\n", err)
				return
			}
			fmt.Printf("[watch] config OK: %d points -> %s\n", newTree.PointCount(), newTree.OutDir)
			if newTree.OutDir != outDir {
				if err := obs.AddTree(newTree.OutDir); err != nil {
					fmt.Printf("[watch] cannot watch %s: %v\n", newTree.OutDir, err)
					return
				}
				outDir = newTree.OutDir
				store = resultstore.New(outDir)
			}
		},
		OnRecords: func(files []string) {
			for _, f := range files {
				id, ok := pointFromRecordPath(outDir, f)
				if !ok {
					fmt.Printf("[watch] record %s\n", f)
					continue
				}
				rec, ok := store.Lookup(id)
				if !ok {
					continue
				}
				if rec.Failed() {
					fmt.Printf("[watch] %s failed\n", id.String())
				} else {
					fmt.Printf("[watch] %s converged CL=%.4f CD=%.4f\n", id.String(), rec.CL, rec.CD)
				}
			}
		},
	})
	if err != nil {
		return err
	}
	defer obs.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Watching %s and %s, ctrl-c to stop\n", args[0], tree.OutDir)
	obs.Start(ctx)
	<-ctx.Done()

	stats := obs.Stats()
	fmt.Printf("\n%d config reloads, %d records seen\n", stats.ConfigReloads, stats.RecordsSeen)
	return nil
}

// pointFromRecordPath maps an arriving record file back to its point ID.
func pointFromRecordPath(root, file string) (domain.PointID, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return domain.PointID{}, false
	}
	absFile, err := filepath.Abs(file)
	if err != nil {
		return domain.PointID{}, false
	}
	rel, err := filepath.Rel(absRoot, filepath.Dir(absFile))
	if err != nil {
		return domain.PointID{}, false
	}
	id, err := domain.ParsePointID(filepath.ToSlash(rel))
	if err != nil {
		return domain.PointID{}, false
	}
	return id, true
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	planned := 0
	if tuiPlan != "" {
		tree, err := resolver.Resolve(tuiPlan)
		if err != nil {
			return err
		}
		planned = tree.PointCount()
		if len(args) == 0 {
			root = tree.OutDir
		}
	}

	store := resultstore.New(root)
	var hist *history.Store
	if hs, err := history.New(config.ExpandPath(cfg.General.DatabasePath)); err == nil {
		hist = hs
		defer hist.Close()
	}

	fetch := func() (tui.Snapshot, error) {
		snap := tui.Snapshot{Root: root, Planned: planned}
		points, err := store.Scan()
		if err != nil {
			return snap, err
		}
		for _, p := range points {
			snap.Points = append(snap.Points, tui.PointView{
				ID:          p.ID,
				CL:          p.Record.CL,
				CD:          p.Record.CD,
				Failed:      p.Record.Failed(),
				WallTime:    p.Record.WallTime,
				Diagnostics: p.Record.Diagnostics,
			})
		}
		if overall, err := store.LoadOverall(); err == nil {
			snap.Overall = overall
		}
		if hist != nil {
			if invs, err := hist.ListInvocations(history.ListOptions{Limit: 10}); err == nil {
				for _, inv := range invs {
					view := tui.InvocationView{
						ID:        inv.ID,
						Status:    inv.Status,
						Mode:      string(inv.Mode),
						Total:     inv.Total,
						Succeeded: inv.Succeeded,
						Failed:    inv.Failed,
						Skipped:   inv.Skipped,
					}
					if inv.StartedAt != nil {
						view.StartedAt = *inv.StartedAt
					}
					snap.History = append(snap.History, view)
				}
			}
		}
		if ps, err := fetchPoolStatus(cfg); err == nil {
			for _, a := range ps.Agents {
				view := tui.AgentView{
					ID:           a.ID,
					Host:         a.Host,
					MaxSlots:     a.MaxSlots,
					ActivePoints: a.ActivePoints,
				}
				if t, err := time.Parse(time.RFC3339, a.ConnectedSince); err == nil {
					view.ConnectedSince = t
				}
				snap.Agents = append(snap.Agents, view)
			}
		}
		return snap, nil
	}

	snap, err := fetch()
	if err != nil {
		snap = tui.Snapshot{Root: root, Planned: planned}
	}

	model := tui.NewModel(tui.ModelConfig{Snapshot: snap, Fetch: fetch})
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	store := resultstore.New(root)

	var hist api.History
	if hs, err := history.New(config.ExpandPath(cfg.General.DatabasePath)); err == nil {
		defer hs.Close()
		hist = hs
	} else {
		fmt.Fprintf(os.Stderr, "warning: invocation ledger unavailable: %v\n", err)
	}

	var agents api.AgentPool
	if cfg.Pool.Port > 0 {
		agents = &poolStatusClient{cfg: cfg}
	}

	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)
	server := api.NewServer(store, hist, agents, root, addr)

	// Record arrivals become SSE events so clients see points land live.
	obs, err := observer.New(observer.Config{
		OutDir: root,
		OnRecords: func(files []string) {
			for _, f := range files {
				id, ok := pointFromRecordPath(root, f)
				if !ok {
					continue
				}
				if rec, ok := store.Lookup(id); ok {
					server.Broadcast(pointEvent(id, rec))
				}
			}
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: no event stream, cannot watch %s: %v\n", root, err)
	} else {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		obs.Start(ctx)
		defer obs.Stop()
	}

	fmt.Printf("Serving sweep API at http://%s\n", addr)
	return server.Start()
}

func pointEvent(id domain.PointID, rec *domain.RunRecord) api.SSEEvent {
	status := "converged"
	if rec.Failed() {
		status = "failed"
	}
	return api.PointEvent(api.PointResponse{
		ID:          id.String(),
		Hierarchy:   id.Hierarchy,
		Case:        id.Case,
		Scenario:    id.Scenario,
		Level:       id.Level,
		AoA:         id.AoA,
		CL:          rec.CL,
		CD:          rec.CD,
		Status:      status,
		WallTime:    rec.WallTime,
		Diagnostics: rec.Diagnostics,
	})
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sf, err := batch.LoadScheduleFile(args[0])
	if err != nil {
		return err
	}
	sched, err := batch.NewScheduler(sf.Sweeps)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SWEEP\tCRON\tENABLED\tNEXT RUN")
	for _, name := range sched.ListEntries() {
		e, _ := sched.GetEntry(name)
		enabled := "yes"
		next := humanize.Time(sched.NextRun(name))
		if !e.Enabled {
			enabled = "no"
			next = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.Cron, enabled, next)
	}
	w.Flush()
	fmt.Println("\nScheduler running, ctrl-c to stop")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sched.Stop()
	}()

	sched.Start(func(e batch.SweepEntry) error {
		_, err := executeSweep(ctx, cfg, e.Config, sweepOverrides{
			Workers: e.Workers,
			Notify:  e.Notify,
		})
		return err
	})
	return nil
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ps, err := fetchPoolStatus(cfg)
	if err != nil {
		return fmt.Errorf("pool coordinator unreachable at %s: %w", poolStatusURL(cfg), err)
	}

	if len(ps.Agents) == 0 {
		fmt.Println("No agents connected")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tHOST\tSLOTS\tACTIVE\tCONNECTED")
		for _, a := range ps.Agents {
			connected := a.ConnectedSince
			if t, err := time.Parse(time.RFC3339, a.ConnectedSince); err == nil {
				connected = humanize.Time(t)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", a.ID, a.Host, a.MaxSlots, a.ActivePoints, connected)
		}
		w.Flush()
	}
	fmt.Printf("\nQueued points: %d, active: %d\n", ps.QueuedPoints, ps.ActivePoints)
	return nil
}

func poolStatusURL(cfg *config.Config) string {
	host := cfg.Pool.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d/status", host, cfg.Pool.Port)
}

func fetchPoolStatus(cfg *config.Config) (*pool.StatusResponse, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(poolStatusURL(cfg))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coordinator answered %s", resp.Status)
	}
	var ps pool.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

// poolStatusClient answers the web server's agent queries from a
// coordinator running in another process.
type poolStatusClient struct {
	cfg *config.Config
}

func (p *poolStatusClient) Agents() []pool.AgentStatus {
	ps, err := fetchPoolStatus(p.cfg)
	if err != nil {
		return nil
	}
	return ps.Agents
}

func (p *poolStatusClient) QueuedCount() int {
	ps, err := fetchPoolStatus(p.cfg)
	if err != nil {
		return 0
	}
	return ps.QueuedPoints
}

func runUpdate(cmd *cobra.Command, args []string) error {
	rel, err := updater.LatestRelease()
	if err != nil {
		return err
	}
	if !updater.NeedsUpdate(version, rel.TagName) {
		fmt.Printf("Already up to date (%s)\n", version)
		return nil
	}

	fmt.Printf("Update available: %s -> %s\n", version, rel.TagName)
	if rel.Name != "" {
		fmt.Println(rel.Name)
	}
	if updateCheck {
		return nil
	}

	fmt.Println("Downloading...")
	if err := updater.SelfUpdate(rel.TagName); err != nil {
		return err
	}
	fmt.Printf("Updated to %s\n", rel.TagName)
	return nil
}

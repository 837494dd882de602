package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/deskpilot/internal/agent"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/frontend"
	"github.com/xkilldash9x/deskpilot/internal/observability"
	"github.com/xkilldash9x/deskpilot/internal/planner"
	"github.com/xkilldash9x/deskpilot/internal/store"
	"github.com/xkilldash9x/deskpilot/internal/surface"
	"github.com/xkilldash9x/deskpilot/internal/surface/browser"
	"github.com/xkilldash9x/deskpilot/internal/surface/local"
	"github.com/xkilldash9x/deskpilot/internal/surface/remote"
)

// Define function variables for dependency injection/mocking in tests.
var (
	surfaceFactory = buildSurface
	plannerFactory = func(ctx context.Context, cfg config.PlannerConfig, logger *zap.Logger) (agent.Planner, error) {
		return planner.NewGemini(ctx, cfg, logger)
	}
	consoleIn  io.Reader = os.Stdin
	consoleOut io.Writer = os.Stdout
)

// runFlags maps command line flags onto their config keys.
var runFlags = map[string]string{
	"instructions":   "agent.instructions",
	"autoplay":       "agent.autoplay",
	"max-turns":      "agent.max_turns",
	"on-failure":     "agent.on_failure",
	"logical-width":  "agent.logical_width",
	"logical-height": "agent.logical_height",
	"surface":        "surface.kind",
	"frontend":       "frontend.kind",
	"model":          "planner.model",
	"store":          "store.enabled",
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a task on the configured surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Flags are bound to viper, so they take precedence over file and env.
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			return runTask(cmd.Context(), cfg, observability.GetLogger())
		},
	}

	flags := runCmd.Flags()
	flags.StringP("instructions", "i", "", "task instructions (prompted for when empty)")
	flags.Bool("autoplay", true, "run planned actions without asking for confirmation")
	flags.Int("max-turns", 0, "stop after this many turns (0 means unbounded)")
	flags.String("on-failure", config.OnFailurePause, "what to do when a turn fails: halt or pause")
	flags.Int("logical-width", 1024, "width of the screen the planner reasons about")
	flags.Int("logical-height", 768, "height of the screen the planner reasons about")
	flags.String("surface", config.SurfaceRemote, "surface to control: remote, local or browser")
	flags.String("frontend", config.FrontendConsole, "interaction frontend: console or tui")
	flags.String("model", "", "planner model name")
	flags.Bool("store", false, "archive turns in PostgreSQL (store.url)")

	for flag, key := range runFlags {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return runCmd
}

// buildSurface constructs the physical surface named by cfg.Kind. Nothing is
// contacted until the first call. The returned closer releases the
// connection.
func buildSurface(cfg config.SurfaceConfig, logger *zap.Logger) (surface.Surface, func() error, error) {
	switch cfg.Kind {
	case config.SurfaceRemote:
		s := remote.New(cfg.Remote, cfg.DragStepDelay, remote.NewSSHTransport(cfg.Remote, logger), logger)
		return s, s.Close, nil
	case config.SurfaceLocal:
		s := local.New(cfg.Local, cfg.DragStepDelay, nil, logger)
		return s, func() error { return nil }, nil
	case config.SurfaceBrowser:
		s := browser.New(cfg.Browser, cfg.DragStepDelay, browser.ChromeLauncher(cfg.Browser, logger), logger)
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported surface kind %q", cfg.Kind)
	}
}

// runTask wires surface, planner, archive and frontend and runs one task.
func runTask(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	physical, closeSurface, err := surfaceFactory(cfg.Surface, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSurface(); err != nil {
			logger.Warn("Failed to close surface", zap.Error(err))
		}
	}()

	logical := surface.Resolution{Width: cfg.Agent.LogicalWidth, Height: cfg.Agent.LogicalHeight}
	scaled, err := surface.NewScaler(physical, logical, logger)
	if err != nil {
		return err
	}

	p, err := plannerFactory(ctx, cfg.Planner, logger)
	if err != nil {
		return fmt.Errorf("failed to create planner: %w", err)
	}

	var recorder agent.TurnRecorder
	if cfg.Store.Enabled {
		st, cleanup, err := store.Open(ctx, cfg.Store, logger)
		if err != nil {
			return fmt.Errorf("failed to open turn archive: %w", err)
		}
		defer cleanup()
		recorder = st
	}

	logger.Info("Starting task",
		zap.String("surface", cfg.Surface.Kind),
		zap.String("frontend", cfg.Frontend.Kind),
		zap.Stringer("logical", logical),
		zap.Bool("autoplay", cfg.Agent.Autoplay))

	switch cfg.Frontend.Kind {
	case config.FrontendTUI:
		return runWithTUI(ctx, cfg.Agent, scaled, p, recorder, logger)
	default:
		console := frontend.NewConsole(consoleIn, consoleOut, logger)
		console.Start()
		return agent.New(cfg.Agent, scaled, p, console, recorder, logger).Run(ctx)
	}
}

// runWithTUI runs the orchestrator next to the terminal UI. The UI stays up
// after the task ends so the transcript can be read; closing it cancels a
// task still in progress.
func runWithTUI(ctx context.Context, cfg config.AgentConfig, s surface.Surface, p agent.Planner, recorder agent.TurnRecorder, logger *zap.Logger) error {
	tui := frontend.NewTUI(logger)
	orch := agent.New(cfg, s, p, tui, recorder, logger)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return tui.Run(runCtx)
	})
	g.Go(func() error {
		return orch.Run(runCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// The user closed the UI.
		return nil
	}
	return err
}

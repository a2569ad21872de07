package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/cua-tester/api/schemas"
	"github.com/xkilldash9x/cua-tester/internal/agent"
	"github.com/xkilldash9x/cua-tester/internal/browser"
	"github.com/xkilldash9x/cua-tester/internal/config"
	"github.com/xkilldash9x/cua-tester/internal/llmclient"
	"github.com/xkilldash9x/cua-tester/internal/observability"
	"github.com/xkilldash9x/cua-tester/internal/store"
)

const shutdownTimeout = 15 * time.Second

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var interactive bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the configured scenario against the target site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlagOverrides(cmd.Flags(), cfg); err != nil {
				return err
			}

			runID := uuid.New().String()
			logger.Info("Starting new run",
				zap.String("run_id", runID),
				zap.String("target_url", cfg.Scenario().TargetURL),
				zap.String("model", cfg.Agent().LLM.Model),
				zap.Int("max_steps", cfg.Agent().MaxSteps))

			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown()

			var steering io.Reader
			if interactive {
				steering = cmd.InOrStdin()
			}
			result, runErr := executeRun(ctx, components, scenarioFromConfig(cfg), runID, steering, logger)
			if result != nil {
				printResult(cmd.OutOrStdout(), result)
			}
			if runErr != nil {
				if errors.Is(runErr, context.Canceled) {
					return fmt.Errorf("run aborted by user signal")
				}
				return runErr
			}
			return nil
		},
	}

	runCmd.Flags().String("url", "", "Target URL. (Overrides config/env)")
	runCmd.Flags().String("instructions", "", "Task instructions for the model. (Overrides config/env)")
	runCmd.Flags().Int("max-steps", 0, "Maximum number of executed actions. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Read steering messages for the model from stdin while the run is in progress.")
	return runCmd
}

// applyRunFlagOverrides copies explicitly set flags onto cfg and revalidates.
func applyRunFlagOverrides(flags *pflag.FlagSet, cfg config.Interface) error {
	if flags.Changed("url") {
		u, err := flags.GetString("url")
		if err != nil {
			return err
		}
		cfg.SetScenarioTargetURL(u)
	}
	if flags.Changed("instructions") {
		s, err := flags.GetString("instructions")
		if err != nil {
			return err
		}
		cfg.SetScenarioInstructions(s)
	}
	if flags.Changed("max-steps") {
		n, err := flags.GetInt("max-steps")
		if err != nil {
			return err
		}
		cfg.SetAgentMaxSteps(n)
	}
	if flags.Changed("headless") {
		b, err := flags.GetBool("headless")
		if err != nil {
			return err
		}
		cfg.SetBrowserHeadless(b)
	}
	if cfg.Scenario().TargetURL == "" {
		return errors.New("no target URL configured (scenario.target_url or --url)")
	}
	if c, ok := cfg.(*config.Config); ok {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid configuration after flag overrides: %w", err)
		}
	}
	return nil
}

func scenarioFromConfig(cfg config.Interface) schemas.Scenario {
	sc := cfg.Scenario()
	return schemas.Scenario{
		Name:         sc.Name,
		TargetURL:    sc.TargetURL,
		Instructions: sc.Instructions,
		UserContext:  sc.UserContext(),
	}
}

// runComponents holds initialized services.
type runComponents struct {
	DBPool  *pgxpool.Pool
	Store   *store.Store
	Audit   *observability.AuditLogger
	Browser *browser.Manager
	Session *browser.Session
	Loop    *agent.Loop
}

// Shutdown closes all components.
func (rc *runComponents) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger := observability.GetLogger()
	if rc.Browser != nil {
		if err := rc.Browser.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	if rc.Audit != nil {
		_ = rc.Audit.Sync()
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

// initializeRunComponents handles dependency injection.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}
	var loopOpts []agent.LoopOption

	// 1. Optional run store
	if url := cfg.Database().URL; url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = pool

		runStore, err := store.New(ctx, pool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize run store: %w", err)
		}
		components.Store = runStore
		loopOpts = append(loopOpts, agent.WithRecorder(runStore))
	}

	// 2. Model client and session
	components.Audit = observability.NewAuditLogger(cfg.Audit(), zapcore.Lock(os.Stderr))
	client, err := llmclient.NewClient(cfg.Agent().LLM, logger)
	if err != nil {
		return components, err
	}
	session := agent.NewModelSession(client,
		agent.SessionOptionsFromConfig(cfg.Agent(), cfg.Browser()),
		components.Audit, logger)

	// 3. Browser
	manager, err := browser.NewManager(ctx, cfg.Browser(), logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	components.Browser = manager

	tab, err := manager.NewSession(ctx)
	if err != nil {
		return components, err
	}
	components.Session = tab
	executor := browser.NewExecutor(tab, cfg.Browser(), logger)

	// 4. Loop
	components.Loop = agent.NewLoop(session, executor, agent.LoopConfigFromConfig(cfg.Agent()), logger, loopOpts...)
	return components, nil
}

// executeRun opens the target page and drives the loop. With a steering
// reader, each input line is queued for the model while the run is active.
func executeRun(ctx context.Context, rc *runComponents, scenario schemas.Scenario, runID string, steering io.Reader, logger *zap.Logger) (*schemas.RunResult, error) {
	if err := rc.Session.Navigate(ctx, scenario.TargetURL); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", scenario.TargetURL, err)
	}

	var (
		result *schemas.RunResult
		runErr error
	)
	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		result, runErr = rc.Loop.Run(gctx, runID, scenario)
		return nil
	})
	if steering != nil {
		g.Go(func() error {
			return readSteering(gctx, done, steering, rc.Loop.Steer, logger)
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, runErr
}

// readSteering forwards non-blank lines from in to steer until the run ends
// or in is exhausted. When in is an io.Closer it is closed on return so the
// reading goroutine is released from a pending Read. A terminal stdin may
// still hold it until the next line or process exit.
func readSteering(ctx context.Context, done <-chan struct{}, in io.Reader, steer func(string) bool, logger *zap.Logger) error {
	lines := make(chan string)
	stop := make(chan struct{})
	defer func() {
		close(stop)
		if c, ok := in.(io.Closer); ok {
			_ = c.Close()
		}
	}()

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		select {
		case <-stop:
		default:
			if err := scanner.Err(); err != nil {
				logger.Warn("Steering input failed", zap.Error(err))
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if steer(line) {
				logger.Info("Steering message queued for the next report")
			}
		}
	}
}

func printResult(w io.Writer, r *schemas.RunResult) {
	fmt.Fprintf(w, "\nRun %s finished: %s after %d steps (%s)\n", r.RunID, r.State, r.Steps, r.Duration.Round(time.Millisecond))
	if r.Summary != "" {
		fmt.Fprintf(w, "Summary: %s\n", r.Summary)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
}

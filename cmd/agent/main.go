package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/polzovatel/browser-task-engine/internal/action"
	"github.com/polzovatel/browser-task-engine/internal/agent"
	"github.com/polzovatel/browser-task-engine/internal/artifacts"
	"github.com/polzovatel/browser-task-engine/internal/browser"
	"github.com/polzovatel/browser-task-engine/internal/confirm"
	"github.com/polzovatel/browser-task-engine/internal/overlay"
	"github.com/polzovatel/browser-task-engine/internal/planner"
	"github.com/polzovatel/browser-task-engine/internal/recovery"
	"github.com/polzovatel/browser-task-engine/internal/snapshot"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run one browser task to completion",
		Long: `Drives a browser through an observe-plan-act loop against a remote
planning service until the task completes, fails, or runs out of budget.`,
		SilenceUsage: true,
		RunE:         runTask,
	}

	flags := cmd.Flags()
	flags.StringP("objective", "o", "", "what the task should accomplish (required)")
	flags.String("instructions", "", "extra constraints for the planner")
	flags.String("url", "", "page to open before the first step")
	flags.Int("max-steps", 25, "step budget")
	flags.Duration("timeout", 5*time.Minute, "wall-clock budget")
	flags.StringSlice("confirm", nil, "sensitive kinds to gate (login, payment, delete, form-submit, file-upload, cross-domain-navigation)")
	flags.Bool("confirm-start", false, "ask before starting the task")
	flags.Duration("confirm-timeout", 30*time.Second, "confirmation wait before failing open")
	flags.String("planner-url", "", "planning service base URL")
	flags.String("planner-key", "", "planning service API key")
	flags.String("artifacts", "", "directory for per-step screenshots and snapshots")
	flags.String("storage-state", "", "path for persisted cookies and local storage")
	flags.Bool("headless", false, "run the browser without a window")
	flags.Bool("debug", false, "verbose logging")

	_ = cmd.MarkFlagRequired("objective")

	viper.SetEnvPrefix("BTE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(flags)

	return cmd
}

func runTask(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	logger := newLogger(viper.GetBool("debug"))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plannerURL := viper.GetString("planner-url")
	if plannerURL == "" {
		return fmt.Errorf("planner URL required (--planner-url or BTE_PLANNER_URL)")
	}
	svc, err := planner.NewRemote(plannerURL, viper.GetString("planner-key"), logger)
	if err != nil {
		return err
	}

	launcher, err := browser.NewLauncher(ctx, browser.LaunchOptions{Headless: viper.GetBool("headless")})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if err := launcher.Close(); err != nil {
			logger.Warn().Err(err).Msg("browser shutdown")
		}
	}()

	storagePath := viper.GetString("storage-state")
	ctrl, err := launcher.NewController(ctx, storagePath)
	if err != nil {
		return fmt.Errorf("open browser context: %w", err)
	}
	defer func() {
		if err := ctrl.Close(context.Background()); err != nil {
			logger.Debug().Err(err).Msg("browser context close")
		}
	}()

	var sink agent.ArtifactSink
	if dir := viper.GetString("artifacts"); dir != "" {
		s, err := artifacts.NewSink(dir, logger)
		if err != nil {
			return err
		}
		sink = s
	}

	rem := agent.NewRemediator(ctrl, logger)
	gate := confirm.NewGate(
		terminalResponder(logger),
		confirm.Config{Timeout: viper.GetDuration("confirm-timeout")},
		logger,
	)
	orch := agent.NewOrchestrator(
		agent.Config{
			MaxSteps: viper.GetInt("max-steps"),
			Timeout:  viper.GetDuration("timeout"),
		},
		agent.Options{
			Indexer:    snapshot.NewIndexer(ctrl, snapshot.Config{}, logger),
			Annotator:  overlay.NewAnnotator(ctrl, overlay.Config{}, logger),
			Executor:   action.NewExecutor(ctrl, action.Config{}, logger),
			Planner:    svc,
			Gate:       gate,
			Engine:     recovery.NewEngine(recovery.Config{}, rem, terminalNotifier{logger}, logger),
			Remediator: rem,
			Artifacts:  sink,
		},
		logger,
	)

	task, err := orch.ExecuteTask(ctx, agent.TaskSpec{
		Objective:    viper.GetString("objective"),
		Instructions: viper.GetString("instructions"),
		StartURL:     viper.GetString("url"),
		MaxSteps:     viper.GetInt("max-steps"),
		Timeout:      viper.GetDuration("timeout"),
		Confirmation: parsePolicy(viper.GetStringSlice("confirm")),
		ConfirmStart: viper.GetBool("confirm-start"),
	})
	if err != nil {
		return err
	}

	if storagePath != "" {
		if err := ctrl.SaveStorageState(context.Background(), storagePath); err != nil {
			logger.Warn().Err(err).Msg("storage state save failed")
		}
	}

	printReport(task)
	if task.Status != agent.StatusCompleted {
		return fmt.Errorf("task %s: %s", task.ID, task.Status)
	}
	return nil
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

func parsePolicy(names []string) confirm.Policy {
	kinds := make([]confirm.Kind, 0, len(names))
	for _, n := range names {
		kinds = append(kinds, confirm.Kind(strings.TrimSpace(n)))
	}
	return confirm.NewPolicy(kinds...)
}

// terminalResponder prompts on stderr and reads one y/n line from stdin
// without blocking the gate's own timeout.
func terminalResponder(logger zerolog.Logger) confirm.Responder {
	return confirm.ResponderFunc(func(kind confirm.Kind, message string, respond func(bool)) {
		fmt.Fprintf(os.Stderr, "\n%s\nApprove? [y/N]: ", message)
		go func() {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				logger.Warn().Err(err).Msg("confirmation read failed")
				respond(false)
				return
			}
			answer := strings.ToLower(strings.TrimSpace(line))
			respond(answer == "y" || answer == "yes")
		}()
	})
}

type terminalNotifier struct {
	logger zerolog.Logger
}

func (n terminalNotifier) NotifyIntervention(_ context.Context, kind recovery.Kind, message string) {
	fmt.Fprintf(os.Stderr, "\n[%s] %s\n", kind, message)
	n.logger.Warn().Str("kind", string(kind)).Msg("manual intervention requested")
}

func printReport(task *agent.Task) {
	fmt.Printf("\ntask %s: %s (%d steps)\n", task.ID, task.Status, len(task.History))
	for _, e := range task.Errors {
		fmt.Printf("  error: %s\n", e.Error())
	}
	if data := task.Extracted.All(); len(data) > 0 {
		fmt.Println("  extracted:")
		for k, v := range data {
			switch val := v.(type) {
			case []byte:
				fmt.Printf("    %s: %d bytes\n", k, len(val))
			default:
				fmt.Printf("    %s: %v\n", k, val)
			}
		}
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/ttsmd/internal/config"
	"github.com/gonkalabs/ttsmd/internal/detector"
	"github.com/gonkalabs/ttsmd/internal/pipeline"
	"github.com/gonkalabs/ttsmd/internal/plan"
	"github.com/gonkalabs/ttsmd/internal/prepass"
	"github.com/gonkalabs/ttsmd/internal/report"
)

// Exit codes per spec.md §6.
const (
	exitOK                = 0
	exitInputOrConfig     = 1
	exitDetectorDown      = 2
	exitStructuralReject  = 3
	exitDetectorMalformed = 4
)

var (
	flagOutput    string
	flagSteps     string
	flagEndpoint  string
	flagModel     string
	flagPlan      string
	flagReport    string
	flagWhitelist string
	flagEllipsis  string
	flagVerbose   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "ttsmd <input path>",
	Short: "Rewrite Markdown into TTS-friendly Markdown without touching its structure",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&flagOutput, "output", "", "write the rewritten Markdown here instead of stdout")
	rootCmd.Flags().StringVar(&flagSteps, "steps", "", "comma-separated steps: mask,prepass-basic,prepass-advanced,detect,apply")
	rootCmd.Flags().StringVar(&flagEndpoint, "endpoint", "", "OpenAI-compatible base URL for the detect step")
	rootCmd.Flags().StringVar(&flagModel, "model", "", "model identifier for the detect step")
	rootCmd.Flags().StringVar(&flagPlan, "plan", "", "write the accepted plan as JSON here")
	rootCmd.Flags().StringVar(&flagReport, "report", "", "write the run report as JSON here")
	rootCmd.Flags().StringVar(&flagWhitelist, "whitelist", "", "path to the acronym whitelist")
	rootCmd.Flags().StringVar(&flagEllipsis, "ellipsis", "", `canonical ellipsis form: "..." or "…"`)
	rootCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "increase logging detail")
}

func run(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(flagSteps, flagEndpoint, flagModel, flagWhitelist, flagEllipsis, flagVerbose)
	if err != nil {
		slog.Error("config error", "err", err)
		return exitError{code: exitInputOrConfig, err: err}
	}

	input, err := os.ReadFile(args[0])
	if err != nil {
		slog.Error("read input", "err", err)
		return exitError{code: exitInputOrConfig, err: err}
	}

	advanced := prepass.NewAdvanced(cfg.AcronymWhitelist, cfg.EllipsisForm)

	var det pipeline.Detector
	if cfg.Endpoint != "" {
		det = detector.New(cfg.Endpoint, cfg.Model, cfg.RequestTimeout, cfg.MaxRetries)
	}

	validator, err := plan.NewValidator()
	if err != nil {
		slog.Error("plan schema error", "err", err)
		return exitError{code: exitInputOrConfig, err: err}
	}

	pl := pipeline.New(cfg.Steps, advanced, det, validator)

	slog.Info("running pipeline", "steps", cfg.Steps, "input", args[0])
	result, err := pl.Run(cmd.Context(), string(input))
	if err != nil {
		slog.Error("pipeline failed", "err", err)
		return classifyRunError(err)
	}

	if err := writeSideFiles(result); err != nil {
		return exitError{code: exitInputOrConfig, err: err}
	}

	switch result.Status {
	case pipeline.StatusRejected:
		slog.Warn("rewrite rejected by structural validator")
		if err := writeOutput(flagOutput, result.Output); err != nil {
			return exitError{code: exitInputOrConfig, err: err}
		}
		return exitError{code: exitStructuralReject, err: fmt.Errorf("structural validation rejected the rewrite")}
	case pipeline.StatusDone:
		if err := writeOutput(flagOutput, result.Output); err != nil {
			return exitError{code: exitInputOrConfig, err: err}
		}
		if code, err := detectorFailureCode(result.Report); err != nil {
			slog.Warn("detector never produced a usable plan", "err", err)
			return exitError{code: code, err: err}
		}
		return nil
	default:
		return exitError{code: exitInputOrConfig, err: fmt.Errorf("pipeline ended in unexpected status %q", result.Status)}
	}
}

// detectorFailureCode inspects the detect stage's rejection counters
// and, when every window attempted this run failed for the same
// class of reason, surfaces exit 2 (detector unreachable) or exit 4
// (detector responded but never returned usable JSON) instead of a
// silent success — detector errors are non-fatal per-chunk, but a
// run where the detect step never once succeeded is worth a distinct
// exit code rather than reporting success with an empty plan.
func detectorFailureCode(rep *report.Report) (int, error) {
	if rep == nil {
		return exitOK, nil
	}
	attempted := rep.Get("detect", "windows_attempted")
	if attempted == 0 {
		return exitOK, nil
	}
	unreachable := rep.Get("detect", "rejections."+detector.KindNetwork) + rep.Get("detect", "rejections."+detector.KindTimeout)
	if unreachable == attempted {
		return exitDetectorDown, fmt.Errorf("detector endpoint was unreachable for all %d chunks attempted", attempted)
	}
	malformed := rep.Get("detect", "rejections."+detector.KindMalformed) +
		rep.Get("detect", "rejections."+detector.KindNonArray) +
		rep.Get("detect", "rejections."+detector.KindOversize)
	if malformed == attempted {
		return exitDetectorMalformed, fmt.Errorf("detector never returned parsable JSON across all %d chunks attempted", attempted)
	}
	return exitOK, nil
}

func writeOutput(path, text string) error {
	if path == "" {
		_, err := fmt.Println(text)
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

func writeSideFiles(result pipeline.Result) error {
	if flagPlan != "" {
		type persistedItem struct {
			Find    string `json:"find"`
			Replace string `json:"replace"`
			Reason  string `json:"reason"`
		}
		items := make([]persistedItem, len(result.Plan.Items))
		for i, it := range result.Plan.Items {
			items[i] = persistedItem{Find: it.Find, Replace: it.Replace, Reason: it.Reason}
		}
		body, err := json.MarshalIndent(map[string]any{"items": items}, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(flagPlan, body, 0o644); err != nil {
			return err
		}
	}

	if flagReport != "" && result.Report != nil {
		body, err := json.MarshalIndent(result.Report.ToMap(), "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(flagReport, body, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// classifyRunError maps a pipeline.Run error to the exit code it
// carries: detector-unreachable and detector-malformed errors only
// ever surface here through a ConfigError (the detect stage downgrades
// its own failures into empty plans rather than aborting the run), so
// in practice this path covers input and configuration errors and the
// fatal internal-invariant case.
func classifyRunError(err error) error {
	return exitError{code: exitInputOrConfig, err: err}
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }
func (e exitError) Unwrap() error { return e.err }

func exitFor(err error) int {
	if e, ok := err.(exitError); ok {
		return e.code
	}
	return exitInputOrConfig
}

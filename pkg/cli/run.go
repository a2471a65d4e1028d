package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/ditto-runner/pkg/config"
	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/device"
	"github.com/devicelab-dev/ditto-runner/pkg/executor"
	"github.com/devicelab-dev/ditto-runner/pkg/flow"
	"github.com/devicelab-dev/ditto-runner/pkg/logger"
	"github.com/devicelab-dev/ditto-runner/pkg/report"
	"github.com/devicelab-dev/ditto-runner/pkg/validator"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run an automation script on a device",
		ArgsUsage: "<script>",
		Description: `Run a YAML or JSON automation script.

Settings come from ditto.yaml (next to the script, in the working directory
or in $DITTO_HOME), and flags override them. The JSON report is written to
<output_dir>/<timestamp>/report.json unless --output is given.

Examples:
  ditto run login.yaml
  ditto run login.yaml --var user=alice --var attempts=3
  ditto run checkout.yaml --retries 3 --continue-on-failure -o result.json
  ditto run login.yaml --mock-hierarchy screen.xml
  ditto run login.yaml --avd Pixel_7_API_34`,
		Flags: flags([]cli.Flag{
			&cli.StringSliceFlag{
				Name:  "var",
				Usage: "Set a variable (KEY=VALUE, repeatable); values are decoded as YAML scalars",
			},
			&cli.StringFlag{
				Name:  "vars-file",
				Usage: "YAML or JSON file of variables",
			},
			&cli.IntFlag{
				Name:    "retries",
				Aliases: []string{"r"},
				Usage:   "Default retry count per step",
			},
			&cli.Float64Flag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Default per-attempt timeout in seconds",
			},
			&cli.Float64Flag{
				Name:    "delay",
				Aliases: []string{"d"},
				Usage:   "Delay after each device action in seconds",
			},
			&cli.BoolFlag{
				Name:  "continue-on-failure",
				Usage: "Keep running after a failed step",
			},
			&cli.BoolFlag{
				Name:  "screenshot-on-failure",
				Usage: "Capture a screenshot when a step fails",
			},
			&cli.Float64Flag{
				Name:    "min-confidence",
				Aliases: []string{"c"},
				Usage:   "Minimum element match confidence, 0.0-1.0",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Path of the JSON report",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to ditto.yaml",
			},
			&cli.BoolFlag{
				Name:  "html",
				Usage: "Also write an HTML report next to the JSON report",
			},
			&cli.StringFlag{
				Name:    "avd",
				Usage:   "Boot this emulator for the run and shut it down afterwards",
				EnvVars: []string{"DITTO_AVD"},
			},
		}, deviceFlags(), logFlags()),
		Before: setupLogging,
		After:  closeLogging,
		Action: runScript,
	}
}

func runScript(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("run requires exactly one script file")
	}
	scriptPath := c.Args().First()
	out := c.App.Writer

	// 1. Configuration
	cfg, err := loadConfig(c.String("config"), scriptPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyRunFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// 2. Validate and parse the script
	v, err := validator.New()
	if err != nil {
		return err
	}
	if errs := v.ValidateFile(scriptPath); len(errs) > 0 {
		printValidationErrors(c.App.ErrWriter, errs)
		return cli.Exit(fmt.Sprintf("%s is not a valid script", scriptPath), 1)
	}
	script, err := flow.ParseFile(scriptPath)
	if err != nil {
		return err
	}

	seeds, err := buildSeeds(cfg, c.String("vars-file"), c.StringSlice("var"))
	if err != nil {
		return err
	}

	// 3. Output directory and log
	reportPath := resolveReportPath(c.String("output"), cfg.OutputDir, time.Now())
	artifactsDir := filepath.Dir(reportPath)
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if c.String("log-file") == "" {
		logPath := cfg.LogFile
		if logPath == "" {
			logPath = filepath.Join(artifactsDir, "ditto.log")
		}
		if err := logger.Init(logPath); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "Warning: failed to initialize logger: %v\n", err)
		}
	}
	logger.Info("=== Run started: %s ===", scriptPath)
	logger.Info("Output directory: %s", artifactsDir)

	// Ctrl+C cancels the run; the report keeps the steps that finished.
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Device
	serial := cfg.Device
	if avd := c.String("avd"); avd != "" && c.String("device") == "" && c.String("mock-hierarchy") == "" {
		emu, err := device.StartEmulator(ctx, avd, device.EmulatorConfig{})
		if err != nil {
			return err
		}
		defer func() {
			if err := emu.Close(context.Background()); err != nil {
				logger.Warn("Emulator shutdown failed: %v", err)
			}
		}()
		serial = emu.Serial
	}
	dev, info, err := connect(ctx, c, serial)
	if err != nil {
		return err
	}

	// 5. Run
	rc := cfg.ToRunnerConfig()
	rc.ArtifactsDir = artifactsDir

	writer := report.NewWriter(reportPath, &report.Run{
		Script:     script.Name,
		SourceFile: script.SourcePath,
		Device:     info,
	})
	writer.Start()

	verbose := c.Bool("verbose")
	rc.OnStepComplete = func(r core.StepResult) {
		writer.StepEnd(r)
		if verbose {
			fmt.Fprintln(out, report.StepLine(report.StepFrom(r)))
		}
	}

	fmt.Fprintf(out, "Running %s on %s\n\n", script.Name, info.ID)
	result, err := executor.New(dev, dev, rc).Run(ctx, script, seeds)
	if err != nil {
		logger.Error("Run failed to start: %v", err)
		return err
	}
	logger.Info("Run finished: success=%v, %d step(s)", result.Success, len(result.Steps))

	// 6. Reports
	run := result.Report(info)
	if err := writer.End(run); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "Warning: failed to write report: %v\n", err)
	}

	if verbose {
		fmt.Fprintln(out)
		report.PrintTotals(out, run)
	} else {
		report.PrintSummary(out, run)
	}
	fmt.Fprintf(out, "\nReport: %s\n", reportPath)

	if c.Bool("html") {
		htmlPath := strings.TrimSuffix(reportPath, filepath.Ext(reportPath)) + ".html"
		if err := report.GenerateHTML(reportPath, report.HTMLConfig{OutputPath: htmlPath}); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "Warning: failed to generate HTML report: %v\n", err)
		} else {
			fmt.Fprintf(out, "HTML:   %s\n", htmlPath)
		}
	}

	if !result.Success {
		return cli.Exit("", 1)
	}
	return nil
}

// loadConfig loads --config, or discovers ditto.yaml next to the script,
// in the working directory, then in the ditto home.
func loadConfig(path, scriptPath string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Discover(filepath.Dir(scriptPath), ".")
}

// applyRunFlags overrides file settings with the flags given on the
// command line.
func applyRunFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("retries") {
		cfg.Retries = c.Int("retries")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Float64("timeout")
	}
	if c.IsSet("delay") {
		cfg.StepDelay = c.Float64("delay")
	}
	if c.Bool("continue-on-failure") {
		cfg.StopOnFailure = false
	}
	if c.Bool("screenshot-on-failure") {
		cfg.ScreenshotOnFailure = true
	}
	if c.IsSet("min-confidence") {
		cfg.MinConfidence = c.Float64("min-confidence")
	}
}

// buildSeeds layers the variables: config and its variables file, then
// --vars-file, then --var assignments on top.
func buildSeeds(cfg *config.Config, varsFile string, assignments []string) (executor.Seeds, error) {
	file, err := cfg.FileVariables()
	if err != nil {
		return executor.Seeds{}, err
	}
	if varsFile != "" {
		extra, err := vars.LoadFile(varsFile)
		if err != nil {
			return executor.Seeds{}, err
		}
		for k, v := range extra {
			file[k] = v
		}
	}

	var overrides map[string]vars.Value
	for _, a := range assignments {
		name, value, err := vars.ParseAssignment(a)
		if err != nil {
			return executor.Seeds{}, err
		}
		if overrides == nil {
			overrides = make(map[string]vars.Value)
		}
		overrides[name] = value
	}
	return executor.Seeds{File: file, Overrides: overrides}, nil
}

// resolveReportPath returns --output when given, else a timestamped
// report.json under the output directory.
func resolveReportPath(output, outputDir string, now time.Time) string {
	if output != "" {
		return filepath.Clean(output)
	}
	if outputDir == "" {
		outputDir = "reports"
	}
	return filepath.Join(outputDir, now.Format("2006-01-02_15-04-05"), "report.json")
}

// Package cli provides the command-line interface for ditto.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/ditto-runner/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// NewApp builds the ditto application writing to stdout and stderr.
func NewApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:    "ditto",
		Usage:   "Confidence-scored Android UI automation",
		Version: Version,
		Description: `ditto runs YAML or JSON automation scripts against an Android device over adb.
Elements are located by resource-id, content-desc, text or XPath with a
confidence score, and scripts can use variables, expressions, conditions
and loops.

Examples:
  ditto run login.yaml
  ditto run checkout.yaml --var user=alice --retries 3
  ditto find --text "Setings"
  ditto validate scripts/`,
		Writer:    stdout,
		ErrWriter: stderr,
		// Exit codes are applied by Execute.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			runCommand(),
			validateCommand(),
			findCommand(),
			tapCommand(),
			typeCommand(),
			pressCommand(),
			openCommand(),
			swipeCommand(),
			screenshotCommand(),
			screenSizeCommand(),
			devicesCommand(),
			createScriptCommand(),
			schemaCommand(),
		},
	}
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	app := NewApp(os.Stdout, os.Stderr)
	if err := Run(app, os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			if msg := exitErr.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, msg)
			}
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// logFlags are carried by every command.
func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
			EnvVars: []string{"DITTO_VERBOSE"},
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Write the run log to this file",
			EnvVars: []string{"DITTO_LOG_FILE"},
		},
	}
}

// deviceFlags select the device a command drives.
func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"s"},
			Usage:   "adb serial of the device (default: the only connected device)",
			EnvVars: []string{"DITTO_DEVICE"},
		},
		&cli.StringFlag{
			Name:  "mock-hierarchy",
			Usage: "Use an in-memory device showing this uiautomator dump",
		},
	}
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// setupLogging applies --log-file and --verbose. Verbose output without a
// log file goes to stderr.
func setupLogging(c *cli.Context) error {
	path := c.String("log-file")
	switch {
	case path != "":
		if err := logger.Init(path); err != nil {
			return err
		}
	case c.Bool("verbose"):
		logger.InitWriter(c.App.ErrWriter)
	}
	if c.Bool("verbose") {
		return logger.SetLevel("debug")
	}
	return logger.SetLevel("info")
}

func closeLogging(*cli.Context) error {
	logger.Close()
	return nil
}

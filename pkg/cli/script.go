package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/ditto-runner/pkg/flow"
	"github.com/devicelab-dev/ditto-runner/pkg/validator"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate scripts without running them",
		ArgsUsage: "<file|dir>...",
		Description: `Checks each script against the script schema, then its structure,
then every condition, expression and template.

Examples:
  ditto validate login.yaml
  ditto validate scripts/`,
		Flags:  logFlags(),
		Before: setupLogging,
		After:  closeLogging,
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("validate requires at least one file or directory")
			}
			v, err := validator.New()
			if err != nil {
				return err
			}

			out := c.App.Writer
			invalid := false
			for _, path := range c.Args().Slice() {
				res := v.Validate(path)
				if len(res.Files) == 0 && res.IsValid() {
					fmt.Fprintf(out, "%s no scripts found in %s\n", dimStyle.Render("-"), path)
					continue
				}

				failed := make(map[string]bool)
				for _, err := range res.Errors {
					var ve *validator.ValidationError
					if errors.As(err, &ve) {
						failed[ve.File] = true
					}
				}
				for _, file := range res.Files {
					if failed[file] {
						continue
					}
					script, err := flow.ParseFile(file)
					if err != nil {
						continue
					}
					fmt.Fprintf(out, "%s %s %s\n", passStyle.Render("✓"), file,
						dimStyle.Render(fmt.Sprintf("(%d steps)", len(script.Steps))))
				}
				if !res.IsValid() {
					invalid = true
					printValidationErrors(c.App.ErrWriter, res.Errors)
				}
			}
			if invalid {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

// templateStep is a step as written into a new script.
type templateStep struct {
	Action      string   `yaml:"action" json:"action"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	App         string   `yaml:"app,omitempty" json:"app,omitempty"`
	Text        string   `yaml:"text,omitempty" json:"text,omitempty"`
	Desc        string   `yaml:"desc,omitempty" json:"desc,omitempty"`
	Seconds     *float64 `yaml:"seconds,omitempty" json:"seconds,omitempty"`
	Timeout     *float64 `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries     *int     `yaml:"retries,omitempty" json:"retries,omitempty"`
}

type templateScript struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Steps       []templateStep `yaml:"steps" json:"steps"`
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

var scriptTemplates = map[string][]templateStep{
	"empty": {
		{Action: "wait", Seconds: f64(1), Description: "Initial wait"},
	},
	"alarm": {
		{Action: "open", App: "com.google.android.deskclock", Description: "Open Clock app"},
		{Action: "wait", Seconds: f64(1.5), Description: "Wait for app to load"},
		{Action: "tap", Text: "Alarm", Retries: intp(3), Description: "Go to Alarm tab"},
		{Action: "tap", Desc: "Add alarm", Retries: intp(2), Description: "Add new alarm"},
		{Action: "wait", Seconds: f64(0.5)},
		{Action: "tap", Text: "11", Description: "Set hour to 11"},
		{Action: "tap", Text: "10", Description: "Set minute to 10"},
		{Action: "tap", Text: "OK", Retries: intp(2), Description: "Confirm alarm"},
	},
	"app": {
		{Action: "open", App: "APP_PACKAGE", Description: "Open the app"},
		{Action: "wait", Seconds: f64(2), Description: "Wait for app to load"},
		{Action: "wait_for", Text: "ELEMENT_TEXT", Timeout: f64(10), Description: "Wait for main screen"},
		{Action: "tap", Text: "BUTTON_TEXT", Retries: intp(2), Description: "Tap the button"},
	},
}

func createScriptCommand() *cli.Command {
	return &cli.Command{
		Name:      "create-script",
		Usage:     "Create a new script from a template",
		ArgsUsage: "<name>",
		Description: `The file is YAML unless the name ends in .json.

Examples:
  ditto create-script my_automation
  ditto create-script set_alarm --template alarm`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "template",
				Aliases: []string{"t"},
				Usage:   "Template to use: empty, alarm, app",
				Value:   "empty",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("create-script requires a script name")
			}
			steps, ok := scriptTemplates[c.String("template")]
			if !ok {
				return fmt.Errorf("unknown template %q (available: empty, alarm, app)", c.String("template"))
			}

			path := c.Args().First()
			ext := strings.ToLower(filepath.Ext(path))
			switch ext {
			case ".yaml", ".yml", ".json":
			default:
				ext = ".yaml"
				path += ext
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("file already exists: %s", path)
			}

			doc := templateScript{
				Name:        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
				Description: fmt.Sprintf("Automation script created from the %q template", c.String("template")),
				Steps:       steps,
			}
			var data []byte
			var err error
			if ext == ".json" {
				data, err = json.MarshalIndent(doc, "", "  ")
				data = append(data, '\n')
			} else {
				data, err = yaml.Marshal(doc)
			}
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Created script: %s\n", path)
			fmt.Fprintf(c.App.Writer, "Edit the file and run with: ditto run %s\n", path)
			return nil
		},
	}
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the JSON schema of script files",
		Action: func(c *cli.Context) error {
			data, err := flow.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.App.Writer, string(data))
			return err
		},
	}
}

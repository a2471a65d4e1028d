package cli

import (
	"strings"

	"github.com/urfave/cli/v2"
)

// Run runs app with args. Flags may follow positional arguments, as in
// "ditto run login.yaml --var user=alice"; urfave/cli stops at the first
// positional, so command flags are moved in front of them first.
func Run(app *cli.App, args []string) error {
	return app.Run(reorderArgs(app, args))
}

// reorderArgs returns args with the flags of the invoked command placed
// before its positional arguments. Everything after "--" stays positional.
func reorderArgs(app *cli.App, args []string) []string {
	if len(args) < 2 {
		return args
	}
	cmdIdx := -1
	for i := 1; i < len(args); i++ {
		if !strings.HasPrefix(args[i], "-") {
			cmdIdx = i
			break
		}
	}
	if cmdIdx < 0 {
		return args
	}
	cmd := app.Command(args[cmdIdx])
	if cmd == nil {
		return args
	}
	takesValue := flagArity(cmd.Flags)

	var flagArgs, positional []string
	rest := args[cmdIdx+1:]
	for i := 0; i < len(rest); i++ {
		arg := rest[i]
		if arg == "--" {
			positional = append(positional, rest[i:]...)
			break
		}
		name, ok := flagName(arg)
		if !ok {
			positional = append(positional, arg)
			continue
		}
		wantsValue, known := takesValue[name]
		if !known {
			// Unknown flags and negative numbers are left for the parser.
			if isNumber(arg) {
				positional = append(positional, arg)
			} else {
				flagArgs = append(flagArgs, arg)
			}
			continue
		}
		flagArgs = append(flagArgs, arg)
		if wantsValue && !strings.Contains(arg, "=") && i+1 < len(rest) {
			i++
			flagArgs = append(flagArgs, rest[i])
		}
	}

	out := make([]string, 0, len(args))
	out = append(out, args[:cmdIdx+1]...)
	out = append(out, flagArgs...)
	return append(out, positional...)
}

// flagArity maps every name and alias of flags to whether it takes a value.
func flagArity(flags []cli.Flag) map[string]bool {
	out := map[string]bool{"help": false, "h": false}
	for _, f := range flags {
		wantsValue := true
		if v, ok := f.(interface{ TakesValue() bool }); ok {
			wantsValue = v.TakesValue()
		}
		for _, name := range f.Names() {
			out[name] = wantsValue
		}
	}
	return out
}

func flagName(arg string) (string, bool) {
	if len(arg) < 2 || arg[0] != '-' {
		return "", false
	}
	name := strings.TrimLeft(arg, "-")
	if i := strings.IndexByte(name, '='); i >= 0 {
		name = name[:i]
	}
	return name, name != ""
}

func isNumber(arg string) bool {
	s := strings.TrimPrefix(arg, "-")
	if s == "" {
		return false
	}
	dot := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return true
}

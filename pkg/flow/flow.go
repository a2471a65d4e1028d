package flow

import (
	"strconv"

	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// Script represents a parsed automation script.
type Script struct {
	SourcePath  string                // Path to the source file
	Name        string                // Script name (defaults to the file name)
	Description string                // Free-form description
	Variables   map[string]vars.Value // Script-declared defaults, lowest priority
	Steps       []Step                // Steps to execute
}

// Walk calls fn for every step in pre-order, including nested blocks. path is
// the nesting path of the step, e.g. steps[2].then[0].
func (s *Script) Walk(fn func(path string, step Step) error) error {
	return walkSteps("steps", s.Steps, fn)
}

func walkSteps(prefix string, steps []Step, fn func(string, Step) error) error {
	for i, step := range steps {
		path := indexPath(prefix, i)
		if err := fn(path, step); err != nil {
			return err
		}
		for _, child := range Children(step) {
			if err := walkSteps(path+"."+child.Field, child.Steps, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Block is a nested step list of a control-flow step.
type Block struct {
	Field string // then, elif[0].then, else, loop_steps
	Steps []Step
}

// Children returns the nested step lists of a control-flow step.
func Children(step Step) []Block {
	switch s := step.(type) {
	case *IfStep:
		blocks := []Block{{Field: "then", Steps: s.Then}}
		for i, b := range s.Elif {
			blocks = append(blocks, Block{Field: indexPath("elif", i) + ".then", Steps: b.Then})
		}
		if len(s.Else) > 0 {
			blocks = append(blocks, Block{Field: "else", Steps: s.Else})
		}
		return blocks
	case *ForStep:
		return []Block{{Field: "loop_steps", Steps: s.Steps}}
	case *WhileStep:
		return []Block{{Field: "loop_steps", Steps: s.Steps}}
	case *UntilStep:
		return []Block{{Field: "loop_steps", Steps: s.Steps}}
	}
	return nil
}

// IsLoop reports whether step is a for, while or until loop.
func IsLoop(step Step) bool {
	switch step.(type) {
	case *ForStep, *WhileStep, *UntilStep:
		return true
	}
	return false
}

func indexPath(prefix string, i int) string {
	return prefix + "[" + strconv.Itoa(i) + "]"
}

package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/devicelab-dev/ditto-runner/pkg/element"
	"github.com/devicelab-dev/ditto-runner/pkg/flow"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// regexTimeout bounds a single extract regex match.
const regexTimeout = time.Second

// extract stores data read from a matched element. When a default is given,
// a missing element or a regex miss stores the default instead of failing.
func (sr *scriptRunner) extract(ctx context.Context, s *flow.ExtractStep, timeout time.Duration, out *attemptOutput) error {
	v, err := sr.extractValue(ctx, s, timeout, out)
	if err != nil {
		if s.Default == nil || sr.ctx.Err() != nil {
			return err
		}
		def, expandErr := sr.script.ExpandValue(sr.ctx, *s.Default)
		if expandErr != nil {
			return expandErr
		}
		sr.script.SetVariable(s.Variable, def)
		out.message = fmt.Sprintf("%s = %s (default: %v)", s.Variable, def.Repr(), err)
		return nil
	}
	sr.script.SetVariable(s.Variable, v)
	out.message = fmt.Sprintf("%s = %s", s.Variable, v.Repr())
	return nil
}

func (sr *scriptRunner) extractValue(ctx context.Context, s *flow.ExtractStep, timeout time.Duration, out *attemptOutput) (vars.Value, error) {
	c, err := sr.script.ExpandLocator(ctx, &s.Locator)
	if err != nil {
		return vars.Null, err
	}
	res, err := sr.provider.WaitFor(ctx, c, timeout)
	if err != nil {
		return vars.Null, err
	}
	out.match = res.Match

	text, err := extractSource(res.Match.Element, s.Source, s.Attribute)
	if err != nil {
		return vars.Null, err
	}
	if s.Regex == "" {
		return vars.String(text), nil
	}
	pattern, err := sr.script.ExpandVariables(ctx, s.Regex)
	if err != nil {
		return vars.Null, err
	}
	sub, err := applyRegex(pattern, s.Group, text)
	if err != nil {
		return vars.Null, err
	}
	return vars.String(sub), nil
}

// extractSource returns the requested property of e.
func extractSource(e *element.Element, source, attribute string) (string, error) {
	switch source {
	case "", flow.SourceText:
		return e.Text, nil
	case flow.SourceBounds:
		return e.Bounds.String(), nil
	case flow.SourceResourceID:
		return e.ResourceID, nil
	case flow.SourceContentDesc:
		return e.ContentDesc, nil
	case flow.SourceClass:
		return e.Class, nil
	case flow.SourceAttribute:
		v, ok := e.Attribute(attribute)
		if !ok {
			return "", fmt.Errorf("unknown attribute %q", attribute)
		}
		return v, nil
	}
	return "", fmt.Errorf("unknown extract source %q", source)
}

// applyRegex returns the requested group of the first match. The group
// defaults to 1 when the pattern has a capture group and 0 otherwise.
func applyRegex(pattern string, group *int, text string) (string, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return "", fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	re.MatchTimeout = regexTimeout

	m, err := re.FindStringMatch(text)
	if err != nil {
		return "", fmt.Errorf("regex %q: %w", pattern, err)
	}
	if m == nil {
		return "", fmt.Errorf("regex %q did not match %q", pattern, text)
	}

	n := 0
	if group != nil {
		n = *group
	} else if m.GroupCount() > 1 {
		n = 1
	}
	g := m.GroupByNumber(n)
	if g == nil || n >= m.GroupCount() {
		return "", fmt.Errorf("regex %q has no group %d", pattern, n)
	}
	return g.String(), nil
}

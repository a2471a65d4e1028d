package expression

import (
	"context"
	"errors"
	"fmt"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/element"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

type elementFunc func(e *env, c element.Criteria) (vars.Value, error)

var elementFuncs = map[string]elementFunc{
	"element_exists": func(e *env, c element.Criteria) (vars.Value, error) {
		res, err := e.elements.Locate(e.ctx, c)
		if err != nil {
			return vars.Null, err
		}
		return vars.Bool(res.Match != nil), nil
	},
	"element_text": func(e *env, c element.Criteria) (vars.Value, error) {
		res, err := e.elements.Locate(e.ctx, c)
		if err != nil {
			return vars.Null, err
		}
		if res.Match == nil {
			return vars.Null, nil
		}
		return vars.String(res.Match.Element.Text), nil
	},
	"element_count": func(e *env, c element.Criteria) (vars.Value, error) {
		all, err := e.elements.FindAll(e.ctx, c)
		if err != nil {
			return vars.Null, err
		}
		return vars.Int(int64(len(all))), nil
	},
	"element_visible": func(e *env, c element.Criteria) (vars.Value, error) {
		res, err := e.elements.Locate(e.ctx, c)
		if err != nil {
			return vars.Null, err
		}
		if res.Match == nil {
			return vars.Bool(false), nil
		}
		w, h, err := e.elements.ScreenSize(e.ctx)
		if err != nil {
			return vars.Null, err
		}
		el := res.Match.Element
		return vars.Bool(el.Visible && el.Bounds.Intersects(w, h)), nil
	},
}

// ElementFuncs returns the names of the element query functions.
func ElementFuncs() []string {
	return []string{"element_exists", "element_text", "element_count", "element_visible"}
}

func (e *env) elementCall(n *Call, name string, f elementFunc, args []vars.Value, kwargs map[string]vars.Value) (vars.Value, error) {
	c, err := criteriaFromArgs(args, kwargs)
	if err != nil {
		return vars.Null, e.errorf(n, "%s(): %v", name, err)
	}
	if e.elements == nil {
		return vars.Null, e.errorf(n, "%s(): no device connected", name)
	}
	v, err := f(e, c)
	if err != nil {
		var ee *core.ExecutionError
		if errors.As(err, &ee) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return vars.Null, err
		}
		return vars.Null, core.ErrCommandFailed.WithMessage(name + " failed").WithCause(err)
	}
	return v, nil
}

// criteriaFromArgs builds locator criteria from element function arguments.
// A single positional argument is the text. Matching is fuzzy unless
// fuzzy=False is given.
func criteriaFromArgs(args []vars.Value, kwargs map[string]vars.Value) (element.Criteria, error) {
	var c element.Criteria
	if len(args) > 1 {
		return c, fmt.Errorf("expected at most 1 positional argument, got %d", len(args))
	}
	fuzzy := true
	if v, ok := kwargs["fuzzy"]; ok {
		fuzzy = v.Truthy()
	}

	str := func(key string, v vars.Value) (string, error) {
		if s, ok := v.AsString(); ok {
			return s, nil
		}
		if v.IsNull() {
			return "", nil
		}
		return "", fmt.Errorf("%s must be a string, not %s", key, v.Kind())
	}

	if len(args) == 1 {
		s, err := str("text", args[0])
		if err != nil {
			return c, err
		}
		c.Text = element.Query{Value: s, Fuzzy: fuzzy}
	}
	for key, v := range kwargs {
		switch key {
		case "fuzzy":
		case "text", "id", "resource_id", "desc", "content_desc":
			s, err := str(key, v)
			if err != nil {
				return c, err
			}
			q := element.Query{Value: s, Fuzzy: fuzzy}
			switch key {
			case "text":
				if len(args) == 1 {
					return c, fmt.Errorf("text given both positionally and as a keyword")
				}
				c.Text = q
			case "id", "resource_id":
				c.ID = q
			default:
				c.Desc = q
			}
		case "xpath":
			s, err := str(key, v)
			if err != nil {
				return c, err
			}
			c.XPath = s
		case "min_confidence":
			_, f, _, ok := numeric(v)
			if !ok {
				return c, fmt.Errorf("min_confidence must be a number, not %s", v.Kind())
			}
			c.MinConfidence = &f
		default:
			return c, fmt.Errorf("unexpected keyword argument %q", key)
		}
	}
	if !c.HasText() && c.XPath == "" {
		return c, fmt.Errorf("one of text, id, desc or xpath is required")
	}
	return c, nil
}

package device

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/element"
	"github.com/devicelab-dev/ditto-runner/pkg/logger"
)

// dumpAttempts bounds hierarchy dumps per snapshot. uiautomator fails with
// "could not get idle state" while animations run.
const dumpAttempts = 3

var (
	xmlHeader    = []byte("<?xml")
	hierarchyTag = []byte("<hierarchy")
	hierarchyEnd = []byte("</hierarchy>")
)

// CurrentSnapshot dumps the UI hierarchy with uiautomator and parses it.
func (d *Android) CurrentSnapshot(ctx context.Context) (*element.Snapshot, error) {
	var data []byte
	attempt := 0

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.dumpRetryDelay), dumpAttempts-1),
		ctx)

	err := backoff.Retry(func() error {
		attempt++
		out, err := d.adb(ctx, "exec-out", "uiautomator", "dump", "/dev/tty")
		if err != nil {
			return err
		}
		xmlData, err := extractHierarchy(out)
		if err != nil {
			logger.Debug("hierarchy dump attempt %d on %s: %v", attempt, d.serial, err)
			return err
		}
		data = xmlData
		return nil
	}, b)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("hierarchy dump: %w", ctx.Err())
		}
		return nil, err
	}

	return element.ParseHierarchy(data)
}

// extractHierarchy cuts the XML document out of dump output, which carries
// a trailing "UI hierchary dumped to" line and sometimes leading warnings.
func extractHierarchy(out []byte) ([]byte, error) {
	start := bytes.Index(out, xmlHeader)
	if start < 0 {
		start = bytes.Index(out, hierarchyTag)
	}
	end := bytes.LastIndex(out, hierarchyEnd)
	if start < 0 || end < start {
		return nil, core.ErrCommandFailed.WithMessage(
			fmt.Sprintf("uiautomator dump: %s", bytes.TrimSpace(firstLine(out))))
	}
	return out[start : end+len(hierarchyEnd)], nil
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i]
	}
	return b
}

package element

import (
	"context"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
)

// DefaultPollInterval is the wait_for polling interval.
const DefaultPollInterval = 500 * time.Millisecond

// Provider answers element queries against a fresh snapshot per call.
type Provider struct {
	source       SnapshotSource
	locator      *Locator
	PollInterval time.Duration
}

// NewProvider creates a provider. A nil locator uses NewLocator().
func NewProvider(source SnapshotSource, locator *Locator) *Provider {
	if locator == nil {
		locator = NewLocator()
	}
	return &Provider{
		source:       source,
		locator:      locator,
		PollInterval: DefaultPollInterval,
	}
}

// Locator returns the scoring locator.
func (p *Provider) Locator() *Locator {
	return p.locator
}

// Snapshot fetches the current hierarchy.
func (p *Provider) Snapshot(ctx context.Context) (*Snapshot, error) {
	return p.source.CurrentSnapshot(ctx)
}

// ScreenSize returns the screen dimensions.
func (p *Provider) ScreenSize(ctx context.Context) (int, int, error) {
	return p.source.ScreenSize(ctx)
}

// Locate runs the fallback chain against the current snapshot. Errors come
// only from the snapshot source.
func (p *Provider) Locate(ctx context.Context, c Criteria) (Result, error) {
	snap, err := p.source.CurrentSnapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	return p.locator.Locate(snap, c), nil
}

// Find returns the best element match or an ElementNotFoundError. The
// coordinates fallback never counts as a match here.
func (p *Provider) Find(ctx context.Context, c Criteria) (*Match, error) {
	res, err := p.Locate(ctx, c)
	if err != nil {
		return nil, err
	}
	if res.Match == nil {
		return nil, notFound(c, res)
	}
	return res.Match, nil
}

// FindAll returns every match above threshold.
func (p *Provider) FindAll(ctx context.Context, c Criteria) ([]Match, error) {
	snap, err := p.source.CurrentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return p.locator.FindAll(snap, c), nil
}

// WaitFor polls until c matches or timeout elapses. Each poll fetches a new
// snapshot. Snapshot errors are retried until the deadline; the last one is
// returned if nothing matched. A poll cut short by ctx counts as not found.
func (p *Provider) WaitFor(ctx context.Context, c Criteria, timeout time.Duration) (Result, error) {
	interval := p.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)

	var last Result
	var lastErr error
	for {
		res, err := p.Locate(ctx, c)
		switch {
		case err == nil && res.Match != nil:
			return res, nil
		case err == nil:
			last, lastErr = res, nil
		case ctx.Err() != nil:
			// deadline hit mid-poll: report what the last complete poll saw
			return last, notFound(c, last)
		default:
			lastErr = err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if remaining < interval {
			interval = remaining
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if lastErr != nil {
				return last, lastErr
			}
			return last, notFound(c, last)
		case <-timer.C:
		}
	}
	if lastErr != nil {
		return last, lastErr
	}
	return last, notFound(c, last)
}

func notFound(c Criteria, res Result) error {
	return &core.ElementNotFoundError{
		Locator:        c.Describe(),
		BestConfidence: res.BestConfidence(),
		Threshold:      res.Threshold,
	}
}

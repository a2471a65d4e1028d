package element

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderFind(t *testing.T) {
	snap, err := ParseHierarchy([]byte(sampleDump))
	require.NoError(t, err)
	p := NewProvider(&staticSource{snaps: []*Snapshot{snap}}, nil)

	m, err := p.Find(context.Background(), Criteria{Text: Query{Value: "Login"}})
	require.NoError(t, err)
	assert.Equal(t, "com.example:id/login_button", m.Element.ResourceID)

	_, err = p.Find(context.Background(), Criteria{Text: Query{Value: "Logout"}, Point: &Point{X: 1, Y: 1}})
	var nf *core.ElementNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, DefaultMinConfidence, nf.Threshold)
}

func TestProviderFindAll(t *testing.T) {
	snap := NewSnapshot(
		textElement("Item 1", [4]int{0, 0, 10, 10}, true, true),
		textElement("Item 2", [4]int{0, 20, 10, 10}, true, true),
	)
	p := NewProvider(&staticSource{snaps: []*Snapshot{snap}}, nil)
	all, err := p.FindAll(context.Background(), Criteria{Text: Query{Value: "Item", Fuzzy: true}})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestProviderSourceError(t *testing.T) {
	boom := errors.New("dump failed")
	p := NewProvider(&staticSource{err: boom}, nil)
	_, err := p.Find(context.Background(), Criteria{Text: Query{Value: "x"}})
	assert.ErrorIs(t, err, boom)
}

func TestWaitForAppears(t *testing.T) {
	empty := NewSnapshot(textElement("Loading", [4]int{0, 0, 10, 10}, false, true))
	ready := NewSnapshot(textElement("Done", [4]int{0, 0, 10, 10}, true, true))
	src := &staticSource{snaps: []*Snapshot{empty, empty, ready}}

	p := NewProvider(src, nil)
	p.PollInterval = time.Millisecond

	res, err := p.WaitFor(context.Background(), Criteria{Text: Query{Value: "Done"}}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, res.Match)
	assert.Equal(t, "Done", res.Match.Element.Text)
	assert.Equal(t, 3, src.calls)
}

func TestWaitForTimeout(t *testing.T) {
	src := &staticSource{snaps: []*Snapshot{NewSnapshot(textElement("Loading", [4]int{0, 0, 10, 10}, false, true))}}
	p := NewProvider(src, nil)
	p.PollInterval = time.Millisecond

	_, err := p.WaitFor(context.Background(), Criteria{Text: Query{Value: "Done"}}, 20*time.Millisecond)
	var nf *core.ElementNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.GreaterOrEqual(t, src.calls, 2)
}

func TestWaitForContextCanceled(t *testing.T) {
	src := &staticSource{snaps: []*Snapshot{NewSnapshot()}}
	p := NewProvider(src, nil)
	p.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	_, err := p.WaitFor(ctx, Criteria{Text: Query{Value: "Done"}}, time.Minute)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

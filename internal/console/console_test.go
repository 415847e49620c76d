package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpilot/internal/pipeline"
)

type fakeTarget struct {
	control *pipeline.Control
	status  pipeline.Status
}

func (f *fakeTarget) Control() *pipeline.Control { return f.control }

func (f *fakeTarget) Status() pipeline.Status {
	st := f.status
	st.SellingPaused = f.control.Paused()
	return st
}

func newConsole() (*Console, *fakeTarget, *bytes.Buffer) {
	target := &fakeTarget{control: pipeline.NewControl(), status: pipeline.Status{Listener: "connected", Bought: 3}}
	out := &bytes.Buffer{}
	return New(target, out, nil), target, out
}

func TestPauseResumeTransitions(t *testing.T) {
	c, target, out := newConsole()

	c.Execute("sell")
	assert.True(t, target.control.Paused())
	c.Execute("PAUSE")
	assert.True(t, target.control.Paused())
	assert.Contains(t, out.String(), "already paused")

	c.Execute("  resume  ")
	assert.False(t, target.control.Paused())
	c.Execute("resume")
	assert.Contains(t, out.String(), "not paused")
}

func TestStatusHasNoSideEffects(t *testing.T) {
	c, target, out := newConsole()
	c.Execute("status")
	assert.False(t, target.control.Paused())
	assert.Contains(t, out.String(), "listener=connected selling=active")
	assert.Contains(t, out.String(), "bought=3")

	target.control.Pause()
	out.Reset()
	c.Execute("Status")
	assert.Contains(t, out.String(), "selling=paused")
}

func TestUnknownAndBlankLines(t *testing.T) {
	c, target, out := newConsole()
	c.Execute("")
	c.Execute("   ")
	assert.Empty(t, out.String())

	c.Execute("buy now")
	assert.Equal(t, "unrecognized command: buy\n", out.String())
	assert.False(t, target.control.Paused())
}

func TestExitInvokesHook(t *testing.T) {
	c, _, _ := newConsole()
	code := -1
	c.SetExit(func(c int) { code = c })
	c.Execute("exit")
	assert.Equal(t, 0, code)
}

func TestRunReadsUntilEOF(t *testing.T) {
	c, target, out := newConsole()
	in := strings.NewReader("status\nsell\n\nbogus\nresume\npause\n")

	require.NoError(t, c.Run(context.Background(), in))
	assert.True(t, target.control.Paused())
	assert.Contains(t, out.String(), "unrecognized command: bogus")
	assert.Contains(t, out.String(), "selling resumed")
}

func TestRunStopsOnCancel(t *testing.T) {
	c, _, _ := newConsole()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, w := io.Pipe()
	defer w.Close()
	assert.ErrorIs(t, c.Run(ctx, r), context.Canceled)
}

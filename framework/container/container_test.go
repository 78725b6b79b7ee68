package container

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/stocksync/framework/core"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

type fakeComponent struct {
	name     string
	journal  *journal
	startErr error
	stopErr  error
	running  bool
}

func (f *fakeComponent) Name() string             { return f.name }
func (f *fakeComponent) Type() core.ComponentType { return core.ComponentTypeAdapter }
func (f *fakeComponent) IsRunning() bool          { return f.running }

func (f *fakeComponent) Start(ctx context.Context) error {
	f.journal.add("start " + f.name)
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	f.journal.add("stop " + f.name)
	f.running = false
	return f.stopErr
}

func TestContainer_StartStopOrder(t *testing.T) {
	j := &journal{}
	c := NewContainer(nil, nil)
	require.NoError(t, c.Add(
		&fakeComponent{name: "postgres", journal: j},
		&fakeComponent{name: "broker", journal: j},
		&fakeComponent{name: "http", journal: j},
	))

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))

	assert.Equal(t, []string{
		"start postgres", "start broker", "start http",
		"stop http", "stop broker", "stop postgres",
	}, j.entries)
}

func TestContainer_StartFailureRollsBack(t *testing.T) {
	j := &journal{}
	c := NewContainer(nil, nil)
	require.NoError(t, c.Add(
		&fakeComponent{name: "postgres", journal: j},
		&fakeComponent{name: "broker", journal: j, startErr: errors.New("connection refused")},
		&fakeComponent{name: "http", journal: j},
	))

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start broker")

	assert.Equal(t, []string{"start postgres", "start broker", "stop postgres"}, j.entries)
}

func TestContainer_ShutdownCollectsErrors(t *testing.T) {
	j := &journal{}
	stopErr := errors.New("flush failed")
	c := NewContainer(&Config{}, nil)
	require.NoError(t, c.Add(
		&fakeComponent{name: "postgres", journal: j},
		&fakeComponent{name: "relay", journal: j, stopErr: stopErr},
	))

	require.NoError(t, c.Start(context.Background()))
	err := c.Shutdown(context.Background())

	assert.ErrorIs(t, err, stopErr)
	assert.Contains(t, j.entries, "stop postgres")
}

func TestContainer_DuplicateName(t *testing.T) {
	c := NewContainer(nil, nil)
	require.NoError(t, c.Add(&fakeComponent{name: "postgres", journal: &journal{}}))

	err := c.Add(&fakeComponent{name: "postgres", journal: &journal{}})
	assert.True(t, core.IsCode(err, core.ErrInvalidConfig))
	assert.Equal(t, []string{"postgres"}, c.Components())
}

func TestContainer_StartInPhases(t *testing.T) {
	j := &journal{}
	c := NewContainer(nil, nil)
	require.NoError(t, c.Add(&fakeComponent{name: "postgres", journal: j}))
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Add(&fakeComponent{name: "http", journal: j}))
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))

	assert.Equal(t, []string{"start postgres", "start http", "stop http", "stop postgres"}, j.entries)
}

func TestHook(t *testing.T) {
	j := &journal{}
	hook := NewHook("consumer", core.ComponentTypeWorker,
		func(ctx context.Context) error { j.add("subscribe"); return nil },
		func(ctx context.Context) error { j.add("unsubscribe"); return nil },
	)

	require.NoError(t, hook.Start(context.Background()))
	require.NoError(t, hook.Start(context.Background()))
	assert.True(t, hook.IsRunning())
	require.NoError(t, hook.Stop(context.Background()))
	require.NoError(t, hook.Stop(context.Background()))

	assert.Equal(t, []string{"subscribe", "unsubscribe"}, j.entries)
	assert.Equal(t, core.ComponentTypeWorker, hook.Type())

	failing := NewHook("migrations", core.ComponentTypeWorker, func(ctx context.Context) error { return errors.New("dirty") }, nil)
	assert.Error(t, failing.Start(context.Background()))
	assert.False(t, failing.IsRunning())
}

package lifecycle_test

import (
	"testing"

	evbus "github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newgrp/chronos/lifecycle"
)

func TestBusDeliversTransitions(t *testing.T) {
	b, err := lifecycle.NewBus(nil)
	require.NoError(t, err)
	defer b.Close()

	var focus, pause []bool
	b.SubscribeFocus(func(v bool) { focus = append(focus, v) })
	b.SubscribePause(func(v bool) { pause = append(pause, v) })

	b.SetFocus(false)
	b.SetPaused(true)
	b.SetPaused(false)
	b.SetFocus(true)

	assert.Equal(t, []bool{false, true}, focus)
	assert.Equal(t, []bool{true, false}, pause)
}

func TestBusSharedEventBus(t *testing.T) {
	shared := evbus.New()
	b, err := lifecycle.NewBus(shared)
	require.NoError(t, err)
	defer b.Close()

	var got []bool
	b.SubscribePause(func(v bool) { got = append(got, v) })

	// Hosts may publish on the topic directly.
	shared.Publish(lifecycle.TopicPause, true)
	assert.Equal(t, []bool{true}, got)
}

func TestBusUnsubscribeIsIdempotent(t *testing.T) {
	b, err := lifecycle.NewBus(nil)
	require.NoError(t, err)
	defer b.Close()

	calls := 0
	unsubscribe := b.SubscribeFocus(func(bool) { calls++ })
	b.SetFocus(true)
	unsubscribe()
	unsubscribe()
	b.SetFocus(true)

	assert.Equal(t, 1, calls)
}

func TestBusClose(t *testing.T) {
	shared := evbus.New()
	b, err := lifecycle.NewBus(shared)
	require.NoError(t, err)

	calls := 0
	b.SubscribeFocus(func(bool) { calls++ })
	b.Close()
	b.Close()

	shared.Publish(lifecycle.TopicFocus, false)
	assert.Equal(t, 0, calls)
	assert.False(t, shared.HasCallback(lifecycle.TopicFocus))
}

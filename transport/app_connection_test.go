package transport

import (
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConnectionDeliver(t *testing.T) {
	app := NewAppConnection()

	ch, err := app.register("a")
	require.NoError(t, err)
	assert.Equal(t, 1, app.Pending())

	assert.True(t, app.deliver("a", []byte("reply")))
	assert.Equal(t, 0, app.Pending())

	r := <-ch
	assert.NoError(t, r.err)
	assert.Equal(t, []byte("reply"), r.data)

	// Removed exactly once: a second response for the same id is unmatched.
	assert.False(t, app.deliver("a", []byte("again")))
}

func TestAppConnectionDuplicateID(t *testing.T) {
	app := NewAppConnection()

	_, err := app.register("a")
	require.NoError(t, err)

	_, err = app.register("a")
	assert.ErrorIs(t, err, errDuplicateID)
}

func TestAppConnectionForget(t *testing.T) {
	app := NewAppConnection()

	_, err := app.register("a")
	require.NoError(t, err)

	assert.True(t, app.forget("a"))
	assert.False(t, app.forget("a"))
	assert.False(t, app.deliver("a", nil))
}

func TestAppConnectionFailAll(t *testing.T) {
	app := NewAppConnection()
	closed := errors.New("closed")

	chA, err := app.register("a")
	require.NoError(t, err)
	chB, err := app.register("b")
	require.NoError(t, err)

	assert.Equal(t, 2, app.failAll(closed))
	assert.Equal(t, 0, app.Pending())

	assert.ErrorIs(t, (<-chA).err, closed)
	assert.ErrorIs(t, (<-chB).err, closed)

	_, err = app.register("c")
	assert.ErrorIs(t, err, closed)

	// Entries already failed cannot be delivered or forgotten again.
	assert.False(t, app.deliver("a", nil))
	assert.False(t, app.forget("b"))
}

func TestAppConnectionSignals(t *testing.T) {
	app := NewAppConnection()

	app.pushSignal([]byte{0x01})
	app.pushSignal([]byte("second"))

	assert.Equal(t, []string{
		base64.StdEncoding.EncodeToString([]byte{0x01}),
		base64.StdEncoding.EncodeToString([]byte("second")),
	}, app.PeekSignals())

	first := app.DrainSignals()
	assert.Len(t, first, 2)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("second")), first[1])

	second := app.DrainSignals()
	assert.NotNil(t, second)
	assert.Empty(t, second)
}

func TestAppConnectionConcurrentRegisterDeliver(t *testing.T) {
	app := NewAppConnection()
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	chans := make(map[string]<-chan result, len(ids))
	for _, id := range ids {
		ch, err := app.register(id)
		require.NoError(t, err)
		chans[id] = ch
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			app.deliver(id, []byte(id))
			app.pushSignal([]byte(id))
		}(id)
	}
	wg.Wait()

	for id, ch := range chans {
		assert.Equal(t, []byte(id), (<-ch).data)
	}
	assert.Len(t, app.DrainSignals(), len(ids))
}

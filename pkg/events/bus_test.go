package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	deliveries, cancel := bus.Subscribe("run:a", 16)
	defer cancel()

	bus.Publish("run:a", []byte(`{"n":1}`))
	bus.Publish("run:a", []byte(`{"n":2}`))
	bus.Publish("run:a", []byte(`{"n":3}`))

	for i := 1; i <= 3; i++ {
		d := <-deliveries
		assert.Equal(t, "run:a", d.Channel)
		assert.Equal(t, fmt.Sprintf(`{"n":%d}`, i), string(d.Payload))
	}
}

func TestBusChannelFilter(t *testing.T) {
	bus := NewBus()
	onlyA, cancelA := bus.Subscribe("run:a", 16)
	defer cancelA()
	all, cancelAll := bus.Subscribe("", 16)
	defer cancelAll()

	bus.Publish("run:a", []byte(`a`))
	bus.Publish("run:b", []byte(`b`))

	require.Len(t, onlyA, 1)
	d := <-onlyA
	assert.Equal(t, "a", string(d.Payload))

	require.Len(t, all, 2)
	assert.Equal(t, "run:a", (<-all).Channel)
	assert.Equal(t, "run:b", (<-all).Channel)
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	deliveries, cancel := bus.Subscribe("run:a", 1)
	defer cancel()

	bus.Publish("run:a", []byte(`1`))
	bus.Publish("run:a", []byte(`2`))
	bus.Publish("run:a", []byte(`3`))

	assert.Equal(t, int64(2), bus.Dropped())
	d := <-deliveries
	assert.Equal(t, "1", string(d.Payload))
	assert.Empty(t, deliveries)
}

func TestBusCatchupReturnsHistoryOldestFirst(t *testing.T) {
	bus := NewBus()

	bus.Publish("run:a", []byte(`1`))
	bus.Publish("run:a", []byte(`2`))
	bus.Publish("run:b", []byte(`x`))

	hist := bus.Catchup("run:a")
	require.Len(t, hist, 2)
	assert.Equal(t, "1", string(hist[0]))
	assert.Equal(t, "2", string(hist[1]))

	bus.Forget("run:a")
	assert.Empty(t, bus.Catchup("run:a"))
	assert.Len(t, bus.Catchup("run:b"), 1)
}

func TestBusHistoryBounded(t *testing.T) {
	bus := NewBus()
	for i := 0; i < historyLimit+50; i++ {
		bus.Publish("run:a", []byte(fmt.Sprintf("%d", i)))
	}

	hist := bus.Catchup("run:a")
	require.Len(t, hist, historyLimit)
	assert.Equal(t, "50", string(hist[0]))
	assert.Equal(t, fmt.Sprintf("%d", historyLimit+49), string(hist[len(hist)-1]))
}

func TestBusCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	deliveries, cancel := bus.Subscribe("run:a", 16)

	bus.Publish("run:a", []byte(`1`))
	cancel()
	bus.Publish("run:a", []byte(`2`))

	assert.Len(t, deliveries, 1)
}

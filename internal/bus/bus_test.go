package bus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToTopicSubscribers(t *testing.T) {
	b := NewBus(zerolog.Nop())

	var got []Event
	b.Subscribe(RunProgress, func(ev Event) { got = append(got, ev) })
	b.Subscribe(RunFinished, func(ev Event) { t.Error("wrong topic delivered") })

	b.Publish("run-1", &RunProgressData{Stage: "scoring", Current: 3, Total: 10})

	require.Len(t, got, 1)
	assert.Equal(t, RunProgress, got[0].Topic)
	assert.Equal(t, "run-1", got[0].RunID)
	assert.False(t, got[0].Timestamp.IsZero())

	data, ok := got[0].Data.(*RunProgressData)
	require.True(t, ok)
	assert.Equal(t, "scoring", data.Stage)
	assert.Equal(t, 3, data.Current)
}

func TestPublish_FansOutToEverySubscriber(t *testing.T) {
	b := NewBus(zerolog.Nop())

	first, second := 0, 0
	b.Subscribe(FieldScored, func(Event) { first++ })
	b.Subscribe(FieldScored, func(Event) { second++ })

	b.Publish("run-1", &FieldScoredData{Field: "rd5", ROCAUC: 0.7})
	b.Publish("run-1", &FieldScoredData{Field: "md5", ROCAUC: 0.6})

	assert.Equal(t, 2, first)
	assert.Equal(t, 2, second)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := NewBus(zerolog.Nop())

	calls := 0
	id := b.Subscribe(DecisionMade, func(Event) { calls++ })

	b.Publish("run-1", &DecisionData{})
	b.Unsubscribe(DecisionMade, id)
	b.Publish("run-1", &DecisionData{})

	assert.Equal(t, 1, calls)
}

func TestPublish_NoSubscribersIsHarmless(t *testing.T) {
	b := NewBus(zerolog.Nop())
	assert.NotPanics(t, func() {
		b.Publish("run-1", &VetoRaisedData{Vetoed: true})
	})
}

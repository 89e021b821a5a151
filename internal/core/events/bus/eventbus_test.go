package bus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testObserver struct {
	mu             sync.Mutex
	publishCount   int
	deliveredCount int
	lastErr        error
}

func (o *testObserver) OnPublish(_, _ string, _ Event) {
	o.mu.Lock()
	o.publishCount++
	o.mu.Unlock()
}

func (o *testObserver) OnDelivered(_, _ string, handlers int, err error, _ int64) {
	o.mu.Lock()
	o.deliveredCount += handlers
	o.lastErr = err
	o.mu.Unlock()
}

func TestBasicPublishSubscribe(t *testing.T) {
	b := New()
	var got any
	_, err := b.Subscribe("test.event", func(e Event) error {
		got = e.Data()
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, b.Publish(NewEvent("test.event", "tester", 123, nil)))
	assert.Equal(t, 123, got)
}

func TestNilHandlerRejected(t *testing.T) {
	_, err := New().Subscribe("x", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestDeliveryFollowsSubscriptionOrder(t *testing.T) {
	b := New()
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		_, _ = b.Subscribe("ev", func(Event) error { order = append(order, i); return nil })
	}
	require.NoError(t, b.Publish(NewEvent("ev", "src", nil, nil)))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestPublishAsyncReturnsErrorChannel(t *testing.T) {
	b := New()
	handlerErr := errors.New("fail")
	_, err := b.Subscribe("x", func(e Event) error { return handlerErr })
	require.NoError(t, err)

	select {
	case e := <-b.PublishAsync(NewEvent("x", "src", nil, nil)):
		assert.ErrorIs(t, e, handlerErr)
	case <-time.After(time.Second):
		t.Fatal("async publish did not complete")
	}
}

func TestHandlerErrorsAreJoined(t *testing.T) {
	b := New()
	e1, e2 := errors.New("one"), errors.New("two")
	_, _ = b.Subscribe("x", func(Event) error { return e1 })
	_, _ = b.Subscribe("x", func(Event) error { return e2 })

	err := b.Publish(NewEvent("x", "src", nil, nil))
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
}

func TestTopicsIsolation(t *testing.T) {
	b := New()
	count1, count2 := 0, 0
	_, _ = b.SubscribeTopic("t1", "ev", func(e Event) error { count1++; return nil })
	_, _ = b.SubscribeTopic("t2", "ev", func(e Event) error { count2++; return nil })
	_ = b.PublishToTopic("t1", NewEvent("ev", "src", nil, nil))
	assert.Equal(t, 1, count1)
	assert.Equal(t, 0, count2)
}

func TestCancelIsIdempotentAndStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	sub, err := b.SubscribeTopic("user-1", "snapshot", func(Event) error { calls++; return nil })
	require.NoError(t, err)
	assert.True(t, b.HasSubscribers("user-1", "snapshot"))

	require.NoError(t, sub.Cancel())
	require.NoError(t, sub.Cancel())
	require.NoError(t, b.Unsubscribe(sub))
	require.NoError(t, b.Unsubscribe(nil))

	_ = b.PublishToTopic("user-1", NewEvent("snapshot", "src", nil, nil))
	assert.Equal(t, 0, calls)
	assert.False(t, sub.IsActive())
	assert.False(t, b.HasSubscribers("user-1", "snapshot"))
	assert.Empty(t, b.GetTopics(), "empty topics are pruned")
}

func TestCancelFromInsideHandler(t *testing.T) {
	b := New()
	calls := 0
	var sub Subscription
	sub, _ = b.Subscribe("ev", func(Event) error {
		calls++
		return sub.Cancel()
	})
	_ = b.Publish(NewEvent("ev", "src", nil, nil))
	_ = b.Publish(NewEvent("ev", "src", nil, nil))
	assert.Equal(t, 1, calls)
}

func TestGetTopics(t *testing.T) {
	b := New()
	_, _ = b.SubscribeTopic("a", "x", func(Event) error { return nil })
	_, _ = b.SubscribeTopic("a", "y", func(Event) error { return nil })
	_, _ = b.SubscribeTopic("b", "x", func(Event) error { return nil })

	topics := b.GetTopics()
	require.Len(t, topics, 2)
	assert.Equal(t, TopicInfo{Name: "a", EventTypes: 2, Subs: 2}, topics[0])
	assert.Equal(t, TopicInfo{Name: "b", EventTypes: 1, Subs: 1}, topics[1])
}

func TestObserverMetricsOptional(t *testing.T) {
	b := New()
	_, _ = b.Subscribe("e", func(e Event) error { return nil })
	_ = b.Publish(NewEvent("e", "s", nil, nil))
	assert.Zero(t, b.GetMetrics().Published, "metrics stay zero without observers")

	obs := &testObserver{}
	b.AddObserver(obs)
	_ = b.Publish(NewEvent("e", "s", nil, nil))
	m := b.GetMetrics()
	assert.Equal(t, uint64(1), m.Published)
	assert.Equal(t, uint64(1), m.DeliveredHandlers)
	assert.Equal(t, uint64(1), m.SubscribersActive)
	assert.Equal(t, 1, obs.publishCount)
	assert.Equal(t, 1, obs.deliveredCount)

	b.RemoveObserver(obs)
	_ = b.Publish(NewEvent("e", "s", nil, nil))
	assert.Equal(t, 1, obs.publishCount)
}

func TestConcurrentSubscribePublish(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				sub, _ := b.SubscribeTopic("t", "ev", func(Event) error { return nil })
				_ = b.PublishToTopic("t", NewEvent("ev", "src", j, nil))
				_ = sub.Cancel()
			}
		}()
	}
	wg.Wait()
	assert.False(t, b.HasSubscribers("t", "ev"))
}

package event_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tuneclash/server/internal/event"
)

type namedEvent string

func (e namedEvent) Name() string { return string(e) }

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		subscription struct {
			id     string
			events []string
		}

		inputs struct {
			published     []event.Event
			subscriptions []subscription
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"subscriber only sees its own event": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						namedEvent("score.updated"),
						namedEvent("game.finished"),
					},
					subscriptions: []subscription{
						{id: "mirror", events: []string{"score.updated"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{namedEvent("score.updated")}, out.received["mirror"])
			},
		},

		"every publish reaches the subscriber": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						namedEvent("score.updated"),
						namedEvent("score.updated"),
						namedEvent("score.updated"),
					},
					subscriptions: []subscription{
						{id: "mirror", events: []string{"score.updated"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Len(t, out.received["mirror"], 3)
			},
		},

		"one event fans out to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						namedEvent("game.finished"),
					},
					subscriptions: []subscription{
						{id: "mirror", events: []string{"game.finished"}},
						{id: "janitor", events: []string{"game.finished"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{namedEvent("game.finished")}, out.received["mirror"])
				assert.ElementsMatch(t, []event.Event{namedEvent("game.finished")}, out.received["janitor"])
			},
		},

		"overlapping subscriptions route independently": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						namedEvent("score.updated"),
						namedEvent("game.finished"),
						namedEvent("score.updated"),
					},
					subscriptions: []subscription{
						{id: "mirror", events: []string{"score.updated", "game.finished"}},
						{id: "janitor", events: []string{"game.finished"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Len(t, out.received["mirror"], 3)
				assert.ElementsMatch(t, []event.Event{namedEvent("game.finished")}, out.received["janitor"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, sub := range in.subscriptions {
				sub := sub
				for _, name := range sub.events {
					b.Subscribe(name, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[sub.id] = append(out.received[sub.id], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_HandlerPanicDoesNotPoisonBus(t *testing.T) {
	b := event.NewBus()

	var delivered atomic.Int32
	b.Subscribe("score.updated", func(context.Context, event.Event) error {
		panic("handler bug")
	})
	b.Subscribe("score.updated", func(context.Context, event.Event) error {
		delivered.Add(1)
		return nil
	})

	b.Publish(context.Background(), namedEvent("score.updated"))
	b.Publish(context.Background(), namedEvent("score.updated"))
	b.Stop()

	assert.Equal(t, int32(2), delivered.Load())
}

func TestBus_WithPoolSizeBoundsConcurrency(t *testing.T) {
	b := event.NewBus(event.WithPoolSize(1), event.WithHandlerTimeout(time.Second))

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	b.Subscribe("score.updated", func(context.Context, event.Event) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(5 * time.Millisecond)
		return nil
	})

	for i := 0; i < 10; i++ {
		b.Publish(context.Background(), namedEvent("score.updated"))
	}
	b.Stop()

	assert.Equal(t, int32(1), peak.Load())
}

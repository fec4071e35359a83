package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/SJKodehode/tutorial-chat-app/internal/metrics"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
)

const eventBuffer = 256

// Channel is one change feed subscription. Events are delivered in the order
// the socket receives them.
type Channel struct {
	client *Client
	topic  string
	filter models.ChangeFilter

	// guarded by client.mu
	joinRef    string
	subscribed bool

	events    chan models.ChangeEvent
	joined    chan error
	closeOnce sync.Once
}

func newChannel(c *Client, filter models.ChangeFilter) *Channel {
	return &Channel{
		client: c,
		// two screens may watch the same filter; the suffix keeps topics apart
		topic:  topicPrefix + filter.Topic() + ":" + uuid.NewString()[:8],
		filter: filter,
		events: make(chan models.ChangeEvent, eventBuffer),
		joined: make(chan error, 1),
	}
}

func (ch *Channel) Topic() string { return ch.topic }

func (ch *Channel) Events() <-chan models.ChangeEvent { return ch.events }

// deliverJoin and deliver run with client.mu held.
func (ch *Channel) deliverJoin(err error) {
	if err == nil {
		ch.subscribed = true
	}
	select {
	case ch.joined <- err:
	default:
	}
}

func (ch *Channel) deliver(ev models.ChangeEvent) {
	if !ch.filter.Matches(ev) {
		return
	}
	select {
	case ch.events <- ev:
	default:
		ch.client.log.Warn("Realtime: subscriber on %s is not keeping up, dropping %s event", ch.topic, ev.Type)
	}
}

// Close leaves the channel and closes Events. Safe to call more than once.
func (ch *Channel) Close() error {
	ch.closeOnce.Do(func() {
		c := ch.client
		c.mu.Lock()
		wasSubscribed := ch.subscribed
		if c.channels[ch.topic] == ch {
			delete(c.channels, ch.topic)
		}
		c.mu.Unlock()

		if err := c.push(&Envelope{Topic: ch.topic, Event: eventLeave, Payload: []byte(`{}`), Ref: c.nextRef()}); err != nil {
			ch.client.log.Debug("Realtime: leave %s not sent: %v", ch.topic, err)
		}
		close(ch.events)
		if wasSubscribed {
			metrics.FeedSubscriptions.Dec()
		}
	})
	return nil
}

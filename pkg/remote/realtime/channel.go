package realtime

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

// channel is one joined topic on the socket
type channel struct {
	client  *Client
	name    string
	topic   remote.Topic
	handler remote.Handler

	mu        sync.Mutex
	joinRef   string
	joined    bool
	closed    bool
	rejoining bool
	once      sync.Once
}

var _ remote.Subscription = (*channel)(nil)

func (ch *channel) Topic() remote.Topic {
	return ch.topic
}

// Unsubscribe leaves the channel. Only the first call has any effect.
func (ch *channel) Unsubscribe() error {
	var err error
	ch.once.Do(func() {
		ch.mu.Lock()
		joined := ch.joined
		joinRef := ch.joinRef
		ch.closed = true
		ch.joined = false
		ch.mu.Unlock()

		ch.client.removeChannel(ch)
		if joined {
			err = ch.client.send(Message{
				Topic:   ch.name,
				Event:   EventLeave,
				Ref:     uuid.NewString(),
				JoinRef: joinRef,
			})
			if err == errNotConnected {
				err = nil
			}
		}
		ch.client.logger.Debug("Left channel", zap.String("channel", ch.name))
	})
	return err
}

// close marks the channel closed without talking to the server
func (ch *channel) close() {
	ch.once.Do(func() {
		ch.mu.Lock()
		ch.closed = true
		ch.joined = false
		ch.mu.Unlock()
		ch.handler.Notify(remote.StatusClosed, nil)
	})
}

func (ch *channel) deliver(ev remote.ChangeEvent) {
	if !ch.isJoined() {
		return
	}
	if ev.Table == "" {
		ev.Table = ch.topic.Table
	}
	if !ch.topic.Matches(ev) {
		return
	}
	ch.handler.Deliver(ev)
}

// drop reports StatusDropped if the channel was joined. It returns true when
// the caller should rejoin.
func (ch *channel) drop(err error) bool {
	ch.mu.Lock()
	if ch.closed || !ch.joined {
		ch.mu.Unlock()
		return false
	}
	ch.joined = false
	ch.mu.Unlock()

	ch.handler.Notify(remote.StatusDropped, err)
	return true
}

// markJoined returns true if the channel was not joined before
func (ch *channel) markJoined() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed || ch.joined {
		return false
	}
	ch.joined = true
	return true
}

func (ch *channel) beginRejoin() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed || ch.rejoining {
		return false
	}
	ch.rejoining = true
	return true
}

func (ch *channel) endRejoin() {
	ch.mu.Lock()
	ch.rejoining = false
	ch.mu.Unlock()
}

func (ch *channel) isJoined() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joined
}

func (ch *channel) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *channel) setJoinRef(ref string) {
	ch.mu.Lock()
	ch.joinRef = ref
	ch.mu.Unlock()
}

func (ch *channel) currentJoinRef() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joinRef
}

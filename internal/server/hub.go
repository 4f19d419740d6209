package server

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/sadopc/hookwait/internal/core/eventlog"
)

// allTests is the hub key for subscribers that follow every test.
const allTests = ""

var errSlowSubscriber = errors.New("subscriber is not keeping up")

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans stored log entries out to subscribers keyed by test id. It
// implements eventlog.Publisher.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan chan int
	quit      chan struct{}
	closeOnce sync.Once
	log       *zap.Logger
}

type message struct {
	testID  string
	payload []byte
}

type subscription struct {
	testID string
	client Subscriber
}

// NewHub creates a hub and starts its dispatch loop.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		count:     make(chan chan int),
		quit:      make(chan struct{}),
		log:       log.With(zap.String("component", "hub")),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.testID]; !ok {
				h.clients[sub.testID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.testID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			h.remove(sub.testID, sub.client)
		case msg := <-h.broadcast:
			h.deliver(msg.testID, msg.payload)
			if msg.testID != allTests {
				h.deliver(allTests, msg.payload)
			}
		case reply := <-h.count:
			n := 0
			for _, clients := range h.clients {
				n += len(clients)
			}
			reply <- n
		case <-h.quit:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = nil
			return
		}
	}
}

func (h *Hub) deliver(testID string, payload []byte) {
	for c := range h.clients[testID] {
		if err := c.Send(payload); err != nil {
			h.log.Debug("dropping subscriber", zap.String("test_id", testID), zap.Error(err))
			c.Close()
			h.remove(testID, c)
		}
	}
}

func (h *Hub) remove(testID string, c Subscriber) {
	if clients, ok := h.clients[testID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.clients, testID)
		}
	}
}

// Register adds a client to a test's stream. An empty testID follows every test.
func (h *Hub) Register(testID string, client Subscriber) {
	select {
	case h.register <- subscription{testID: testID, client: client}:
	case <-h.quit:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(testID string, client Subscriber) {
	select {
	case h.unreg <- subscription{testID: testID, client: client}:
	case <-h.quit:
	}
}

// Broadcast sends payload to the test's clients and to clients following
// every test.
func (h *Hub) Broadcast(testID string, payload []byte) {
	select {
	case h.broadcast <- message{testID: testID, payload: payload}:
	case <-h.quit:
	}
}

// Publish encodes e and broadcasts it.
func (h *Hub) Publish(e *eventlog.Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Warn("failed to encode log entry", zap.String("test_id", e.TestID), zap.Error(err))
		return
	}
	h.Broadcast(e.TestID, data)
}

// Subscribers returns the number of registered clients.
func (h *Hub) Subscribers() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.quit:
		return 0
	}
}

// Close stops the dispatch loop and closes every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
}

// channelSubscriber buffers messages for a writer goroutine. Send never
// blocks: a full buffer fails the send and the hub drops the subscriber.
type channelSubscriber struct {
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newChannelSubscriber(buffer int) *channelSubscriber {
	return &channelSubscriber{
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (s *channelSubscriber) Send(payload []byte) error {
	select {
	case <-s.done:
		return errSlowSubscriber
	default:
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return errSlowSubscriber
	}
}

func (s *channelSubscriber) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

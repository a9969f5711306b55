// Package events is the in-process pub/sub the UI stream listens on.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Emit after Complete.
var ErrClosed = errors.New("events: subject closed")

// HandlerFunc is the function called when an event is emitted.
type HandlerFunc func(context.Context, any) error

// SubjectOption configures a Subject
type SubjectOption func(*subjectConfig)

type subjectConfig struct {
	bufferSize  int
	replaySize  int
	emitTimeout time.Duration
	logger      *slog.Logger
}

// WithBufferSize sets the event channel buffer size
func WithBufferSize(size int) SubjectOption {
	return func(cfg *subjectConfig) { cfg.bufferSize = size }
}

// WithReplay keeps the last n events per topic for subscribers that ask
// for replay.
func WithReplay(n int) SubjectOption {
	return func(cfg *subjectConfig) { cfg.replaySize = n }
}

// WithLogger sets a structured logger for event system errors
func WithLogger(logger *slog.Logger) SubjectOption {
	return func(cfg *subjectConfig) { cfg.logger = logger }
}

type event struct {
	topic   string
	message any
}

// Subscription is a handler bound to one topic.
type Subscription struct {
	ID      string
	Topic   string
	handler HandlerFunc
	subject *Subject
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.subject != nil {
		s.subject.remove(s.Topic, s.ID)
	}
}

// Subject fans events out to topic subscribers from a single loop, so a
// subscriber sees its topic's events in emit order.
type Subject struct {
	config subjectConfig
	events chan event
	done   chan struct{}
	closed atomic.Bool
	nextID atomic.Int64
	wg     sync.WaitGroup

	mu     sync.RWMutex
	subs   map[string]map[string]Subscription
	replay map[string][]any
}

// NewSubject creates a new Subject with optional configuration.
func NewSubject(opts ...SubjectOption) *Subject {
	cfg := subjectConfig{
		bufferSize:  256,
		emitTimeout: 5 * time.Second,
		logger:      slog.Default().With("component", "events"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Subject{
		config: cfg,
		events: make(chan event, cfg.bufferSize),
		done:   make(chan struct{}),
		subs:   make(map[string]map[string]Subscription),
		replay: make(map[string][]any),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Emit emits an event to the given topic.
func Emit[T any](s *Subject, topic string, value T) error {
	if s.closed.Load() {
		return ErrClosed
	}
	t := time.NewTimer(s.config.emitTimeout)
	defer t.Stop()
	select {
	case s.events <- event{topic: topic, message: value}:
		return nil
	case <-s.done:
		return ErrClosed
	case <-t.C:
		return fmt.Errorf("emit %s: buffer full", topic)
	}
}

// Subscribe subscribes a typed handler to the given topic. With replay the
// handler first receives the topic's retained events.
func Subscribe[T any](s *Subject, topic string, handler func(context.Context, T) error, replay ...bool) Subscription {
	sub := Subscription{
		ID:    fmt.Sprintf("%s-%d", topic, s.nextID.Add(1)),
		Topic: topic,
		handler: func(ctx context.Context, v any) error {
			typed, ok := v.(T)
			if !ok {
				return fmt.Errorf("type assertion failed for %T, expected %T", v, *new(T))
			}
			return handler(ctx, typed)
		},
		subject: s,
	}

	s.mu.Lock()
	if s.subs[topic] == nil {
		s.subs[topic] = make(map[string]Subscription)
	}
	s.subs[topic][sub.ID] = sub
	var backlog []any
	if len(replay) > 0 && replay[0] {
		backlog = append(backlog, s.replay[topic]...)
	}
	s.mu.Unlock()

	for _, v := range backlog {
		s.deliver(sub, v)
	}
	return sub
}

// Complete stops the loop. Pending events are dropped. Idempotent.
func Complete(s *Subject) {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	s.wg.Wait()
}

func (s *Subject) remove(topic, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.subs[topic]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(s.subs, topic)
		}
	}
}

func (s *Subject) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case evt := <-s.events:
			s.mu.Lock()
			if n := s.config.replaySize; n > 0 {
				r := append(s.replay[evt.topic], evt.message)
				if len(r) > n {
					r = r[len(r)-n:]
				}
				s.replay[evt.topic] = r
			}
			subs := make([]Subscription, 0, len(s.subs[evt.topic]))
			for _, sub := range s.subs[evt.topic] {
				subs = append(subs, sub)
			}
			s.mu.Unlock()

			for _, sub := range subs {
				s.deliver(sub, evt.message)
			}
		}
	}
}

func (s *Subject) deliver(sub Subscription, v any) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sub.handler(ctx, v); err != nil {
		s.config.logger.Debug("event handler error", "topic", sub.Topic, "subscription_id", sub.ID, "error", err)
	}
}

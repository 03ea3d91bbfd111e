package events

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/grvsrs/codexbot/pkg/logger"
)

// Handler processes one event. A handler must not mutate the event and
// must tolerate being invoked concurrently with other handlers of the
// same event. Returned errors are logged by the bus and never propagate.
type Handler func(ctx context.Context, event Event) error

// defaultQueueSize bounds the publish queue. When full, the oldest
// queued event is dropped to keep Publish non-blocking.
const defaultQueueSize = 256

// Bus is the asynchronous typed publish/subscribe dispatcher.
//
// Publish enqueues and returns; a single dispatch goroutine pulls events
// in FIFO order and invokes all matching handlers concurrently, waiting
// for the full handler set of event N before pulling event N+1. Handler
// failures (errors and panics) are isolated per handler.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]Handler
	allHandlers []Handler
	queue       chan Event

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBus creates a bus with the default queue capacity.
func NewBus() *Bus {
	return NewBusWithQueueSize(defaultQueueSize)
}

// NewBusWithQueueSize creates a bus with an explicit queue capacity.
func NewBusWithQueueSize(size int) *Bus {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Bus{
		handlers: make(map[EventType][]Handler),
		queue:    make(chan Event, size),
	}
}

// Subscribe registers a handler for one event type. Duplicate
// registrations are legal and each fires independently.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()

	logger.DebugCF("bus", "Handler subscribed", map[string]interface{}{
		"event_type": string(eventType),
		"handler":    handlerName(handler),
	})
}

// SubscribeAll registers a handler that receives every event regardless
// of type.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	b.allHandlers = append(b.allHandlers, handler)
	b.mu.Unlock()
}

// Publish enqueues an event for asynchronous dispatch and returns once
// enqueued. When the queue is full the oldest queued event is dropped
// so that publishers are never blocked behind a slow pipeline.
func (b *Bus) Publish(event Event) {
	logger.InfoCF("bus", "Event published", map[string]interface{}{
		"event_type": string(event.EventType()),
		"event_id":   event.EventID(),
		"source":     event.Origin(),
	})

	select {
	case b.queue <- event:
		return
	default:
	}

	// Queue full — drop oldest and retry
	select {
	case dropped := <-b.queue:
		logger.WarnCF("bus", "Queue full, dropping oldest event", map[string]interface{}{
			"dropped_type": string(dropped.EventType()),
			"dropped_id":   dropped.EventID(),
		})
	default:
	}
	select {
	case b.queue <- event:
	default:
		// Another producer refilled the queue between the drop and
		// the retry; the new event is lost too.
		logger.WarnCF("bus", "Queue still full, dropping published event", map[string]interface{}{
			"event_type": string(event.EventType()),
			"event_id":   event.EventID(),
		})
	}
}

// Start begins the dispatch loop. Calling Start on a running bus is a
// no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})

	go b.processEvents(ctx, b.done)
	logger.InfoC("bus", "Event bus started")
}

// Stop signals the dispatch loop and returns after it has exited.
// Events still queued at stop time are dropped, not flushed. Idempotent.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	cancel()
	<-done
	logger.InfoC("bus", "Event bus stopped")
}

func (b *Bus) processEvents(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-b.queue:
			b.dispatch(ctx, event)
		}
	}
}

// dispatch invokes all matching handlers concurrently and waits for
// every one to finish before returning. A snapshot of the registry is
// taken up front so late subscriptions never race the handler set.
func (b *Bus) dispatch(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		logger.DebugCF("bus", "No handlers for event", map[string]interface{}{
			"event_type": string(event.EventType()),
		})
		return
	}

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := safeCall(ctx, h, event); err != nil {
				logger.ErrorCF("bus", "Event handler failed", map[string]interface{}{
					"event_type": string(event.EventType()),
					"event_id":   event.EventID(),
					"handler":    handlerName(h),
					"error":      err.Error(),
				})
			}
		}(handler)
	}
	wg.Wait()
}

// safeCall invokes a handler, converting panics into errors so a broken
// handler cannot take down the dispatch loop or its neighbors.
func safeCall(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

func handlerName(handler Handler) string {
	fn := runtime.FuncForPC(reflect.ValueOf(handler).Pointer())
	if fn == nil {
		return "unknown"
	}
	return fn.Name()
}

package realtime

import (
	"fmt"
	"sync"

	"chat-realtime/internal/models"
)

// Transport writes one event to one connection. Implementations report
// failures; they never panic a batch.
type Transport interface {
	Send(connID string, event models.Event) error
}

// DispatchFailure records one connection the transport could not reach.
type DispatchFailure struct {
	ConnID string
	UserID int
	Err    error
}

// DispatchReport is the outcome of one fanout batch.
type DispatchReport struct {
	Delivered []Connection
	Failures  []DispatchFailure
}

type dispatchJob struct {
	targets func() []Connection
	event   models.Event
	done    chan DispatchReport
}

// FanoutRouter resolves the live connection set for a scope and dispatches
// an event to each connection, best-effort. Each scope owns a single
// dispatch goroutine, so events for one room reach every target in the order
// the callers produced them; cross-scope ordering is not promised. A write
// failure is reported per connection and never aborts the rest of the batch;
// retrying is the transport's business, not the router's.
type FanoutRouter struct {
	registry  *ConnectionRegistry
	transport Transport

	mu     sync.Mutex
	queues map[string]chan dispatchJob
	closed bool
	wg     sync.WaitGroup
}

// NewFanoutRouter wires the router to a registry and a transport.
func NewFanoutRouter(registry *ConnectionRegistry, transport Transport) *FanoutRouter {
	return &FanoutRouter{
		registry:  registry,
		transport: transport,
		queues:    make(map[string]chan dispatchJob),
	}
}

// DispatchToRoom sends the event to every connection currently joined to the
// room and blocks until the batch completes.
func (f *FanoutRouter) DispatchToRoom(roomID int, event models.Event) DispatchReport {
	return f.dispatch(fmt.Sprintf("room:%d", roomID), event, func() []Connection {
		return f.registry.ConnectionsInRoom(roomID)
	})
}

// DispatchToUser sends the event to every connection of one user.
func (f *FanoutRouter) DispatchToUser(userID int, event models.Event) DispatchReport {
	return f.dispatch(fmt.Sprintf("user:%d", userID), event, func() []Connection {
		return f.registry.ConnectionsForUser(userID)
	})
}

func (f *FanoutRouter) dispatch(scope string, event models.Event, targets func() []Connection) DispatchReport {
	job := dispatchJob{targets: targets, event: event, done: make(chan DispatchReport, 1)}

	// The enqueue happens under the same lock Close takes before closing the
	// queues, so a racing Close can never turn this into a send on a closed
	// channel: either the job is queued before Close drains it, or the closed
	// flag is already set and the dispatch reports empty.
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return DispatchReport{}
	}
	queue, ok := f.queues[scope]
	if !ok {
		queue = make(chan dispatchJob, 64)
		f.queues[scope] = queue
		f.wg.Add(1)
		go f.drain(queue)
	}
	queue <- job
	f.mu.Unlock()

	return <-job.done
}

func (f *FanoutRouter) drain(queue chan dispatchJob) {
	defer f.wg.Done()
	for job := range queue {
		// Targets resolve at execution time so a connection unregistered
		// while the job was queued is simply reported failed or skipped.
		report := DispatchReport{}
		for _, conn := range job.targets() {
			if err := f.transport.Send(conn.ID, job.event); err != nil {
				report.Failures = append(report.Failures, DispatchFailure{ConnID: conn.ID, UserID: conn.UserID, Err: err})
				continue
			}
			report.Delivered = append(report.Delivered, conn)
		}
		job.done <- report
	}
}

// Close shuts down all dispatch goroutines. Dispatch calls after Close
// return an empty report.
func (f *FanoutRouter) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, queue := range f.queues {
		close(queue)
	}
	f.mu.Unlock()
	f.wg.Wait()
}

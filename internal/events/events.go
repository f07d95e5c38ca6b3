// Package events implements the asynchronous, in-process publish/subscribe
// bus every realm's services publish domain occurrences to. There is no
// direct teacher equivalent (the teacher has no event bus), so the
// concurrency shape is grounded in the teacher's background-worker style
// from cmd/worker and cmd/emailworker (a bounded goroutine pool draining a
// channel, logging and continuing past a single failed unit of work)
// adapted from a polling ticker loop to a fan-out dispatch loop.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kodex/internal/logging"
)

// Type identifies the kind of domain occurrence an Event carries. Wildcard
// subscribers receive every Type.
type Type string

const (
	TypeUserCreated            Type = "UserCreated"
	TypeUserUpdated            Type = "UserUpdated"
	TypeUserDeleted            Type = "UserDeleted"
	TypeLoginSucceeded         Type = "LoginSucceeded"
	TypeLoginFailed            Type = "LoginFailed"
	TypePasswordChanged        Type = "PasswordChanged"
	TypeTokenIssued            Type = "TokenIssued"
	TypeTokenRefreshed         Type = "TokenRefreshed"
	TypeTokenReplayDetected    Type = "TokenReplayDetected"
	TypeMfaEnrolled            Type = "MfaEnrolled"
	TypeMfaChallengeIssued     Type = "MfaChallengeIssued"
	TypeMfaVerified            Type = "MfaVerified"
	TypeDeviceTrusted          Type = "DeviceTrusted"
	TypeBackupCodesRegenerated Type = "BackupCodesRegenerated"
	TypeSessionRevoked         Type = "SessionRevoked"
	TypeMfaAdminForceRemoved   Type = "MfaAdminForceRemoved"
	TypeMfaAdminDisabled       Type = "MfaAdminDisabled"

	// typeWildcard is the pseudo-type a subscriber registers under to
	// receive every event, mirroring the spec's KodexEvent base class.
	typeWildcard Type = "*"
)

// Event is one domain occurrence published to the bus.
type Event struct {
	ID        uuid.UUID
	Type      Type
	Realm     string
	At        time.Time
	Payload   any
}

// Subscriber receives delivered events. Handle must not block
// indefinitely; the bus recovers panics and logs ordinary errors but does
// not enforce a timeout per subscriber.
type Subscriber struct {
	Name     string
	Priority int
	Handle   func(ctx context.Context, ev Event) error
}

type subscription struct {
	sub  Subscriber
	kind Type
}

// Bus delivers published events to subscribers asynchronously through a
// bounded worker pool: Publish enqueues and returns without waiting for
// delivery, and workers drain the queue in the background. The queue is
// bounded, so once slow subscribers let it fill, Publish blocks until a
// slot frees.
type Bus struct {
	queue  chan dispatch
	addSub chan subscription
	delSub chan string
}

type dispatch struct {
	ctx context.Context
	ev  Event
}

// resolved is a dispatch paired with the snapshot of subscribers it
// should be delivered to, computed once by run's single goroutine so the
// worker pool never touches the shared subs map itself.
type resolved struct {
	ctx  context.Context
	ev   Event
	subs []Subscriber
}

// New starts a Bus with workerCount background goroutines draining a
// queue of size queueSize. Call Close to stop accepting new events; events
// already queued still drain.
func New(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	b := &Bus{
		queue:  make(chan dispatch, queueSize),
		addSub: make(chan subscription),
		delSub: make(chan string),
	}

	go b.run(workerCount)
	return b
}

func (b *Bus) run(workerCount int) {
	subs := make(map[Type][]Subscriber)

	work := make(chan resolved, cap(b.queue))
	for i := 0; i < workerCount; i++ {
		go func() {
			for r := range work {
				b.deliver(r)
			}
		}()
	}

	for {
		select {
		case s := <-b.addSub:
			list := append([]Subscriber(nil), subs[s.kind]...)
			list = append(list, s.sub)
			sortSubsByPriority(list)
			subs[s.kind] = list
		case name := <-b.delSub:
			for kind, list := range subs {
				filtered := make([]Subscriber, 0, len(list))
				for _, s := range list {
					if s.Name != name {
						filtered = append(filtered, s)
					}
				}
				subs[kind] = filtered
			}
		case d, ok := <-b.queue:
			if !ok {
				close(work)
				return
			}
			// Resolve the delivery list here, on the single goroutine that
			// owns subs, and hand workers an immutable snapshot. Workers
			// never read subs directly: addSub/delSub can run concurrently
			// with delivery, and reading the same map from another
			// goroutine while this one mutates it is a data race.
			snapshot := make([]Subscriber, 0, len(subs[d.ev.Type])+len(subs[typeWildcard]))
			snapshot = append(snapshot, subs[d.ev.Type]...)
			snapshot = append(snapshot, subs[typeWildcard]...)
			work <- resolved{ctx: d.ctx, ev: d.ev, subs: snapshot}
		}
	}
}

func sortSubsByPriority(subs []Subscriber) {
	for i := 1; i < len(subs); i++ {
		for j := i; j > 0 && subs[j].Priority > subs[j-1].Priority; j-- {
			subs[j], subs[j-1] = subs[j-1], subs[j]
		}
	}
}

// deliver invokes every subscriber in r's pre-resolved snapshot, in
// decreasing priority order (kind-specific subscribers before wildcard
// ones). A subscriber panic or error is caught and logged; it never
// prevents delivery to the rest.
func (b *Bus) deliver(r resolved) {
	logger := logging.FromContext(r.ctx)

	for _, s := range r.subs {
		invokeSafely(r.ctx, s, r.ev, logger)
	}
}

func invokeSafely(ctx context.Context, s Subscriber, ev Event, logger interface {
	Error(msg string, args ...any)
}) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event subscriber panicked", "subscriber", s.Name, "event", ev.ID, "panic", r)
		}
	}()
	if err := s.Handle(ctx, ev); err != nil {
		logger.Error("event subscriber failed", "subscriber", s.Name, "event", ev.ID, "error", err)
	}
}

// Subscribe registers sub for kind. Pass "*" as kind via SubscribeAll to
// receive every event type.
func (b *Bus) Subscribe(kind Type, sub Subscriber) {
	b.addSub <- subscription{sub: sub, kind: kind}
}

// SubscribeAll registers sub to receive every published event regardless
// of type.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.addSub <- subscription{sub: sub, kind: typeWildcard}
}

// Unsubscribe removes every registration for the named subscriber. An
// in-flight delivery already dispatched to a worker may still complete.
func (b *Bus) Unsubscribe(name string) {
	b.delSub <- name
}

// Publish enqueues ev for asynchronous delivery and returns without waiting
// for subscribers; it blocks only while the queue is full.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.queue <- dispatch{ctx: ctx, ev: ev}
}

// Close stops accepting new events. Already-queued events still drain
// through the worker pool.
func (b *Bus) Close() {
	close(b.queue)
}

package bridge

import (
	"context"
	"log/slog"
)

// Events pushed to the host.
const (
	EventSurveyFinished            = "onSurveyFinished"
	EventUnreadMessageCountChanged = "onUnreadMessageCountChanged"
)

// Event is a listener callback waiting to be sent to the host.
type Event struct {
	Name    string
	Payload map[string]any
}

type slot uint8

const (
	slotSurvey slot = iota
	slotUnread
)

// listenerSlots holds the generation of the listener installed in each slot.
// A callback carrying an older generation belongs to a replaced listener.
type listenerSlots struct {
	survey uint64
	unread uint64
}

func (s *listenerSlots) next(which slot) uint64 {
	switch which {
	case slotSurvey:
		s.survey++
		return s.survey
	default:
		s.unread++
		return s.unread
	}
}

func (s *listenerSlots) current(which slot) uint64 {
	if which == slotSurvey {
		return s.survey
	}
	return s.unread
}

func (s *listenerSlots) invalidate() {
	s.survey++
	s.unread++
}

// registerListeners installs one survey listener and one unread count
// listener, replacing any earlier pair.
func (b *Bridge) registerListeners() {
	b.registerLock.Lock()
	defer b.registerLock.Unlock()

	b.mu.Lock()
	surveyGen := b.listeners.next(slotSurvey)
	unreadGen := b.listeners.next(slotUnread)
	b.mu.Unlock()

	b.sdk.SetSurveyFinishedListener(func(completed bool) {
		b.emit(slotSurvey, surveyGen, Event{
			Name:    EventSurveyFinished,
			Payload: map[string]any{"completed": completed},
		})
	})
	b.sdk.SetUnreadMessageCountListener(func(count int) {
		b.emit(slotUnread, unreadGen, Event{
			Name:    EventUnreadMessageCountChanged,
			Payload: map[string]any{"count": count},
		})
	})
}

// emit queues ev for the pump. It never blocks: events from replaced
// listeners, events after Detach and events that overflow the queue are
// dropped.
func (b *Bridge) emit(which slot, gen uint64, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.listeners.current(which) != gen {
		b.logger.Debug("dropping event from replaced listener", slog.String("event", ev.Name))
		return
	}
	if b.events == nil {
		b.logger.Debug("dropping event while detached", slog.String("event", ev.Name))
		return
	}

	select {
	case b.events <- ev:
	default:
		b.logger.Warn("event queue full, dropping event", slog.String("event", ev.Name))
	}
}

// pump sends queued events to the host until ctx is cancelled.
func (b *Bridge) pump(ctx context.Context, ch Channel, events <-chan Event, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := ch.SendEvent(ctx, ev.Name, ev.Payload); err != nil {
				b.logger.Warn("failed to send event", slog.String("event", ev.Name), slog.Any("error", err))
			}
		}
	}
}


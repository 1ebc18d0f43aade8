package core

import "sync"

// EventContext carries the data of a fired event.
type EventContext struct {
	// Path of the asset the event is about, if any.
	Path string
	// Message is a human readable payload, e.g. the error of a failed import.
	Message string
	// Data is event specific; import events carry the request.
	Data interface{}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// An import request reached the Completed state.
	/* Context usage:
	 * Path = source path, Data = *systems.ImportRequest
	 */
	EVENT_CODE_IMPORT_COMPLETED SystemEventCode = 0x01

	// An import request reached the Failed state.
	/* Context usage:
	 * Path = source path, Message = error text, Data = *systems.ImportRequest
	 */
	EVENT_CODE_IMPORT_FAILED SystemEventCode = 0x02

	// A thumbnail was (re)generated.
	/* Context usage:
	 * Path = resource path, Data = *systems.Thumbnail
	 */
	EVENT_CODE_THUMBNAIL_CHANGED SystemEventCode = 0x03

	// A file under the asset directory was created, written or removed.
	/* Context usage:
	 * Path = file path, Message = fsnotify operation
	 */
	EVENT_CODE_ASSET_CHANGED SystemEventCode = 0x04

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events to registered listeners. Each engine owns one;
// there is no process-wide event state.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]*registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]*registeredEvent),
	}
}

/**
 * Register to listen for when events are sent with the provided code. Events with duplicate
 * listeners will not be registered again and will cause this to return false.
 * @param code The event code to listen for.
 * @param listener A listener instance. Can be nil.
 * @param onEvent The callback to be invoked when the event code is fired.
 * @returns true if the event is successfully registered; otherwise false.
 */
func (eb *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if onEvent == nil {
		return false
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, e := range eb.registered[code] {
		if listener != nil && e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	eb.registered[code] = append(eb.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

/**
 * Unregister from listening for when events are sent with the provided code. If no matching
 * registration is found, this function returns false.
 */
func (eb *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	events := eb.registered[code]
	for i, e := range events {
		if e.listener == listener {
			eb.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * true, the event is considered handled and is not passed on to any more listeners.
 * @returns true if handled, otherwise false.
 */
func (eb *EventBus) Fire(code SystemEventCode, sender interface{}, context EventContext) bool {
	eb.mu.RLock()
	events := make([]*registeredEvent, len(eb.registered[code]))
	copy(events, eb.registered[code])
	eb.mu.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, e.listener, context) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}

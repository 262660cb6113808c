package baggage

import (
	"fmt"
	"log"
	"sync"

	"go.uber.org/atomic"
)

// Events are emitted on degraded paths as a reporting mechanism: a lost
// update race after the attempt budget, the dynamic field cap, or a failed
// restriction poll. They are handled by the handler passed to
// SetGlobalEventHandler. Events may be cast to specific event types in order
// to access additional information.
//
// NOTE: To ensure that events can be accurately identified, each event type
// contains a sentinel method matching the name of the type. This method is a
// no-op, it is only used for type coercion.
type Event interface {
	Event()
	String() string
}

// The ErrorEvent type can be used to filter events for errors. The `Err`
// method returns the underlying error.
type ErrorEvent interface {
	Event
	error
	Err() error
}

// EventUpdateAttemptsExhausted occurs when UpdateValue loses its
// compare-and-swap race on every attempt. The update was not applied.
type EventUpdateAttemptsExhausted interface {
	Event
	EventUpdateAttemptsExhausted()
	Field() *Field
	Attempts() int
}

type eventUpdateAttemptsExhausted struct {
	field    *Field
	attempts int
}

func newEventUpdateAttemptsExhausted(field *Field, attempts int) *eventUpdateAttemptsExhausted {
	return &eventUpdateAttemptsExhausted{field: field, attempts: attempts}
}

func (*eventUpdateAttemptsExhausted) Event()                        {}
func (*eventUpdateAttemptsExhausted) EventUpdateAttemptsExhausted() {}

func (e *eventUpdateAttemptsExhausted) Field() *Field {
	return e.field
}

func (e *eventUpdateAttemptsExhausted) Attempts() int {
	return e.attempts
}

func (e *eventUpdateAttemptsExhausted) String() string {
	return fmt.Sprintf("failed to update %s after %d attempts", e.field.Name(), e.attempts)
}

// EventDynamicFieldCapExceeded occurs when an update or merge would grow the
// state past the maximum dynamic field count. The overflowing fields were
// dropped.
type EventDynamicFieldCapExceeded interface {
	Event
	EventDynamicFieldCapExceeded()
	Cap() int
}

type eventDynamicFieldCapExceeded struct {
	max int
}

func newEventDynamicFieldCapExceeded(max int) *eventDynamicFieldCapExceeded {
	return &eventDynamicFieldCapExceeded{max: max}
}

func (*eventDynamicFieldCapExceeded) Event()                        {}
func (*eventDynamicFieldCapExceeded) EventDynamicFieldCapExceeded() {}

func (e *eventDynamicFieldCapExceeded) Cap() int {
	return e.max
}

func (e *eventDynamicFieldCapExceeded) String() string {
	return fmt.Sprintf("ignoring request to add > %d dynamic fields", e.max)
}

// EventRestrictionsFetchFailure occurs when the restriction manager fails to
// fetch restrictions from the agent. The previous restrictions stay active.
type EventRestrictionsFetchFailure interface {
	ErrorEvent
	EventRestrictionsFetchFailure()
}

type eventRestrictionsFetchFailure struct {
	err error
}

func newEventRestrictionsFetchFailure(err error) *eventRestrictionsFetchFailure {
	return &eventRestrictionsFetchFailure{err: err}
}

func (*eventRestrictionsFetchFailure) Event()                         {}
func (*eventRestrictionsFetchFailure) EventRestrictionsFetchFailure() {}

func (e *eventRestrictionsFetchFailure) String() string {
	return e.err.Error()
}

func (e *eventRestrictionsFetchFailure) Error() string {
	return e.err.Error()
}

func (e *eventRestrictionsFetchFailure) Err() error {
	return e.err
}

// EventHandler handles one emitted Event.
type EventHandler func(Event)

var globalEventHandler atomic.Value // of EventHandler

func init() {
	globalEventHandler.Store(NewOnEventLogOneError())
}

// SetGlobalEventHandler installs the handler that receives every emitted
// event. The default handler logs the first error event and stays silent
// afterwards.
func SetGlobalEventHandler(handler EventHandler) {
	if handler == nil {
		handler = func(Event) {}
	}
	globalEventHandler.Store(handler)
}

func emitEvent(event Event) {
	globalEventHandler.Load().(EventHandler)(event)
}

/*
	OnEvent Handlers
*/

// NewOnEventLogger logs events using the standard go logger
func NewOnEventLogger() EventHandler {
	return logOnEvent
}

func logOnEvent(event Event) {
	switch event := event.(type) {
	case ErrorEvent:
		log.Println("Baggage error: ", event)
	default:
		log.Println("Baggage event: ", event)
	}
}

// NewOnEventLogOneError only logs the first error
func NewOnEventLogOneError() EventHandler {
	logger := logOneError{}
	return logger.OnEvent
}

type logOneError struct {
	sync.Once
}

func (l *logOneError) OnEvent(event Event) {
	switch event := event.(type) {
	case ErrorEvent:
		l.Once.Do(func() {
			log.Printf("Baggage error: (%s).\n", event.Error())
		})
	}
}

// NewOnEventChannel returns an OnEvent callback handler, and a channel that
// produces the events. When the channel buffer is full, subsequent events
// will be dropped. A buffer size of less than one is incorrect, and will be
// adjusted to a buffer size of one.
func NewOnEventChannel(buffer int) (EventHandler, <-chan Event) {
	if buffer < 1 {
		buffer = 1
	}

	eventChan := make(chan Event, buffer)

	handler := func(event Event) {
		select {
		case eventChan <- event:
		default:
		}
	}

	return handler, eventChan
}

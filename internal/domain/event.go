package domain

import (
	"encoding/json"
	"fmt"
)

type EventName string

const (
	EventTaskCreated       EventName = "task-created"
	EventTaskVoted         EventName = "task-voted"
	EventTaskStatusChanged EventName = "task-status-changed"
	EventTaskDeleted       EventName = "task-deleted"

	// EventJoined acknowledges a join request once the viewer is in the room.
	// It is a control frame: it is not an Event and never reaches a board.
	EventJoined EventName = "joined"
)

// Event is a single state change pushed to the viewers of a stream.
// The set of implementations is closed: TaskCreated, TaskVoted,
// TaskStatusChanged and TaskDeleted.
type Event interface {
	Name() EventName
	// AffectedTaskID is the identifier of the task the event refers to.
	AffectedTaskID() string
	Validate() error
	isEvent()
}

type TaskCreated struct {
	Task Task
}

type TaskVoted struct {
	TaskID string `json:"taskId"`
	Votes  int64  `json:"votes"`
}

type TaskStatusChanged struct {
	TaskID string `json:"taskId"`
	Status Status `json:"status"`
}

type TaskDeleted struct {
	TaskID string `json:"task_id"`
}

func (TaskCreated) Name() EventName       { return EventTaskCreated }
func (TaskVoted) Name() EventName         { return EventTaskVoted }
func (TaskStatusChanged) Name() EventName { return EventTaskStatusChanged }
func (TaskDeleted) Name() EventName       { return EventTaskDeleted }

func (e TaskCreated) AffectedTaskID() string       { return e.Task.ID }
func (e TaskVoted) AffectedTaskID() string         { return e.TaskID }
func (e TaskStatusChanged) AffectedTaskID() string { return e.TaskID }
func (e TaskDeleted) AffectedTaskID() string       { return e.TaskID }

func (TaskCreated) isEvent()       {}
func (TaskVoted) isEvent()         {}
func (TaskStatusChanged) isEvent() {}
func (TaskDeleted) isEvent()       {}

func (e TaskCreated) Validate() error {
	switch {
	case e.Task.ID == "":
		return fmt.Errorf("%w: %s without task id", ErrInvalidEvent, e.Name())
	case e.Task.StreamID == "":
		return fmt.Errorf("%w: %s without stream id", ErrInvalidEvent, e.Name())
	case !e.Task.Status.Valid():
		return fmt.Errorf("%w: %s with status %q", ErrInvalidEvent, e.Name(), e.Task.Status)
	case e.Task.Votes < 0:
		return fmt.Errorf("%w: %s with negative votes", ErrInvalidEvent, e.Name())
	}
	return nil
}

func (e TaskVoted) Validate() error {
	if e.TaskID == "" {
		return fmt.Errorf("%w: %s without task id", ErrInvalidEvent, e.Name())
	}
	if e.Votes < 0 {
		return fmt.Errorf("%w: %s with negative votes", ErrInvalidEvent, e.Name())
	}
	return nil
}

func (e TaskStatusChanged) Validate() error {
	if e.TaskID == "" {
		return fmt.Errorf("%w: %s without task id", ErrInvalidEvent, e.Name())
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: %s with status %q", ErrInvalidEvent, e.Name(), e.Status)
	}
	return nil
}

func (e TaskDeleted) Validate() error {
	if e.TaskID == "" {
		return fmt.Errorf("%w: %s without task id", ErrInvalidEvent, e.Name())
	}
	return nil
}

// envelope is the wire form of an event: {"event": <name>, "data": <payload>}.
type envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeEvent validates e and returns its wire representation.
func EncodeEvent(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	var payload any = e
	if created, ok := e.(TaskCreated); ok {
		payload = created.Task
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Name(), err)
	}

	out, err := json.Marshal(envelope{Event: e.Name(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", e.Name(), err)
	}
	return out, nil
}

// DecodeEvent parses and validates a wire event.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %q without data", ErrInvalidEvent, env.Event)
	}

	var event Event
	switch env.Event {
	case EventTaskCreated:
		var task Task
		if err := json.Unmarshal(env.Data, &task); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		event = TaskCreated{Task: task}
	case EventTaskVoted:
		var e TaskVoted
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		event = e
	case EventTaskStatusChanged:
		var e TaskStatusChanged
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		event = e
	case EventTaskDeleted:
		var e TaskDeleted
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		event = e
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidEvent, env.Event)
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

type joinedPayload struct {
	Room string `json:"room"`
}

// EncodeJoined returns the acknowledgement frame for a join of streamID.
func EncodeJoined(streamID string) ([]byte, error) {
	if streamID == "" {
		return nil, fmt.Errorf("%w: %s without room", ErrInvalidEvent, EventJoined)
	}
	data, err := json.Marshal(joinedPayload{Room: streamID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", EventJoined, err)
	}
	return json.Marshal(envelope{Event: EventJoined, Data: data})
}

// JoinedRoom reports which room a joined frame acknowledges. ok is false for
// every other frame.
func JoinedRoom(raw []byte) (room string, ok bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event != EventJoined {
		return "", false
	}
	var p joinedPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.Room == "" {
		return "", false
	}
	return p.Room, true
}

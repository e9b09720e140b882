package domain

import (
	"encoding/json"
	"time"
)

// EventType names a change published to room subscribers.
type EventType string

const (
	EventPlayerJoined    EventType = "player.joined"
	EventPlayerLeft      EventType = "player.left"
	EventRoomStarted     EventType = "room.started"
	EventQuestionStarted EventType = "question.started"
	EventTick            EventType = "tick"
	EventAnswerRecorded  EventType = "answer.recorded"
	EventRoomFinished    EventType = "room.finished"
)

// Event is a room change notification. Version and QuestionIndex let clients drop
// events they have already applied, so redelivery is harmless.
type Event struct {
	Type          EventType       `json:"type"`
	RoomID        string          `json:"roomId"`
	Version       int             `json:"version"`
	QuestionIndex int             `json:"questionIndex"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	At            time.Time       `json:"at"`
}

// NewEvent stamps an event with the room's version and pointer.
func NewEvent(t EventType, room Room, payload any, at time.Time) Event {
	ev := Event{
		Type:          t,
		RoomID:        room.ID,
		Version:       room.Version,
		QuestionIndex: room.CurrentIndex,
		At:            at,
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// RoomTopic is the broker topic for a room.
func RoomTopic(roomID string) string {
	return "room:" + roomID
}

// QuestionStartedPayload is sent when the pointer moves to a new question.
type QuestionStartedPayload struct {
	Question         PublicQuestion `json:"question"`
	Position         int            `json:"position"`
	Total            int            `json:"total"`
	RemainingSeconds int            `json:"remainingSeconds"`
}

// TickPayload is sent once per second while a question is open.
type TickPayload struct {
	RemainingSeconds int `json:"remainingSeconds"`
}

// AnswerRecordedPayload tells the room how many players have answered.
type AnswerRecordedPayload struct {
	QuestionID string `json:"questionId"`
	Answered   int    `json:"answered"`
	Players    int    `json:"players"`
}

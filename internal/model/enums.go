package model

import (
	"encoding/json"
	"fmt"
)

type MessageStatus string

const (
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
)

var messageStatusRank = map[MessageStatus]int{
	MessageSending:   0,
	MessageSent:      1,
	MessageFailed:    1,
	MessageDelivered: 2,
}

// CanTransition reports whether a message may move from s to next.
// Statuses never move backward and failed is terminal.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	from, ok := messageStatusRank[s]
	if !ok {
		return false
	}
	to, ok := messageStatusRank[next]
	if !ok {
		return false
	}
	if s == MessageFailed {
		return next == MessageFailed
	}
	if next == MessageFailed {
		return s == MessageSending
	}
	return to >= from
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// TaskKind tags which task table a TaskRef points into.
type TaskKind string

const (
	PersonalTaskKind TaskKind = "personal"
	TeamTaskKind     TaskKind = "team"
)

// TaskRef is the parent link of a subtask: either a personal task or a team
// task. The zero value is invalid.
type TaskRef struct {
	kind TaskKind
	id   string
}

func PersonalRef(id string) TaskRef { return TaskRef{kind: PersonalTaskKind, id: id} }

func TeamRef(id string) TaskRef { return TaskRef{kind: TeamTaskKind, id: id} }

func ParseTaskRef(kind, id string) (TaskRef, error) {
	if id == "" {
		return TaskRef{}, fmt.Errorf("task ref: missing id")
	}
	switch TaskKind(kind) {
	case PersonalTaskKind:
		return PersonalRef(id), nil
	case TeamTaskKind:
		return TeamRef(id), nil
	}
	return TaskRef{}, fmt.Errorf("task ref: unknown kind %q", kind)
}

func (r TaskRef) Kind() TaskKind { return r.kind }

func (r TaskRef) ID() string { return r.id }

func (r TaskRef) IsPersonal() bool { return r.kind == PersonalTaskKind }

func (r TaskRef) IsTeam() bool { return r.kind == TeamTaskKind }

func (r TaskRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}{Type: string(r.kind), ID: r.id})
}

func (r *TaskRef) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ref, err := ParseTaskRef(raw.Type, raw.ID)
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

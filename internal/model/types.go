package model

import "time"

type Team struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	OwnerID     string     `json:"owner_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

type TeamMembership struct {
	TeamID    string     `json:"team_id"`
	UserID    string     `json:"user_id"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Key identifies a membership row in deletion lists.
func (m TeamMembership) Key() string {
	return MembershipKey(m.TeamID, m.UserID)
}

func MembershipKey(teamID, userID string) string {
	return teamID + ":" + userID
}

type ChatMessage struct {
	ID            string        `json:"id"`
	TeamID        string        `json:"team_id"`
	SenderID      string        `json:"sender_id"`
	Body          string        `json:"body"`
	AttachmentRef *string       `json:"attachment_ref,omitempty"`
	Status        MessageStatus `json:"status"`
	ClientTempID  string        `json:"client_temp_id"`
	ReplyToID     *string       `json:"reply_to_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     *time.Time    `json:"updated_at,omitempty"`
	DeletedAt     *time.Time    `json:"deleted_at,omitempty"`
}

// ChangedAt is the instant change detection orders messages by. Messages are
// append-only until edited, so created_at stands in for a missing updated_at.
func (m ChatMessage) ChangedAt() time.Time {
	if m.UpdatedAt != nil {
		return *m.UpdatedAt
	}
	return m.CreatedAt
}

type ReadReceipt struct {
	MessageID  string    `json:"message_id"`
	UserID     string    `json:"user_id"`
	TeamID     string    `json:"team_id"`
	ReadAt     time.Time `json:"read_at"`
	// server time the receipt was stored; change detection keys on this,
	// never on the client's ReadAt
	RecordedAt time.Time `json:"recorded_at"`
}

func (r ReadReceipt) Key() string {
	return r.MessageID + ":" + r.UserID
}

type PersonalTask struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

type TeamTask struct {
	ID          string     `json:"id"`
	TeamID      string     `json:"team_id"`
	CreatorID   string     `json:"creator_id"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

type Subtask struct {
	ID          string     `json:"id"`
	Parent      TaskRef    `json:"parent"`
	Title       string     `json:"title"`
	IsCompleted bool       `json:"is_completed"`
	Position    int        `json:"position"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Data      string     `json:"data,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type SyncCursor struct {
	UserID       string    `json:"user_id"`
	DeviceID     string    `json:"device_id"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

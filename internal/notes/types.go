package notes

import "time"

// Note is a single user note. ReminderDate and ReminderTime are kept as the
// strings the user entered ("2006-01-02" and "15:04"); they are validated
// when a calendar reminder is created, not on save.
type Note struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	ReminderDate string    `json:"reminderDate,omitempty"`
	ReminderTime string    `json:"reminderTime,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasReminder reports whether both reminder fields are set.
func (n Note) HasReminder() bool {
	return n.ReminderDate != "" && n.ReminderTime != ""
}

package mailing

import "time"

// Status is the lifecycle state of a mailing.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusDisabled  Status = "disabled"
)

// Log row statuses, one per recipient per run.
const (
	LogSent   = "SENT"
	LogError  = "ERROR"
	LogDryRun = "DRY_RUN"
)

// Attempt statuses, one per engine run.
const (
	AttemptSuccess = "SUCCESS"
	AttemptFail    = "FAIL"
)

// TriggeredByScheduler marks runs not initiated by a user.
const TriggeredByScheduler = "scheduler"

type Recipient struct {
	ID         int64     `db:"id" json:"id"`
	OwnerEmail string    `db:"owner_email" json:"owner_email"`
	Email      string    `db:"email" json:"email"`
	Name       string    `db:"name" json:"name"`
	Comment    string    `db:"comment" json:"comment,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

type Message struct {
	ID         int64     `db:"id" json:"id"`
	OwnerEmail string    `db:"owner_email" json:"owner_email"`
	Subject    string    `db:"subject" json:"subject"`
	Body       string    `db:"body" json:"body"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Mailing is a scheduled batch send of one message to a recipient set.
// Subject and Body are joined from the referenced message on read paths.
type Mailing struct {
	ID         int64      `db:"id" json:"id"`
	OwnerEmail string     `db:"owner_email" json:"owner_email"`
	MessageID  int64      `db:"message_id" json:"message_id"`
	Status     Status     `db:"status" json:"status"`
	StartAt    time.Time  `db:"start_at" json:"start_at"`
	EndAt      *time.Time `db:"end_at" json:"end_at,omitempty"`
	LastSentAt *time.Time `db:"last_sent_at" json:"last_sent_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`

	Subject string `db:"subject" json:"subject"`
	Body    string `db:"body" json:"body"`
}

// Due reports whether the mailing's window is open at now.
// Completed and disabled mailings are never due.
func (m *Mailing) Due(now time.Time) bool {
	if m.Status != StatusCreated && m.Status != StatusRunning {
		return false
	}
	if m.StartAt.After(now) {
		return false
	}
	if m.EndAt != nil && m.EndAt.Before(now) {
		return false
	}
	return true
}

// Log is one append-only delivery record. The recipient email is captured
// as a string snapshot so history survives recipient deletion.
type Log struct {
	ID          int64     `db:"id" json:"id"`
	MailingID   int64     `db:"mailing_id" json:"mailing_id"`
	Recipient   string    `db:"recipient_email" json:"recipient_email"`
	Status      string    `db:"status" json:"status"`
	Detail      string    `db:"detail" json:"detail,omitempty"`
	TriggeredBy string    `db:"triggered_by" json:"triggered_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Attempt is one append-only run record.
type Attempt struct {
	ID             int64     `db:"id" json:"id"`
	MailingID      int64     `db:"mailing_id" json:"mailing_id"`
	Status         string    `db:"status" json:"status"`
	ServerResponse string    `db:"server_response" json:"server_response"`
	TriggeredBy    string    `db:"triggered_by" json:"triggered_by"`
	AttemptedAt    time.Time `db:"attempted_at" json:"attempted_at"`
}

// Stats aggregates delivery log rows for one mailing.
type Stats struct {
	MailingID      int64 `db:"mailing_id" json:"mailing_id"`
	Sent           int   `db:"sent" json:"sent"`
	Errored        int   `db:"errored" json:"errored"`
	DryRun         int   `db:"dry_run" json:"dry_run"`
	Total          int   `db:"total" json:"total"`
	AttemptSuccess int   `db:"attempt_success" json:"attempt_success"`
	AttemptFail    int   `db:"attempt_fail" json:"attempt_fail"`
}

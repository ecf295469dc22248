package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

// VerificationRecord is one identity-proof submission attempt. Records
// are immutable once a moderator decision has been recorded.
type VerificationRecord struct {
	ID             uuid.UUID
	UserID         string
	Username       string
	FileURL        string
	FileName       string
	FileType       string
	Status         string
	SubmittedAt    time.Time
	ReviewedAt     *time.Time
	ReviewedBy     *string
	Reason         *string
	QueueMessageID *string
}

// BatchRecord is the one-time cohort classification of a user. At most
// one exists per user; it is never mutated or deleted.
type BatchRecord struct {
	UserID             string
	FullName           string
	URN                string
	AdmissionYear      int
	AcademicYearNumber int
	AssignedRole       string
	SubmittedAt        time.Time
}

const (
	SessionAwaitName = "await_name"
	SessionAwaitURN  = "await_urn"
)

// BatchSession is the in-flight state of one interactive classification
// run, keyed by (user, channel). Nothing durable exists until the run
// completes.
type BatchSession struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	State     string `json:"state"`
	FullName  string `json:"full_name,omitempty"`
	ExpiresAt int64  `json:"expires_at"`
}

// Role is a named role in the external directory.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

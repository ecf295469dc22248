package operations

import (
	"context"
	"time"

	"github.com/google/uuid"

	"nst/gatekeeper/internal/model"
)

// Records is the durable store for verification and batch records.
// Implemented by db.Store; substituted in tests.
type Records interface {
	InsertVerification(ctx context.Context, rec model.VerificationRecord) error
	PendingVerification(ctx context.Context, userID string) (model.VerificationRecord, bool, error)
	SetQueueMessageID(ctx context.Context, recordID uuid.UUID, messageID string) error
	DecideVerification(ctx context.Context, userID, status, reviewedBy string, reason *string, reviewedAt time.Time) (model.VerificationRecord, bool, error)
	ListPendingVerifications(ctx context.Context) ([]model.VerificationRecord, error)
	InsertBatch(ctx context.Context, rec model.BatchRecord) error
	BatchRecord(ctx context.Context, userID string) (model.BatchRecord, bool, error)
}

// Directory is the external role directory. Role grants and revokes
// are independent calls with no transaction across them.
type Directory interface {
	ResolveRole(ctx context.Context, name string) (model.Role, bool, error)
	MemberRoles(ctx context.Context, userID string) ([]model.Role, error)
	Grant(ctx context.Context, userID, roleID string) error
	Revoke(ctx context.Context, userID, roleID string) error
}

// QueueMessage is the summary posted to the moderation channel.
type QueueMessage struct {
	Title    string
	UserID   string
	Username string
	RecordID string
	FileName string
	FileURL  string
}

// Notifier posts to the moderation channel and sends direct notices.
// Direct notice failures are the caller's to swallow.
type Notifier interface {
	ResolveChannel(ctx context.Context, name string) (string, bool, error)
	PostMessage(ctx context.Context, channelID string, msg QueueMessage) (string, error)
	DirectMessage(ctx context.Context, userID, text string) error
}

// Sessions holds in-flight classification sessions.
type Sessions interface {
	Get(ctx context.Context, userID, channelID string) (model.BatchSession, bool, error)
	Put(ctx context.Context, sess model.BatchSession) error
	Delete(ctx context.Context, userID, channelID string) error
}

func hasRole(roles []model.Role, name string) bool {
	for _, role := range roles {
		if role.Name == name {
			return true
		}
	}
	return false
}

func findRole(roles []model.Role, name string) (model.Role, bool) {
	for _, role := range roles {
		if role.Name == name {
			return role, true
		}
	}
	return model.Role{}, false
}

package operations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"nst/gatekeeper/internal/db"
	"nst/gatekeeper/internal/model"
)

// In-memory stand-ins for the store and the collaborators, mirroring
// their contracts: one pending verification per user, one batch record
// per user, independent grant/revoke calls.

type fakeRecords struct {
	verifications []model.VerificationRecord
	batches       map[string]model.BatchRecord
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{batches: make(map[string]model.BatchRecord)}
}

func (f *fakeRecords) InsertVerification(_ context.Context, rec model.VerificationRecord) error {
	for _, existing := range f.verifications {
		if existing.UserID == rec.UserID && existing.Status == model.VerificationPending {
			return db.ErrDuplicate
		}
	}
	f.verifications = append(f.verifications, rec)
	return nil
}

func (f *fakeRecords) PendingVerification(_ context.Context, userID string) (model.VerificationRecord, bool, error) {
	for _, rec := range f.verifications {
		if rec.UserID == userID && rec.Status == model.VerificationPending {
			return rec, true, nil
		}
	}
	return model.VerificationRecord{}, false, nil
}

func (f *fakeRecords) SetQueueMessageID(_ context.Context, recordID uuid.UUID, messageID string) error {
	for i := range f.verifications {
		if f.verifications[i].ID == recordID {
			f.verifications[i].QueueMessageID = &messageID
			return nil
		}
	}
	return errors.New("record not found")
}

func (f *fakeRecords) DecideVerification(_ context.Context, userID, status, reviewedBy string, reason *string, reviewedAt time.Time) (model.VerificationRecord, bool, error) {
	for i := range f.verifications {
		if f.verifications[i].UserID == userID && f.verifications[i].Status == model.VerificationPending {
			f.verifications[i].Status = status
			f.verifications[i].ReviewedAt = &reviewedAt
			f.verifications[i].ReviewedBy = &reviewedBy
			f.verifications[i].Reason = reason
			return f.verifications[i], true, nil
		}
	}
	return model.VerificationRecord{}, false, nil
}

func (f *fakeRecords) ListPendingVerifications(_ context.Context) ([]model.VerificationRecord, error) {
	var pending []model.VerificationRecord
	for _, rec := range f.verifications {
		if rec.Status == model.VerificationPending {
			pending = append(pending, rec)
		}
	}
	return pending, nil
}

func (f *fakeRecords) InsertBatch(_ context.Context, rec model.BatchRecord) error {
	if _, exists := f.batches[rec.UserID]; exists {
		return db.ErrDuplicate
	}
	f.batches[rec.UserID] = rec
	return nil
}

func (f *fakeRecords) BatchRecord(_ context.Context, userID string) (model.BatchRecord, bool, error) {
	rec, ok := f.batches[userID]
	return rec, ok, nil
}

type fakeDirectory struct {
	roles   map[string]model.Role
	members map[string][]model.Role
}

func newFakeDirectory(roleNames ...string) *fakeDirectory {
	d := &fakeDirectory{
		roles:   make(map[string]model.Role),
		members: make(map[string][]model.Role),
	}
	for _, name := range roleNames {
		d.roles[name] = model.Role{ID: "role-" + name, Name: name}
	}
	return d
}

func (d *fakeDirectory) addMemberRole(userID, roleName string) {
	d.members[userID] = append(d.members[userID], d.roles[roleName])
}

func (d *fakeDirectory) memberHolds(userID, roleName string) bool {
	for _, role := range d.members[userID] {
		if role.Name == roleName {
			return true
		}
	}
	return false
}

func (d *fakeDirectory) ResolveRole(_ context.Context, name string) (model.Role, bool, error) {
	role, ok := d.roles[name]
	return role, ok, nil
}

func (d *fakeDirectory) MemberRoles(_ context.Context, userID string) ([]model.Role, error) {
	return d.members[userID], nil
}

func (d *fakeDirectory) Grant(_ context.Context, userID, roleID string) error {
	for _, role := range d.roles {
		if role.ID == roleID {
			d.members[userID] = append(d.members[userID], role)
			return nil
		}
	}
	return errors.New("role not found")
}

func (d *fakeDirectory) Revoke(_ context.Context, userID, roleID string) error {
	roles := d.members[userID]
	for i, role := range roles {
		if role.ID == roleID {
			d.members[userID] = append(roles[:i], roles[i+1:]...)
			return nil
		}
	}
	return errors.New("role not held")
}

type fakeNotifier struct {
	channels map[string]string
	posted   []QueueMessage
	notices  map[string][]string
	failDM   bool
}

func newFakeNotifier(channels ...string) *fakeNotifier {
	n := &fakeNotifier{
		channels: make(map[string]string),
		notices:  make(map[string][]string),
	}
	for _, name := range channels {
		n.channels[name] = "chan-" + name
	}
	return n
}

func (n *fakeNotifier) ResolveChannel(_ context.Context, name string) (string, bool, error) {
	id, ok := n.channels[name]
	return id, ok, nil
}

func (n *fakeNotifier) PostMessage(_ context.Context, _ string, msg QueueMessage) (string, error) {
	n.posted = append(n.posted, msg)
	return uuid.NewString(), nil
}

func (n *fakeNotifier) DirectMessage(_ context.Context, userID, text string) error {
	if n.failDM {
		return errors.New("dms closed")
	}
	n.notices[userID] = append(n.notices[userID], text)
	return nil
}

type fakeSessions struct {
	sessions map[string]model.BatchSession
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]model.BatchSession)}
}

func (s *fakeSessions) key(userID, channelID string) string {
	return userID + ":" + channelID
}

func (s *fakeSessions) Get(_ context.Context, userID, channelID string) (model.BatchSession, bool, error) {
	sess, ok := s.sessions[s.key(userID, channelID)]
	return sess, ok, nil
}

func (s *fakeSessions) Put(_ context.Context, sess model.BatchSession) error {
	s.sessions[s.key(sess.UserID, sess.ChannelID)] = sess
	return nil
}

func (s *fakeSessions) Delete(_ context.Context, userID, channelID string) error {
	delete(s.sessions, s.key(userID, channelID))
	return nil
}

package operations

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"nst/gatekeeper/internal/db"
	"nst/gatekeeper/internal/model"
)

// cohortRoles maps the academic year number to the cohort role name.
var cohortRoles = map[int]string{
	1: "Freshers",
	2: "2nd Year",
	3: "3rd Year",
	4: "4th Year",
}

// Batch runs the one-time interactive cohort classification. The flow
// is an externally-addressable state machine keyed by (user, channel):
// each inbound reply is matched against the stored session instead of
// a blocking wait, so a suspended flow never holds the process.
type Batch struct {
	records   Records
	directory Directory
	notifier  Notifier
	sessions  Sessions
	roles     RoleNames
	timeout   time.Duration
	now       func() time.Time
}

func NewBatch(records Records, directory Directory, notifier Notifier, sessions Sessions, roles RoleNames, replyTimeout time.Duration) *Batch {
	return &Batch{
		records:   records,
		directory: directory,
		notifier:  notifier,
		sessions:  sessions,
		roles:     roles,
		timeout:   replyTimeout,
		now:       time.Now,
	}
}

type BatchResult struct {
	State   string
	Message string
	Record  *model.BatchRecord
}

// Begin starts a classification run. A user with an existing batch
// record is refused with the locked message; a stale session from an
// earlier attempt is simply overwritten.
func (b *Batch) Begin(ctx context.Context, userID, channelID string) (BatchResult, error) {
	roles, err := b.directory.MemberRoles(ctx, userID)
	if err != nil {
		return BatchResult{}, fail(ErrServerError, "Could not check your roles. Try again later.")
	}
	if !hasRole(roles, b.roles.Confirmed) {
		return BatchResult{}, fail(ErrPermissionDenied, "Only confirmed members can run classification. Verify first.")
	}

	if rec, found, err := b.records.BatchRecord(ctx, userID); err != nil {
		return BatchResult{}, fail(ErrServerError, "Could not check your classification. Try again later.")
	} else if found {
		return BatchResult{}, fail(ErrClassificationLocked, lockedMessage(rec.AssignedRole))
	}

	sess := model.BatchSession{
		UserID:    userID,
		ChannelID: channelID,
		State:     model.SessionAwaitName,
		ExpiresAt: b.now().Add(b.timeout).Unix(),
	}
	if err := b.sessions.Put(ctx, sess); err != nil {
		return BatchResult{}, fail(ErrServerError, "Could not start classification. Try again later.")
	}
	return BatchResult{
		State:   model.SessionAwaitName,
		Message: fmt.Sprintf("What is your full name? Reply within %d seconds.", int(b.timeout.Seconds())),
	}, nil
}

// Reply advances the session with the user's next message.
func (b *Batch) Reply(ctx context.Context, userID, channelID, text string) (BatchResult, error) {
	sess, found, err := b.sessions.Get(ctx, userID, channelID)
	if err != nil {
		return BatchResult{}, fail(ErrServerError, "Could not load your classification session. Try again later.")
	}
	if !found {
		return BatchResult{}, fail(ErrNoActiveSession, "No classification in progress here. Run the command to start one.")
	}
	if b.now().Unix() > sess.ExpiresAt {
		b.dropSession(ctx, sess)
		return BatchResult{}, fail(ErrTimeout, "Classification timed out. Run the command again to restart.")
	}

	switch sess.State {
	case model.SessionAwaitName:
		sess.FullName = strings.TrimSpace(text)
		sess.State = model.SessionAwaitURN
		sess.ExpiresAt = b.now().Add(b.timeout).Unix()
		if err := b.sessions.Put(ctx, sess); err != nil {
			return BatchResult{}, fail(ErrServerError, "Could not save your reply. Try again later.")
		}
		return BatchResult{
			State:   model.SessionAwaitURN,
			Message: fmt.Sprintf("Enter your URN. Reply within %d seconds.", int(b.timeout.Seconds())),
		}, nil
	case model.SessionAwaitURN:
		return b.complete(ctx, sess, text)
	default:
		b.dropSession(ctx, sess)
		return BatchResult{}, fail(ErrServerError, "Your session was in an unknown state and has been reset.")
	}
}

func (b *Batch) complete(ctx context.Context, sess model.BatchSession, text string) (BatchResult, error) {
	urn := strings.ToUpper(strings.TrimSpace(text))
	admissionYear, ok := parseURN(urn)
	if !ok {
		b.dropSession(ctx, sess)
		return BatchResult{}, fail(ErrValidationError, "URN must be at least 6 characters and start with a 4-digit admission year.")
	}

	now := b.now()
	currentYear := academicYear(now)
	yearNumber := currentYear - admissionYear + 1
	roleName, ok := cohortRoles[yearNumber]
	if !ok {
		b.dropSession(ctx, sess)
		return BatchResult{}, fail(ErrValidationError, "Your URN does not map to a valid academic year. Contact a moderator for manual review.")
	}

	role, ok, err := b.directory.ResolveRole(ctx, roleName)
	if err != nil {
		b.dropSession(ctx, sess)
		return BatchResult{}, fail(ErrServerError, "Could not resolve your cohort role. Try again later.")
	}
	if !ok {
		b.dropSession(ctx, sess)
		return BatchResult{}, fail(ErrConfigurationError, fmt.Sprintf("The %s role does not exist. Contact an administrator.", roleName))
	}
	if err := b.directory.Grant(ctx, sess.UserID, role.ID); err != nil {
		b.dropSession(ctx, sess)
		return BatchResult{}, fail(ErrServerError, "Could not assign your cohort role. Try again later.")
	}

	rec := model.BatchRecord{
		UserID:             sess.UserID,
		FullName:           sess.FullName,
		URN:                urn,
		AdmissionYear:      admissionYear,
		AcademicYearNumber: yearNumber,
		AssignedRole:       roleName,
		SubmittedAt:        now.UTC(),
	}
	if err := b.records.InsertBatch(ctx, rec); err != nil {
		b.dropSession(ctx, sess)
		if errors.Is(err, db.ErrDuplicate) {
			if existing, found, lookupErr := b.records.BatchRecord(ctx, sess.UserID); lookupErr == nil && found {
				return BatchResult{}, fail(ErrClassificationLocked, lockedMessage(existing.AssignedRole))
			}
			return BatchResult{}, fail(ErrClassificationLocked, lockedMessage(roleName))
		}
		return BatchResult{}, fail(ErrServerError, "Could not record your classification. Contact an administrator.")
	}
	b.dropSession(ctx, sess)

	classificationsTotal.Inc()
	return BatchResult{
		State:  "complete",
		Record: &rec,
		Message: fmt.Sprintf(
			"Registered %s: admitted %d, academic year %d/%d, assigned role %s. This assignment is permanent.",
			rec.FullName, rec.AdmissionYear, currentYear, currentYear+1, rec.AssignedRole,
		),
	}, nil
}

func (b *Batch) dropSession(ctx context.Context, sess model.BatchSession) {
	if err := b.sessions.Delete(ctx, sess.UserID, sess.ChannelID); err != nil {
		log.Printf("session delete failed for %s/%s: %v", sess.UserID, sess.ChannelID, err)
	}
}

func lockedMessage(assignedRole string) string {
	return fmt.Sprintf("You are already classified as %s. Classification is permanent.", assignedRole)
}

// parseURN validates the submitted identifier: at least 6 characters
// with the leading 4 encoding the admission year as decimal digits.
func parseURN(urn string) (int, bool) {
	if len(urn) < 6 {
		return 0, false
	}
	for _, c := range urn[:4] {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	year, err := strconv.Atoi(urn[:4])
	if err != nil {
		return 0, false
	}
	return year, true
}

// academicYear returns the academic year containing now: the calendar
// year if the month is July or later, the previous year otherwise.
func academicYear(now time.Time) int {
	if now.Month() >= time.July {
		return now.Year()
	}
	return now.Year() - 1
}

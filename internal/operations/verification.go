package operations

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"nst/gatekeeper/internal/db"
	"nst/gatekeeper/internal/model"
)

const (
	OutcomeApprove = "approve"
	OutcomeReject  = "reject"

	defaultRejectReason = "No reason provided"
)

var allowedFileTypes = map[string]bool{
	"pdf": true,
	"png": true,
}

// RoleNames are the directory role names this service operates on.
type RoleNames struct {
	Unverified string
	Confirmed  string
}

// Verification intakes identity-proof submissions and processes
// moderator decisions on them.
type Verification struct {
	records   Records
	directory Directory
	notifier  Notifier
	roles     RoleNames
	queue     string
	now       func() time.Time
}

func NewVerification(records Records, directory Directory, notifier Notifier, roles RoleNames, queueChannel string) *Verification {
	return &Verification{
		records:   records,
		directory: directory,
		notifier:  notifier,
		roles:     roles,
		queue:     queueChannel,
		now:       time.Now,
	}
}

type Attachment struct {
	URL      string
	Filename string
}

type SubmitRequest struct {
	UserID      string
	Username    string
	Attachments []Attachment
}

type SubmitResult struct {
	RecordID uuid.UUID
	Message  string
}

func (v *Verification) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	roles, err := v.directory.MemberRoles(ctx, req.UserID)
	if err != nil {
		return SubmitResult{}, fail(ErrServerError, "Could not check your roles. Try again later.")
	}
	if hasRole(roles, v.roles.Confirmed) {
		return SubmitResult{}, fail(ErrPermissionDenied, "You are already verified.")
	}
	if !hasRole(roles, v.roles.Unverified) {
		return SubmitResult{}, fail(ErrPermissionDenied, "You cannot use this command.")
	}

	if len(req.Attachments) != 1 {
		return SubmitResult{}, fail(ErrValidationError, "Attach exactly one document (pdf or png) to your submission.")
	}
	attachment := req.Attachments[0]
	fileType := fileExtension(attachment.Filename)
	if !allowedFileTypes[fileType] {
		return SubmitResult{}, fail(ErrValidationError, "Unsupported file type. Submit a pdf or png document.")
	}

	channelID, ok, err := v.notifier.ResolveChannel(ctx, v.queue)
	if err != nil {
		return SubmitResult{}, fail(ErrServerError, "Could not reach the moderation channel. Try again later.")
	}
	if !ok {
		return SubmitResult{}, fail(ErrConfigurationError, "The verification queue is not configured. Contact an administrator.")
	}

	rec := model.VerificationRecord{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Username:    req.Username,
		FileURL:     attachment.URL,
		FileName:    attachment.Filename,
		FileType:    fileType,
		Status:      model.VerificationPending,
		SubmittedAt: v.now().UTC(),
	}
	if err := v.records.InsertVerification(ctx, rec); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			submissionsTotal.WithLabelValues("duplicate").Inc()
			return SubmitResult{}, fail(ErrDuplicateSubmission, "You already have a submission awaiting review.")
		}
		return SubmitResult{}, fail(ErrServerError, "Could not record your submission. Try again later.")
	}

	messageID, err := v.notifier.PostMessage(ctx, channelID, QueueMessage{
		Title:    "New Verification Submission",
		UserID:   rec.UserID,
		Username: rec.Username,
		RecordID: rec.ID.String(),
		FileName: rec.FileName,
		FileURL:  rec.FileURL,
	})
	if err != nil {
		return SubmitResult{}, fail(ErrServerError, "Your submission was recorded but could not be queued. Contact a moderator.")
	}
	if err := v.records.SetQueueMessageID(ctx, rec.ID, messageID); err != nil {
		log.Printf("queue message id update failed for %s: %v", rec.ID, err)
	}

	submissionsTotal.WithLabelValues("accepted").Inc()
	return SubmitResult{
		RecordID: rec.ID,
		Message:  "Your document has been submitted for verification. Please wait for moderator approval.",
	}, nil
}

type DecideRequest struct {
	ModeratorID string
	UserID      string
	Outcome     string
	Reason      string
}

type DecideResult struct {
	Record  model.VerificationRecord
	Message string
}

func (v *Verification) Decide(ctx context.Context, req DecideRequest) (DecideResult, error) {
	var status string
	switch req.Outcome {
	case OutcomeApprove:
		status = model.VerificationApproved
	case OutcomeReject:
		status = model.VerificationRejected
	default:
		return DecideResult{}, fail(ErrValidationError, "Outcome must be approve or reject.")
	}

	var reason *string
	if status == model.VerificationRejected {
		value := strings.TrimSpace(req.Reason)
		if value == "" {
			value = defaultRejectReason
		}
		reason = &value
	}

	rec, found, err := v.records.DecideVerification(ctx, req.UserID, status, req.ModeratorID, reason, v.now().UTC())
	if err != nil {
		return DecideResult{}, fail(ErrServerError, "Could not update the record. Try again later.")
	}
	if !found {
		return DecideResult{}, fail(ErrNotFound, "No pending verification for that user.")
	}

	if status == model.VerificationApproved {
		if err := v.applyApproval(ctx, req.UserID); err != nil {
			return DecideResult{}, err
		}
		v.directNotice(ctx, req.UserID, "Your verification is approved! Welcome aboard.")
		decisionsTotal.WithLabelValues(OutcomeApprove).Inc()
		return DecideResult{Record: rec, Message: fmt.Sprintf("%s has been verified.", rec.Username)}, nil
	}

	v.directNotice(ctx, req.UserID, fmt.Sprintf("Your verification was rejected.\nReason: %s", *reason))
	decisionsTotal.WithLabelValues(OutcomeReject).Inc()
	return DecideResult{Record: rec, Message: fmt.Sprintf("%s's verification was rejected.", rec.Username)}, nil
}

// applyApproval grants Confirmed and drops Unverified. The two calls
// are not atomic: if the revoke fails the approval stands and the
// stray Unverified role is left for moderators to clean up.
func (v *Verification) applyApproval(ctx context.Context, userID string) error {
	confirmed, ok, err := v.directory.ResolveRole(ctx, v.roles.Confirmed)
	if err != nil {
		return fail(ErrServerError, "Could not resolve the confirmed role. Try again later.")
	}
	if !ok {
		return fail(ErrConfigurationError, "The confirmed role does not exist. Contact an administrator.")
	}
	if err := v.directory.Grant(ctx, userID, confirmed.ID); err != nil {
		return fail(ErrServerError, "The record was approved but the role grant failed. Contact an administrator.")
	}

	roles, err := v.directory.MemberRoles(ctx, userID)
	if err != nil {
		log.Printf("role lookup after approval failed for %s: %v", userID, err)
		return nil
	}
	if unverified, held := findRole(roles, v.roles.Unverified); held {
		if err := v.directory.Revoke(ctx, userID, unverified.ID); err != nil {
			log.Printf("unverified revoke failed for %s: %v", userID, err)
		}
	}
	return nil
}

// PendingQueue lists submissions awaiting review, oldest first.
func (v *Verification) PendingQueue(ctx context.Context) ([]model.VerificationRecord, error) {
	records, err := v.records.ListPendingVerifications(ctx)
	if err != nil {
		return nil, fail(ErrServerError, "Could not load the queue. Try again later.")
	}
	return records, nil
}

func (v *Verification) directNotice(ctx context.Context, userID, text string) {
	if err := v.notifier.DirectMessage(ctx, userID, text); err != nil {
		directNoticeFailures.Inc()
		log.Printf("direct notice to %s failed: %v", userID, err)
	}
}

func fileExtension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

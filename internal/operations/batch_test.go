package operations

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"nst/gatekeeper/internal/model"
)

type batchFixture struct {
	batch     *Batch
	records   *fakeRecords
	directory *fakeDirectory
	sessions  *fakeSessions
	clock     time.Time
}

func newBatchFixture(t *testing.T, clock time.Time) *batchFixture {
	t.Helper()
	f := &batchFixture{
		records:   newFakeRecords(),
		directory: newFakeDirectory("Unverified", "Confirmed Student", "Freshers", "2nd Year", "3rd Year", "4th Year"),
		sessions:  newFakeSessions(),
		clock:     clock,
	}
	f.batch = NewBatch(f.records, f.directory, newFakeNotifier(), f.sessions, testRoles, time.Minute)
	f.batch.now = func() time.Time { return f.clock }
	return f
}

// runFlow walks the fixture user through the full classification
// exchange and returns the final reply.
func (f *batchFixture) runFlow(t *testing.T, userID, name, urn string) (BatchResult, error) {
	t.Helper()
	if _, err := f.batch.Begin(context.Background(), userID, "chan-1"); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, err := f.batch.Reply(context.Background(), userID, "chan-1", name); err != nil {
		t.Fatalf("name reply failed: %v", err)
	}
	return f.batch.Reply(context.Background(), userID, "chan-1", urn)
}

func TestBatchYearBoundary(t *testing.T) {
	cases := map[string]struct {
		now          time.Time
		expectedRole string
		expectedYear int
	}{
		"april before rollover": {
			now:          time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC),
			expectedRole: "2nd Year",
			expectedYear: 2,
		},
		"september after rollover": {
			now:          time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC),
			expectedRole: "3rd Year",
			expectedYear: 3,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newBatchFixture(t, tc.now)
			f.directory.addMemberRole("u-1", "Confirmed Student")

			result, err := f.runFlow(t, "u-1", "Ada Lovelace", "2024-B-123456789B")
			if err != nil {
				t.Fatalf("classification failed: %v", err)
			}
			if result.Record == nil {
				t.Fatalf("expected a completed record")
			}
			if result.Record.AcademicYearNumber != tc.expectedYear {
				t.Fatalf("expected year %d, got %d", tc.expectedYear, result.Record.AcademicYearNumber)
			}
			if result.Record.AssignedRole != tc.expectedRole {
				t.Fatalf("expected role %s, got %s", tc.expectedRole, result.Record.AssignedRole)
			}
			if !f.directory.memberHolds("u-1", tc.expectedRole) {
				t.Fatalf("expected %s granted", tc.expectedRole)
			}
			if _, found, _ := f.sessions.Get(context.Background(), "u-1", "chan-1"); found {
				t.Fatalf("session must be dropped on completion")
			}
		})
	}
}

func TestBatchCompletionDetails(t *testing.T) {
	f := newBatchFixture(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))
	f.directory.addMemberRole("u-1", "Confirmed Student")

	result, err := f.runFlow(t, "u-1", "  Ada Lovelace  ", "2026-b-123456789b")
	if err != nil {
		t.Fatalf("classification failed: %v", err)
	}
	if result.Record.FullName != "Ada Lovelace" {
		t.Fatalf("expected trimmed name, got %q", result.Record.FullName)
	}
	if result.Record.URN != "2026-B-123456789B" {
		t.Fatalf("expected upper-cased urn, got %q", result.Record.URN)
	}
	if result.Record.AdmissionYear != 2026 {
		t.Fatalf("expected admission year 2026, got %d", result.Record.AdmissionYear)
	}
	if result.Record.AssignedRole != "Freshers" {
		t.Fatalf("expected Freshers, got %s", result.Record.AssignedRole)
	}
	if !strings.Contains(result.Message, "This assignment is permanent.") {
		t.Fatalf("completion message must state permanence, got %q", result.Message)
	}
}

func TestBatchYearOutOfRange(t *testing.T) {
	cases := map[string]string{
		"future admission": "2030-B-123456789B",
		"too old":          "2010-B-123456789B",
	}
	for name, urn := range cases {
		t.Run(name, func(t *testing.T) {
			f := newBatchFixture(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))
			f.directory.addMemberRole("u-1", "Confirmed Student")

			_, err := f.runFlow(t, "u-1", "Ada Lovelace", urn)
			if code := opCode(t, err); code != ErrValidationError {
				t.Fatalf("expected validation_error, got %s", code)
			}
			if len(f.records.batches) != 0 {
				t.Fatalf("no record may be stored for an out-of-range year")
			}
			for year := 1; year <= 4; year++ {
				if f.directory.memberHolds("u-1", cohortRoles[year]) {
					t.Fatalf("no cohort role may be granted for an out-of-range year")
				}
			}
			if _, found, _ := f.sessions.Get(context.Background(), "u-1", "chan-1"); found {
				t.Fatalf("session must be dropped after a failed completion")
			}
		})
	}
}

func TestBatchMalformedURN(t *testing.T) {
	cases := map[string]string{
		"too short":      "2026A",
		"letters first":  "ABCD-123456",
		"signed year":    "+026-B-123456789B",
		"digits missing": "20X6-B-123456789B",
	}
	for name, urn := range cases {
		t.Run(name, func(t *testing.T) {
			f := newBatchFixture(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))
			f.directory.addMemberRole("u-1", "Confirmed Student")

			_, err := f.runFlow(t, "u-1", "Ada Lovelace", urn)
			if code := opCode(t, err); code != ErrValidationError {
				t.Fatalf("expected validation_error for %q, got %s", urn, code)
			}
		})
	}
}

func TestBatchLockedAfterCompletion(t *testing.T) {
	f := newBatchFixture(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))
	f.directory.addMemberRole("u-1", "Confirmed Student")

	if _, err := f.runFlow(t, "u-1", "Ada Lovelace", "2026-B-123456789B"); err != nil {
		t.Fatalf("first classification failed: %v", err)
	}

	_, err := f.batch.Begin(context.Background(), "u-1", "chan-1")
	if code := opCode(t, err); code != ErrClassificationLocked {
		t.Fatalf("expected classification_locked, got %s", code)
	}
	var opErr *Error
	if !errors.As(err, &opErr) || !strings.Contains(opErr.Message, "Freshers") {
		t.Fatalf("locked message must name the assigned role, got %v", err)
	}
}

func TestBatchBeginRequiresConfirmed(t *testing.T) {
	f := newBatchFixture(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))
	f.directory.addMemberRole("u-1", "Unverified")

	_, err := f.batch.Begin(context.Background(), "u-1", "chan-1")
	if code := opCode(t, err); code != ErrPermissionDenied {
		t.Fatalf("expected permission_denied, got %s", code)
	}
}

func TestBatchReplyWithoutSession(t *testing.T) {
	f := newBatchFixture(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))

	_, err := f.batch.Reply(context.Background(), "u-1", "chan-1", "Ada Lovelace")
	if code := opCode(t, err); code != ErrNoActiveSession {
		t.Fatalf("expected no_active_session, got %s", code)
	}
}

func TestBatchReplyTimeout(t *testing.T) {
	f := newBatchFixture(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))
	f.directory.addMemberRole("u-1", "Confirmed Student")

	if _, err := f.batch.Begin(context.Background(), "u-1", "chan-1"); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	f.clock = f.clock.Add(2 * time.Minute)

	_, err := f.batch.Reply(context.Background(), "u-1", "chan-1", "Ada Lovelace")
	if code := opCode(t, err); code != ErrTimeout {
		t.Fatalf("expected timeout, got %s", code)
	}
	if _, found, _ := f.sessions.Get(context.Background(), "u-1", "chan-1"); found {
		t.Fatalf("expired session must be dropped")
	}
	if len(f.records.batches) != 0 {
		t.Fatalf("nothing may be persisted on timeout")
	}
}

func TestBatchRestartOverwritesSession(t *testing.T) {
	f := newBatchFixture(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))
	f.directory.addMemberRole("u-1", "Confirmed Student")

	if _, err := f.batch.Begin(context.Background(), "u-1", "chan-1"); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, err := f.batch.Reply(context.Background(), "u-1", "chan-1", "Ada Lovelace"); err != nil {
		t.Fatalf("name reply failed: %v", err)
	}

	// Restarting resets the flow to the name question.
	if _, err := f.batch.Begin(context.Background(), "u-1", "chan-1"); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	sess, found, _ := f.sessions.Get(context.Background(), "u-1", "chan-1")
	if !found || sess.State != model.SessionAwaitName {
		t.Fatalf("expected a fresh await_name session, got %+v found=%v", sess, found)
	}
}

func TestParseURN(t *testing.T) {
	cases := map[string]struct {
		year int
		ok   bool
	}{
		"2024-B-123456789B": {year: 2024, ok: true},
		"202612":            {year: 2026, ok: true},
		"20261":             {ok: false},
		"ABCD123456":        {ok: false},
		"+12412345":         {ok: false},
	}
	for urn, expected := range cases {
		year, ok := parseURN(urn)
		if ok != expected.ok || year != expected.year {
			t.Fatalf("parseURN(%q) = (%d, %v), want (%d, %v)", urn, year, ok, expected.year, expected.ok)
		}
	}
}

func TestAcademicYear(t *testing.T) {
	cases := map[string]struct {
		now      time.Time
		expected int
	}{
		"june":    {now: time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC), expected: 2025},
		"july":    {now: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), expected: 2026},
		"january": {now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), expected: 2025},
	}
	for name, tc := range cases {
		if got := academicYear(tc.now); got != tc.expected {
			t.Fatalf("%s: academicYear = %d, want %d", name, got, tc.expected)
		}
	}
}

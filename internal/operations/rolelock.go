package operations

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// RoleLock reverts out-of-band cohort role grants: once a member holds
// one cohort role, no second one may be added, whoever adds it.
type RoleLock struct {
	directory Directory
	notifier  Notifier
}

func NewRoleLock(directory Directory, notifier Notifier) *RoleLock {
	return &RoleLock{directory: directory, notifier: notifier}
}

// CohortRevocation decides, without side effects, whether a role
// change violates the one-cohort invariant and which role to revoke.
// When several cohort roles arrive in the same change event the
// lexicographically smallest added one is revoked; any extras trigger
// change events of their own.
func CohortRevocation(before, after []string) (string, bool) {
	held := false
	for _, name := range before {
		if isCohortRole(name) {
			held = true
			break
		}
	}
	if !held {
		return "", false
	}

	prior := make(map[string]bool, len(before))
	for _, name := range before {
		prior[name] = true
	}
	var added []string
	for _, name := range after {
		if isCohortRole(name) && !prior[name] {
			added = append(added, name)
		}
	}
	if len(added) == 0 {
		return "", false
	}
	sort.Strings(added)
	return added[0], true
}

// HandleRoleChange applies the decision for one role-change event and
// returns the name of the revoked role, if any.
func (g *RoleLock) HandleRoleChange(ctx context.Context, userID string, before, after []string) (string, error) {
	name, revoke := CohortRevocation(before, after)
	if !revoke {
		return "", nil
	}

	role, ok, err := g.directory.ResolveRole(ctx, name)
	if err != nil {
		return "", fail(ErrServerError, "Could not resolve the cohort role.")
	}
	if !ok {
		return "", fail(ErrConfigurationError, fmt.Sprintf("The %s role does not exist in the directory.", name))
	}
	if err := g.directory.Revoke(ctx, userID, role.ID); err != nil {
		return "", fail(ErrServerError, "Could not revoke the cohort role.")
	}
	revocationsTotal.Inc()

	if err := g.notifier.DirectMessage(ctx, userID, fmt.Sprintf("Cohort roles are locked once assigned; %s was removed.", name)); err != nil {
		directNoticeFailures.Inc()
		log.Printf("direct notice to %s failed: %v", userID, err)
	}
	return name, nil
}

func isCohortRole(name string) bool {
	for _, cohort := range cohortRoles {
		if cohort == name {
			return true
		}
	}
	return false
}

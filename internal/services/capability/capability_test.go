package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeMatrix(t *testing.T) {
	allowed := map[Role][]Mutation{
		RoleChair: {
			MutationCreateEvent, MutationUpdateEvent, MutationDeleteEvent,
			MutationCreateTransaction, MutationUpdateTransaction, MutationDeleteTransaction,
			MutationReassignRole, MutationResolveReview,
		},
		RoleTreasurer: {MutationCreateTransaction, MutationUpdateTransaction, MutationDeleteTransaction},
		RoleSecretary: {MutationCreateEvent, MutationUpdateEvent, MutationDeleteEvent},
		RoleMember:    {},
	}

	gate := NewGate()

	for _, role := range Roles() {
		want := map[Mutation]bool{}
		for _, m := range allowed[role] {
			want[m] = true
		}

		for _, mutation := range Mutations() {
			d := gate.Authorize(role, mutation, false)
			if want[mutation] {
				assert.True(t, d.Allowed, "%s should be allowed %s", role, mutation)
			} else {
				require.False(t, d.Allowed, "%s should be denied %s", role, mutation)
				assert.Equal(t, ReasonInsufficientRole, d.Reason)
			}
		}
	}
}

func TestAuthorizeLockedEntity(t *testing.T) {
	gate := NewGate()

	// A parked entity is locked even for the chair.
	d := gate.Authorize(RoleChair, MutationUpdateEvent, true)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonEntityLocked, d.Reason)
}

func TestAuthorizeUnknownRole(t *testing.T) {
	gate := NewGate()

	d := gate.Authorize(Role("janitor"), MutationCreateEvent, false)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonInsufficientRole, d.Reason)
	assert.False(t, Role("janitor").Valid())
}

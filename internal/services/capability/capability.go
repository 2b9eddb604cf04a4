package capability

// Role is an organization office. Roles are assigned administratively and are
// immutable from the normal mutation paths.
type Role string

const (
	RoleChair     Role = "chair"
	RoleTreasurer Role = "treasurer"
	RoleSecretary Role = "secretary"
	RoleMember    Role = "member"
)

// Mutation is one gated write operation.
type Mutation string

const (
	MutationCreateEvent       Mutation = "create_event"
	MutationUpdateEvent       Mutation = "update_event"
	MutationDeleteEvent       Mutation = "delete_event"
	MutationCreateTransaction Mutation = "create_transaction"
	MutationUpdateTransaction Mutation = "update_transaction"
	MutationDeleteTransaction Mutation = "delete_transaction"
	MutationReassignRole      Mutation = "reassign_role"
	MutationResolveReview     Mutation = "resolve_review"
)

// DenyReason is machine readable so callers can map it to an error code.
type DenyReason string

const (
	ReasonInsufficientRole DenyReason = "INSUFFICIENT_ROLE"
	ReasonEntityLocked     DenyReason = "ENTITY_LOCKED"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

// DeniedError carries a deny decision across service boundaries so controllers
// can map the reason to an error code.
type DeniedError struct {
	Role     Role
	Mutation Mutation
	Reason   DenyReason
}

func (e *DeniedError) Error() string {
	return "mutation " + string(e.Mutation) + " denied for role " + string(e.Role) + ": " + string(e.Reason)
}

var eventMutations = []Mutation{MutationCreateEvent, MutationUpdateEvent, MutationDeleteEvent}
var transactionMutations = []Mutation{MutationCreateTransaction, MutationUpdateTransaction, MutationDeleteTransaction}

// capabilities is the single declarative role -> mutation mapping. It is fixed
// at startup and consulted through Authorize; route handlers never check roles
// themselves.
var capabilities = map[Role]map[Mutation]bool{
	RoleChair:     allow(append(append([]Mutation{}, eventMutations...), append(transactionMutations, MutationReassignRole, MutationResolveReview)...)),
	RoleTreasurer: allow(transactionMutations),
	RoleSecretary: allow(eventMutations),
	RoleMember:    {},
}

func allow(ms []Mutation) map[Mutation]bool {
	out := make(map[Mutation]bool, len(ms))
	for _, m := range ms {
		out[m] = true
	}
	return out
}

// Gate evaluates whether a role may perform a mutation. Pure: no side effects,
// no persistence.
type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

// Authorize checks the static capability mapping. locked reports whether the
// target entity is parked for manual conflict review; locked entities reject
// every mutation regardless of role.
func (g *Gate) Authorize(role Role, mutation Mutation, locked bool) Decision {
	if locked {
		return Decision{Allowed: false, Reason: ReasonEntityLocked}
	}

	if capabilities[role][mutation] {
		return Decision{Allowed: true}
	}

	return Decision{Allowed: false, Reason: ReasonInsufficientRole}
}

// Mutations lists every mutation kind, for exhaustive checks in tests and docs.
func Mutations() []Mutation {
	out := append(append([]Mutation{}, eventMutations...), transactionMutations...)
	return append(out, MutationReassignRole, MutationResolveReview)
}

// Roles lists every role.
func Roles() []Role {
	return []Role{RoleChair, RoleTreasurer, RoleSecretary, RoleMember}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleChair, RoleTreasurer, RoleSecretary, RoleMember:
		return true
	}
	return false
}

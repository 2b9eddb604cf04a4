package user

import (
	"context"
	"fmt"

	"github.com/orgboard/orgsync/internal/services/capability"
	"golang.org/x/crypto/bcrypt"
)

type UserService struct {
	repo *UserRepo
	gate *capability.Gate
}

func NewUserService(repo *UserRepo, gate *capability.Gate) *UserService {
	return &UserService{repo: repo, gate: gate}
}

func (s *UserService) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if !user.PasswordAuthEnabled {
		return nil, fmt.Errorf("password authentication is disabled for this user")
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		return nil, fmt.Errorf("invalid password")
	}

	return user, nil
}

// Create registers a member. Registering with an office other than member is
// itself a role assignment, so it passes the same gate as reassignment.
func (s *UserService) Create(ctx context.Context, actorRole capability.Role, req *CreateUserRequest) (*User, error) {
	if req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("email and password are required")
	}

	role := req.Role
	if role == "" {
		role = capability.RoleMember
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	if role != capability.RoleMember {
		if decision := s.gate.Authorize(actorRole, capability.MutationReassignRole, false); !decision.Allowed {
			return nil, &capability.DeniedError{Mutation: capability.MutationReassignRole, Role: actorRole, Reason: decision.Reason}
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	return s.repo.Create(ctx, req.Name, req.Email, string(hash), role)
}

func (s *UserService) GetByID(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context) ([]*User, error) {
	return s.repo.List(ctx)
}

// UpdateRole reassigns an organization office. Only the chair passes the gate.
func (s *UserService) UpdateRole(ctx context.Context, actorRole capability.Role, id string, role capability.Role) (*User, error) {
	if decision := s.gate.Authorize(actorRole, capability.MutationReassignRole, false); !decision.Allowed {
		return nil, &capability.DeniedError{Mutation: capability.MutationReassignRole, Role: actorRole, Reason: decision.Reason}
	}

	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	return s.repo.UpdateRole(ctx, id, role)
}

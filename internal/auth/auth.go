// Package auth is the session/auth gate. Login validates an agent
// credential; administrative mutations take a separate admin credential
// checked per action, not per session. The only exception is bootstrap:
// while zero agents exist, the first create needs no credential at all.
package auth

import (
	"golang.org/x/crypto/bcrypt"

	"whatsapp-crm/internal/apperr"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/models"
)

// AgentStore is the slice of the store the gate needs.
type AgentStore interface {
	GetAgents() ([]models.Agent, error)
	CountAgents() (int64, error)
	GetAgentByName(name string) (*models.Agent, error)
	GetAgentByID(id uint) (*models.Agent, error)
	GetAdmin() (*models.Agent, error)
	CreateAgent(agent *models.Agent) error
	UpdateAgent(agent *models.Agent) error
	DeleteAgent(id uint) error
}

type Service struct {
	store AgentStore
	log   *logger.Logger
}

func NewService(store AgentStore, log *logger.Logger) *Service {
	return &Service{store: store, log: log.WithComponent("auth")}
}

func validRole(role string) bool {
	switch role {
	case models.RoleSales, models.RoleWorkshop, models.RoleAdmin:
		return true
	}
	return false
}

// Login authenticates an agent by name. An agent with no stored credential
// is an open profile and accepts any submitted password, including empty.
func (s *Service) Login(name, password string) (*models.Agent, error) {
	agent, err := s.store.GetAgentByName(name)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			s.log.AuthEvent("login", name, false, "unknown agent")
			return nil, apperr.Unauthorized("invalid credentials")
		}
		return nil, err
	}

	if agent.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(password)) != nil {
			s.log.AuthEvent("login", name, false, "bad password")
			return nil, apperr.Unauthorized("invalid credentials")
		}
	}

	s.log.AuthEvent("login", name, true, "")
	return agent, nil
}

// RequireAdmin validates the per-action admin credential.
func (s *Service) RequireAdmin(password string) error {
	admin, err := s.store.GetAdmin()
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.Unauthorized("no admin agent configured")
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
		s.log.AuthEvent("admin_gate", admin.Name, false, "bad admin password")
		return apperr.Unauthorized("invalid admin credentials")
	}
	return nil
}

// CreateAgent validates the payload, applies the admin gate (skipped only
// for the first-ever agent) and persists. An Admin role demands a password,
// and at most one Admin may exist.
func (s *Service) CreateAgent(name, role, password, adminPassword string) (*models.Agent, error) {
	if name == "" {
		return nil, apperr.Validation("agent name is required")
	}
	if !validRole(role) {
		return nil, apperr.Validation("unknown role")
	}
	if role == models.RoleAdmin && password == "" {
		return nil, apperr.Validation("admin agents require a password")
	}

	count, err := s.store.CountAgents()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		if err := s.RequireAdmin(adminPassword); err != nil {
			return nil, err
		}
	}

	if role == models.RoleAdmin {
		if _, err := s.store.GetAdmin(); err == nil {
			return nil, apperr.Conflict("an admin agent already exists")
		} else if !apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
	}

	agent := &models.Agent{Name: name, Role: role}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "hashing password", err)
		}
		agent.PasswordHash = string(hash)
	}

	if err := s.store.CreateAgent(agent); err != nil {
		return nil, err
	}
	s.log.Info("agent created", "name", name, "role", role)
	return agent, nil
}

// UpdateAgent mutates an existing agent. Authorized by the admin credential
// or, failing that, by the target agent's own credential (self-service).
func (s *Service) UpdateAgent(id uint, name, role, password, adminPassword string) (*models.Agent, error) {
	agent, err := s.store.GetAgentByID(id)
	if err != nil {
		return nil, err
	}

	if gateErr := s.RequireAdmin(adminPassword); gateErr != nil {
		if !s.selfAuthorized(agent, adminPassword) {
			return nil, gateErr
		}
	}

	if name != "" {
		agent.Name = name
	}
	if role != "" {
		if !validRole(role) {
			return nil, apperr.Validation("unknown role")
		}
		if role == models.RoleAdmin && agent.Role != models.RoleAdmin {
			if _, err := s.store.GetAdmin(); err == nil {
				return nil, apperr.Conflict("an admin agent already exists")
			} else if !apperr.Is(err, apperr.KindNotFound) {
				return nil, err
			}
		}
		agent.Role = role
	}
	if agent.Role == models.RoleAdmin && password == "" && agent.PasswordHash == "" {
		return nil, apperr.Validation("admin agents require a password")
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "hashing password", err)
		}
		agent.PasswordHash = string(hash)
	}

	if err := s.store.UpdateAgent(agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// selfAuthorized reports whether the submitted credential matches the target
// agent's own. An open profile accepts any credential, mirroring login.
func (s *Service) selfAuthorized(agent *models.Agent, password string) bool {
	if agent.PasswordHash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(password)) == nil
}

// DeleteAgent removes an agent under the admin gate. The last remaining
// agent can never be deleted: the system always keeps at least one.
func (s *Service) DeleteAgent(id uint, adminPassword string) error {
	count, err := s.store.CountAgents()
	if err != nil {
		return err
	}
	if count <= 1 {
		return apperr.Validation("cannot delete the last remaining agent")
	}
	if err := s.RequireAdmin(adminPassword); err != nil {
		return err
	}
	if _, err := s.store.GetAgentByID(id); err != nil {
		return err
	}
	return s.store.DeleteAgent(id)
}

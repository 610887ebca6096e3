// ABOUTME: Idempotent realm provisioning against the Keycloak admin API
// ABOUTME: Ensures realm, roles, clients and users; per-user failures are logged and skipped

package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrUsernameRequired is recorded for users with a blank username.
var ErrUsernameRequired = errors.New("username is required")

// Report summarizes what Apply changed.
type Report struct {
	RealmCreated   bool
	RolesCreated   []string
	ClientsCreated []string
	ClientsUpdated []string
	UsersCreated   []string
	UsersExisting  []string
	// UsersFailed maps a username to the error that skipped it.
	UsersFailed map[string]error
}

// Provisioner applies plans through an Admin client.
type Provisioner struct {
	admin  *Admin
	logger *slog.Logger
}

// New creates a provisioner.
func New(admin *Admin, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default().With("component", "provision")
	}
	return &Provisioner{admin: admin, logger: logger}
}

// Apply brings the realm in line with plan. Running it twice changes nothing
// the second time except client settings, which are always rewritten.
func (p *Provisioner) Apply(ctx context.Context, plan Plan) (*Report, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	report := &Report{UsersFailed: map[string]error{}}
	realm := plan.Realm.Name

	if err := p.ensureRealm(ctx, plan.Realm, report); err != nil {
		return report, err
	}

	roles, err := p.ensureRoles(ctx, realm, plan.Roles, report)
	if err != nil {
		return report, err
	}

	for _, c := range plan.Clients {
		if err := p.ensureClient(ctx, realm, c, report); err != nil {
			return report, err
		}
	}

	for _, u := range plan.Users {
		if err := p.ensureUser(ctx, realm, u, roles, report); err != nil {
			p.logger.Error("provisioning user failed, continuing", "realm", realm, "username", u.Username, "error", err)
			report.UsersFailed[u.Username] = err
		}
	}

	return report, nil
}

// ensureRealm creates the realm when missing and always applies its settings.
func (p *Provisioner) ensureRealm(ctx context.Context, spec RealmSpec, report *Report) error {
	realms, err := p.admin.Realms(ctx)
	if err != nil {
		return fmt.Errorf("listing realms: %w", err)
	}

	exists := false
	for _, r := range realms {
		if r.Realm == spec.Name {
			exists = true
			break
		}
	}

	if !exists {
		if err := p.admin.CreateRealm(ctx, RealmRep{Realm: spec.Name, Enabled: true}); err != nil {
			return fmt.Errorf("creating realm %q: %w", spec.Name, err)
		}
		report.RealmCreated = true
		p.logger.Info("realm created", "realm", spec.Name)
	} else {
		p.logger.Info("realm already exists", "realm", spec.Name)
	}

	if err := p.admin.UpdateRealm(ctx, spec.rep()); err != nil {
		return fmt.Errorf("updating realm %q: %w", spec.Name, err)
	}
	return nil
}

// ensureRoles creates missing realm roles and returns every role by name.
func (p *Provisioner) ensureRoles(ctx context.Context, realm string, names []string, report *Report) (map[string]RoleRep, error) {
	byName := map[string]RoleRep{}
	if len(names) == 0 {
		return byName, nil
	}

	existing, err := p.admin.RealmRoles(ctx, realm)
	if err != nil {
		return nil, fmt.Errorf("listing realm roles: %w", err)
	}
	for _, r := range existing {
		byName[r.Name] = r
	}

	created := false
	for _, name := range names {
		if _, ok := byName[name]; ok {
			continue
		}
		if err := p.admin.CreateRealmRole(ctx, realm, RoleRep{Name: name}); err != nil {
			return nil, fmt.Errorf("creating realm role %q: %w", name, err)
		}
		report.RolesCreated = append(report.RolesCreated, name)
		created = true
		p.logger.Info("realm role created", "realm", realm, "role", name)
	}

	if created {
		// Reload to pick up the ids Keycloak assigned.
		existing, err = p.admin.RealmRoles(ctx, realm)
		if err != nil {
			return nil, fmt.Errorf("listing realm roles: %w", err)
		}
		for _, r := range existing {
			byName[r.Name] = r
		}
	}
	return byName, nil
}

// ensureClient creates the client or updates its settings in place.
func (p *Provisioner) ensureClient(ctx context.Context, realm string, spec ClientSpec, report *Report) error {
	existing, err := p.admin.Clients(ctx, realm, spec.ClientID)
	if err != nil {
		return fmt.Errorf("looking up client %q: %w", spec.ClientID, err)
	}

	rep := spec.rep()
	for _, c := range existing {
		if c.ClientID != spec.ClientID {
			continue
		}
		rep.ID = c.ID
		if err := p.admin.UpdateClient(ctx, realm, rep); err != nil {
			return fmt.Errorf("updating client %q: %w", spec.ClientID, err)
		}
		report.ClientsUpdated = append(report.ClientsUpdated, spec.ClientID)
		p.logger.Info("client updated", "realm", realm, "client_id", spec.ClientID)
		return nil
	}

	if err := p.admin.CreateClient(ctx, realm, rep); err != nil {
		return fmt.Errorf("creating client %q: %w", spec.ClientID, err)
	}
	report.ClientsCreated = append(report.ClientsCreated, spec.ClientID)
	p.logger.Info("client created", "realm", realm, "client_id", spec.ClientID)
	return nil
}

// ensureUser creates the user when missing and maps any roles it lacks.
// Existing users keep their password.
func (p *Provisioner) ensureUser(ctx context.Context, realm string, spec UserSpec, roles map[string]RoleRep, report *Report) error {
	username := strings.TrimSpace(spec.Username)
	if username == "" {
		return ErrUsernameRequired
	}

	users, err := p.admin.Users(ctx, realm, username)
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}

	var userID string
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			userID = u.ID
			break
		}
	}

	if userID == "" {
		userID, err = p.admin.CreateUser(ctx, realm, spec.rep())
		if err != nil {
			return fmt.Errorf("creating user: %w", err)
		}
		report.UsersCreated = append(report.UsersCreated, username)
		p.logger.Info("user created", "realm", realm, "username", username)
	} else {
		report.UsersExisting = append(report.UsersExisting, username)
		p.logger.Info("user already exists", "realm", realm, "username", username)
	}

	if len(spec.Roles) == 0 {
		return nil
	}

	mapped, err := p.admin.UserRealmRoles(ctx, realm, userID)
	if err != nil {
		return fmt.Errorf("listing role mappings: %w", err)
	}
	have := map[string]bool{}
	for _, r := range mapped {
		have[r.Name] = true
	}

	var missing []RoleRep
	for _, name := range spec.Roles {
		if have[name] {
			continue
		}
		role, ok := roles[name]
		if !ok {
			return fmt.Errorf("realm role %q not found", name)
		}
		missing = append(missing, role)
	}
	if len(missing) == 0 {
		return nil
	}
	if err := p.admin.AssignRealmRoles(ctx, realm, userID, missing); err != nil {
		return fmt.Errorf("assigning roles: %w", err)
	}
	p.logger.Info("realm roles assigned", "realm", realm, "username", username, "count", len(missing))
	return nil
}

// CheckUsers lists the users of realm.
func (p *Provisioner) CheckUsers(ctx context.Context, realm string) ([]UserRep, error) {
	users, err := p.admin.Users(ctx, realm, "")
	if err != nil {
		return nil, fmt.Errorf("listing users of %q: %w", realm, err)
	}
	return users, nil
}

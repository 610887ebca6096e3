// ABOUTME: Tests for the Keycloak provisioner against the fake admin API
// ABOUTME: Covers readiness wait, idempotent apply, per-user failures, role mapping and plan loading

package provision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func connect(t *testing.T, f *fakeKeycloak) *Provisioner {
	t.Helper()
	admin, err := Connect(context.Background(), f.creds())
	require.NoError(t, err)
	return New(admin, testLogger())
}

func testPlan() Plan {
	p := DefaultPlan("platform-engine-realm", "http://localhost:3000/", "http://localhost:4000")
	p.Users = []UserSpec{
		{Username: "alice@example.com", Email: "alice@example.com", FirstName: "Alice", Password: "s3cret", Roles: []string{"customer"}},
		{Username: "bob@example.com", Password: "hunter2"},
	}
	return p
}

func TestConnect_BadCredentials(t *testing.T) {
	f := newFakeKeycloak(t)
	creds := f.creds()
	creds.Password = "wrong"

	_, err := Connect(context.Background(), creds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `admin login as "admin"`)
}

func TestWaitForKeycloak_RetriesUntilReady(t *testing.T) {
	f := newFakeKeycloak(t)
	f.failLogins = 2

	admin, err := WaitForKeycloak(context.Background(), f.creds(), 5, time.Millisecond, testLogger())
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.Equal(t, 3, f.logins)
}

func TestWaitForKeycloak_GivesUp(t *testing.T) {
	f := newFakeKeycloak(t)
	f.failLogins = 10

	_, err := WaitForKeycloak(context.Background(), f.creds(), 3, time.Millisecond, testLogger())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 3, f.logins)
}

func TestWaitForKeycloak_ContextCanceled(t *testing.T) {
	f := newFakeKeycloak(t)
	f.failLogins = 10

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WaitForKeycloak(ctx, f.creds(), 20, time.Hour, testLogger())
	assert.Error(t, err)
}

func TestApply_CreatesEverything(t *testing.T) {
	f := newFakeKeycloak(t)
	p := connect(t, f)

	report, err := p.Apply(context.Background(), testPlan())
	require.NoError(t, err)

	assert.True(t, report.RealmCreated)
	assert.Equal(t, []string{"customer"}, report.RolesCreated)
	assert.Equal(t, []string{"platform-engine-web", "platform-engine-api"}, report.ClientsCreated)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, report.UsersCreated)
	assert.Empty(t, report.UsersFailed)

	realm := f.realms["platform-engine-realm"]
	require.NotNil(t, realm)
	assert.True(t, realm.rep.RegistrationAllowed)
	assert.True(t, realm.rep.BruteForceProtected)

	var web ClientRep
	for _, c := range realm.clients {
		if c.ClientID == "platform-engine-web" {
			web = c
		}
	}
	assert.True(t, web.PublicClient)
	assert.Equal(t, []string{"http://localhost:3000/*"}, web.RedirectURIs)
	assert.Equal(t, []string{"http://localhost:3000"}, web.WebOrigins)
	assert.Equal(t, "http://localhost:3000/", web.Attributes["post.logout.redirect.uris"])
	assert.Equal(t, "S256", web.Attributes["pkce.code.challenge.method"])

	for _, u := range realm.users {
		require.Len(t, u.Credentials, 1)
		assert.False(t, u.Credentials[0].Temporary)
		if u.Username == "alice@example.com" {
			roles := realm.mappings[u.ID]
			require.Len(t, roles, 1)
			assert.Equal(t, "customer", roles[0].Name)
		}
	}
}

func TestApply_Idempotent(t *testing.T) {
	f := newFakeKeycloak(t)
	p := connect(t, f)

	_, err := p.Apply(context.Background(), testPlan())
	require.NoError(t, err)
	firstWrites := f.writes

	report, err := p.Apply(context.Background(), testPlan())
	require.NoError(t, err)

	assert.False(t, report.RealmCreated)
	assert.Empty(t, report.RolesCreated)
	assert.Empty(t, report.ClientsCreated)
	assert.Equal(t, []string{"platform-engine-web", "platform-engine-api"}, report.ClientsUpdated)
	assert.Empty(t, report.UsersCreated)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, report.UsersExisting)

	// Second run only rewrites realm settings and the two clients
	assert.Equal(t, 3, f.writes-firstWrites)
	assert.Len(t, f.realms["platform-engine-realm"].users, 2)
	for _, roles := range f.realms["platform-engine-realm"].mappings {
		assert.Len(t, roles, 1)
	}
}

func TestApply_UserFailureIsSkipped(t *testing.T) {
	f := newFakeKeycloak(t)
	f.failUsers["alice@example.com"] = true
	p := connect(t, f)

	plan := testPlan()
	plan.Users = append(plan.Users, UserSpec{Username: "   "})

	report, err := p.Apply(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, []string{"bob@example.com"}, report.UsersCreated)
	require.Len(t, report.UsersFailed, 2)

	var apiErr *APIError
	require.True(t, errors.As(report.UsersFailed["alice@example.com"], &apiErr))
	assert.Equal(t, 400, apiErr.Code)
	assert.ErrorIs(t, report.UsersFailed["   "], ErrUsernameRequired)
}

func TestApply_ExistingUserGetsMissingRole(t *testing.T) {
	f := newFakeKeycloak(t)
	p := connect(t, f)

	_, err := p.Apply(context.Background(), DefaultPlan("platform-engine-realm", "http://localhost:3000", "http://localhost:4000"))
	require.NoError(t, err)
	id := f.addUser("platform-engine-realm", UserRep{Username: "alice@example.com", Enabled: true})

	report, err := p.Apply(context.Background(), testPlan())
	require.NoError(t, err)

	assert.Contains(t, report.UsersExisting, "alice@example.com")
	roles := f.realms["platform-engine-realm"].mappings[id]
	require.Len(t, roles, 1)
	assert.Equal(t, "customer", roles[0].Name)
}

func TestCheckUsers(t *testing.T) {
	f := newFakeKeycloak(t)
	p := connect(t, f)
	_, err := p.Apply(context.Background(), testPlan())
	require.NoError(t, err)

	users, err := p.CheckUsers(context.Background(), "platform-engine-realm")
	require.NoError(t, err)
	assert.Len(t, users, 2)

	_, err = p.CheckUsers(context.Background(), "missing-realm")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.Code)
}

func TestPlan_Validate(t *testing.T) {
	assert.Error(t, Plan{}.Validate())

	p := testPlan()
	assert.NoError(t, p.Validate())

	p.Clients = append(p.Clients, ClientSpec{ClientID: "platform-engine-web"})
	assert.ErrorContains(t, p.Validate(), "duplicate client")

	p = testPlan()
	p.Users[0].Roles = []string{"admin"}
	assert.ErrorContains(t, p.Validate(), `undeclared role "admin"`)
}

func TestLoadPlan(t *testing.T) {
	t.Setenv("ALICE_PASSWORD", "from-env")
	path := filepath.Join(t.TempDir(), "realm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
realm:
  name: platform-engine-realm
  registration_allowed: true
roles: [customer]
clients:
  - client_id: platform-engine-web
    public: true
    standard_flow: true
    redirect_uris: ["https://example.com/*"]
users:
  - username: alice@example.com
    password: ${ALICE_PASSWORD}
    roles: [customer]
`), 0600))

	p, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, "platform-engine-realm", p.Realm.Name)
	assert.True(t, p.Realm.RegistrationAllowed)
	require.Len(t, p.Clients, 1)
	assert.True(t, p.Clients[0].Public)
	require.Len(t, p.Users, 1)
	assert.Equal(t, "from-env", p.Users[0].Password)
}

func TestLoadPlan_Missing(t *testing.T) {
	_, err := LoadPlan(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

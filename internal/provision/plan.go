// ABOUTME: Desired realm state for provisioning, loaded from YAML or built from defaults
// ABOUTME: Realm settings, web and API clients, realm roles and users with permanent passwords

package provision

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/2389/platform-engine/internal/config"
)

// Plan is the desired state of one realm.
type Plan struct {
	Realm   RealmSpec    `yaml:"realm"`
	Roles   []string     `yaml:"roles"`
	Clients []ClientSpec `yaml:"clients"`
	Users   []UserSpec   `yaml:"users"`
}

// RealmSpec holds the realm settings.
type RealmSpec struct {
	Name                        string `yaml:"name"`
	RegistrationAllowed         bool   `yaml:"registration_allowed"`
	RegistrationEmailAsUsername bool   `yaml:"registration_email_as_username"`
	LoginWithEmailAllowed       bool   `yaml:"login_with_email_allowed"`
	VerifyEmail                 bool   `yaml:"verify_email"`
	SSLRequired                 string `yaml:"ssl_required"`
	BruteForceProtected         bool   `yaml:"brute_force_protected"`
}

// ClientSpec describes one OIDC client.
type ClientSpec struct {
	ClientID               string   `yaml:"client_id"`
	Name                   string   `yaml:"name"`
	Description            string   `yaml:"description"`
	Public                 bool     `yaml:"public"`
	StandardFlow           bool     `yaml:"standard_flow"`
	DirectAccessGrants     bool     `yaml:"direct_access_grants"`
	ServiceAccounts        bool     `yaml:"service_accounts"`
	RedirectURIs           []string `yaml:"redirect_uris"`
	WebOrigins             []string `yaml:"web_origins"`
	PostLogoutRedirectURIs []string `yaml:"post_logout_redirect_uris"`
}

// UserSpec describes one user. Passwords are set as non-temporary.
type UserSpec struct {
	Username      string   `yaml:"username"`
	Email         string   `yaml:"email"`
	FirstName     string   `yaml:"first_name"`
	LastName      string   `yaml:"last_name"`
	Password      string   `yaml:"password"`
	EmailVerified bool     `yaml:"email_verified"`
	Roles         []string `yaml:"roles"`
}

// DefaultPlan returns the realm used by the web site and the items API.
// webOrigin is the site origin, e.g. http://localhost:3000; apiOrigin the API's.
func DefaultPlan(realm, webOrigin, apiOrigin string) Plan {
	webOrigin = strings.TrimRight(webOrigin, "/")
	apiOrigin = strings.TrimRight(apiOrigin, "/")
	return Plan{
		Realm: RealmSpec{
			Name:                        realm,
			RegistrationAllowed:         true,
			RegistrationEmailAsUsername: true,
			LoginWithEmailAllowed:       true,
			SSLRequired:                 "external",
			BruteForceProtected:         true,
		},
		Roles: []string{"customer"},
		Clients: []ClientSpec{
			{
				ClientID:               "platform-engine-web",
				Name:                   "Platform Engine Web Application",
				Description:            "Marketing site and account pages",
				Public:                 true,
				StandardFlow:           true,
				RedirectURIs:           []string{webOrigin + "/*"},
				WebOrigins:             []string{webOrigin},
				PostLogoutRedirectURIs: []string{webOrigin + "/"},
			},
			{
				ClientID:           "platform-engine-api",
				Name:               "Platform Engine API Service",
				Description:        "Per-user items API",
				StandardFlow:       true,
				DirectAccessGrants: true,
				ServiceAccounts:    true,
				RedirectURIs:       []string{apiOrigin + "/*"},
			},
		},
	}
}

// LoadPlan reads a YAML plan. ${VAR} references are expanded so passwords can
// stay in the environment.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("reading plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal([]byte(config.ExpandEnv(string(data))), &p); err != nil {
		return Plan{}, fmt.Errorf("parsing plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Validate checks names are present and unique.
func (p Plan) Validate() error {
	if p.Realm.Name == "" {
		return errors.New("plan: realm.name is required")
	}
	seen := map[string]bool{}
	for _, c := range p.Clients {
		if c.ClientID == "" {
			return errors.New("plan: client_id is required for every client")
		}
		if seen[c.ClientID] {
			return fmt.Errorf("plan: duplicate client %q", c.ClientID)
		}
		seen[c.ClientID] = true
	}
	roles := map[string]bool{}
	for _, r := range p.Roles {
		roles[r] = true
	}
	for _, u := range p.Users {
		for _, r := range u.Roles {
			if !roles[r] {
				return fmt.Errorf("plan: user %q references undeclared role %q", u.Username, r)
			}
		}
	}
	return nil
}

func (r RealmSpec) rep() RealmRep {
	return RealmRep{
		Realm:                       r.Name,
		Enabled:                     true,
		RegistrationAllowed:         r.RegistrationAllowed,
		RegistrationEmailAsUsername: r.RegistrationEmailAsUsername,
		LoginWithEmailAllowed:       r.LoginWithEmailAllowed,
		DuplicateEmailsAllowed:      false,
		VerifyEmail:                 r.VerifyEmail,
		SSLRequired:                 r.SSLRequired,
		BruteForceProtected:         r.BruteForceProtected,
		FailureFactor:               30,
		MaxFailureWaitSeconds:       900,
	}
}

func (c ClientSpec) rep() ClientRep {
	name := c.Name
	if name == "" {
		name = c.ClientID
	}
	attrs := map[string]string{}
	if len(c.PostLogoutRedirectURIs) > 0 {
		attrs["post.logout.redirect.uris"] = strings.Join(c.PostLogoutRedirectURIs, "##")
	}
	if c.Public {
		attrs["pkce.code.challenge.method"] = "S256"
	}
	return ClientRep{
		ClientID:                  c.ClientID,
		Name:                      name,
		Description:               c.Description,
		Enabled:                   true,
		Protocol:                  "openid-connect",
		PublicClient:              c.Public,
		StandardFlowEnabled:       c.StandardFlow,
		DirectAccessGrantsEnabled: c.DirectAccessGrants,
		ServiceAccountsEnabled:    c.ServiceAccounts && !c.Public,
		RedirectURIs:              c.RedirectURIs,
		WebOrigins:                c.WebOrigins,
		Attributes:                attrs,
	}
}

func (u UserSpec) rep() UserRep {
	rep := UserRep{
		Username:      strings.TrimSpace(u.Username),
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Enabled:       true,
		EmailVerified: u.EmailVerified,
	}
	if u.Password != "" {
		rep.Credentials = []CredentialRep{{Type: "password", Value: u.Password, Temporary: false}}
	}
	return rep
}

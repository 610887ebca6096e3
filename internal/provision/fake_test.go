// ABOUTME: In-memory Keycloak admin API for provisioning tests
// ABOUTME: Password grant on master, realms, clients, users, realm roles and role mappings

package provision

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

const (
	fakeAdminUser  = "admin"
	fakeAdminPass  = "change_me"
	fakeAdminToken = "admin-token"
)

type fakeRealm struct {
	rep      RealmRep
	clients  map[string]ClientRep // by internal id
	users    map[string]UserRep   // by id
	roles    map[string]RoleRep   // by name
	mappings map[string][]RoleRep // user id -> roles
}

// fakeKeycloak is a minimal admin API.
type fakeKeycloak struct {
	srv *httptest.Server

	mu          sync.Mutex
	realms      map[string]*fakeRealm
	failLogins  int
	logins      int
	writes      int
	failUsers   map[string]bool
	lastRealmUp RealmRep
}

func newFakeKeycloak(t *testing.T) *fakeKeycloak {
	t.Helper()
	f := &fakeKeycloak{realms: map[string]*fakeRealm{}, failUsers: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/master/protocol/openid-connect/token", f.token)
	mux.HandleFunc("GET /admin/realms", f.auth(f.listRealms))
	mux.HandleFunc("POST /admin/realms", f.auth(f.createRealm))
	mux.HandleFunc("PUT /admin/realms/{realm}", f.auth(f.updateRealm))
	mux.HandleFunc("GET /admin/realms/{realm}/clients", f.auth(f.listClients))
	mux.HandleFunc("POST /admin/realms/{realm}/clients", f.auth(f.createClient))
	mux.HandleFunc("PUT /admin/realms/{realm}/clients/{id}", f.auth(f.updateClient))
	mux.HandleFunc("GET /admin/realms/{realm}/users", f.auth(f.listUsers))
	mux.HandleFunc("POST /admin/realms/{realm}/users", f.auth(f.createUser))
	mux.HandleFunc("GET /admin/realms/{realm}/roles", f.auth(f.listRoles))
	mux.HandleFunc("POST /admin/realms/{realm}/roles", f.auth(f.createRole))
	mux.HandleFunc("GET /admin/realms/{realm}/users/{id}/role-mappings/realm", f.auth(f.listMappings))
	mux.HandleFunc("POST /admin/realms/{realm}/users/{id}/role-mappings/realm", f.auth(f.addMappings))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeKeycloak) creds() Credentials {
	return Credentials{URL: f.srv.URL, Username: fakeAdminUser, Password: fakeAdminPass}
}

// addUser seeds a user directly.
func (f *fakeKeycloak) addUser(realm string, u UserRep) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.realm(realm)
	u.ID = uuid.NewString()
	r.users[u.ID] = u
	return u.ID
}

func (f *fakeKeycloak) realm(name string) *fakeRealm {
	r, ok := f.realms[name]
	if !ok {
		r = &fakeRealm{
			rep:      RealmRep{Realm: name, Enabled: true},
			clients:  map[string]ClientRep{},
			users:    map[string]UserRep{},
			roles:    map[string]RoleRep{},
			mappings: map[string][]RoleRep{},
		}
		f.realms[name] = r
	}
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeKeycloak) token(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.failLogins > 0 {
		f.failLogins--
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	_ = r.ParseForm()
	if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("client_id") != "admin-cli" ||
		r.PostForm.Get("username") != fakeAdminUser || r.PostForm.Get("password") != fakeAdminPass {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid user credentials"}`))
		return
	}
	writeJSON(w, map[string]any{
		"access_token":  fakeAdminToken,
		"token_type":    "Bearer",
		"expires_in":    300,
		"refresh_token": "admin-refresh",
	})
}

func (f *fakeKeycloak) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+fakeAdminToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method != http.MethodGet {
			f.writes++
		}
		next(w, r)
	}
}

// lookup returns the path realm or writes 404.
func (f *fakeKeycloak) lookup(w http.ResponseWriter, r *http.Request) *fakeRealm {
	rl, ok := f.realms[r.PathValue("realm")]
	if !ok {
		http.Error(w, `{"error":"Realm not found."}`, http.StatusNotFound)
		return nil
	}
	return rl
}

func (f *fakeKeycloak) listRealms(w http.ResponseWriter, r *http.Request) {
	out := []RealmRep{{Realm: "master", Enabled: true}}
	for _, rl := range f.realms {
		out = append(out, rl.rep)
	}
	writeJSON(w, out)
}

func (f *fakeKeycloak) createRealm(w http.ResponseWriter, r *http.Request) {
	var rep RealmRep
	_ = json.NewDecoder(r.Body).Decode(&rep)
	if _, ok := f.realms[rep.Realm]; ok {
		http.Error(w, `{"errorMessage":"Conflict detected."}`, http.StatusConflict)
		return
	}
	f.realm(rep.Realm).rep = rep
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeKeycloak) updateRealm(w http.ResponseWriter, r *http.Request) {
	rl := f.lookup(w, r)
	if rl == nil {
		return
	}
	var rep RealmRep
	_ = json.NewDecoder(r.Body).Decode(&rep)
	rl.rep = rep
	f.lastRealmUp = rep
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeKeycloak) listClients(w http.ResponseWriter, r *http.Request) {
	rl := f.lookup(w, r)
	if rl == nil {
		return
	}
	want := r.URL.Query().Get("clientId")
	out := []ClientRep{}
	for _, c := range rl.clients {
		if want == "" || c.ClientID == want {
			out = append(out, c)
		}
	}
	writeJSON(w, out)
}

func (f *fakeKeycloak) createClient(w http.ResponseWriter, r *http.Request) {
	rl := f.lookup(w, r)
	if rl == nil {
		return
	}
	var rep ClientRep
	_ = json.NewDecoder(r.Body).Decode(&rep)
	for _, c := range rl.clients {
		if c.ClientID == rep.ClientID {
			w.WriteHeader(http.StatusConflict)
			return
		}
	}
	rep.ID = uuid.NewString()
	rl.clients[rep.ID] = rep
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeKeycloak) updateClient(w http.ResponseWriter, r *http.Request) {
	rl := f.lookup(w, r)
	if rl == nil {
		return
	}
	id := r.PathValue("id")
	if _, ok := rl.clients[id]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var rep ClientRep
	_ = json.NewDecoder(r.Body).Decode(&rep)
	rep.ID = id
	rl.clients[id] = rep
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeKeycloak) listUsers(w http.ResponseWriter, r *http.Request) {
	rl := f.lookup(w, r)
	if rl == nil {
		return
	}
	want := r.URL.Query().Get("username")
	out := []UserRep{}
	for _, u := range rl.users {
		if want == "" || strings.EqualFold(u.Username, want) {
			u.Credentials = nil
			out = append(out, u)
		}
	}
	writeJSON(w, out)
}

func (f *fakeKeycloak) createUser(w http.ResponseWriter, r *http.Request) {
	rl := f.lookup(w, r)
	if rl == nil {
		return
	}
	var rep UserRep
	_ = json.NewDecoder(r.Body).Decode(&rep)
	if f.failUsers[rep.Username] {
		http.Error(w, `{"errorMessage":"Password policy not met"}`, http.StatusBadRequest)
		return
	}
	rep.ID = uuid.NewString()
	rl.users[rep.ID] = rep
	w.Header().Set("Location", f.srv.URL+"/admin/realms/"+rl.rep.Realm+"/users/"+rep.ID)
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeKeycloak) listRoles(w http.ResponseWriter, r *http.Request) {
	rl := f.lookup(w, r)
	if rl == nil {
		return
	}
	out := []RoleRep{}
	for _, role := range rl.roles {
		out = append(out, role)
	}
	writeJSON(w, out)
}

func (f *fakeKeycloak) createRole(w http.ResponseWriter, r *http.Request) {
	rl := f.lookup(w, r)
	if rl == nil {
		return
	}
	var rep RoleRep
	_ = json.NewDecoder(r.Body).Decode(&rep)
	if _, ok := rl.roles[rep.Name]; ok {
		w.WriteHeader(http.StatusConflict)
		return
	}
	rep.ID = uuid.NewString()
	rl.roles[rep.Name] = rep
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeKeycloak) listMappings(w http.ResponseWriter, r *http.Request) {
	rl := f.lookup(w, r)
	if rl == nil {
		return
	}
	out := rl.mappings[r.PathValue("id")]
	if out == nil {
		out = []RoleRep{}
	}
	writeJSON(w, out)
}

func (f *fakeKeycloak) addMappings(w http.ResponseWriter, r *http.Request) {
	rl := f.lookup(w, r)
	if rl == nil {
		return
	}
	var roles []RoleRep
	_ = json.NewDecoder(r.Body).Decode(&roles)
	for _, role := range roles {
		if role.ID == "" {
			http.Error(w, `{"error":"role id required"}`, http.StatusBadRequest)
			return
		}
	}
	id := r.PathValue("id")
	rl.mappings[id] = append(rl.mappings[id], roles...)
	w.WriteHeader(http.StatusNoContent)
}

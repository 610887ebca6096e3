// Package provision prepares the Keycloak realm the site and the items API
// rely on.
//
// Connect logs in to the master realm with the admin-cli password grant and
// WaitForKeycloak retries that login while Keycloak is starting. A Plan names
// the realm settings, realm roles, OIDC clients and users; Apply creates what
// is missing, rewrites realm and client settings, and never resets the
// password of an existing user. A user that cannot be created is reported and
// skipped so one bad entry does not block the rest.
package provision

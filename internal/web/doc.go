// Package web renders the Platform Engine site on the server.
//
// # Overview
//
// The public pages (home, services, contact) are always available. The
// account and items pages sit behind [session.Gate]: until the identity
// client has initialized they show a short "Checking authentication..."
// placeholder that reloads itself. Afterwards an anonymous visitor sees an
// "Authentication Required" card with sign-in and registration links rather
// than a redirect.
//
// # Items
//
// GET /my-items renews the access token when it is close to expiry and then
// performs a single fetch from the items API. When the API rejects the token
// the page shows the expiry message and sends the browser to sign in again
// once. The Refresh button posts to /my-items/refresh, which redirects back
// to GET /my-items.
//
// # Forms
//
// All POST forms carry a double-submit CSRF token. Contact submissions are
// rate limited per client address, stored, and relayed to the configured
// notifier in the background.
//
// # Language
//
// Page text comes from the i18n catalogs; Home and Services bodies are
// Markdown files under content/, one per language, rendered with goldmark.
package web

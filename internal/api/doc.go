// Package api implements the items API the web front-end calls.
//
// # Routes
//
//	GET /api/public                  "No Authorization need it"
//	GET /api/private                 verified token claims (bearer)
//	GET /api/users/{userId}/items    {"items": [...]} (bearer, own user only)
//
// Bearer tokens are checked by auth.HTTPAuthMiddleware; failures are 401
// with a JSON {"error": ...} body. A token may only read the items of its
// own subject unless it carries the configured admin realm role.
//
// # CORS
//
// Requests from an allowed Origin get Access-Control-Allow-Origin echoed
// back. Preflight OPTIONS requests are answered with 204 before routing.
//
// # Seeding
//
// Seed loads DemoItems, the item lists of the two demonstration users.
package api

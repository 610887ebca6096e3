// Package items fetches a signed-in user's item list from the items API and
// maps the outcome to what the items page shows.
package items

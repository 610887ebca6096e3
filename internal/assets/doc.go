// Package assets embeds the stylesheet and images of the marketing site and
// serves them under /static/.
//
// Templates reference files through [URL], which appends a short content hash
// ("site.css" becomes "/static/site.1a2b3c4d.css"). Fingerprinted requests are
// cached for a year; plain names are revalidated on every request.
package assets

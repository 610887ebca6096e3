// Package notify relays contact form submissions to staff. The Matrix
// notifier posts an m.notice to one room using a bot access token.
package notify

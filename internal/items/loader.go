// ABOUTME: Item listing fetch for the items page
// ABOUTME: Renews the token if needed, calls the API once and maps the outcome to a view

package items

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// User-facing messages. They double as message catalog keys.
const (
	MsgAuthExpired = "Authentication expired. Please sign in again."
	MsgHTTPError   = "Error fetching items: %d %s"
	MsgUnexpected  = "Unexpected error occurred while fetching items."
)

// Lister is the API call the loader makes.
type Lister interface {
	List(ctx context.Context, userID, accessToken string) ([]Item, error)
}

// Request describes one fetch.
type Request struct {
	UserID      string
	AccessToken string
	// Renew, when set, returns an access token with enough validity left.
	// An error wrapping ErrUnauthorized means the session has ended; any
	// other error is reported as unexpected.
	Renew func(ctx context.Context) (string, error)
	// Relogin is invoked once when the API rejects the token.
	Relogin func()
}

// Message is a catalog key with its arguments.
type Message struct {
	Key  string
	Args []any
}

// String renders the message in English.
func (m Message) String() string {
	if m.Key == "" {
		return ""
	}
	return fmt.Sprintf(m.Key, m.Args...)
}

// View is the state the items page renders. Items is replaced wholesale on
// success and left empty on failure.
type View struct {
	Items   []Item
	Loading bool
	Error   *Message
}

// Loader performs the fetch.
type Loader struct {
	lister Lister
	logger *slog.Logger
}

// NewLoader creates a loader over lister.
func NewLoader(lister Lister) *Loader {
	return &Loader{
		lister: lister,
		logger: slog.Default().With("component", "items"),
	}
}

// Load fetches the list once. Loading is always false in the result.
func (l *Loader) Load(ctx context.Context, req Request) View {
	token := req.AccessToken
	if req.Renew != nil {
		renewed, err := req.Renew(ctx)
		if errors.Is(err, ErrUnauthorized) {
			l.logger.Warn("session ended before fetch", "error", err)
			return l.unauthorized(req)
		}
		if err != nil {
			l.logger.Error("renewing token before fetch", "error", err)
			return View{Items: []Item{}, Error: &Message{Key: MsgUnexpected}}
		}
		token = renewed
	}

	items, err := l.lister.List(ctx, req.UserID, token)
	if err == nil {
		return View{Items: items}
	}

	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return l.unauthorized(req)
	case errors.As(err, &statusErr):
		l.logger.Warn("items API error", "status", statusErr.Code)
		return View{Items: []Item{}, Error: &Message{Key: MsgHTTPError, Args: []any{statusErr.Code, statusErr.Text}}}
	default:
		l.logger.Error("fetching items", "error", err)
		return View{Items: []Item{}, Error: &Message{Key: MsgUnexpected}}
	}
}

func (l *Loader) unauthorized(req Request) View {
	if req.Relogin != nil {
		req.Relogin()
	}
	return View{Items: []Item{}, Error: &Message{Key: MsgAuthExpired}}
}

// ABOUTME: Contact form display and submission
// ABOUTME: CSRF check, per-client rate limit, validation, persistence, then an asynchronous relay

package web

import (
	"context"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/platform-engine/internal/store"
)

// Field limits for contact submissions, in runes.
const (
	maxNameLen    = 200
	maxSubjectLen = 200
	maxMessageLen = 5000
)

func (s *Site) handleContact(w http.ResponseWriter, r *http.Request) {
	data := s.newPage(w, r, "contact.title", "contact")
	data.Subtitle = "contact.intro"
	if r.URL.Query().Get("sent") == "1" {
		data.Notice = "contact.sent"
	}
	s.render(w, http.StatusOK, "contact", data)
}

func (s *Site) handleContactSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	parseErr := r.ParseForm()

	data := s.newPage(w, r, "contact.title", "contact")
	data.Subtitle = "contact.intro"
	data.Form = contactForm{
		Name:    strings.TrimSpace(r.PostFormValue("name")),
		Email:   strings.TrimSpace(r.PostFormValue("email")),
		Subject: strings.TrimSpace(r.PostFormValue("subject")),
		Message: strings.TrimSpace(r.PostFormValue("message")),
	}

	fail := func(status int, key, outcome string) {
		s.observer.ObserveContact(outcome)
		data.Error = key
		s.render(w, status, "contact", data)
	}

	if parseErr != nil {
		fail(http.StatusBadRequest, "contact.invalid", "invalid")
		return
	}
	if !validateCSRF(r) {
		fail(http.StatusForbidden, "contact.csrf", "csrf")
		return
	}
	if !s.limiter.Allow(clientKey(r)) {
		s.logger.Warn("contact form rate limited", "client", clientKey(r))
		fail(http.StatusTooManyRequests, "contact.rate_limited", "rate_limited")
		return
	}
	if !validContact(data.Form) {
		fail(http.StatusBadRequest, "contact.invalid", "invalid")
		return
	}

	msg := &store.ContactMessage{
		ID:        uuid.NewString(),
		Name:      data.Form.Name,
		Email:     data.Form.Email,
		Subject:   data.Form.Subject,
		Message:   data.Form.Message,
		Language:  data.Lang,
		RemoteIP:  clientKey(r),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.contacts.SaveContactMessage(r.Context(), msg); err != nil {
		s.logger.Error("saving contact message", "error", err)
		fail(http.StatusInternalServerError, "contact.failed", "error")
		return
	}

	s.relay(r.Context(), msg)
	s.observer.ObserveContact("ok")
	s.logger.Info("contact message received", "id", msg.ID, "language", msg.Language)
	http.Redirect(w, r, "/contact?sent=1", http.StatusSeeOther)
}

// relay forwards msg to the notifier in the background. Failures are logged;
// the message is already stored.
func (s *Site) relay(ctx context.Context, msg *store.ContactMessage) {
	ctx = context.WithoutCancel(ctx)
	s.relays.Add(1)
	go func() {
		defer s.relays.Done()
		if err := s.notifier.NotifyContact(ctx, msg); err != nil {
			s.logger.Warn("relaying contact message failed", "id", msg.ID, "error", err)
		}
	}()
}

func validContact(f contactForm) bool {
	if f.Name == "" || f.Message == "" || f.Email == "" {
		return false
	}
	if utf8.RuneCountInString(f.Name) > maxNameLen ||
		utf8.RuneCountInString(f.Subject) > maxSubjectLen ||
		utf8.RuneCountInString(f.Message) > maxMessageLen {
		return false
	}
	addr, err := mail.ParseAddress(f.Email)
	return err == nil && addr.Address == f.Email
}

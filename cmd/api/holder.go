package main

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// Holder identifies who owns a basket or reservation: an authenticated user
// id supplied by the upstream auth layer, or an anonymous session token.
type Holder struct {
	UserID       int64
	UserEmail    string
	UserName     string
	SessionToken string
}

func (h Holder) Authenticated() bool {
	return h.UserID > 0
}

// Key is the reservation-holder string: stable per account for
// authenticated users, per browser session otherwise.
func (h Holder) Key() string {
	if h.Authenticated() {
		return "user:" + strconv.FormatInt(h.UserID, 10)
	}
	return "session:" + h.SessionToken
}

type contextKey string

const holderContextKey contextKey = "holder"

const sessionCookieName = "session_token"

// withHolder resolves the request's holder. Authentication itself lives
// upstream: a trusted proxy sets X-User-ID for logged-in customers.
// Anonymous visitors get a session-token cookie minted on first contact.
func (s *server) withHolder(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		holder := Holder{
			UserEmail: r.Header.Get("X-User-Email"),
			UserName:  r.Header.Get("X-User-Name"),
		}

		if raw := r.Header.Get("X-User-ID"); raw != "" {
			if userID, err := strconv.ParseInt(raw, 10, 64); err == nil && userID > 0 {
				holder.UserID = userID
			}
		}

		if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
			holder.SessionToken = cookie.Value
		} else {
			holder.SessionToken = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    holder.SessionToken,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), holderContextKey, holder)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func holderFrom(r *http.Request) Holder {
	holder, _ := r.Context().Value(holderContextKey).(Holder)
	return holder
}

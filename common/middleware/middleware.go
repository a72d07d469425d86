package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	hr "github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"pinboard.io/pinboard/auth"
)

type Middleware func(hr.Handle) hr.Handle

// Chain composites given handler and middlewares
func Chain(h hr.Handle, ms ...Middleware) hr.Handle {
	for _, m := range ms {
		h = m(h)
	}
	return h
}

// PanicRecoverer recovers from panic of underlying handlers
func PanicRecoverer() Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			defer func() {
				if rsn := recover(); rsn != nil {
					log.WithField("panicReason", rsn).Error("got panic from underlying handler")
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			h(w, r, p)
		}
	}
}

type ctxKey int

const ctxKeyUserID ctxKey = iota

// Authenticate rejects requests lacking a valid bearer token and threads the
// authenticated user id through the request context for handlers to pick up
// via RequesterID.
func Authenticate(secret []byte) Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "no token")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w, "invalid authorization header")
				return
			}
			uid, err := auth.Verify(parts[1], secret)
			if err != nil {
				log.WithError(err).Debug("rejecting request with invalid token")
				unauthorized(w, "invalid token")
				return
			}
			h(w, r.WithContext(context.WithValue(r.Context(), ctxKeyUserID, uid)), p)
		}
	}
}

// RequesterID returns the authenticated user id threaded through by Authenticate.
func RequesterID(r *http.Request) (string, bool) {
	uid, ok := r.Context().Value(ctxKeyUserID).(string)
	return uid, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"msg": msg})
}

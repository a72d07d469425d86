package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	hr "github.com/julienschmidt/httprouter"
	"pinboard.io/pinboard/auth"
	"pinboard.io/pinboard/common/logging"
	mw "pinboard.io/pinboard/common/middleware"
	se "pinboard.io/pinboard/errors"
	md "pinboard.io/pinboard/models"
	"pinboard.io/pinboard/pins"
	st "pinboard.io/pinboard/stores"
)

const uploadsPrefix = "/uploads/"

type credentials struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string   `json:"token"`
	User  *md.User `json:"user"`
}

func handleRegister(users st.UserStore, secret []byte) hr.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ hr.Params) {
		clog := logging.WithFuncName()
		var c credentials
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			respondErr(w, se.NewBadInput("malformed request body").WithCause(err))
			return
		}
		if err := validateCredentials(&c); err != nil {
			respondErr(w, err)
			return
		}
		u, err := users.Register(c.Username, c.Email, c.Password)
		if err != nil {
			respondErr(w, err)
			return
		}
		token, err := auth.Mint(u.ID, secret)
		if err != nil {
			clog.WithError(err).Error("error minting token for fresh user")
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, &authResponse{Token: token, User: u})
	}
}

func validateCredentials(c *credentials) *se.Err {
	if len(strings.TrimSpace(c.Username)) < 3 {
		return se.NewBadInput("username must be at least 3 characters")
	}
	if !strings.Contains(c.Email, "@") {
		return se.NewBadInput("invalid email address")
	}
	if len(c.Password) < 6 {
		return se.NewBadInput("password must be at least 6 characters")
	}
	return nil
}

func handleLogin(users st.UserStore, secret []byte) hr.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ hr.Params) {
		var c credentials
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			respondErr(w, se.NewBadInput("malformed request body").WithCause(err))
			return
		}
		u, err := users.Authenticate(c.Email, c.Password)
		if err != nil {
			respondErr(w, err)
			return
		}
		token, err := auth.Mint(u.ID, secret)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, &authResponse{Token: token, User: u})
	}
}

// handleListPins serves the feed: optional search term, page and limit query params.
func handleListPins(listing *pins.Listing) hr.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ hr.Params) {
		q := r.URL.Query()
		page := intParam(q.Get("page"), 1)
		limit := intParam(q.Get("limit"), pins.DefaultPageSize)
		pg, err := listing.List(r.Context(), q.Get("search"), page, limit)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, pg)
	}
}

func handleListUserPins(listing *pins.Listing) hr.Handle {
	return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		us, err := listing.ListByUser(r.Context(), p.ByName("userId"))
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, us)
	}
}

func handleCreatePin(mutation *pins.Mutation, files st.FileStore, maxBodySize int64) hr.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ hr.Params) {
		clog := logging.WithFuncName()
		requester, ok := mw.RequesterID(r)
		if !ok {
			respondErr(w, se.NewUnauthorized("authentication required"))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		f, fh, err := r.FormFile("image")
		if err != nil {
			respondErr(w, se.NewBadInput("Image file is required").WithCause(err))
			return
		}
		defer f.Close()
		ref := files.Ref(fh.Filename)
		if serr := files.Save(ref, f); serr != nil {
			respondErr(w, serr)
			return
		}
		pin := &md.Pin{
			Title:       r.FormValue("title"),
			Description: r.FormValue("description"),
			Image:       uploadsPrefix + ref,
		}
		created, cerr := mutation.Create(r.Context(), requester, pin)
		if cerr != nil {
			// don't leave the uploaded image orphaned
			if derr := files.Delete(ref); derr != nil {
				clog.WithError(derr).WithField("imageRef", ref).Error("error removing image of failed pin")
			}
			respondErr(w, cerr)
			return
		}
		respondJSON(w, http.StatusCreated, created)
	}
}

func handleUpdatePin(mutation *pins.Mutation) hr.Handle {
	return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		requester, ok := mw.RequesterID(r)
		if !ok {
			respondErr(w, se.NewUnauthorized("authentication required"))
			return
		}
		var u md.PinUpdate
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			respondErr(w, se.NewBadInput("malformed request body").WithCause(err))
			return
		}
		updated, err := mutation.Update(r.Context(), requester, p.ByName("id"), u)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, updated)
	}
}

func handleDeletePin(mutation *pins.Mutation, files st.FileStore) hr.Handle {
	return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		clog := logging.WithFuncName()
		requester, ok := mw.RequesterID(r)
		if !ok {
			respondErr(w, se.NewUnauthorized("authentication required"))
			return
		}
		deleted, err := mutation.Delete(r.Context(), requester, p.ByName("id"))
		if err != nil {
			respondErr(w, err)
			return
		}
		if ref := strings.TrimPrefix(deleted.Image, uploadsPrefix); ref != deleted.Image {
			if derr := files.Delete(ref); derr != nil {
				clog.WithError(derr).WithField("imageRef", ref).Error("error removing image of deleted pin")
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"msg": "pin deleted"})
	}
}

func handleHealth(sel *st.Selector) hr.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ hr.Params) {
		respondJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"pinStore": sel.Mode(),
		})
	}
}

func intParam(raw string, dflt int) int {
	if raw == "" {
		return dflt
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return dflt
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.WithFuncName().WithError(err).Error("error writing response body")
	}
}

func respondErr(w http.ResponseWriter, e *se.Err) {
	status := e.StatusCode()
	if status >= http.StatusInternalServerError {
		logging.WithFuncName().WithField("trace", e.Trace()).Error("request failed")
	}
	respondJSON(w, status, map[string]string{"msg": e.Error()})
}

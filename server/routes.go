package main

import (
	"net/http"

	hr "github.com/julienschmidt/httprouter"
	mw "pinboard.io/pinboard/common/middleware"
	"pinboard.io/pinboard/pins"
	st "pinboard.io/pinboard/stores"
)

type appDeps struct {
	listing   *pins.Listing
	mutation  *pins.Mutation
	users     st.UserStore
	files     st.FileStore
	sel       *st.Selector
	secret    []byte
	uploadDir string
	// caps the multipart body of pin creation requests
	maxBodySize int64
}

func setupMux(d *appDeps) *hr.Router {
	router := hr.New()
	recoverer := mw.PanicRecoverer()
	authn := mw.Authenticate(d.secret)

	router.POST("/api/register", mw.Chain(handleRegister(d.users, d.secret), recoverer))
	router.POST("/api/login", mw.Chain(handleLogin(d.users, d.secret), recoverer))

	router.GET("/api/pins", mw.Chain(handleListPins(d.listing), recoverer))
	router.GET("/api/pins/user/:userId", mw.Chain(handleListUserPins(d.listing), recoverer))
	router.POST("/api/pins", mw.Chain(handleCreatePin(d.mutation, d.files, d.maxBodySize), authn, recoverer))
	router.PUT("/api/pins/:id", mw.Chain(handleUpdatePin(d.mutation), authn, recoverer))
	router.DELETE("/api/pins/:id", mw.Chain(handleDeletePin(d.mutation, d.files), authn, recoverer))

	router.GET("/api/health", mw.Chain(handleHealth(d.sel), recoverer))

	router.ServeFiles(uploadsPrefix+"*filepath", http.Dir(d.uploadDir))
	return router
}

package stores

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	_ "github.com/go-kivik/couchdb/v3" // couch driver
	kivik "github.com/go-kivik/kivik/v3"
	"github.com/segmentio/ksuid"
	log "github.com/sirupsen/logrus"
	"pinboard.io/pinboard/common/logging"
	rt "pinboard.io/pinboard/common/retry"
	se "pinboard.io/pinboard/errors"
	md "pinboard.io/pinboard/models"
)

// PinStore vends the capability set to manage pin records. Both the persistent store and the
// in-process fallback implement it so that callers stay store-agnostic.
type PinStore interface {
	// Create stores the pin. A store assigns the id when p.ID is empty and keeps it otherwise.
	Create(ctx context.Context, p *md.Pin) *se.Err
	Get(ctx context.Context, id string) (*md.Pin, *se.Err)
	// Update applies the partial fields to the stored pin. Fails with NotFound if id is absent.
	Update(ctx context.Context, id string, u md.PinUpdate) (*md.Pin, *se.Err)
	// Delete removes the pin. Fails with NotFound if id is absent.
	Delete(ctx context.Context, id string) *se.Err
	// Search returns ALL pins matching term per models.Pin.Matches semantics; pagination and
	// ordering are the listing service's business.
	Search(ctx context.Context, term string) ([]*md.Pin, *se.Err)
	ListByOwner(ctx context.Context, ownerID string) ([]*md.Pin, *se.Err)
	Close() *se.Err
}

// CouchStore is the PinStore implementation on CouchDB.
type CouchStore struct {
	client *kivik.Client
	dbName string

	mu    sync.Mutex
	db    *kivik.DB
	ready bool
}

type CouchConfig struct {
	Addr             string // e.g. http://couchdb:5984
	Username, Passwd string
	DBName           string
}

// results above this are beyond what a board realistically holds; CouchDB's Find
// defaults to 25 otherwise
const couchFindLimit = 100000

// couchDoc is the CouchDB shape of a pin
type couchDoc struct {
	ID          string    `json:"_id"`
	Rev         string    `json:"_rev,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	OwnerID     string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toDoc(p *md.Pin) *couchDoc {
	return &couchDoc{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Image:       p.Image,
		OwnerID:     p.OwnerID,
		CreatedAt:   p.CreatedAt,
	}
}

func (d *couchDoc) toPin() *md.Pin {
	return &md.Pin{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Image:       d.Image,
		OwnerID:     d.OwnerID,
		CreatedAt:   d.CreatedAt,
	}
}

// NewCouchStore wires up the client without touching the network; call Ready before first use.
func NewCouchStore(cfg *CouchConfig) (*CouchStore, *se.Err) {
	u, err := url.Parse(cfg.Addr)
	if err != nil {
		return nil, se.NewBadInput("invalid CouchDB address").WithCause(err)
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Passwd)
	}
	client, err := kivik.New("couch", u.String())
	if err != nil {
		return nil, se.NewServiceFailure("error creating CouchDB client").WithCause(err)
	}
	return &CouchStore{client: client, dbName: cfg.DBName}, nil
}

// Ready pings CouchDB and lazily provisions the pin database and its createdAt index.
// Safe to call repeatedly; the selector uses it as its recovery probe.
func (s *CouchStore) Ready(ctx context.Context) *se.Err {
	if _, err := s.client.Ping(ctx); err != nil {
		return se.NewUnavailable("CouchDB unreachable").WithCause(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.DBExists(ctx, s.dbName)
	if err != nil {
		return s.toErr(err, "error checking pin database existence")
	}
	if !exists {
		if err := s.client.CreateDB(ctx, s.dbName); err != nil {
			// racing setups are fine, someone else made it
			if kivik.StatusCode(err) != http.StatusPreconditionFailed {
				return s.toErr(err, "error creating pin database")
			}
		}
	}
	db := s.client.DB(ctx, s.dbName)
	if err := db.Err(); err != nil {
		return s.toErr(err, "error opening pin database")
	}
	idx := map[string]interface{}{"fields": []string{"createdAt"}}
	if err := db.CreateIndex(ctx, "", "pins-by-creation", idx); err != nil {
		return s.toErr(err, "error creating creation-time index")
	}
	s.db = db
	s.ready = true
	return nil
}

func (s *CouchStore) pinDB() (*kivik.DB, *se.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, se.NewUnavailable("CouchDB pin database not provisioned")
	}
	return s.db, nil
}

func (s *CouchStore) Create(ctx context.Context, p *md.Pin) *se.Err {
	db, perr := s.pinDB()
	if perr != nil {
		return perr
	}
	if p.ID == "" {
		kid, err := ksuid.NewRandom()
		if err != nil {
			return se.NewServiceFailure("error generating pin id").WithCause(err)
		}
		p.ID = kid.String()
	}
	if _, err := db.Put(ctx, p.ID, toDoc(p)); err != nil {
		log.WithError(err).WithField("pinID", p.ID).Error("error saving pin to CouchDB")
		return s.toErr(err, "error saving pin")
	}
	return nil
}

func (s *CouchStore) Get(ctx context.Context, id string) (*md.Pin, *se.Err) {
	doc, err := s.getDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	return doc.toPin(), nil
}

func (s *CouchStore) getDoc(ctx context.Context, id string) (*couchDoc, *se.Err) {
	db, perr := s.pinDB()
	if perr != nil {
		return nil, perr
	}
	var doc couchDoc
	if err := db.Get(ctx, id).ScanDoc(&doc); err != nil {
		return nil, s.toErr(err, "error getting pin")
	}
	return &doc, nil
}

func (s *CouchStore) Update(ctx context.Context, id string, u md.PinUpdate) (*md.Pin, *se.Err) {
	db, perr := s.pinDB()
	if perr != nil {
		return nil, perr
	}
	doc, gerr := s.getDoc(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	pin := doc.toPin()
	pin.Apply(u)
	next := toDoc(pin)
	next.Rev = doc.Rev
	if _, err := db.Put(ctx, id, next); err != nil {
		log.WithError(err).WithField("pinID", id).Error("error updating pin in CouchDB")
		return nil, s.toErr(err, "error updating pin")
	}
	return pin, nil
}

func (s *CouchStore) Delete(ctx context.Context, id string) *se.Err {
	db, perr := s.pinDB()
	if perr != nil {
		return perr
	}
	doc, gerr := s.getDoc(ctx, id)
	if gerr != nil {
		return gerr
	}
	if _, err := db.Delete(ctx, id, doc.Rev); err != nil {
		log.WithError(err).WithField("pinID", id).Error("error deleting pin from CouchDB")
		return s.toErr(err, "error deleting pin")
	}
	return nil
}

func (s *CouchStore) Search(ctx context.Context, term string) ([]*md.Pin, *se.Err) {
	return s.find(ctx, searchSelector(term))
}

func (s *CouchStore) ListByOwner(ctx context.Context, ownerID string) ([]*md.Pin, *se.Err) {
	return s.find(ctx, ownerSelector(ownerID))
}

func (s *CouchStore) find(ctx context.Context, selector map[string]interface{}) ([]*md.Pin, *se.Err) {
	db, perr := s.pinDB()
	if perr != nil {
		return nil, perr
	}
	clog := logging.WithFuncName()
	query := map[string]interface{}{
		"selector": selector,
		"sort":     []map[string]string{{"createdAt": "desc"}},
		"limit":    couchFindLimit,
	}
	rows, err := db.Find(ctx, query)
	if err != nil {
		clog.WithError(err).Error("error querying pins from CouchDB")
		return nil, s.toErr(err, "error querying pins")
	}
	defer rows.Close()
	pins := []*md.Pin{}
	for rows.Next() {
		var doc couchDoc
		if err := rows.ScanDoc(&doc); err != nil {
			clog.WithError(err).Error("error unmarshalling pin document")
			return nil, se.NewServiceFailure("error unmarshalling pin document").WithCause(err)
		}
		pins = append(pins, doc.toPin())
	}
	if err := rows.Err(); err != nil {
		clog.WithError(err).Error("error iterating pin documents")
		return nil, s.toErr(err, "error reading pins")
	}
	return pins, nil
}

// searchSelector builds the Mango selector for a case-insensitive substring search over
// title and description. createdAt guard keeps the sort backed by the index.
func searchSelector(term string) map[string]interface{} {
	base := map[string]interface{}{"createdAt": map[string]interface{}{"$gt": nil}}
	if term == "" {
		return base
	}
	pattern := "(?i)" + regexp.QuoteMeta(term)
	return map[string]interface{}{
		"$and": []map[string]interface{}{
			base,
			{
				"$or": []map[string]interface{}{
					{"title": map[string]interface{}{"$regex": pattern}},
					{"description": map[string]interface{}{"$regex": pattern}},
				},
			},
		},
	}
}

func ownerSelector(ownerID string) map[string]interface{} {
	return map[string]interface{}{
		"userId":    ownerID,
		"createdAt": map[string]interface{}{"$gt": nil},
	}
}

func (s *CouchStore) Close() *se.Err {
	if err := s.client.Close(context.Background()); err != nil {
		return se.NewServiceFailure("failed close CouchDB client").WithCause(err)
	}
	return nil
}

// toErr translates driver errors into the application taxonomy. Connectivity failures get the
// unavailability code so the selector can fail over.
func (s *CouchStore) toErr(err error, msg string) *se.Err {
	switch {
	case err == nil:
		return nil
	case kivik.StatusCode(err) == http.StatusNotFound:
		return se.NewNotFound("pin not found").WithCause(err)
	case kivik.StatusCode(err) == http.StatusConflict:
		return se.NewExisted(msg).WithCause(err)
	case isOffline(err):
		return se.NewUnavailable(msg).WithCause(err)
	default:
		return se.NewServiceFailure(msg).WithCause(err)
	}
}

func isOffline(err error) bool {
	if rt.IsDepOffline(err) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	switch kivik.StatusCode(err) {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

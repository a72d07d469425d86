package stores

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/segmentio/ksuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	se "pinboard.io/pinboard/errors"
	md "pinboard.io/pinboard/models"
)

const (
	bcryptCost = 10

	fieldNameUserName         = "username"
	fieldNameUserEmail        = "email"
	fieldNameUserPasswdHash   = "hash"
	fieldNameUserCreationTime = "creationTime"

	keyTmplUser  = `user.%s`
	keyTmplEmail = `email.%s`

	errMsgInvalidCredentials = "invalid credentials"
)

// UserStore vends operations to manage user accounts and credentials
type UserStore interface {
	// Register creates the user account. Fails with Existed when the email is taken.
	Register(username, email, passwd string) (*md.User, *se.Err)
	// Authenticate checks the credentials and returns the matching user
	Authenticate(email, passwd string) (*md.User, *se.Err)
	Get(id string) (*md.User, *se.Err)
	Close() *se.Err
}

// RedisUserStore is a UserStore implementation driven by Redis.
type RedisUserStore struct {
	DB *redis.Client
}

func (r *RedisUserStore) Register(username, email, passwd string) (*md.User, *se.Err) {
	clog := log.WithField("email", email)
	hash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcryptCost)
	if err != nil {
		clog.WithError(err).Error("error creating user password hash")
		return nil, se.NewServiceFailure("error processing user password").WithCause(err)
	}
	kid, err := ksuid.NewRandom()
	if err != nil {
		clog.WithError(err).Error("error generating user id")
		return nil, se.NewServiceFailure("error generating user id").WithCause(err)
	}
	u := &md.User{
		ID:           kid.String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	// the email index doubles as the uniqueness guard
	ok, err := r.DB.SetNX(emailKey(email), u.ID, 0).Result()
	if err != nil {
		clog.WithError(err).Error("error indexing user email")
		return nil, se.NewServiceFailure("error registering user").WithCause(err)
	}
	if !ok {
		return nil, se.NewExisted("user already exists")
	}
	if _, err := r.DB.HMSet(userKey(u.ID), map[string]interface{}{
		fieldNameUserName:         u.Username,
		fieldNameUserEmail:        u.Email,
		fieldNameUserPasswdHash:   u.PasswordHash,
		fieldNameUserCreationTime: u.CreatedAt.Unix(),
	}).Result(); err != nil {
		clog.WithError(err).Error("error saving user details to redis")
		// drop the index so the email is not burned by a half-written account
		r.DB.Del(emailKey(email))
		return nil, se.NewServiceFailure("error registering user").WithCause(err)
	}
	return u, nil
}

func (r *RedisUserStore) Authenticate(email, passwd string) (*md.User, *se.Err) {
	clog := log.WithField("email", email)
	id, err := r.DB.Get(emailKey(email)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, se.NewBadInput(errMsgInvalidCredentials)
		}
		clog.WithError(err).Error("error looking up user email")
		return nil, se.NewServiceFailure("error authenticating user").WithCause(err)
	}
	u, gerr := r.Get(id)
	if gerr != nil {
		return nil, gerr
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(passwd)); err != nil {
		return nil, se.NewBadInput(errMsgInvalidCredentials)
	}
	return u, nil
}

func (r *RedisUserStore) Get(id string) (*md.User, *se.Err) {
	clog := log.WithField("userID", id)
	m, err := r.DB.HGetAll(userKey(id)).Result()
	if err != nil {
		clog.WithError(err).Error("error getting user details from redis")
		return nil, se.NewServiceFailure("error getting user").WithCause(err)
	}
	if len(m) == 0 {
		return nil, se.NewNotFound(fmt.Sprintf("user %s not found", id))
	}
	u := &md.User{
		ID:           id,
		Username:     m[fieldNameUserName],
		Email:        m[fieldNameUserEmail],
		PasswordHash: m[fieldNameUserPasswdHash],
	}
	if ts, err := strconv.ParseInt(m[fieldNameUserCreationTime], 10, 64); err == nil {
		u.CreatedAt = time.Unix(ts, 0)
	}
	return u, nil
}

func (r *RedisUserStore) Close() *se.Err {
	if err := r.DB.Close(); err != nil {
		return se.NewServiceFailure("failed close Redis client").WithCause(err)
	}
	return nil
}

func userKey(id string) string {
	return fmt.Sprintf(keyTmplUser, id)
}

func emailKey(email string) string {
	return fmt.Sprintf(keyTmplEmail, email)
}

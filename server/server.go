package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"pinboard.io/pinboard/common/logging"
	"pinboard.io/pinboard/common/retry"
	cst "pinboard.io/pinboard/constants"
	se "pinboard.io/pinboard/errors"
	"pinboard.io/pinboard/pins"
	st "pinboard.io/pinboard/stores"
)

func setDefaults() {
	viper.SetDefault(cst.EnvAppHost, "0.0.0.0")
	viper.SetDefault(cst.EnvAppPort, "8080")
	viper.SetDefault(cst.EnvCouchAddr, "http://localhost:5984")
	viper.SetDefault(cst.EnvCouchPinDB, "pins")
	viper.SetDefault(cst.EnvRedisHost, "localhost")
	viper.SetDefault(cst.EnvRedisPort, "6379")
	viper.SetDefault(cst.EnvRedisDB, 0)
	viper.SetDefault(cst.EnvStoreProbeFreq, "10s")
	viper.SetDefault(cst.EnvUploadDir, "/data/uploads")
	viper.SetDefault(cst.EnvImageSizeMaxByte, 10<<20)
	viper.SetDefault(cst.EnvReqBodySizeMaxByte, 12<<20)
	viper.SetDefault(cst.EnvOwnerCacheSize, 1024)
}

func serve() error {
	viper.AutomaticEnv()
	setDefaults()
	logging.SetupLog("PinBoard", viper.GetBool(cst.EnvVerbose))

	secret := []byte(viper.GetString(cst.EnvJWTSecret))
	if len(secret) == 0 {
		return fmt.Errorf("%s must be set", cst.EnvJWTSecret)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", viper.GetString(cst.EnvRedisHost), viper.GetString(cst.EnvRedisPort)),
		Password: viper.GetString(cst.EnvRedisPasswd),
		DB:       viper.GetInt(cst.EnvRedisDB),
	})
	if err := retry.Retry(
		func() error { return rdb.Ping().Err() },
		retry.WithTimeout(30*time.Second),
		retry.WithBaseDelay(500*time.Millisecond),
		retry.WithExp(2),
		retry.WithJitter(0.2),
		retry.WithMaxBackoff(5*time.Second),
		retry.WithRetryOn(retry.IsDepOffline),
	); err != nil {
		return fmt.Errorf("error connecting to redis: %w", err)
	}
	users := &st.RedisUserStore{DB: rdb}
	defer users.Close()

	cs, cerr := st.NewCouchStore(&st.CouchConfig{
		Addr:     viper.GetString(cst.EnvCouchAddr),
		Username: viper.GetString(cst.EnvCouchUser),
		Passwd:   viper.GetString(cst.EnvCouchPasswd),
		DBName:   viper.GetString(cst.EnvCouchPinDB),
	})
	if cerr != nil {
		return cerr
	}
	probeFreq := viper.GetDuration(cst.EnvStoreProbeFreq)
	sel := st.NewSelector(cs, st.NewMemoryStore(), cs.Ready, probeFreq)
	defer sel.Close()
	if err := waitCouchReady(cs); err != nil {
		// serve from the fallback store now, switch over once couchdb shows up
		log.WithError(err).Warn("persistent pin store not ready, starting in fallback mode")
		sel.MarkDegraded()
	}
	stop := make(chan struct{})
	defer close(stop)
	go sel.Run(stop)

	listing := pins.NewListing(sel, users, viper.GetInt(cst.EnvOwnerCacheSize))
	mutation := pins.NewMutation(sel)
	files := &st.LocalFileStore{
		Dir:         viper.GetString(cst.EnvUploadDir),
		MaxSizeByte: viper.GetInt64(cst.EnvImageSizeMaxByte),
	}

	mux := setupMux(&appDeps{
		listing:     listing,
		mutation:    mutation,
		users:       users,
		files:       files,
		sel:         sel,
		secret:      secret,
		uploadDir:   viper.GetString(cst.EnvUploadDir),
		maxBodySize: viper.GetInt64(cst.EnvReqBodySizeMaxByte),
	})
	addr := fmt.Sprintf("%s:%s", viper.GetString(cst.EnvAppHost), viper.GetString(cst.EnvAppPort))
	log.WithField("addr", addr).WithField("pinStore", sel.Mode()).Info("pinboard serving")
	return http.ListenAndServe(addr, mux)
}

func waitCouchReady(cs *st.CouchStore) error {
	return retry.Retry(
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if e := cs.Ready(ctx); e != nil {
				return e
			}
			return nil
		},
		retry.WithMaxAttempts(3),
		retry.WithBaseDelay(time.Second),
		retry.WithExp(2),
		retry.WithRetryOn(func(err error) bool {
			if err == nil {
				return false
			}
			var e *se.Err
			if errors.As(err, &e) {
				return e.Code == se.ErrCodeDependencyFailure
			}
			return retry.IsDepOffline(err)
		}),
	)
}

// Package constants vends constants used in various components of pinboard service, e.g., env var names
package constants

const (
	// -------------- env vars --------------
	// common
	EnvVerbose = "PINBOARD_VERBOSE"
	// stores
	EnvCouchAddr        = "COUCHDB_ADDR"
	EnvCouchUser        = "COUCHDB_USER"
	EnvCouchPasswd      = "COUCHDB_PASSWD"
	EnvCouchPinDB       = "COUCHDB_PIN_DB"
	EnvRedisHost        = "REDIS_HOST"
	EnvRedisPort        = "REDIS_PORT"
	EnvRedisPasswd      = "REDIS_PASSWD"
	EnvRedisDB          = "REDIS_DB"
	EnvStoreProbeFreq   = "PINBOARD_STORE_PROBE_FREQ"
	EnvUploadDir        = "PINBOARD_UPLOAD_DIR"
	EnvImageSizeMaxByte = "PINBOARD_IMAGE_SIZE_MAX_BYTE"
	EnvOwnerCacheSize   = "PINBOARD_OWNER_CACHE_SIZE"
	// server
	EnvAppHost            = "PINBOARD_HOST"
	EnvAppPort            = "PINBOARD_PORT"
	EnvJWTSecret          = "PINBOARD_JWT_SECRET"
	EnvReqBodySizeMaxByte = "PINBOARD_REQ_BODY_SIZE_MAX_BYTE"

	// -------------- error messages --------------
	ErrMsgRequestBodyTooLarge = "request body too large"

	// -------------- log fields --------------
	LogFieldFuncName = "funcName"
)

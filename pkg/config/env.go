package config

// EnvPrefix is handed to envconfig; every field carries an explicit name so it only matters for unknown keys.
const EnvPrefix = "CARTSYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv             = "CARTSYNC_APP_ENV"
	EnvPort               = "CARTSYNC_APP_PORT"
	EnvLogLevel           = "CARTSYNC_LOG_LEVEL"
	EnvCORSOrigins        = "CARTSYNC_CORS_ORIGINS"
	EnvRedisURL           = "CARTSYNC_REDIS_URL"
	EnvRedisUserIDTTL     = "CARTSYNC_REDIS_USER_ID_TTL"
	EnvJWTSecret          = "CARTSYNC_JWT_SECRET"
	EnvJWTIssuer          = "CARTSYNC_JWT_ISSUER"
	EnvJWTExpMins         = "CARTSYNC_JWT_EXPIRATION_MINUTES"
	EnvBackendBaseURL     = "CARTSYNC_BACKEND_BASE_URL"
	EnvBackendAPIKey      = "CARTSYNC_BACKEND_API_KEY"
	EnvCartDebounceWindow = "CARTSYNC_CART_DEBOUNCE_WINDOW"
	EnvCartRemoteTimeout  = "CARTSYNC_CART_REMOTE_TIMEOUT"
	EnvCartDeliveryFee    = "CARTSYNC_CART_DELIVERY_FEE"
	EnvCartFallbackPrice  = "CARTSYNC_CART_FALLBACK_PRICE"
	EnvCartMediaBaseURL   = "CARTSYNC_CART_MEDIA_BASE_URL"
)

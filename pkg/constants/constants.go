package constants

type ContextKey string

const (
	LoggerKey    ContextKey = "logger"
	RequestStart ContextKey = "request_start"
	RequestIDKey ContextKey = "request_id"
)

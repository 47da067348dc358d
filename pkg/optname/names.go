package optname

const (
	Checksum         = "checksum"
	Concurrency      = "concurrency"
	ConnTimeout      = "connect-timeout"
	Force            = "force"
	ForceHTTP2       = "force-http2"
	Headers          = "header"
	IdleTimeout      = "idle-timeout"
	LimitRate        = "limit-rate"
	LoggingLevel     = "log-level"
	Metadata         = "metadata"
	MinimumChunkSize = "minimum-segment-size"
	ReportSize       = "report-size"
	Resolve          = "resolve"
	Restart          = "restart"
	Retries          = "retries"
	RetryMaxWait     = "retry-max-wait"
	RetryMinWait     = "retry-min-wait"
	StateInterval    = "state-interval"
	Verbose          = "verbose"
)

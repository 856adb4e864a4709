package config

const (
	OptConnections        = "connections"
	OptConnTimeout        = "connect-timeout"
	OptDecompress         = "decompress"
	OptForce              = "force"
	OptForceHTTP2         = "force-http2"
	OptLogFile            = "log-file"
	OptLoggingLevel       = "log-level"
	OptMaxConnPerHost     = "max-conn-per-host"
	OptMaxConcurrentFiles = "max-concurrent-files"
	OptMode               = "mode"
	OptOutputDir          = "output-dir"
	OptPIDFile            = "pid-file"
	OptResolve            = "resolve"
	OptRetries            = "retries"
	OptRetryMaxWait       = "retry-max-wait"
	OptRetryMinWait       = "retry-min-wait"
	OptTimeout            = "timeout"
	OptVerbose            = "verbose"
)

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgrab/pgrab/pkg/client"
	"github.com/pgrab/pgrab/pkg/download"
	"github.com/pgrab/pgrab/pkg/logging"
)

const (
	DefaultConnections = 4
	MinConnections     = 1
	MaxConnections     = 16
	DefaultOutputDir   = "downloads"

	envPrefix = "PGRAB"
	dotEnv    = ".env"
)

func AddRootPersistentFlags(cmd *cobra.Command) error {
	// Persistent Flags (applies to all commands/subcommands)
	cmd.PersistentFlags().StringP(OptMode, "m", "", "Download mode: sequential (1), parallel (2) or advanced (3); prompts when empty")
	cmd.PersistentFlags().IntP(OptConnections, "n", DefaultConnections, fmt.Sprintf("Number of concurrent range requests per file in advanced mode (%d-%d)", MinConnections, MaxConnections))
	cmd.PersistentFlags().StringP(OptOutputDir, "o", DefaultOutputDir, "Directory downloaded files are written to")
	cmd.PersistentFlags().IntP(OptRetries, "r", download.DefaultMaxAttempts, "Number of attempts for every network operation")
	cmd.PersistentFlags().Duration(OptRetryMinWait, 100*time.Millisecond, "Minimum backoff between attempts, format is <number><unit>, e.g. 100ms")
	cmd.PersistentFlags().Duration(OptRetryMaxWait, 3*time.Second, "Maximum backoff between attempts, format is <number><unit>, e.g. 3s")
	cmd.PersistentFlags().Duration(OptTimeout, download.DefaultTimeout, "Timeout for a request attempt that stops making progress: no response, or no body bytes for this long")
	cmd.PersistentFlags().Duration(OptConnTimeout, 5*time.Second, "Timeout for establishing a connection, format is <number><unit>, e.g. 10s")
	cmd.PersistentFlags().Int(OptMaxConnPerHost, 0, "Maximum number of concurrent requests per host, 0 means unlimited")
	cmd.PersistentFlags().Int(OptMaxConcurrentFiles, 0, "Maximum number of files downloaded at once in parallel and advanced modes, 0 means unlimited")
	cmd.PersistentFlags().Bool(OptForceHTTP2, false, "Force HTTP/2")
	cmd.PersistentFlags().StringSlice(OptResolve, []string{}, "Resolve hostnames to specific IPs, <hostname>:<port>:<ip>; repeat a host:port to add mirrors")
	cmd.PersistentFlags().BoolP(OptForce, "f", false, "Force download, overwriting existing files")
	cmd.PersistentFlags().Bool(OptDecompress, false, "Decompress gzip, bzip2, xz, lz4 and lzw files after download")
	cmd.PersistentFlags().BoolP(OptVerbose, "v", false, "Verbose mode (equivalent to --log-level debug)")
	cmd.PersistentFlags().String(OptLoggingLevel, "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String(OptLogFile, "", "Also write logs to this rotating log file")
	cmd.PersistentFlags().String(OptPIDFile, "", "Lock file held while downloading (default <output-dir>/.pgrab.pid)")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return fmt.Errorf("failed to bind persistent flags: %w", err)
	}

	// Hide flags from help, these are intended to be used for testing/internal benchmarking/debugging only
	for _, flag := range []string{OptForceHTTP2} {
		if err := cmd.PersistentFlags().MarkHidden(flag); err != nil {
			return fmt.Errorf("failed to hide flag %s: %w", flag, err)
		}
	}
	return nil
}

func PersistentStartupProcessFlags() error {
	if err := loadDotEnv(dotEnv); err != nil {
		return err
	}
	if viper.GetBool(OptVerbose) {
		viper.Set(OptLoggingLevel, "debug")
	}
	if logFile := viper.GetString(OptLogFile); logFile != "" {
		logging.AddFileOutput(logging.FileOptions{Path: logFile})
	}
	setLogLevel(viper.GetString(OptLoggingLevel))

	logger := logging.GetLogger()
	if _, err := ResolveOverridesToMap(viper.GetStringSlice(OptResolve)); err != nil {
		return err
	}
	logger.Debug().
		Str(OptMode, viper.GetString(OptMode)).
		Int(OptConnections, viper.GetInt(OptConnections)).
		Int(OptRetries, viper.GetInt(OptRetries)).
		Str(OptOutputDir, viper.GetString(OptOutputDir)).
		Msg("Config")
	return nil
}

// loadDotEnv exports the variables of path into the environment. Variables that are
// already set win, and a missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func setLogLevel(logLevel string) {
	// Set log-level
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// ResolveOverridesToMap parses <hostname>:<port>:<ip> entries into a map of host:port to
// ip:port addresses. Repeating a host:port with another IP adds a mirror; repeating an
// identical entry is a no-op.
func ResolveOverridesToMap(resolveOverrides []string) (map[string][]string, error) {
	logger := logging.GetLogger()
	if len(resolveOverrides) == 0 {
		return nil, nil
	}
	resolveOverrideMap := make(map[string][]string)
	for _, resolveHost := range resolveOverrides {
		split := strings.SplitN(resolveHost, ":", 3)
		if len(split) != 3 {
			return nil, fmt.Errorf("invalid resolve host format, expected <hostname>:port:<ip>, got: %s", resolveHost)
		}
		host, port, addr := split[0], split[1], split[2]
		if net.ParseIP(host) != nil {
			return nil, fmt.Errorf("invalid hostname specified, looks like an IP address: %s", host)
		}
		if net.ParseIP(addr) == nil {
			return nil, fmt.Errorf("invalid IP address: %s", addr)
		}
		hostPort := net.JoinHostPort(host, port)
		target := net.JoinHostPort(addr, port)
		if slices.Contains(resolveOverrideMap[hostPort], target) {
			continue
		}
		resolveOverrideMap[hostPort] = append(resolveOverrideMap[hostPort], target)
	}
	for key, elem := range resolveOverrideMap {
		logger.Debug().Str("host_port", key).Strs("resolve_targets", elem).Msg("Config")
	}
	return resolveOverrideMap, nil
}

// Connections returns the configured per-file connection count, rejecting values outside
// the supported range.
func Connections() (int, error) {
	connections := viper.GetInt(OptConnections)
	if err := ValidateConnections(connections); err != nil {
		return 0, err
	}
	return connections, nil
}

func ValidateConnections(connections int) error {
	if connections < MinConnections || connections > MaxConnections {
		return &download.Error{
			Kind:   download.KindConfig,
			Op:     "config",
			Target: OptConnections,
			Err:    fmt.Errorf("connections must be between %d and %d, got %d", MinConnections, MaxConnections, connections),
		}
	}
	return nil
}

func ClientOptions() (client.Options, error) {
	resolve, err := ResolveOverridesToMap(viper.GetStringSlice(OptResolve))
	if err != nil {
		return client.Options{}, err
	}
	return client.Options{
		ForceHTTP2:     viper.GetBool(OptForceHTTP2),
		MaxConnPerHost: viper.GetInt(OptMaxConnPerHost),
		ConnectTimeout: viper.GetDuration(OptConnTimeout),
		Resolve:        resolve,
	}, nil
}

func RetryPolicy() download.RetryPolicy {
	policy := download.DefaultRetryPolicy()
	if attempts := viper.GetInt(OptRetries); attempts > 0 {
		policy.MaxAttempts = attempts
	}
	if minWait := viper.GetDuration(OptRetryMinWait); minWait > 0 {
		policy.MinWait = minWait
	}
	if maxWait := viper.GetDuration(OptRetryMaxWait); maxWait > 0 {
		policy.MaxWait = maxWait
	}
	return policy
}

// DownloadOptions builds the shared primary pool and the secondary client for a run.
func DownloadOptions() (download.Options, error) {
	clientOpts, err := ClientOptions()
	if err != nil {
		return download.Options{}, err
	}
	timeout := viper.GetDuration(OptTimeout)
	if timeout < 0 {
		return download.Options{}, fmt.Errorf("invalid %s: %s", OptTimeout, timeout)
	}
	return download.Options{
		Retry:     RetryPolicy(),
		Timeout:   timeout,
		Primary:   client.NewPool(clientOpts),
		Secondary: client.NewFallbackClient(clientOpts),
	}, nil
}

package config

import (
	"fmt"
	"net"
	"net/textproto"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/optname"
)

func AddRootPersistentFlags(cmd *cobra.Command) error {
	// Persistent Flags (applies to all commands/subcommands)
	cmd.PersistentFlags().IntP(optname.Concurrency, "c", runtime.GOMAXPROCS(0)*4, "Maximum number of segments fetched in parallel")
	cmd.PersistentFlags().StringP(optname.MinimumChunkSize, "m", "1M", "Minimum segment size (in bytes) when splitting a file (e.g. 10M)")
	cmd.PersistentFlags().IntP(optname.Retries, "r", 5, "Number of consecutive retries per segment before giving up")
	cmd.PersistentFlags().Duration(optname.RetryMinWait, 100*time.Millisecond, "Minimum backoff between retries")
	cmd.PersistentFlags().Duration(optname.RetryMaxWait, 3*time.Second, "Maximum backoff between retries")
	cmd.PersistentFlags().Duration(optname.ConnTimeout, 5*time.Second, "Timeout for establishing a connection, format is <number><unit>, e.g. 10s")
	cmd.PersistentFlags().Duration(optname.IdleTimeout, 30*time.Second, "Abort and retry a request that receives no data for this long")
	cmd.PersistentFlags().Duration(optname.StateInterval, time.Second, "How often progress is saved to the sidecar file")
	cmd.PersistentFlags().String(optname.ReportSize, "4M", "Bytes a segment fetches between progress reports (e.g. 8M)")
	cmd.PersistentFlags().String(optname.LimitRate, "", "Maximum download rate in bytes per second (e.g. 50M), unlimited if empty")
	cmd.PersistentFlags().String(optname.Checksum, "", "Expected digest of the file, <algorithm>:<hex> (sha256, sha512, sha1, md5)")
	cmd.PersistentFlags().StringArrayP(optname.Headers, "H", []string{}, "Extra request header, 'Key: Value' (repeatable)")
	cmd.PersistentFlags().StringSlice(optname.Resolve, []string{}, "Resolve hostnames to specific IPs, <hostname>:<port>:<ip>")
	cmd.PersistentFlags().BoolP(optname.Force, "f", false, "Force download, overwriting existing file")
	cmd.PersistentFlags().Bool(optname.Restart, false, "Discard any saved progress and start from scratch")
	cmd.PersistentFlags().Bool(optname.Metadata, false, "After an HTML document is saved, print its site, link and image counts and fetch time to stderr")
	cmd.PersistentFlags().BoolP(optname.Verbose, "v", false, "Verbose mode (equivalent to --log-level debug)")
	cmd.PersistentFlags().String(optname.LoggingLevel, "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool(optname.ForceHTTP2, false, "Force HTTP/2")

	viper.SetEnvPrefix("RGET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(err)
	}

	// Hide flags from help, these are intended to be used for testing/internal benchmarking/debugging only
	if err := cmd.PersistentFlags().MarkHidden(optname.ForceHTTP2); err != nil {
		return fmt.Errorf("failed to hide flag %s: %w", optname.ForceHTTP2, err)
	}
	return nil
}

func PersistentStartupProcessFlags() error {
	if viper.GetBool(optname.Verbose) {
		viper.Set(optname.LoggingLevel, "debug")
	}
	setLogLevel(viper.GetString(optname.LoggingLevel))
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

// ResolveOverridesToMap turns `--resolve` values into host:port -> ip:port pairs.
func ResolveOverridesToMap(resolveOverrides []string) (map[string]string, error) {
	logger := logging.GetLogger()
	var resolveOverridesMap map[string]string
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
		if resolveOverridesMap == nil {
			resolveOverridesMap = make(map[string]string)
		}
		hostPort := net.JoinHostPort(host, port)
		target := net.JoinHostPort(addr, port)
		if existing, ok := resolveOverridesMap[hostPort]; ok && existing != target {
			return nil, fmt.Errorf("duplicate host:port specified: %s", hostPort)
		}
		resolveOverridesMap[hostPort] = target
	}
	if logger.GetLevel() == zerolog.DebugLevel {
		for key, elem := range resolveOverridesMap {
			logger.Debug().Str("host_port", key).Str("resolve_target", elem).Msg("Config")
		}
	}
	return resolveOverridesMap, nil
}

// ParseHeaders turns `--header` values of the form "Key: Value" into a map keyed by the
// canonical header name.
func ParseHeaders(headers []string) (map[string]string, error) {
	var parsed map[string]string
	for _, header := range headers {
		key, value, ok := strings.Cut(header, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("invalid header %q, expected 'Key: Value'", header)
		}
		if parsed == nil {
			parsed = make(map[string]string)
		}
		parsed[textproto.CanonicalMIMEHeaderKey(key)] = strings.TrimSpace(value)
	}
	return parsed, nil
}

// ClientOptions builds the transport configuration from flags and environment.
func ClientOptions() (client.Options, error) {
	resolveOverrides, err := ResolveOverridesToMap(viper.GetStringSlice(optname.Resolve))
	if err != nil {
		return client.Options{}, err
	}
	headers, err := ParseHeaders(viper.GetStringSlice(optname.Headers))
	if err != nil {
		return client.Options{}, err
	}
	var rateLimit int64
	if limit := viper.GetString(optname.LimitRate); limit != "" {
		parsed, err := humanize.ParseBytes(limit)
		if err != nil {
			return client.Options{}, fmt.Errorf("unable to parse rate limit: %w", err)
		}
		rateLimit = int64(parsed)
	}
	return client.Options{
		ForceHTTP2:       viper.GetBool(optname.ForceHTTP2),
		MaxRetries:       viper.GetInt(optname.Retries),
		ConnectTimeout:   viper.GetDuration(optname.ConnTimeout),
		IdleTimeout:      viper.GetDuration(optname.IdleTimeout),
		RetryMinWait:     viper.GetDuration(optname.RetryMinWait),
		RetryMaxWait:     viper.GetDuration(optname.RetryMaxWait),
		RateLimit:        rateLimit,
		Headers:          headers,
		ResolveOverrides: resolveOverrides,
	}, nil
}

// DownloadOptions builds the transfer configuration from flags and environment.
func DownloadOptions() (download.Options, error) {
	minSegmentSize, err := humanize.ParseBytes(viper.GetString(optname.MinimumChunkSize))
	if err != nil {
		return download.Options{}, fmt.Errorf("unable to parse minimum segment size: %w", err)
	}
	reportSize, err := humanize.ParseBytes(viper.GetString(optname.ReportSize))
	if err != nil {
		return download.Options{}, fmt.Errorf("unable to parse report size: %w", err)
	}
	opts := download.Options{
		MaxConcurrency: viper.GetInt(optname.Concurrency),
		MinSegmentSize: int64(minSegmentSize),
		Retries:        viper.GetInt(optname.Retries),
		ReportSize:     int64(reportSize),
		StateInterval:  viper.GetDuration(optname.StateInterval),
		Restart:        viper.GetBool(optname.Restart),
	}
	if checksum := viper.GetString(optname.Checksum); checksum != "" {
		opts.Checksum, err = client.ParseChecksum(checksum)
		if err != nil {
			return download.Options{}, err
		}
	}
	return opts, nil
}

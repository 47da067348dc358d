package root

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	rget "github.com/replicate/rget/pkg"
	"github.com/replicate/rget/pkg/cli"
	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/config"
	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/optname"
	"github.com/replicate/rget/pkg/pagemeta"
)

const rootLongDesc = `
rget

rget fetches a single file over HTTP or HTTPS and survives interruption. When the server supports range requests the
file is split into segments that are fetched in parallel and written in place at their offsets.

Progress is recorded in a sidecar file next to the destination (<dest>.rget) while the data is assembled in
<dest>.part. Running the same command again after a crash, a network failure or Ctrl-C resumes from the last durable
byte of every segment, as long as the server still reports the same version of the file (ETag or Last-Modified).

Once every byte has arrived the file is checked against its expected size and, when available, a digest announced by
the server (Repr-Digest, Digest, Content-MD5) or passed with --checksum. Only then is it renamed to <dest> and the
sidecar removed. On success the destination path is the only thing printed to standard output.
With --metadata, an HTML document's site, link and image counts and fetch time follow on standard error.
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rget [flags] <url> [dest]",
		Short: "rget",
		Long:  rootLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.PersistentStartupProcessFlags()
		},
		RunE: runRootCMD,
		Args: cobra.RangeArgs(1, 2),
		Example: `  rget https://example.com/model.safetensors model.safetensors
  rget -c 16 --checksum sha256:<hex> https://example.com/model.safetensors`,
	}
	cmd.SetUsageTemplate(cli.UsageTemplate)
	err := config.AddRootPersistentFlags(cmd)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return cmd
}

func runRootCMD(cmd *cobra.Command, args []string) error {
	// After we run through the PreRun functions we want to silence usage from being printed
	// on all errors
	cmd.SilenceUsage = true

	u, err := cli.ValidateURL(args[0])
	if err != nil {
		return err
	}
	dest := cli.DefaultDestination(u)
	if len(args) > 1 {
		dest = args[1]
	}

	logger := logging.GetLogger()
	logger.Info().Str("url", u.String()).
		Str("dest", dest).
		Str("minimum_segment_size", viper.GetString(optname.MinimumChunkSize)).
		Int("concurrency", viper.GetInt(optname.Concurrency)).
		Msg("Config")

	if err := cli.EnsureDestinationNotExist(dest); err != nil {
		return err
	}

	result, err := rootExecute(cmd.Context(), u.String(), dest)
	if err != nil {
		return err
	}
	if viper.GetBool(optname.Metadata) {
		if err := printMetadata(cmd.ErrOrStderr(), u, result); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), dest)
	return err
}

// printMetadata writes the summary of a published HTML document to w.
func printMetadata(w io.Writer, u *url.URL, result *download.Result) error {
	if !pagemeta.IsHTML(result.ContentType) {
		logger := logging.GetLogger()
		logger.Warn().Str("content_type", result.ContentType).Msg("Skipping metadata for non-HTML document")
		return nil
	}
	summary, err := pagemeta.SummarizeFile(result.Path, u.Hostname(), time.Now())
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, summary.String())
	return err
}

// rootExecute is the main function of the program and encapsulates the general logic
// returns any/all errors to the caller.
func rootExecute(ctx context.Context, urlString, dest string) (*download.Result, error) {
	clientOpts, err := config.ClientOptions()
	if err != nil {
		return nil, err
	}
	downloadOpts, err := config.DownloadOptions()
	if err != nil {
		return nil, err
	}

	lock, err := cli.NewPIDFile(cli.LockPath(dest))
	if err != nil {
		return nil, err
	}
	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger := logging.GetLogger()
			logger.Warn().Err(err).Str("dest", dest).Msg("Failed to release lock")
		}
	}()

	getter := rget.Getter{
		Fetcher: client.New(clientOpts),
		Options: downloadOpts,
	}
	return getter.DownloadFile(ctx, urlString, dest)
}

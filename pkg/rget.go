package rget

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/logging"
)

type Getter struct {
	// Fetcher defaults to a client with default options.
	Fetcher download.Fetcher
	Options download.Options
}

// DownloadFile fetches url to dest, resuming earlier progress for dest when it is still valid.
func (g *Getter) DownloadFile(ctx context.Context, url string, dest string) (*download.Result, error) {
	if g.Fetcher == nil {
		g.Fetcher = client.New(client.Options{})
	}
	logger := logging.GetLogger()

	result, err := download.NewTransfer(g.Fetcher, g.Options).Run(ctx, url, dest)
	if err != nil {
		return nil, err
	}

	fetched := result.Size - result.ResumedBytes
	throughput := humanize.Bytes(uint64(float64(max(fetched, 0)) / max(result.Elapsed.Seconds(), time.Millisecond.Seconds())))
	logger.Info().
		Str("dest", dest).
		Str("transfer_id", result.TransferID).
		Str("size", humanize.Bytes(uint64(result.Size))).
		Str("resumed", humanize.Bytes(uint64(result.ResumedBytes))).
		Int("segments", result.Segments).
		Str("throughput", fmt.Sprintf("%s/s", throughput)).
		Str("elapsed", fmt.Sprintf("%.3fs", result.Elapsed.Seconds())).
		Msg("Complete")
	return result, nil
}

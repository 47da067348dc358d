package status

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/replicate/rget/pkg/cli"
	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/state"
)

const statusLongDesc = `
Show the progress recorded for an interrupted transfer to <dest>: the transfer id, the source URL, the resource version
the progress belongs to and how much of every segment is already on disk.
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status [flags] <dest>",
		Short:   "show resumable progress for a destination",
		Long:    statusLongDesc,
		Args:    cobra.ExactArgs(1),
		RunE:    runStatusCMD,
		Example: `  rget status model.safetensors`,
	}
	cmd.SetUsageTemplate(cli.UsageTemplate)
	return cmd
}

func runStatusCMD(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	dest := args[0]
	out := cmd.OutOrStdout()

	record := state.NewStore(download.SidecarPath(dest)).Load()
	if record == nil {
		_, err := fmt.Fprintf(out, "no resumable progress for %s\n", dest)
		return err
	}
	return printRecord(out, dest, record)
}

func printRecord(out io.Writer, dest string, record *state.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "destination: %s\n", dest)
	fmt.Fprintf(&b, "transfer id: %s\n", record.TransferID)
	fmt.Fprintf(&b, "url:         %s\n", record.URL)
	validator := record.Validator
	if validator == "" {
		validator = "(none, cannot resume)"
	}
	fmt.Fprintf(&b, "validator:   %s\n", validator)

	written := record.Written()
	if record.Size != nil {
		progress := 100.0
		if *record.Size > 0 {
			progress = float64(written) * 100 / float64(*record.Size)
		}
		fmt.Fprintf(&b, "progress:    %s of %s (%.1f%%)\n", humanize.IBytes(uint64(written)), humanize.IBytes(uint64(*record.Size)), progress)
	} else {
		fmt.Fprintf(&b, "progress:    %s of unknown size\n", humanize.IBytes(uint64(written)))
	}
	if pid, err := os.ReadFile(cli.LockPath(dest)); err == nil && len(pid) > 0 {
		fmt.Fprintf(&b, "locked by:   pid %s\n", pid)
	}

	for i, seg := range record.Segments {
		if seg.End < 0 {
			fmt.Fprintf(&b, "  segment %d: bytes %d-, %s written\n", i, seg.Start, humanize.IBytes(uint64(seg.Written)))
			continue
		}
		fmt.Fprintf(&b, "  segment %d: bytes %d-%d, %s of %s written\n", i, seg.Start, seg.End,
			humanize.IBytes(uint64(seg.Written)), humanize.IBytes(uint64(seg.Span())))
	}
	_, err := io.WriteString(out, b.String())
	return err
}

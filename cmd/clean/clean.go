package clean

import (
	"github.com/spf13/cobra"

	"github.com/replicate/rget/pkg/cli"
	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/logging"
)

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "clean [flags] <dest>",
		Short:   "discard the partial file and progress for a destination",
		Long:    "Remove <dest>.part and <dest>.rget so the next transfer to <dest> starts from scratch.",
		Args:    cobra.ExactArgs(1),
		RunE:    runCleanCMD,
		Example: `  rget clean model.safetensors`,
	}
	cmd.SetUsageTemplate(cli.UsageTemplate)
	return cmd
}

func runCleanCMD(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	dest := args[0]

	// refuse to pull the files out from under a running transfer
	lock, err := cli.NewPIDFile(cli.LockPath(dest))
	if err != nil {
		return err
	}
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		_ = lock.Release()
	}()

	if err := download.Clean(dest); err != nil {
		return err
	}
	logger := logging.GetLogger()
	logger.Info().Str("dest", dest).Msg("Removed partial file and progress")
	return nil
}

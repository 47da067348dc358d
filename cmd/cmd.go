package cmd

import (
	"github.com/spf13/cobra"

	"github.com/replicate/rget/cmd/clean"
	"github.com/replicate/rget/cmd/root"
	"github.com/replicate/rget/cmd/status"
	"github.com/replicate/rget/cmd/version"
)

func GetRootCommand() *cobra.Command {
	rootCMD := root.GetCommand()
	rootCMD.AddCommand(status.GetCommand())
	rootCMD.AddCommand(clean.GetCommand())
	rootCMD.AddCommand(version.VersionCMD)
	return rootCMD
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pgrab/pgrab/cmd/multifile"
	"github.com/pgrab/pgrab/cmd/root"
	"github.com/pgrab/pgrab/cmd/version"
)

func GetRootCommand() *cobra.Command {
	rootCMD := root.GetCommand()
	rootCMD.AddCommand(multifile.GetCommand())
	rootCMD.AddCommand(version.VersionCMD)
	return rootCMD
}

package root

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pgrab "github.com/pgrab/pgrab/pkg"
	"github.com/pgrab/pgrab/pkg/cli"
	"github.com/pgrab/pgrab/pkg/config"
	"github.com/pgrab/pgrab/pkg/logging"
)

const rootLongDesc = `
pgrab

pgrab downloads one or more files over HTTP. URLs are given as arguments or, when none are
given, entered interactively one per line.

Three modes are available:

  sequential (1)  one file at a time, in the order given
  parallel   (2)  every file at once, one connection each
  advanced   (3)  every file at once, each split into byte ranges fetched over several
                  connections and reassembled

Every request is retried. A file whose chunked download fails is fetched again over a
single stream, and a single stream that keeps failing is retried once more through a
separate HTTP client. Failed files are listed in the summary and never stop the others.
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pgrab [flags] [url...]",
		Short: "pgrab",
		Long:  rootLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.PersistentStartupProcessFlags()
		},
		RunE: runRootCMD,
		Example: `  pgrab --mode advanced -n 8 https://example.com/file.tar.gz
  pgrab --mode 1 https://example.com/a.zip https://example.com/b.zip
  pgrab`,
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
	logger := logging.GetLogger()
	prompter := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())

	urls := args
	interactive := len(urls) == 0
	if interactive {
		var err error
		urls, err = prompter.ReadURLs()
		if err != nil {
			return err
		}
		if len(urls) == 0 {
			logger.Info().Msg("No URLs provided, exiting")
			return nil
		}
	}

	modeChoice := viper.GetString(config.OptMode)
	if modeChoice == "" {
		var err error
		modeChoice, err = prompter.ReadMode()
		if err != nil {
			return err
		}
	}
	mode, err := pgrab.ParseMode(modeChoice)
	if err != nil {
		return err
	}

	var connections int
	if mode == pgrab.ModeAdvanced {
		connections, err = readConnections(prompter, interactive)
		if err != nil {
			return err
		}
	}

	getter, err := NewGetter()
	if err != nil {
		return err
	}
	return RunBatch(cmd, getter, mode, getter.Tasks(urls), connections)
}

// readConnections prompts for the connection count in an interactive session unless it
// was configured explicitly.
func readConnections(prompter *cli.Prompter, interactive bool) (int, error) {
	if interactive && !viper.IsSet(config.OptConnections) {
		connections, err := prompter.ReadConnections()
		if !errors.Is(err, io.EOF) {
			return connections, err
		}
	}
	return config.Connections()
}

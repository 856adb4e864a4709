package multifile

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgrab/pgrab/cmd/root"
	pgrab "github.com/pgrab/pgrab/pkg"
	"github.com/pgrab/pgrab/pkg/cli"
	"github.com/pgrab/pgrab/pkg/config"
	"github.com/pgrab/pgrab/pkg/logging"
)

const longDesc = `
'multifile' mode for pgrab takes a manifest file as input (can use '-' for stdin) and downloads
every URL listed in it as one batch.

The manifest is either a newline-separated list of URLs, each optionally followed by a file name,
e.g.
https://example.com/file1.txt
https://example.com/file2.txt renamed.txt

or a YAML list of link/op entries, e.g.
- link: https://example.com/file1.txt
- link: https://example.com/file2.txt
  op: renamed.txt

The batch is downloaded in the mode given by '--mode', parallel when unset.
`

const multifileExamples = `
  pgrab multifile manifest.txt

  pgrab multifile --mode advanced -n 8 manifest.yaml

  cat manifest.txt | pgrab multifile -
`

const defaultMode = pgrab.ModeParallel

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "multifile [flags] <manifest-file>",
		Short:   "download every URL listed in a manifest file",
		Long:    longDesc,
		Args:    cobra.ExactArgs(1),
		RunE:    runMultifileCMD,
		Example: multifileExamples,
	}
	cmd.SetUsageTemplate(cli.UsageTemplate)
	return cmd
}

func runMultifileCMD(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	logger := logging.GetLogger()

	manifestPath := args[0]
	file, err := manifestFile(manifestPath)
	if err != nil {
		return err
	}
	defer file.Close()
	entries, err := parseManifest(file)
	if err != nil {
		return fmt.Errorf("error processing manifest file %s: %w", manifestPath, err)
	}
	if len(entries) == 0 {
		logger.Info().Str("manifest", manifestPath).Msg("No URLs provided, exiting")
		return nil
	}

	mode := defaultMode
	if modeName := viper.GetString(config.OptMode); modeName != "" {
		mode, err = pgrab.ParseMode(modeName)
		if err != nil {
			return err
		}
	}
	var connections int
	if mode == pgrab.ModeAdvanced {
		connections, err = config.Connections()
		if err != nil {
			return err
		}
	}

	getter, err := root.NewGetter()
	if err != nil {
		return err
	}
	urls := make([]string, len(entries))
	for i, entry := range entries {
		urls[i] = entry.URL
	}
	tasks := getter.Tasks(urls)
	if err := applyNames(tasks, entries, getter.OutputDir); err != nil {
		return fmt.Errorf("error processing manifest file %s: %w", manifestPath, err)
	}
	logger.Debug().
		Str("manifest", manifestPath).
		Int("file_count", len(tasks)).
		Str("mode", mode.String()).
		Msg("Queueing Downloads")
	return root.RunBatch(cmd, getter, mode, tasks, connections)
}

package root

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pgrab "github.com/pgrab/pgrab/pkg"
	"github.com/pgrab/pgrab/pkg/cli"
	"github.com/pgrab/pgrab/pkg/config"
	"github.com/pgrab/pgrab/pkg/download"
	"github.com/pgrab/pgrab/pkg/extract"
	"github.com/pgrab/pgrab/pkg/logging"
	"github.com/pgrab/pgrab/pkg/report"
)

const pidFileName = ".pgrab.pid"

// NewGetter builds a Getter from the configured flags, creating the output directory.
func NewGetter() (*pgrab.Getter, error) {
	opts, err := config.DownloadOptions()
	if err != nil {
		return nil, err
	}
	outputDir := viper.GetString(config.OptOutputDir)
	if err := cli.EnsureDownloadDir(outputDir); err != nil {
		return nil, err
	}
	getter := pgrab.NewGetter(opts, outputDir)
	getter.MaxConcurrentFiles = viper.GetInt(config.OptMaxConcurrentFiles)
	if viper.GetBool(config.OptDecompress) {
		getter.PostProcess = extract.Decompressor{}
	}
	return getter, nil
}

// RunBatch downloads tasks while holding the output directory lock, then renders the
// summary. It fails if any task failed.
func RunBatch(cmd *cobra.Command, getter *pgrab.Getter, mode pgrab.Mode, tasks []download.Task, connections int) error {
	logger := logging.GetLogger()
	for _, task := range tasks {
		if err := cli.EnsureDestinationNotExist(task.Dest); err != nil {
			return err
		}
	}

	pidPath := viper.GetString(config.OptPIDFile)
	if pidPath == "" {
		pidPath = filepath.Join(getter.OutputDir, pidFileName)
	}
	pidFile, err := cli.NewPIDFile(pidPath)
	if err != nil {
		return err
	}
	if err := pidFile.Acquire(); err != nil {
		return fmt.Errorf("error acquiring lock on %s: %w", getter.OutputDir, err)
	}
	defer func() {
		if err := pidFile.Release(); err != nil {
			logger.Warn().Err(err).Msg("Releasing lock")
		}
	}()

	defer getter.CloseIdleConnections()
	summary := getter.Run(cmd.Context(), mode, tasks, connections)
	if err := report.Render(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if failed := summary.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d downloads failed: %w", len(failed), len(summary.Results), summary.Err())
	}
	return nil
}

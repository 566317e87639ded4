package main

import (
	"fmt"
	"time"

	"github.com/fgeck/persephone/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var volumesDir string

var volumesCmd = &cobra.Command{
	Use:   "volumes",
	Short: "Work with local Docker volumes",
}

var volumesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every Docker volume to a tar file",
	Long: `Write each Docker volume to <dir>/<volume>.tar. All containers must
be stopped first. The directory defaults to the profile's
backup.docker_volume_dir, then to ` + config.DefaultVolumeDir + `.`,
	Args: cobra.NoArgs,
	RunE: volumesExport,
}

func init() {
	volumesExportCmd.Flags().StringVar(&volumesDir, "dir", "", "directory the tar files are written to")
	volumesCmd.AddCommand(volumesExportCmd)
}

func volumesExport(cmd *cobra.Command, args []string) error {
	a := newApp()

	dir := volumesDir
	if dir == "" && a.store.Exists() {
		profile, err := a.loadProfile()
		if err != nil {
			return err
		}
		dir = profile.DockerVolumeDir
	}
	if dir == "" {
		dir = config.DefaultVolumeDir
	}

	result, err := a.volumes.Export(cmd.Context(), dir)
	if err != nil {
		return err
	}
	if result.Error != nil {
		log.Error().Err(result.Error).Str("dir", dir).Msg("Docker volume export failed")
		return result.Error
	}

	if len(result.Archives) == 0 {
		fmt.Println("No Docker volumes found.")
		return nil
	}
	for _, archive := range result.Archives {
		fmt.Printf("  %s -> %s (%d bytes)\n", archive.Volume, archive.Path, archive.SizeBytes)
	}
	fmt.Printf("%d volumes exported to %s in %s.\n", len(result.Archives), result.Dir, result.Duration.Round(time.Millisecond))
	return nil
}

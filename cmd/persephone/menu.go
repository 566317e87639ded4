package main

import (
	"os"

	"github.com/fgeck/persephone/internal/menu"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	menuRetrieveDir string
	menuTempDir     string
)

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Start the interactive menu",
	Long: `Start the interactive menu. This is also what persephone does when
run without a command. A missing configuration file starts the setup.`,
	Args: cobra.NoArgs,
	RunE: runMenu,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, menuCmd} {
		c.Flags().StringVar(&menuRetrieveDir, "retrieve-dir", ".", "directory fleet configs are retrieved into")
		c.Flags().StringVar(&menuTempDir, "temp-dir", "", "temporary directory checked for free space")
	}
}

func runMenu(cmd *cobra.Command, args []string) error {
	a := newApp()

	m := menu.New(log.Logger, menu.NewPrompter(os.Stdin, os.Stdout), menu.Deps{
		Store:       a.store,
		Runner:      a.runner,
		Scheduler:   a.scheduler,
		Fleet:       a.fleet,
		Volumes:     a.volumes,
		LoadFleet:   loadFleet,
		Binary:      executable(),
		LogFile:     logFile,
		RetrieveDir: menuRetrieveDir,
		TempDir:     menuTempDir,
	})
	return m.Run(cmd.Context())
}

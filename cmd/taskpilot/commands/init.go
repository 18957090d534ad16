package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sunward/taskpilot/internal/config"
	"github.com/sunward/taskpilot/internal/db"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config and initialize the database",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPathFlag
	if path == "" {
		path = config.DefaultPath()
	}

	if err := config.WriteStarter(path); err != nil {
		return err
	}
	fmt.Printf("Wrote config to %s\n", path)

	cfg, err := config.LoadFrom(path)
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing db: %w", err)
	}
	defer func() { _ = database.Close() }()

	fmt.Printf("Initialized database at %s\n", database.Path())
	fmt.Println("\nNext: taskpilot task create --help")
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/certly/internal/config"
	"github.com/foxzi/certly/internal/lms"
)

var lmsCmd = &cobra.Command{
	Use:   "lms",
	Short: "LMS directory commands",
}

var lmsLoadCmd = &cobra.Command{
	Use:   "load <fixtures.yaml>",
	Short: "Load users, courses and grades into the sqlite directory",
	Args:  exactArgs(1),
	RunE:  runLMSLoad,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade stored element payloads to the current format",
	Args:  exactArgs(0),
	RunE:  runMigrate,
}

func init() {
	lmsCmd.AddCommand(lmsLoadCmd)
	rootCmd.AddCommand(lmsCmd, migrateCmd)
}

func runLMSLoad(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(args[0]); err != nil {
		return usagef("fixtures %s: %w", args[0], err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.LMS.Driver != config.DriverSQLite {
		return usagef("lms load needs the sqlite driver, config uses %s", cfg.LMS.Driver)
	}

	fixtures, err := lms.LoadFixtures(args[0])
	if err != nil {
		return err
	}

	dir, err := lms.OpenSQL(cfg.LMS.Path)
	if err != nil {
		return err
	}
	defer dir.Close()

	if err := dir.Load(cmd.Context(), fixtures); err != nil {
		return fmt.Errorf("failed to load fixtures: %w", err)
	}

	fmt.Printf("Loaded %d users, %d courses, %d grade items into %s\n",
		len(fixtures.Users), len(fixtures.Courses), len(fixtures.GradeItems), cfg.LMS.Path)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	n, err := services.Store.UpgradePayloads(cmd.Context())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Printf("Upgraded %d elements\n", n)
	return nil
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/tradepost/internal/config"
	"github.com/zulandar/tradepost/internal/db"
	"golang.org/x/term"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var (
		configPath string
		seed       bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Tradepost database",
		Long:  "Creates the database when the driver needs it, migrates all tables and optionally writes the demo users and items from config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath, seed)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Tradepost config file")
	cmd.Flags().BoolVar(&seed, "seed", false, "write the seed section of the config")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string, seed bool) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gormDB, err := prepareDatabase(cmd, cfg)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	if err := migrateAndSeed(cmd, gormDB, cfg, seed); err != nil {
		return err
	}
	fmt.Fprintln(out, "\nTradepost database initialized successfully.")
	return nil
}

// prepareDatabase creates the MySQL schema when needed and connects to it.
func prepareDatabase(cmd *cobra.Command, cfg *config.Config) (*gorm.DB, error) {
	out := cmd.OutOrStdout()
	if cfg.Database.Driver == "mysql" {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to MySQL at %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
		}
		defer db.Close(adminDB)
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == "sqlite" {
		fmt.Fprintf(out, "Using SQLite database %s\n", cfg.Database.Path)
	}
	return gormDB, nil
}

func migrateAndSeed(cmd *cobra.Command, gormDB *gorm.DB, cfg *config.Config, seed bool) error {
	out := cmd.OutOrStdout()
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if !seed {
		return nil
	}
	if err := db.SeedDemo(gormDB, cfg.Seed); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d users and %d items\n", len(cfg.Seed.Users), len(cfg.Seed.Items))
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
		seed       bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-initialize the Tradepost database",
		Long: `Drops the Tradepost database (or removes the SQLite file) and re-creates
it from config. Asks for confirmation on a terminal; without one, --yes is
required.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes, seed)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Tradepost config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	cmd.Flags().BoolVar(&seed, "seed", false, "write the seed section of the config after re-creating")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, yes, seed bool) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	target := cfg.Database.Path
	if cfg.Database.Driver == "mysql" {
		target = cfg.Database.Name
	}

	if !yes {
		if !stdinIsTerminal(cmd) {
			return fmt.Errorf("refusing to reset %s without --yes when stdin is not a terminal", target)
		}
		if !confirmReset(cmd, target) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	switch cfg.Database.Driver {
	case "mysql":
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to MySQL at %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
		}
		err = db.DropDatabase(adminDB, target)
		db.Close(adminDB)
		if err != nil {
			return err
		}
	default:
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", target, err)
		}
	}
	fmt.Fprintf(out, "Dropped database %s\n", target)

	gormDB, err := prepareDatabase(cmd, cfg)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	if err := migrateAndSeed(cmd, gormDB, cfg, seed); err != nil {
		return err
	}
	fmt.Fprintln(out, "\nTradepost database reset and re-initialized successfully.")
	return nil
}

func stdinIsTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func confirmReset(cmd *cobra.Command, target string) bool {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "WARNING: This will permanently delete all data in %q.\n", target)
	fmt.Fprintln(out, "This action cannot be undone.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}

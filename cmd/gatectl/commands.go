package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/account"
	"github.com/iliyamo/community-gate/internal/app"
	"github.com/iliyamo/community-gate/internal/config"
	"github.com/iliyamo/community-gate/internal/database"
	"github.com/iliyamo/community-gate/internal/logging"
	"github.com/iliyamo/community-gate/internal/model"
)

// migrateCmd applies the schema.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

var newUser account.NewUser

// createUserCmd provisions one account, typically the first admin.
var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Provision an account",
	Long: `Provision an account without going through the admin API.

Use it to bootstrap the first admin:
  gatectl create-user --email admin@example.com --password secret --role admin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()
		u, err := env.app.Accounts.Provision(cmd.Context(), newUser)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", u.Role, u.Email, u.ID)
		return nil
	},
}

var seedFile string

// seedCmd loads users and visitors from a YAML file.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load users and visitors from a YAML seed file",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(seedFile)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		seed, err := parseSeed(raw)
		if err != nil {
			return err
		}
		env, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()
		sum, err := applySeed(cmd.Context(), env.app, seed)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users (%d existing), %d visitors\n", sum.users, sum.skipped, sum.visitors)
		return nil
	},
}

func init() {
	f := createUserCmd.Flags()
	f.StringVar(&newUser.Email, "email", "", "account email")
	f.StringVar(&newUser.Password, "password", "", "account password")
	f.StringVar((*string)(&newUser.Role), "role", string(model.RoleAdmin), "admin, guard or resident")
	f.StringVar(&newUser.HouseholdNumber, "household", "", "household number (residents)")
	_ = createUserCmd.MarkFlagRequired("email")
	_ = createUserCmd.MarkFlagRequired("password")

	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "seed.yaml", "seed file")
}

type cliEnv struct {
	db     *sql.DB
	app    *app.App
	logger *zap.Logger
}

// open loads config, connects and migrates. Every command goes through it,
// so the schema is always current.
func open(ctx context.Context) (*cliEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := database.Migrate(mctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &cliEnv{db: db, app: app.New(cfg, app.Deps{DB: db, Logger: logger}), logger: logger}, nil
}

func (e *cliEnv) close() {
	e.app.Engine.Wait()
	_ = e.app.Close()
	_ = e.db.Close()
	_ = e.logger.Sync()
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"teamsync-server/internal/auth"
	"teamsync-server/internal/config"
	"teamsync-server/internal/logging"
	"teamsync-server/internal/store"
)

type app struct {
	cfg       config.Config
	logCloser io.Closer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var envFile string

	root := &cobra.Command{
		Use:           "teamsync",
		Short:         "Offline-first sync server for teams, chat and tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
				return errors.Wrapf(err, "load %s", envFile)
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			closer, err := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logCloser = closer
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP and websocket server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the database schema and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := store.Open(cmd.Context(), a.cfg.DatabaseURL)
				if err != nil {
					return err
				}
				log.Info().Str("database", a.cfg.DatabaseURL).Msg("schema applied")
				return st.Close()
			},
		},
		newTokenCmd(a),
	)
	return root
}

func newTokenCmd(a *app) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := auth.CreateToken(userID, a.tokenConfig())
			if err != nil {
				return errors.Wrap(err, "create token")
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to put in the token")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (a *app) tokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Secret: a.cfg.JWTSecret,
		Expiry: a.cfg.TokenExpiry,
		Issuer: auth.Issuer,
	}
}

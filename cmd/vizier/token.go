package main

import (
	"fmt"
	"time"

	"github.com/mohammad-safakhou/vizier/config"
	"github.com/mohammad-safakhou/vizier/internal/runtime"
	"github.com/spf13/cobra"
)

// tokenCMD mints a JWT for local development; there is no login endpoint.
func tokenCMD() *cobra.Command {
	var ttl time.Duration
	var cfgPath string

	var token = &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a development JWT for a user id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(cfgPath)
			if err != nil {
				return err
			}
			secret, err := runtime.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			tok, err := runtime.SignJWT(args[0], secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	token.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	return token
}

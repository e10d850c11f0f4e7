package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/trailpay/platform/internal/auth"
	"github.com/trailpay/platform/internal/infra"
)

var (
	tokenRealm   string
	tokenSubject string
	tokenEmail   string
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a learner or creator token for local testing",
		Args:  cobra.NoArgs,
		RunE:  runTokenCmd,
	}
	cmd.Flags().StringVar(&tokenRealm, "realm", string(auth.RealmLearner), "learner or creator")
	cmd.Flags().StringVar(&tokenSubject, "subject", "", "subject id (random when empty)")
	cmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	return cmd
}

func runTokenCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	subject := uuid.New()
	if tokenSubject != "" {
		if subject, err = uuid.Parse(tokenSubject); err != nil {
			return fmt.Errorf("invalid subject: %w", err)
		}
	}
	mgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTLearnerExpiry, cfg.JWTCreatorExpiry)
	token, err := mgr.GenerateToken(auth.Realm(tokenRealm), subject, tokenEmail)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

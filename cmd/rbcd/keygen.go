package main

import (
	"fmt"

	"github.com/arya-analytics/rbc/internal/signing"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "generate an ed25519 key and print its public half",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := signing.NewEdSigner(signing.ToFile(viper.GetString("key")))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), s.PublicKey().String())
		return err
	},
}

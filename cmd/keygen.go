package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theapemachine/synapse/pkg/auth"
	"github.com/theapemachine/synapse/pkg/vault"
)

var (
	keygenJWTFlag   bool
	keygenIDFlag    string
	keygenNameFlag  string
	keygenAdminFlag bool
	keygenTTLFlag   time.Duration

	keygenCmd = &cobra.Command{
		Use:          "keygen",
		Short:        "Generate operator material",
		Long:         longKeygen,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !keygenJWTFlag {
				key, err := vault.GenerateKey()

				if err != nil {
					return err
				}

				fmt.Println(key)
				return nil
			}

			if keygenIDFlag == "" {
				return fmt.Errorf("--jwt requires --id")
			}

			verifier := auth.NewVerifier(
				viper.GetString("JWT_SECRET"), viper.GetString("JWT_ALGORITHM"),
			)

			token, err := verifier.Mint(
				keygenIDFlag, keygenNameFlag, keygenAdminFlag, keygenTTLFlag,
			)

			if err != nil {
				return err
			}

			fmt.Println(token)
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().BoolVar(&keygenJWTFlag, "jwt", false, "mint a handshake JWT instead of a Fernet key")
	keygenCmd.Flags().StringVar(&keygenIDFlag, "id", "", "application id the token is minted for")
	keygenCmd.Flags().StringVar(&keygenNameFlag, "name", "", "application name carried in the claims")
	keygenCmd.Flags().BoolVar(&keygenAdminFlag, "admin", false, "mark the claims as administrative")
	keygenCmd.Flags().DurationVar(&keygenTTLFlag, "ttl", 0, "token lifetime (0 means no expiry)")
}

/*
longKeygen contains the detailed help text for the keygen command.
*/
var longKeygen = `
Generate operator material.

Without flags, prints a fresh Fernet key suitable for FERNET_KEY. With
--jwt, mints a handshake token signed with the configured JWT_SECRET:

  synapse keygen
  synapse keygen --jwt --id a1 --name billing --admin --ttl 24h
`

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theapemachine/synapse/pkg/auth"
	"github.com/theapemachine/synapse/pkg/stores"
	"github.com/theapemachine/synapse/pkg/stores/sqlite"
	"github.com/theapemachine/synapse/pkg/vault"
)

var (
	bootstrapNameFlag        string
	bootstrapURLFlag         string
	bootstrapDescriptionFlag string
	bootstrapTTLFlag         time.Duration

	bootstrapCmd = &cobra.Command{
		Use:          "bootstrap",
		Short:        "Create the first admin application",
		Long:         longBootstrap,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd.Context())
		},
	}
)

func init() {
	rootCmd.AddCommand(bootstrapCmd)

	bootstrapCmd.Flags().StringVar(&bootstrapNameFlag, "name", "admin", "application name")
	bootstrapCmd.Flags().StringVar(&bootstrapURLFlag, "url", "https://localhost", "application url")
	bootstrapCmd.Flags().StringVar(&bootstrapDescriptionFlag, "description", "Bootstrap administrator", "application description")
	bootstrapCmd.Flags().DurationVar(&bootstrapTTLFlag, "ttl", 0, "token lifetime (0 means no expiry)")
}

/*
runBootstrap creates an admin application straight against the repository.
The hub's own CRUD cannot solve the cold start: no one can connect before an
admin exists, and connecting is how methods are reached.
*/
func runBootstrap(ctx context.Context) error {
	tokenVault, err := vault.New(viper.GetString("FERNET_KEY"))

	if err != nil {
		return fmt.Errorf("FERNET_KEY is unusable: %w", err)
	}

	store, err := sqlite.New(viper.GetString("DATABASE_URL"))

	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}

	defer store.Close()

	app := store.CreateApplication(ctx, &stores.Application{
		Name:        bootstrapNameFlag,
		URL:         bootstrapURLFlag,
		Description: bootstrapDescriptionFlag,
		IsActive:    true,
		IsAdmin:     true,
	})

	if app == nil {
		return fmt.Errorf("failed to create the application")
	}

	verifier := auth.NewVerifier(
		viper.GetString("JWT_SECRET"), viper.GetString("JWT_ALGORITHM"),
	)

	token, err := verifier.Mint(app.ID, app.Name, true, bootstrapTTLFlag)

	if err != nil {
		return err
	}

	encrypted, err := tokenVault.Encrypt(token)

	if err != nil {
		return err
	}

	if store.UpdateApplication(ctx, app.ID, map[string]any{
		"authentication_token": encrypted,
	}) == nil {
		return fmt.Errorf("failed to store the credential")
	}

	log.Info("admin application created", "app_id", app.ID, "name", app.Name)

	out, err := json.Marshal(map[string]string{"id": app.ID, "token": token})

	if err != nil {
		return err
	}

	fmt.Println(string(out))
	return nil
}

/*
longBootstrap contains the detailed help text for the bootstrap command.
*/
var longBootstrap = `
Create the first administrative application directly in the repository and
print its id and a minted handshake token as JSON. Run once against a fresh
database, then manage everything else through the hub:

  FERNET_KEY=$(synapse keygen) synapse bootstrap --name ops
`

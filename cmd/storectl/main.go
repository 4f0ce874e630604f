// storectl runs maintenance tasks against the storefront database.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"go-storefront/log"
	"go-storefront/payment/gateway"
	"go-storefront/payment/order"
	"go-storefront/payment/token"
	"go-storefront/utils"
	"go-storefront/web/db"
)

var cfg utils.Config

func main() {
	rootCmd := &cobra.Command{
		Use:           "storectl",
		Short:         "Storefront maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			utils.LoadEnv()
			cfg = utils.LoadConfig()
			return log.Init(cfg.LogLevel, true)
		},
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(createAdminCmd())
	rootCmd.AddCommand(expireCmd())
	rootCmd.AddCommand(tokenCmd())

	err := rootCmd.Execute()
	log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*gorm.DB, error) {
	store, err := db.Connect(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return store, db.Sync(store)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := openStore(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func createAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create the admin account, or reset its password",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if email == "" {
				email = cfg.AdminEmail
			}
			if password == "" {
				password = cfg.AdminPassword
			}
			if email == "" || len(password) < 6 {
				return errors.New("an email and a password of at least 6 characters are required")
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			user, err := db.EnsureAdmin(cmd.Context(), store, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s (%s) ready\n", user.Email, user.ID)
			return nil
		},
	}

	cmd.Flags().StringP("email", "e", "", "Admin email (default ADMIN_EMAIL)")
	cmd.Flags().StringP("password", "p", "", "Admin password (default ADMIN_PASSWORD)")

	return cmd
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Fail pending orders older than ORDER_TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			orders := order.NewService(store, gateway.NewSet(), nil, order.Config{OrderTTL: cfg.OrderTTL})
			n, err := orders.ExpireStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d orders\n", n)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect stateless order tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "decode [token]",
		Short: "Decrypt a txn_ token and print its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := token.NewCodec(cfg.TokenSecret)
			if err != nil {
				return err
			}
			p, err := codec.Decode(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				token.Payload
				Issued string `json:"issued"`
			}{p, p.Issued().UTC().Format("2006-01-02T15:04:05Z")})
		},
	})

	return cmd
}

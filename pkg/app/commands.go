package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	sessionrepo "agrimarket/internal/session"
	"agrimarket/pkg/booking"
	"agrimarket/pkg/config"
	"agrimarket/pkg/session"
	"agrimarket/pkg/version"
)

func (a *cli) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lggr, err := a.load()
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg, lggr)
			if err != nil {
				return err
			}
			defer db.Close()
			lggr.Infow("schema applied", "driver", cfg.Database.Driver)
			cmd.Println("schema is up to date")
			return nil
		},
	}
}

func (a *cli) newQuoteCmd() *cobra.Command {
	var (
		distance float64
		weight   float64
		vehicle  string
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Print the transport fare for a trip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			pricing, err := booking.PricingFromConfig(cfg.Pricing)
			if err != nil {
				return err
			}
			price, err := pricing.Quote(distance, weight, booking.VehicleType(vehicle))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s, %g km, %g kg: %s\n", vehicle, distance, weight, price.StringFixed(2))
			return err
		},
	}
	cmd.Flags().Float64Var(&distance, "distance", 0, "Trip distance in km")
	cmd.Flags().Float64Var(&weight, "weight", 0, "Load weight in kg")
	cmd.Flags().StringVar(&vehicle, "vehicle", string(booking.VehicleMiniTruck), "Vehicle type")
	_ = cmd.MarkFlagRequired("distance")
	_ = cmd.MarkFlagRequired("weight")
	return cmd
}

func (a *cli) newAdminCmd() *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage staff accounts",
	}

	var name, phone, role, pin string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an admin or support user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lggr, err := a.load()
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg, lggr)
			if err != nil {
				return err
			}
			defer db.Close()

			sessions := session.NewService(sessionrepo.NewRepository(db), cfg.GetSessionTTL(), lggr)
			defer sessions.Close()
			u, err := sessions.CreateStaff(cmd.Context(), name, phone, session.Role(role), pin)
			if err != nil {
				return err
			}
			cmd.Printf("created %s %s (%s)\n", u.Role, u.ID, u.Phone)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "Display name")
	create.Flags().StringVar(&phone, "phone", "", "Login phone number")
	create.Flags().StringVar(&role, "role", string(session.RoleAdmin), "admin or support")
	create.Flags().StringVar(&pin, "pin", "", "4 to 8 digit login pin")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("phone")
	_ = create.MarkFlagRequired("pin")

	adminCmd.AddCommand(create)
	return adminCmd
}

func (a *cli) newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", a.configPath)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.Default().Save(a.configPath); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", a.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(initCmd)
	return configCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version, commit and build date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sentriapp/shift-engine/internal/config"
	"github.com/sentriapp/shift-engine/pkg/core/availability"
	"github.com/sentriapp/shift-engine/pkg/core/broadcaster"
	"github.com/sentriapp/shift-engine/pkg/core/engine"
	"github.com/sentriapp/shift-engine/pkg/core/events"
	"github.com/sentriapp/shift-engine/pkg/core/geo"
	"github.com/sentriapp/shift-engine/pkg/core/model"
	"github.com/sentriapp/shift-engine/pkg/core/scorer"
	"github.com/sentriapp/shift-engine/pkg/db"
	"github.com/sentriapp/shift-engine/pkg/postgres"
	"github.com/sentriapp/shift-engine/pkg/utils/logging"
)

// App holds the application dependencies
type App struct {
	cfg      *config.Config
	database *postgres.DB
	engine   *engine.Engine
	logger   *zap.Logger
	ctx      context.Context
}

var (
	env     string
	verbose bool
	app     *App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shift-engine",
		Short: "Shift Assignment & Lifecycle Engine",
		Long:  `Operates the shift engine: candidate ranking, offer broadcasting, geofenced check-in/out, and lifecycle sweeps.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				if app.database != nil {
					app.database.Close()
				}
				if app.logger != nil {
					app.logger.Sync()
				}
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment (required: test, prod, etc.)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on the console")
	rootCmd.MarkPersistentFlagRequired("env")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(acceptCmd())
	rootCmd.AddCommand(declineCmd())
	rootCmd.AddCommand(checkInCmd())
	rootCmd.AddCommand(checkOutCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initApp sets up logger, config, database, and the engine
func initApp() error {
	var err error
	app = &App{
		ctx: context.Background(),
	}

	app.logger, err = logging.InitLogger(env, verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger.Info("Starting shift engine", zap.String("environment", env))

	app.cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.logger.Debug("Configuration loaded successfully")

	app.logger.Info("Connecting to database")
	app.database, err = postgres.NewDB(app.ctx, app.cfg.DatabaseURL, app.cfg.ReadTimeout())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	store := db.NewRetrying(app.database, app.cfg.RetryBackoff(), app.logger)
	resolver := availability.NewResolver(store, app.logger)
	candidateScorer := scorer.New(store, resolver, app.cfg.Weights(), app.logger)

	// Engine output events go to the log until a dispatcher is attached.
	var emitter events.Emitter = events.NopEmitter{}

	offerBroadcaster := broadcaster.New(store, emitter, app.cfg.OfferTTL(), app.logger)
	app.engine = engine.New(store, app.database, candidateScorer, offerBroadcaster, emitter, app.cfg.Policy(), app.logger)

	app.logger.Info("Engine initialized")
	return nil
}

// Command definitions

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.database.RunMigrations(app.ctx); err != nil {
				return err
			}
			fmt.Println("Migrations applied.")
			return nil
		},
	}
}

func assignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <shift_id>",
		Short: "Rank candidates for an open shift and start the offer cascade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			offer, err := app.engine.Assign(app.ctx, args[0])
			if err != nil {
				return err
			}

			if offer == nil {
				fmt.Printf("\nNo eligible candidates - shift %s marked unfilled.\n", args[0])
				return nil
			}

			fmt.Printf("\nOffer created.\n\n")
			fmt.Printf("Offer ID:     %s\n", offer.ID)
			fmt.Printf("Candidate:    %s (rank %d)\n", offer.PersonnelID, offer.Rank)
			fmt.Printf("Expires at:   %s\n\n", offer.ExpiresAt.Format(time.RFC3339))

			return nil
		},
	}
}

func acceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <offer_id> <personnel_id>",
		Short: "Accept a pending offer on behalf of its target candidate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offer, err := app.engine.Accept(app.ctx, args[0], args[1])
			if err != nil {
				if model.IsConflict(err) {
					fmt.Printf("\nNot accepted: %v\n", err)
					return nil
				}
				return err
			}

			fmt.Printf("\nShift %s accepted by %s.\n", offer.ShiftID, offer.PersonnelID)
			return nil
		},
	}
}

func declineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decline <offer_id> <personnel_id>",
		Short: "Decline a pending offer and rotate to the next candidate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.engine.Decline(app.ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("\nOffer declined.")
			return nil
		},
	}
}

func checkInCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkin <shift_id> <personnel_id> <lat> <lng>",
		Short: "Check in to a shift at the given coordinates",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, err := parseFix(args[2], args[3])
			if err != nil {
				return err
			}

			event, err := app.engine.CheckIn(app.ctx, args[0], args[1], fix)
			if err != nil {
				if model.IsGeofenceViolation(err) {
					fmt.Printf("\nCheck-in rejected: %v\n", err)
					return nil
				}
				return err
			}

			fmt.Printf("\nChecked in at %s.\n", event.Timestamp.Format(time.RFC3339))
			return nil
		},
	}
}

func checkOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <shift_id> <personnel_id> <lat> <lng>",
		Short: "Check out of a shift and compute pay",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, err := parseFix(args[2], args[3])
			if err != nil {
				return err
			}

			event, pay, err := app.engine.CheckOut(app.ctx, args[0], args[1], fix)
			if err != nil {
				return err
			}

			fmt.Printf("\nChecked out at %s.\n\n", event.Timestamp.Format(time.RFC3339))
			fmt.Printf("Hours worked: %.2f\n", pay.HoursWorked)
			fmt.Printf("Total pay:    £%d.%02d\n\n", pay.TotalPence/100, pay.TotalPence%100)
			return nil
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <shift_id> <actor> <reason>",
		Short: "Cancel a shift, invalidating any in-flight offer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.engine.Cancel(app.ctx, args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Printf("\nShift %s cancelled.\n", args[0])
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue accepted shifts as no-shows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			swept, err := app.engine.SweepNoShows(app.ctx, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("\nSwept %d no-show shift(s).\n", swept)
			return nil
		},
	}
}

func parseFix(latArg, lngArg string) (geo.Fix, error) {
	lat, err := strconv.ParseFloat(latArg, 64)
	if err != nil {
		return geo.Fix{}, fmt.Errorf("lat must be a number: %w", err)
	}
	lng, err := strconv.ParseFloat(lngArg, 64)
	if err != nil {
		return geo.Fix{}, fmt.Errorf("lng must be a number: %w", err)
	}
	return geo.Fix{Latitude: lat, Longitude: lng, Timestamp: time.Now()}, nil
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-document/pkg/simpledoc"
	"github.com/tendant/simple-document/pkg/simpledoc/config"
	"github.com/tendant/simple-document/pkg/simpledoc/repo/postgres/migrations"
	"github.com/tendant/simple-document/pkg/simpledoc/scan"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment the same way the server does.
func loadConfig() (*config.ServerConfig, error) {
	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// newService builds the service without bootstrapping admin roles.
func newService(ctx context.Context) (simpledoc.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.AdminRoles = nil
	return cfg.BuildService(ctx)
}

// openDB opens a database/sql handle for migrations.
func openDB(ctx context.Context) (*sql.DB, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseType != "postgres" {
		return nil, nil, fmt.Errorf("migrations require a postgres DATABASE_URL")
	}
	pool, err := config.OpenPostgres(ctx, cfg.DatabaseURL, cfg.DBSchema)
	if err != nil {
		return nil, nil, err
	}
	db := stdlib.OpenDBFromPool(pool)
	return db, func() {
		db.Close()
		pool.Close()
	}, nil
}

func actor(cmd *cobra.Command) simpledoc.Principal {
	id, _ := cmd.Flags().GetString("as")
	roles, _ := cmd.Flags().GetStringSlice("role")
	return simpledoc.Principal{ID: id, Roles: roles}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Simple Document admin CLI",
	Long: "Administrative commands for the document store.\n\n" +
		"Configuration is read from the environment (and a .env file):\n" + config.Usage(),
	SilenceUsage: true,
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, closeDB, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB()

		if err := migrations.MigrateUp(db); err != nil {
			return err
		}
		fmt.Println("Schema is up to date.")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, closeDB, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB()

		if err := migrations.MigrateDown(db); err != nil {
			return err
		}
		fmt.Println("Schema rolled back.")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, closeDB, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB()

		latest, err := migrations.LatestVersion()
		if err != nil {
			return err
		}
		if err := migrations.CheckMigrationStatus(db); err != nil {
			return err
		}
		fmt.Printf("Schema is at the latest version (%d).\n", latest)
		return nil
	},
}

// grant-role command
var grantRoleCmd = &cobra.Command{
	Use:   "grant-role <role> <capability>...",
	Short: "Give a role capabilities on every document",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		caps, err := simpledoc.ParseCapabilities(args[1:])
		if err != nil {
			return err
		}
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}

		grant, err := svc.BootstrapRole(cmd.Context(), args[0], caps)
		if err != nil {
			return fmt.Errorf("granting role: %w", err)
		}
		fmt.Printf("Role %s now holds %s on every document.\n", args[0], grant.Capabilities)
		return nil
	},
}

// versions command
var versionsCmd = &cobra.Command{
	Use:   "versions <document-id>",
	Short: "List a document's version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id: %w", err)
		}
		useJSON, _ := cmd.Flags().GetBool("json")

		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}

		var versions []*simpledoc.Version
		for v, err := range svc.ListVersions(cmd.Context(), actor(cmd), id) {
			if err != nil {
				return err
			}
			versions = append(versions, v)
		}

		if useJSON {
			return printJSON(versions)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tCREATED\tAUTHOR\tSIZE\tNAME\tCOMMENT")
		for _, v := range versions {
			comment := v.Comment
			if v.RevertedFrom != nil && comment == "" {
				comment = fmt.Sprintf("(revert of %d)", *v.RevertedFrom)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
				v.Sequence, v.CreatedAt.Format(time.RFC3339), v.AuthorID, v.Metadata.Size, v.Metadata.Name, comment)
		}
		return w.Flush()
	},
}

// activity command
var activityCmd = &cobra.Command{
	Use:   "activity <document-id>",
	Short: "Show a document's activity trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id: %w", err)
		}
		after, _ := cmd.Flags().GetInt64("after")
		limit, _ := cmd.Flags().GetInt("limit")
		useJSON, _ := cmd.Flags().GetBool("json")

		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		entries, err := svc.ListActivity(cmd.Context(), simpledoc.ActivityQuery{
			Principal:  actor(cmd),
			DocumentID: id,
			AfterSeq:   after,
			Limit:      limit,
		})
		if err != nil {
			return err
		}

		if useJSON {
			return printJSON(entries)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tPRINCIPAL\tACTION\tRESULT\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				e.Seq, e.CreatedAt.Format(time.RFC3339), e.PrincipalID, e.Action, e.Result, e.Detail)
		}
		return w.Flush()
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every version's blob exists and matches its metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		currentOnly, _ := cmd.Flags().GetBool("current-only")
		owner, _ := cmd.Flags().GetString("owner")
		batch, _ := cmd.Flags().GetInt("batch-size")
		useJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repo, blobs, err := cfg.BuildStores(cmd.Context())
		if err != nil {
			return err
		}

		result, err := scan.New(repo, slog.Default()).Scan(cmd.Context(), scan.ScanOptions{
			Filter:      simpledoc.DocumentFilter{OwnerID: owner},
			Processor:   &scan.IntegrityChecker{Blobs: blobs},
			CurrentOnly: currentOnly,
			BatchSize:   batch,
		})
		if err != nil {
			return err
		}

		if useJSON {
			if err := printJSON(result); err != nil {
				return err
			}
		} else {
			fmt.Printf("Checked %d versions across %d documents.\n", result.TotalFound, result.DocumentsFound)
			for _, f := range result.Failures {
				fmt.Printf("  %s v%d: %s\n", f.DocumentID, f.Sequence, f.Error)
			}
		}
		if result.TotalFailed > 0 {
			return fmt.Errorf("%d versions failed verification", result.TotalFailed)
		}
		return nil
	},
}

// token command
var tokenCmd = &cobra.Command{
	Use:   "token <principal-id>",
	Short: "Issue a bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roles, _ := cmd.Flags().GetStringSlice("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tokens, err := cfg.BuildAuthenticator()
		if err != nil {
			return err
		}
		if tokens == nil {
			return fmt.Errorf("JWT_SECRET is not set")
		}
		if ttl <= 0 {
			ttl = cfg.TokenTTL
		}

		token, err := tokens.Issue(simpledoc.Principal{ID: args[0], Roles: roles}, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{versionsCmd, activityCmd} {
		cmd.Flags().String("as", "", "principal id to act as")
		cmd.Flags().StringSlice("role", nil, "roles of the acting principal")
		cmd.Flags().Bool("json", false, "output as JSON")
		_ = cmd.MarkFlagRequired("as")
	}
	activityCmd.Flags().Int64("after", 0, "only entries after this sequence")
	activityCmd.Flags().Int("limit", 100, "maximum entries")

	verifyCmd.Flags().Bool("current-only", false, "only check each document's current version")
	verifyCmd.Flags().String("owner", "", "only check documents owned by this principal")
	verifyCmd.Flags().Int("batch-size", 100, "documents read per batch")
	verifyCmd.Flags().Bool("json", false, "output as JSON")

	tokenCmd.Flags().StringSlice("role", nil, "roles to embed in the token")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default TOKEN_TTL)")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd, grantRoleCmd, versionsCmd, activityCmd, verifyCmd, tokenCmd)
}

// capabilityNames lists valid capability arguments for help output.
func capabilityNames() string {
	return strings.Join(simpledoc.FullCapabilities.Strings(), ", ")
}

func init() {
	grantRoleCmd.Long = "Capabilities: " + capabilityNames()
}

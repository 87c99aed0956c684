package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pursuit/internal/authz"
	"pursuit/internal/config"
	"pursuit/internal/db"
	"pursuit/internal/events"
	"pursuit/internal/migrate"
	"pursuit/internal/notify"
	"pursuit/internal/repo"
	"pursuit/internal/server"
	"pursuit/internal/sites"
	"pursuit/internal/workflow"
	"pursuit/internal/workflow/steps"
)

var rootCmd = &cobra.Command{
	Use:   "pursuit",
	Short: "Pursuit CLI",
	Long: `Pursuit manages sales opportunities and drives them through
template-defined workflows. Roles and permissions gate every operation;
the workspace holds a .pursuit database plus a pursuit.yml config.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PURSUIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(opportunityCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(permissionCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var appName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default pursuit.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(appName)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&appName, "name", "pursuit", "application name")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the role and permission catalog from config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.SeedCatalog(ctx, cfg); err != nil {
					return err
				}
				fmt.Println("Catalog seeded.")
				return nil
			})
		},
	}
	return cmd
}

func opportunityCmd() *cobra.Command {
	opp := &cobra.Command{Use: "opportunity", Short: "Inspect opportunities"}
	opp.AddCommand(opportunityListCmd())
	opp.AddCommand(opportunityShowCmd())
	return opp
}

func opportunityListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List opportunities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOpportunities(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "State", "Version", "Updated"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.DisplayName, o.State, o.Version, o.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func opportunityShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an opportunity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				o, err := r.GetOpportunity(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func templateCmd() *cobra.Command {
	tmpl := &cobra.Command{Use: "template", Short: "Inspect workflow templates"}
	tmpl.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Steps"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, len(t.ProcessList)})
				}
				tw.Render()
				return nil
			})
		},
	})
	tmpl.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	})
	return tmpl
}

func roleCmd() *cobra.Command {
	role := &cobra.Command{Use: "role", Short: "Inspect roles"}
	role.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles and their permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				roles, err := r.Roles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(roles)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "AD Group", "Teams", "Permissions"})
				for _, role := range roles {
					names := make([]string, 0, len(role.Permissions))
					for _, p := range role.Permissions {
						names = append(names, p.Name)
					}
					tw.AppendRow(table.Row{role.ID, role.DisplayName, role.ADGroupName, role.TeamsMembership, strings.Join(names, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	})
	return role
}

func permissionCmd() *cobra.Command {
	perm := &cobra.Command{Use: "permission", Short: "Inspect the permission catalog"}
	perm.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				perms, err := r.Permissions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(perms)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name"})
				for _, p := range perms {
					tw.AppendRow(table.Row{p.ID, p.Name})
				}
				tw.Render()
				return nil
			})
		},
	})
	return perm
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var afterID int64
	var opportunityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.EventsAfter(ctx, n, afterID, opportunityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&afterID, "after-id", 0, "only events after this id")
	cmd.Flags().StringVar(&opportunityID, "opportunity", "", "opportunity id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			if err := r.SeedCatalog(cmd.Context(), cfg); err != nil {
				return err
			}

			secret := os.Getenv("PURSUIT_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("PURSUIT_JWT_SECRET is required for bearer auth")
			}

			engine := authz.New(r, cfg.App.ClientID)
			writer := events.Writer{DB: conn}
			var notifier notify.Notifier
			if cfg.NotificationsEnabled() {
				notifier = notify.NewWebhook(cfg.Notifications.URL)
			}
			siteClient := sites.NewHTTPClient(cfg.Sites.GatewayURL)
			handlers := steps.Wire(steps.Deps{DB: conn, Events: writer, Authz: engine})
			orchestrator := workflow.New(handlers, siteClient, notifier, cfg)

			handler, err := server.New(server.Config{
				DB:           conn,
				Repo:         r,
				Events:       writer,
				Authz:        engine,
				Orchestrator: orchestrator,
				App:          cfg,
				BasePath:     basePath,
				Auth:         server.AuthConfig{JWTSecret: secret},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Pursuit API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

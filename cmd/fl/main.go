package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"formline/internal/config"
	"formline/internal/db"
	"formline/internal/domain"
	"formline/internal/fields"
	"formline/internal/migrate"
	"formline/internal/repo"
	"formline/internal/router"
	"formline/internal/server"
	"formline/internal/versions"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Formline CLI",
	Long: `Formline is a form builder backend with version control and approval workflows.
- Workspace: your .formline directory holding the database; formline.yml configures the server and webhooks.
- Form: a container whose published pointer names the version submissions are accepted against.
- Draft: the one editable working copy per form; publishing freezes it as the next version (1, 2, 3, ...).
- Workflow: a directed graph of role-gated steps; approve/reject/auto actions move each submission through it.
- Submission: a payload validated against the published version's fields, then routed step by step.
- Event log: diary of changes, view with 'fl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("FORMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", "", "actor role for workflow actions")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(formCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(actCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default formline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func formCmd() *cobra.Command {
	form := &cobra.Command{Use: "form", Short: "Manage forms"}
	form.AddCommand(formCreateCmd())
	form.AddCommand(formListCmd())
	form.AddCommand(formShowCmd())
	form.AddCommand(formVersionsCmd())
	form.AddCommand(formStatsCmd())
	return form
}

func formCreateCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create form",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVersions(cmd.Context(), func(ctx context.Context, s versions.Store) error {
				if owner == "" {
					owner = viper.GetString("actor-id")
				}
				f, err := s.CreateForm(ctx, owner)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner actor id")
	return cmd
}

func formListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List forms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListForms(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Owner", "Current version", "Created"})
				for _, f := range items {
					current := "-"
					if f.CurrentVersion != nil {
						current = fmt.Sprintf("%d", *f.CurrentVersion)
					}
					tw.AppendRow(table.Row{f.ID, f.OwnerID, current, f.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func formShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <form-id>",
		Short: "Show form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				f, err := r.GetForm(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
}

func formVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions <form-id>",
		Short: "List versions of a form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListVersions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Version", "State", "Fields", "Workflow", "Published"})
				for _, v := range items {
					version := "-"
					if v.Version > 0 {
						version = fmt.Sprintf("%d", v.Version)
					}
					workflow := "no"
					if v.Workflow != nil {
						workflow = fmt.Sprintf("%d steps", len(v.Workflow.Steps))
					}
					tw.AppendRow(table.Row{version, v.State, len(v.Fields), workflow, v.PublishedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func formStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <form-id>",
		Short: "Submission counts by workflow status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetForm(ctx, args[0]); err != nil {
					return err
				}
				counts, err := r.CountSubmissionsByStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
}

func draftCmd() *cobra.Command {
	draft := &cobra.Command{Use: "draft", Short: "Manage the open draft of a form"}
	draft.AddCommand(draftNewCmd())
	draft.AddCommand(draftUpdateCmd())
	draft.AddCommand(draftShowCmd())
	return draft
}

func draftNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <form-id>",
		Short: "Open a draft (copies the published version if any)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVersions(cmd.Context(), func(ctx context.Context, s versions.Store) error {
				v, err := s.CreateDraft(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func draftUpdateCmd() *cobra.Command {
	var fieldsFile, settingsFile, workflowFile string
	cmd := &cobra.Command{
		Use:   "update <form-id>",
		Short: "Update the open draft from JSON files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch versions.DraftPatch
			if fieldsFile != "" {
				if err := readJSONFile(fieldsFile, &patch.Fields); err != nil {
					return err
				}
			}
			if settingsFile != "" {
				patch.Settings = &domain.FormSettings{}
				if err := readJSONFile(settingsFile, patch.Settings); err != nil {
					return err
				}
			}
			if workflowFile != "" {
				patch.Workflow = &domain.WorkflowDefinition{}
				if err := readJSONFile(workflowFile, patch.Workflow); err != nil {
					return err
				}
			}
			if fieldsFile == "" && settingsFile == "" && workflowFile == "" {
				return fmt.Errorf("nothing to update; pass --fields, --settings or --workflow")
			}
			return withVersions(cmd.Context(), func(ctx context.Context, s versions.Store) error {
				v, err := s.UpdateDraft(ctx, args[0], patch, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&fieldsFile, "fields", "", "path to fields JSON array")
	cmd.Flags().StringVar(&settingsFile, "settings", "", "path to settings JSON object")
	cmd.Flags().StringVar(&workflowFile, "workflow", "", "path to workflow JSON object")
	return cmd
}

func draftShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <form-id>",
		Short: "Show the open draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				v, err := r.GetDraft(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Manage workflow definitions"}
	wf.AddCommand(workflowSetCmd())
	wf.AddCommand(workflowShowCmd())
	return wf
}

func workflowSetCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set <form-id>",
		Short: "Replace the workflow definition from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var def domain.WorkflowDefinition
			if err := readJSONFile(file, &def); err != nil {
				return err
			}
			return withVersions(cmd.Context(), func(ctx context.Context, s versions.Store) error {
				if err := s.SetWorkflow(ctx, args[0], def, viper.GetString("actor-id")); err != nil {
					return err
				}
				return printJSONOrTable(def)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to workflow JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func workflowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <form-id>",
		Short: "Show the workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				def, err := r.GetWorkflowDefinition(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(def)
			})
		},
	}
}

func publishCmd() *cobra.Command {
	var prev int
	var note string
	cmd := &cobra.Command{
		Use:   "publish <form-id>",
		Short: "Publish the open draft as the next version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVersions(cmd.Context(), func(ctx context.Context, s versions.Store) error {
				v, err := s.Publish(ctx, args[0], prev, note, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().IntVar(&prev, "previous-version", 0, "current version you last observed (0 if never published)")
	cmd.Flags().StringVar(&note, "note", "", "publish note")
	return cmd
}

func submitCmd() *cobra.Command {
	var payloadStr, payloadFile string
	cmd := &cobra.Command{
		Use:   "submit <form-id>",
		Short: "Submit a payload against the published version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{}
			switch {
			case payloadFile != "":
				if err := readJSONFile(payloadFile, &payload); err != nil {
					return err
				}
			case payloadStr != "":
				if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}
			return withRouter(cmd.Context(), func(ctx context.Context, rt *router.Router) error {
				sub, inst, err := rt.Accept(ctx, args[0], payload, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"submission": sub, "instance": inst})
			})
		},
	}
	cmd.Flags().StringVar(&payloadStr, "payload", "", "payload as inline JSON")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "path to payload JSON")
	return cmd
}

func submissionCmd() *cobra.Command {
	sub := &cobra.Command{Use: "submission", Short: "Inspect submissions"}
	sub.AddCommand(submissionListCmd())
	sub.AddCommand(submissionShowCmd())
	return sub
}

func submissionListCmd() *cobra.Command {
	var f repo.SubmissionFilters
	cmd := &cobra.Command{
		Use:   "list <form-id>",
		Short: "List submissions of a form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.FormID = args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSubmissions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Version", "Created by", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Version, s.CreatedBy, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (in_progress, completed, rejected)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func submissionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <submission-id>",
		Short: "Show a submission with its workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.GetSubmission(ctx, args[0])
				if err != nil {
					return err
				}
				inst, err := r.GetInstance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"submission": s, "instance": inst})
			})
		},
	}
}

func actCmd() *cobra.Command {
	var action, note string
	cmd := &cobra.Command{
		Use:   "act <submission-id>",
		Short: "Apply an approval action to a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if action == "" {
				return fmt.Errorf("--action required")
			}
			return withRouter(cmd.Context(), func(ctx context.Context, rt *router.Router) error {
				inst, err := rt.Act(ctx, args[0], action, viper.GetString("actor-id"), viper.GetString("role"), note)
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "approve or reject")
	cmd.Flags().StringVar(&note, "note", "", "history note")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: form changes, publishes, submissions, and workflow moves.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var formID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, formID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&formID, "form", "", "form id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.NewString() + uuid.NewString()
				k := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Role:      role,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": k.ID, "actor_id": k.ActorID, "role": k.Role, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor-id", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&role, "key-role", "", "role asserted by the key")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Role", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
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
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			if addr == "" {
				addr = cfg.Server.Listen
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("FORMLINE_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Server.JWTSecret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("FORMLINE_JWT_SECRET is required unless server.allow_legacy_actor_header is set")
			}
			reg := fields.Builtin()
			r := repo.Repo{DB: conn}
			handler, err := server.New(server.Config{
				DB:       conn,
				Versions: versions.New(conn, reg),
				Router:   router.New(conn, reg),
				Repo:     r,
				App:      cfg,
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(r, cfg)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Formline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from formline.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from formline.yml)")
	return cmd
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func withVersions(ctx context.Context, fn func(context.Context, versions.Store) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, versions.New(conn, fields.Builtin()))
}

func withRouter(ctx context.Context, fn func(context.Context, *router.Router) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, router.New(conn, fields.Builtin()))
}

func openDB() (*sql.DB, error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
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
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

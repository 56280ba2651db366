package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"peerproof/internal/app"
	"peerproof/internal/config"
	"peerproof/internal/db"
	"peerproof/internal/domain"
	"peerproof/internal/engine"
	"peerproof/internal/media"
	"peerproof/internal/migrate"
	"peerproof/internal/repo"
	"peerproof/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pp",
	Short: "Peerproof CLI",
	Long: `Peerproof runs a challenge community with peer-validated proof.
Core concepts:
- Workspace: your .peerproof directory with only the database; config is stored in the DB and imported explicitly.
- Challenges: tasks worth points, created by any member.
- Submissions: proof (text, image, video) that you beat a challenge; exactly one pending submission per member per challenge.
- Validation: peers with standing (challenge creators, or members who already beat the challenge) approve or reject pending proof. First decision wins.
- Points: approval credits the submitter with the challenge's points and the validator with the configured reward. Balances never go negative.
- Reports: anyone can flag a submission for abuse; moderators review.
- Event log: diary of changes, view with 'pp log tail'.`,
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
	viper.SetEnvPrefix("PEERPROOF")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(challengeCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(rejectCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(feedCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var name, operatorName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
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
				cfg = config.Default(name)
			}
			e := engine.New(conn, cfg)
			if err := e.InitInstance(cmd.Context(), name, viper.GetString("user-id"), operatorName); err != nil {
				return err
			}
			fmt.Printf("Initialized instance %q in %s\n", name, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "peerproof", "instance name")
	cmd.Flags().StringVar(&operatorName, "operator-name", "", "display name for the operator profile")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect instance config",
		Long:  "Config is the rulebook (stored in DB): point values, the rejection reason catalog, report reasons, media upload, and webhooks. Import from peerproof.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertInstanceConfig(ctx, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func challengeCmd() *cobra.Command {
	challenge := &cobra.Command{
		Use:   "challenge",
		Short: "Manage challenges",
	}
	challenge.AddCommand(challengeCreateCmd())
	challenge.AddCommand(challengeListCmd())
	challenge.AddCommand(challengeGetCmd())
	challenge.AddCommand(challengeUpdateCmd())
	return challenge
}

func challengeCreateCmd() *cobra.Command {
	var opts engine.ChallengeCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a challenge",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.CreatorID = viper.GetString("user-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateChallenge(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "challenge id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().Int64Var(&opts.Points, "points", 0, "points awarded on approval")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("points")
	return cmd
}

func challengeListCmd() *cobra.Command {
	var f repo.ChallengeFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List challenges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListChallenges(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Points", "Active", "Creator"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Title, c.Points, c.Active, c.CreatorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CreatorID, "creator", "", "creator filter")
	cmd.Flags().BoolVar(&f.ActiveOnly, "active", false, "only active challenges")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func challengeGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetChallenge(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func challengeUpdateCmd() *cobra.Command {
	var title, description string
	var points int64
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ChallengeUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("user-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("points") {
				opts.Points = &points
			}
			if cmd.Flags().Changed("active") {
				opts.Active = &active
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateChallenge(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().Int64Var(&points, "points", 0, "points awarded on approval")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func submitCmd() *cobra.Command {
	var challengeID, proofText, imagePath, videoPath, feedBody string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit proof for a challenge",
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := readAttachment(imagePath)
			if err != nil {
				return err
			}
			video, err := readAttachment(videoPath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSubmission(ctx, engine.SubmissionCreateOptions{
					ChallengeID: challengeID,
					SubmitterID: viper.GetString("user-id"),
					ProofText:   proofText,
					Image:       image,
					Video:       video,
					FeedBody:    feedBody,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&challengeID, "challenge", "", "challenge id")
	cmd.Flags().StringVar(&proofText, "proof-text", "", "textual proof")
	cmd.Flags().StringVar(&imagePath, "image", "", "path to image proof")
	cmd.Flags().StringVar(&videoPath, "video", "", "path to video proof")
	cmd.Flags().StringVar(&feedBody, "feed-body", "", "feed post body (defaults to proof text)")
	_ = cmd.MarkFlagRequired("challenge")
	return cmd
}

func approveCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "approve <submission-id>",
		Short: "Approve a pending submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Approve(ctx, id, viper.GetString("user-id"), comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "validator comment")
	return cmd
}

func rejectCmd() *cobra.Command {
	var reason, comment string
	cmd := &cobra.Command{
		Use:   "reject <submission-id>",
		Short: "Reject a pending submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Reject(ctx, id, viper.GetString("user-id"), reason, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "catalog rejection reason")
	cmd.Flags().StringVar(&comment, "comment", "", "validator comment")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func queueCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List pending submissions awaiting validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.ValidationQueue(ctx, viper.GetString("user-id"), limit, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Submission", "Challenge", "Submitter", "Created", "Eligible"})
				for _, entry := range entries {
					s := entry.Submission
					tw.AppendRow(table.Row{s.ID, s.ChallengeID, s.SubmitterID, s.CreatedAt, entry.Eligible})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func reportCmd() *cobra.Command {
	report := &cobra.Command{
		Use:   "report",
		Short: "Manage abuse reports",
	}
	report.AddCommand(reportFileCmd())
	report.AddCommand(reportListCmd())
	report.AddCommand(reportResolveCmd())
	return report
}

func reportFileCmd() *cobra.Command {
	var reason, description string
	cmd := &cobra.Command{
		Use:   "file <submission-id>",
		Short: "File an abuse report against a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.FileReport(ctx, engine.ReportOptions{
					SubmissionID: id,
					ReporterID:   viper.GetString("user-id"),
					Reason:       reason,
					Description:  description,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "report reason")
	cmd.Flags().StringVar(&description, "description", "", "free-form details")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func reportListCmd() *cobra.Command {
	var f repo.ReportFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List abuse reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListReports(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.SubmissionID, "submission", "", "submission filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func reportResolveCmd() *cobra.Command {
	var outcome string
	cmd := &cobra.Command{
		Use:   "resolve <report-id>",
		Short: "Resolve an abuse report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.ResolveReport(ctx, id, viper.GetString("user-id"), outcome)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "outcome (reviewed, dismissed)")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func profileCmd() *cobra.Command {
	profile := &cobra.Command{
		Use:   "profile",
		Short: "Manage profiles",
	}
	profile.AddCommand(profileGetCmd())
	profile.AddCommand(profileListCmd())
	profile.AddCommand(profileSetRoleCmd())
	return profile
}

func profileGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProfile(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func profileListCmd() *cobra.Command {
	var f repo.ProfileFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProfiles(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Points", "Defeats"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.DisplayName, p.Role, p.Points, p.Defeats})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Role, "role", "", "role filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func profileSetRoleCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "set-role <id>",
		Short: "Set a profile's role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpdateProfileRole(ctx, id, role); err != nil {
					return err
				}
				p, err := r.GetProfile(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role (user, moderator, admin)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func feedCmd() *cobra.Command {
	var f repo.FeedFilters
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List feed posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListFeedPosts(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.AuthorID, "author", "", "author filter")
	cmd.Flags().StringVar(&f.ChallengeID, "challenge", "", "challenge filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show instance statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.AdminStats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				fmt.Printf("Pending reports: %d\n", stats.PendingReports)
				fmt.Println("Submissions:")
				for status, c := range stats.SubmissionCounts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				if stats.AvgValidateSecs != nil {
					fmt.Printf("Avg time to validation: %.1fs\n", *stats.AvgValidateSecs)
				} else {
					fmt.Println("Avg time to validation: n/a")
				}
				fmt.Println("Top validators:")
				for _, entry := range stats.Leaderboard {
					fmt.Printf("  %s: %d\n", entry.ValidatorID, entry.Validations)
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	apikey.AddCommand(apikeyCreateCmd())
	apikey.AddCommand(apikeyListCmd())
	apikey.AddCommand(apikeyDeleteCmd())
	return apikey
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := hex.EncodeToString(raw)
			key := domain.APIKey{
				ID:      uuid.New().String(),
				UserID:  viper.GetString("user-id"),
				Name:    name,
				KeyHash: repo.HashAPIKey(secret),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The plaintext is shown once and never stored.
				return printJSONOrTable(map[string]string{"id": key.ID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
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
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveInstanceConfig(cmd.Context(), workspace, viper.GetString("user-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if cfg.Media.UploadURL != "" {
				e.Media = media.NewHTTPStore(cfg.Media.UploadURL)
			}
			log := logrus.New()
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("PEERPROOF_JWT_SECRET"),
				AllowLegacyUserHeader: allowLegacyHeader,
				Logger:                log,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PEERPROOF_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e, log)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.WithFields(logrus.Fields{"addr": addr, "base_path": basePath}).Info("serving Peerproof API (OpenAPI at /openapi.json, Swagger UI at /docs)")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-user-header", false, "accept X-User-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveInstanceConfig(ctx, workspace, viper.GetString("user-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	if cfg.Media.UploadURL != "" {
		e.Media = media.NewHTTPStore(cfg.Media.UploadURL)
	}
	return fn(ctx, e)
}

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
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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

func readAttachment(path string) (*engine.ProofAttachment, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &engine.ProofAttachment{Data: data, ContentType: contentType}, nil
}

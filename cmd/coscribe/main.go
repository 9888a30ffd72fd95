package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coscribe/internal/agent"
	"coscribe/internal/channel"
	"coscribe/internal/config"
	"coscribe/internal/coordinator"
	"coscribe/internal/db"
	"coscribe/internal/migrate"
	"coscribe/internal/replica"
	"coscribe/internal/server"
	"coscribe/internal/staleness"
	"coscribe/internal/store"
	"coscribe/internal/surface"
	coscribesdk "coscribe/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "coscribe",
	Short: "Coscribe relay and client CLI",
	Long: `Coscribe synchronizes collaborative documents between replicas.
The relay persists authoritative snapshots and fans sync events out to
every connected editor; the client commands talk to a running relay.`,
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
	viper.SetEnvPrefix("COSCRIBE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "", "relay base URL (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(docsCmd())
	rootCmd.AddCommand(joinCmd())
	rootCmd.AddCommand(configCmd())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func serverBase(cfg *config.Config) string {
	if s := viper.GetString("server"); s != "" {
		return s
	}
	return "http://" + cfg.Server.Addr
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			conn, err := db.Open(db.Config{Path: cfg.Store.Path, DataDir: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Store:    store.Store{DB: conn},
				BasePath: basePath,
				Logger:   log.Default(),
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
			fmt.Printf("Serving coscribe relay on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored documents and their change counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, client *coscribesdk.Client) error {
				docs, err := client.ListDocuments(ctx)
				if err != nil {
					return err
				}
				type row struct {
					coscribesdk.Document
					Changes int `json:"changes"`
				}
				rows := make([]row, 0, len(docs))
				for _, d := range docs {
					changes, err := client.ListChanges(ctx, d.ID)
					if err != nil {
						return err
					}
					rows = append(rows, row{Document: d, Changes: len(changes)})
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Changes", "Updated By", "Updated At"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.ID, r.Title, r.Changes, r.UpdatedBy, r.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <document-id>",
		Short: "Show a document's saved state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, client *coscribesdk.Client) error {
				doc, err := client.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				state, err := client.FetchSnapshot(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"id":            doc.ID,
						"rendered_text": doc.RenderedText,
						"state_bytes":   len(state),
					})
				}
				fmt.Printf("%s (%d state bytes)\n%s\n", doc.ID, len(state), doc.RenderedText)
				return nil
			})
		},
	}
}

func docsCmd() *cobra.Command {
	docs := &cobra.Command{Use: "docs", Short: "Inspect persisted documents"}
	docs.AddCommand(docsListCmd())
	docs.AddCommand(docsShowCmd())
	docs.AddCommand(docsChangesCmd())
	docs.AddCommand(docsEventsCmd())
	docs.AddCommand(docsDeleteCmd())
	return docs
}

func withClient(fn func(ctx context.Context, client *coscribesdk.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return fn(context.Background(), coscribesdk.New(serverBase(cfg)))
}

func docsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, client *coscribesdk.Client) error {
				items, err := client.ListDocuments(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Updated By", "Updated At"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Title, d.UpdatedBy, d.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func docsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document's rendered text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, client *coscribesdk.Client) error {
				doc, err := client.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc)
				}
				fmt.Println(doc.RenderedText)
				return nil
			})
		},
	}
}

func docsChangesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "changes <document-id>",
		Short: "Show a document's change journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, client *coscribesdk.Client) error {
				changes, err := client.ListChanges(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(changes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Change", "User", "Type", "At"})
				for _, c := range changes {
					tw.AppendRow(table.Row{c.ChangeID, c.UserID, c.Type, c.Timestamp})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func docsEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <document-id>",
		Short: "Show recent wire events received by the relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, client *coscribesdk.Client) error {
				records, err := client.ListEvents(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "At", "Event", "User"})
				for _, r := range records {
					tw.AppendRow(table.Row{r.ID, r.Timestamp, r.Event, r.UserID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to return")
	return cmd
}

func docsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, client *coscribesdk.Client) error {
				return client.DeleteDocument(ctx, args[0])
			})
		},
	}
}

// terminalConfirmer asks on stdin before any reconciling merge.
type terminalConfirmer struct {
	in *bufio.Reader
}

func (c terminalConfirmer) Confirm(ctx context.Context, message string) (bool, error) {
	fmt.Printf("%s [y/N] ", message)
	line, err := c.in.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// sdkFetcher adapts the SDK client to the staleness detector.
type sdkFetcher struct {
	client *coscribesdk.Client
}

func (f sdkFetcher) FetchSnapshot(ctx context.Context, documentID string) ([]byte, error) {
	snap, err := f.client.FetchSnapshot(ctx, documentID)
	if errors.Is(err, coscribesdk.ErrNotFound) {
		return nil, staleness.ErrNoSnapshot
	}
	return snap, err
}

func joinCmd() *cobra.Command {
	var userID, userName string
	cmd := &cobra.Command{
		Use:   "join <document-id>",
		Short: "Join a document session from the terminal",
		Long: `Connects to the relay's sync channel, replays the authoritative
snapshot, and appends every line typed on stdin as a new paragraph.
Type /save to flush immediately and /quit to leave.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if userID == "" {
				userID = cfg.User.ID
			}
			if userID == "" {
				userID = fmt.Sprintf("user-%d", os.Getpid())
			}
			if userName == "" {
				userName = cfg.User.Name
			}
			return runSession(cmd.Context(), cfg, args[0], userID, userName)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&userName, "name", "", "display name")
	return cmd
}

func runSession(ctx context.Context, cfg *config.Config, docID, userID, userName string) error {
	client := coscribesdk.New(serverBase(cfg))
	ch, err := channel.Dial(ctx, client.SyncURL(docID), channel.WSOptions{})
	if err != nil {
		return err
	}

	clock := coordinator.WallClock{}
	surf := surface.NewMemorySurface()
	doc := replica.NewDoc(userID)
	logger := log.New(os.Stderr, "", log.LstdFlags)

	sync, err := coordinator.NewSyncCoordinator(doc, surf, ch, clock, coordinator.SyncOptions{
		UserID:         userID,
		BackupInterval: cfg.BackupInterval(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	pres, err := coordinator.NewPresenceCoordinator(replica.NewPresence(), ch, clock, coordinator.PresenceOptions{
		UserID:       userID,
		UserName:     userName,
		UserColor:    cfg.User.Color,
		MaxInactive:  cfg.MaxInactive(),
		CursorMaxAge: cfg.CursorMaxAge(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	agents, err := agent.NewManager(sync, surf, ch, agent.Options{Logger: logger})
	if err != nil {
		return err
	}
	detector, err := staleness.NewDetector(sync, sdkFetcher{client: client}, terminalConfirmer{in: bufio.NewReader(os.Stdin)}, staleness.Options{
		DocumentID: docID,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	session, err := coordinator.NewSession(ch, sync, pres, agents, surf, detector, coordinator.SessionOptions{Logger: logger})
	if err != nil {
		return err
	}

	// replay the persisted state before accepting input
	if err := detector.Check(ctx); err != nil {
		logger.Printf("initial sync: %v", err)
	}
	fmt.Printf("Joined %s as %s. Current text:\n%s\n", docID, userID, sync.Text())

	sessionCtx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- session.Run(sessionCtx) }()

	go func() {
		defer cancel()
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			switch line {
			case "/quit":
				return
			case "/save":
				if err := sync.ForceSave(); err != nil {
					logger.Printf("save: %v", err)
				}
			default:
				if err := sync.LocalEdit(surface.InsertNode{Node: surface.Node{Text: line}}); err != nil {
					logger.Printf("edit: %v", err)
				}
			}
		}
	}()

	return <-errc
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default coscribe.yml",
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
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	return cfgCmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

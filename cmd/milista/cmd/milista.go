package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"milista/backend"
	"milista/backend/google"
	"milista/backend/postgres"
	"milista/backend/remote"
	"milista/backend/sqlite"
	"milista/internal/config"
	"milista/internal/credentials"
	"milista/internal/server"
	"milista/internal/shutdown"
	"milista/internal/tasklist"
	"milista/internal/tui"
	"milista/internal/utils"
)

// Version is set at build time
var Version = "dev"

// Result codes for JSON output
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// Config holds process-level options. Settings come from the config file.
type Config struct {
	ConfigPath string
	Verbose    bool
	Stdin      io.Reader
	Keyring    credentials.Keyring // nil uses the system keyring
	Getenv     func(string) string // nil uses os.Getenv

	// Shutdown lets tests stop serve and tui
	Shutdown *shutdown.Manager
	// RunTUI replaces tui.Run (for testing)
	RunTUI func(ctx context.Context, list *tasklist.Controller, opts ...tui.Option) error
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	rootCmd := NewMilista(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	utils.SetOutput(stderr)
	defer utils.SetOutput(nil)

	if err := rootCmd.Execute(); err != nil {
		if containsJSONFlag(args) {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

// app carries what every command needs once flags are parsed
type app struct {
	cfg      *Config
	stdout   io.Writer
	stderr   io.Writer
	settings *config.Config
	creds    *credentials.Manager
}

// NewMilista creates the root command with injectable IO
func NewMilista(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Getenv == nil {
		cfg.Getenv = os.Getenv
	}

	opts := []credentials.ManagerOption{credentials.WithGetenv(cfg.Getenv)}
	if cfg.Keyring != nil {
		opts = append(opts, credentials.WithKeyring(cfg.Keyring))
	}
	a := &app{
		cfg:    cfg,
		stdout: stdout,
		stderr: stderr,
		creds:  credentials.NewManager(opts...),
	}

	cmd := &cobra.Command{
		Use:     "milista",
		Short:   "A to-do list synced with a live document store",
		Long:    "milista keeps a to-do list in a document store and shows every change as it happens.\nWithout a subcommand it opens the terminal UI.",
		Version: Version,
		Args:    cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Config file (default $XDG_CONFIG_HOME/milista/config.yaml)")
	cmd.PersistentFlags().String("store", "", "Store to use: "+strings.Join(config.ValidStores, ", "))
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	cmd.AddCommand(
		a.newTUICmd(),
		a.newAddCmd(),
		a.newListCmd(),
		a.newEditCmd(),
		a.newDeleteCmd(),
		a.newToggleCmd(),
		a.newServeCmd(),
		a.newCredentialsCmd(),
		newVersionCmd(stdout),
	)
	return cmd
}

// load reads the config file and applies the global flags
func (a *app) load(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = a.cfg.ConfigPath
	}
	settings, err := config.Load(path)
	if err != nil {
		return err
	}

	store, _ := cmd.Flags().GetString("store")
	verbose, _ := cmd.Flags().GetBool("verbose")
	settings.ApplyFlags(store, verbose || a.cfg.Verbose)
	utils.SetVerboseMode(settings.Logging.Verbose)

	a.settings = settings
	return nil
}

func (a *app) jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

// openStore builds the configured store
func (a *app) openStore(ctx context.Context) (backend.Store, error) {
	s := a.settings
	if err := s.Validate(); err != nil {
		if !contains(config.ValidStores, s.Store) {
			return nil, utils.ErrUnknownStore(s.Store, config.ValidStores)
		}
		return nil, utils.WrapWithSuggestion(err, fmt.Sprintf("Add a stores.%s section to your config file", s.Store))
	}
	utils.Debugf("opening %s store, collection %q", s.Store, s.Collection)

	switch s.Store {
	case config.StoreSQLite:
		path := s.Stores.SQLite.Path
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.New(path, sqlite.WithCollection(s.Collection))

	case config.StorePostgres:
		store, err := postgres.New(ctx, s.Stores.Postgres.DSN, postgres.WithCollection(s.Collection))
		if err != nil {
			return nil, utils.ErrStoreOffline(s.Store, err.Error())
		}
		return store, nil

	case config.StoreRemote:
		info, err := a.creds.Get(ctx, s.Store)
		if err != nil {
			return nil, err
		}
		if !info.Found {
			return nil, utils.ErrAPIKeyNotFound(s.Store)
		}
		return remote.New(remote.Config{
			Endpoint:   s.Stores.Remote.Endpoint,
			Project:    s.Stores.Remote.Project,
			Collection: s.Collection,
			APIKey:     info.Key,
		})

	case config.StoreGoogle:
		gc := google.ConfigFromEnv()
		if s.Stores.Google.ListID != "" {
			gc.ListID = s.Stores.Google.ListID
		}
		gc.OAuthClientPath = s.Stores.Google.OAuthClientPath
		gc.TokenPath = s.Stores.Google.TokenPath
		gc.PollInterval = s.GooglePollInterval()
		store, err := google.New(ctx, gc)
		if err != nil {
			return nil, storeError(s.Store, err)
		}
		return store, nil
	}
	return nil, utils.ErrUnknownStore(s.Store, config.ValidStores)
}

// storeError turns transport failures into errors with a suggestion
func storeError(name string, err error) error {
	var opErr *net.OpError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, remote.ErrUnauthorized), errors.Is(err, google.ErrTokenRevoked):
		return utils.ErrAuthenticationFailed(name)
	case errors.Is(err, remote.ErrProjectMismatch):
		return utils.ErrProjectMismatch(name)
	case errors.As(err, &opErr):
		return utils.ErrStoreOffline(name, err.Error())
	}
	return err
}

// withList opens the store, waits for the first snapshot and runs fn
func (a *app) withList(ctx context.Context, fn func(list *tasklist.Controller) error) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	list := tasklist.New(store)
	if err := list.Start(ctx); err != nil {
		return storeError(a.settings.Store, err)
	}
	defer list.Stop()

	return fn(list)
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// --- Task commands ---

func (a *app) newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <text>...",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return a.withList(contextOf(cmd), func(list *tasklist.Controller) error {
				res := list.AddTask(contextOf(cmd), text)
				if errors.Is(res.Err, tasklist.ErrEmptyText) {
					return utils.ErrEmptyTaskText()
				}
				if res.Err != nil {
					return storeError(a.settings.Store, res.Err)
				}
				task, ok := list.Task(res.ID)
				if !ok {
					task = backend.Task{ID: res.ID, Text: text}
				}
				if a.jsonOutput(cmd) {
					return outputActionJSON("add", task, a.stdout)
				}
				_, _ = fmt.Fprintf(a.stdout, "Created task: %s (%s)\n", task.Text, task.ID)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func (a *app) newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, _ := cmd.Flags().GetBool("pending")
			return a.withList(contextOf(cmd), func(list *tasklist.Controller) error {
				tasks := list.Tasks()
				if pending {
					tasks = filterPending(tasks)
				}
				if a.jsonOutput(cmd) {
					return outputTaskListJSON(tasks, a.settings.Collection, a.stdout)
				}
				printTasks(tasks, a.stdout)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().Bool("pending", false, "Only show tasks that are not complete")
	return cmd
}

func (a *app) newEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <task> <new text>...",
		Short: "Change the text of a task",
		Long:  "Change the text of a task. <task> is an ID, the full text, or a unique part of it.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			if strings.TrimSpace(text) == "" {
				return utils.ErrEmptyTaskText()
			}
			return a.withList(contextOf(cmd), func(list *tasklist.Controller) error {
				task, err := findTask(list.Tasks(), args[0])
				if err != nil {
					return err
				}
				if res := list.EditTask(contextOf(cmd), task.ID, text); res.Err != nil {
					return storeError(a.settings.Store, res.Err)
				}
				task.Text = text
				if a.jsonOutput(cmd) {
					return outputActionJSON("edit", task, a.stdout)
				}
				_, _ = fmt.Fprintf(a.stdout, "Updated task: %s\n", task.Text)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func (a *app) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <task>",
		Aliases: []string{"rm"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withList(contextOf(cmd), func(list *tasklist.Controller) error {
				task, err := findTask(list.Tasks(), args[0])
				if err != nil {
					return err
				}
				if res := list.DeleteTask(contextOf(cmd), task.ID); res.Err != nil {
					return storeError(a.settings.Store, res.Err)
				}
				if a.jsonOutput(cmd) {
					return outputActionJSON("delete", task, a.stdout)
				}
				_, _ = fmt.Fprintf(a.stdout, "Deleted task: %s\n", task.Text)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func (a *app) newToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "toggle <task>",
		Aliases: []string{"done"},
		Short:   "Mark a task complete, or reopen it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withList(contextOf(cmd), func(list *tasklist.Controller) error {
				task, err := findTask(list.Tasks(), args[0])
				if err != nil {
					return err
				}
				value := !task.IsComplete
				if res := list.ToggleComplete(contextOf(cmd), task.ID, value); res.Err != nil {
					return storeError(a.settings.Store, res.Err)
				}
				task.IsComplete = value
				if a.jsonOutput(cmd) {
					return outputActionJSON("toggle", task, a.stdout)
				}
				verb := "Reopened"
				if value {
					verb = "Completed"
				}
				_, _ = fmt.Fprintf(a.stdout, "%s task: %s\n", verb, task.Text)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// findTask resolves an ID, then exact text, then a unique substring
func findTask(tasks []backend.Task, term string) (backend.Task, error) {
	for _, t := range tasks {
		if t.ID == term {
			return t, nil
		}
	}

	lower := strings.ToLower(term)
	var exact, partial []backend.Task
	for _, t := range tasks {
		text := strings.ToLower(t.Text)
		if text == lower {
			exact = append(exact, t)
		} else if strings.Contains(text, lower) {
			partial = append(partial, t)
		}
	}

	matches := exact
	if len(matches) == 0 {
		matches = partial
	}
	switch len(matches) {
	case 0:
		return backend.Task{}, utils.ErrTaskNotFound(term)
	case 1:
		return matches[0], nil
	}
	return backend.Task{}, utils.ErrAmbiguousTask(term, len(matches))
}

func filterPending(tasks []backend.Task) []backend.Task {
	var out []backend.Task
	for _, t := range tasks {
		if !t.IsComplete {
			out = append(out, t)
		}
	}
	return out
}

func getStatusIcon(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}

func printTasks(tasks []backend.Task, stdout io.Writer) {
	if len(tasks) == 0 {
		_, _ = fmt.Fprintln(stdout, "No tasks")
		return
	}
	for _, t := range tasks {
		_, _ = fmt.Fprintf(stdout, "%s %s  (%s)\n", getStatusIcon(t.IsComplete), t.Text, t.ID)
	}
}

// --- TUI ---

func (a *app) newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal UI (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(contextOf(cmd))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func (a *app) shutdownManager() (*shutdown.Manager, func()) {
	if a.cfg.Shutdown != nil {
		return a.cfg.Shutdown, func() {}
	}
	mgr := shutdown.NewManager()
	return mgr, mgr.ListenForSignals()
}

func (a *app) runTUI(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	mgr, stopSignals := a.shutdownManager()
	defer stopSignals()
	mgr.RegisterCleanup("store", func(context.Context) error { return store.Close() })

	// the terminal belongs to the UI, so logs go to the background log file
	bl, err := utils.NewBackgroundLogger(a.settings.IsBackgroundLoggingEnabled())
	if err == nil {
		if bl.IsEnabled() {
			utils.Debugf("logging to %s", bl.GetLogPath())
			bl.Printf("milista tui: store %s, collection %s", a.settings.Store, a.settings.Collection)
		}
		utils.SetOutput(bl)
		mgr.RegisterCleanup("log", func(context.Context) error {
			utils.SetOutput(a.stderr)
			bl.Close()
			return nil
		})
	}

	list := tasklist.New(store)
	mgr.RegisterCleanup("task list", func(context.Context) error {
		list.Stop()
		return nil
	})

	run := a.cfg.RunTUI
	if run == nil {
		run = tui.Run
	}
	title := fmt.Sprintf("milista · %s", a.settings.Collection)
	runErr := run(mgr.Context(), list, tui.WithTitle(title))
	if mgr.IsShutdown() && errors.Is(runErr, context.Canceled) {
		// interrupted by a signal
		runErr = nil
	}

	mgr.Shutdown()
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Wait(waitCtx); err != nil {
		utils.Warnf("shutdown: %v", err)
	}
	return storeError(a.settings.Store, runErr)
}

// --- serve ---

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Share the configured store over HTTP",
		Long:  "Serve the configured collection to remote milista clients until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				a.settings.Server.Listen = listen
			}
			return a.serve(contextOf(cmd))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().String("listen", "", "Address to listen on (overrides server.listen)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	if a.settings.Store == config.StoreRemote {
		return utils.WrapWithSuggestion(
			errors.New("serve needs a local store"),
			"Use --store sqlite or --store postgres",
		)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Store:      store,
		Collection: a.settings.Collection,
		Project:    a.settings.Server.Project,
		APIKeyHash: a.settings.Server.APIKeyHash,
		KeepAlive:  a.settings.ServerKeepAlive(),
	})
	if err != nil {
		_ = store.Close()
		if errors.Is(err, server.ErrNoAPIKeyHash) {
			return utils.WrapWithSuggestion(err, "Run 'milista credentials hash' and put the result in server.api_key_hash")
		}
		return err
	}

	l, err := net.Listen("tcp", a.settings.Server.Listen)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to listen on %s: %w", a.settings.Server.Listen, err)
	}

	mgr, stopSignals := a.shutdownManager()
	defer stopSignals()
	mgr.RegisterCleanup("store", func(context.Context) error { return store.Close() })
	mgr.RegisterCleanup("server", srv.Shutdown)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(l) }()
	_, _ = fmt.Fprintf(a.stdout, "Serving collection %q on %s\n", a.settings.Collection, l.Addr())

	var runErr error
	select {
	case <-mgr.Context().Done():
	case runErr = <-serveErr:
		if mgr.IsShutdown() {
			// the listener was closed by a shutdown already under way
			runErr = nil
		}
		mgr.Shutdown()
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Wait(waitCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// --- credentials ---

func (a *app) newCredentialsCmd() *cobra.Command {
	credentialsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage store API keys",
		Long:  "Store, inspect and remove API keys kept in the system keyring.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			utils.SetVerboseMode(verbose || a.cfg.Verbose)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	storeArg := func(args []string) string {
		if len(args) == 0 {
			return config.StoreRemote
		}
		return args[0]
	}
	handler := func() *credentials.CLIHandler {
		return credentials.NewCLIHandler(a.creds, a.cfg.Stdin, a.stdout)
	}

	credentialsCmd.AddCommand(
		&cobra.Command{
			Use:   "set [store]",
			Short: "Store an API key in the system keyring",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return handler().Set(contextOf(cmd), storeArg(args))
			},
			SilenceUsage:  true,
			SilenceErrors: true,
		},
		&cobra.Command{
			Use:   "get [store]",
			Short: "Show where the API key comes from",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return handler().Get(contextOf(cmd), storeArg(args), a.jsonOutput(cmd))
			},
			SilenceUsage:  true,
			SilenceErrors: true,
		},
		a.newCredentialsDeleteCmd(storeArg, handler),
		&cobra.Command{
			Use:   "hash",
			Short: "Print the server.api_key_hash for a new API key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				key, err := credentials.PromptAPIKey(a.cfg.Stdin, a.stderr, "the server")
				if err != nil {
					return err
				}
				hash, err := server.HashAPIKey(key)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(a.stdout, hash)
				return nil
			},
			SilenceUsage:  true,
			SilenceErrors: true,
		},
	)
	return credentialsCmd
}

func (a *app) newCredentialsDeleteCmd(storeArg func([]string) string, handler func() *credentials.CLIHandler) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [store]",
		Short: "Remove the API key from the system keyring",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := storeArg(args)
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				prompt := fmt.Sprintf("Delete the API key for %s?", store)
				if !utils.PromptYesNoWithReader(prompt, a.cfg.Stdin, a.stdout) {
					_, _ = fmt.Fprintln(a.stdout, "Cancelled")
					return nil
				}
			}
			return handler().Delete(contextOf(cmd), store)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// --- version ---

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintf(stdout, "milista version %s\n", Version)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// --- JSON output ---

type taskJSON struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	IsComplete bool   `json:"is_complete"`
	CreatedAt  string `json:"created_at"`
}

type listTasksResponse struct {
	Tasks      []taskJSON `json:"tasks"`
	Collection string     `json:"collection"`
	Count      int        `json:"count"`
	Result     string     `json:"result"`
}

type actionResponse struct {
	Action string   `json:"action"`
	Task   taskJSON `json:"task"`
	Result string   `json:"result"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
	Code       int    `json:"code"`
	Result     string `json:"result"`
}

func taskToJSON(t backend.Task) taskJSON {
	return taskJSON{
		ID:         t.ID,
		Text:       t.Text,
		IsComplete: t.IsComplete,
		CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func outputTaskListJSON(tasks []backend.Task, collection string, stdout io.Writer) error {
	response := listTasksResponse{
		Tasks:      make([]taskJSON, 0, len(tasks)),
		Collection: collection,
		Count:      len(tasks),
		Result:     ResultInfoOnly,
	}
	for _, t := range tasks {
		response.Tasks = append(response.Tasks, taskToJSON(t))
	}
	return writeJSON(stdout, response)
}

func outputActionJSON(action string, task backend.Task, stdout io.Writer) error {
	return writeJSON(stdout, actionResponse{
		Action: action,
		Task:   taskToJSON(task),
		Result: ResultActionCompleted,
	})
}

func outputErrorJSON(err error, stdout io.Writer) {
	response := errorResponse{
		Error:  err.Error(),
		Code:   1,
		Result: ResultError,
	}
	var ews *utils.ErrorWithSuggestion
	if errors.As(err, &ews) {
		response.Error = ews.Err.Error()
		response.Suggestion = ews.Suggestion
	}
	_ = writeJSON(stdout, response)
}

func writeJSON(stdout io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package cmd implements the themeforge command line front end.
package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/viant/afs"

	"github.com/themeforge/migrator/archive"
	"github.com/themeforge/migrator/diff"
	"github.com/themeforge/migrator/migration"
	"github.com/themeforge/migrator/patch"
	"github.com/themeforge/migrator/schema"
	"github.com/themeforge/migrator/store"
)

type (
	// Connection holds the flags every command shares.
	Connection struct {
		DB      string `short:"d" long:"db" default:"themeforge.db" description:"sqlite database location"`
		Repo    string `short:"r" long:"repo" default:"themes" description:"theme package repository base URL"`
		Verbose bool   `long:"verbose" description:"debug logging"`
	}

	Archive struct {
		Connection
		File    string `short:"f" long:"file" required:"true" description:"theme package zip"`
		Theme   string `short:"t" long:"theme" required:"true" description:"theme name"`
		Version string `short:"v" long:"ver" required:"true" description:"theme version"`
		User    string `short:"u" long:"user" default:"cli" description:"uploader"`
		Current bool   `short:"c" long:"current" description:"mark the version current"`
	}

	Versions struct {
		Connection
		Theme string `short:"t" long:"theme" required:"true" description:"theme name"`
	}

	Plan struct {
		Connection
		File    string `short:"f" long:"file" required:"true" description:"new version package zip"`
		Theme   string `short:"t" long:"theme" required:"true" description:"theme name"`
		Version string `short:"v" long:"ver" required:"true" description:"new theme version"`
		User    string `short:"u" long:"user" default:"cli" description:"uploader"`
	}

	Migrate struct {
		Plan
	}

	History struct {
		Connection
		Theme string `short:"t" long:"theme" required:"true" description:"theme name"`
	}

	Fetch struct {
		Connection
		HistoryID int64  `short:"i" long:"history" required:"true" description:"migration history id"`
		Output    string `short:"o" long:"output" required:"true" description:"destination zip location"`
	}

	// Options is the command registry; exactly one is active per run.
	Options struct {
		Archive  *Archive  `command:"archive" description:"archive a theme package zip"`
		Versions *Versions `command:"versions" description:"list archived versions of a theme"`
		Plan     *Plan     `command:"plan" description:"diff a new version against the current one and persist suggested rules"`
		Migrate  *Migrate  `command:"migrate" description:"plan and execute a migration in one run"`
		History  *History  `command:"history" description:"list migration outcomes of a theme"`
		Fetch    *Fetch    `command:"fetch" description:"download the package of a successful migration"`
		Version  bool      `short:"V" long:"version" description:"print version"`
	}
)

// RunApp parses the arguments and runs the selected command.
func RunApp(version string, args []string) error {
	options := &Options{}
	if _, err := flags.ParseArgs(options, args); err != nil {
		if flags.WroteHelp(err) {
			return nil
		}
		return err
	}
	if options.Version {
		fmt.Printf("themeforge: version: %v\n", version)
		return nil
	}
	ctx := context.Background()
	switch {
	case options.Archive != nil:
		return options.Archive.run(ctx)
	case options.Versions != nil:
		return options.Versions.run(ctx)
	case options.Plan != nil:
		return options.Plan.run(ctx, false)
	case options.Migrate != nil:
		return options.Migrate.run(ctx, true)
	case options.History != nil:
		return options.History.run(ctx)
	case options.Fetch != nil:
		return options.Fetch.run(ctx)
	}
	return fmt.Errorf("no command specified, see --help")
}

func (c *Archive) run(ctx context.Context) error {
	runtime, err := newRuntime(ctx, &c.Connection)
	if err != nil {
		return err
	}
	defer runtime.close()
	reader, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer reader.Close()
	record, err := runtime.versions.Archive(ctx, reader, c.Theme, c.Version, c.User)
	if err != nil {
		return err
	}
	if c.Current {
		if err = runtime.versions.MarkCurrent(ctx, c.Theme, c.Version); err != nil {
			return err
		}
	}
	fmt.Printf("archived %v v%v (%v bytes) at %v\n", record.ThemeName, record.Version, record.SizeBytes, record.StorageURL)
	return nil
}

func (c *Versions) run(ctx context.Context) error {
	runtime, err := newRuntime(ctx, &c.Connection)
	if err != nil {
		return err
	}
	defer runtime.close()
	records, err := runtime.versions.History(ctx, c.Theme)
	if err != nil {
		return err
	}
	for _, record := range records {
		marker := " "
		if record.IsCurrent {
			marker = "*"
		}
		fmt.Printf("%v %-12v %8v bytes  %v\n", marker, record.Version, record.SizeBytes, record.UploadedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func (c *Plan) run(ctx context.Context, execute bool) error {
	runtime, err := newRuntime(ctx, &c.Connection)
	if err != nil {
		return err
	}
	defer runtime.close()
	reader, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer reader.Close()
	session, err := runtime.migrator.Start(ctx, reader, c.Theme, c.Version, c.User)
	if err != nil {
		return err
	}
	printPlan(session)
	if !execute {
		return nil
	}
	result, err := runtime.migrator.Execute(ctx, session.ID, nil)
	if err != nil {
		return err
	}
	fmt.Printf("\n%v (history %v, %v templates updated)\n", result.Message, result.HistoryID, result.TemplatesUpdated)
	return nil
}

func printPlan(session *migration.Session) {
	fmt.Printf("migration %v: %v %v -> %v\n", session.ID, session.ThemeName, session.FromVersion, session.ToVersion)
	changes := session.Changes
	fmt.Printf("components: %v added, %v deleted, %v renamed, %v modified\n",
		len(changes.Added), len(changes.Deleted), len(changes.Renamed), len(changes.Modified))
	suggested := session.SuggestedRules
	fmt.Printf("rules: %v\n", suggested.Stats())
	for _, rule := range suggested.Renames() {
		fmt.Printf("  rename  %v -> %v [%v] %v\n", rule.OldName, rule.NewName, rule.Confidence, rule.Reason)
	}
	for _, rule := range suggested.FieldMappings() {
		fmt.Printf("  remap   %v: %v -> %v [%v]\n", rule.Section, rule.OldFieldID, rule.NewFieldID, rule.Confidence)
	}
	for _, rule := range suggested.Defaults() {
		note := ""
		if rule.RequiresReview {
			note = " (needs review)"
		}
		fmt.Printf("  default %v.%v = %v%v\n", rule.Section, rule.FieldID, rule.Value, note)
	}
}

func (c *History) run(ctx context.Context) error {
	runtime, err := newRuntime(ctx, &c.Connection)
	if err != nil {
		return err
	}
	defer runtime.close()
	records, err := runtime.migrator.History(ctx, c.Theme)
	if err != nil {
		return err
	}
	for _, record := range records {
		line := fmt.Sprintf("%-6v %v -> %-10v %-8v %v templates", record.ID, record.FromVersion, record.ToVersion, record.Status, record.TemplatesUpdated)
		if record.ErrorMessage != "" {
			line += "  " + record.ErrorMessage
		}
		fmt.Println(line)
	}
	return nil
}

func (c *Fetch) run(ctx context.Context) error {
	runtime, err := newRuntime(ctx, &c.Connection)
	if err != nil {
		return err
	}
	defer runtime.close()
	data, err := runtime.migrator.MigratedArchive(ctx, c.HistoryID)
	if err != nil {
		return err
	}
	if err = os.WriteFile(c.Output, data, 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %v bytes to %v\n", len(data), c.Output)
	return nil
}

type runtime struct {
	db       *sql.DB
	versions *archive.Service
	migrator *migration.Service
}

func (r *runtime) close() {
	_ = r.db.Close()
}

func newRuntime(ctx context.Context, conn *Connection) (*runtime, error) {
	level := zerolog.InfoLevel
	if conn.Verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	db, err := sql.Open("sqlite3", conn.DB)
	if err != nil {
		return nil, err
	}
	fs := afs.New()
	versions := archive.New(db, fs, conn.Repo, log)
	ruleStore := store.New(db)
	migrator := migration.New(db, versions, schema.New(fs, log), diff.NewGitDiffer(fs, log), ruleStore, patch.New(fs, log), migration.NewMemorySessionStore(), log)
	for _, ensure := range []func(context.Context) error{versions.EnsureSchema, ruleStore.EnsureSchema, migrator.EnsureSchema} {
		if err = ensure(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &runtime{db: db, versions: versions, migrator: migrator}, nil
}

// Package main is the Galley CLI entry point.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	iofs "io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/proofloop/galley/internal/cli"
	"github.com/proofloop/galley/internal/config"
	"github.com/proofloop/galley/internal/correction"
	"github.com/proofloop/galley/internal/export"
	"github.com/proofloop/galley/internal/fileid"
	"github.com/proofloop/galley/internal/importer"
	"github.com/proofloop/galley/internal/models"
	"github.com/proofloop/galley/internal/review"
	"github.com/proofloop/galley/internal/search"
	"github.com/proofloop/galley/internal/server"
	"github.com/proofloop/galley/internal/storage"
	"github.com/proofloop/galley/internal/watcher"
	"github.com/proofloop/galley/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/galley/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "galley serve" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "serve":
		runServe()
	case "import":
		runImport()
	case "zen":
		runZen()
	case "search":
		runSearch()
	case "export":
		runExport()
	case "progress":
		runProgress()
	case "projects":
		runProjects()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("galley version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (inbox events, API calls, generation)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var inbox *watcher.Inbox
	if len(cfg.Watch.Directories) > 0 {
		impOpts := []importer.Option{}
		if debugMode {
			impOpts = append(impOpts, importer.WithLogger(logger))
		}
		inboxOpts := []watcher.InboxOption{
			watcher.WithOnImported(components.afterInboxImport(logger)),
		}
		if debugMode {
			inboxOpts = append(inboxOpts, watcher.WithLogger(logger))
		}
		inbox = watcher.NewInbox(
			components.Storage,
			importer.New(impOpts...),
			cfg.Watch.Directories,
			cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(),
			inboxOpts...,
		)
		if err := inbox.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		inbox.SyncExistingFiles()
		logger.Info("manuscript inbox watching", zap.Strings("directories", inbox.Directories()))
	}

	srv := server.NewServer(components.Storage, components.Service, components.Index, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if inbox != nil {
		inbox.Stop()
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

var errAlreadyImported = errors.New("already imported")

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	strength := fs.Int("strength", 0, "correction strength 1..3 (0 = from manuscript, else 2)")
	style := fs.String("style", "", "style prompt passed to the correction service")
	generate := fs.Bool("generate", false, "queue correction generation for every chapter and wait")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: galley import [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	imp := importer.New()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		var imported int
		walkErr := filepath.WalkDir(path, func(p string, d iofs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !matchExtension(p, cfg.Watch.Extensions) {
				return err
			}
			project, impErr := importManuscript(ctx, components, imp, p, *strength, *style)
			if impErr != nil {
				fmt.Printf("Skipping %s: %v\n", p, impErr)
				return nil
			}
			imported++
			fmt.Printf("Imported %q: %d chapter(s)\n", project.Name, len(project.Chapters))
			if *generate {
				enqueueProjectCorrections(components.Service, project)
			}
			return nil
		})
		if walkErr != nil {
			fmt.Printf("Importing directory failed: %v\n", walkErr)
			os.Exit(1)
		}
		fmt.Printf("Imported %d manuscript(s) from %s\n", imported, path)
	} else {
		project, err := importManuscript(ctx, components, imp, path, *strength, *style)
		if err != nil {
			if errors.Is(err, errAlreadyImported) {
				fmt.Printf("Skipping %s: %v\n", path, err)
				return
			}
			fmt.Printf("Import failed: %v\n", err)
			os.Exit(1)
		}
		var paragraphs int
		for _, ch := range project.Chapters {
			paragraphs += len(ch.Paragraphs)
		}
		fmt.Printf("Imported %q: %d chapter(s), %d paragraph(s) (project %d)\n",
			project.Name, len(project.Chapters), paragraphs, project.ID)
		if *generate {
			enqueueProjectCorrections(components.Service, project)
		}
	}

	if *generate {
		fmt.Println("Generating corrections...")
		if err := components.Service.Wait(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Generation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Corrections generated.")
	}
}

// importManuscript parses one manuscript file and stores it as a new project.
// A file whose content already produced a project is skipped; changed content
// becomes a fresh project, matching the inbox watcher.
func importManuscript(ctx context.Context, c *Components, imp *importer.Importer, path string, strength int, style string) (*models.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	hash := fileid.ContentHash(data)
	if prevHash, projectID, recErr := c.Storage.GetImport(ctx, abs); recErr == nil && prevHash == hash {
		return nil, fmt.Errorf("%w as project %d", errAlreadyImported, projectID)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	input, err := imp.Parse(data, strings.ToLower(filepath.Ext(path)), name)
	if err != nil {
		return nil, err
	}
	if strength > 0 {
		input.CorrectionStrengthLevel = strength
	}
	if style != "" {
		input.StylePrompt = style
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	project := input.Project()
	if err := c.Storage.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	if err := c.Storage.RecordImport(ctx, abs, hash, project.ID); err != nil {
		fmt.Printf("Warning: import record not saved for %s: %v\n", path, err)
	}
	if err := c.Index.IndexProject(ctx, project); err != nil {
		fmt.Printf("Warning: indexing failed for %q: %v\n", project.Name, err)
	}
	return project, nil
}

// enqueueProjectCorrections queues a correction batch for every chapter.
func enqueueProjectCorrections(svc *correction.Service, project *models.Project) {
	for _, ch := range project.Chapters {
		if _, err := svc.EnqueueChapterCorrections(ch.ID); err != nil {
			fmt.Printf("Generation job rejected for chapter %d: %v\n", ch.ID, err)
		}
	}
}

// matchExtension reports whether path carries one of the manuscript extensions.
func matchExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	for _, e := range extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// reviewIntervals returns the zen session polling intervals from config,
// falling back to the built-in defaults when no config file is available.
func reviewIntervals(path string) (poll, activity time.Duration) {
	poll, activity = 10*time.Second, time.Second
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil {
		return poll, activity
	}
	return time.Duration(cfg.Review.PollIntervalSeconds) * time.Second,
		time.Duration(cfg.Review.ActivityIntervalSeconds) * time.Second
}

func runZen() {
	fs := flag.NewFlagSet("zen", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for review polling intervals)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	chapterID := fs.Int64("chapter", 0, "chapter id to review")
	paragraph := fs.Int("paragraph", 0, "paragraph index to start at (default: first needing review)")
	_ = fs.Parse(os.Args[2:])

	if *chapterID <= 0 {
		fmt.Println("Usage: galley zen --chapter <id> [flags]")
		os.Exit(1)
	}

	poll, activity := reviewIntervals(*configPath)
	session := review.NewSession(
		review.NewClient(*serverURL),
		*chapterID,
		review.WithSessionPollInterval(poll),
		review.WithSessionActivityInterval(activity),
	)
	defer session.Close()

	ctx := context.Background()
	if err := session.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start session: %v\n", err)
		os.Exit(1)
	}
	if *paragraph > 0 {
		_ = session.Load(ctx, *paragraph)
	} else {
		_ = session.Next(ctx)
	}

	fmt.Printf("Reviewing chapter %d on %s. Type help for commands.\n", *chapterID, *serverURL)
	renderParagraph(os.Stdout, session)
	zenLoop(ctx, session, os.Stdin, os.Stdout)
}

// zenLoop reads review commands line by line until quit or EOF.
func zenLoop(ctx context.Context, s *review.Session, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg := line, ""
		if i := strings.IndexByte(line, ' '); i >= 0 {
			cmd, arg = line[:i], strings.TrimSpace(line[i+1:])
		}
		switch cmd {
		case "quit", "q", "exit":
			return
		case "help", "h", "?":
			printZenHelp(out)
		default:
			runZenCommand(ctx, s, cmd, arg, out)
		}
		fmt.Fprint(out, "> ")
	}
}

// runZenCommand dispatches one review command and redraws the paragraph.
// Action errors are recorded on the session and shown by the render; anything
// the session does not record (an unknown command, closed session) is printed
// directly.
func runZenCommand(ctx context.Context, s *review.Session, cmd, arg string, out io.Writer) {
	var err error
	switch cmd {
	case "":
		// Bare enter redraws, useful while waiting on generation.
	case "approve", "a":
		prev := s.Current()
		if err = s.Approve(ctx); err == nil {
			waitAdvance(s, prev)
		}
	case "reject", "r":
		prev := s.Current()
		if err = s.Reject(ctx); err == nil {
			waitAdvance(s, prev)
		}
	case "edit", "e":
		err = s.SetEdited(arg)
	case "save", "s":
		err = s.SaveManual(ctx)
	case "generate", "g":
		err = s.Generate(ctx)
	case "clear":
		err = s.Clear(ctx)
	case "next", "n":
		err = s.Next(ctx)
	case "prev", "p":
		err = s.Prev(ctx)
	default:
		fmt.Fprintf(out, "Unknown command: %s (try help)\n", cmd)
		return
	}
	if err != nil && err.Error() != s.Err() {
		fmt.Fprintln(out, err)
	}
	renderParagraph(out, s)
}

// waitAdvance blocks briefly until an approve or reject's background
// navigation lands, so the next prompt shows the paragraph under review.
func waitAdvance(s *review.Session, prev *models.Paragraph) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Current() != prev || s.Err() != "" {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func renderParagraph(out io.Writer, s *review.Session) {
	p := s.Current()
	if p == nil {
		if msg := s.Err(); msg != "" {
			fmt.Fprintln(out, msg)
		} else {
			fmt.Fprintln(out, "No paragraph loaded.")
		}
		return
	}
	var segments []review.Segment
	if doc := s.Document(); doc != nil {
		if segs, err := doc.Segments(); err == nil {
			segments = segs
		}
	}
	cli.WriteParagraph(out, p, segments)
	if s.Polling() {
		fmt.Fprintln(out, "waiting for correction...")
	}
	if msg := s.Err(); msg != "" {
		fmt.Fprintln(out, msg)
	}
}

func printZenHelp(out io.Writer) {
	fmt.Fprint(out, `Commands:
  approve (a)      accept the correction as shown; empty text means no correction needed
  reject (r)       dismiss the correction and move on
  edit (e) <text>  replace the working text
  save (s)         store the working text as a manual correction
  generate (g)     queue correction generation for this paragraph
  clear            reset the paragraph to its imported state
  next (n)         jump to the next paragraph needing review
  prev (p)         jump to the previous paragraph needing review
  help (h)         show this help
  quit (q)         leave the session
An empty line redraws the paragraph.
`)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: galley search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  galley search lighthouse keeper
  galley search "lighthouse keeper"       # same as above
  galley search --project 3 breakwater    # one project only
  galley search --output json storm       # structured JSON for other apps
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting (e.g. "lighthouse keeper" vs lighthouse keeper).
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "galley search \"query\" -limit 5"
// would otherwise leave -limit unparsed.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// parseOutputFormat maps the --output flag to a cli format.
func parseOutputFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "text", "":
		return cli.OutputText, nil
	case "json":
		return cli.OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	projectID := fs.Int64("project", 0, "restrict to one project (0 = all projects)")
	limit := fs.Int("limit", 20, "number of results")
	outputFormat := fs.String("output", "text", "output format: text (human-readable) or json (parseable)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	if fs.NArg() < 1 {
		printSearchUsage(fs)
		os.Exit(1)
	}
	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	results, err := searchViaHTTP(*serverURL, queryStr, *projectID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, results, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL, query string, projectID int64, limit int) ([]*search.Result, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"projectId": projectID,
		"limit":     limit,
	})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		Results []*search.Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Results, nil
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	chapterID := fs.Int64("chapter", 0, "chapter id to export")
	modeFlag := fs.String("mode", "", "export mode (default correctionsWithOriginal)")
	outPath := fs.String("out", "", "output file (default: stdout)")
	_ = fs.Parse(os.Args[2:])

	if *chapterID <= 0 {
		fmt.Println("Usage: galley export --chapter <id> [flags]")
		os.Exit(1)
	}
	mode, err := export.ParseMode(*modeFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	chapter, err := store.GetChapter(context.Background(), *chapterID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	report, err := export.ChapterReport(chapter, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	if *outPath == "" {
		fmt.Print(report)
		return
	}
	if err := os.WriteFile(*outPath, []byte(report), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Write failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported chapter %d to %s\n", *chapterID, *outPath)
}

func runProgress() {
	fs := flag.NewFlagSet("progress", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	projectID := fs.Int64("project", 0, "project id")
	outPath := fs.String("out", "", "output file (default: <project>-progress.xlsx)")
	_ = fs.Parse(os.Args[2:])

	if *projectID <= 0 {
		fmt.Println("Usage: galley progress --project <id> [flags]")
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	project, err := store.GetProject(ctx, *projectID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Progress failed: %v\n", err)
		os.Exit(1)
	}
	stats, err := store.ChapterStats(ctx, *projectID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Progress failed: %v\n", err)
		os.Exit(1)
	}

	path := *outPath
	if path == "" {
		path = project.Name + "-progress.xlsx"
	}
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Write failed: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := export.WriteProgressWorkbook(f, project, stats); err != nil {
		fmt.Fprintf(os.Stderr, "Progress failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
}

func runProjects() {
	fs := flag.NewFlagSet("projects", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage when server is not running)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	var projects []*models.Project
	if *serverURL != "" {
		projects, err = projectsViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Projects failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
		store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			fmt.Printf("Failed to open storage: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		projects, err = store.ListProjects(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Projects failed: %v\n", err)
			os.Exit(1)
		}
	}

	if err := cli.WriteProjects(os.Stdout, projects, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func projectsViaHTTP(serverURL string) ([]*models.Project, error) {
	resp, err := http.Get(serverURL + "/api/projects")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var projects []*models.Project
	if err := json.NewDecoder(resp.Body).Decode(&projects); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return projects, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	var st *cli.ServerStatus
	if *serverURL != "" {
		st, err = statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		st, err = statusFromStorage(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}

	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*cli.ServerStatus, error) {
	resp, err := http.Get(serverURL + "/api/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var st cli.ServerStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &st, nil
}

// statusFromStorage reads counts straight from the database, for when the
// server is not running. Thinking is always false here: without a server
// there is no generation worker.
func statusFromStorage(configPath string) (*cli.ServerStatus, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ctx := context.Background()
	st := &cli.ServerStatus{}
	if st.Projects, err = store.CountProjects(ctx); err != nil {
		return nil, err
	}
	if st.Chapters, err = store.CountChapters(ctx); err != nil {
		return nil, err
	}
	if st.Paragraphs, err = store.CountParagraphs(ctx); err != nil {
		return nil, err
	}
	if index, idxErr := search.NewIndex(cfg.Storage.BleveIndexPath); idxErr == nil {
		if n, cntErr := index.DocCount(); cntErr == nil {
			st.IndexedParagraphs = n
		}
		_ = index.Close()
	}
	if diskBytes, duErr := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath); duErr == nil {
		st.DiskUsageBytes = diskBytes
	}
	return st, nil
}

// Components holds initialized services.
type Components struct {
	Storage storage.Storage
	Index   *search.Index
	Service *correction.Service
}

func (c *Components) Close() {
	if c.Service != nil {
		c.Service.Stop()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// afterInboxImport returns the inbox callback: the fresh project is indexed
// for search and, when auto summaries are on, a summary job is queued per
// chapter, the same as an import through POST /api/projects.
func (c *Components) afterInboxImport(logger *zap.Logger) func(projectID int64, path string) {
	return func(projectID int64, path string) {
		ctx := context.Background()
		project, err := c.Storage.GetProject(ctx, projectID)
		if err != nil {
			logger.Warn("inbox project fetch failed", zap.Int64("project", projectID), zap.Error(err))
			return
		}
		if err := c.Index.IndexProject(ctx, project); err != nil {
			logger.Warn("inbox project indexing failed", zap.Int64("project", projectID), zap.Error(err))
		}
		if wf, err := c.Storage.GetWorkflowConfig(ctx); err == nil && wf.AutoSummaries {
			for _, ch := range project.Chapters {
				if _, err := c.Service.EnqueueChapterSummary(ch.ID); err != nil {
					logger.Warn("summary job rejected", zap.Int64("chapter", ch.ID), zap.Error(err))
				}
			}
		}
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var gen correction.Generator
	if cfg.Correction.ServiceURL != "" {
		genOpts := []correction.HTTPGeneratorOption{}
		if debug {
			genOpts = append(genOpts, correction.WithHTTPLogger(logger))
		}
		gen = correction.NewHTTPGenerator(
			cfg.Correction.ServiceURL,
			time.Duration(cfg.Correction.TimeoutSeconds)*time.Second,
			genOpts...,
		)
		logger.Info("correction generator ready", zap.String("service_url", cfg.Correction.ServiceURL))
	} else {
		gen = correction.NewStaticGenerator()
		logger.Warn("no correction service configured, using the static generator")
	}

	svc := correction.NewService(store, gen, correction.WithLogger(logger))
	if err := svc.Start(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to start correction worker: %w", err)
	}

	index, err := search.NewIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		svc.Stop()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize search index: %w", err)
	}

	return &Components{
		Storage: store,
		Index:   index,
		Service: svc,
	}, nil
}

func printUsage() {
	fmt.Println(`galley - manuscript correction review server

Usage:
  galley serve [flags]              Start the HTTP server and manuscript inbox
  galley import [flags] <file>      Import a manuscript as a new project
  galley zen --chapter <id>         Review a chapter paragraph by paragraph
  galley search [flags] <query>     Search paragraphs across projects
  galley export [flags]             Write a chapter correction report
  galley progress [flags]           Write a project progress workbook (.xlsx)
  galley projects [flags]           List projects
  galley status [flags]             Show server/storage status
  galley version                    Show version
  galley help                       Show this help

Serve Flags:
  --config string    Config file path (default: /usr/local/etc/galley/config.yaml)
  --debug            Enable debug logging (inbox events, API calls, generation)

Import Flags:
  --config string    Config file path
  --strength int     Correction strength 1..3 (default: from manuscript, else 2)
  --style string     Style prompt passed to the correction service
  --generate         Queue correction generation for every chapter and wait

Zen Flags:
  --config string    Config file path (for review polling intervals)
  --server string    Server URL (default: http://localhost:8080)
  --chapter int      Chapter id to review (required)
  --paragraph int    Paragraph index to start at (default: first needing review)

Search Flags:
  --server string    Server URL (default: http://localhost:8080)
  --project int      Restrict to one project (default: all projects)
  --limit int        Number of results (default: 20)
  --output string    Output format: text or json (default: text)

Export Flags:
  --config string    Config file path
  --chapter int      Chapter id to export (required)
  --mode string      Export mode (default: correctionsWithOriginal)
  --out string       Output file (default: stdout)

Progress Flags:
  --config string    Config file path
  --project int      Project id (required)
  --out string       Output file (default: <project>-progress.xlsx)

Projects and Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  galley serve
  galley import --generate manuscript.epub
  galley zen --chapter 3
  galley search "lighthouse keeper"
  galley search --output json storm
  galley export --chapter 3 --out chapter3.txt
  galley progress --project 1
  galley status --output json`)
}

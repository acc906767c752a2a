// Command docmd converts a directory of documents to Markdown.
package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/dgallion1/docmd/internal/config"
	"github.com/dgallion1/docmd/internal/engine"
	_ "github.com/dgallion1/docmd/internal/engine/claude"
	_ "github.com/dgallion1/docmd/internal/engine/gemini"
	"github.com/dgallion1/docmd/internal/output"
	"github.com/dgallion1/docmd/internal/parser"
	"github.com/dgallion1/docmd/internal/pipeline"
	"github.com/dgallion1/docmd/internal/report"
	"github.com/dgallion1/docmd/internal/summary"
)

// CLI defines the command-line interface using Kong
var CLI struct {
	Verbose bool `name:"verbose" short:"v" help:"Debug logging"`

	Convert ConvertCmd `cmd:"" help:"Convert documents in a directory to Markdown"`
	Engines EnginesCmd `cmd:"" help:"List registered engines"`
}

// ConvertCmd converts every supported file under the input directory.
type ConvertCmd struct {
	Input  string `name:"input-path" short:"i" help:"Directory of input docs (default: INPUT_DIR)" type:"path"`
	Output string `name:"output-path" short:"o" help:"Where to write Markdown files (default: OUTPUT_DIR)" type:"path"`
	Engine string `name:"engine" short:"e" help:"Engine name (default: DEFAULT_ENGINE)"`
	Model  string `name:"model" short:"m" help:"Model override for engines that support it"`
	Since  string `name:"since" help:"Process only files modified on/after this timestamp (e.g. 2025-05-01T00:00:00)"`
	DryRun bool   `name:"dry-run" help:"List eligible files without converting or writing output"`
	JSON   bool   `name:"json" help:"Print the run report as JSON"`

	MaxTokens   int           `name:"max-tokens" help:"Override MAX_TOKENS_PER_CHUNK"`
	MaxPages    int           `name:"max-pages" help:"Override MAX_PAGES_PER_CHUNK"`
	Overlap     int           `name:"overlap" default:"-1" help:"Override OVERLAP_TOKENS"`
	Concurrency int           `name:"concurrency" help:"Override CONCURRENCY_LIMIT"`
	Timeout     time.Duration `name:"timeout" help:"Override the per-call timeout"`
	Retries     int           `name:"retries" help:"Override MAX_RETRY_ATTEMPTS"`
}

// EnginesCmd prints the registered engine names.
type EnginesCmd struct{}

func main() {
	_ = godotenv.Load()

	ctx := kong.Parse(&CLI,
		kong.Name("docmd"),
		kong.Description("Convert documentation sources into Markdown using pluggable engines."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

func newLogger(level slog.Level) *slog.Logger {
	if CLI.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (e *EnginesCmd) Run() error {
	return listEngines(os.Stdout)
}

func listEngines(w io.Writer) error {
	for _, name := range engine.Names() {
		if _, err := fmt.Fprintln(w, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConvertCmd) Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed, err := c.run(ctx, cfg, log, os.Stdout)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed", failed)
	}
	return nil
}

// apply folds flag overrides into cfg.
func (c *ConvertCmd) apply(cfg *config.Config) {
	if c.Input != "" {
		cfg.InputDir = c.Input
	}
	if c.Output != "" {
		cfg.OutputDir = c.Output
	}
	if c.Engine != "" {
		cfg.DefaultEngine = c.Engine
	}
	if c.Model != "" {
		cfg.Model = c.Model
	}
	if c.MaxTokens > 0 {
		cfg.MaxTokensPerChunk = c.MaxTokens
	}
	if c.MaxPages > 0 {
		cfg.MaxPagesPerChunk = c.MaxPages
	}
	if c.Overlap >= 0 {
		cfg.OverlapTokens = c.Overlap
	}
	if c.Concurrency > 0 {
		cfg.ConcurrencyLimit = c.Concurrency
	}
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	if c.Retries > 0 {
		cfg.MaxRetryAttempts = c.Retries
	}
}

// run converts the input directory and writes the report to w. It returns
// the number of documents that produced no output.
func (c *ConvertCmd) run(ctx context.Context, cfg config.Config, log *slog.Logger, w io.Writer) (int, error) {
	c.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	var since time.Time
	if c.Since != "" {
		var err error
		if since, err = parseSince(c.Since); err != nil {
			return 0, err
		}
	}

	conv := pipeline.NewConverter(cfg, nil, nil, log)
	eng, err := conv.Engine(cfg.DefaultEngine)
	if err != nil {
		return 0, err
	}
	log.Info("using engine", "engine", eng.Name(), "model", eng.Model())

	inputs, counts, err := collectInputs(cfg.InputDir, since, log)
	if err != nil {
		return 0, err
	}

	mirrorDirs(inputs, cfg.InputDir, cfg.OutputDir)

	if c.DryRun {
		for _, in := range inputs {
			log.Info("[dry-run] would convert", "path", in.Path)
		}
		counts.DryRun = len(inputs)
		inputs = nil
	}

	items := conv.ConvertAll(ctx, inputs, eng, output.DirSink{Dir: cfg.OutputDir})
	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
			log.Error("failed to convert", "path", it.Input, "error", it.Err)
			continue
		}
		log.Info("wrote", "path", it.Location)
	}

	snap := conv.Summary().Finish()
	if c.JSON {
		err = report.WriteJSON(w, snap, counts)
	} else {
		err = report.WriteText(w, snap, counts)
	}
	if err != nil {
		return failed, err
	}

	if cfg.ReportDB != "" && len(snap.Documents) > 0 {
		if err := saveRun(ctx, cfg.ReportDB, snap, log); err != nil {
			log.Warn("failed to save run", "error", err)
		}
	}
	return failed, nil
}

func saveRun(ctx context.Context, path string, snap summary.Snapshot, log *slog.Logger) error {
	store, err := report.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := uuid.NewString()
	if err := store.SaveRun(ctx, runID, snap); err != nil {
		return err
	}
	log.Info("run saved", "run_id", runID, "db", path)
	return nil
}

// collectInputs walks dir for supported files in lexical order, skipping
// those modified before since when it is set.
func collectInputs(dir string, since time.Time, log *slog.Logger) ([]pipeline.Input, report.Counts, error) {
	var (
		inputs []pipeline.Input
		counts report.Counts
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !parser.IsSupportedExtension(path) {
			return nil
		}
		counts.Total++
		if !since.IsZero() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.ModTime().Before(since) {
				counts.SkippedSince++
				log.Info("skipping due to --since filter", "path", path, "modified", info.ModTime().Format(time.RFC3339))
				return nil
			}
		}
		inputs = append(inputs, pipeline.Input{Path: path})
		return nil
	})
	if err != nil {
		return nil, counts, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Path < inputs[j].Path })
	return inputs, counts, nil
}

// mirrorDirs points each input below a subdirectory of in at the matching
// subdirectory of out, so equal stems in different folders stay distinct.
func mirrorDirs(inputs []pipeline.Input, in, out string) {
	for i := range inputs {
		rel, err := filepath.Rel(in, filepath.Dir(inputs[i].Path))
		if err != nil || rel == "." || !filepath.IsLocal(rel) {
			continue
		}
		inputs[i].Sink = output.DirSink{Dir: filepath.Join(out, rel)}
	}
}

var sinceLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseSince accepts RFC 3339 or a zone-less ISO 8601 timestamp in local time.
func parseSince(s string) (time.Time, error) {
	for _, layout := range sinceLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: want ISO 8601 such as 2025-05-01T00:00:00", s)
}

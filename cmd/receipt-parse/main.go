// Command receipt-parse turns a saved Textract AnalyzeExpense JSON response
// into a parsed receipt without calling any OCR service. Receipts without
// line items can be paired from a saved entity list given with --entities.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/smartreceipt/internal/parsing"
	"github.com/zombor/smartreceipt/internal/scanning"
)

func main() {
	fs := ff.NewFlagSet("receipt-parse")
	var (
		input      = fs.StringLong("input", "-", "Textract JSON file, or '-' for stdin")
		categories = fs.StringLong("categories-file", "", "YAML keyword rules (built-in rules if empty)")
		noClassify = fs.BoolLong("no-categories", "Leave item categories empty")
		entities   = fs.StringLong("entities", "", "JSON list of {\"text\",\"label\"} entities for receipts without line items")
		pairing    = fs.StringLong("pairing", "adjacent", "Entity pairing: 'adjacent' or 'window'")
		window     = fs.IntLong("pairing-window", 3, "Entities to look ahead for a price (pairing=window)")
		verbose    = fs.BoolLong("verbose", "Log warnings to stderr")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("SMARTRECEIPT")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	opts := options{
		input:         *input,
		entities:      *entities,
		rulesPath:     *categories,
		noClassify:    *noClassify,
		pairing:       *pairing,
		pairingWindow: *window,
	}
	if err := run(context.Background(), opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	input         string
	entities      string
	rulesPath     string
	noClassify    bool
	pairing       string
	pairingWindow int
}

// savedEntities replays a recognizer result read from disk.
type savedEntities []parsing.Entity

func (s savedEntities) Recognize(ctx context.Context, text string) ([]parsing.Entity, error) {
	return s, nil
}

func run(ctx context.Context, opts options, stdin io.Reader, out io.Writer) error {
	r := stdin
	if opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}

	resp, err := scanning.DecodeTextractJSON(r)
	if err != nil {
		return err
	}

	var recognizer parsing.EntityRecognizer
	if opts.entities != "" {
		data, err := os.ReadFile(opts.entities)
		if err != nil {
			return fmt.Errorf("reading entities: %w", err)
		}
		var saved savedEntities
		if err := json.Unmarshal(data, &saved); err != nil {
			return fmt.Errorf("decoding entities: %w", err)
		}
		recognizer = saved
	}

	var classifier parsing.Classifier
	if !opts.noClassify {
		keywords, err := scanning.LoadKeywordClassifier(opts.rulesPath)
		if err != nil {
			return err
		}
		classifier = keywords
	}
	resolver, err := parsing.NewCategoryResolver(classifier, 0)
	if err != nil {
		return err
	}

	cfg := parsing.DefaultConfig()
	cfg.Pairing = parsing.NewPairingStrategy(opts.pairing, opts.pairingWindow)
	parsed := parsing.NewPipeline(nil, recognizer, resolver, cfg).Parse(ctx, resp)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(parsed)
}

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nshruti113/threatdna/internal/export"
	"github.com/nshruti113/threatdna/internal/models"
	"github.com/nshruti113/threatdna/internal/simulate"
)

func main() {
	out := flag.String("out", "", "write the batch to this file (.gz suffix compresses)")
	serverURL := flag.String("server", "", "post the batch to a threatdna server, e.g. http://localhost:8888")
	dialect := flag.String("dialect", string(simulate.DialectShort), "header dialect: canonical, short, vendor or loose")
	scenarios := flag.String("scenarios", "all", "comma-separated attack scenarios, all or none")
	background := flag.Int("background", 2000, "number of benign events")
	span := flag.Duration("span", time.Hour, "time span covered by the batch")
	start := flag.String("start", "", "batch start time (default: one span ago)")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *out == "" && *serverURL == "" {
		logger.Error("Either -out or -server is required")
		os.Exit(2)
	}

	chosen, err := parseScenarios(*scenarios)
	if err != nil {
		logger.Error("Invalid scenarios", "error", err)
		os.Exit(2)
	}

	from := time.Now().UTC().Add(-*span).Truncate(time.Second)
	if *start != "" {
		from, err = time.Parse(models.TimeLayout, *start)
		if err != nil {
			logger.Error("Invalid -start, expected "+models.TimeLayout, "error", err)
			os.Exit(2)
		}
	}

	events := simulate.Generate(simulate.Options{
		Seed:       *seed,
		Start:      from,
		Span:       *span,
		Background: *background,
		Scenarios:  chosen,
	})
	logger.Info("Generated batch", "events", len(events), "scenarios", len(chosen), "seed", *seed)

	d := simulate.Dialect(*dialect)

	if *out != "" {
		if err := writeFile(*out, events, d); err != nil {
			logger.Error("Failed to write batch", "error", err)
			os.Exit(1)
		}
		logger.Info("Batch written", "file", *out)
	}

	if *serverURL != "" {
		if err := post(*serverURL, events, d); err != nil {
			logger.Error("Failed to post batch", "error", err)
			os.Exit(1)
		}
	}
}

func parseScenarios(v string) ([]simulate.Scenario, error) {
	switch v {
	case "all":
		return simulate.Scenarios(), nil
	case "none", "":
		return nil, nil
	}

	var out []simulate.Scenario
	for _, name := range strings.Split(v, ",") {
		s, err := simulate.ParseScenario(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func writeFile(path string, events []simulate.Event, d simulate.Dialect) error {
	return export.WriteFileAtomic(path, func(w io.Writer) error {
		if strings.HasSuffix(path, ".gz") {
			return simulate.WriteGzipCSV(w, events, d)
		}
		return simulate.WriteCSV(w, events, d)
	})
}

// post uploads the batch gzip-compressed and prints the run summary
func post(serverURL string, events []simulate.Event, d simulate.Dialect) error {
	var body bytes.Buffer
	if err := simulate.WriteGzipCSV(&body, events, d); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+"/api/runs", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Content-Encoding", "gzip")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	summary, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(summary))
	}

	fmt.Println(string(summary))
	return nil
}

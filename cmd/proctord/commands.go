package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"proctord/internal/config"
	"proctord/internal/content"
	"proctord/internal/logging"
	"proctord/internal/store"
)

func cmdCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file")
	probe := fs.Bool("probe", true, "Probe the OCR engine and frame source")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	return check(os.Stdout, cfg, *probe)
}

func check(w io.Writer, cfg *config.Config, probe bool) error {
	data, err := config.Encode(cfg, ".toml")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "# Effective configuration")
	w.Write(data)
	fmt.Fprintln(w)

	if !probe {
		return nil
	}

	fmt.Fprintln(w, "=== Capabilities ===")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := logging.Discard().Logger
	engine := buildEngine(cfg, logger)
	if err := engine.Init(ctx); err != nil {
		fmt.Fprintf(w, "OCR engine:    unavailable (%v)\n", err)
	} else {
		fmt.Fprintln(w, "OCR engine:    ok")
		engine.Close()
	}

	source, err := buildSource(cfg, logger)
	if err != nil {
		return err
	}
	if err := source.Open(ctx); err != nil {
		fmt.Fprintf(w, "Frame source:  unavailable (%v)\n", err)
	} else {
		fmt.Fprintf(w, "Frame source:  ok (%s)\n", cfg.Scan.Source)
		source.Close()
	}
	fmt.Fprintf(w, "Gaze source:   %s", cfg.Gaze.Source)
	if cfg.Gaze.Source == "websocket" {
		fmt.Fprintf(w, " on %s", cfg.Gaze.Listen)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Channel:       %s %s\n", cfg.Channel.Kind, cfg.Channel.URL)
	return nil
}

func cmdKeywords(args []string) error {
	fs := flag.NewFlagSet("keywords", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file")
	text := fs.String("text", "", "Text to test (reads stdin when empty)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	input := *text
	if input == "" {
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		input = string(data)
	}
	matchKeywords(os.Stdout, cfg.Keywords, input)
	return nil
}

// matchKeywords prints which keyword the monitor would report for text.
func matchKeywords(w io.Writer, keywords []string, text string) bool {
	m := content.NewMatcher(keywords)
	fmt.Fprintf(w, "Keywords: %s\n", strings.Join(m.Keywords(), ", "))

	keyword, ok := m.Match(text)
	if !ok {
		fmt.Fprintln(w, "No match.")
		return false
	}
	fmt.Fprintf(w, "Match:    %q (reported)\n", keyword)
	if all := m.MatchAll(text); len(all) > 1 {
		fmt.Fprintf(w, "Also:     %s\n", strings.Join(all[1:], ", "))
	}
	return true
}

func cmdJournal(args []string) error {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file")
	limit := fs.Int("n", 20, "Number of recent entries to show")
	verify := fs.Bool("verify", false, "Verify the hash chain")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Journal.Path); errors.Is(err, os.ErrNotExist) {
		fmt.Printf("No journal at %s\n", cfg.Journal.Path)
		return nil
	}

	j, err := store.Open(cfg.Journal.Path, cfg.Journal.SecretPath, "", logging.Discard().Logger)
	if err != nil {
		return err
	}
	defer j.Close()

	if *verify {
		return verifyJournal(os.Stdout, j)
	}
	return showJournal(os.Stdout, j, *limit)
}

func verifyJournal(w io.Writer, j *store.Journal) error {
	if err := j.Verify(); err != nil {
		fmt.Fprintln(w, "Journal verification FAILED")
		return err
	}
	stats, err := j.Stats(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Journal OK: %d events across %d sessions\n", stats.EventCount, stats.Sessions)
	fmt.Fprintf(w, "Chain head: %s\n", stats.ChainHash)
	return nil
}

func showJournal(w io.Writer, j *store.Journal, n int) error {
	entries, err := j.Recent(context.Background(), n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "Journal is empty.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tTYPE\tKEYWORD\tSESSION\tDETAIL")
	for _, e := range entries {
		session := e.SessionID
		if len(session) > 8 {
			session = session[:8]
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Timestamp.Format(time.RFC3339),
			e.Type,
			e.Keyword,
			session,
			truncate(e.Detail, 60),
		)
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func cmdVersion() {
	fmt.Printf("proctord %s (%s)\n", version, commit)
	fmt.Printf("go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

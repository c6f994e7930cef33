// consult runs an interactive consultation over a YAML knowledge base.
//
// Usage:
//
//	consult --kb examples/mycin/kb.yaml
//	consult --kb kb.yaml --contexts patient,culture,organism --db consults.db
//	consult --db consults.db --list
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/gene-999/emycin/internal/logging"
	"github.com/gene-999/emycin/pkg/emycin"
	"github.com/gene-999/emycin/pkg/emycin/config"
	"github.com/gene-999/emycin/pkg/emycin/store"
	"github.com/gene-999/emycin/pkg/emycin/store/sqlite"
)

func main() {
	var (
		kbPath   = flag.String("kb", "", "Knowledge base YAML file (required unless --list)")
		dbPath   = flag.String("db", "", "SQLite transcript database (optional)")
		contexts = flag.String("contexts", "", "Comma-separated goal contexts (default: all declared)")
		list     = flag.Bool("list", false, "List stored consultations and exit")
		show     = flag.String("show", "", "Print the transcript of a stored consultation and exit")
		verbose  = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, "text")

	ctx := context.Background()

	var rec store.Store
	if *dbPath != "" {
		var err error
		rec, err = sqlite.Open(ctx, *dbPath)
		if err != nil {
			log.Fatal(err)
		}
		defer rec.Close()
	}

	if *list || *show != "" {
		if rec == nil {
			log.Fatal("--db required with --list/--show")
		}
		if err := runQuery(ctx, rec, *list, *show); err != nil {
			log.Fatal(err)
		}
		return
	}

	if *kbPath == "" {
		log.Fatal("--kb required")
	}

	base, err := config.Load(*kbPath)
	if err != nil {
		log.Fatal(err)
	}

	goalContexts := base.ContextNames()
	if *contexts != "" {
		goalContexts = strings.Split(*contexts, ",")
		for i := range goalContexts {
			goalContexts[i] = strings.TrimSpace(goalContexts[i])
		}
	}

	shell := emycin.New(emycin.Options{
		KB:     base,
		Asker:  newConsoleAsker(bufio.NewScanner(os.Stdin), os.Stdout),
		Logger: logging.New("engine"),
		Store:  rec,
	})

	fmt.Println("Beginning execution. For help answering questions, type \"help\".")
	report, err := shell.Execute(ctx, goalContexts)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println()
	fmt.Print(report)
	if rec != nil {
		fmt.Printf("\nTranscript saved as session %s\n", report.SessionID)
	}
}

func runQuery(ctx context.Context, rec store.Store, list bool, show string) error {
	if list {
		sessions, err := rec.ListSessions(ctx, 20)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  %s  (%d findings)\n",
				s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), s.KB, s.Findings)
		}
		return nil
	}

	sess, ok, err := rec.GetSession(ctx, show)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s not found", show)
	}
	fmt.Printf("Session %s (%s, %s)\n", sess.ID, sess.KB,
		sess.StartedAt.Format("2006-01-02 15:04:05"))
	for _, e := range sess.Events {
		fmt.Printf("  %3d  %s\n", e.Seq, e.Detail)
	}
	fmt.Println("Findings:")
	for _, f := range sess.Findings {
		fmt.Printf("  %s %s = %s (%.3f)\n", f.Instance, f.Param, f.Value, f.CF)
	}
	return nil
}

// Command labflowctl is the CLI reporting/control surface: inspecting
// and killing workflows without going through the daemon or a running
// workflow process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/scidag/labflow"
	"github.com/scidag/labflow/calc"
	"github.com/scidag/labflow/internal/config"
	"github.com/scidag/labflow/store/postgres"
	"github.com/scidag/labflow/store/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: labflowctl <list|kill-pk|kill-uuid|kill-all> [flags]")
	}
	cmd, rest := os.Args[1], os.Args[2:]

	cfgPath := os.Getenv("LABFLOW_CONFIG")
	cfg := config.Load(cfgPath)

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("labflowctl: open store: %v", err)
	}
	defer closeStore()

	calcSrc := calc.NewRegistry()

	switch cmd {
	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		extended := fs.Bool("extended", false, "include calculation IDs and the report in the tree")
		includeFinished := fs.Bool("all", false, "include finished workflows")
		tab := fs.Int("tab", 2, "indent width")
		fs.Parse(rest)

		out, err := ListWorkflows(ctx, store, currentUser(), *extended, *includeFinished, *tab)
		if err != nil {
			log.Fatalf("labflowctl: list: %v", err)
		}
		fmt.Println(out)

	case "kill-pk":
		fs := flag.NewFlagSet("kill-pk", flag.ExitOnError)
		fs.Parse(rest)
		if fs.NArg() != 1 {
			log.Fatal("usage: labflowctl kill-pk <pk>")
		}
		pk, err := strconv.ParseInt(fs.Arg(0), 10, 64)
		if err != nil {
			log.Fatalf("labflowctl: invalid pk: %v", err)
		}
		if err := KillByPK(ctx, store, calcSrc, pk); err != nil {
			log.Fatalf("labflowctl: kill-pk: %v", err)
		}

	case "kill-uuid":
		fs := flag.NewFlagSet("kill-uuid", flag.ExitOnError)
		fs.Parse(rest)
		if fs.NArg() != 1 {
			log.Fatal("usage: labflowctl kill-uuid <uuid>")
		}
		if err := KillByUUID(ctx, store, calcSrc, fs.Arg(0)); err != nil {
			log.Fatalf("labflowctl: kill-uuid: %v", err)
		}

	case "kill-all":
		fs := flag.NewFlagSet("kill-all", flag.ExitOnError)
		fs.Parse(rest)
		if err := KillAll(ctx, store, calcSrc, currentUser()); err != nil {
			log.Fatalf("labflowctl: kill-all: %v", err)
		}

	default:
		log.Fatalf("labflowctl: unknown command %q", cmd)
	}
}

func openStore(ctx context.Context, cfg config.Config) (labflow.Store, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	default:
		st := sqlite.New(cfg.Database.SQLitePath)
		return st, func() { _ = st.Close() }, nil
	}
}

// currentUser resolves the acting user for CLI operations. User
// resolution proper is an external collaborator (spec §1); this is the
// simplest binding that lets labflowctl run standalone.
func currentUser() string {
	if u := os.Getenv("LABFLOW_USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// KillByPK kills the workflow with the given integer primary key and
// its entire sub-workflow tree.
func KillByPK(ctx context.Context, store labflow.Store, calcSrc labflow.CalculationSource, pk int64) error {
	rec, err := store.GetWorkflowByPK(ctx, pk)
	if err != nil {
		return err
	}
	return labflow.KillWorkflow(ctx, store, calcSrc, rec.ID)
}

// KillByUUID kills the workflow with the given UUID and its entire
// sub-workflow tree.
func KillByUUID(ctx context.Context, store labflow.Store, calcSrc labflow.CalculationSource, uuid string) error {
	return labflow.KillWorkflow(ctx, store, calcSrc, uuid)
}

// KillAll kills every non-finished workflow owned by user.
func KillAll(ctx context.Context, store labflow.Store, calcSrc labflow.CalculationSource, user string) error {
	recs, err := store.ListWorkflows(ctx, user, nil)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Status == labflow.StateFinished {
			continue
		}
		if err := labflow.KillWorkflow(ctx, store, calcSrc, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// FormatTree renders one workflow as a header line followed by one
// indented line per step and, recursively, one indented sub-tree per
// attached sub-workflow (spec §6). extended also prints each step's
// attached calculation IDs and the workflow's report.
func FormatTree(ctx context.Context, store labflow.Store, w labflow.WorkflowRecord, tab int, extended bool, pre string) (string, error) {
	indent := strings.Repeat(" ", tab)
	var b strings.Builder

	fmt.Fprintf(&b, "%s#%d %s <%s> [%s] %s\n", pre, w.PK, w.ID, w.ModuleClass, w.Status, w.User)

	steps, err := store.ListSteps(ctx, w.ID, nil)
	if err != nil {
		return "", err
	}
	for _, step := range steps {
		fmt.Fprintf(&b, "%s%s- %s [%s] -> %s\n", pre, indent, step.Name, step.Status, step.NextCall)

		if extended {
			calcs, err := store.StepCalculations(ctx, step.ID)
			if err != nil {
				return "", err
			}
			for _, c := range calcs {
				fmt.Fprintf(&b, "%s%s%s  calc %s\n", pre, indent, indent, c)
			}
		}

		subs, err := store.StepSubworkflows(ctx, step.ID)
		if err != nil {
			return "", err
		}
		for _, subID := range subs {
			subRec, err := store.GetWorkflow(ctx, subID)
			if err != nil {
				return "", err
			}
			sub, err := FormatTree(ctx, store, subRec, tab, extended, pre+indent+indent)
			if err != nil {
				return "", err
			}
			b.WriteString(sub)
		}
	}

	if extended {
		report, err := store.GetReport(ctx, w.ID)
		if err != nil {
			return "", err
		}
		if report != "" {
			fmt.Fprintf(&b, "%s%sreport:\n", pre, indent)
			for _, line := range strings.Split(strings.TrimRight(report, "\n"), "\n") {
				fmt.Fprintf(&b, "%s%s%s%s\n", pre, indent, indent, line)
			}
		}
	}

	return b.String(), nil
}

// ListWorkflows concatenates FormatTree over every root workflow owned
// by user (spec §6), replacing empty output with the literal fallback
// messages.
func ListWorkflows(ctx context.Context, store labflow.Store, user string, extended, includeFinished bool, tab int) (string, error) {
	recs, err := store.ListRootWorkflows(ctx, user, includeFinished)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, rec := range recs {
		tree, err := FormatTree(ctx, store, rec, tab, extended, "")
		if err != nil {
			return "", err
		}
		b.WriteString(tree)
	}

	out := b.String()
	if out == "" {
		if includeFinished {
			return "# No workflows found", nil
		}
		return "# No running workflows found", nil
	}
	return strings.TrimRight(out, "\n"), nil
}

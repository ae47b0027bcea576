package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jhump/protoreflect/dynamic"
	"github.com/mattn/go-isatty"

	"github.com/funvibe/funtrait/internal/analyzer"
	"github.com/funvibe/funtrait/internal/config"
	"github.com/funvibe/funtrait/internal/diagnostics"
	"github.com/funvibe/funtrait/internal/manifest"
	"github.com/funvibe/funtrait/internal/metaserv"
	"github.com/funvibe/funtrait/internal/parser"
	"github.com/funvibe/funtrait/internal/pipeline"
	"github.com/funvibe/funtrait/internal/prettyprinter"
	"github.com/funvibe/funtrait/internal/store"
)

// Version is stamped at build time using:
// -ldflags "-X main.Version=v0.3.0"
var Version = "dev"

func main() {
	// Catch panics and show user-friendly error
	defer func() {
		if r := recover(); r != nil {
			// Print stack trace for debugging
			if config.Debug() {
				panic(r) // Re-panic to get stack trace
			}
			fmt.Fprintf(os.Stderr, "Internal error: %v\n", r)
			fmt.Fprintln(os.Stderr, "This is a bug. Please report it.")
			os.Exit(1)
		}
	}()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "check":
		runCheck(os.Args[2:])
	case "graph":
		runGraph(os.Args[2:])
	case "query":
		runQuery(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "store":
		runStore(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Printf("funtrait %s\n", Version)
	case "help", "-h", "-help", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`funtrait checks trait impls for coherence across units.

Usage:
  funtrait <command> [arguments]

Commands:
  check  [project] [--save] [--store <db>] [--no-store]   check the project
  graph  [project] [--flat]                               print the specialization forest
  query  <trait> <type> [project] [--remote <addr>]       resolve an impl chain
  serve  [project] [--addr <addr>]                        serve graph queries over gRPC
  store  <list|save> [project]                            inspect or update the unit store
  version                                                 print the version

A project is a funtrait.yaml file, a directory containing one, or a
single .unit.yaml file; without an argument the current directory and
its parents are searched.
`)
}

// options holds the flags shared across subcommands; args keeps the
// positional leftovers in order.
type options struct {
	save      bool
	flat      bool
	noStore   bool
	storePath string
	addr      string
	remote    string
	args      []string
}

func parseArgs(args []string) options {
	var o options
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--save":
			o.save = true
		case "--flat":
			o.flat = true
		case "--no-store":
			o.noStore = true
		case "--store":
			if i+1 < len(args) {
				o.storePath = args[i+1]
				i++
			}
		case "--addr":
			if i+1 < len(args) {
				o.addr = args[i+1]
				i++
			}
		case "--remote":
			if i+1 < len(args) {
				o.remote = args[i+1]
				i++
			}
		default:
			if strings.HasPrefix(args[i], "-") {
				fmt.Fprintf(os.Stderr, "Unknown flag: %s\n", args[i])
				os.Exit(1)
			}
			o.args = append(o.args, args[i])
		}
	}
	return o
}

// projectPath resolves an explicit path (project file or directory), or
// walks up from the working directory.
func projectPath(explicit string) string {
	dir := explicit
	if explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		if !info.IsDir() {
			return explicit
		}
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		dir = cwd
	}

	found, err := manifest.FindProject(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if found == "" {
		fmt.Fprintf(os.Stderr, "No %s found in %s or any parent directory\n", config.ProjectFile, dir)
		os.Exit(1)
	}
	return found
}

// runCheckPipeline drives a full check. I/O failures abort the process;
// diagnostics are left for the caller to report.
func runCheckPipeline(o options) (*analyzer.Analyzer, *pipeline.PipelineContext) {
	path := ""
	if len(o.args) > 0 {
		path = o.args[0]
	}

	storePath := o.storePath
	if o.noStore {
		storePath = "-"
	}

	a := analyzer.New()
	p := pipeline.New(analyzer.Processors(a, o.save)...)
	ctx := p.Run(&pipeline.PipelineContext{
		Ctx:         context.Background(),
		ProjectPath: projectPath(path),
		StorePath:   storePath,
	})
	if ctx.Err != nil {
		printDiagnostics(ctx.Errors)
		fmt.Fprintf(os.Stderr, "Error: %s\n", ctx.Err)
		os.Exit(1)
	}
	return a, ctx
}

func printDiagnostics(diags []*diagnostics.DiagnosticError) {
	color := useColor()
	for _, d := range diags {
		line := d.Error()
		if color {
			if d.Severity == diagnostics.SeverityError {
				line = "\033[31m" + line + "\033[0m"
			} else {
				line = "\033[33m" + line + "\033[0m"
			}
		}
		fmt.Fprintf(os.Stderr, "- %s\n", line)
	}
}

func useColor() bool {
	if config.IsTestMode() {
		return false
	}
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

func runCheck(args []string) {
	o := parseArgs(args)
	a, ctx := runCheckPipeline(o)
	printDiagnostics(ctx.Errors)
	if a.HasErrors() {
		os.Exit(1)
	}
}

func runGraph(args []string) {
	o := parseArgs(args)
	a, ctx := runCheckPipeline(o)
	printDiagnostics(ctx.Errors)
	if a.HasErrors() {
		os.Exit(1)
	}

	if o.flat {
		fmt.Print(prettyprinter.Edges(a.Graph(), a.Table()))
		return
	}
	tp := prettyprinter.NewTreePrinter(a.Graph(), a.Table())
	tp.AnnotateLints(a.Lints())
	tp.PrintForest()
	fmt.Print(tp.String())
}

func runQuery(args []string) {
	o := parseArgs(args)
	if len(o.args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: funtrait query <trait> <type> [project] [--remote <addr>]")
		os.Exit(1)
	}
	trait, self := o.args[0], o.args[1]
	o.args = o.args[2:]

	if o.remote != "" {
		queryRemote(o.remote, trait, self)
		return
	}

	a, ctx := runCheckPipeline(o)
	printDiagnostics(ctx.Errors)
	if a.HasErrors() {
		os.Exit(1)
	}

	ty, err := parser.ParseType(self)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %q is not a type: %s\n", self, err)
		os.Exit(1)
	}
	path, ok := a.ResolvePath(trait, ty)
	if !ok {
		fmt.Fprintf(os.Stderr, "no impl of %s for %s\n", trait, self)
		os.Exit(1)
	}

	td, _ := a.Table().ResolveTrait(trait)
	tp := prettyprinter.NewTreePrinter(a.Graph(), a.Table())
	tp.AnnotateLints(a.Lints())
	tp.PrintPath(td, path)
	fmt.Print(tp.String())
}

func queryRemote(addr, trait, self string) {
	client, err := metaserv.Dial(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer client.Close()

	resp, err := client.Invoke(context.Background(), "Resolve", map[string]interface{}{
		"trait": trait,
		"self":  self,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if found, _ := resp.GetFieldByName("found").(bool); !found {
		fmt.Fprintf(os.Stderr, "no impl of %s for %s\n", trait, self)
		os.Exit(1)
	}

	fmt.Printf("trait %s\n", trait)
	steps, _ := resp.GetFieldByName("path").([]interface{})
	indent := ""
	for _, step := range steps {
		m, ok := step.(*dynamic.Message)
		if !ok {
			continue
		}
		indent += "    "
		fmt.Printf("%simpl %v for %v\n", indent, m.GetFieldByName("id"), m.GetFieldByName("self"))
	}
}

func runServe(args []string) {
	o := parseArgs(args)
	a, ctx := runCheckPipeline(o)
	printDiagnostics(ctx.Errors)
	if a.HasErrors() {
		os.Exit(1)
	}

	addr := o.addr
	if addr == "" && ctx.Project != nil {
		addr = ctx.Project.Serve
	}

	log.SetFlags(0) // Disable timestamp in logs
	log.SetOutput(os.Stderr)

	srv, err := metaserv.New(a)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if err := srv.Serve(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runStore(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: funtrait store <list|save> [project]")
		os.Exit(1)
	}
	sub := args[0]
	o := parseArgs(args[1:])

	switch sub {
	case "list":
		storeList(o)
	case "save":
		o.save = true
		a, ctx := runCheckPipeline(o)
		printDiagnostics(ctx.Errors)
		if a.HasErrors() {
			os.Exit(1)
		}
		if local := a.LocalUnit(); local != nil {
			fmt.Printf("stored %s@%s\n", local.Name, local.Version)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown store subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func storeList(o options) {
	path := ""
	if len(o.args) > 0 {
		path = o.args[0]
	}
	proj, err := manifest.LoadProject(projectPath(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	storePath := proj.Store
	if o.storePath != "" {
		storePath = o.storePath
	}
	db, err := store.Open(storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer db.Close()

	entries, err := db.List(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("store is empty")
		return
	}
	for _, e := range entries {
		fmt.Printf("%s@%s  %d impls  %s\n", e.Unit.Name, e.Unit.Version, e.Impls, e.Unit.Fingerprint[:8])
	}
}

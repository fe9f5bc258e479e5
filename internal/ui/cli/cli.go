package cli

import (
	"flag"
	"fmt"
	"io"
)

const versionString = "0.4.0"
const defaultConfigPath = "./zira.toml"

type cliOptions struct {
	configPath string
	ui         bool
	verbose    bool
	version    bool
	json       bool

	// command flags
	mode          string
	regex         bool
	word          bool
	caseSensitive bool
	exts          string
	limit         int
	language      string
	standard      string
	confirm       bool
	kind          string
	clear         bool

	command string
	args    []string
}

func parseOptions(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("zira", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: zira [flags] <command> [args]")
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "commands:")
		for _, c := range commandHelp {
			fmt.Fprintf(stderr, "  %-10s %s\n", c[0], c[1])
		}
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "flags:")
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to config file")
	fs.BoolVar(&opts.ui, "ui", false, "Show the terminal progress view (scan, search, watch)")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")
	fs.BoolVar(&opts.json, "json", false, "Print results as JSON")

	fs.StringVar(&opts.mode, "mode", "", "Scan mode: full, refresh or paths")
	fs.BoolVar(&opts.regex, "regex", false, "Treat the search pattern as a regular expression")
	fs.BoolVar(&opts.word, "word", false, "Match whole words only")
	fs.BoolVar(&opts.caseSensitive, "case", false, "Case-sensitive search")
	fs.StringVar(&opts.exts, "ext", "", "Comma-separated extensions to search")
	fs.IntVar(&opts.limit, "limit", 0, "Maximum results for prefix, quickfind and journal")
	fs.StringVar(&opts.language, "lang", "", "Language for lint, overriding the file extension")
	fs.StringVar(&opts.standard, "standard", "", "Coding standard passed to the style command")
	fs.BoolVar(&opts.confirm, "confirm", false, "Allow git commands that modify the repository")
	fs.StringVar(&opts.kind, "kind", "", "Filter journal entries by job kind")
	fs.BoolVar(&opts.clear, "clear", false, "Clear the journal")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return opts, nil
	}
	opts.command = rest[0]
	if passthrough[opts.command] {
		opts.args = rest[1:]
		return opts, nil
	}
	// Flags may also follow the command name.
	if err := fs.Parse(rest[1:]); err != nil {
		return cliOptions{}, err
	}
	opts.args = fs.Args()
	return opts, nil
}

// passthrough commands hand everything after their name to the program
// they run; their flags go before the command.
var passthrough = map[string]bool{"git": true, "run": true}

var commandHelp = [][2]string{
	{"scan", "index the project (--mode full|refresh|paths [paths...])"},
	{"find", "print where a declaration is defined: find <name>"},
	{"prefix", "list declarations starting with a prefix: prefix <text>"},
	{"search", "search project files: search <pattern>"},
	{"quickfind", "match declarations and file names: quickfind <text>"},
	{"lint", "check files for syntax errors: lint <file>..."},
	{"style", "run the style checks: style <file>..."},
	{"git", "run git in the project root: [--confirm] git <args>..."},
	{"run", "run an external program: run <program> [args]..."},
	{"watch", "keep the index current until interrupted"},
	{"journal", "list recent job results"},
	{"health", "print component health"},
}

package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/stevemurr/jfs/config"
	"github.com/stevemurr/jfs/export"
	"github.com/stevemurr/jfs/logging"
	"github.com/stevemurr/jfs/store"
)

const usage = `usage: jfs [flags] <command> [args]

commands:
  save <json|->        store a value under a generated id, print the id
  put <id> <json|->    store a value under id
  get <id>             print the value stored under id
  list                 print every record as an id -> value object
  delete <id>          remove the record for id
  export sqlite|bolt <file>
                       copy every record into a SQLite or bbolt database

flags:
`

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitNotFound = 3
)

var logger = logging.For("cli")

var errUsage = errors.New("usage")

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv))
}

type cli struct {
	store  store.Store
	stdin  io.Reader
	stdout io.Writer
	format string
	tty    bool
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) int {
	flags := flag.NewFlagSet("jfs", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	configPath := flags.String("config", "", "path to TOML config file (default ./jfs.toml if present)")
	path := flags.String("path", "", "store directory, single JSON file, or "+store.InMemory+" (overrides config)")
	pretty := flags.Bool("pretty", false, "indent stored JSON")
	indent := flags.Int("indent", 2, "spaces per indent level when -pretty is set")
	single := flags.Bool("single", false, "keep all records in one JSON file")
	format := flags.String("format", "json", "output format: json or yaml")
	logLevel := flags.String("log-level", "", "debug, info, warn or error (overrides config)")
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "jfs: config: %v\n", err)
		return exitError
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		fmt.Fprintf(stderr, "jfs: environment: %v\n", err)
		return exitError
	}

	// CLI flags override config file and environment values
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "path":
			cfg.Store.Path = *path
		case "pretty":
			cfg.Store.Pretty = *pretty
		case "indent":
			cfg.Store.Indent = *indent
		case "single":
			cfg.Store.Single = *single
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "jfs: config: %v\n", err)
		return exitError
	}
	if *format != "json" && *format != "yaml" {
		fmt.Fprintf(stderr, "jfs: unknown format %q (supported: json, yaml)\n", *format)
		return exitUsage
	}
	logging.InitWriter(stderr, cfg.Log.Level, cfg.Log.Format)

	if flags.NArg() == 0 {
		flags.Usage()
		return exitUsage
	}

	s, err := store.Open(cfg.StorePath(), cfg.StoreOptions())
	if err != nil {
		fmt.Fprintf(stderr, "jfs: %v\n", err)
		return exitError
	}
	logger.Debug("opened store", "path", s.Path(), "memory", s.IsMemory())

	c := &cli{store: s, stdin: stdin, stdout: stdout, format: *format}
	if f, ok := stdout.(*os.File); ok {
		c.tty = term.IsTerminal(int(f.Fd()))
	}

	err = c.dispatch(flags.Arg(0), flags.Args()[1:])
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "jfs: %v\n", err)
		flags.Usage()
		return exitUsage
	case store.IsNotFound(err):
		fmt.Fprintf(stderr, "jfs: %v\n", err)
		return exitNotFound
	default:
		fmt.Fprintf(stderr, "jfs: %v\n", err)
		return exitError
	}
}

func (c *cli) dispatch(cmd string, args []string) error {
	switch cmd {
	case "save":
		if len(args) != 1 {
			return fmt.Errorf("%w: save takes one value", errUsage)
		}
		value, err := c.readValue(args[0])
		if err != nil {
			return err
		}
		id, err := c.store.Save(value)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, id)
		return nil

	case "put":
		if len(args) != 2 {
			return fmt.Errorf("%w: put takes an id and a value", errUsage)
		}
		value, err := c.readValue(args[1])
		if err != nil {
			return err
		}
		_, err = c.store.SaveWithID(value, args[0])
		return err

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("%w: get takes one id", errUsage)
		}
		v, err := store.Get[json.RawMessage](c.store, args[0])
		if err != nil {
			return err
		}
		return c.print(v)

	case "list":
		if len(args) != 0 {
			return fmt.Errorf("%w: list takes no arguments", errUsage)
		}
		all, err := store.All[json.RawMessage](c.store)
		if err != nil {
			return err
		}
		return c.print(store.Document(all))

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("%w: delete takes one id", errUsage)
		}
		return c.store.Delete(args[0])

	case "export":
		if len(args) != 2 {
			return fmt.Errorf("%w: export takes a kind and a file", errUsage)
		}
		return c.export(args[0], args[1])

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// readValue returns arg, or stdin when arg is "-", as validated JSON.
func (c *cli) readValue(arg string) (json.RawMessage, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		if data, err = io.ReadAll(c.stdin); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("value is not valid JSON: %s", strings.TrimSpace(string(data)))
	}
	return json.RawMessage(data), nil
}

func (c *cli) export(kind, file string) error {
	var (
		sink export.Sink
		err  error
	)
	switch kind {
	case "sqlite":
		sink, err = export.OpenSQLite(file)
	case "bolt":
		sink, err = export.OpenBolt(file)
	default:
		return fmt.Errorf("%w: unknown export kind %q (supported: sqlite, bolt)", errUsage, kind)
	}
	if err != nil {
		return err
	}
	n, err := export.Run(c.store, sink)
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "exported %d records to %s\n", n, file)
	return nil
}

// print writes v as YAML, or as JSON indented for terminals and compact
// otherwise.
func (c *cli) print(v any) error {
	if c.format == "yaml" {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		_, err = c.stdout.Write(out)
		return err
	}

	enc := json.NewEncoder(c.stdout)
	enc.SetEscapeHTML(false)
	if c.tty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nih-sparc/sparc-client-go/internal/client"
	"github.com/nih-sparc/sparc-client-go/internal/config"
	"github.com/nih-sparc/sparc-client-go/internal/logging"
	"github.com/nih-sparc/sparc-client-go/internal/services/pennsieve"
	"github.com/nih-sparc/sparc-client-go/internal/zinc"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

const usage = `usage: sparc [flags] <command> [args]

commands:
  services                      list registered services
  info <service>                connect a service and print its info
  profile <service>             print the profile a service uses
  datasets [-limit n] [-offset n]
                                list dataset metadata
  search [query-json]           search dataset metadata
  files [-dataset id] [-type t] [-query q] [-limit n]
                                search published files
  download -dataset id [-type t] [-query q] [-dir d]
                                download published files
  solver <key> <version>        describe an o2sparc solver
  scaffold -dataset id -out f   export a dataset scaffold to VTK
  mbf -dataset id [-file f] -out f
                                export an MBF segmentation to VTK
  analyse -organ o -species s <file.xml>
                                check an MBF file for mapping
  exporter                      check the configured zinc export command

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sparc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigFile, "path to the profile store")
	connect := fs.Bool("connect", false, "connect every service before running the command")
	logLevel := fs.String("log-level", "warn", "log level (debug, info, warn, error)")
	showVersion := fs.Bool("version", false, "show version and exit")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "sparc %s (built %s)\n", Version, BuildTime)
		return 0
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	logger, closer, err := logging.New(logging.Options{Level: *logLevel, Output: stderr})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer.Close()

	c, err := client.New(ctx, config.ExpandPath(*configPath),
		client.WithConnect(*connect),
		client.WithLogger(logger),
	)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		for _, r := range c.Registrations() {
			_ = r.Service.Close()
		}
	}()

	cmd := &command{client: c, stdout: stdout}
	if err := cmd.dispatch(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

type command struct {
	client *client.Client
	stdout io.Writer
}

func (cmd *command) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "services":
		return cmd.services()
	case "info":
		return cmd.info(ctx, args)
	case "profile":
		return cmd.profile(ctx, args)
	case "datasets":
		return cmd.datasets(ctx, args)
	case "search":
		return cmd.search(ctx, args)
	case "files":
		return cmd.files(ctx, args)
	case "download":
		return cmd.download(ctx, args)
	case "solver":
		return cmd.solver(ctx, args)
	case "scaffold", "mbf", "analyse":
		return cmd.geometry(ctx, name, args)
	case "exporter":
		return cmd.exporter(ctx)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func (cmd *command) print(v any) error {
	if raw, ok := v.(json.RawMessage); ok {
		_, err := fmt.Fprintln(cmd.stdout, string(raw))
		return err
	}
	enc := json.NewEncoder(cmd.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (cmd *command) services() error {
	type entry struct {
		Name string `json:"name"`
		Info string `json:"info"`
	}
	out := []entry{}
	for _, r := range cmd.client.Registrations() {
		out = append(out, entry{Name: r.Name, Info: r.Service.Info()})
	}
	return cmd.print(map[string]any{"profile": cmd.client.Profile(), "services": out})
}

func serviceArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: expected a service name", errUsage)
	}
	return args[0], nil
}

type versionReporter interface {
	ServerSupported() (supported, known bool)
}

func (cmd *command) info(ctx context.Context, args []string) error {
	name, err := serviceArg(args)
	if err != nil {
		return err
	}
	svc, err := cmd.client.Service(name)
	if err != nil {
		return err
	}
	endpoint, err := svc.Connect(ctx)
	if err != nil {
		return err
	}
	out := map[string]any{"service": name, "endpoint": endpoint, "info": svc.Info()}
	if vr, ok := svc.(versionReporter); ok {
		if supported, known := vr.ServerSupported(); known {
			out["supported"] = supported
		}
	}
	return cmd.print(out)
}

func (cmd *command) profile(ctx context.Context, args []string) error {
	name, err := serviceArg(args)
	if err != nil {
		return err
	}
	svc, err := cmd.client.Service(name)
	if err != nil {
		return err
	}
	profile, err := svc.GetProfile(ctx)
	if err != nil {
		return err
	}
	return cmd.print(map[string]string{"service": name, "profile": profile})
}

func (cmd *command) datasets(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("datasets", flag.ContinueOnError)
	limit := fs.Int("limit", 10, "page size")
	offset := fs.Int("offset", 0, "first result")
	if err := fs.Parse(args); err != nil {
		return err
	}

	md, err := cmd.client.Metadata()
	if err != nil {
		return err
	}
	raw, err := md.ListDatasets(ctx, *limit, *offset)
	if err != nil {
		return err
	}
	return cmd.print(raw)
}

func (cmd *command) search(ctx context.Context, args []string) error {
	var query string
	if len(args) > 0 {
		query = args[0]
	}
	md, err := cmd.client.Metadata()
	if err != nil {
		return err
	}
	raw, err := md.SearchDatasets(ctx, query)
	if err != nil {
		return err
	}
	return cmd.print(raw)
}

func fileFlags(name string) (*flag.FlagSet, *pennsieve.FileQuery) {
	q := &pennsieve.FileQuery{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.IntVar(&q.DatasetID, "dataset", 0, "dataset id")
	fs.StringVar(&q.FileType, "type", "", "file type, e.g. JSON or XML")
	fs.StringVar(&q.Query, "query", "", "file name query")
	fs.StringVar(&q.Organization, "organization", "", "publishing organization")
	fs.IntVar(&q.Limit, "limit", 10, "page size")
	fs.IntVar(&q.Offset, "offset", 0, "first result")
	return fs, q
}

func (cmd *command) files(ctx context.Context, args []string) error {
	fs, q := fileFlags("files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ps, err := cmd.client.Pennsieve()
	if err != nil {
		return err
	}
	page, err := ps.ListFiles(ctx, *q)
	if err != nil {
		return err
	}
	return cmd.print(page)
}

func (cmd *command) download(ctx context.Context, args []string) error {
	fs, q := fileFlags("download")
	dir := fs.String("dir", ".", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if q.DatasetID == 0 {
		return fmt.Errorf("%w: -dataset is required", errUsage)
	}

	ps, err := cmd.client.Pennsieve()
	if err != nil {
		return err
	}
	page, err := ps.ListFiles(ctx, *q)
	if err != nil {
		return err
	}
	paths, err := ps.DownloadFiles(ctx, page.Files, *dir)
	if err != nil {
		return err
	}
	return cmd.print(map[string]any{"files": paths})
}

func (cmd *command) solver(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: expected a solver key and version", errUsage)
	}
	o2, err := cmd.client.O2Sparc()
	if err != nil {
		return err
	}
	solver, err := o2.GetSolver(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return cmd.print(solver.Info())
}

func (cmd *command) exporter(ctx context.Context) error {
	exp, err := zinc.NewCommandExporter(cmd.client.Settings())
	if err != nil {
		return err
	}
	version, err := exp.Version(ctx)
	if err != nil {
		return err
	}
	return cmd.print(map[string]any{"command": exp.Command, "version": version})
}

func (cmd *command) geometry(ctx context.Context, name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	dataset := fs.Int("dataset", 0, "dataset id")
	file := fs.String("file", "", "segmentation file name")
	out := fs.String("out", "", "output VTK file")
	organ := fs.String("organ", "", "organ to map onto")
	species := fs.String("species", "", "species of the data")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ps, err := cmd.client.Pennsieve()
	if err != nil {
		return err
	}
	exporter, err := zinc.NewCommandExporter(cmd.client.Settings())
	if err != nil {
		return err
	}
	helper, err := zinc.New(ps, exporter)
	if err != nil {
		return err
	}

	switch name {
	case "analyse":
		if fs.NArg() != 1 {
			return fmt.Errorf("%w: expected an input file", errUsage)
		}
		report, err := helper.Analyse(ctx, fs.Arg(0), *organ, *species)
		if err != nil {
			return err
		}
		return cmd.print(map[string]string{"input": fs.Arg(0), "report": report})
	case "scaffold":
		if *dataset == 0 || *out == "" {
			return fmt.Errorf("%w: -dataset and -out are required", errUsage)
		}
		if err := helper.ScaffoldVTK(ctx, *dataset, *out); err != nil {
			return err
		}
	default:
		if *dataset == 0 || *out == "" {
			return fmt.Errorf("%w: -dataset and -out are required", errUsage)
		}
		if err := helper.MBFVTK(ctx, *dataset, *file, *out); err != nil {
			return err
		}
	}
	return cmd.print(map[string]string{"dataset": strconv.Itoa(*dataset), "output": *out})
}

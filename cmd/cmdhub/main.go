package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/guseggert/cmdhub/config"
	"github.com/guseggert/cmdhub/dashboard"
	"github.com/guseggert/cmdhub/hub"
	"github.com/guseggert/cmdhub/registry"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	defaults := config.Defaults()
	app := &cli.App{
		Name:  "cmdhub",
		Usage: "a dashboard for saved shell commands, pm2 processes and local services",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Base URL of the hub, for client commands.",
				Value:   "http://127.0.0.1:9010",
				EnvVars: []string{"CMDHUB_SERVER"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "One of [debug,info,warn,error].",
				Value:   "info",
				EnvVars: []string{"CMDHUB_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "mode",
				Usage:   "One of [development,production]. Selects service ports and the probe timeout.",
				Value:   string(defaults.Mode),
				EnvVars: []string{"CMDHUB_MODE"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(defaults),
			dashboardCommand(),
			addCommand(),
			deleteCommand(),
			runCommand(),
			processCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand(defaults config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the hub HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen-addr",
				Usage:   "The address for the HTTP server to listen on.",
				Value:   defaults.ListenAddr,
				EnvVars: []string{"CMDHUB_LISTEN_ADDR"},
			},
			&cli.StringFlag{
				Name:    "host",
				Usage:   "The host that services are probed on and linked to.",
				Value:   defaults.Host,
				EnvVars: []string{"CMDHUB_HOST"},
			},
			&cli.DurationFlag{
				Name:    "probe-timeout",
				Usage:   "Bound on each service probe. Zero uses the mode default.",
				EnvVars: []string{"CMDHUB_PROBE_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "catalog-driver",
				Usage:   "Saved command storage. One of [json,sqlite].",
				Value:   string(defaults.CatalogDriver),
				EnvVars: []string{"CMDHUB_CATALOG_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "catalog",
				Usage:   "Path to the saved command file or database.",
				Value:   defaults.CatalogPath,
				EnvVars: []string{"CMDHUB_CATALOG"},
			},
			&cli.StringFlag{
				Name:    "services",
				Usage:   "Path to the services file (YAML or JSON).",
				Value:   defaults.ServicesPath,
				EnvVars: []string{"CMDHUB_SERVICES"},
			},
			&cli.StringFlag{
				Name:    "shell",
				Usage:   "Shell that interprets commands. Defaults to $SHELL, then /bin/sh.",
				EnvVars: []string{"CMDHUB_SHELL"},
			},
			&cli.StringFlag{
				Name:    "workdir",
				Usage:   "Working directory for commands.",
				EnvVars: []string{"CMDHUB_WORKDIR"},
			},
			&cli.StringFlag{
				Name:    "registry-bin",
				Usage:   "The pm2 binary.",
				Value:   defaults.RegistryBin,
				EnvVars: []string{"CMDHUB_REGISTRY_BIN"},
			},
			&cli.DurationFlag{
				Name:    "registry-timeout",
				Usage:   "Bound on each process list query.",
				Value:   defaults.RegistryTimeout,
				EnvVars: []string{"CMDHUB_REGISTRY_TIMEOUT"},
			},
			&cli.StringSliceFlag{
				Name:    "allowed-origin",
				Usage:   "Origins allowed to call the API and open the live channel.",
				Value:   cli.NewStringSlice(defaults.AllowedOrigins...),
				EnvVars: []string{"CMDHUB_ALLOWED_ORIGINS"},
			},
			&cli.BoolFlag{
				Name:    "no-host-stats",
				Usage:   "Leave host CPU and memory out of the dashboard.",
				EnvVars: []string{"CMDHUB_NO_HOST_STATS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			mode, err := config.ParseMode(ctx.String("mode"))
			if err != nil {
				return err
			}
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting working dir: %w", err)
			}

			cfg := config.Config{
				ListenAddr:      ctx.String("listen-addr"),
				Mode:            mode,
				Host:            ctx.String("host"),
				ProbeTimeout:    ctx.Duration("probe-timeout"),
				CatalogDriver:   config.CatalogDriver(ctx.String("catalog-driver")),
				CatalogPath:     config.ResolveDataFile(ctx.String("catalog"), wd),
				ServicesPath:    config.ResolveDataFile(ctx.String("services"), wd),
				Shell:           ctx.String("shell"),
				WorkDir:         ctx.String("workdir"),
				RegistryBin:     ctx.String("registry-bin"),
				RegistryTimeout: ctx.Duration("registry-timeout"),
				AllowedOrigins:  ctx.StringSlice("allowed-origin"),
			}

			lvl, err := parseLevel(ctx.String("log-level"))
			if err != nil {
				return err
			}
			base, err := newLogger(mode)
			if err != nil {
				return err
			}
			defer base.Sync()
			logger := base.WithOptions(zap.IncreaseLevel(lvl))

			h, err := hub.New(
				cfg,
				hub.WithLogger(base),
				hub.WithLogLevel(lvl),
				hub.WithHostStats(!ctx.Bool("no-host-stats")),
			)
			if err != nil {
				return fmt.Errorf("building hub: %w", err)
			}

			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-sigCtx.Done()
				logger.Info("shutting down")
				if err := h.Stop(); err != nil {
					logger.Sugar().Warnw("error stopping hub", "Error", err)
				}
			}()

			return h.Run()
		},
	}
}

func parseLevel(level string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return lvl, fmt.Errorf("parsing log level: %w", err)
	}
	return lvl, nil
}

// newLogger builds a logger that passes every level. Callers raise the level with zap.IncreaseLevel.
func newLogger(mode config.Mode) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if mode == config.Production {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

func newClient(ctx *cli.Context) (*hub.Client, error) {
	mode, err := config.ParseMode(ctx.String("mode"))
	if err != nil {
		return nil, err
	}
	lvl, err := parseLevel(ctx.String("log-level"))
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(mode)
	if err != nil {
		return nil, err
	}
	return hub.NewClient(logger.WithOptions(zap.IncreaseLevel(lvl)).Sugar(), ctx.String("server"))
}

func dashboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "print the dashboard snapshot",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the raw snapshot as JSON.",
			},
		},
		Action: func(ctx *cli.Context) error {
			client, err := newClient(ctx)
			if err != nil {
				return err
			}
			snap, err := client.Dashboard(ctx.Context, "")
			if err != nil {
				return err
			}
			if ctx.Bool("json") {
				enc := json.NewEncoder(ctx.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			return printSnapshot(ctx, snap)
		},
	}
}

func printSnapshot(ctx *cli.Context, snap *dashboard.Snapshot) error {
	w := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "COMMAND\tNAME\tCMD")
	for id, cmd := range snap.Commands {
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, cmd.Name, cmd.Cmd)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "PROCESS\tSTATUS\tCPU\tMEMORY\tRESTARTS\tUPTIME")
	for _, p := range snap.Processes {
		fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%dMB\t%d\t%s\n", p.Name, p.Status(), p.CPU(), p.Memory()/(1<<20), p.Restarts(), uptime(p))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "SERVICE\tPORT\tOPEN\tPROCESS\tURL")
	for _, s := range snap.Ports {
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%s\n", s.Name, s.Port, s.IsOpen, s.IsProcessLive, s.URL)
	}

	if snap.Host != nil {
		fmt.Fprintf(w, "\nHOST CPU %.1f%%, MEMORY %.1f%%\n", snap.Host.CPUPercent, snap.Host.MemPercent)
	}
	return w.Flush()
}

// uptime renders how long an online process has been up. pm2 reports the start time in epoch milliseconds.
func uptime(p registry.Process) string {
	if !p.Online() || p.Uptime() <= 0 {
		return "-"
	}
	return time.Since(time.UnixMilli(p.Uptime())).Round(time.Second).String()
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "save a command",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true},
			&cli.StringFlag{Name: "cmd", Required: true},
			&cli.StringFlag{Name: "desc"},
		},
		Action: func(ctx *cli.Context) error {
			client, err := newClient(ctx)
			if err != nil {
				return err
			}
			cid, err := client.AddCommand(ctx.Context, ctx.String("name"), ctx.String("cmd"), ctx.String("desc"))
			if err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, cid)
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete a saved command",
		ArgsUsage: "<cid>",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return cli.Exit("expected exactly one command id", 2)
			}
			client, err := newClient(ctx)
			if err != nil {
				return err
			}
			return client.DeleteCommand(ctx.Context, ctx.Args().First())
		},
	}
}

var syncFlag = &cli.BoolFlag{
	Name:  "sync",
	Usage: "Wait for the command over plain HTTP and print its output at the end, instead of streaming it.",
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run a saved command",
		ArgsUsage: "<cid>",
		Flags:     []cli.Flag{syncFlag},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return cli.Exit("expected exactly one command id", 2)
			}
			cid := ctx.Args().First()
			client, err := newClient(ctx)
			if err != nil {
				return err
			}

			if ctx.Bool("sync") {
				res, err := client.RunCommand(ctx.Context, cid)
				if err != nil {
					return err
				}
				fmt.Fprintf(ctx.App.Writer, "> %s\n%s", res.Message, res.Output)
				return nil
			}
			return follow(ctx, client, func(c context.Context, conn liveConn) (string, error) {
				return conn.RunLive(c, cid)
			})
		},
	}
}

func processCommand() *cli.Command {
	return &cli.Command{
		Name:      "pm2",
		Usage:     "run a lifecycle action on a pm2 process",
		ArgsUsage: "<start|stop|restart|reload|delete|reset> <name>",
		Flags:     []cli.Flag{syncFlag},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 2 {
				return cli.Exit("expected an action and a process name", 2)
			}
			action, name := ctx.Args().Get(0), ctx.Args().Get(1)
			client, err := newClient(ctx)
			if err != nil {
				return err
			}

			if ctx.Bool("sync") {
				out, err := client.ProcessAction(ctx.Context, action, name)
				if err != nil {
					return err
				}
				fmt.Fprint(ctx.App.Writer, out)
				return nil
			}
			return follow(ctx, client, func(c context.Context, conn liveConn) (string, error) {
				return conn.ProcessAction(c, name, action)
			})
		},
	}
}

type liveConn interface {
	RunLive(ctx context.Context, cid string) (string, error)
	ProcessAction(ctx context.Context, name, action string) (string, error)
}

// follow opens the live channel, sends one request and streams its output to stdout.
// The process exit code becomes the CLI exit code.
func follow(ctx *cli.Context, client *hub.Client, send func(context.Context, liveConn) (string, error)) error {
	conn, err := client.Live().Dial(ctx.Context)
	if err != nil {
		return err
	}
	defer conn.Close()

	id, err := send(ctx.Context, conn)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	code, err := conn.Follow(ctx.Context, id, ctx.App.Writer)
	if err != nil {
		return err
	}
	if code < 0 {
		code = 1
	}
	if code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"lanmedia/internal/config"
	"lanmedia/internal/httpserver"
	"lanmedia/internal/logbuf"
	"lanmedia/internal/logger"
	"lanmedia/internal/netinfo"
)

// flags are the command-line settings. Each one, when set, overrides the
// config file and the environment.
type flags struct {
	config   string
	root     string
	addr     string
	state    string
	logLevel string
}

func (f *flags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "path to config yaml (optional)")
	fs.StringVar(&f.root, "root", "", "media root directory (required unless set in config)")
	fs.StringVar(&f.addr, "addr", "", "listen address (default "+config.DefaultAddr+")")
	fs.StringVar(&f.state, "state", "", "state dir for upload staging and thumbs (default: <root>/"+config.DefaultStateDirName+")")
	fs.StringVar(&f.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
}

func (f *flags) apply(c *config.Config) {
	if f.root != "" {
		c.Root = f.root
	}
	if f.addr != "" {
		c.Addr = f.addr
	}
	if f.state != "" {
		c.StateDir = f.state
	}
	if f.logLevel != "" {
		c.Logging.Level = f.logLevel
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if len(os.Args) > 1 && os.Args[1] == "config" {
		if err := configCmd(os.Args[2:], os.Stdout); err != nil {
			log.Fatalf("config: %v", err)
		}
		return
	}

	var f flags
	f.register(flag.CommandLine)
	flag.Parse()

	cfg, err := config.Load(f.config, f.apply)
	if err != nil {
		log.Fatalf("%v", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("%v", err)
	}
	logs := logbuf.New(cfg.Logging.BufferSize)
	lg := logger.New(os.Stderr, level, logs)

	srv, err := httpserver.New(httpserver.Options{
		Config: *cfg,
		Log:    lg,
		Logs:   logs,
	})
	if err != nil {
		log.Fatalf("server init: %v", err)
	}
	root, err := srv.Root()
	if err != nil {
		log.Fatalf("media root: %v", err)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	lg.Info("lanmedia serving %s on %s", root, ln.Addr())
	banner(os.Stdout, cfg.Addr, lg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx, ln); err != nil {
		lg.Error("serve: %v", err)
		os.Exit(1)
	}
	lg.Info("stopped")
}

// configCmd prints the effective configuration, after file, environment and
// flags are merged, as YAML.
func configCmd(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	var f flags
	f.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(f.config, f.apply)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

// banner prints the URLs other devices can use, with a scannable QR code for
// the first one.
func banner(w io.Writer, addr string, lg *logger.Logger) {
	ips, err := netinfo.LANAddrs()
	if err != nil {
		lg.Warn("could not list network interfaces: %v", err)
	}
	urls, err := netinfo.URLs(addr, ips)
	if err != nil {
		lg.Warn("connection urls: %v", err)
		return
	}
	fmt.Fprintf(w, "\nOpen on another device:\n  %s\n", strings.Join(urls, "\n  "))
	qr, err := netinfo.QRTerminal(urls[0])
	if err != nil {
		lg.Warn("qr code: %v", err)
		return
	}
	fmt.Fprintln(w, qr)
}

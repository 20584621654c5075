//go:build linux

// webserver serves static files from a document root over HTTP/1.x.
//
//	webserver -bind :8888 -root ./doc
//	webserver -config webserver.xml -log /var/log/webserver.log
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/zenazn/goji/bind"

	"github.com/s00inx/webserver/server"
	"github.com/s00inx/webserver/server/config"
	"github.com/s00inx/webserver/server/engine"
	"github.com/s00inx/webserver/server/logging"
	"github.com/s00inx/webserver/server/protocol"
)

var (
	configPath = flag.String("config", "", "XML config file, defaults are used without it")
	root       = flag.String("root", "", "document root, overrides config")
	logFile    = flag.String("log", "", "log file with size based rotation, overrides config")
	logLevel   = flag.String("log-level", "", "debug, info, warn or error, overrides config")
	minWorkers = flag.Int("workers", 0, "initial worker count, overrides config")
)

func init() {
	bind.WithFlag()
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, sink, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer sink.Close()

	mime := protocol.NewMimeTypes()
	if cfg.MimeFile != "" {
		if err := mime.LoadFile(cfg.MimeFile); err != nil {
			log.Error("mime table", "err", err)
			os.Exit(1)
		}
	}

	srv, err := server.New(cfg, os.DirFS(cfg.Root), mime, log)
	if err != nil {
		log.Error("server init", "err", err)
		os.Exit(1)
	}

	if n, err := engine.RaiseFileLimit(); err != nil {
		log.Warn("file limit not raised", "err", err)
	} else {
		log.Debug("file limit", "nofile", n)
	}

	// writes to a peer that went away must come back as EPIPE
	signal.Ignore(syscall.SIGPIPE)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := listener(cfg.Addr)
	log.Info("listening", "addr", l.Addr().String())

	go func() {
		select {
		case <-srv.Ready():
			bind.Ready()
		case <-ctx.Done():
		}
	}()

	if err := srv.ServeListener(ctx, l); err != nil {
		log.Error("server failed", "err", err)
		sink.Close()
		os.Exit(1)
	}
}

// -bind wins when given, config addr otherwise
func listener(addr string) net.Listener {
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "bind" {
			explicit = true
		}
	})
	if explicit || addr == "" || bind.Sniff() != "" {
		return bind.Default()
	}
	return bind.Socket(addr)
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return cfg, err
		}
	}

	if *root != "" {
		cfg.Root = *root
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *minWorkers > 0 {
		cfg.Pool.MinWorkers = *minWorkers
		cfg.Pool.MaxWorkers = max(cfg.Pool.MaxWorkers, *minWorkers)
	}
	return cfg, cfg.Validate()
}

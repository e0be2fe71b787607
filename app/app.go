/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gobble-im/gobble/connection"
	"github.com/gobble-im/gobble/log"
	"github.com/gobble-im/gobble/media"
	"github.com/gobble-im/gobble/version"
	"github.com/pkg/errors"
)

const defaultShutDownWaitTime = time.Duration(5) * time.Second

var logoStr = []string{
	`                ___.  ___.   .__`,
	`   ____   ____  \_ |__\_ |__ |  |   ____`,
	`  / ___\ /  _ \  | __ \| __ \|  | _/ __ \`,
	` / /_/  >  <_> ) | \_\ \ \_\ \  |_\  ___/`,
	` \___  / \____/  |___  /___  /____/\___  >`,
	`/_____/              \/    \/          \/`,
}

const usageStr = `
Usage: gobble [options]

Options:
    -c, --config <file>    Configuration file path
    -h, --help             Show this message
    -v, --version          Show version
`

// Application encapsulates a gobble connection manager process.
type Application struct {
	output     io.Writer
	args       []string
	conn       *connection.Connection
	waitStopCh chan os.Signal
	doneCh     chan struct{}
}

// New returns a runnable application given an output and a command
// line arguments array.
func New(output io.Writer, args []string) *Application {
	return &Application{
		output:     output,
		args:       args,
		waitStopCh: make(chan os.Signal, 1),
		doneCh:     make(chan struct{}),
	}
}

// Run runs the gobble application until either a stop signal is
// received or the connection shuts down.
func (a *Application) Run() error {
	if len(a.args) == 0 {
		return errors.New("empty command-line arguments")
	}
	var configFile string
	var showVersion, showUsage bool

	fs := flag.NewFlagSet("gobble", flag.ExitOnError)
	fs.SetOutput(a.output)

	fs.BoolVar(&showUsage, "help", false, "Show this message")
	fs.BoolVar(&showUsage, "h", false, "Show this message")
	fs.BoolVar(&showVersion, "version", false, "Print version information.")
	fs.BoolVar(&showVersion, "v", false, "Print version information.")
	fs.StringVar(&configFile, "config", "/etc/gobble/gobble.yml", "Configuration file path.")
	fs.StringVar(&configFile, "c", "/etc/gobble/gobble.yml", "Configuration file path.")
	fs.Usage = func() {
		for i := range logoStr {
			_, _ = fmt.Fprintf(a.output, "%s\n", logoStr[i])
		}
		_, _ = fmt.Fprintf(a.output, "%s\n", usageStr)
	}
	_ = fs.Parse(a.args[1:])

	// print usage
	if showUsage {
		fs.Usage()
		return nil
	}
	// print version
	if showVersion {
		_, _ = fmt.Fprintf(a.output, "gobble version: %v\n", version.ApplicationVersion)
		return nil
	}
	// load configuration
	var cfg Config
	if err := cfg.FromFile(configFile); err != nil {
		return err
	}
	// create PID file
	if err := a.createPIDFile(cfg.PIDFile); err != nil {
		return err
	}
	// initialize logger
	log.Initialize(&cfg.Logger)

	a.printLogo()

	a.conn = connection.New(cfg.Connection, media.NopEngine{})
	a.conn.SetStatusChangedHandler(func(status connection.Status, reason connection.StatusReason) {
		log.Infof("%s: status changed to %s (%d)", cfg.Connection.Account, status, reason)
	})
	a.conn.SetDisconnectedHandler(func() { close(a.doneCh) })
	a.conn.Connect()

	// ...wait for stop signal or connection shutdown
	signal.Notify(a.waitStopCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-a.waitStopCh:
		log.Infof("received %s signal... shutting down...", sig.String())
	case <-a.doneCh:
		log.Infof("connection shut down")
		return nil
	}
	return a.gracefullyShutdown()
}

func (a *Application) createPIDFile(pidFile string) error {
	if len(pidFile) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(pidFile), os.ModePerm); err != nil {
		return err
	}
	file, err := os.Create(pidFile)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	currentPid := os.Getpid()
	if _, err := file.WriteString(strconv.FormatInt(int64(currentPid), 10)); err != nil {
		return err
	}
	return nil
}

func (a *Application) printLogo() {
	for i := range logoStr {
		log.Infof("%s", logoStr[i])
	}
	log.Infof("")
	log.Infof("gobble %v\n", version.ApplicationVersion)
}

func (a *Application) gracefullyShutdown() error {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(defaultShutDownWaitTime))
	defer cancel()

	a.conn.Disconnect()
	select {
	case <-a.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

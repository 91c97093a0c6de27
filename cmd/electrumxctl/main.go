// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/electrumx/electrumx"
	eclog "github.com/btcsuite/electrumx/internal/log"
	"github.com/btcsuite/electrumx/internal/version"
	"github.com/btcsuite/electrumx/rpcclient"
	"github.com/btcsuite/electrumx/session"
	"github.com/btcsuite/electrumx/transport"
	flags "github.com/jessevdk/go-flags"
)

const (
	showHelpMessage = "Specify -h to show available options"
	listCmdMessage  = "Specify -l to list available commands"
)

var log = eclog.CtlLog

// usage displays the general usage when the help flag is not displayed and
// and an invalid command was specified.
func usage(errorMessage string) {
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	fmt.Fprintln(os.Stderr, errorMessage)
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintf(os.Stderr, "  %s [OPTIONS] <command> <args...>\n\n",
		appName)
	fmt.Fprintln(os.Stderr, showHelpMessage)
	fmt.Fprintln(os.Stderr, listCmdMessage)
}

// listCommands prints the usage of every command.
func listCommands(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\n", c.usage)
	}
}

// readArgs returns args with every "-" replaced by the next line read from
// r.  Raw transactions can be too large for a normal command line
// parameter.
func readArgs(args []string, r io.Reader) ([]string, error) {
	bio := bufio.NewReader(r)
	params := make([]string, 0, len(args))
	for _, arg := range args {
		if arg != "-" {
			params = append(params, arg)
			continue
		}

		param, err := bio.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read data from stdin: %w", err)
		}
		if err == io.EOF && len(param) == 0 {
			return nil, errors.New("not enough lines provided on stdin")
		}
		params = append(params, strings.TrimRight(param, "\r\n"))
	}
	return params, nil
}

// printResult writes result to w.  Strings are written as is and anything
// else as JSON, indented when indent is set.
func printResult(w io.Writer, result interface{}, indent bool) error {
	switch r := result.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(w, r)
		return err
	}

	var b []byte
	var err error
	if indent {
		b, err = json.MarshalIndent(result, "", "  ")
	} else {
		b, err = json.Marshal(result)
	}
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// newEnv builds the environment for c.  A nil dialer uses the network.  The
// returned cleanup function must be called once the command is done.
func newEnv(ctx context.Context, cfg *config, c *command,
	dialer transport.Dialer, out io.Writer) (*env, func(), error) {

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	e := &env{cfg: cfg, chain: cfg.chain(), out: out}
	if !c.needsSession {
		return e, cleanup, nil
	}

	var observer rpcclient.Observer
	if cfg.MetricsListen != "" {
		e.metrics = newMetrics()
		observer = e.metrics

		srv := e.metrics.server(cfg.MetricsListen)
		go func() {
			log.Infof("Metrics server listening on %s", cfg.MetricsListen)
			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
		cleanups = append(cleanups, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		})
	}

	store, err := cfg.openCache()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if store != nil {
		e.store = store
		cleanups = append(cleanups, func() {
			if err := store.Close(); err != nil {
				log.Warnf("Unable to close cache: %v", err)
			}
		})
	}

	eps, err := cfg.endpoints()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	e.sess = session.New(session.Config{
		Endpoint:     eps[0],
		Fallbacks:    eps[1:],
		Dialer:       dialer,
		ClientName:   version.ClientName(""),
		ServerPrefix: cfg.ServerPrefix,
		Timeout:      cfg.Timeout,
		StrictIDs:    !cfg.LaxIDs,
		Observer:     observer,
	})
	cleanups = append(cleanups, e.sess.Disconnect)

	e.client = electrumx.New(e.sess, electrumx.Config{
		Chain: e.chain,
		Asset: cfg.Asset,
		Cache: e.store,
	})

	if err := e.sess.Ensure(ctx, session.DefaultRetryPolicy); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("unable to reach %v: %w", cfg.Servers, err)
	}
	return e, cleanup, nil
}

// runCommand runs the command named by args[0] and prints its result to
// out.
func runCommand(ctx context.Context, cfg *config, args []string,
	stdin io.Reader, out io.Writer, dialer transport.Dialer) error {

	c := lookupCommand(args[0])
	if c == nil {
		return fmt.Errorf("unrecognized command '%s'", args[0])
	}
	params, err := readArgs(args[1:], stdin)
	if err != nil {
		return err
	}
	if err := c.checkArgs(params); err != nil {
		return err
	}

	e, cleanup, err := newEnv(ctx, cfg, c, dialer, out)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := c.run(ctx, e, params)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return printResult(out, result, true)
}

func electrumxctlMain() int {
	cfg, args, err := loadConfig(os.Args[1:])
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, showHelpMessage)
		return 1
	}

	switch {
	case cfg.ShowVersion:
		fmt.Println(filepath.Base(os.Args[0]), "version", version.String())
		return 0
	case cfg.ListCommands:
		listCommands(os.Stdout)
		return 0
	case cfg.DebugLevel == "show":
		fmt.Println("Supported subsystems", eclog.SupportedSubsystems())
		return 0
	}

	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if cfg.LogFile != "" {
		if err := eclog.InitLogRotator(cfg.LogFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer eclog.CloseLogRotator()
	}

	if len(args) < 1 {
		usage("No command specified")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runCommand(ctx, cfg, args, os.Stdin, os.Stdout, nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, listCmdMessage)
		}
		return 1
	}
	return 0
}

func main() {
	os.Exit(electrumxctlMain())
}

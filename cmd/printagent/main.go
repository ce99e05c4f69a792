// printagent polls the order service for print work, stamps each copy of
// an ordered document with its verification code and hands it to CUPS.
//
// Usage:
//
//	printagent [flags] [run]           start the dispatch loop (default)
//	printagent [flags] serial          print the derived device serial
//	printagent [flags] options         list the printer's driver options
//	printagent hash-password [secret]  bcrypt a status API password
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/orrn/printagent/internal/api/middleware"
	"github.com/orrn/printagent/internal/config"
	"github.com/orrn/printagent/internal/core"
	"github.com/orrn/printagent/internal/device"
	applog "github.com/orrn/printagent/internal/log"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		printer    string
		logLevel   string
		showVer    bool
	)

	flagSet := pflag.NewFlagSet("printagent", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	flagSet.StringVarP(&printer, "printer", "p", "", "print queue name (overrides printer.name)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.BoolVar(&showVer, "version", false, "print the version and exit")
	flagSet.Usage = func() { printHelp(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVer {
		fmt.Println(version)
		return nil
	}

	command := "run"
	rest := flagSet.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	if command == "hash-password" {
		return hashPassword(rest)
	}
	if len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if printer != "" {
		cfg.Printer.Name = printer
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	applog.Reconfigure(applog.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Version: version,
	})

	switch command {
	case "run":
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return runAgent(cfg)
	case "serial":
		serial, err := device.Serial(&cfg.Device)
		if err != nil {
			return err
		}
		fmt.Println(serial)
		return nil
	case "options":
		return listOptions(cfg)
	default:
		printHelp(flagSet)
		return fmt.Errorf("unknown command %q", command)
	}
}

func listOptions(cfg *config.Config) error {
	if cfg.Printer.Name == "" {
		return errors.New("printer name is required (set printer.name or --printer)")
	}

	pm := core.NewPrinterManager(&cfg.Printer)
	options, err := pm.Options(context.Background(), cfg.Printer.Name)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(options)
}

func hashPassword(args []string) error {
	var password string
	switch len(args) {
	case 0:
		fmt.Fprint(os.Stderr, "password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	case 1:
		password = args[0]
	default:
		return fmt.Errorf("unexpected argument: %s", args[1])
	}

	hash, err := middleware.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `printagent polls the order service and prints stamped documents.

Usage:
  printagent [flags] [command]

Commands:
  run             start the dispatch loop (default)
  serial          print the device serial used as the login identity
  options         list the configured printer's driver options as JSON
  hash-password   print a bcrypt hash for server.password_hash

Flags:
%s`, flagSet.FlagUsages())
}

package core

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/orrn/printagent/internal/config"
	applog "github.com/orrn/printagent/internal/log"
)

const (
	defaultPrintCommand   = "lp"
	defaultOptionsCommand = "lpoptions"
	defaultPrintTimeout   = 60 * time.Second
)

var (
	jobIDPattern  = regexp.MustCompile(`(?i)request id is (\S+?-\d+)`)
	optionPattern = regexp.MustCompile(`^([^/:\s][^/:]*)/([^:]*):\s*(.*)$`)
)

// PrinterManager submits documents to the print subsystem through its
// command-line tools.
type PrinterManager struct {
	command        string
	optionsCommand string
	timeout        time.Duration
	remove         func(string) error
	logger         zerolog.Logger
}

func NewPrinterManager(cfg *config.PrinterConfig) *PrinterManager {
	pm := &PrinterManager{
		command:        defaultPrintCommand,
		optionsCommand: defaultOptionsCommand,
		timeout:        defaultPrintTimeout,
		remove:         os.Remove,
		logger:         applog.WithComponent("printer"),
	}
	if cfg != nil {
		if cfg.Command != "" {
			pm.command = cfg.Command
		}
		if cfg.OptionsCommand != "" {
			pm.optionsCommand = cfg.OptionsCommand
		}
		if cfg.Timeout > 0 {
			pm.timeout = cfg.Timeout
		}
	}
	return pm
}

// Submit prints path on printer and returns the subsystem job id. path is
// always removed before Submit returns, whatever the outcome.
func (pm *PrinterManager) Submit(ctx context.Context, path, printer string, options []string) (jobID string, err error) {
	defer func() {
		if rmErr := pm.remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			pm.logger.Warn().Err(rmErr).Str(applog.FieldPath, path).Msg("failed to remove printed file")
		}
	}()

	args := make([]string, 0, len(options)+3)
	args = append(args, "-d", printer)
	args = append(args, options...)
	args = append(args, path)

	stdout, err := pm.run(ctx, pm.command, args)
	if err != nil {
		return "", NewError(ErrPrint, "submit to "+printer, err)
	}

	jobID = ParseJobID(stdout)
	pm.logger.Info().
		Str(applog.FieldPrinter, printer).
		Str(applog.FieldJobID, jobID).
		Msg("document submitted")
	return jobID, nil
}

// Options lists the printer's configurable options with their defaults.
func (pm *PrinterManager) Options(ctx context.Context, printer string) ([]PrinterOption, error) {
	stdout, err := pm.run(ctx, pm.optionsCommand, []string{"-p", printer, "-l"})
	if err != nil {
		return nil, fmt.Errorf("list options for %s: %w", printer, err)
	}
	return ParseOptions(stdout), nil
}

func (pm *PrinterManager) run(ctx context.Context, command string, args []string) (string, error) {
	binary, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("command %q not found: %w", command, err)
	}

	ctx, cancel := context.WithTimeout(ctx, pm.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	pm.logger.Debug().Str("binary", binary).Strs("args", args).Msg("executing print command")

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s timed out after %v: %w", command, pm.timeout, err)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s failed: %s: %w", command, msg, err)
		}
		return "", fmt.Errorf("%s failed: %w", command, err)
	}
	return stdout.String(), nil
}

// ParseJobID extracts the id from "request id is <id>" output. Output that
// does not match is returned trimmed as the id.
func ParseJobID(output string) string {
	if m := jobIDPattern.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	return strings.TrimSpace(output)
}

// ParseOptions parses "Key/Description: *Default A B" lines. Lines that do
// not match are skipped.
func ParseOptions(output string) []PrinterOption {
	var opts []PrinterOption
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		m := optionPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		opt := PrinterOption{
			Key:         strings.TrimSpace(m[1]),
			Description: strings.TrimSpace(m[2]),
			Choices:     []string{},
		}
		for _, choice := range strings.Fields(m[3]) {
			if strings.HasPrefix(choice, "*") {
				choice = strings.TrimPrefix(choice, "*")
				opt.Default = choice
			}
			opt.Choices = append(opt.Choices, choice)
		}
		opts = append(opts, opt)
	}
	return opts
}

package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orrn/printagent/internal/config"
	applog "github.com/orrn/printagent/internal/log"
	"github.com/orrn/printagent/internal/metrics"
)

const (
	defaultIdleInterval  = 15 * time.Second
	defaultNotifyTimeout = 30 * time.Second
	defaultMaxCopies     = 100
)

// RemoteService is the dispatcher's view of the remote print-management
// service.
type RemoteService interface {
	Authenticate(ctx context.Context) error
	NextWork(ctx context.Context) (*WorkUnit, error)
	Notify(ctx context.Context, orderID string, action Action) error
}

type DocumentFetcher interface {
	Fetch(ctx context.Context, productID string, cover bool) (*FetchedDocument, error)
}

// MarkPlacer writes a marked copy of docPath and returns its path. The input
// document is never modified and the caller owns the returned file.
type MarkPlacer interface {
	Stamp(ctx context.Context, docPath, mark string) (string, error)
}

// PrintSubmitter prints path and removes it afterwards.
type PrintSubmitter interface {
	Submit(ctx context.Context, path, printer string, options []string) (string, error)
}

// Journal records dispatch history. Failures are logged by the caller and
// never interrupt printing.
type Journal interface {
	StartRun(ctx context.Context, run *Run) (int64, error)
	FinishRun(ctx context.Context, id int64, status RunStatus, errMsg string) error
	RecordSubmission(ctx context.Context, s *Submission) error
}

type Deps struct {
	Remote  RemoteService
	Fetcher DocumentFetcher
	Marker  MarkPlacer
	Printer PrintSubmitter
	Journal Journal

	// Optional overrides.
	Remove func(string) error
	Sleep  func(context.Context, time.Duration) error
	Now    func() time.Time
}

// Dispatcher polls for work and executes one work unit at a time.
type Dispatcher struct {
	remote  RemoteService
	fetcher DocumentFetcher
	marker  MarkPlacer
	printer PrintSubmitter
	journal Journal

	printerName   string
	options       []string
	scratchDir    string
	idleInterval  time.Duration
	notifyTimeout time.Duration
	maxCopies     int

	remove func(string) error
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
	logger zerolog.Logger
}

func NewDispatcher(deps Deps, printerCfg *config.PrinterConfig, dispatchCfg *config.DispatchConfig) *Dispatcher {
	d := &Dispatcher{
		remote:        deps.Remote,
		fetcher:       deps.Fetcher,
		marker:        deps.Marker,
		printer:       deps.Printer,
		journal:       deps.Journal,
		idleInterval:  defaultIdleInterval,
		notifyTimeout: defaultNotifyTimeout,
		maxCopies:     defaultMaxCopies,
		scratchDir:    os.TempDir(),
		remove:        os.Remove,
		sleep:         sleepContext,
		now:           time.Now,
		logger:        applog.WithComponent("dispatcher"),
	}
	if printerCfg != nil {
		d.printerName = printerCfg.Name
		d.options = append([]string(nil), printerCfg.Options...)
	}
	if dispatchCfg != nil {
		if dispatchCfg.IdleInterval > 0 {
			d.idleInterval = dispatchCfg.IdleInterval
		}
		if dispatchCfg.ScratchDir != "" {
			d.scratchDir = dispatchCfg.ScratchDir
		}
		if dispatchCfg.MaxCopies > 0 {
			d.maxCopies = dispatchCfg.MaxCopies
		}
	}
	if deps.Remove != nil {
		d.remove = deps.Remove
	}
	if deps.Sleep != nil {
		d.sleep = deps.Sleep
	}
	if deps.Now != nil {
		d.now = deps.Now
	}
	return d
}

// Run polls until ctx is cancelled. After a cycle that performed work the
// next poll is immediate; idle and failed cycles wait the idle interval.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().
		Str(applog.FieldPrinter, d.printerName).
		Dur("idle_interval", d.idleInterval).
		Msg("dispatcher started")

	for {
		if ctx.Err() != nil {
			d.logger.Info().Msg("dispatcher stopped")
			return nil
		}

		worked, err := d.RunCycle(ctx)
		if err != nil && ctx.Err() == nil {
			d.logger.Error().Err(err).Msg("dispatch cycle failed")
		}
		if worked && err == nil {
			continue
		}

		if err := d.sleep(ctx, d.idleInterval); err != nil {
			d.logger.Info().Msg("dispatcher stopped")
			return nil
		}
	}
}

// RunCycle performs one poll and executes whatever work it returned.
// Failures inside a work unit are reported and logged here; only login, poll
// and unexpected panics are returned.
func (d *Dispatcher) RunCycle(ctx context.Context) (worked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordPoll("panic")
			err = fmt.Errorf("dispatch cycle panic: %v", r)
		}
	}()

	if err := d.remote.Authenticate(ctx); err != nil {
		metrics.RecordPoll("error")
		return false, err
	}

	unit, err := d.remote.NextWork(ctx)
	if err != nil {
		metrics.RecordPoll("error")
		return false, fmt.Errorf("poll next work: %w", err)
	}
	if unit.Empty() {
		metrics.RecordPoll("idle")
		d.logger.Debug().Msg("no work available")
		return false, nil
	}
	metrics.RecordPoll("work")

	if unit.Command != nil {
		if err := d.runCommand(ctx, unit.Command); err != nil {
			d.logger.Error().Err(err).Str("command_id", unit.Command.ID).Msg("inline command failed")
		}
	}
	if unit.Order != nil {
		if err := d.runOrder(ctx, unit.Order); err != nil {
			d.logger.Error().Err(err).
				Str(applog.FieldOrderID, unit.Order.ID).
				Str(applog.FieldProductID, unit.Order.ProductID).
				Msg("order failed")
		}
	}
	return true, nil
}

func (d *Dispatcher) runCommand(ctx context.Context, cmd *InlineCommand) (err error) {
	runID := d.startRun(ctx, &Run{Kind: RunKindCommand, OrderID: cmd.ID, Copies: 1})
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inline command panic: %v", r)
		}
		d.finishRun(ctx, runID, RunKindCommand, err)
	}()

	data, encoding, err := DecodePayload(cmd.Data)
	if err != nil {
		return err
	}

	path, err := d.materialize(cmd.Filename, data)
	if err != nil {
		return err
	}
	defer d.cleanup(path)

	d.logger.Info().
		Str(applog.FieldPath, path).
		Str("encoding", string(encoding)).
		Int("bytes", len(data)).
		Msg("printing inline command")

	jobID, err := d.printer.Submit(ctx, path, d.printerName, d.options)
	d.recordSubmission(ctx, runID, 0, "", jobID, err)
	return err
}

func (d *Dispatcher) runOrder(ctx context.Context, order *RemoteOrder) (err error) {
	logger := d.logger.With().
		Str(applog.FieldOrderID, order.ID).
		Str(applog.FieldProductID, order.ProductID).
		Logger()

	runID := d.startRun(ctx, &Run{
		Kind:      RunKindOrder,
		OrderID:   order.ID,
		ProductID: order.ProductID,
		Copies:    CopyCount(order),
	})
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("order panic: %v", r)
		}
		if err != nil {
			d.notify(ctx, order.ID, ActionDownloadError)
		}
		d.finishRun(ctx, runID, RunKindOrder, err)
	}()

	marks, err := PlanMarks(order, d.maxCopies)
	if err != nil {
		return err
	}

	d.notify(ctx, order.ID, ActionDownloadStart)

	doc, err := d.fetcher.Fetch(ctx, order.ProductID, order.HasCover)
	if err != nil {
		return err
	}
	defer d.cleanup(doc.Path)

	logger.Info().Int("copies", len(marks)).Str("filename", doc.Filename).Msg("document fetched")

	for i, mark := range marks {
		jobID, err := d.printCopy(ctx, doc, mark)
		d.recordSubmission(ctx, runID, i, mark, jobID, err)
		if err != nil {
			return fmt.Errorf("copy %d of %d: %w", i+1, len(marks), err)
		}
		logger.Info().
			Int(applog.FieldCopy, i+1).
			Str(applog.FieldSerial, mark).
			Str(applog.FieldJobID, jobID).
			Msg("copy printed")
	}

	d.notify(ctx, order.ID, ActionDownloadEnd)
	d.notify(ctx, order.ID, ActionPrintEnd)
	return nil
}

func (d *Dispatcher) printCopy(ctx context.Context, doc *FetchedDocument, mark string) (string, error) {
	stamped, err := d.marker.Stamp(ctx, doc.Path, mark)
	if err != nil {
		if errors.Is(err, ErrMark) {
			return "", err
		}
		return "", NewError(ErrMark, "stamp "+doc.Filename, err)
	}
	return d.printer.Submit(ctx, stamped, d.printerName, d.options)
}

// materialize writes an inline payload to a fresh scratch file.
func (d *Dispatcher) materialize(filename string, data []byte) (string, error) {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		name = fmt.Sprintf("command-%d.pdf", d.now().UnixMilli())
	}

	if err := os.MkdirAll(d.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	path := filepath.Join(d.scratchDir, uuid.NewString()+"-"+name)
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write inline payload: %w", err)
	}
	return path, nil
}

// notify delivers a state notification on a best-effort basis. Failures are
// logged and swallowed. Delivery is detached from ctx so that an error
// notification still goes out during shutdown.
func (d *Dispatcher) notify(ctx context.Context, orderID string, action Action) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.notifyTimeout)
	defer cancel()

	if err := d.remote.Notify(ctx, orderID, action); err != nil {
		metrics.RecordNotification(string(action), false)
		d.logger.Warn().Err(err).
			Str(applog.FieldOrderID, orderID).
			Str(applog.FieldAction, string(action)).
			Msg("state notification failed")
		return
	}
	metrics.RecordNotification(string(action), true)
}

func (d *Dispatcher) cleanup(path string) {
	if err := d.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn().Err(err).Str(applog.FieldPath, path).Msg("failed to remove scratch file")
	}
}

func (d *Dispatcher) startRun(ctx context.Context, run *Run) int64 {
	if d.journal == nil {
		return 0
	}
	run.Status = RunStatusProcessing
	run.StartedAt = d.now()
	id, err := d.journal.StartRun(context.WithoutCancel(ctx), run)
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to journal run start")
		return 0
	}
	return id
}

func (d *Dispatcher) finishRun(ctx context.Context, id int64, kind RunKind, runErr error) {
	status := RunStatusCompleted
	var msg string
	if runErr != nil {
		status = RunStatusFailed
		msg = runErr.Error()
	}
	metrics.RecordWorkUnit(string(kind), string(status))

	if d.journal == nil || id == 0 {
		return
	}
	if err := d.journal.FinishRun(context.WithoutCancel(ctx), id, status, msg); err != nil {
		d.logger.Warn().Err(err).Int64("run_id", id).Msg("failed to journal run result")
	}
}

func (d *Dispatcher) recordSubmission(ctx context.Context, runID int64, index int, serial, jobID string, printErr error) {
	status := SubmissionPrinted
	var msg string
	if printErr != nil {
		status = SubmissionFailed
		msg = printErr.Error()
	}
	metrics.RecordCopy(string(status))

	if d.journal == nil || runID == 0 {
		return
	}
	err := d.journal.RecordSubmission(context.WithoutCancel(ctx), &Submission{
		RunID:     runID,
		CopyIndex: index,
		Serial:    serial,
		Printer:   d.printerName,
		JobID:     jobID,
		Status:    status,
		Error:     msg,
		CreatedAt: d.now(),
	})
	if err != nil {
		d.logger.Warn().Err(err).Int64("run_id", runID).Msg("failed to journal submission")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

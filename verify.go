package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"capcheck/config"
	"capcheck/device"
	"capcheck/logger"
	"capcheck/probe"
	"capcheck/retrodfrg"
)

// Synthetic devices larger than this get a sparse temp image instead of RAM.
const fakeRAMLimit = 256 << 20

type verifyOptions struct {
	target    string
	blockSize string
	seed      uint64
	yes       bool
	ui        string
	logLevel  string
	logFormat string

	emulate         string
	emulateReal     string
	emulateImage    string
	emulateBadBlock int64
}

// streams is the process I/O a run talks to.
type streams struct {
	in          io.Reader
	out, errOut io.Writer
	interactive bool
	tty         bool // stdout is a terminal
}

func newVerifyCmd(cfg config.Config) *cobra.Command {
	o := verifyOptions{
		blockSize:       cfg.BlockSize.String(),
		seed:            cfg.Seed,
		ui:              cfg.UI,
		logLevel:        cfg.LogLevel,
		logFormat:       cfg.LogFormat,
		emulateBadBlock: -1,
	}

	cmd := &cobra.Command{
		Use:   "verify <device>",
		Short: "Write the whole device, read it back and report its real capacity (DESTROYS DATA)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				o.target = args[0]
			}
			if o.target == "" && o.emulate == "" {
				return fmt.Errorf("a device path is required (or use --emulate)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			code, err := runVerify(ctx, o, streams{
				in:          os.Stdin,
				out:         os.Stdout,
				errOut:      os.Stderr,
				interactive: stdinIsTerminal(),
				tty:         term.IsTerminal(int(os.Stdout.Fd())),
			})
			if err != nil {
				return err
			}
			if code != exitOK {
				return exitError{code: code}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.blockSize, "block-size", o.blockSize, "block size, a multiple of 512 (e.g. 1MiB, 64KiB)")
	f.Uint64Var(&o.seed, "seed", o.seed, "pattern seed (0 derives one from the run ID)")
	f.BoolVarP(&o.yes, "yes", "y", false, "do not ask for confirmation before writing")
	f.StringVar(&o.ui, "ui", o.ui, "progress display: auto, tui or plain")
	f.StringVar(&o.logLevel, "log-level", o.logLevel, "log level: debug, info, warn or error")
	f.StringVar(&o.logFormat, "log-format", o.logFormat, "log format: console or json")
	f.StringVar(&o.emulate, "emulate", "", "run against a synthetic device advertising this size instead of a real one")
	f.StringVar(&o.emulateReal, "emulate-real", "", "real capacity of the synthetic device; writes beyond it wrap around")
	f.StringVar(&o.emulateImage, "emulate-image", "", "back the synthetic device with this image file (created if missing; an existing one must match the real size)")
	f.Int64Var(&o.emulateBadBlock, "emulate-bad-block", -1, "block index whose reads fail on the synthetic device")
	return cmd
}

// seedFor picks the pattern seed: the explicit one, or the first eight bytes
// of the run ID.
func seedFor(explicit uint64, runID uuid.UUID) uint64 {
	if explicit != 0 {
		return explicit
	}
	return binary.LittleEndian.Uint64(runID[:8])
}

// target is what a run writes to.
type target struct {
	name   string
	opener probe.Opener
	size   int64 // advertised bytes, 0 when unknown
	close  func() error
}

func openFake(o verifyOptions, blockSize int64, log *zap.Logger) (*target, error) {
	adv, err := config.ParseByteSize(o.emulate)
	if err != nil {
		return nil, fmt.Errorf("--emulate: %w", err)
	}
	fc := device.FakeConfig{
		Advertised: int64(adv),
		BlockSize:  blockSize,
		ImagePath:  o.emulateImage,
	}
	if o.emulateReal != "" {
		phys, err := config.ParseByteSize(o.emulateReal)
		if err != nil {
			return nil, fmt.Errorf("--emulate-real: %w", err)
		}
		fc.Physical = int64(phys)
	}
	if o.emulateBadBlock >= 0 {
		fc.BadBlocks = []int64{o.emulateBadBlock}
	}

	var tmp string
	phys := fc.Physical
	if phys <= 0 || phys > fc.Advertised {
		phys = fc.Advertised
	}
	if fc.ImagePath == "" && phys > fakeRAMLimit {
		f, err := os.CreateTemp("", "capcheck-*.img")
		if err != nil {
			return nil, fmt.Errorf("create emulation image: %w", err)
		}
		_ = f.Close()
		tmp = f.Name()
		fc.ImagePath = tmp
		log.Debug("using temporary emulation image", zap.String("path", tmp))
	}

	fake, err := device.NewFake(fc)
	if err != nil {
		if tmp != "" {
			_ = os.Remove(tmp)
		}
		return nil, err
	}

	name := "emulated " + humanize.IBytes(uint64(fc.Advertised))
	if fc.Physical > 0 && fc.Physical < fc.Advertised {
		name += " (" + humanize.IBytes(uint64(fc.Physical)) + " real)"
	}
	return &target{
		name:   name,
		opener: fake,
		size:   fc.Advertised,
		close: func() error {
			err := fake.Close()
			if tmp != "" {
				err = errors.Join(err, os.Remove(tmp))
			}
			return err
		},
	}, nil
}

func openDevice(o verifyOptions, st streams, log *zap.Logger) (*target, error) {
	if err := device.CheckDevice(o.target); err != nil {
		if errors.Is(err, device.ErrNotDevice) {
			return nil, fmt.Errorf("%w; capcheck only writes to raw devices (try --emulate to test on a synthetic one)", err)
		}
		return nil, err
	}
	if err := device.CheckUnmounted(o.target); err != nil {
		return nil, err
	}

	info := device.Info{Path: o.target}
	device.Describe(&info)
	desc := o.target
	if info.Size > 0 {
		desc += " (" + humanize.IBytes(uint64(info.Size))
		if info.Model != "" {
			desc += ", " + info.Model
		}
		desc += ")"
	}
	if err := confirmDestructive(st, desc, o.yes); err != nil {
		return nil, err
	}

	size := info.Size
	if size < 0 {
		size = 0
	}
	return &target{
		name:   o.target,
		opener: device.File{Path: o.target, Log: log},
		size:   size,
		close:  func() error { return nil },
	}, nil
}

// runVerify performs one complete run and returns the process exit code.
// A non-nil error means the run could not be carried out.
func runVerify(ctx context.Context, o verifyOptions, st streams) (int, error) {
	bs, err := config.ParseByteSize(o.blockSize)
	if err != nil {
		return exitRunError, fmt.Errorf("--block-size: %w", err)
	}
	useTUI := false
	switch o.ui {
	case "tui":
		useTUI = true
	case "auto":
		useTUI = st.tty
	case "plain":
	default:
		return exitRunError, fmt.Errorf("--ui: unknown mode %q", o.ui)
	}

	runID := uuid.New()
	cfg := probe.Config{BlockSize: int(bs), Seed: seedFor(o.seed, runID)}
	if err := cfg.Validate(); err != nil {
		return exitRunError, err
	}

	// The TUI owns the terminal; hold log output until it is gone.
	var held bytes.Buffer
	logOut := st.errOut
	if useTUI {
		logOut = &held
	}
	log, err := logger.NewLogger(logger.LoggerConfig{
		Level:  o.logLevel,
		Format: o.logFormat,
		RunID:  runID.String(),
		Output: logOut,
	})
	if err != nil {
		return exitRunError, err
	}
	defer func() {
		_ = log.Sync()
		if held.Len() > 0 {
			_, _ = st.errOut.Write(held.Bytes())
		}
	}()

	var tgt *target
	if o.emulate != "" {
		tgt, err = openFake(o, int64(bs), log)
	} else {
		tgt, err = openDevice(o, st, log)
	}
	if err != nil {
		return exitRunError, err
	}
	defer func() {
		if err := tgt.close(); err != nil {
			log.Warn("releasing target", zap.Error(err))
		}
	}()

	cfg.Logger = log
	log.Info("starting run",
		zap.String("target", tgt.name),
		zap.String("advertised", humanize.IBytes(uint64(tgt.size))),
	)

	var s *probe.Summary
	if useTUI {
		s, err = runWithTUI(ctx, tgt, cfg)
	} else {
		s, err = probe.Run(ctx, tgt.opener, cfg, newBarSink(st.errOut, int64(bs), tgt.size))
	}
	if s != nil {
		printSummary(st.out, tgt.name, runID.String(), s)
	}
	if err != nil {
		if errors.Is(err, probe.ErrAccessDenied) {
			err = fmt.Errorf("%w (rerun with sufficient privileges, e.g. as root or Administrator)", err)
		}
		return exitRunError, err
	}
	log.Info("run finished", zap.Stringer("verdict", s.Verdict))
	return exitCodeFor(s), nil
}

func runWithTUI(ctx context.Context, tgt *target, cfg probe.Config) (*probe.Summary, error) {
	ui, err := retrodfrg.NewUI()
	if err != nil {
		return nil, fmt.Errorf("ui init: %w", err)
	}
	defer ui.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ui.Stopped():
			cancel()
		case <-ctx.Done():
		}
	}()

	bs := int64(cfg.BlockSize)
	sink := &tuiSink{blocks: retrodfrg.NewBlockMap(tgt.size / bs)}
	rep := probe.NewReporter(sink)

	ui.SetTitle(" CAPCHECK ")
	ui.SetSummaryLines([]string{
		fmt.Sprintf("Device: %s   Block: %s   Seed: %d", tgt.name, humanize.IBytes(uint64(bs)), cfg.Seed),
	})
	ui.SetLegend([]string{"Legend:  " + retrodfrg.Legend() + " | Q to stop"})
	ui.SetPhases([]string{"Write", "Verify"})

	type result struct {
		s   *probe.Summary
		err error
	}
	done := make(chan result, 1)
	started := time.Now()
	go func() {
		s, err := probe.Run(ctx, tgt.opener, cfg, rep)
		done <- result{s, err}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			drawTUI(ui, sink, rep, bs, started)
			if r.err == nil {
				_ = retrodfrg.WaitWithStop(ui, 3*time.Second)
			}
			return r.s, r.err
		case <-ticker.C:
			drawTUI(ui, sink, rep, bs, started)
		}
	}
}

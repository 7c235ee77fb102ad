// Moneta - usermode memory inspector
//
// Reconstructs a target process's virtual address space, classifies each
// allocation by origin, correlates image memory with its on-disk file and
// flags configurations indicative of code injection, hollowing or unbacked
// execution.
//
// Usage:
//
//	moneta -p 1234 -m suspicious
//	moneta -p 1234 -m block -a 0x7ff654320000 -from-base -d
//	moneta -p 0 -m suspicious            (sweep every accessible process)
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/f0829/moneta/pkg/config"
	"github.com/f0829/moneta/pkg/errors"
	"github.com/f0829/moneta/pkg/logging"
	"github.com/f0829/moneta/pkg/memdump"
	"github.com/f0829/moneta/pkg/memory"
	"github.com/f0829/moneta/pkg/metrics"
	"github.com/f0829/moneta/pkg/process"
	"github.com/f0829/moneta/pkg/render"
	"github.com/f0829/moneta/pkg/report"
	"github.com/f0829/moneta/pkg/signing"
	"github.com/f0829/moneta/pkg/suspicion"
	"github.com/f0829/moneta/pkg/winapi"
)

const (
	appName    = "moneta"
	appVersion = "1.0.0"
)

func main() {
	var (
		pid         = flag.Uint("p", 0, "target pid (0 sweeps every accessible process)")
		mode        = flag.String("m", "all", "memory selection: all, block, suspicious")
		address     = flag.String("a", "", "block address (hex) for -m block")
		fromBase    = flag.Bool("from-base", false, "expand a match to the entire allocation")
		dump        = flag.Bool("d", false, "dump selected committed regions to disk")
		configPath  = flag.String("config", "", "path to YAML config")
		dbPath      = flag.String("db", "", "scan report database (overrides config)")
		metricsAddr = flag.String("metrics", "", "prometheus listen address (overrides config)")
		verbosity   = flag.Int("v", 0, "verbosity: 0 surface, 1 detail, 2 debug")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, appVersion)
		return
	}

	if err := run(*pid, *mode, *address, *fromBase, *dump, *configPath, *dbPath, *metricsAddr, *verbosity); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(pid uint, modeStr, addrStr string, fromBase, dump bool, configPath, dbPath, metricsAddr string, verbosity int) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if dbPath != "" {
		cfg.Report.DatabasePath = dbPath
	}
	if metricsAddr != "" {
		cfg.Metrics.Listen = metricsAddr
	}

	verb := logging.Verbosity(verbosity)
	log := logging.NewStderrLogger(appName, logging.LevelFor(verb))

	mode, err := parseMode(modeStr)
	if err != nil {
		return err
	}
	var addr uint64
	if mode == process.SelectBlock {
		if addr, err = parseAddress(addrStr); err != nil {
			return err
		}
	}

	sys, err := winapi.NewSystem()
	if err != nil {
		return err
	}

	var coll *metrics.Collector
	if cfg.Metrics.Listen != "" {
		coll = metrics.New(appName)
		mux := http.NewServeMux()
		mux.Handle("/metrics", coll.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				log.Warn("metrics endpoint failed: %v", err)
			}
		}()
	}

	var store *report.Store
	if cfg.Report.DatabasePath != "" {
		if store, err = report.Open(cfg.Report.DatabasePath); err != nil {
			return err
		}
		defer store.Close()
	}

	scanner := &scanner{
		sys:      sys,
		oracle:   signing.NewOracle(),
		cfg:      cfg,
		log:      log,
		renderer: render.New(os.Stdout, verb),
		store:    store,
		metrics:  coll,
		mode:     mode,
		addr:     addr,
		opts:     process.SelectOptions{FromBase: fromBase},
		dump:     dump,
	}

	if pid != 0 {
		return scanner.scan(uint32(pid))
	}
	return scanner.sweep()
}

type scanner struct {
	sys      winapi.System
	oracle   signing.Oracle
	cfg      *config.Config
	log      logging.Logger
	renderer *render.Renderer
	store    *report.Store
	metrics  *metrics.Collector

	mode process.SelectMode
	addr uint64
	opts process.SelectOptions
	dump bool
}

// sweep scans every accessible process, isolating per-process failures and
// pacing process opens when a rate limit is configured.
func (sc *scanner) sweep() error {
	pids, err := sc.sys.ProcessIDs()
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if sc.cfg.Sweep.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(sc.cfg.Sweep.RatePerSecond), 1)
	}

	for _, pid := range pids {
		if limiter != nil {
			if err := limiter.Wait(context.Background()); err != nil {
				return err
			}
		}
		if err := sc.scan(pid); err != nil {
			// Access-denied and exited processes are routine in a sweep.
			sc.log.Debug("pid %d: %v", pid, err)
		}
	}
	return nil
}

func (sc *scanner) scan(pid uint32) error {
	started := time.Now()

	snap, err := process.Open(pid, sc.sys, &process.Options{Signing: sc.oracle, Log: sc.log})
	if err != nil {
		if sc.metrics != nil {
			sc.metrics.ScanFailed(errors.GetKind(err).String())
		}
		return err
	}
	defer snap.Close()

	engine := suspicion.NewEngine(sc.log)
	m := engine.Inspect(snap)
	m.Filter(suspicion.FilterConfig{HeapExecutable: sc.cfg.Filters.HeapExecutable})

	selected := snap.Select(sc.mode, sc.addr, sc.opts, m)
	sc.renderer.Render(snap, selected, m)
	if sc.mode == process.SelectAll {
		sc.renderer.RenderStats(snap.Stats())
	}

	if sc.dump {
		sc.dumpSelection(snap, selected)
	}

	duration := time.Since(started)
	if sc.metrics != nil {
		regions := len(snap.Select(process.SelectAll, 0, process.SelectOptions{}, nil))
		sc.metrics.ScanCompleted("ok", duration, regions, len(snap.Entities()))
		m.Walk(func(_, _ uint64, s *suspicion.Suspicion) {
			sc.metrics.SuspicionFound(string(s.Kind))
		})
	}

	if sc.store != nil {
		sum := report.ScanSummary{
			Pid:            snap.Pid(),
			ImageName:      snap.Name(),
			ImagePath:      snap.ImagePath(),
			Wow64:          snap.IsWow64(),
			EntityCount:    len(snap.Entities()),
			SuspicionCount: m.Len(),
			Duration:       duration,
		}
		if _, err := sc.store.SaveScan(context.Background(), sum, m); err != nil {
			sc.log.Warn("pid %d: report not saved: %v", pid, err)
		}
	}

	return nil
}

func (sc *scanner) dumpSelection(snap *process.Snapshot, selected []*memory.Subregion) {
	dumper := memdump.New(sc.cfg.Dump.Dir, snap.Pid(), sc.cfg.Dump.Compress)
	defer dumper.Close()

	for _, s := range selected {
		path, err := dumper.Create(s, snap.ReadMemory)
		if err != nil {
			sc.log.Warn("dump of 0x%x failed: %v", s.BaseVA(), err)
			continue
		}
		fmt.Printf("      ~ Memory dumped to %s\n", path)
		if sc.metrics != nil {
			sc.metrics.DumpWritten()
		}
	}
}

func parseMode(s string) (process.SelectMode, error) {
	switch strings.ToLower(s) {
	case "all", "":
		return process.SelectAll, nil
	case "block":
		return process.SelectBlock, nil
	case "suspicious":
		return process.SelectSuspicious, nil
	default:
		return 0, errors.E(errors.KindInvalidInput, "main", "unknown selection mode "+s)
	}
}

func parseAddress(s string) (uint64, error) {
	if s == "" {
		return 0, errors.E(errors.KindInvalidInput, "main", "-m block requires -a <address>")
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, errors.E(errors.KindInvalidInput, "main", "bad address "+s, err)
	}
	return addr, nil
}

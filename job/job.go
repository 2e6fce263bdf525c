// Package job implements the parallel job engine: the worker pool and
// per-kind orchestration that drives list, create, extract, update, and
// diff operations against an archive opened via zipkit/bytesource, with
// atomic progress accounting and per-entry result classification.
package job

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"zipkit/bytesource"
	"zipkit/errs"
)

// Kind identifies which of the five user-facing operations a Job
// performs.
type Kind int

const (
	List Kind = iota
	Create
	Extract
	Update
	Diff
)

func (k Kind) String() string {
	switch k {
	case List:
		return "list"
	case Create:
		return "create"
	case Extract:
		return "extract"
	case Update:
		return "update"
	case Diff:
		return "diff"
	default:
		return "unknown"
	}
}

// OutputFormat selects how list/diff render their tables.
type OutputFormat int

const (
	FormatTabs OutputFormat = iota
	FormatCommas
	FormatHTML
)

// ParseOutputFormat maps a CLI flag value to an OutputFormat; it defaults
// to FormatTabs for an empty or unrecognised value.
func ParseOutputFormat(s string) OutputFormat {
	switch s {
	case "commas":
		return FormatCommas
	case "html":
		return FormatHTML
	default:
		return FormatTabs
	}
}

// StatusCode is the job's lifecycle state.
type StatusCode int

const (
	Idle StatusCode = iota
	Running
	Finished
	Error
)

func (s StatusCode) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the job's current lifecycle state plus, for Error, a code and
// message describing the driver-level failure.
type Status struct {
	Code    StatusCode
	Message string
}

// Progress tracks cumulative bytes processed against an expected total,
// all fields atomic so workers and the reporter goroutine can touch them
// without a lock.
type Progress struct {
	BytesProcessed atomic.Int64
	BytesToProcess atomic.Int64
	StartTime      time.Time
}

// Add bumps BytesProcessed by n.
func (p *Progress) Add(n uint64) {
	p.BytesProcessed.Add(int64(n))
}

// Fraction returns the processed/total ratio in [0,1], or 0 if the total
// is not yet known.
func (p *Progress) Fraction() float64 {
	total := p.BytesToProcess.Load()
	if total <= 0 {
		return 0
	}
	done := p.BytesProcessed.Load()
	if done > total {
		done = total
	}
	return float64(done) / float64(total)
}

// ETA estimates the remaining duration from the elapsed time and current
// fraction complete; it returns 0 if the fraction is 0 (nothing to
// extrapolate from yet).
func (p *Progress) ETA() time.Duration {
	frac := p.Fraction()
	if frac <= 0 {
		return 0
	}
	elapsed := time.Since(p.StartTime)
	return time.Duration(float64(elapsed)/frac) - elapsed
}

// Job configures and runs one of the five operations against a package
// URL (local path or http(s) URL). Construct with New, configure the
// exported fields, then call Run followed by Join.
type Job struct {
	Kind        Kind
	PackageURL  string
	Creds       *bytesource.Credentials
	BaseFolder  string
	Glob        string
	Threads     int
	Verbose     bool
	SkipCRC     bool
	Format      OutputFormat
	Level       int // create mode deflate level

	Out    io.Writer
	ErrOut io.Writer
	Log    *slog.Logger

	progress Progress
	status   atomic.Value // Status

	results []Result
	resMu   sync.Mutex

	wg   sync.WaitGroup
	done chan struct{}
}

// New constructs a Job with defaults filled in (unbuffered stdio,
// default-leveled logger, worker count from runtime.NumCPU clamped to
// [1,256], forced to 1 when verbose).
func New(kind Kind) *Job {
	j := &Job{
		Kind:    kind,
		Threads: defaultThreads(false),
		Out:     os.Stdout,
		ErrOut:  os.Stderr,
		done:    make(chan struct{}),
	}
	j.status.Store(Status{Code: Idle})
	return j
}

func defaultThreads(verbose bool) int {
	if verbose {
		return 1
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	if n > 256 {
		n = 256
	}
	return n
}

// NormalizeThreads clamps Threads to [1,256] and forces it to 1 when
// Verbose is set, so diagnostic log lines stay in emission order.
func (j *Job) NormalizeThreads() {
	if j.Verbose {
		j.Threads = 1
		return
	}
	if j.Threads < 1 {
		j.Threads = 1
	}
	if j.Threads > 256 {
		j.Threads = 256
	}
}

func (j *Job) logger() *slog.Logger {
	if j.Log != nil {
		return j.Log
	}
	level := slog.LevelInfo
	if j.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(j.ErrOut, &slog.HandlerOptions{Level: level}))
}

// Progress exposes the job's progress counters for reporters.
func (j *Job) Progress() *Progress { return &j.progress }

// Status returns the job's current lifecycle state.
func (j *Job) Status() Status {
	return j.status.Load().(Status)
}

func (j *Job) setStatus(s Status) {
	j.status.Store(s)
}

// Done reports whether the job has reached a terminal state.
func (j *Job) Done() bool {
	code := j.Status().Code
	return code == Finished || code == Error
}

// Results returns the per-task results accumulated so far, in completion
// order.
func (j *Job) Results() []Result {
	j.resMu.Lock()
	defer j.resMu.Unlock()
	out := make([]Result, len(j.results))
	copy(out, j.results)
	return out
}

func (j *Job) record(r Result) {
	j.resMu.Lock()
	j.results = append(j.results, r)
	j.resMu.Unlock()
}

// Run spawns the driver goroutine for the job's Kind and returns
// immediately; call Join to wait for completion.
func (j *Job) Run(ctx context.Context) {
	j.NormalizeThreads()
	j.progress.StartTime = time.Now()
	j.setStatus(Status{Code: Running})

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer close(j.done)

		var err error
		switch j.Kind {
		case List:
			err = j.runList(ctx)
		case Create:
			err = j.runCreate(ctx)
		case Extract, Update:
			err = j.runExtractOrUpdate(ctx)
		case Diff:
			err = j.runDiff(ctx)
		default:
			err = errs.New(errs.BadArgument, "unknown job kind")
		}

		if err != nil {
			j.setStatus(Status{Code: Error, Message: err.Error()})
			return
		}
		j.setStatus(Status{Code: Finished})
	}()
}

// reporterWake is how often the progress reporter goroutine wakes to
// consider printing a line; the wake cadence is faster than the print
// cadence so it reacts promptly once the job finishes.
const (
	reporterWake       = 50 * time.Millisecond
	reporterPrintEvery = 2 * time.Second
)

// Join blocks until the driver and all workers finish, printing a
// progress line every 2s to ErrOut while more than 2s of estimated work
// remains.
func (j *Job) Join(ctx context.Context) error {
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		lastPrint := time.Time{}
		ticker := time.NewTicker(reporterWake)
		defer ticker.Stop()
		for {
			select {
			case <-j.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if time.Since(lastPrint) < reporterPrintEvery {
					continue
				}
				if eta := j.progress.ETA(); eta > reporterPrintEvery {
					j.printProgress()
					lastPrint = time.Now()
				}
			}
		}
	}()

	j.wg.Wait()
	<-reportDone

	st := j.Status()
	if st.Code == Error {
		return errs.New(errs.Unknown, st.Message)
	}
	return nil
}

func (j *Job) printProgress() {
	p := &j.progress
	total := p.BytesToProcess.Load()
	done := p.BytesProcessed.Load()
	if total <= 0 {
		return
	}
	pct := 100 * float64(done) / float64(total)
	j.logger().Info("progress", "bytes_done", done, "bytes_total", total, "percent", pct, "eta", p.ETA().Round(time.Second))
}

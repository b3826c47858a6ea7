package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"iplfleet/services/fleet"
)

// Channel is the remote execution surface the orchestrator drives.
// *sshchan.Channel satisfies this.
type Channel interface {
	RunCommand(ctx context.Context, host, user, cmd string) (string, error)
	UploadFile(ctx context.Context, host, user, localPath, remotePath string) error
	DownloadFile(ctx context.Context, host, user, remotePath, localPath string) error
}

// TargetSource resolves target identifiers to fleet rows. *fleet.Repo
// satisfies this.
type TargetSource interface {
	ByIDs(ctx context.Context, ids []uuid.UUID) ([]fleet.Target, error)
}

// Config carries the filesystem and concurrency knobs for deployment runs.
type Config struct {
	Workers       int64  `env:"DEPLOY_WORKERS, default=60"`
	ScriptDir     string `env:"DEPLOY_SCRIPT_DIR, default=scripts"`
	ManifestPath  string `env:"DEPLOY_MANIFEST, default=scripts/payload.yaml"`
	ResultsRoot   string `env:"DEPLOY_RESULTS_ROOT, default=results"`
	RemoteTmpRoot string `env:"DEPLOY_REMOTE_TMP_ROOT, default=/tmp/ipl_analysis/"`
}

// Orchestrator fans the IPL timing payload out across a set of hosts,
// running each host's workflow independently under a bounded worker pool.
type Orchestrator struct {
	targets  TargetSource
	channel  Channel
	sink     Sink
	manifest Manifest
	cfg      Config
}

// NewOrchestrator creates an orchestrator bound to the provided dependencies.
func NewOrchestrator(targets TargetSource, channel Channel, sink Sink, manifest Manifest, cfg Config) (*Orchestrator, error) {
	if targets == nil {
		return nil, errors.New("target source is required")
	}
	if channel == nil {
		return nil, errors.New("channel is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 60
	}

	return &Orchestrator{
		targets:  targets,
		channel:  channel,
		sink:     sink,
		manifest: manifest,
		cfg:      cfg,
	}, nil
}

// Run deploys the payload to every target identified by ids and blocks until
// all hosts settle. Per-host failures are returned as values in the result
// map, never as an error from Run itself: the value is the hostname on
// success or an "ERROR: ..." string on failure. Progress snapshots are
// pushed to the sink as hosts complete.
func (o *Orchestrator) Run(ctx context.Context, ids []uuid.UUID) (map[string]string, error) {
	targets, err := o.targets.ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	if len(targets) == 0 {
		msg := "No LPARs found for given IDs"
		o.emit(ctx, Snapshot{Result: []string{}, Percent: 100, Error: &msg})
		return map[string]string{}, nil
	}

	board := newStatusBoard(targets)
	o.emit(ctx, board.snapshot(10))

	sem := semaphore.NewWeighted(o.cfg.Workers)
	results := make(map[string]string, len(targets))

	var (
		wg        sync.WaitGroup
		resultsMu sync.Mutex
		completed int
	)

	for _, target := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}

		wg.Add(1)
		go func(target fleet.Target) {
			defer wg.Done()
			defer sem.Release(1)

			outcome := o.deployHost(ctx, target)

			if strings.HasPrefix(outcome, "ERROR") {
				board.settle(target.Hostname, StatusError, fmt.Sprintf("Deployment failed for %s: %s", target.Hostname, outcome))
			} else {
				board.settle(target.Hostname, StatusDone, "")
			}

			// The emit stays under the lock so completion snapshots reach
			// the sink in percent order.
			resultsMu.Lock()
			results[target.Hostname] = outcome
			completed++
			percent := float64(completed) / float64(len(targets)) * 100
			o.emit(ctx, board.snapshot(percent))
			resultsMu.Unlock()
		}(target)
	}

	wg.Wait()
	o.emit(ctx, board.snapshot(100))

	return results, nil
}

// Launch starts Run on its own goroutine and returns a handle the caller can
// await or abandon. The handle's Done channel closes once all hosts settle.
func (o *Orchestrator) Launch(ctx context.Context, ids []uuid.UUID) *Handle {
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.results, h.err = o.Run(ctx, ids)
	}()
	return h
}

// Handle tracks one detached deployment run.
type Handle struct {
	done    chan struct{}
	results map[string]string
	err     error
}

// Done is closed when the run has settled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run settles or ctx expires, then returns the
// per-host terminal values.
func (h *Handle) Wait(ctx context.Context) (map[string]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.results, h.err
	}
}

// deployHost runs the five-step workflow for a single host. Any step's
// failure aborts only this host and is reported as an "ERROR: ..." value.
func (o *Orchestrator) deployHost(ctx context.Context, target fleet.Target) string {
	prefix, _, _ := strings.Cut(target.Hostname, ".")
	remoteTmp := o.cfg.RemoteTmpRoot + prefix
	localResults := filepath.Join(o.cfg.ResultsRoot, prefix)

	// 1. Reset the remote workspace.
	prepare := fmt.Sprintf("if [[ -d %[1]s ]]; then rm -rf %[1]s; fi; mkdir -p %[1]s; ls -la %[1]s", remoteTmp)
	if _, err := o.channel.RunCommand(ctx, target.Hostname, target.Username, prepare); err != nil {
		return "ERROR: An error occurred on prepare the remote file space"
	}

	// 2. Upload the payload, in manifest order.
	for _, name := range o.manifest.Files {
		local := filepath.Join(o.cfg.ScriptDir, name)
		if err := o.channel.UploadFile(ctx, target.Hostname, target.Username, local, remoteTmp); err != nil {
			return fmt.Sprintf("ERROR: An error occurred on upload file %s to %s", strings.ToUpper(name), target.Hostname)
		}
	}

	// 3. Execute the driver with the host and dataset qualifier.
	execute := fmt.Sprintf("%s/%s -r cli -a %s -q %s", remoteTmp, o.manifest.Driver, target.Hostname, target.Dataset)
	if _, err := o.channel.RunCommand(ctx, target.Hostname, target.Username, execute); err != nil {
		return fmt.Sprintf("ERROR: An error occurred running the %s", o.manifest.Driver)
	}

	// 4. Recreate the local results directory and pull the CSV artifacts.
	if err := os.RemoveAll(localResults); err != nil {
		return "ERROR: An error occurred downloading CSV results"
	}
	if err := os.MkdirAll(localResults, 0o755); err != nil {
		return "ERROR: An error occurred downloading CSV results"
	}
	if err := o.channel.DownloadFile(ctx, target.Hostname, target.Username, remoteTmp+"/*.CSV", localResults); err != nil {
		return "ERROR: An error occurred downloading CSV results"
	}

	// 5. Remove the workspace and its parent temp root.
	cleanup := fmt.Sprintf("if [[ -d %[1]s ]]; then rm -rf %[1]s; fi; if [[ -d %[2]s ]]; then rm -rf %[2]s; fi", remoteTmp, o.cfg.RemoteTmpRoot)
	if _, err := o.channel.RunCommand(ctx, target.Hostname, target.Username, cleanup); err != nil {
		return fmt.Sprintf("ERROR: An error occurred cleaning up remote space on %s", target.Hostname)
	}

	return target.Hostname
}

func (o *Orchestrator) emit(ctx context.Context, snap Snapshot) {
	// Snapshot delivery is best-effort; a sink outage must not fail a run.
	_ = o.sink.Emit(ctx, ProgressEvent, snap)
}

// statusBoard is the shared per-host status map. Workers settle only their
// own host's entry, but snapshot reads happen concurrently with writes.
type statusBoard struct {
	mu     sync.RWMutex
	order  []string
	status map[string]Status
	errs   []string
}

func newStatusBoard(targets []fleet.Target) *statusBoard {
	b := &statusBoard{
		order:  make([]string, 0, len(targets)),
		status: make(map[string]Status, len(targets)),
	}
	for _, t := range targets {
		b.order = append(b.order, t.Hostname)
		b.status[t.Hostname] = StatusWait
	}
	return b
}

func (b *statusBoard) settle(host string, st Status, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status[host] = st
	if errMsg != "" {
		b.errs = append(b.errs, errMsg)
	}
}

func (b *statusBoard) snapshot(percent float64) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lines := make([]string, 0, len(b.order))
	for _, host := range b.order {
		lines = append(lines, statusLine(host, b.status[host]))
	}

	snap := Snapshot{Result: lines, Percent: percent}
	if len(b.errs) > 0 {
		joined := strings.Join(b.errs, ", ")
		snap.Error = &joined
	}
	return snap
}

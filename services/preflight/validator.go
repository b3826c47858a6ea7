package preflight

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// DryRunEvent is the event name check results are published under.
const DryRunEvent = "dry_run"

// tmpUsageLimit is the highest /tmp percent-used a host may report and
// still pass the space check.
const tmpUsageLimit = 60

// Status of a single check. A check is terminal once it leaves StatusWait.
type Status string

const (
	StatusWait  Status = "wait"
	StatusDone  Status = "done"
	StatusError Status = "error"
)

// Result holds the outcome of the four dry-run checks for one host.
type Result struct {
	FirewallRules      Status `json:"firewall_rules"`
	CheckSSHLogin      Status `json:"check_ssh_login"`
	CheckDatasetAccess Status `json:"check_dataset_access"`
	CheckTmpSpace      Status `json:"check_tmp_space"`
}

func newResult() Result {
	return Result{
		FirewallRules:      StatusWait,
		CheckSSHLogin:      StatusWait,
		CheckDatasetAccess: StatusWait,
		CheckTmpSpace:      StatusWait,
	}
}

// failUnresolved marks every check still waiting as errored.
func (r *Result) failUnresolved() {
	for _, st := range []*Status{&r.FirewallRules, &r.CheckSSHLogin, &r.CheckDatasetAccess, &r.CheckTmpSpace} {
		if *st == StatusWait {
			*st = StatusError
		}
	}
}

// Sink receives a Result after every check transition. *bus.Bus satisfies
// this.
type Sink interface {
	Emit(ctx context.Context, event string, payload any) error
}

// FirewallChecker reports whether an egress rule exists for the host.
// *netpolicy.Client satisfies this.
type FirewallChecker interface {
	CheckEgress(ctx context.Context, host string) (bool, error)
}

// Channel runs remote commands for the ssh-level checks.
type Channel interface {
	RunCommand(ctx context.Context, host, user, cmd string) (string, error)
}

// Validator performs the dry-run pipeline: firewall, ssh login, dataset
// access and /tmp space, in that order. The firewall check gates the rest;
// when it fails no remote call is made.
type Validator struct {
	firewall FirewallChecker
	channel  Channel
	sink     Sink
}

// NewValidator creates a validator bound to the provided dependencies.
func NewValidator(firewall FirewallChecker, channel Channel, sink Sink) (*Validator, error) {
	if firewall == nil {
		return nil, errors.New("firewall checker is required")
	}
	if channel == nil {
		return nil, errors.New("channel is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	return &Validator{firewall: firewall, channel: channel, sink: sink}, nil
}

// Run executes the four checks against host and returns the terminal
// result. Every transition is pushed to the sink before the next check
// starts. Check failures are reported in the result, not as an error.
func (v *Validator) Run(ctx context.Context, host, user, dataset string) Result {
	res := newResult()
	v.emit(ctx, res)

	ok, err := v.firewall.CheckEgress(ctx, host)
	if err != nil || !ok {
		res.FirewallRules = StatusError
		v.emit(ctx, res)
		// The firewall gates everything else; the remaining checks are
		// settled as errored without touching the host.
		res.failUnresolved()
		v.emit(ctx, res)
		return res
	}
	res.FirewallRules = StatusDone
	v.emit(ctx, res)

	checks := []struct {
		status *Status
		cmd    string
		pass   func(out string) bool
	}{
		{
			status: &res.CheckSSHLogin,
			cmd:    "cd $HOME; pwd 2>&1",
			pass: func(out string) bool {
				return path.Base(strings.TrimSpace(out)) == user
			},
		},
		{
			status: &res.CheckDatasetAccess,
			cmd:    datasetAccessCommand(dataset),
			pass: func(out string) bool {
				n, err := strconv.Atoi(strings.TrimSpace(out))
				return err == nil && n > 1
			},
		},
		{
			status: &res.CheckTmpSpace,
			cmd:    `df -kP /tmp | tail -1 | awk '{print $5}'`,
			pass: func(out string) bool {
				pct, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(out), "%"))
				return err == nil && pct < tmpUsageLimit
			},
		},
	}

	for _, check := range checks {
		out, err := v.channel.RunCommand(ctx, host, user, check.cmd)
		if err != nil {
			// Transport failure: settle everything unresolved and stop.
			res.failUnresolved()
			v.emit(ctx, res)
			return res
		}
		if check.pass(out) {
			*check.status = StatusDone
		} else {
			*check.status = StatusError
		}
		v.emit(ctx, res)
	}

	return res
}

// datasetAccessCommand resolves the log dataset behind the qualifier from
// the catalog and counts its first thousand lines. More than one line means
// the dataset exists and is readable.
func datasetAccessCommand(qualifier string) string {
	return fmt.Sprintf(
		`check=$(tsocmd "listcat level(%s)" | grep NONVSAM | egrep "LOG|BLDR01" | tail -2 | head -1 | cut -d" " -f3) && head -1000 "//'$check'" | wc -l 2>&1`,
		qualifier,
	)
}

func (v *Validator) emit(ctx context.Context, res Result) {
	_ = v.sink.Emit(ctx, DryRunEvent, res)
}

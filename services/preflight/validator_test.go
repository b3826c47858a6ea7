package preflight

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeFirewall struct {
	ok  bool
	err error
}

func (f *fakeFirewall) CheckEgress(context.Context, string) (bool, error) {
	return f.ok, f.err
}

// fakeChannel answers remote commands by substring match and counts calls.
type fakeChannel struct {
	loginOut   string
	datasetOut string
	tmpOut     string
	failAt     string
	calls      int
}

func (f *fakeChannel) RunCommand(_ context.Context, _, _, cmd string) (string, error) {
	f.calls++
	switch {
	case strings.Contains(cmd, "pwd"):
		if f.failAt == "login" {
			return "", errors.New("connection reset")
		}
		return f.loginOut, nil
	case strings.Contains(cmd, "listcat"):
		if f.failAt == "dataset" {
			return "", errors.New("connection reset")
		}
		return f.datasetOut, nil
	case strings.Contains(cmd, "df -kP"):
		if f.failAt == "tmp" {
			return "", errors.New("connection reset")
		}
		return f.tmpOut, nil
	}
	return "", errors.New("unexpected command: " + cmd)
}

type fakeSink struct {
	results []Result
}

func (f *fakeSink) Emit(_ context.Context, _ string, payload any) error {
	res, ok := payload.(Result)
	if !ok {
		return errors.New("unexpected payload type")
	}
	f.results = append(f.results, res)
	return nil
}

func healthyChannel() *fakeChannel {
	return &fakeChannel{
		loginOut:   "/u/ipluser",
		datasetOut: "1000",
		tmpOut:     "42%",
	}
}

func newTestValidator(t *testing.T, fw *fakeFirewall, ch *fakeChannel, sink *fakeSink) *Validator {
	t.Helper()
	v, err := NewValidator(fw, ch, sink)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestRunAllChecksPass(t *testing.T) {
	sink := &fakeSink{}
	v := newTestValidator(t, &fakeFirewall{ok: true}, healthyChannel(), sink)

	res := v.Run(context.Background(), "sysa.example.com", "ipluser", "SYSA.IPLD")

	want := Result{
		FirewallRules:      StatusDone,
		CheckSSHLogin:      StatusDone,
		CheckDatasetAccess: StatusDone,
		CheckTmpSpace:      StatusDone,
	}
	if res != want {
		t.Fatalf("result = %+v, want %+v", res, want)
	}

	// Initial all-wait plus one emission per transition.
	if len(sink.results) != 5 {
		t.Fatalf("got %d emissions, want 5", len(sink.results))
	}
	if sink.results[0] != newResult() {
		t.Fatalf("first emission = %+v, want all waiting", sink.results[0])
	}
}

func TestRunFirewallShortCircuit(t *testing.T) {
	ch := healthyChannel()
	sink := &fakeSink{}
	v := newTestValidator(t, &fakeFirewall{ok: false}, ch, sink)

	res := v.Run(context.Background(), "sysa.example.com", "ipluser", "SYSA.IPLD")

	if ch.calls != 0 {
		t.Fatalf("made %d remote calls after firewall failure, want 0", ch.calls)
	}
	if res.FirewallRules != StatusError {
		t.Fatalf("firewall = %s, want error", res.FirewallRules)
	}

	// The emission right after the firewall transition still shows the
	// other checks waiting; they settle as errored afterwards and never
	// reach done.
	after := sink.results[1]
	if after.CheckSSHLogin != StatusWait || after.CheckDatasetAccess != StatusWait || after.CheckTmpSpace != StatusWait {
		t.Fatalf("checks moved before settling: %+v", after)
	}
	if res.CheckSSHLogin != StatusError || res.CheckDatasetAccess != StatusError || res.CheckTmpSpace != StatusError {
		t.Fatalf("unresolved checks not errored: %+v", res)
	}
}

func TestRunFirewallError(t *testing.T) {
	ch := healthyChannel()
	v := newTestValidator(t, &fakeFirewall{err: errors.New("token rejected")}, ch, &fakeSink{})

	res := v.Run(context.Background(), "sysa.example.com", "ipluser", "SYSA.IPLD")

	if ch.calls != 0 {
		t.Fatalf("made %d remote calls after firewall error, want 0", ch.calls)
	}
	if res.FirewallRules != StatusError || res.CheckTmpSpace != StatusError {
		t.Fatalf("result = %+v, want all errored", res)
	}
}

func TestRunCheckOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		channel *fakeChannel
		want    Result
	}{
		{
			name: "wrong login home",
			channel: &fakeChannel{
				loginOut:   "/u/someoneelse",
				datasetOut: "1000",
				tmpOut:     "42%",
			},
			want: Result{
				FirewallRules:      StatusDone,
				CheckSSHLogin:      StatusError,
				CheckDatasetAccess: StatusDone,
				CheckTmpSpace:      StatusDone,
			},
		},
		{
			name: "dataset count too low",
			channel: &fakeChannel{
				loginOut:   "/u/ipluser",
				datasetOut: "1",
				tmpOut:     "42%",
			},
			want: Result{
				FirewallRules:      StatusDone,
				CheckSSHLogin:      StatusDone,
				CheckDatasetAccess: StatusError,
				CheckTmpSpace:      StatusDone,
			},
		},
		{
			name: "tmp too full",
			channel: &fakeChannel{
				loginOut:   "/u/ipluser",
				datasetOut: "1000",
				tmpOut:     "87%",
			},
			want: Result{
				FirewallRules:      StatusDone,
				CheckSSHLogin:      StatusDone,
				CheckDatasetAccess: StatusDone,
				CheckTmpSpace:      StatusError,
			},
		},
		{
			name: "garbled dataset output",
			channel: &fakeChannel{
				loginOut:   "/u/ipluser",
				datasetOut: "IKJ56228I DATA SET NOT IN CATALOG",
				tmpOut:     "42%",
			},
			want: Result{
				FirewallRules:      StatusDone,
				CheckSSHLogin:      StatusDone,
				CheckDatasetAccess: StatusError,
				CheckTmpSpace:      StatusDone,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(t, &fakeFirewall{ok: true}, tt.channel, &fakeSink{})
			res := v.Run(context.Background(), "sysa.example.com", "ipluser", "SYSA.IPLD")
			if res != tt.want {
				t.Fatalf("result = %+v, want %+v", res, tt.want)
			}
		})
	}
}

func TestRunTransportFailureSettlesRemaining(t *testing.T) {
	ch := healthyChannel()
	ch.failAt = "dataset"
	sink := &fakeSink{}
	v := newTestValidator(t, &fakeFirewall{ok: true}, ch, sink)

	res := v.Run(context.Background(), "sysa.example.com", "ipluser", "SYSA.IPLD")

	want := Result{
		FirewallRules:      StatusDone,
		CheckSSHLogin:      StatusDone,
		CheckDatasetAccess: StatusError,
		CheckTmpSpace:      StatusError,
	}
	if res != want {
		t.Fatalf("result = %+v, want %+v", res, want)
	}
	// No call should follow the failed one.
	if ch.calls != 2 {
		t.Fatalf("made %d remote calls, want 2", ch.calls)
	}
	if last := sink.results[len(sink.results)-1]; last != want {
		t.Fatalf("final emission = %+v, want %+v", last, want)
	}
}

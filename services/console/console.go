package console

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"iplfleet/services/deploy"
	"iplfleet/services/fleet"
	"iplfleet/services/preflight"
	"iplfleet/services/scheduler"
)

// Deployer launches deployment runs. *deploy.Orchestrator satisfies this.
type Deployer interface {
	Launch(ctx context.Context, ids []uuid.UUID) *deploy.Handle
}

// DryRunner performs the pre-flight pipeline. *preflight.Validator
// satisfies this.
type DryRunner interface {
	Run(ctx context.Context, host, user, dataset string) preflight.Result
}

// TargetFinder looks up single fleet rows. *fleet.Repo satisfies this.
type TargetFinder interface {
	ByID(ctx context.Context, id uuid.UUID) (fleet.Target, error)
}

// Ingestor runs one ingest-and-classify pass. *ingest.Ingestor satisfies
// this.
type Ingestor interface {
	IngestAndClassify(ctx context.Context) ([]string, error)
}

// Console is the admin HTTP surface: it accepts deployment, dry-run,
// schedule and ingest requests and hands them to the long-running services.
// Deployments and dry runs are launched detached; their progress reaches
// consumers only through the event sink.
type Console struct {
	log      zerolog.Logger
	deployer Deployer
	dryrun   DryRunner
	sched    *scheduler.Scheduler
	targets  TargetFinder
	ingest   Ingestor
}

// New wires the console against its collaborators.
func New(log zerolog.Logger, deployer Deployer, dryrun DryRunner, sched *scheduler.Scheduler, targets TargetFinder, ingest Ingestor) (*Console, error) {
	if deployer == nil {
		return nil, errors.New("deployer is required")
	}
	if dryrun == nil {
		return nil, errors.New("dry runner is required")
	}
	if sched == nil {
		return nil, errors.New("scheduler is required")
	}
	if targets == nil {
		return nil, errors.New("target finder is required")
	}
	if ingest == nil {
		return nil, errors.New("ingestor is required")
	}

	return &Console{
		log:      log,
		deployer: deployer,
		dryrun:   dryrun,
		sched:    sched,
		targets:  targets,
		ingest:   ingest,
	}, nil
}

package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"repaircoord/cassandra"
	"repaircoord/config"
	"repaircoord/coordination"
	"repaircoord/memstore"
	"repaircoord/sqlserver"
)

// app wires one coordinator process.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	instance coordination.Instance
	store    coordination.Store
	close    func() error

	leases   *coordination.LeaseRegistry
	liveness *coordination.LivenessRegistry
	locks    *coordination.NodeLockRegistry
	selector *coordination.CandidateSelector
	machine  *coordination.SegmentStateMachine
	sweeper  *coordination.OrphanSweeper
	leader   *coordination.LeaderRunner
	// worker is nil when no repair command is configured.
	worker *coordination.Worker
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *coordination.Metrics) (*app, error) {
	id, err := cfg.InstanceID()
	if err != nil {
		return nil, fmt.Errorf("instance id: %w", err)
	}
	instance := coordination.Instance{ID: id, Address: cfg.Instance.Address}
	logger = logger.With(zap.Stringer("instance_id", id))

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, instance: instance, store: store, close: closeStore}
	if err := a.wire(metrics); err != nil {
		_ = closeStore()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(metrics *coordination.Metrics) error {
	opts := []coordination.Option{coordination.WithLogger(a.logger), coordination.WithMetrics(metrics)}
	co := a.cfg.Coordination
	var err error

	if a.leases, err = coordination.NewLeaseRegistry(a.store, a.instance, opts...); err != nil {
		return err
	}
	a.liveness, err = coordination.NewLivenessRegistry(a.store, a.instance, coordination.LivenessConfig{TTL: co.HeartbeatTTL.Std()}, opts...)
	if err != nil {
		return err
	}
	if a.locks, err = coordination.NewNodeLockRegistry(a.store, a.instance, opts...); err != nil {
		return err
	}
	if a.selector, err = coordination.NewCandidateSelector(a.store, a.locks, nil); err != nil {
		return err
	}
	a.machine, err = coordination.NewSegmentStateMachine(a.store, a.locks, a.instance, co.LockTTL.Std(), opts...)
	if err != nil {
		return err
	}
	a.sweeper, err = coordination.NewOrphanSweeper(a.store, a.locks, a.machine, co.LockTTL.Std(), co.SweepInterval.Std(), opts...)
	if err != nil {
		return err
	}
	a.leader, err = coordination.NewLeaderRunner(a.leases, coordination.LeaderConfig{
		LeaseID:  co.SchedulerLeaseID,
		LeaseTTL: co.LeaseTTL.Std(),
	}, a.sweeper.Run, opts...)
	if err != nil {
		return err
	}

	if len(a.cfg.Repair.Command) == 0 {
		a.logger.Warn("worker_disabled", zap.String("reason", "repair.command is empty"))
		return nil
	}
	keeper, err := coordination.NewLockKeeper(a.locks, co.LockTTL.Std(), 0, opts...)
	if err != nil {
		return err
	}
	ranges, err := co.TokenRanges()
	if err != nil {
		return err
	}
	a.worker, err = coordination.NewWorker(coordination.WorkerDeps{
		Runs:     a.store,
		Selector: a.selector,
		Locks:    a.locks,
		Keeper:   keeper,
		Machine:  a.machine,
		Liveness: a.liveness,
		Repair:   commandRepair(a.cfg.Repair, a.logger),
	}, coordination.WorkerConfig{
		LockTTL:       co.LockTTL.Std(),
		PollInterval:  co.PollInterval.Std(),
		MaxConcurrent: co.MaxConcurrent,
		Ranges:        ranges,
	}, opts...)
	return err
}

// openStore connects the configured backend and wraps it with tracing.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (coordination.Store, func() error, error) {
	var (
		store     coordination.Store
		closeFunc = func() error { return nil }
	)
	switch cfg.Store.Type {
	case config.StoreMemory:
		store = memstore.New(nil)
	case config.StoreCassandra:
		c := cfg.Store.Cassandra
		session, err := cassandra.Connect(cassandra.Config{
			Hosts:          c.Hosts,
			Port:           c.Port,
			Keyspace:       c.Keyspace,
			LocalDC:        c.LocalDC,
			Username:       c.Username,
			Password:       c.Password,
			Consistency:    c.Consistency,
			Timeout:        c.Timeout.Std(),
			ConnectTimeout: c.ConnectTimeout.Std(),
			ProtoVersion:   c.ProtoVersion,
		})
		if err != nil {
			return nil, nil, err
		}
		consistency, err := cassandra.ParseConsistency(c.Consistency)
		if err != nil {
			session.Close()
			return nil, nil, err
		}
		cs, err := cassandra.NewStore(ctx, session,
			cassandra.WithLogger(logger.Named("cassandra")),
			cassandra.WithConsistency(consistency),
		)
		if err != nil {
			session.Close()
			return nil, nil, err
		}
		store = cs
		closeFunc = func() error {
			session.Close()
			return nil
		}
	case config.StoreSQLServer:
		dsn, err := cfg.Store.SQLServer.DSN()
		if err != nil {
			return nil, nil, err
		}
		ss, err := sqlserver.Open(ctx, dsn, sqlserver.WithLogger(logger.Named("sqlserver")))
		if err != nil {
			return nil, nil, err
		}
		store = ss
		closeFunc = ss.Close
	default:
		return nil, nil, fmt.Errorf("unsupported store type %q", cfg.Store.Type)
	}
	logger.Info("store_opened", zap.String("type", cfg.Store.Type))
	return coordination.NewTracedStore(store, otel.Tracer(coordination.TracerName)), closeFunc, nil
}

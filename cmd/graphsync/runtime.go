package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"graphsync/internal/blob"
	"graphsync/internal/commitlog"
	"graphsync/internal/config"
	"graphsync/internal/core"
	"graphsync/internal/metadata"
	"graphsync/internal/observability"
	"graphsync/pkg/domain"
)

// runtime is the assembled stack behind the commands that touch data.
type runtime struct {
	cfg      config.Config
	log      *zap.Logger
	resolver *metadata.Resolver
	metrics  observability.MetricsRecorder
	registry *prometheus.Registry
	node     domain.DataNode
	archive  *commitlog.Archive
	dom      *core.Domain
}

func (o *options) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.config)
	if err != nil {
		return config.Config{}, err
	}
	if o.model != "" {
		cfg.Model = o.model
	}
	return cfg, nil
}

func (o *options) loadModel(cfg config.Config) (*metadata.Resolver, error) {
	if cfg.Model == "" {
		return nil, errors.New("no entity model: pass --model or set GRAPHSYNC_MODEL")
	}
	return metadata.LoadFile(cfg.Model)
}

// openRuntime opens the data node, the commit-log archive and the domain
// described by the configuration.
func (o *options) openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	resolver, err := o.loadModel(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: o.logger(), resolver: resolver}
	if err := rt.openMetrics(); err != nil {
		return nil, err
	}
	if rt.node, err = core.OpenDataNode(ctx, resolver, cfg.Storage, rt.log, rt.metrics); err != nil {
		return nil, err
	}
	if cfg.CommitLog.Enabled() {
		store, err := blob.Open(ctx, cfg.CommitLog.Blob)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open commit log: %w", err)
		}
		rt.archive = commitlog.NewArchive(store, rt.log)
	}
	opts := []core.Option{
		core.WithLogger(rt.log),
		core.WithMetrics(rt.metrics),
		core.WithSnapshotCacheSize(cfg.Snapshots.CacheSize),
		core.WithRules(core.NewDefaultRulesEngine(resolver)),
		core.WithValidateOnCommit(cfg.ValidateOnCommit),
	}
	if rt.archive != nil {
		opts = append(opts, core.WithCommitListener(rt.archive))
	}
	if rt.dom, err = core.NewDomain("graphsync", resolver, rt.node, opts...); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) openMetrics() error {
	switch rt.cfg.Metrics.Backend {
	case config.MetricsPrometheus:
		rt.registry = prometheus.NewRegistry()
		rec, err := observability.NewPrometheusRecorder(rt.registry, rt.cfg.Metrics.Namespace)
		if err != nil {
			return err
		}
		rt.metrics = rec
	case config.MetricsExpvar:
		rt.metrics = observability.NewExpvarRecorder(rt.cfg.Metrics.Namespace)
	default:
		rt.metrics = observability.Nop{}
	}
	return nil
}

// reportMetrics logs what the recorder collected.
func (rt *runtime) reportMetrics() {
	switch m := rt.metrics.(type) {
	case *observability.ExpvarRecorder:
		snap := m.Snapshot()
		rt.log.Info("metrics", zap.Any("results", snap.Results), zap.Any("counters", snap.Counters))
	case *observability.PrometheusRecorder:
		families, err := rt.registry.Gather()
		if err != nil {
			rt.log.Warn("gather metrics", zap.Error(err))
			return
		}
		for _, f := range families {
			rt.log.Debug("metric family", zap.String("name", f.GetName()), zap.Int("series", len(f.GetMetric())))
		}
	}
}

func (rt *runtime) Close() {
	if rt.dom != nil {
		rt.dom.Close()
	}
	if rt.node != nil {
		if err := rt.node.Close(); err != nil {
			rt.log.Warn("close data node", zap.Error(err))
		}
	}
	_ = rt.log.Sync()
}

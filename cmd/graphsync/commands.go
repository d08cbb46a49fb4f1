package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"graphsync/internal/blob"
	"graphsync/internal/commitlog"
	"graphsync/internal/core"
	"graphsync/internal/infra/persistence/postgres"
	"graphsync/internal/infra/persistence/sqlite"
	"graphsync/internal/metadata"
)

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the entity model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			r, err := opts.loadModel(cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(opts.stdout, "Model %s is valid: %d entities, %d tables.\n",
				cfg.Model, len(r.Entities()), len(r.SortTables()))
			return err
		},
	}
}

func newDDLCmd(opts *options) *cobra.Command {
	var dialect string
	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print the CREATE TABLE statements for the entity model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			r, err := opts.loadModel(cfg)
			if err != nil {
				return err
			}
			if dialect == "" {
				dialect = string(cfg.Storage.Driver)
			}
			var d metadata.DDLDialect
			switch dialect {
			case string(core.StoragePostgres):
				d = postgres.Dialect{}
			case string(core.StorageSQLite), string(core.StorageMemory):
				d = sqlite.Dialect{}
			default:
				return fmt.Errorf("unknown dialect %q", dialect)
			}
			for _, stmt := range r.GenerateDDL(d) {
				if _, err := fmt.Fprintf(opts.stdout, "%s;\n", stmt); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "", "sqlite or postgres (default: the configured storage driver)")
	return cmd
}

// scriptRunner is implemented by the SQL data nodes.
type scriptRunner interface {
	ExecScript(ctx context.Context, script string) error
}

func newApplyCmd(opts *options) *cobra.Command {
	var script string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create the mapped tables in the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver == core.StorageMemory {
				return errors.New("apply needs a sqlite or postgres storage driver")
			}
			r, err := opts.loadModel(cfg)
			if err != nil {
				return err
			}
			cfg.Storage.ApplyDDL = true
			log := opts.logger()
			defer func() { _ = log.Sync() }()
			node, err := core.OpenDataNode(cmd.Context(), r, cfg.Storage, log, nil)
			if err != nil {
				return err
			}
			defer func() {
				if err := node.Close(); err != nil {
					log.Warn("close data node", zap.Error(err))
				}
			}()
			if script != "" {
				data, err := os.ReadFile(filepath.Clean(script))
				if err != nil {
					return fmt.Errorf("read script: %w", err)
				}
				runner, ok := node.(scriptRunner)
				if !ok {
					return fmt.Errorf("data node %s cannot run scripts", node.Name())
				}
				if err := runner.ExecScript(cmd.Context(), string(data)); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(opts.stdout, "Schema applied to %s.\n", node.Name())
			return err
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "SQL script to run after the schema is created")
	return cmd
}

// objectFile lists objects to create. Relationships name the ref of another
// object in the same file.
type objectFile struct {
	Objects []objectSpec `yaml:"objects"`
}

type objectSpec struct {
	Entity        string            `yaml:"entity"`
	Ref           string            `yaml:"ref,omitempty"`
	Values        map[string]any    `yaml:"values,omitempty"`
	Relationships map[string]string `yaml:"relationships,omitempty"`
}

func readObjectFile(path string) (objectFile, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return objectFile{}, fmt.Errorf("read objects: %w", err)
	}
	var f objectFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return objectFile{}, fmt.Errorf("parse objects: %w", err)
	}
	if len(f.Objects) == 0 {
		return objectFile{}, errors.New("objects entry is empty")
	}
	return f, nil
}

func newLoadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE",
		Short: "Create the objects listed in FILE and commit them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := readObjectFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := opts.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			c := rt.dom.NewContext()
			defer c.Close()
			refs := make(map[string]*core.Object)
			objects := make([]*core.Object, len(f.Objects))
			for i, spec := range f.Objects {
				o, err := c.NewObject(spec.Entity)
				if err != nil {
					return fmt.Errorf("objects[%d]: %w", i, err)
				}
				for name, v := range spec.Values {
					if err := o.Set(ctx, name, v); err != nil {
						return fmt.Errorf("objects[%d]: %w", i, err)
					}
				}
				if spec.Ref != "" {
					if _, dup := refs[spec.Ref]; dup {
						return fmt.Errorf("objects[%d]: duplicate ref %q", i, spec.Ref)
					}
					refs[spec.Ref] = o
				}
				objects[i] = o
			}
			for i, spec := range f.Objects {
				for name, ref := range spec.Relationships {
					target, ok := refs[ref]
					if !ok {
						return fmt.Errorf("objects[%d]: unknown ref %q", i, ref)
					}
					_, rel, err := rt.resolver.Relationship(spec.Entity, name)
					if err != nil {
						return fmt.Errorf("objects[%d]: %w", i, err)
					}
					if rel.ToMany || rel.Flattened() {
						err = objects[i].AddToMany(ctx, name, target)
					} else {
						err = objects[i].SetToOne(ctx, name, target)
					}
					if err != nil {
						return fmt.Errorf("objects[%d]: %w", i, err)
					}
				}
			}

			res, err := c.Commit(ctx)
			if err != nil {
				return err
			}
			rt.reportMetrics()
			_, err = fmt.Fprintf(opts.stdout, "Committed %d objects in %d statements.\n", len(objects), res.Statements)
			return err
		},
	}
}

func newLogCmd(opts *options) *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "log [PREFIX]",
		Short: "List archived commit change maps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.CommitLog.Enabled() {
				return errors.New("commit log is disabled: set commit_log.driver")
			}
			if cfg.CommitLog.Blob.Driver == blob.DriverMemory {
				return errors.New("an in-memory commit log does not outlive the process")
			}
			ctx := cmd.Context()
			store, err := blob.Open(ctx, cfg.CommitLog.Blob)
			if err != nil {
				return err
			}
			archive := commitlog.NewArchive(store, opts.logger())
			var prefix string
			if len(args) == 1 {
				prefix = strings.TrimPrefix(args[0], commitlog.ArchivePrefix)
			}
			keys, err := archive.List(ctx, prefix)
			if err != nil {
				return err
			}
			for _, key := range keys {
				if !show {
					if _, err := fmt.Fprintln(opts.stdout, key); err != nil {
						return err
					}
					continue
				}
				rec, err := archive.Load(ctx, key)
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(rec, "", "  ")
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(opts.stdout, "%s\n", out); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "print each change map instead of its key")
	return cmd
}

package commitlog

import (
	"bytes"
	"context"
	"io"
	"path"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"graphsync/internal/blob"
)

// ArchivePrefix is the key prefix archived change maps are written under.
const ArchivePrefix = "commitlog/"

// Error is the error class of the commit log archive.
var Error = errs.Class("commitlog")

// Archive is a Listener writing every change map as a JSON document to a
// blob store, keyed commitlog/YYYY/MM/DD/<id>.json by commit time.
type Archive struct {
	store blob.Store
	log   *zap.Logger
}

// NewArchive returns an archive writing to store.
func NewArchive(store blob.Store, log *zap.Logger) *Archive {
	if log == nil {
		log = zap.NewNop()
	}
	return &Archive{store: store, log: log.Named("commitlog")}
}

// Key returns the blob key of m.
func Key(m *ChangeMap) string {
	return path.Join(ArchivePrefix, m.Committed.UTC().Format("2006/01/02"), m.ID+".json")
}

// OnCommit implements Listener.
func (a *Archive) OnCommit(ctx context.Context, m *ChangeMap) error {
	b, err := json.Marshal(m)
	if err != nil {
		return Error.Wrap(err)
	}
	info, err := a.store.Put(ctx, Key(m), bytes.NewReader(b), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"node":    m.Node,
			"changes": strconv.Itoa(m.Len()),
		},
	})
	if err != nil {
		return Error.Wrap(err)
	}
	a.log.Debug("archived change map", zap.String("key", info.Key), zap.Int64("size", info.Size))
	return nil
}

// List returns the keys of archived change maps under prefix, which is
// relative to ArchivePrefix (e.g. "2026/10").
func (a *Archive) List(ctx context.Context, prefix string) ([]string, error) {
	infos, err := a.store.List(ctx, ArchivePrefix+prefix)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	return keys, nil
}

// Load reads an archived change map back. Identities come back in their
// string form; the record is meant for inspection.
func (a *Archive) Load(ctx context.Context, key string) (Record, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return Record{}, Error.Wrap(err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return Record{}, Error.Wrap(err)
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, Error.Wrap(err)
	}
	return r, nil
}

// Record is the decoded form of an archived change map.
type Record struct {
	ID        string         `json:"id"`
	Node      string         `json:"node"`
	Committed string         `json:"committed"`
	Changes   []RecordChange `json:"changes"`
}

// RecordChange is the decoded form of an archived object change.
type RecordChange struct {
	PreCommitID  string                     `json:"pre_commit_id"`
	PostCommitID string                     `json:"post_commit_id"`
	Entity       string                     `json:"entity"`
	Type         ChangeType                 `json:"type"`
	Attributes   map[string]AttributeChange `json:"attributes,omitempty"`
	ToOne        map[string]struct {
		Old string `json:"old"`
		New string `json:"new"`
	} `json:"to_one,omitempty"`
	ToMany map[string]struct {
		Added   []string `json:"added,omitempty"`
		Removed []string `json:"removed,omitempty"`
	} `json:"to_many,omitempty"`
}

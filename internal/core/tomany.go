package core

import (
	"slices"

	"graphsync/pkg/domain"
)

// toMany is the target list of a to-many relationship. Until resolved it is a
// fault that only remembers additions and removals made before the targets
// were fetched.
type toMany struct {
	resolved bool
	ids      []domain.ObjectID
	added    []domain.ObjectID
	removed  []domain.ObjectID
}

func resolvedList(ids ...domain.ObjectID) *toMany {
	return &toMany{resolved: true, ids: ids}
}

// add reports whether the list changed.
func (l *toMany) add(id domain.ObjectID) bool {
	if l.resolved {
		if slices.Contains(l.ids, id) {
			return false
		}
		l.ids = append(l.ids, id)
		return true
	}
	if i := slices.Index(l.removed, id); i >= 0 {
		l.removed = slices.Delete(l.removed, i, i+1)
		return true
	}
	if slices.Contains(l.added, id) {
		return false
	}
	l.added = append(l.added, id)
	return true
}

// remove reports whether the list changed.
func (l *toMany) remove(id domain.ObjectID) bool {
	if l.resolved {
		i := slices.Index(l.ids, id)
		if i < 0 {
			return false
		}
		l.ids = slices.Delete(l.ids, i, i+1)
		return true
	}
	if i := slices.Index(l.added, id); i >= 0 {
		l.added = slices.Delete(l.added, i, i+1)
		return true
	}
	if slices.Contains(l.removed, id) {
		return false
	}
	l.removed = append(l.removed, id)
	return true
}

// resolve merges fetched targets with the pending changes.
func (l *toMany) resolve(fetched []domain.ObjectID) {
	ids := make([]domain.ObjectID, 0, len(fetched)+len(l.added))
	for _, id := range fetched {
		if !slices.Contains(l.removed, id) && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, id := range l.added {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	l.ids, l.added, l.removed, l.resolved = ids, nil, nil, true
}

func (l *toMany) remap(old, new domain.ObjectID) {
	for _, list := range [][]domain.ObjectID{l.ids, l.added, l.removed} {
		for i, id := range list {
			if id == old {
				list[i] = new
			}
		}
	}
}

func (l *toMany) clone() *toMany {
	return &toMany{
		resolved: l.resolved,
		ids:      slices.Clone(l.ids),
		added:    slices.Clone(l.added),
		removed:  slices.Clone(l.removed),
	}
}

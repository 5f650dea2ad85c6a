// Package registry persists the daemon-side server index: the snapshot of
// each server plus its locally cached container handle. The control plane
// owns the authoritative records; this index only has to survive daemon
// restarts so sessions can re-attach to containers.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/projecteru2/hatchery/config"
	storejson "github.com/projecteru2/hatchery/storage/json"
	"github.com/projecteru2/hatchery/types"
	"github.com/projecteru2/hatchery/utils"
)

// ErrNotFound is returned when a server reference does not resolve.
var ErrNotFound = fmt.Errorf("server not found")

// Index is the top-level structure of the flock-protected JSON store,
// keyed by internal ID.
type Index struct {
	Servers map[string]*types.ServerRecord `json:"servers"`
}

// Init implements storage.Initer — initialises nil maps after deserialization.
func (idx *Index) Init() {
	if idx.Servers == nil {
		idx.Servers = make(map[string]*types.ServerRecord)
	}
}

// Resolve maps a user-supplied reference to an internal ID.
// Resolution order: exact internal ID → control-plane ID → internal ID
// prefix (≥3 chars, must be unambiguous).
func Resolve(idx *Index, ref string) (string, error) {
	if idx.Servers[ref] != nil {
		return ref, nil
	}
	for internalID, rec := range idx.Servers {
		if rec != nil && rec.ID == ref {
			return internalID, nil
		}
	}
	if len(ref) >= 3 {
		var match string
		for internalID := range idx.Servers {
			if strings.HasPrefix(internalID, ref) {
				if match != "" {
					return "", fmt.Errorf("ambiguous ref %q: multiple matches", ref)
				}
				match = internalID
			}
		}
		if match != "" {
			return match, nil
		}
	}
	return "", ErrNotFound
}

// Registry wraps the JSON store with typed operations.
type Registry struct {
	store *storejson.Store[Index]
}

// New creates a Registry backed by the configured index file.
func New(conf *config.Config) *Registry {
	return &Registry{store: storejson.New[Index](conf.IndexLock(), conf.IndexFile())}
}

// Get returns a detached copy of the record for ref.
func (r *Registry) Get(ctx context.Context, ref string) (types.ServerRecord, error) {
	var rec types.ServerRecord
	err := r.store.With(ctx, func(idx *Index) error {
		internalID, err := Resolve(idx, ref)
		if err != nil {
			return err
		}
		rec, err = utils.LookupCopy(idx.Servers, internalID)
		return err
	})
	return rec, err
}

// List returns detached copies of all records.
func (r *Registry) List(ctx context.Context) ([]types.ServerRecord, error) {
	var out []types.ServerRecord
	err := r.store.With(ctx, func(idx *Index) error {
		for _, rec := range idx.Servers {
			if rec != nil {
				out = append(out, *rec)
			}
		}
		return nil
	})
	return out, err
}

// Put inserts or replaces a record, stamping UpdatedAt.
func (r *Registry) Put(ctx context.Context, rec types.ServerRecord) error {
	return r.store.Update(ctx, func(idx *Index) error {
		rec.UpdatedAt = time.Now()
		idx.Servers[rec.InternalID] = &rec
		return nil
	})
}

// Delete removes a record, freeing its allocation for reuse.
func (r *Registry) Delete(ctx context.Context, internalID string) error {
	return r.store.Update(ctx, func(idx *Index) error {
		if _, ok := idx.Servers[internalID]; !ok {
			return ErrNotFound
		}
		delete(idx.Servers, internalID)
		return nil
	})
}

// Transition moves a server to next, enforcing the closed transition table.
func (r *Registry) Transition(ctx context.Context, internalID string, next types.ServerState) error {
	return r.store.Update(ctx, func(idx *Index) error {
		rec := idx.Servers[internalID]
		if rec == nil {
			return ErrNotFound
		}
		if !rec.State.CanTransition(next) {
			return fmt.Errorf("illegal state transition %s → %s for %s", rec.State, next, internalID)
		}
		rec.State = next
		rec.UpdatedAt = time.Now()
		return nil
	})
}

// MarkErrored forces a record into the errored state, bypassing the
// transition table. Used when an out-of-band fact (the container vanished
// from the engine) invalidates whatever state the record claims.
func (r *Registry) MarkErrored(ctx context.Context, internalID string) error {
	return r.store.Update(ctx, func(idx *Index) error {
		rec := idx.Servers[internalID]
		if rec == nil {
			return ErrNotFound
		}
		rec.State = types.StateErrored
		rec.ContainerID = ""
		rec.UpdatedAt = time.Now()
		return nil
	})
}

// SetInstalled records a successful installation: the container handle,
// the installed state and the install timestamp in one update.
func (r *Registry) SetInstalled(ctx context.Context, internalID, containerID string) error {
	return r.store.Update(ctx, func(idx *Index) error {
		rec := idx.Servers[internalID]
		if rec == nil {
			return ErrNotFound
		}
		if !rec.State.CanTransition(types.StateInstalled) {
			return fmt.Errorf("illegal state transition %s → %s for %s", rec.State, types.StateInstalled, internalID)
		}
		now := time.Now()
		rec.ContainerID = containerID
		rec.State = types.StateInstalled
		rec.InstalledAt = &now
		rec.UpdatedAt = now
		return nil
	})
}

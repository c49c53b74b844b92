package update

import (
	"github.com/gofrs/flock"

	"github.com/tzervas/embeddenator-core/config"
	"github.com/tzervas/embeddenator-core/engram"
	"github.com/tzervas/embeddenator-core/errs"
	"github.com/tzervas/embeddenator-core/kernel"
)

// lockSuffix names the advisory lock file kept alongside an engram file.
// A reader never takes this lock (spec §5: "attempting to update an
// engram while a reader holds a snapshot is legal"); only Apply/Compact's
// file-entrypoint variants do, so true writer/writer races are rejected
// rather than merely racy.
const lockSuffix = ".update.lock"

// ApplyToFile is the file-backed update entrypoint (spec §6
// "update{add,remove,modify,compact}"): it takes an exclusive,
// non-blocking advisory lock on path+lockSuffix, loads the engram,
// applies diffs, saves the result back to path, and releases the lock.
// A concurrent call against the same path fails fast with
// errs.ConfigConflict instead of blocking or corrupting the file (spec
// §7: "True conflicts (two writers) are rejected at the update
// entrypoint").
func ApplyToFile(path string, diffs []Diff, cfg config.VsaConfig, backend kernel.VsaBackend) (*engram.Engram, error) {
	fl := flock.New(path + lockSuffix)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errs.WrapErr(errs.ResourceExhausted, "update: acquire lock for "+path, err)
	}
	if !locked {
		return nil, errs.Wrapf(errs.ConfigConflict, "update: %q is locked by a concurrent writer", path)
	}
	defer fl.Unlock()

	e, err := engram.LoadFile(path, cfg)
	if err != nil {
		return nil, err
	}
	next, err := Apply(e, diffs, backend)
	if err != nil {
		return nil, err
	}
	if err := engram.SaveFile(path, next); err != nil {
		return nil, err
	}
	return next, nil
}

// CompactFile is Compact's file-backed entrypoint, taking the same
// advisory lock as ApplyToFile so compaction and update never run
// against the same engram file concurrently.
func CompactFile(path string, cfg config.VsaConfig) (*engram.Engram, error) {
	fl := flock.New(path + lockSuffix)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errs.WrapErr(errs.ResourceExhausted, "update: acquire lock for "+path, err)
	}
	if !locked {
		return nil, errs.Wrapf(errs.ConfigConflict, "update: %q is locked by a concurrent writer", path)
	}
	defer fl.Unlock()

	e, err := engram.LoadFile(path, cfg)
	if err != nil {
		return nil, err
	}
	next, err := Compact(e)
	if err != nil {
		return nil, err
	}
	if err := engram.SaveFile(path, next); err != nil {
		return nil, err
	}
	return next, nil
}

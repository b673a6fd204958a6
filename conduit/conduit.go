// Package conduit implements the conduit dispatcher: for each database
// on the device, it selects and runs matching out-of-process helper
// programs (fetch / sync / dump / install / uninstall), streaming state
// to them over pipes and servicing Sync Protocol Call (SPC) requests
// from a side channel so a helper can issue DLP calls against the live
// connection.
package conduit

import (
	"log"

	"github.com/coldpalm/palmsync/dlp"
)

// Flavor is a bitmask of conduit kinds; a single Descriptor may answer
// to more than one flavor (the phase mask a dispatch pass is run with
// names which flavor bit is active for that pass).
type Flavor uint16

const (
	FlavorFetch Flavor = 1 << iota
	FlavorDump
	FlavorSync
	FlavorInstall
	FlavorUninstall
)

func (f Flavor) String() string {
	switch f {
	case FlavorFetch:
		return "fetch"
	case FlavorDump:
		return "dump"
	case FlavorSync:
		return "sync"
	case FlavorInstall:
		return "install"
	case FlavorUninstall:
		return "uninstall"
	default:
		return "unknown"
	}
}

// CreaType is one (creator,type) predicate entry; 0 in either field is a
// wildcard matching any value in that position.
type CreaType struct {
	Creator uint32
	Type    uint32
}

func (ct CreaType) matches(creator, typ uint32) bool {
	return (ct.Creator == 0 || ct.Creator == creator) && (ct.Type == 0 || ct.Type == typ)
}

// PrefDecl is one conduit's declared interest in a device preference,
// used to populate the pref cache ahead of running any conduit and to
// build the "Preference:" headers this conduit receives on stdin.
type PrefDecl struct {
	Creator        uint32
	ID             uint16
	Saved          bool
	AnyPersistence bool
}

// Descriptor is one conduit declared in configuration.
type Descriptor struct {
	Path    string
	Flavors Flavor

	// CreaTypes is the set of (creator,type) predicates this conduit
	// answers to; an empty set matches every database.
	CreaTypes []CreaType

	Default bool
	Final   bool

	PrefDecls []PrefDecl

	// HeaderOverrides are extra "Name: value" header lines appended
	// after the mandatory headers, in declaration order.
	HeaderOverrides []Header
}

func (d *Descriptor) matchesDB(creator, typ uint32) bool {
	if len(d.CreaTypes) == 0 {
		return true
	}
	for _, ct := range d.CreaTypes {
		if ct.matches(creator, typ) {
			return true
		}
	}
	return false
}

// PrefLookup resolves a materialized preference by key; the sync engine
// supplies this as a closure over its own PrefCache so conduit stays
// free of a dependency on syncengine.
type PrefLookup func(creator uint32, id uint16) (version uint16, data []byte, ok bool)

// PrefWriter writes a preference through to the live device and, on
// success, should invalidate or update whatever cache backs PrefLookup.
type PrefWriter func(creator uint32, id uint16, version uint16, saved bool, data []byte) error

// DLPExecutor is the subset of the live DLP connection the SPC side
// channel is allowed to drive on a helper's behalf.
type DLPExecutor interface {
	RawCall(req []byte) ([]byte, error)
}

// RunContext carries the per-database, per-session state a dispatch
// pass needs: the live DLP executor for SPC passthrough, the
// preference lookup, and identifying strings for the header protocol.
type RunContext struct {
	Daemon  string
	Version string

	InputDB  string
	OutputDB string

	DB   dlp.DBInfo
	HasDB bool

	Executor   DLPExecutor
	Prefs      PrefLookup
	WritePref  PrefWriter

	Logger *log.Logger
}

// Result is one conduit invocation's outcome.
type Result struct {
	Descriptor *Descriptor
	Status     int
	Err        error
}

// Dispatcher runs the declared conduits for one phase against one
// database, in declaration order, per the four-step selection
// algorithm: gather phase-and-predicate matches, stash (don't run) the
// first default candidate, run every non-default match (stopping early
// at a Final one), and finally fall back to the stashed default if
// nothing else ran.
type Dispatcher struct {
	Descriptors []Descriptor
	Logger      *log.Logger
}

// Dispatch runs every conduit in Descriptors that matches phase and the
// database identified by ctx.DB, in declaration order.
func (disp *Dispatcher) Dispatch(phase Flavor, ctx RunContext) []Result {
	var results []Result
	var stashed *Descriptor
	ran := false

	for i := range disp.Descriptors {
		cand := &disp.Descriptors[i]
		if cand.Flavors&phase == 0 {
			continue
		}
		if ctx.HasDB && !cand.matchesDB(ctx.DB.Creator, ctx.DB.Type) {
			continue
		}
		if cand.Default {
			if stashed == nil {
				stashed = cand
			}
			continue
		}

		status, err := disp.run(cand, phase, ctx)
		results = append(results, Result{Descriptor: cand, Status: status, Err: err})
		ran = true
		if cand.Final {
			return results
		}
	}

	if !ran && stashed != nil {
		status, err := disp.run(stashed, phase, ctx)
		results = append(results, Result{Descriptor: stashed, Status: status, Err: err})
	}
	return results
}

func (disp *Dispatcher) run(d *Descriptor, phase Flavor, ctx RunContext) (int, error) {
	return RunConduit(d, phase, ctx)
}

func logf(l *log.Logger, format string, args ...interface{}) {
	if l != nil {
		l.Printf(format, args...)
	}
}

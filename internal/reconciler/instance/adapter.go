// Package instance is the instance adapter: existence checks
// and creation against the cloud compute API, plus a name-pattern search
// across zones used when a run's state.json lacks instance metadata.
package instance

import "context"

// VMLocation identifies a discovered instance.
type VMLocation struct {
	Name string
	Zone string
}

// Accelerator describes a single guest accelerator attachment.
type Accelerator struct {
	Type  string
	Count int64
}

// Spec is the subset of create-instance parameters the restart executor
// derives from restart_config.json. It intentionally carries
// no behavior of its own — instance spec construction lives in the restart
// package, which is the only caller.
type Spec struct {
	Name                string
	MachineType         string
	SourceImage         string
	DiskSizeGB          int64
	DiskType            string
	ServiceAccountEmail string
	Metadata            map[string]string
	Labels              map[string]string
	Accelerator         *Accelerator
	Spot                bool
}

// Adapter is the compute-API access surface the reconciler depends on.
type Adapter interface {
	// VMExists is fail-safe: any error other than an explicit not-found
	// must return true, so a transient API error never causes a run to be
	// declared orphaned by mistake.
	VMExists(ctx context.Context, project, zone, name string) (bool, error)
	// VMSearchByPattern does an aggregated cross-zone lookup by run id.
	VMSearchByPattern(ctx context.Context, project, namePattern string) (*VMLocation, error)
	// CreateInstance blocks until the create operation is done and the
	// instance is retrievable by name.
	CreateInstance(ctx context.Context, project, zone string, spec Spec) (name string, err error)
}

/*
Package dashboard builds the snapshot served to the UI: saved commands, supervised processes, and service health.

Each source is fetched concurrently and degrades independently. If the process registry or the catalog can't be
read, that part of the snapshot is empty and the rest is still served; the caller never sees an error and never
sees a partially built snapshot.
*/
package dashboard

import (
	"context"

	"github.com/guseggert/cmdhub/catalog"
	"github.com/guseggert/cmdhub/probe"
	"github.com/guseggert/cmdhub/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultLastOut = "System Ready."

type Snapshot struct {
	Commands  catalog.Commands    `json:"commands"`
	Processes []registry.Process  `json:"pm2_procs"`
	Ports     []probe.Status      `json:"ports_info"`
	LastOut   string              `json:"last_out"`
	Host      *registry.HostStats `json:"host,omitempty"`
}

// CommandLoader is the catalog as seen by the aggregator.
type CommandLoader interface {
	Load() (catalog.Commands, error)
}

type Aggregator struct {
	Log      *zap.SugaredLogger
	Catalog  CommandLoader
	Registry registry.Lister
	Services probe.ServiceStore
	Prober   *probe.Prober
	// SampleHost is optional.
	SampleHost func() (*registry.HostStats, error)
}

// Snapshot gathers all sources. It always returns a complete snapshot.
func (a *Aggregator) Snapshot(ctx context.Context, lastOut string) *Snapshot {
	if lastOut == "" {
		lastOut = DefaultLastOut
	}
	snap := &Snapshot{
		Commands:  catalog.Commands{},
		Processes: []registry.Process{},
		Ports:     []probe.Status{},
		LastOut:   lastOut,
	}

	// Each goroutine owns exactly one field of snap.
	var group errgroup.Group
	group.Go(func() error {
		snap.Commands = a.loadCommands()
		return nil
	})
	group.Go(func() error {
		procs := a.listProcesses(ctx)
		snap.Processes = procs
		snap.Ports = a.probeServices(ctx, procs)
		return nil
	})
	if a.SampleHost != nil {
		group.Go(func() error {
			stats, err := a.SampleHost()
			if err != nil {
				a.Log.Debugw("host stats unavailable", "Error", err)
				return nil
			}
			snap.Host = stats
			return nil
		})
	}
	_ = group.Wait()
	return snap
}

func (a *Aggregator) loadCommands() (cmds catalog.Commands) {
	defer func() {
		if r := recover(); r != nil {
			a.Log.Errorw("catalog panicked, serving empty command list", "Panic", r)
			cmds = catalog.Commands{}
		}
	}()
	cmds, err := a.Catalog.Load()
	if err != nil {
		a.Log.Warnw("catalog unavailable, serving empty command list", "Error", err)
		return catalog.Commands{}
	}
	if cmds == nil {
		return catalog.Commands{}
	}
	return cmds
}

func (a *Aggregator) listProcesses(ctx context.Context) (procs []registry.Process) {
	defer func() {
		if r := recover(); r != nil {
			a.Log.Errorw("process registry panicked, serving empty process list", "Panic", r)
			procs = []registry.Process{}
		}
	}()
	procs, err := a.Registry.List(ctx)
	if err != nil {
		a.Log.Warnw("process registry unavailable, serving empty process list", "Error", err)
		return []registry.Process{}
	}
	if procs == nil {
		return []registry.Process{}
	}
	return procs
}

func (a *Aggregator) probeServices(ctx context.Context, procs []registry.Process) []probe.Status {
	services, err := a.Services.Load()
	if err != nil {
		a.Log.Warnw("unable to load services", "Error", err)
	}
	if len(services) == 0 {
		return []probe.Status{}
	}
	return a.Prober.ProbeAll(ctx, services, procs)
}

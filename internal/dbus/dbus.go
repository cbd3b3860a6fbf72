// Package dbus is the managed-daemon control plane for daemons that run
// as systemd units (spec §4.4 and §4.7's "reload is preferred over
// restart"; the specific channel is configurable per spec §6). Adapted
// from the teacher's pkg/nodeagent/dbus, which drives kubelet/containerd
// units from the same coreos/go-systemd/v22 dbus connection; here it
// drives the DNS and filter daemons' systemd units instead.
package dbus

import "context"

// Dbus is the systemd control surface a plugin needs: enable/disable a
// unit's start-on-boot state, and start/stop/restart/reload it now.
type Dbus interface {
	Enable(ctx context.Context, unitName string) error
	Disable(ctx context.Context, unitName string) error
	Start(ctx context.Context, properties []Property, ch chan<- string, unitName string) error
	Stop(ctx context.Context, properties []Property, ch chan<- string, unitName string) error
	Restart(ctx context.Context, properties []Property, ch chan<- string, unitName string) error
	Reload(ctx context.Context, unitName string) error
	DaemonReload(ctx context.Context) error
	Close()
}

// Property is a systemd unit start property (e.g. an environment
// override). The systemd-backed implementation accepts but ignores
// properties: it starts, stops and restarts existing units by name and
// does not create transient units.
type Property struct {
	Name  string
	Value any
}

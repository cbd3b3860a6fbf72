package dbus

import "context"

// FakeAction identifies which systemd operation a FakeDbus call recorded.
type FakeAction int

const (
	FakeEnable FakeAction = iota
	FakeDisable
	FakeStart
	FakeStop
	FakeRestart
	FakeReload
	FakeDaemonReload
)

// FakeSystemdAction records one call made against a FakeDbus.
type FakeSystemdAction struct {
	Action    FakeAction
	UnitNames []string
}

// FakeDbus is an in-memory Dbus for tests, adapted directly from the
// teacher's dbus.FakeDbus: it never touches a real systemd and simply
// appends every call it receives to Actions, so a test can assert on the
// exact sequence of daemon-control operations a plugin performed.
type FakeDbus struct {
	Actions []FakeSystemdAction
}

func (f *FakeDbus) Enable(_ context.Context, unitName string) error {
	f.Actions = append(f.Actions, FakeSystemdAction{Action: FakeEnable, UnitNames: []string{unitName}})
	return nil
}

func (f *FakeDbus) Disable(_ context.Context, unitName string) error {
	f.Actions = append(f.Actions, FakeSystemdAction{Action: FakeDisable, UnitNames: []string{unitName}})
	return nil
}

func (f *FakeDbus) Start(_ context.Context, _ []Property, _ chan<- string, unitName string) error {
	f.Actions = append(f.Actions, FakeSystemdAction{Action: FakeStart, UnitNames: []string{unitName}})
	return nil
}

func (f *FakeDbus) Stop(_ context.Context, _ []Property, _ chan<- string, unitName string) error {
	f.Actions = append(f.Actions, FakeSystemdAction{Action: FakeStop, UnitNames: []string{unitName}})
	return nil
}

func (f *FakeDbus) Restart(_ context.Context, _ []Property, _ chan<- string, unitName string) error {
	f.Actions = append(f.Actions, FakeSystemdAction{Action: FakeRestart, UnitNames: []string{unitName}})
	return nil
}

func (f *FakeDbus) Reload(_ context.Context, unitName string) error {
	f.Actions = append(f.Actions, FakeSystemdAction{Action: FakeReload, UnitNames: []string{unitName}})
	return nil
}

func (f *FakeDbus) DaemonReload(_ context.Context) error {
	f.Actions = append(f.Actions, FakeSystemdAction{Action: FakeDaemonReload})
	return nil
}

func (f *FakeDbus) Close() {}

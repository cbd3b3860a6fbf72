package dbus

import (
	"context"
	"fmt"

	godbus "github.com/coreos/go-systemd/v22/dbus"
)

// systemdDbus implements Dbus against the host's real systemd, via a
// private D-Bus connection (root's system bus by default).
type systemdDbus struct {
	conn *godbus.Conn
}

// New opens a connection to the system D-Bus.
func New(ctx context.Context) (Dbus, error) {
	conn, err := godbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to system dbus: %w", err)
	}
	return &systemdDbus{conn: conn}, nil
}

func (d *systemdDbus) Enable(ctx context.Context, unitName string) error {
	_, _, err := d.conn.EnableUnitFilesContext(ctx, []string{unitName}, false, true)
	return err
}

func (d *systemdDbus) Disable(ctx context.Context, unitName string) error {
	_, err := d.conn.DisableUnitFilesContext(ctx, []string{unitName}, false)
	return err
}

func (d *systemdDbus) Start(ctx context.Context, _ []Property, ch chan<- string, unitName string) error {
	_, err := d.conn.StartUnitContext(ctx, unitName, "replace", ch)
	return err
}

func (d *systemdDbus) Stop(ctx context.Context, _ []Property, ch chan<- string, unitName string) error {
	_, err := d.conn.StopUnitContext(ctx, unitName, "replace", ch)
	return err
}

func (d *systemdDbus) Restart(ctx context.Context, _ []Property, ch chan<- string, unitName string) error {
	_, err := d.conn.RestartUnitContext(ctx, unitName, "replace", ch)
	return err
}

func (d *systemdDbus) Reload(ctx context.Context, unitName string) error {
	ch := make(chan string, 1)
	_, err := d.conn.ReloadUnitContext(ctx, unitName, "replace", ch)
	if err != nil {
		return err
	}
	<-ch
	return nil
}

func (d *systemdDbus) DaemonReload(ctx context.Context) error {
	return d.conn.ReloadContext(ctx)
}

func (d *systemdDbus) Close() {
	d.conn.Close()
}

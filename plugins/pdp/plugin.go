package pdp

import (
	"context"

	"github.com/nnoe/node-agent/internal/plugin"
)

// Driver wraps Client in the plugin.Plugin lifecycle so the PDP client
// participates in startup/shutdown like the other service plugins
// (spec §4.11 registers "the enabled plugins" uniformly), even though it
// has no KVDB-driven on-disk state of its own: the PDP endpoint is
// static, owned entirely by the config file.
type Driver struct {
	*Client
}

// NewDriver wraps an existing Client as a plugin.Plugin.
func NewDriver(c *Client) *Driver {
	return &Driver{Client: c}
}

func (d *Driver) Name() string { return "pdp" }

func (d *Driver) Init(ctx context.Context) error { return nil }

// OnChange is a no-op: the PDP client has no KVDB-driven state to react to.
func (d *Driver) OnChange(ctx context.Context, change plugin.Change) error {
	return nil
}

func (d *Driver) Reload(ctx context.Context) error { return nil }

func (d *Driver) Health(ctx context.Context) bool { return true }

func (d *Driver) Shutdown(ctx context.Context) error { return nil }

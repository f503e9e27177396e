package config

import (
	"github.com/marmos91/nfs4cb/internal/protocol/nfs/v4/state"
)

// ApplyToEngine pushes the loaded Callback tuning into the callback
// engine's package-level knobs. Must be called once at startup before
// any ClientRecord or Session is constructed.
func (cfg *Config) ApplyToEngine() {
	state.ApplyTunables(cfg.Callback.MaxSlots, cfg.Callback.MaxRetries, cfg.Callback.MinTimeout, cfg.Callback.DelayRetryInterval)
}

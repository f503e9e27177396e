package config

import (
	"testing"

	"github.com/marmos91/nfs4cb/internal/protocol/nfs/v4/state"
)

func TestApplyToEngine_OverridesMaxSlots(t *testing.T) {
	original := state.DefaultMaxSlots
	defer func() { state.DefaultMaxSlots = original }()

	cfg := GetDefaultConfig()
	cfg.Callback.MaxSlots = 3
	cfg.ApplyToEngine()

	if state.DefaultMaxSlots != 3 {
		t.Errorf("Expected engine max slots 3, got %d", state.DefaultMaxSlots)
	}
}

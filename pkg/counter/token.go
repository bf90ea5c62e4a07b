package counter

import "github.com/google/uuid"

// ChangeToken returns a value that differs on every call, for hosts that only
// re-run a node when its change token changes. The token embeds the config
// fingerprint followed by a random UUID. It never reads or writes counter state.
func ChangeToken(cfg Config) string {
	return cfg.fingerprint() + "#" + uuid.NewString()
}

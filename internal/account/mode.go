package account

import "strings"

// Mode 标识账户是模拟盘还是实盘。
type Mode string

const (
	ModeSim  Mode = "SIM"
	ModeLive Mode = "LIVE"
)

// Rule classifies account identifiers. The rule is externally supplied
// configuration; Resolve itself is pure and keeps no state.
type Rule struct {
	SimPrefixes []string
	SimIDs      []string
}

// Resolve maps an account identifier onto a mode. Unknown or empty
// identifiers resolve LIVE: treating a real account as simulated would
// silently suppress its balance updates, which is the worse failure.
func (r Rule) Resolve(accountID string) Mode {
	id := strings.ToUpper(strings.TrimSpace(accountID))
	if id == "" {
		return ModeLive
	}
	for _, sim := range r.SimIDs {
		if id == strings.ToUpper(strings.TrimSpace(sim)) {
			return ModeSim
		}
	}
	for _, prefix := range r.SimPrefixes {
		p := strings.ToUpper(strings.TrimSpace(prefix))
		if p != "" && strings.HasPrefix(id, p) {
			return ModeSim
		}
	}
	return ModeLive
}

package config

import "strings"

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9992"
	defaultAppLogPath       = "/data/logs/tally.log"
	defaultFeedReconnect    = 5
	defaultFeedHandshake    = 10
	defaultTickCapacity     = 256
	defaultSnapshotDebounce = 500
	defaultStoreDBPath      = "/data/db/tally.db"
	defaultStoreJournalPath = "/data/db/tally-journal.db"
	defaultInstrumentsPath  = "configs/instruments.yaml"
	defaultSimBaselineUSD   = 50000
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Feed.applyDefaults(keys)
	c.Accounts.applyDefaults(keys)
	c.Queue.applyDefaults(keys)
	c.Snapshot.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Instruments.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (f *FeedConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "feed.reconnect_seconds",
			need:  func() bool { return f.ReconnectSeconds <= 0 },
			apply: func() { f.ReconnectSeconds = defaultFeedReconnect },
		},
		fieldDefault{
			key:   "feed.handshake_seconds",
			need:  func() bool { return f.HandshakeSeconds <= 0 },
			apply: func() { f.HandshakeSeconds = defaultFeedHandshake },
		},
	)
}

func (a *AccountsConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "accounts.sim_baseline_usd",
			need:  func() bool { return a.SimBaselineUSD <= 0 },
			apply: func() { a.SimBaselineUSD = defaultSimBaselineUSD },
		},
	)
	if len(a.SimPrefixes) == 0 && !keys.isSet("accounts.sim_prefixes") {
		a.SimPrefixes = []string{"SIM", "DEMO"}
	}
}

func (q *QueueConfig) applyDefaults(keys keySet) {
	if q == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "queue.tick_capacity",
			need:  func() bool { return q.TickCapacity <= 0 },
			apply: func() { q.TickCapacity = defaultTickCapacity },
		},
	)
}

func (s *SnapshotConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "snapshot.debounce_ms",
			need:  func() bool { return s.DebounceMs <= 0 },
			apply: func() { s.DebounceMs = defaultSnapshotDebounce },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.db_path", &s.DBPath, defaultStoreDBPath),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultStoreJournalPath),
	)
}

func (i *InstrumentsConfig) applyDefaults(keys keySet) {
	if i == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("instruments.path", &i.Path, defaultInstrumentsPath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

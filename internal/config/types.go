package config

import "strings"

// Config 是 tally 的主配置载体。
type Config struct {
	App         AppConfig         `toml:"app"`
	Feed        FeedConfig        `toml:"feed"`
	Binance     BinanceFeedConfig `toml:"binance"`
	Accounts    AccountsConfig    `toml:"accounts"`
	Queue       QueueConfig       `toml:"queue"`
	Snapshot    SnapshotConfig    `toml:"snapshot"`
	Store       StoreConfig       `toml:"store"`
	Instruments InstrumentsConfig `toml:"instruments"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// FeedConfig 描述主 websocket 行情/账户通道。
type FeedConfig struct {
	Enabled          bool   `toml:"enabled"`
	WSURL            string `toml:"ws_url"`
	ReconnectSeconds int    `toml:"reconnect_seconds"`
	HandshakeSeconds int    `toml:"handshake_seconds"`
	// ReplayPath 若非空，则改为从 JSON-lines 抓包文件回放消息（离线调试用）。
	ReplayPath string `toml:"replay_path"`
	// CapturePath 若非空，则把收到的原始 frames 追加写入抓包文件。
	CapturePath string `toml:"capture_path"`
}

// BinanceFeedConfig 描述可选的 binance 标记价格辅助通道。
type BinanceFeedConfig struct {
	Enabled bool     `toml:"enabled"`
	Account string   `toml:"account"`
	Symbols []string `toml:"symbols"`
	UseTest bool     `toml:"use_testnet"`
}

// AccountsConfig 定义账户模式判定规则与 SIM 资金基线。
type AccountsConfig struct {
	// SimPrefixes: 账户 ID 以这些前缀开头则判定为模拟账户。
	SimPrefixes []string `toml:"sim_prefixes"`
	// SimIDs: 显式列出的模拟账户 ID（完整匹配，不区分大小写）。
	SimIDs []string `toml:"sim_ids"`
	// SimBaselineUSD: 模拟账户启动时的一次性资金基线。
	SimBaselineUSD float64 `toml:"sim_baseline_usd"`
}

// QueueConfig 只约束行情 tick 车道；关键事件车道无界，不做配置。
type QueueConfig struct {
	TickCapacity int `toml:"tick_capacity"`
}

type SnapshotConfig struct {
	DebounceMs int `toml:"debounce_ms"`
}

type StoreConfig struct {
	DBPath      string `toml:"db_path"`
	JournalPath string `toml:"journal_path"`
}

type InstrumentsConfig struct {
	Path string `toml:"path"`
}

// IsSimID 判断账户 ID 是否落在显式模拟名单内。
func (a AccountsConfig) IsSimID(id string) bool {
	id = strings.TrimSpace(strings.ToUpper(id))
	for _, sim := range a.SimIDs {
		if strings.TrimSpace(strings.ToUpper(sim)) == id && id != "" {
			return true
		}
	}
	return false
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

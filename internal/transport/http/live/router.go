package livehttp

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"tally/internal/bridge"
	"tally/internal/diag"
	"tally/internal/instrument"
	"tally/internal/journal"
	"tally/internal/store"

	"github.com/gin-gonic/gin"
)

// Router 暴露桥接状态的只读查询接口。所有数据来自引擎的原子视图
// 与数据库，不会触碰消费循环。
type Router struct {
	engine      *bridge.Engine
	trades      store.TradeRepository
	journal     *journal.EventJournal
	metrics     *diag.Metrics
	instruments *instrument.Registry
}

// NewRouter 构造 live HTTP router。
func NewRouter(engine *bridge.Engine, trades store.TradeRepository, j *journal.EventJournal, metrics *diag.Metrics, reg *instrument.Registry) *Router {
	return &Router{engine: engine, trades: trades, journal: j, metrics: metrics, instruments: reg}
}

// Register 将 /api/live 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/accounts", r.handleAccounts)
	group.GET("/positions", r.handlePositions)
	group.GET("/trades", r.handleTrades)
	group.GET("/orders", r.handleOrders)
	group.GET("/instruments", r.handleInstruments)
	group.GET("/diagnostics", r.handleDiagnostics)
	group.GET("/journal", r.handleJournal)
}

func (r *Router) handleAccounts(c *gin.Context) {
	view := r.engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"generated_at": view.GeneratedAt,
		"accounts":     view.Accounts,
	})
}

func (r *Router) handlePositions(c *gin.Context) {
	view := r.engine.Snapshot()
	positions := view.Positions
	if acct := strings.TrimSpace(c.Query("account")); acct != "" {
		filtered := positions[:0:0]
		for _, pos := range positions {
			if pos.Account == acct {
				filtered = append(filtered, pos)
			}
		}
		positions = filtered
	}
	c.JSON(http.StatusOK, gin.H{
		"generated_at": view.GeneratedAt,
		"positions":    positions,
	})
}

func (r *Router) handleTrades(c *gin.Context) {
	account := strings.TrimSpace(c.Query("account"))
	limit := parseIntQuery(c, "limit", 100)
	from := parseTimeQuery(c, "from")
	to := parseTimeQuery(c, "to")

	trades, err := r.trades.ListClosed(c.Request.Context(), account, from, to, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handleOrders(c *gin.Context) {
	view := r.engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"generated_at": view.GeneratedAt,
		"orders":       view.Orders,
	})
}

func (r *Router) handleInstruments(c *gin.Context) {
	if r.instruments == nil {
		c.JSON(http.StatusOK, gin.H{"instruments": gin.H{}})
		return
	}
	snap := r.instruments.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":     snap.Version,
		"loaded_at":   snap.LoadedAt,
		"instruments": snap.Specs,
	})
}

func (r *Router) handleDiagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, r.metrics.Snapshot())
}

func (r *Router) handleJournal(c *gin.Context) {
	if r.journal == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []journal.Entry{}})
		return
	}
	entries, err := r.journal.List(c.Request.Context(), journal.Query{
		Category: strings.TrimSpace(c.Query("category")),
		Account:  strings.TrimSpace(c.Query("account")),
		Limit:    parseIntQuery(c, "limit", 100),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func parseIntQuery(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}

// parseTimeQuery accepts RFC3339 or unix milliseconds.
func parseTimeQuery(c *gin.Context, key string) time.Time {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}
	}
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil && ts > 0 {
		return time.UnixMilli(ts)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Time{}
}

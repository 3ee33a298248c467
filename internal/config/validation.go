package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Feed.validate(); err != nil {
		return err
	}
	if err := c.Binance.validate(); err != nil {
		return err
	}
	if err := c.Queue.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	return nil
}

func (f *FeedConfig) validate() error {
	if !f.Enabled {
		return nil
	}
	if strings.TrimSpace(f.WSURL) == "" && strings.TrimSpace(f.ReplayPath) == "" {
		return fmt.Errorf("feed enabled but feed.ws_url and feed.replay_path are both empty")
	}
	return nil
}

func (b *BinanceFeedConfig) validate() error {
	if !b.Enabled {
		return nil
	}
	if strings.TrimSpace(b.Account) == "" {
		return fmt.Errorf("binance feed enabled but binance.account is empty")
	}
	if len(b.Symbols) == 0 {
		return fmt.Errorf("binance feed enabled but binance.symbols is empty")
	}
	return nil
}

func (q *QueueConfig) validate() error {
	if q.TickCapacity < 0 {
		return fmt.Errorf("queue.tick_capacity must be >= 0")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.DBPath) == "" {
		return fmt.Errorf("store.db_path cannot be empty")
	}
	return nil
}

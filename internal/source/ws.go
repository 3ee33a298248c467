package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tally/internal/config"
	"tally/internal/logger"
	"tally/internal/wire"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultHandshake      = 10 * time.Second
	readTimeout           = 60 * time.Second
	pingInterval          = 20 * time.Second
	maxFrameBytes         = 5 * 1024 * 1024
)

// WSSource 连接券商桥接网关的 websocket 通道，frames 形如
// {"type": 155, "data": {...}}。断线自动重连，重连期间丢失的消息由
// 券商端的全量仓位推送补齐。
type WSSource struct {
	url       string
	reconnect time.Duration
	handshake time.Duration
}

func NewWSSource(cfg config.FeedConfig) (*WSSource, error) {
	url := strings.TrimSpace(cfg.WSURL)
	if url == "" {
		return nil, fmt.Errorf("feed ws_url is required")
	}
	reconnect := defaultReconnectDelay
	if cfg.ReconnectSeconds > 0 {
		reconnect = time.Duration(cfg.ReconnectSeconds) * time.Second
	}
	handshake := defaultHandshake
	if cfg.HandshakeSeconds > 0 {
		handshake = time.Duration(cfg.HandshakeSeconds) * time.Second
	}
	return &WSSource{url: url, reconnect: reconnect, handshake: handshake}, nil
}

func (s *WSSource) Name() string { return "feed-ws" }

func (s *WSSource) Run(ctx context.Context, emit Emit) error {
	for {
		if err := s.runOnce(ctx, emit); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warnf("[%s] connection lost: %v, reconnecting in %s", s.Name(), err, s.reconnect)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnect):
		}
	}
}

func (s *WSSource) runOnce(ctx context.Context, emit Emit) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.handshake}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Infof("[%s] connected to %s", s.Name(), s.url)

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		msg, ok := parseFrame(frame)
		if !ok {
			logger.Debugf("[%s] malformed frame dropped (%d bytes)", s.Name(), len(frame))
			continue
		}
		emit(msg)
	}
}

// parseFrame splits the envelope into type code and payload. A frame
// without a numeric type is malformed and dropped at this layer; an
// unknown but well-formed code still flows through so the normalizer
// can count it.
func parseFrame(frame []byte) (wire.RawMessage, bool) {
	typ := gjson.GetBytes(frame, "type")
	if typ.Type != gjson.Number {
		return wire.RawMessage{}, false
	}
	payload := gjson.GetBytes(frame, "data")
	raw := []byte(payload.Raw)
	if !payload.Exists() {
		raw = []byte("{}")
	}
	return wire.RawMessage{
		Code:    wire.TypeCode(typ.Int()),
		Payload: raw,
		Recv:    time.Now(),
	}, true
}

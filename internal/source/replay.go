package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"tally/internal/logger"
)

// ReplaySource 从 JSON-lines 抓包文件回放 frames，离线调试与测试用。
// 文件每行一个 {"type": N, "data": {...}} 信封。
type ReplaySource struct {
	path string
}

func NewReplaySource(path string) (*ReplaySource, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("replay path is required")
	}
	return &ReplaySource{path: path}, nil
}

func (s *ReplaySource) Name() string { return "feed-replay" }

func (s *ReplaySource) Run(ctx context.Context, emit Emit) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	lines := 0
	emitted := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		lines++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, ok := parseFrame(line)
		if !ok {
			logger.Debugf("[%s] line %d malformed, skipped", s.Name(), lines)
			continue
		}
		emit(msg)
		emitted++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read replay file: %w", err)
	}
	logger.Infof("[%s] replay complete: %d frames from %d lines", s.Name(), emitted, lines)
	<-ctx.Done()
	return nil
}

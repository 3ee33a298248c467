package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tally/internal/config"
	"tally/internal/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	cases := []struct {
		name    string
		frame   string
		ok      bool
		code    wire.TypeCode
		payload string
	}{
		{"position frame", `{"type":155,"data":{"account":"SIM-1"}}`, true, 155, `{"account":"SIM-1"}`},
		{"unknown but well-formed code", `{"type":999,"data":{}}`, true, 999, `{}`},
		{"missing data defaults to empty object", `{"type":100}`, true, 100, `{}`},
		{"string type code", `{"type":"155","data":{}}`, false, 0, ""},
		{"missing type", `{"data":{}}`, false, 0, ""},
		{"not json", `hello`, false, 0, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := parseFrame([]byte(tc.frame))
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.code, msg.Code)
				assert.JSONEq(t, tc.payload, string(msg.Payload))
				assert.False(t, msg.Recv.IsZero())
			}
		})
	}
}

// Frames written by the capture writer must replay byte-compatibly.
func TestCaptureThenReplayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	w, err := NewCaptureWriter(path)
	require.NoError(t, err)

	frames := []wire.RawMessage{
		{Code: 155, Payload: []byte(`{"account":"SIM-1","symbol":"NQ","quantity":1}`), Recv: time.Now()},
		{Code: 250, Payload: []byte(`{"symbol":"NQ","price":6845.0}`), Recv: time.Now()},
	}
	for _, msg := range frames {
		require.NoError(t, w.Append(msg))
	}
	require.NoError(t, w.Close())

	src, err := NewReplaySource(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var got []wire.RawMessage
	emit := func(msg wire.RawMessage) {
		got = append(got, msg)
		if len(got) == len(frames) {
			cancel()
		}
	}
	require.NoError(t, src.Run(ctx, emit))

	require.Len(t, got, len(frames))
	for i, msg := range got {
		assert.Equal(t, frames[i].Code, msg.Code)
		assert.JSONEq(t, string(frames[i].Payload), string(msg.Payload))
	}
}

func TestTapRecordsAndForwards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	w, err := NewCaptureWriter(path)
	require.NoError(t, err)
	defer w.Close()

	var delivered []wire.TypeCode
	emit := w.Tap(func(msg wire.RawMessage) {
		delivered = append(delivered, msg.Code)
	})
	emit(wire.RawMessage{Code: 155, Payload: []byte(`{}`), Recv: time.Now()})
	emit(wire.RawMessage{Code: 250, Payload: []byte(`{}`), Recv: time.Now()})

	assert.Equal(t, []wire.TypeCode{155, 250}, delivered)
}

func TestReplaySkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	content := `{"type":155,"data":{"account":"SIM-1"}}
not a frame

{"type":250,"data":{"symbol":"NQ","price":1.0}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src, err := NewReplaySource(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var got []wire.TypeCode
	require.NoError(t, src.Run(ctx, func(msg wire.RawMessage) {
		got = append(got, msg.Code)
		if len(got) == 2 {
			cancel()
		}
	}))
	assert.Equal(t, []wire.TypeCode{155, 250}, got)
}

func TestSourceConstructorsRejectEmptyInput(t *testing.T) {
	_, err := NewReplaySource(" ")
	assert.Error(t, err)

	_, err = NewWSSource(config.FeedConfig{})
	assert.Error(t, err)
}

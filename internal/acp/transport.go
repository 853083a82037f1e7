package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/acp-bridge/internal/logging"
)

// maxFrameBytes bounds the accumulated-but-undelimited input buffer. A
// legitimate JSON-RPC frame fits far under this; bytes beyond it are
// discarded with a warning rather than grown without bound (spec §4.1).
const maxFrameBytes = 1 << 20 // 1 MiB

// Transport reads NDJSON frames from an input stream and writes JSON-RPC
// messages to an output stream with single-writer discipline: all writes
// funnel through one mutex so that no two frames interleave on the wire
// (spec §4.1, §5).
type Transport struct {
	in     *bufio.Reader
	out    io.Writer
	writeMu sync.Mutex
	logger *logging.Logger

	onFrame func(*Frame)
	onClose func()
}

// NewTransport wraps r/w as the bridge's stdio. r is typically os.Stdin,
// w is typically os.Stdout; diagnostics never touch either.
func NewTransport(r io.Reader, w io.Writer, log *logging.Logger) *Transport {
	return &Transport{
		in:     bufio.NewReaderSize(r, 64*1024),
		out:    w,
		logger: log.WithFields(zap.String("component", "transport")),
	}
}

// OnFrame registers the callback invoked for each successfully decoded frame.
func (t *Transport) OnFrame(fn func(*Frame)) { t.onFrame = fn }

// OnClose registers the callback invoked once the input stream is exhausted
// (EOF), which initiates graceful shutdown (spec §4.1).
func (t *Transport) OnClose(fn func()) { t.onClose = fn }

// Run reads lines until EOF or ctx cancellation, decoding each non-empty
// line as one JSON frame and dispatching it to onFrame. It returns when the
// input stream closes.
func (t *Transport) Run(ctx context.Context) error {
	var pending []byte
	discarded := 0 // bytes dropped from the current line once it exceeded maxFrameBytes

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := t.in.ReadSlice('\n')
		if discarded > 0 || len(pending)+len(line) > maxFrameBytes {
			discarded += len(pending) + len(line)
			pending = nil
		} else {
			pending = append(pending, line...)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if err == io.EOF {
				if t.onClose != nil {
					t.onClose()
				}
				return nil
			}
			return fmt.Errorf("acp: transport read: %w", err)
		}

		if discarded > 0 {
			t.logger.Warn("discarding oversized input line", zap.Int("bytes", discarded))
			discarded = 0
			continue
		}

		trimmed := trimNewline(pending)
		pending = nil
		if len(trimmed) == 0 {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(trimmed, &frame); err != nil {
			t.logger.Warn("malformed frame", zap.Error(err))
			_ = t.WriteFrame(newErrorFrame(nil, &RPCError{Code: CodeParseError, Message: "parse error"}))
			continue
		}
		if t.onFrame != nil {
			t.onFrame(&frame)
		}
	}
}

func trimNewline(b []byte) []byte {
	n := len(b)
	for n > 0 && (b[n-1] == '\n' || b[n-1] == '\r') {
		n--
	}
	return b[:n]
}

// WriteFrame serializes and writes a single frame, serialized against all
// other writers so frames never interleave on the output stream.
func (t *Transport) WriteFrame(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("acp: marshal frame: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.out.Write(data); err != nil {
		t.logger.Error("write failed", zap.Error(err))
		return fmt.Errorf("acp: transport write: %w", err)
	}
	return nil
}

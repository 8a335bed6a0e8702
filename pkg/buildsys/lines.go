package buildsys

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// lineLogger forwards process output to the logger, one event per line. Events carry the
// variant and stream so concurrent builds stay distinguishable.
type lineLogger struct {
	ctx     context.Context
	variant string
	stream  string
	level   zerolog.Level

	lock   sync.Mutex
	buffer bytes.Buffer
}

func newLineLogger(ctx context.Context, variant, stream string, level zerolog.Level) *lineLogger {
	return &lineLogger{
		ctx:     ctx,
		variant: variant,
		stream:  stream,
		level:   level,
	}
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.buffer.Write(p)
	for {
		line, err := w.buffer.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			w.buffer.Reset()
			w.buffer.WriteString(line)
			break
		}

		w.emit(line)
	}

	return len(p), nil
}

// Flush logs any trailing output without a final line break.
func (w *lineLogger) Flush() {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.buffer.Len() > 0 {
		w.emit(w.buffer.String())
		w.buffer.Reset()
	}
}

func (w *lineLogger) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}

	Log(w.ctx).WithLevel(w.level).
		Str("variant", w.variant).
		Str("stream", w.stream).
		Msg(line)
}

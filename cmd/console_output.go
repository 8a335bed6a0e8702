package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// ConsoleWriter renders zerolog's JSON events as coloured lines. Writes from concurrent
// builds are serialized.
type ConsoleWriter struct {
	out    io.Writer
	buffer strings.Builder
	lock   sync.Mutex
}

var consoleColors = colorstring.Colorize{Colors: colorstring.DefaultColors}

func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{out: out}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal", "error":
		w.markup("[red]")
	case "warn":
		w.markup("[yellow]")
	case "debug", "trace":
		w.markup("[blue]")
	default:
		if _, ok := evt["stream"]; ok {
			w.markup("[default]")
		} else {
			w.markup("[green]")
		}
	}

	if variant, ok := evt["variant"].(string); ok {
		w.markup("[bold]")
		w.buffer.WriteString(variant)
		w.markup("[reset]")
		w.buffer.WriteString(": ")
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)

	if path, ok := evt["path"].(string); ok {
		// simplify the path
		relPath, err := filepath.Rel(".", path)
		if err == nil && !strings.HasPrefix(relPath, "..") {
			msg = strings.ReplaceAll(msg, path, relPath)
			if !strings.Contains(msg, relPath) {
				msg += " (" + relPath + ")"
			}
		}
	}

	w.buffer.WriteString(msg)

	if duration, ok := evt["duration"]; ok {
		w.buffer.WriteString(fmt.Sprintf(" (%vms)", duration))
	}

	if errorDetails, ok := evt["error"].(string); ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(errorDetails)
	}

	if os.Getenv("VBUILD_DEBUG") != "" {
		w.buffer.WriteString("\n")
		for name, value := range evt {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, value))
		}
	}

	w.markup("[reset]")
	w.buffer.WriteString("\n")
	_, err = io.WriteString(w.out, w.buffer.String())
	if err != nil {
		return 0, err
	}

	return len(p), nil
}

// markup appends colour codes. Event text is written to the buffer directly so that
// build output like "[red]" is printed as is.
func (w *ConsoleWriter) markup(codes string) {
	w.buffer.WriteString(consoleColors.Color(codes))
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv("VBUILD_DEBUG") != "")
	}
}

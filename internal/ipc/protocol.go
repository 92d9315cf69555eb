// Package ipc carries small control requests between instances of the
// program over a per-user named pipe. A second launch uses it to bring the
// running window to the front instead of starting a second keyboard hook.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"toddlermode/internal/userutil"
)

const (
	appName          = "ToddlerMode"
	pipePrefix       = `\\.\pipe\`
	pipeNameEnv      = "TODDLERMODE_PIPE"
	maxRequestBytes  = 4 * 1024
	maxResponseBytes = 4 * 1024
)

// CommandActivateWindow asks the running instance to show and raise its window.
const CommandActivateWindow = "activate-window"

var pipeNamePattern = regexp.MustCompile(`(?i)^\\\\\.\\pipe\\ToddlerMode-[a-z0-9._-]{1,128}$`)

// ErrUnsupported is returned where named pipes are not available.
var ErrUnsupported = errors.New("named pipes are not supported on this platform")

// Request is one command sent by a client.
type Request struct {
	Command string `json:"command"`
}

// Response answers one Request.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Handler serves requests accepted by a PipeServer.
type Handler interface {
	HandleIPC(req Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req Request) Response

func (f HandlerFunc) HandleIPC(req Request) Response { return f(req) }

// DefaultPipeName returns the per-user pipe path. TODDLERMODE_PIPE overrides
// it when the value matches the expected pattern.
func DefaultPipeName() string {
	if v, ok := trustedPipeNameFromEnv(); ok {
		return v
	}
	return pipePrefix + userutil.ObjectName(appName)
}

func trustedPipeNameFromEnv() (string, bool) {
	value := strings.TrimSpace(os.Getenv(pipeNameEnv))
	if value == "" {
		return "", false
	}
	if !pipeNamePattern.MatchString(value) {
		slog.Warn("[ipc] pipe name override rejected: value does not match allowed pattern", "env", pipeNameEnv, "value", value)
		return "", false
	}
	return value, true
}

// writeFrame writes v as one JSON line.
func writeFrame(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	raw = append(raw, '\n')
	_, err = w.Write(raw)
	return err
}

// readFrame reads one newline-terminated frame of at most maxBytes. A frame
// cut short by EOF is returned as is; an empty stream returns io.EOF.
func readFrame(r io.Reader, maxBytes int) ([]byte, error) {
	reader := bufio.NewReaderSize(r, maxBytes+1)
	raw, err := reader.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return nil, fmt.Errorf("frame exceeds %d bytes", maxBytes)
	case errors.Is(err, io.EOF):
		if len(raw) == 0 {
			return nil, io.EOF
		}
		return raw, nil
	case err != nil:
		return nil, err
	}
	return raw, nil
}

func decodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, err
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		return Request{}, errors.New("command is required")
	}
	return req, nil
}

func decodeResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

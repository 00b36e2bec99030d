package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/faceapi/internal/types"
	"github.com/andresmejia3/faceapi/internal/utils"
)

// ErrEngine wraps error messages reported by the engine process itself.
var ErrEngine = errors.New("face engine error")

const (
	statusOK    = 0
	statusError = 1

	// DefaultMaxImageBytes bounds a single request frame.
	DefaultMaxImageBytes = 32 * 1024 * 1024
)

// Config describes how to start the engine process.
type Config struct {
	// Command is the engine command line.
	Command []string
	// PersonGroup is the group register and identify operate on.
	PersonGroup string
	// MaxImageBytes rejects larger inputs before they reach the pipe.
	MaxImageBytes int64
}

// DefaultConfig runs the bundled python engine against the demo group.
func DefaultConfig() Config {
	return Config{
		Command:       []string{"python3", "-u", "python/face_engine.py"},
		PersonGroup:   "demo_group",
		MaxImageBytes: DefaultMaxImageBytes,
	}
}

// Engine talks to one face engine process. It implements faceq.Backend.
// Calls are serialized: the protocol allows one outstanding request.
type Engine struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	maxImageBytes int64
	mu            sync.Mutex
}

// NewEngine starts the engine process. The process is killed when ctx ends.
func NewEngine(ctx context.Context, id int, cfg Config) (*Engine, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("engine %d: empty command", id)
	}
	args := append([]string{}, cfg.Command[1:]...)
	args = append(args, "--person-group", cfg.PersonGroup)
	cmd := utils.NewSafeCommand(ctx, cfg.Command[0], args...)

	// Create a side-channel pipe (FD 3) so engine logs on stdout never corrupt the protocol
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("engine %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	maxBytes := cfg.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &Engine{
		ID:            id,
		Cmd:           cmd,
		Stdin:         stdin,
		DataPipe:      r,
		maxImageBytes: maxBytes,
	}, nil
}

// Detect finds faces and their attributes.
func (e *Engine) Detect(ctx context.Context, input io.ReadSeeker, size int64, table *types.DetectTable) error {
	var faces []types.DetectResult
	if err := e.call(ctx, types.OpDetect, input, size, &faces); err != nil {
		return err
	}
	table.Append(faces...)
	return nil
}

// Register adds every face in the image to the person group as a new person.
func (e *Engine) Register(ctx context.Context, input io.ReadSeeker, size int64, table *types.RegisterTable) error {
	var faces []types.RegisterResult
	if err := e.call(ctx, types.OpRegister, input, size, &faces); err != nil {
		return err
	}
	table.Append(faces...)
	return nil
}

// Identify matches every face in the image against the person group.
func (e *Engine) Identify(ctx context.Context, input io.ReadSeeker, size int64, table *types.IdentifyTable) error {
	var faces []types.IdentifyResult
	if err := e.call(ctx, types.OpIdentify, input, size, &faces); err != nil {
		return err
	}
	table.Append(faces...)
	return nil
}

func (e *Engine) call(ctx context.Context, op types.Op, input io.ReadSeeker, size int64, out any) error {
	data, err := e.readInput(input, size)
	if err != nil {
		return fmt.Errorf("engine %d %s: %w", e.ID, op, err)
	}

	resp, err := e.roundTrip(ctx, op, data)
	if err != nil {
		return fmt.Errorf("engine %d %s: %w", e.ID, op, err)
	}

	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("engine %d %s: malformed response: %w", e.ID, op, err)
	}
	return nil
}

// readInput reads the whole image from the start. Register reuses an input
// that may already have been consumed, so every call rewinds first.
func (e *Engine) readInput(input io.ReadSeeker, size int64) ([]byte, error) {
	if input == nil {
		return nil, errors.New("no input")
	}
	if _, err := input.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind input: %w", err)
	}
	if size > e.maxImageBytes {
		return nil, fmt.Errorf("input of %d bytes exceeds limit of %d", size, e.maxImageBytes)
	}
	if size > 0 {
		buf := make([]byte, size)
		if _, err := io.ReadFull(input, buf); err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		return buf, nil
	}
	buf, err := io.ReadAll(io.LimitReader(input, e.maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if int64(len(buf)) > e.maxImageBytes {
		return nil, fmt.Errorf("input exceeds limit of %d bytes", e.maxImageBytes)
	}
	return buf, nil
}

// roundTrip sends one request and waits for its response. If ctx ends first
// the process is killed, since the pipe cannot be resynchronized.
func (e *Engine) roundTrip(ctx context.Context, op types.Op, data []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	type reply struct {
		body []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		body, err := e.communicate(op, data)
		done <- reply{body, err}
	}()

	select {
	case r := <-done:
		return r.body, r.err
	case <-ctx.Done():
		e.kill()
		return nil, ctx.Err()
	}
}

// communicate speaks the frame protocol.
//
//	request:  [len u32][op u8][image]
//	response: [len u32][status u8] then JSON (status 0) or [msglen u32][msg] (status 1)
func (e *Engine) communicate(op types.Op, data []byte) ([]byte, error) {
	if err := binary.Write(e.Stdin, binary.BigEndian, uint32(len(data)+1)); err != nil {
		return nil, err
	}
	if _, err := e.Stdin.Write([]byte{byte(op)}); err != nil {
		return nil, err
	}
	if _, err := e.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(e.DataPipe, header); err != nil {
		return nil, err // a crashed engine surfaces here
	}
	body := make([]byte, binary.BigEndian.Uint32(header))
	if _, err := io.ReadFull(e.DataPipe, body); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("empty response frame")
	}

	switch body[0] {
	case statusOK:
		return body[1:], nil
	case statusError:
		if len(body) < 5 {
			return nil, fmt.Errorf("%w: truncated error frame", ErrEngine)
		}
		msgLen := binary.BigEndian.Uint32(body[1:5])
		if int(msgLen) > len(body)-5 {
			return nil, fmt.Errorf("%w: truncated error frame", ErrEngine)
		}
		return nil, fmt.Errorf("%w: %s", ErrEngine, body[5:5+msgLen])
	default:
		return nil, fmt.Errorf("unknown response status %d", body[0])
	}
}

func (e *Engine) kill() {
	if e.Cmd != nil && e.Cmd.Process != nil {
		e.Cmd.Process.Kill()
	}
}

// Close shuts the pipes and waits for the process to exit.
func (e *Engine) Close() {
	e.Stdin.Close()
	e.DataPipe.Close()
	if e.Cmd != nil {
		e.Cmd.Wait()
	}
}

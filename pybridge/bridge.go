// Package pybridge gives Go access to an object deserialized inside a
// Python interpreter.
//
// Load starts the interpreter as a child process running a small driver
// program. The driver unpickles the object and then serves attribute and
// method requests as line-delimited JSON over stdin/stdout. The child lives
// until Close.
package pybridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitas/explainer-adapters/foreign"
)

const (
	stderrTailLines = 20
	stderrTailWidth = 1024
	stderrMaxLine   = 1 << 20
)

var (
	// ErrDeserialize is wrapped by LoadError.
	ErrDeserialize = errors.New("cannot deserialize object")

	// ErrClosed is returned for requests after Close or after the child died.
	ErrClosed = errors.New("bridge closed")
)

// LoadError reports a failed deserialization. The usual cause is a runtime
// whose library versions differ from the ones the object was written with.
type LoadError struct {
	Path    string
	Type    string
	Message string
	Stderr  string
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("load %s: %s: %s", e.Path, e.Type, e.Message)
	if e.Stderr != "" {
		msg += "\n" + e.Stderr
	}
	return msg
}

func (e *LoadError) Unwrap() error { return ErrDeserialize }

// RemoteError is an exception raised on the Python side of a request.
type RemoteError struct {
	Op      string
	Name    string
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %q: %s: %s", e.Op, e.Name, e.Type, e.Message)
}

// Unwrap maps Python's AttributeError to foreign.ErrNoAttribute.
func (e *RemoteError) Unwrap() error {
	if e.Type == "AttributeError" {
		return foreign.ErrNoAttribute
	}
	return nil
}

// Info is what the driver reports once the object is loaded.
type Info struct {
	Class   string `json:"class"`
	Module  string `json:"module"`
	Python  string `json:"python"`
	Sklearn string `json:"sklearn,omitempty"`
}

type options struct {
	loader string
	env    []string
	logger *zap.Logger
}

// Option configures Load.
type Option func(*options)

// WithLoader selects LoaderPickle (default) or LoaderJoblib.
func WithLoader(loader string) Option {
	return func(o *options) { o.loader = loader }
}

// WithEnv adds environment variables for the interpreter.
func WithEnv(env ...string) Option {
	return func(o *options) { o.env = append(o.env, env...) }
}

// WithLogger sets the logger. Interpreter stderr is logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

type request struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Name string `json:"name,omitempty"`
	Args []any  `json:"args,omitempty"`
}

type remoteErr struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type response struct {
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Repr  string          `json:"repr,omitempty"`
	None  bool            `json:"none,omitempty"`
	Error *remoteErr      `json:"error,omitempty"`
}

// Bridge is a foreign.Handle backed by a Python child process.
// Requests are serialized; a Bridge is safe to share between goroutines.
type Bridge struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	info   Info
	logger *zap.Logger
	closed bool

	stderrDone chan struct{}
	tailMu     sync.Mutex
	tail       []string
}

var _ foreign.Handle = (*Bridge)(nil)

// Load starts python and deserializes the object at path.
func Load(ctx context.Context, python, path string, opts ...Option) (*Bridge, error) {
	o := options{loader: LoaderPickle}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("pybridge: %w", err)
	}
	script, err := renderDriver(o.loader)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(python, "-u", "-c", script, path)
	cmd.Env = append(os.Environ(), o.env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("pybridge: stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pybridge: stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("pybridge: stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pybridge: start %s: %w", python, err)
	}

	b := &Bridge{
		cmd:        cmd,
		stdin:      stdin,
		dec:        json.NewDecoder(bufio.NewReader(stdout)),
		logger:     o.logger.With(zap.String("object", path), zap.Int("pid", cmd.Process.Pid)),
		stderrDone: make(chan struct{}),
	}
	go b.drainStderr(stderr)

	stop := context.AfterFunc(ctx, func() { _ = cmd.Process.Kill() })
	defer stop()

	var hello response
	if err := b.dec.Decode(&hello); err != nil {
		b.shutdown()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &LoadError{Path: path, Type: "exit", Message: "interpreter ended before loading the object", Stderr: b.stderrTail()}
	}
	if !hello.OK {
		b.shutdown()
		le := &LoadError{Path: path, Type: "unknown", Stderr: b.stderrTail()}
		if hello.Error != nil {
			le.Type, le.Message = hello.Error.Type, hello.Error.Message
		}
		return nil, le
	}
	if err := json.Unmarshal(hello.Value, &b.info); err != nil {
		b.shutdown()
		return nil, fmt.Errorf("pybridge: handshake: %w", err)
	}
	b.logger.Debug("object loaded",
		zap.String("class", b.info.Class),
		zap.String("module", b.info.Module),
		zap.String("python", b.info.Python),
		zap.String("sklearn", b.info.Sklearn))
	return b, nil
}

// Info returns the load handshake.
func (b *Bridge) Info() Info { return b.info }

func (b *Bridge) Attr(ctx context.Context, name string) (foreign.Value, error) {
	resp, err := b.roundTrip(ctx, request{Op: "getattr", Name: name})
	if err != nil {
		return foreign.Value{}, err
	}
	return foreign.Value{JSON: resp.Value, Repr: resp.Repr, None: resp.None}, nil
}

func (b *Bridge) Repr(ctx context.Context, name string) (string, error) {
	resp, err := b.roundTrip(ctx, request{Op: "repr", Name: name})
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(resp.Value, &s); err != nil {
		return "", fmt.Errorf("pybridge: repr %q: %w", name, err)
	}
	return s, nil
}

func (b *Bridge) HasAttr(ctx context.Context, name string) (bool, error) {
	resp, err := b.roundTrip(ctx, request{Op: "hasattr", Name: name})
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(resp.Value, &ok); err != nil {
		return false, fmt.Errorf("pybridge: hasattr %q: %w", name, err)
	}
	return ok, nil
}

func (b *Bridge) Call(ctx context.Context, method string, args ...any) (foreign.Value, error) {
	wire := make([]any, len(args))
	for i, a := range args {
		switch f := a.(type) {
		case foreign.Frame:
			wire[i] = map[string]any{"__frame__": f}
		case *foreign.Frame:
			wire[i] = map[string]any{"__frame__": f}
		default:
			wire[i] = a
		}
	}
	resp, err := b.roundTrip(ctx, request{Op: "call", Name: method, Args: wire})
	if err != nil {
		return foreign.Value{}, err
	}
	return foreign.Value{JSON: resp.Value, Repr: resp.Repr, None: resp.None}, nil
}

// Close asks the driver to exit and waits for the child process.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	enc, err := json.Marshal(request{ID: uuid.NewString(), Op: "close"})
	if err == nil {
		_, _ = b.stdin.Write(append(enc, '\n'))
	}
	return b.shutdownLocked()
}

func (b *Bridge) roundTrip(ctx context.Context, req request) (*response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	req.ID = uuid.NewString()
	enc, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("pybridge: encode %s %q: %w", req.Op, req.Name, err)
	}
	if _, err := b.stdin.Write(append(enc, '\n')); err != nil {
		_ = b.shutdownLocked()
		return nil, fmt.Errorf("pybridge: %s %q: %w: %v", req.Op, req.Name, ErrClosed, err)
	}

	var resp response
	if err := b.dec.Decode(&resp); err != nil {
		_ = b.shutdownLocked()
		return nil, fmt.Errorf("pybridge: %s %q: %w: %v\n%s", req.Op, req.Name, ErrClosed, err, b.stderrTail())
	}
	if resp.ID != req.ID {
		_ = b.shutdownLocked()
		return nil, fmt.Errorf("pybridge: %s %q: response id %q, want %q", req.Op, req.Name, resp.ID, req.ID)
	}
	if !resp.OK {
		re := &RemoteError{Op: req.Op, Name: req.Name, Type: "unknown"}
		if resp.Error != nil {
			re.Type, re.Message = resp.Error.Type, resp.Error.Message
		}
		return nil, re
	}
	return &resp, nil
}

func (b *Bridge) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.shutdownLocked()
}

// shutdownLocked closes stdin, waits for stderr to drain and reaps the child.
func (b *Bridge) shutdownLocked() error {
	if b.closed {
		return nil
	}
	b.closed = true
	_ = b.stdin.Close()
	<-b.stderrDone
	err := b.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		b.logger.Debug("interpreter exited", zap.Int("code", exitErr.ExitCode()))
		return nil
	}
	return err
}

func (b *Bridge) drainStderr(r io.Reader) {
	defer close(b.stderrDone)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), stderrMaxLine)
	for sc.Scan() {
		line := sc.Text()
		b.logger.Debug("python", zap.String("stderr", line))
		if len(line) > stderrTailWidth {
			line = line[:stderrTailWidth] + "..."
		}
		b.tailMu.Lock()
		b.tail = append(b.tail, line)
		if len(b.tail) > stderrTailLines {
			b.tail = b.tail[len(b.tail)-stderrTailLines:]
		}
		b.tailMu.Unlock()
	}
	if err := sc.Err(); err != nil {
		// The child blocks once the pipe fills, so keep reading until EOF.
		b.logger.Debug("python stderr no longer line-buffered", zap.Error(err))
		_, _ = io.Copy(io.Discard, r)
	}
}

func (b *Bridge) stderrTail() string {
	b.tailMu.Lock()
	defer b.tailMu.Unlock()
	return strings.Join(b.tail, "\n")
}

package backlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sdlc-agency/agency/internal/debug"
	"github.com/sdlc-agency/agency/internal/types"
)

// DefaultCommandTimeout bounds one collaborator subprocess call.
const DefaultCommandTimeout = 30 * time.Second

// Client is the narrow story-store interface the orchestration operations
// drive. LocalClient calls a Store in process; ExecClient shells out to a
// backlog manager script that speaks the same argument and JSON protocol.
type Client interface {
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
	SetStatus(ctx context.Context, id string, status types.StoryStatus, caller types.Role) (*StatusResult, error)
	NextID(ctx context.Context) (string, error)
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	Render(ctx context.Context, output string) (*RenderResult, error)
	BacklogPath() string
}

// LocalClient serves Client from a Store.
type LocalClient struct {
	*Store
}

// NewLocalClient wraps store.
func NewLocalClient(store *Store) *LocalClient {
	return &LocalClient{Store: store}
}

// BacklogPath returns the store's file.
func (c *LocalClient) BacklogPath() string { return c.Store.Path() }

// ExecClient runs an external backlog manager for every call:
// "<interpreter> <script> <command> <args...> <backlog>". Scripts ending in
// .py are run through Interpreter; anything else is executed directly.
type ExecClient struct {
	Script      string
	Interpreter string
	Backlog     string
	Timeout     time.Duration
}

// NewExecClient returns a client for script operating on backlogPath.
func NewExecClient(script, interpreter, backlogPath string, timeout time.Duration) *ExecClient {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &ExecClient{Script: script, Interpreter: interpreter, Backlog: backlogPath, Timeout: timeout}
}

// BacklogPath returns the backlog file passed to the script.
func (c *ExecClient) BacklogPath() string { return c.Backlog }

func (c *ExecClient) argv(args []string) (string, []string) {
	full := append(append([]string{}, args...), c.Backlog)
	if strings.EqualFold(filepath.Ext(c.Script), ".py") {
		interp := c.Interpreter
		if interp == "" {
			interp = "python3"
		}
		return interp, append([]string{c.Script}, full...)
	}
	return c.Script, full
}

// run executes one command and decodes its stdout into out. A non-zero
// exit surfaces stderr (or an {"error": ...} body on stdout).
func (c *ExecClient) run(ctx context.Context, out interface{}, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	name, argv := c.argv(args)
	cmd := exec.CommandContext(ctx, name, argv...) // #nosec G204 - script path is operator supplied
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	debug.Logf("backlog: exec %s %s\n", name, strings.Join(argv, " "))
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.Timeoutf("Command timed out after %s", c.Timeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = errorBody(stdout.Bytes())
		}
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s %s: %s", filepath.Base(c.Script), args[0], msg)
	}
	if out == nil || len(bytes.TrimSpace(stdout.Bytes())) == 0 {
		return nil
	}
	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return types.ParseErrorf("%s %s: output is not JSON: %v", filepath.Base(c.Script), args[0], err)
	}
	return nil
}

func errorBody(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		return body.Error
	}
	return ""
}

func (c *ExecClient) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	args := []string{"list"}
	if opts.Status != "" {
		args = append(args, "--status", string(opts.Status))
	}
	if opts.Feature != "" {
		args = append(args, "--feature", opts.Feature)
	}
	if opts.Priority != "" {
		args = append(args, "--priority", string(opts.Priority))
	}
	if len(opts.Fields) > 0 {
		args = append(args, "--fields", strings.Join(opts.Fields, ","))
	}
	if opts.Format != "" {
		args = append(args, "--format", opts.Format)
	}
	if opts.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		args = append(args, "--offset", strconv.Itoa(opts.Offset))
	}
	res := &ListResult{Stories: []Row{}}
	if err := c.run(ctx, res, args...); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *ExecClient) SetStatus(ctx context.Context, id string, status types.StoryStatus, caller types.Role) (*StatusResult, error) {
	res := &StatusResult{}
	if err := c.run(ctx, res, "status", "--id", id, "--status", string(status), "--caller", string(caller)); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *ExecClient) NextID(ctx context.Context) (string, error) {
	var res struct {
		NextID string `json:"next_id"`
		ID     string `json:"id"`
	}
	if err := c.run(ctx, &res, "next-id"); err != nil {
		return "", err
	}
	if res.NextID != "" {
		return res.NextID, nil
	}
	if res.ID != "" {
		return res.ID, nil
	}
	return "", types.ParseErrorf("next-id returned no id")
}

func (c *ExecClient) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	args := []string{"create", "--id", req.ID, "--caller", string(req.Caller)}
	for _, kv := range [][2]string{
		{"--title", req.Title}, {"--role", req.Role}, {"--want", req.Want},
		{"--benefit", req.Benefit}, {"--feature", req.Feature}, {"--priority", string(req.Priority)},
		{"--notes", req.Notes},
	} {
		if kv[1] != "" {
			args = append(args, kv[0], kv[1])
		}
	}
	if len(req.AC) > 0 {
		ac, err := json.Marshal(req.AC)
		if err != nil {
			return nil, err
		}
		args = append(args, "--ac", string(ac))
	}
	if len(req.Depends) > 0 {
		args = append(args, "--depends", strings.Join(req.Depends, ","))
	}
	res := &CreateResult{}
	if err := c.run(ctx, res, args...); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *ExecClient) Render(ctx context.Context, output string) (*RenderResult, error) {
	res := &RenderResult{}
	if err := c.run(ctx, res, "render", "--output", output); err != nil {
		return nil, err
	}
	return res, nil
}

var (
	_ Client = (*LocalClient)(nil)
	_ Client = (*ExecClient)(nil)
)

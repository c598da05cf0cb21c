package taskwarrior

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// Runner executes the task binary with args and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

type execRunner struct {
	bin string
}

func (r execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	output, err := exec.CommandContext(ctx, r.bin, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("taskwarrior command failed: exit code %d, %s, stderr: %s",
				exitErr.ExitCode(), err, exitErr.Stderr)
		}
		return nil, fmt.Errorf("taskwarrior command failed: %w", err)
	}
	return output, nil
}

type Client struct {
	run Runner
}

// NewClient returns a client running bin, "task" when empty.
func NewClient(bin string) *Client {
	if bin == "" {
		bin = "task"
	}
	return &Client{run: execRunner{bin: bin}}
}

func NewClientWithRunner(r Runner) *Client {
	return &Client{run: r}
}

// GetTasks exports the tasks matching filter. Hooks are disabled so exports never re-enter us.
func (c *Client) GetTasks(ctx context.Context, filter []string) ([]Task, error) {
	args := append(append([]string(nil), filter...), "export", "rc.hooks=0")
	output, err := c.run.Run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var tasks []Task
	if err := json.Unmarshal(output, &tasks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal taskwarrior output: %w", err)
	}
	return tasks, nil
}

// Modify applies attribute modifications such as "project:home" to one task.
func (c *Client) Modify(ctx context.Context, uuid string, mods ...string) error {
	if len(mods) == 0 {
		return nil
	}
	args := append([]string{"rc.hooks=0", "rc.confirmation=off", uuid, "modify"}, mods...)
	_, err := c.run.Run(ctx, args...)
	return err
}

// Done completes one task.
func (c *Client) Done(ctx context.Context, uuid string) error {
	_, err := c.run.Run(ctx, "rc.hooks=0", "rc.confirmation=off", uuid, "done")
	return err
}

// ParseTasks parses the JSON objects a Taskwarrior hook receives on stdin, one per line.
func (c *Client) ParseTasks(r io.Reader) ([]Task, error) {
	var tasks []Task
	decoder := json.NewDecoder(r)
	for {
		var task Task
		if err := decoder.Decode(&task); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode task json: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

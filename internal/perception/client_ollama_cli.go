package perception

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// OllamaCLIClient implements LLMClient by running `ollama run <model>` as a
// subprocess with the prompt on stdin.
type OllamaCLIClient struct {
	command string
	model   string
	timeout time.Duration
}

// NewOllamaCLIClient creates a CLI client. Empty values fall back to
// "ollama", "llama3.2" and 90s.
func NewOllamaCLIClient(command, model string, timeout time.Duration) *OllamaCLIClient {
	if command == "" {
		command = "ollama"
	}
	if model == "" {
		model = "llama3.2"
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OllamaCLIClient{command: command, model: model, timeout: timeout}
}

// Name implements LLMClient.
func (c *OllamaCLIClient) Name() string {
	return "ollama-cli:" + c.model
}

// Complete runs the model once and returns trimmed stdout.
func (c *OllamaCLIClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.command, "run", c.model)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s timed out after %v: %w", c.command, c.timeout, ctx.Err())
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", fmt.Errorf("%s execution canceled: %w", c.command, ctx.Err())
		}
		return "", fmt.Errorf("%s run %s failed: %w (stderr: %s)", c.command, c.model, err, truncateString(strings.TrimSpace(stderr.String()), 500))
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Model returns the configured model.
func (c *OllamaCLIClient) Model() string { return c.model }

// Timeout returns the per-call timeout.
func (c *OllamaCLIClient) Timeout() time.Duration { return c.timeout }

package service

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// tokenPattern matches the long-lived OAuth token the CLI prints from
// its setup-token flow.
var tokenPattern = regexp.MustCompile(`sk-ant-oat[0-9]+-[A-Za-z0-9_-]+`)

// importTimeout bounds the CLI subprocess; the flow is interactive in
// the user's browser, so it gets generous headroom.
const importTimeout = 10 * time.Minute

// runCLIFn can be overridden in tests to avoid spawning the real CLI.
var runCLIFn = runCLI

// ImportService obtains a long-lived token by driving the assistant
// CLI's setup-token flow as a subprocess.
type ImportService struct {
	cliPath string
	logger  *zap.Logger
}

// NewImportService creates the service. cliPath is the CLI binary name
// or path, resolved via PATH when bare.
func NewImportService(cliPath string, logger *zap.Logger) *ImportService {
	return &ImportService{cliPath: cliPath, logger: logger}
}

// Run executes the CLI setup-token flow and returns the minted token.
func (s *ImportService) Run(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, importTimeout)
	defer cancel()

	s.logger.Info("starting CLI token import", zap.String("cli", s.cliPath))
	out, err := runCLIFn(ctx, s.cliPath, "setup-token")
	if err != nil {
		return "", fmt.Errorf("cli setup-token failed: %w", err)
	}

	token := tokenPattern.FindString(out)
	if token == "" {
		return "", fmt.Errorf("cli setup-token produced no token")
	}
	return token, nil
}

func runCLI(ctx context.Context, path string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(buf.String()))
	}
	return buf.String(), nil
}

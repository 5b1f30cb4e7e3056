package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/liveqa/project/internal/backend"
	"github.com/liveqa/project/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer lets a test read output while a command is still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func memoryBackend() *backend.Backend {
	return backend.Memory(config.Config{MemoryIndexes: true})
}

// sharedOptions routes every command to b so state survives between runs.
func sharedOptions(b *backend.Backend) *RootOptions {
	return &RootOptions{
		Open: func(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*backend.Backend, error) {
			return b, nil
		},
	}
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newRootCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "qactl", cmd.Use)
	assert.Contains(t, cmd.Long, "ranked questions")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"seed", "count", "watch", "demo", "admin"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	memoryFlag := cmd.PersistentFlags().Lookup("memory")
	require.NotNil(t, memoryFlag)
	assert.Equal(t, "false", memoryFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, sharedOptions(memoryBackend()), "count", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
}

package dhcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veesix-networks/linkd/pkg/command/commandtest"
)

func testServer() *Server {
	return &Server{
		Start:        "10.0.0.10",
		End:          "10.0.0.100",
		Interface:    "br0",
		DNS:          "8.8.8.8",
		Netmask:      "255.255.255.0",
		Router:       "10.0.0.1",
		LeaseSeconds: 3600,
	}
}

func TestRender(t *testing.T) {
	lines := strings.Split(strings.TrimSuffix(string(testServer().Render()), "\n"), "\n")
	assert.Equal(t, []string{
		"start 10.0.0.10",
		"end 10.0.0.100",
		"interface br0",
		"option dns 8.8.8.8",
		"option subnet 255.255.255.0",
		"option router 10.0.0.1",
		"option lease 3600",
	}, lines)
}

func TestLaunch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dhcp")
	runner := commandtest.New()
	l := NewLauncher(runner, dir, "udhcpd")
	l.newStem = func() string { return "ab12c" }

	path, err := l.Launch(context.Background(), testServer())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ab12c.conf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testServer().Render(), data)

	assert.Equal(t, []string{"udhcpd " + path}, runner.Started())
	assert.Empty(t, runner.Calls())
}

func TestLaunchRandomStem(t *testing.T) {
	dir := t.TempDir()
	l := NewLauncher(commandtest.New(), dir, "udhcpd")

	a, err := l.Launch(context.Background(), testServer())
	require.NoError(t, err)
	b, err := l.Launch(context.Background(), testServer())
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, strings.TrimSuffix(filepath.Base(a), ".conf"), stemLen)
}

func TestLaunchSpawnFailure(t *testing.T) {
	runner := commandtest.New()
	runner.Set("udhcpd", commandtest.Result{Err: errors.New("executable file not found")})

	_, err := NewLauncher(runner, t.TempDir(), "udhcpd").Launch(context.Background(), testServer())
	assert.Error(t, err)
}

func TestAcquire(t *testing.T) {
	tests := []struct {
		name    string
		probe   bool
		result  commandtest.Result
		want    bool
		wantErr bool
		line    string
	}{
		{name: "lease", want: true, line: "udhcpc -i eth0"},
		{name: "probe lease", probe: true, want: true, line: "udhcpc -i eth0 -n -q"},
		{name: "no lease", probe: true, result: commandtest.Result{Err: commandtest.ExitError()}, line: "udhcpc -i eth0 -n -q"},
		{name: "spawn failure", result: commandtest.Result{Err: errors.New("no such file")}, wantErr: true, line: "udhcpc -i eth0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := commandtest.New()
			runner.Set("udhcpc", tt.result)
			c := NewClient(runner, "udhcpc", time.Second)

			got, err := c.Acquire(context.Background(), "eth0", tt.probe)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{tt.line}, runner.Calls())
		})
	}
}

func TestAcquireCancelled(t *testing.T) {
	runner := commandtest.New()
	runner.Set("udhcpc", commandtest.Result{Err: commandtest.ExitError()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(runner, "udhcpc", 0).Acquire(ctx, "eth0", true)
	assert.ErrorIs(t, err, context.Canceled)
}

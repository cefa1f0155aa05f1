package control

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veesix-networks/linkd/pkg/config"
)

type fakeRunner struct {
	mu           sync.Mutex
	configures   []*config.Config
	resets       []*config.Config
	configuring  int
	resetting    int
	overlaps     int
	configureErr error
}

func (f *fakeRunner) Configure(ctx context.Context, cfg *config.Config) error {
	f.mu.Lock()
	f.configures = append(f.configures, cfg)
	f.configuring++
	err := f.configureErr
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.configuring--
		f.mu.Unlock()
	}()

	if err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeRunner) Reset(ctx context.Context, cfg *config.Config) error {
	f.mu.Lock()
	f.resets = append(f.resets, cfg)
	if f.configuring > 0 || f.resetting > 0 {
		f.overlaps++
	}
	f.resetting++
	f.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	f.mu.Lock()
	f.resetting--
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) counts() (configures, resets, overlaps int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configures), len(f.resets), f.overlaps
}

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "linkd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "linkd.sock")
}

func startDaemon(t *testing.T, runner *fakeRunner, load Loader) (*Daemon, string) {
	t.Helper()
	sock := socketPath(t)
	d := NewDaemon(sock, &config.Config{}, runner, load)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { d.Stop(context.Background()) })
	return d, sock
}

func send(t *testing.T, sock, cmd string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, Send(ctx, sock, cmd))
}

func TestStartRunsConfigurePass(t *testing.T) {
	runner := &fakeRunner{}
	startDaemon(t, runner, nil)

	assert.Eventually(t, func() bool {
		c, _, _ := runner.counts()
		return c == 1
	}, time.Second, 5*time.Millisecond)
}

func TestResetCancelsPass(t *testing.T) {
	runner := &fakeRunner{}
	_, sock := startDaemon(t, runner, nil)

	send(t, sock, " reset\n")

	configures, resets, overlaps := runner.counts()
	assert.Equal(t, 1, configures)
	assert.Equal(t, 1, resets)
	assert.Zero(t, overlaps)
}

func TestResetThenReloadTearsDownOnce(t *testing.T) {
	runner := &fakeRunner{}
	_, sock := startDaemon(t, runner, func() (*config.Config, error) { return &config.Config{}, nil })

	send(t, sock, CommandReset)
	send(t, sock, CommandReset)
	_, resets, _ := runner.counts()
	assert.Equal(t, 1, resets)

	send(t, sock, CommandReload)
	_, resets, _ = runner.counts()
	assert.Equal(t, 1, resets)
	assert.Eventually(t, func() bool {
		c, _, _ := runner.counts()
		return c == 2
	}, time.Second, 5*time.Millisecond)

	send(t, sock, CommandReset)
	_, resets, _ = runner.counts()
	assert.Equal(t, 2, resets)
}

func TestReloadReplacesConfig(t *testing.T) {
	runner := &fakeRunner{}
	next := &config.Config{Interfaces: map[string]*config.Interface{"wan0": {Name: "wan0"}}}
	d, sock := startDaemon(t, runner, func() (*config.Config, error) { return next, nil })
	first := d.Config()

	send(t, sock, "reload")

	assert.Same(t, next, d.Config())
	assert.Eventually(t, func() bool {
		c, _, _ := runner.counts()
		return c == 2
	}, time.Second, 5*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Same(t, first, runner.resets[0])
	assert.Same(t, next, runner.configures[1])
}

func TestReloadKeepsConfigOnLoadError(t *testing.T) {
	runner := &fakeRunner{}
	d, sock := startDaemon(t, runner, func() (*config.Config, error) { return nil, errors.New("bad yaml") })
	first := d.Config()

	send(t, sock, "reload")

	assert.Same(t, first, d.Config())
	assert.Eventually(t, func() bool {
		c, _, _ := runner.counts()
		return c == 2
	}, time.Second, 5*time.Millisecond)
}

func TestUnknownCommandIgnored(t *testing.T) {
	runner := &fakeRunner{}
	_, sock := startDaemon(t, runner, nil)

	send(t, sock, "restart")

	_, resets, _ := runner.counts()
	assert.Zero(t, resets)
}

func TestCommandsAreSerialized(t *testing.T) {
	runner := &fakeRunner{}
	_, sock := startDaemon(t, runner, func() (*config.Config, error) { return &config.Config{}, nil })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			assert.NoError(t, Send(ctx, sock, CommandReload))
		}()
	}
	wg.Wait()

	_, resets, overlaps := runner.counts()
	assert.Equal(t, 4, resets)
	assert.Zero(t, overlaps)
	assert.Eventually(t, func() bool {
		c, _, _ := runner.counts()
		return c == 5
	}, time.Second, 5*time.Millisecond)
}

func TestSecondDaemonRefused(t *testing.T) {
	_, sock := startDaemon(t, &fakeRunner{}, nil)

	d := NewDaemon(sock, &config.Config{}, &fakeRunner{}, nil)
	err := d.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStaleSocketReplaced(t *testing.T) {
	sock := socketPath(t)
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())

	_, err = os.Stat(sock)
	require.NoError(t, err)

	d := NewDaemon(sock, &config.Config{}, &fakeRunner{}, nil)
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
}

func TestConfigureFailureIsFatal(t *testing.T) {
	boom := errors.New("lo missing")
	fatal := make(chan error, 1)

	d := NewDaemon(socketPath(t), &config.Config{}, &fakeRunner{configureErr: boom}, nil)
	d.OnFatal = func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	select {
	case err := <-fatal:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("fatal error not reported")
	}
}

func TestWatcherTriggersReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "network.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interfaces: {}\n"), 0o644))

	got := make(chan string, 4)
	w := NewWatcher(path, func(ctx context.Context, cmd string) { got <- cmd })
	w.Debounce = 20 * time.Millisecond
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.yaml"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("interfaces: {eth0: {mode: dhcp}}\n"), 0o644))

	select {
	case cmd := <-got:
		assert.Equal(t, CommandReload, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after config change")
	}
}

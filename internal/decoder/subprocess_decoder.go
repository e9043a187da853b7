//go:build !(linux && arm64)

// Development decoder: spawns a cvlc subprocess with a sout transcode
// chain writing to the sink path, for platforms without CGO libVLC
// bindings. Seeking is driven over cvlc's rc (remote control) interface
// attached to the subprocess's stdin.
package decoder

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

type subprocessDecoder struct {
	mu       sync.Mutex
	vlcPath  string
	cmd      *exec.Cmd
	rcStdin  io.WriteCloser
	events   chan Notification
	seekable bool
	stopped  chan struct{}
}

// NewSubprocessDecoder builds the development (no-CGO) Decoder
// implementation, locating a cvlc/vlc binary on the host.
func NewSubprocessDecoder() (Decoder, error) {
	path, err := findVLC()
	if err != nil {
		return nil, err
	}
	return &subprocessDecoder{
		vlcPath: path,
		events:  make(chan Notification, 32),
	}, nil
}

func (d *subprocessDecoder) Start(ctx context.Context, url string, spec TranscodeSpec, seekable bool) error {
	codec, err := spec.BitDepth.Codec()
	if err != nil {
		return err
	}

	sout := fmt.Sprintf(
		"#transcode{acodec=%s,channels=%d,samplerate=%d}:std{access=file,mux=raw,dst=%s}",
		codec, spec.Channels, spec.SampleRate, spec.SinkPath,
	)

	args := []string{
		"-I", "dummy",
		"--extraintf", "rc",
		"--no-interact",
		"--sout-all",
		"--sout", sout,
		"--file-caching=3000",
		"--network-caching=3000",
		"--live-caching=3000",
		"--quiet",
		url,
	}

	d.mu.Lock()
	d.cmd = exec.CommandContext(ctx, d.vlcPath, args...)
	d.cmd.Stdout = os.Stdout
	d.cmd.Stderr = os.Stderr
	d.seekable = seekable
	d.stopped = make(chan struct{})
	cmd := d.cmd
	d.mu.Unlock()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("rc stdin pipe failed: %w", err)
	}

	d.emit(Notification{Kind: NotifyState, State: StateOpening})

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cvlc start failed: %w", err)
	}
	d.mu.Lock()
	d.rcStdin = stdin
	d.mu.Unlock()

	d.emit(Notification{Kind: NotifyState, State: StateBuffering})

	go d.wait(cmd)
	go d.pump()
	return nil
}

func (d *subprocessDecoder) wait(cmd *exec.Cmd) {
	err := cmd.Wait()
	d.mu.Lock()
	d.cmd = nil
	stopped := d.stopped
	d.mu.Unlock()

	select {
	case <-stopped:
		return // deliberate Stop(), not an error
	default:
	}

	if err != nil {
		d.emit(Notification{Kind: NotifyError, Err: fmt.Errorf("cvlc exited: %w", err)})
	} else {
		d.emit(Notification{Kind: NotifyState, State: StateEnded})
	}
}

// pump emits a coarse playing-state tick; the subprocess backend cannot
// observe libVLC's internal position, so precise progress notifications
// are left to decoder.Metadata / external catalogue duration only.
func (d *subprocessDecoder) pump() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		d.mu.Lock()
		running := d.cmd != nil
		d.mu.Unlock()
		if !running {
			return
		}
		d.emit(Notification{Kind: NotifyState, State: StatePlaying})
	}
}

func (d *subprocessDecoder) emit(n Notification) {
	select {
	case d.events <- n:
	default:
	}
}

func (d *subprocessDecoder) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.stopped:
	default:
		if d.stopped != nil {
			close(d.stopped)
		}
	}
	if d.cmd != nil && d.cmd.Process != nil {
		d.cmd.Process.Kill()
		d.cmd = nil
	}
	if d.rcStdin != nil {
		d.rcStdin.Close()
		d.rcStdin = nil
	}
}

func (d *subprocessDecoder) Seekable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seekable
}

func (d *subprocessDecoder) SeekMs(ctx context.Context, ms uint64) error {
	if !d.Seekable() {
		return fmt.Errorf("source is not seekable")
	}
	d.mu.Lock()
	stdin := d.rcStdin
	d.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("rc interface not connected")
	}
	_, err := fmt.Fprintf(stdin, "seek %d\n", ms/1000)
	return err
}

func (d *subprocessDecoder) Events() <-chan Notification { return d.events }

func (d *subprocessDecoder) Release() {
	d.Stop()
	close(d.events)
}

// findVLC locates a cvlc/vlc executable on the host, preferring cvlc
// for headless runs.
func findVLC() (string, error) {
	for _, name := range []string{"cvlc", "vlc"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{"/Applications/VLC.app/Contents/MacOS/VLC"}
	default:
		candidates = []string{"/usr/bin/cvlc", "/usr/bin/vlc", "/snap/bin/vlc"}
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("vlc not found — install from https://www.videolan.org/vlc/")
}

package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

type streamFunc func(ctx context.Context, name string, args ...string) (stdout io.ReadCloser, wait func() error, err error)

// Stream yields one Info per line of `yt-dlp --dump-json` output while the
// process keeps extracting. Close kills the process so no further pages are
// requested.
type Stream struct {
	cancel  context.CancelFunc
	stdout  io.ReadCloser
	wait    func() error
	sc      *bufio.Scanner
	yielded int

	closeOnce sync.Once
	waitErr   error
}

// StreamPlaylist lazily extracts every entry of a playlist or channel tab,
// in the order the site lists them.
func (c *Client) StreamPlaylist(ctx context.Context, url string, extraArgs ...string) (*Stream, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("ytdlp: url is required")
	}

	args := []string{"--dump-json", "--skip-download", "--lazy-playlist", "--ignore-errors", "--no-warnings"}
	args = append(args, extraArgs...)
	args = append(args, url)

	ctx, cancel := context.WithCancel(ctx)
	start := c.streamFn
	if start == nil {
		start = c.startProcess
	}
	stdout, wait, err := start(ctx, c.PathOrDefault(), c.args(args)...)
	if err != nil {
		cancel()
		return nil, wrapExecError(c.PathOrDefault(), args, nil, nil, err)
	}

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	return &Stream{cancel: cancel, stdout: stdout, wait: wait, sc: sc}, nil
}

func (c *Client) startProcess(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var errBuf bytes.Buffer
	if c.LogCallback != nil {
		cmd.Stderr = &streamWriter{stream: "stderr", callback: c.LogCallback, buffer: &errBuf}
	} else {
		cmd.Stderr = &errBuf
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	wait := func() error {
		if err := cmd.Wait(); err != nil {
			return wrapExecError(name, args, nil, errBuf.Bytes(), err)
		}
		return nil
	}
	return stdout, wait, nil
}

// Next returns the next entry. ok is false when the listing is exhausted.
// A non-zero exit after at least one entry is not an error: with
// --ignore-errors yt-dlp exits 1 when it skipped unavailable entries.
func (s *Stream) Next() (info *Info, ok bool, err error) {
	for s.sc.Scan() {
		line := bytes.TrimSpace(s.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		info, err := parseInfo(line)
		if err != nil {
			return nil, false, err
		}
		s.yielded++
		return info, true, nil
	}
	if err := s.sc.Err(); err != nil {
		_ = s.Close()
		return nil, false, fmt.Errorf("ytdlp: read stream: %w", err)
	}

	s.finish(false)
	if s.waitErr != nil && s.yielded == 0 {
		return nil, false, s.waitErr
	}
	return nil, false, nil
}

// Close stops the process. It is safe to call more than once.
func (s *Stream) Close() error {
	s.finish(true)
	return nil
}

func (s *Stream) finish(kill bool) {
	s.closeOnce.Do(func() {
		if kill {
			s.cancel()
		}
		_ = s.stdout.Close()
		s.waitErr = s.wait()
		s.cancel()
	})
}

//go:build linux

package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/edirooss/groundstation/internal/domain/stream"
	"github.com/edirooss/groundstation/internal/infrastructure/processmgr"
	"github.com/edirooss/groundstation/pkg/avurl"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// recorderGrace is how long a recorder may take to finalize after stdin EOF.
const recorderGrace = 5 * time.Second

// RecorderSuffix is appended to the stream id to name its recorder process.
const RecorderSuffix = ":recorder"

// FFmpeg opens sources and recorders as supervised ffmpeg processes.
// Sources decode to MJPEG on stdout; recorders take MJPEG on stdin and
// write an AVI.
type FFmpeg struct {
	log   *zap.Logger
	procs *processmgr.Manager
	bin   string

	RecordingsDir string
	RecordFPS     int
}

func NewFFmpeg(log *zap.Logger, procs *processmgr.Manager, bin, recordingsDir string, recordFPS int) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	if recordFPS <= 0 {
		recordFPS = 30
	}
	return &FFmpeg{
		log:           log.Named("ffmpeg"),
		procs:         procs,
		bin:           bin,
		RecordingsDir: recordingsDir,
		RecordFPS:     recordFPS,
	}
}

const netIOTimeout = "5000000"

// captureArgs builds the decode command for uri.
func (f *FFmpeg) captureArgs(uri string) []string {
	argv := []string{f.bin, "-hide_banner", "-nostats", "-loglevel", "warning"}

	u, err := avurl.Parse(uri)
	switch {
	case err == nil && u.IsNetwork():
		// socket i/o timeout in microseconds; a dead peer ends the read
		if strings.EqualFold(u.Schema, "rtsp") {
			argv = append(argv, "-rtsp_transport", "tcp", "-timeout", netIOTimeout)
		} else {
			argv = append(argv, "-rw_timeout", netIOTimeout)
		}
		argv = append(argv, "-fflags", "nobuffer", "-flags", "low_delay")
	case strings.HasPrefix(uri, "/dev/video"):
		argv = append(argv, "-f", "v4l2")
	default:
		// files play at their native rate
		argv = append(argv, "-re")
	}

	return append(argv,
		"-i", uri,
		"-an",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-")
}

// Open implements Opener. A full capture slot pool reports processmgr.ErrNoSlot
// and the worker retries later.
func (f *FFmpeg) Open(ctx context.Context, cfg stream.Config) (Source, error) {
	p, err := f.procs.Spawn(cfg.ID, processmgr.Capture, f.captureArgs(cfg.SourceURI))
	if err != nil {
		return nil, err
	}
	f.log.Debug("capture process spawned",
		zap.String("stream_id", cfg.ID),
		zap.String("source", avurl.Redact(cfg.SourceURI)),
		zap.Int("cmd_pid", p.PID()))

	// a blocked Read ends when the worker is cancelled
	stop := context.AfterFunc(ctx, p.Close)
	return &ffmpegSource{f: f, id: cfg.ID, proc: p, frames: newMJPEGReader(p.Stdout()), stop: stop}, nil
}

type ffmpegSource struct {
	f      *FFmpeg
	id     string
	proc   *processmgr.Process
	frames *mjpegReader
	stop   func() bool
	count  uint64
}

func (s *ffmpegSource) Read() (image.Image, error) {
	data, err := s.frames.next()
	if err != nil {
		if s.count == 0 {
			// ffmpeg gave up before the first frame: unreachable or unsupported
			return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, s.exitReason())
		}
		if errors.Is(err, io.EOF) {
			return nil, ErrSourceExhausted
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	s.count++
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// exitReason is the last stderr line ffmpeg wrote, once it has exited.
func (s *ffmpegSource) exitReason() string {
	select {
	case <-s.proc.Done():
	case <-time.After(time.Second):
	}
	if lines, ok := s.f.procs.Logs(s.id, 1); ok && len(lines) > 0 {
		return lines[0]
	}
	return "exited before the first frame"
}

func (s *ffmpegSource) Close() error {
	s.stop()
	s.proc.Close()
	return nil
}

// Create implements RecorderFactory.
func (f *FFmpeg) Create(cfg stream.Config, at time.Time) (Recorder, error) {
	path := RecordingPath(f.RecordingsDir, cfg.ID, at)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}

	argv := []string{f.bin, "-hide_banner", "-nostats", "-loglevel", "warning",
		"-f", "image2pipe",
		"-framerate", strconv.Itoa(f.RecordFPS),
		"-c:v", "mjpeg",
		"-i", "-",
		"-c:v", "copy",
		"-y", path,
	}
	p, err := f.procs.Spawn(cfg.ID+RecorderSuffix, processmgr.Auxiliary, argv)
	if err != nil {
		return nil, err
	}

	session := uuid.NewString()
	f.log.Info("recorder spawned",
		zap.String("stream_id", cfg.ID),
		zap.String("session", session),
		zap.String("path", path))
	return &ffmpegRecorder{proc: p, path: path, session: session}, nil
}

type ffmpegRecorder struct {
	proc    *processmgr.Process
	path    string
	session string
	buf     bytes.Buffer
}

func (r *ffmpegRecorder) Path() string { return r.path }

func (r *ffmpegRecorder) Write(img image.Image) error {
	r.buf.Reset()
	if err := jpeg.Encode(&r.buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := r.proc.Stdin().Write(r.buf.Bytes()); err != nil {
		return fmt.Errorf("write recorder %s: %w", r.session, err)
	}
	return nil
}

func (r *ffmpegRecorder) Close() error {
	r.proc.Finish(recorderGrace)
	return nil
}

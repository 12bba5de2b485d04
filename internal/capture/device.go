package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Device is a camera-like frame producer. Open establishes the connection,
// Grab returns the next JPEG-encoded frame, Close releases the device.
type Device interface {
	Open(ctx context.Context) error
	Grab(ctx context.Context) ([]byte, error)
	Close() error
}

// FFmpegDevice pulls frames from any FFmpeg-readable source (V4L2 device,
// RTSP or HTTP stream) as a stream of concatenated JPEG images.
type FFmpegDevice struct {
	URL      string
	Interval time.Duration
	Width    int

	mu     sync.Mutex
	cancel context.CancelFunc
	cmd    *exec.Cmd
	frames chan []byte
	errCh  chan error
}

func NewFFmpegDevice(url string, interval time.Duration, width int) *FFmpegDevice {
	return &FFmpegDevice{URL: url, Interval: interval, Width: width}
}

func (d *FFmpegDevice) Open(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	fps := 1.0
	if d.Interval > 0 {
		fps = float64(time.Second) / float64(d.Interval)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	if strings.HasPrefix(d.URL, "rtsp://") || strings.HasPrefix(d.URL, "rtsps://") {
		args = append(args,
			"-rtsp_transport", "tcp",
			"-stimeout", "5000000",
			"-timeout", "5000000",
		)
	} else if strings.HasPrefix(d.URL, "http://") || strings.HasPrefix(d.URL, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	}

	args = append(args,
		"-i", d.URL,
		"-vf", fmt.Sprintf("fps=%g,scale=%d:-1", fps, d.Width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	d.mu.Lock()
	d.cancel = cancel
	d.cmd = cmd
	d.frames = make(chan []byte, 4)
	d.errCh = make(chan error, 1)
	frames, errCh := d.frames, d.errCh
	d.mu.Unlock()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	go func() {
		err := readJPEGFrames(ctx, stdout, frames)
		if werr := cmd.Wait(); err == nil {
			err = werr
		}
		if err == nil {
			err = io.EOF
		}
		errCh <- err
		close(frames)
	}()

	return nil
}

func (d *FFmpegDevice) Grab(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	frames, errCh := d.frames, d.errCh
	d.mu.Unlock()

	if frames == nil {
		return nil, fmt.Errorf("device not open")
	}

	select {
	case data, ok := <-frames:
		if !ok {
			select {
			case err := <-errCh:
				return nil, fmt.Errorf("ffmpeg stream ended: %w", err)
			default:
				return nil, io.EOF
			}
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *FFmpegDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	d.frames = nil
	return nil
}

// readJPEGFrames splits a stream of concatenated JPEGs on the SOI/EOI
// markers and sends each frame on out. The newest frame replaces the oldest
// when out is full.
func readJPEGFrames(ctx context.Context, r io.Reader, out chan []byte) error {
	reader := bufio.NewReaderSize(r, 512*1024)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := findJPEGStart(reader); err != nil {
			return err
		}

		frameData, err := readUntilJPEGEnd(reader)
		if err != nil {
			return err
		}

		if len(frameData) == 0 {
			continue
		}

		select {
		case out <- frameData:
		default:
			// Buffer full: evict the oldest frame, then retry once.
			select {
			case <-out:
			default:
			}
			select {
			case out <- frameData:
			default:
			}
		}
	}
}

// findJPEGStart consumes bytes until the FF D8 marker.
func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

// readUntilJPEGEnd reads through the FF D9 marker.
func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		// Safety: max 10MB per frame
		if len(data) > 10*1024*1024 {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}

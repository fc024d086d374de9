package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// LineCamera is a scan.Camera fed by a QR decoder that prints one decoded
// payload per line, such as `zbarcam --raw`.
type LineCamera struct {
	r io.Reader

	mu     sync.Mutex
	opened bool
}

func NewLineCamera(r io.Reader) *LineCamera {
	return &LineCamera{r: r}
}

// Open streams non-empty lines until EOF or ctx is done. The reader can be
// consumed only once.
func (c *LineCamera) Open(ctx context.Context) (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return nil, errors.New("decoder stream already consumed")
	}
	c.opened = true

	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(c.r)
		sc.Buffer(make([]byte, 0, 4096), 64<<10)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the decoder process owns the device.
func (c *LineCamera) Close() error { return nil }

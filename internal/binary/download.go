package binary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cryptoadvance/specter-launcher/internal/events"
	"github.com/cryptoadvance/specter-launcher/internal/failure"
	"github.com/cryptoadvance/specter-launcher/internal/logging"
)

const (
	// DefaultTimeout is the default per-fetch timeout
	DefaultTimeout = 5 * time.Minute
	// MaxRedirects bounds redirect chains (release hosts redirect to a CDN)
	MaxRedirects = 10
	// partSuffix marks an incomplete download
	partSuffix = ".part"
)

// DefaultUserAgent is the User-Agent header sent with requests.
var DefaultUserAgent = "specter-launcher/dev"

// Fetcher retrieves a remote file to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string) error
}

// Downloader is the HTTP Fetcher. It never retries: a failed fetch is
// reported to the caller, which decides whether to start over.
type Downloader struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	sink      events.Sink
	logger    logging.Logger
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) DownloaderOption {
	return func(d *Downloader) {
		if c != nil {
			d.client = c
		}
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) DownloaderOption {
	return func(d *Downloader) {
		if ua != "" {
			d.userAgent = ua
		}
	}
}

// WithTimeout bounds each fetch. Zero disables the bound.
func WithTimeout(timeout time.Duration) DownloaderOption {
	return func(d *Downloader) { d.timeout = timeout }
}

// WithSink reports download metadata and progress.
func WithSink(s events.Sink) DownloaderOption {
	return func(d *Downloader) {
		if s != nil {
			d.sink = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) DownloaderOption {
	return func(d *Downloader) { d.logger = logging.OrNop(l) }
}

// NewDownloader creates a new downloader
func NewDownloader(opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= MaxRedirects {
					return fmt.Errorf("stopped after %d redirects", MaxRedirects)
				}
				return nil
			},
		},
		userAgent: DefaultUserAgent,
		timeout:   DefaultTimeout,
		sink:      events.Nop{},
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch streams url into destPath. The body goes to destPath+".part" and is
// renamed into place once complete, so destPath is either absent, the
// previous file, or the full new download. An existing destPath is replaced.
func (d *Downloader) Fetch(ctx context.Context, url, destPath string) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	err := d.fetch(ctx, url, destPath)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failure.Newf(failure.KindTimeout, "fetch", "no complete response within %s: %v", d.timeout, err)
	}
	return err
}

func (d *Downloader) fetch(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failure.New(failure.KindNetwork, "fetch", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return failure.New(failure.KindNetwork, "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure.HTTP("fetch "+filepath.Base(req.URL.Path), resp.StatusCode)
	}

	d.reportMetadata(filepath.Base(req.URL.Path), resp)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return failure.New(failure.KindIO, "fetch", fmt.Errorf("create dest dir: %w", err))
	}

	tmpPath := destPath + partSuffix
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return failure.New(failure.KindIO, "fetch", fmt.Errorf("create temp file: %w", err))
	}

	// Track whether we need to clean up the temp file
	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	var dst io.Writer = tmpFile
	if resp.ContentLength > 0 {
		dst = io.MultiWriter(tmpFile, &progressWriter{sink: d.sink, total: resp.ContentLength})
	}
	written, err := io.Copy(dst, resp.Body)
	if err != nil {
		return failure.New(failure.KindNetwork, "fetch", fmt.Errorf("read response body: %w", err))
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return failure.Newf(failure.KindNetwork, "fetch", "short body: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := tmpFile.Close(); err != nil {
		return failure.New(failure.KindIO, "fetch", fmt.Errorf("close temp file: %w", err))
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return failure.New(failure.KindIO, "fetch", fmt.Errorf("rename temp file: %w", err))
	}

	cleanupNeeded = false
	d.logger.Debug("download complete", "url", url, "bytes", written, "path", destPath)
	return nil
}

// reportMetadata surfaces Content-Length and Content-Type when the server
// sends them. Neither is required.
func (d *Downloader) reportMetadata(name string, resp *http.Response) {
	size := ""
	if resp.ContentLength > 0 {
		size = humanize.Bytes(uint64(resp.ContentLength))
	}
	contentType := resp.Header.Get("Content-Type")

	switch {
	case size != "" && contentType != "":
		d.sink.Progress(fmt.Sprintf("Downloading %s (%s, %s)", name, size, contentType))
	case size != "":
		d.sink.Progress(fmt.Sprintf("Downloading %s (%s)", name, size))
	case contentType != "":
		d.sink.Progress(fmt.Sprintf("Downloading %s (%s)", name, contentType))
	}
}

// progressWriter reports each additional 10% of a download of known size.
type progressWriter struct {
	sink    events.Sink
	total   int64
	written int64
	step    int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	step := p.written * 10 / p.total
	if step > p.step && step <= 10 {
		p.step = step
		p.sink.Progress(fmt.Sprintf("Downloaded %d%% (%s of %s)", step*10,
			humanize.Bytes(uint64(p.written)), humanize.Bytes(uint64(p.total))))
	}
	return len(b), nil
}

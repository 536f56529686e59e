package album

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// Client defaults.
const (
	DefaultPort         = 21
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = time.Second
)

// ErrNoNewCapture indicates the poll deadline passed without a capture
// newer than the baseline.
var ErrNoNewCapture = errors.New("no new capture before deadline")

// Kind selects which capture tree to search.
type Kind uint8

const (
	// KindPhoto is a single normal photo.
	KindPhoto Kind = iota

	// KindAstro is a stacked astrophotography result.
	KindAstro
)

var photoExtensions = []string{".jpg", ".jpeg", ".png", ".fits", ".fit"}

// Entry describes one capture on the FTP service.
type Entry struct {
	// Directory is the remote directory holding the file.
	Directory string

	// Name is the file name.
	Name string

	// Path is the full remote path.
	Path string

	// ModTime is the remote modification time.
	ModTime time.Time
}

// Capture is a downloaded capture with its metadata.
type Capture struct {
	Entry   Entry
	Content []byte
}

// ClientConfig configures an album client.
type ClientConfig struct {
	// Host is the unit's address.
	Host string

	// Port is the FTP port (default 21).
	Port int

	// Timeout bounds dialing and each transfer (default 10s).
	Timeout time.Duration

	// PollInterval is the wait between WaitForNew list attempts
	// (default 1s).
	PollInterval time.Duration

	// Logger for retrieval diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client lists and downloads captures. Each operation opens a fresh
// control connection; the firmware's FTP service drops idle sessions.
type Client struct {
	config ClientConfig
}

// NewClient creates an album client.
func NewClient(config ClientConfig) *Client {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{config: config}
}

// LatestEntry returns the most recent capture for the camera, or nil
// when the tree holds none.
func (c *Client) LatestEntry(ctx context.Context, kind Kind, camera string) (*Entry, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	var entries []Entry
	if kind == KindAstro {
		entries = c.collectAstroEntries(conn)
	} else {
		entries = c.collectPhotoEntries(conn, camera)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.Before(entries[j].ModTime)
		}
		return entries[i].Path < entries[j].Path
	})
	latest := entries[len(entries)-1]
	return &latest, nil
}

// Download fetches a capture by remote path.
func (c *Client) Download(ctx context.Context, remotePath string) ([]byte, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	resp, err := conn.Retr(remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve %s: %w", remotePath, err)
	}
	defer resp.Close()

	return io.ReadAll(resp)
}

// WaitForNew polls until a capture newer than baseline appears, then
// downloads it. A nil baseline accepts the first capture found. Fails
// with ErrNoNewCapture when the timeout elapses.
func (c *Client) WaitForNew(ctx context.Context, baseline *Entry, kind Kind, camera string, timeout time.Duration) (*Capture, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, err := c.LatestEntry(ctx, kind, camera)
		if err != nil {
			c.config.Logger.Warn("album list failed", "camera", camera, "error", err)
		} else if entry != nil && isNewEntry(entry, baseline) {
			content, err := c.Download(ctx, entry.Path)
			if err != nil {
				c.config.Logger.Warn("album download failed", "path", entry.Path, "error", err)
			} else {
				return &Capture{Entry: *entry, Content: content}, nil
			}
		}

		if time.Now().After(deadline) {
			return nil, ErrNoNewCapture
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.config.PollInterval):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.config.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ftp %s: %w", addr, err)
	}
	if err := conn.Login("Anonymous", ""); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login failed: %w", err)
	}
	return conn, nil
}

func (c *Client) collectPhotoEntries(conn *ftp.ServerConn, camera string) []Entry {
	var entries []Entry
	for _, candidate := range photoCandidates(camera) {
		listed, err := conn.List(candidate.dir)
		if err != nil {
			continue
		}
		for _, item := range listed {
			if item.Type != ftp.EntryTypeFile {
				continue
			}
			if !strings.HasPrefix(item.Name, candidate.prefix) || !matchesExtension(item.Name) {
				continue
			}
			entries = append(entries, Entry{
				Directory: candidate.dir,
				Name:      item.Name,
				Path:      path.Join(candidate.dir, item.Name),
				ModTime:   item.Time,
			})
		}
	}
	return entries
}

func (c *Client) collectAstroEntries(conn *ftp.ServerConn) []Entry {
	roots := []string{"/Astronomy", "/DWARF_II/Astronomy"}

	var entries []Entry
	for _, root := range roots {
		subdirs, err := conn.List(root)
		if err != nil {
			continue
		}
		for _, sub := range subdirs {
			if sub.Type != ftp.EntryTypeFolder || !strings.HasPrefix(sub.Name, "DWARF_RAW") {
				continue
			}
			dir := path.Join(root, sub.Name)
			files, err := conn.List(dir)
			if err != nil {
				continue
			}
			for _, item := range files {
				if item.Type != ftp.EntryTypeFile {
					continue
				}
				lower := strings.ToLower(item.Name)
				if !strings.HasSuffix(lower, ".fits") && !strings.HasSuffix(lower, ".fit") {
					continue
				}
				entries = append(entries, Entry{
					Directory: dir,
					Name:      item.Name,
					Path:      path.Join(dir, item.Name),
					ModTime:   item.Time,
				})
			}
		}
	}
	return entries
}

type photoCandidate struct {
	dir    string
	prefix string
}

// photoCandidates covers current and previous-generation layouts.
func photoCandidates(camera string) []photoCandidate {
	upper := strings.ToUpper(camera)
	return []photoCandidate{
		{dir: "/Normal_Photos", prefix: "DWARF3_" + upper},
		{dir: "/DWARF_II/Normal_Photos", prefix: "DWARF_" + upper},
	}
}

func matchesExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range photoExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// isNewEntry reports whether entry postdates the baseline snapshot.
func isNewEntry(entry, baseline *Entry) bool {
	if baseline == nil {
		return true
	}
	if entry.ModTime.After(baseline.ModTime) {
		return true
	}
	return entry.Path != baseline.Path
}

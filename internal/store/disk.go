package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/hpungsan/robolabel/internal/errors"
)

// Disk stores videos as files in one directory.
type Disk struct {
	dir string
}

// NewDisk creates dir if needed.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Disk{dir: dir}, nil
}

// Dir returns the upload directory.
func (d *Disk) Dir() string { return d.dir }

func (d *Disk) path(name string) string { return filepath.Join(d.dir, name) }

// Location returns the file path, relative to the working directory when the
// upload directory is.
func (d *Disk) Location(name string) string { return d.path(name) }

// Save writes to a temp file first so readers never see a partial video.
func (d *Disk) Save(ctx context.Context, name string, r io.Reader) (Info, error) {
	if err := ValidateName(name); err != nil {
		return Info{}, err
	}
	tmp, err := os.CreateTemp(d.dir, ".upload-*")
	if err != nil {
		return Info{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return Info{}, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return Info{}, fmt.Errorf("close %s: %w", name, err)
	}
	_ = os.Chmod(tmpPath, 0644)
	if err := os.Rename(tmpPath, d.path(name)); err != nil {
		return Info{}, fmt.Errorf("store %s: %w", name, err)
	}
	return d.stat(name)
}

func (d *Disk) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	fi, err := os.Stat(d.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}

func (d *Disk) Open(ctx context.Context, name string) (io.ReadSeekCloser, Info, error) {
	if err := ValidateName(name); err != nil {
		return nil, Info{}, err
	}
	f, err := os.Open(d.path(name))
	if os.IsNotExist(err) {
		return nil, Info{}, errors.NewNotFound("video", name)
	}
	if err != nil {
		return nil, Info{}, err
	}
	info, err := d.stat(name)
	if err != nil {
		f.Close()
		return nil, Info{}, err
	}
	return f, info, nil
}

// Localize returns the file itself; release is a no-op.
func (d *Disk) Localize(ctx context.Context, name string) (string, func(), error) {
	ok, err := d.Exists(ctx, name)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, errors.NewNotFound("video", name)
	}
	return d.path(name), func() {}, nil
}

func (d *Disk) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read upload directory: %w", err)
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsVideo(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *Disk) stat(name string) (Info, error) {
	fi, err := os.Stat(d.path(name))
	if err != nil {
		return Info{}, err
	}
	return Info{Name: name, Size: fi.Size(), ModTime: fi.ModTime().UTC()}, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

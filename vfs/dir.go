package vfs

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ffbridge/errors"
)

// Dir is an FS backed by a host directory.
type Dir struct {
	mounts map[string]*mount
	root   string
	mu     sync.Mutex
}

var _ FS = (*Dir)(nil)

// New creates a Dir rooted at root, creating the directory if needed.
func New(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.FS("root", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.FS("root", root, err)
	}
	return &Dir{root: abs, mounts: make(map[string]*mount)}, nil
}

// Root returns the host directory backing "/".
func (d *Dir) Root() string {
	return d.root
}

// clean normalizes a guest path. Relative paths are taken from "/".
func clean(p string) string {
	return path.Clean("/" + p)
}

func (d *Dir) host(guest string) string {
	return filepath.Join(d.root, filepath.FromSlash(guest))
}

// within returns the mount containing guest, if any.
func (d *Dir) within(guest string) *mount {
	var best *mount
	for point, m := range d.mounts {
		if guest == point || strings.HasPrefix(guest, point+"/") {
			if best == nil || len(point) > len(best.point) {
				best = m
			}
		}
	}
	return best
}

func (d *Dir) writable(op, guest string) error {
	if m := d.within(guest); m != nil && m.readOnly {
		return errors.New(errors.PhaseFS, errors.KindUnsupported).
			Path(guest).
			Detail("%s: %s mounted at %s is read-only", op, m.fsys, m.point).
			Build()
	}
	return nil
}

func (d *Dir) notMountPoint(op, guest string) error {
	if _, ok := d.mounts[guest]; ok || guest == "/" {
		return errors.New(errors.PhaseFS, errors.KindInvalidInput).
			Path(guest).
			Detail("%s: resource busy", op).
			Build()
	}
	return nil
}

func (d *Dir) WriteFile(p string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	guest := clean(p)
	if err := d.writable("writeFile", guest); err != nil {
		return err
	}
	if err := os.WriteFile(d.host(guest), data, 0o644); err != nil {
		return errors.FS("writeFile", guest, err)
	}
	return nil
}

func (d *Dir) ReadFile(p string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	guest := clean(p)
	data, err := os.ReadFile(d.host(guest))
	if err != nil {
		return nil, errors.FS("readFile", guest, err)
	}
	return data, nil
}

func (d *Dir) Unlink(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	guest := clean(p)
	if err := d.writable("unlink", guest); err != nil {
		return err
	}
	host := d.host(guest)
	info, err := os.Lstat(host)
	if err != nil {
		return errors.FS("unlink", guest, err)
	}
	if info.IsDir() {
		return errors.New(errors.PhaseFS, errors.KindInvalidInput).
			Path(guest).
			Detail("unlink: is a directory").
			Build()
	}
	if err := os.Remove(host); err != nil {
		return errors.FS("unlink", guest, err)
	}
	return nil
}

func (d *Dir) Rename(oldPath, newPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	from, to := clean(oldPath), clean(newPath)
	if err := d.notMountPoint("rename", from); err != nil {
		return err
	}
	if err := d.writable("rename", from); err != nil {
		return err
	}
	if err := d.writable("rename", to); err != nil {
		return err
	}
	if err := os.Rename(d.host(from), d.host(to)); err != nil {
		return errors.FS("rename", from, err)
	}
	return nil
}

func (d *Dir) Mkdir(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	guest := clean(p)
	if err := d.writable("mkdir", guest); err != nil {
		return err
	}
	if err := os.Mkdir(d.host(guest), 0o755); err != nil {
		return errors.FS("mkdir", guest, err)
	}
	return nil
}

// Readdir lists the names in a directory, "." and ".." first, then entries in
// name order.
func (d *Dir) Readdir(p string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	guest := clean(p)
	entries, err := os.ReadDir(d.host(guest))
	if err != nil {
		return nil, errors.FS("readdir", guest, err)
	}

	names := make([]string, 0, len(entries)+2)
	names = append(names, ".", "..")
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names[2:])
	return names, nil
}

// IsDir reports whether p is a directory. Mount points backed by host
// directories count as directories.
func (d *Dir) IsDir(p string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	guest := clean(p)
	info, err := os.Stat(d.host(guest))
	if err != nil {
		return false, errors.FS("stat", guest, err)
	}
	return info.IsDir(), nil
}

func (d *Dir) Rmdir(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	guest := clean(p)
	if err := d.notMountPoint("rmdir", guest); err != nil {
		return err
	}
	if err := d.writable("rmdir", guest); err != nil {
		return err
	}
	host := d.host(guest)
	info, err := os.Lstat(host)
	if err != nil {
		return errors.FS("rmdir", guest, err)
	}
	if !info.IsDir() {
		return errors.New(errors.PhaseFS, errors.KindInvalidInput).
			Path(guest).
			Detail("rmdir: not a directory").
			Build()
	}
	if err := os.Remove(host); err != nil {
		return errors.FS("rmdir", guest, err)
	}
	return nil
}

// Filesystem looks up a mountable filesystem by name.
func (d *Dir) Filesystem(name string) (Filesystem, bool) {
	return Lookup(name)
}

// Mount attaches fsys at mountPoint.
func (d *Dir) Mount(fsys Filesystem, options map[string]any, mountPoint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	guest := clean(mountPoint)
	if err := d.notMountPoint("mount", guest); err != nil {
		return err
	}
	if err := d.writable("mount", guest); err != nil {
		return err
	}

	host := d.host(guest)
	if err := emptyDir(guest, host); err != nil {
		return err
	}

	m := &mount{fsys: fsys, point: guest, host: host}
	var err error
	switch fsys {
	case MEMFS:
		// The empty mount point is the scratch tree.
	case NODEFS:
		err = m.attachHost(options)
	case WORKERFS:
		err = m.attachFiles(options)
	default:
		err = errors.Unsupported(errors.PhaseFS, "unknown filesystem "+string(fsys))
	}
	if err != nil {
		return err
	}

	d.mounts[guest] = m
	Logger().Debug("mounted",
		zap.String("fs", string(fsys)),
		zap.String("mount_point", guest))
	return nil
}

// Unmount detaches the filesystem at mountPoint and leaves an empty directory.
func (d *Dir) Unmount(mountPoint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	guest := clean(mountPoint)
	m, ok := d.mounts[guest]
	if !ok {
		return errors.New(errors.PhaseFS, errors.KindInvalidInput).
			Path(guest).
			Detail("unmount: not a mount point").
			Build()
	}
	for point := range d.mounts {
		if strings.HasPrefix(point, guest+"/") {
			return errors.New(errors.PhaseFS, errors.KindInvalidInput).
				Path(guest).
				Detail("unmount: %s is mounted below", point).
				Build()
		}
	}

	if err := m.detach(); err != nil {
		return err
	}
	delete(d.mounts, guest)
	Logger().Debug("unmounted",
		zap.String("fs", string(m.fsys)),
		zap.String("mount_point", guest))
	return nil
}

// Mounts returns the active mount points in path order.
func (d *Dir) Mounts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	points := make([]string, 0, len(d.mounts))
	for p := range d.mounts {
		points = append(points, p)
	}
	sort.Strings(points)
	return points
}

func emptyDir(guest, host string) error {
	entries, err := os.ReadDir(host)
	if err != nil {
		return errors.FS("mount", guest, err)
	}
	if len(entries) > 0 {
		return errors.New(errors.PhaseFS, errors.KindInvalidInput).
			Path(guest).
			Detail("mount: mount point is not empty").
			Build()
	}
	return nil
}

package vfs

// FS is the filesystem facade used by the dispatcher. Paths are guest paths.
type FS interface {
	WriteFile(path string, data []byte) error
	ReadFile(path string) ([]byte, error)
	Unlink(path string) error
	Rename(oldPath, newPath string) error
	Mkdir(path string) error
	// Readdir lists entry names, "." and ".." first.
	Readdir(path string) ([]string, error)
	IsDir(path string) (bool, error)
	Rmdir(path string) error

	// Filesystem looks up a mountable filesystem by name.
	Filesystem(name string) (Filesystem, bool)
	Mount(fsys Filesystem, options map[string]any, mountPoint string) error
	Unmount(mountPoint string) error

	// Root is the host directory backing "/".
	Root() string
}

// Filesystem names a mountable filesystem type.
type Filesystem string

const (
	MEMFS    Filesystem = "MEMFS"
	NODEFS   Filesystem = "NODEFS"
	WORKERFS Filesystem = "WORKERFS"
)

var filesystems = map[string]Filesystem{
	string(MEMFS):    MEMFS,
	string(NODEFS):   NODEFS,
	string(WORKERFS): WORKERFS,
}

// Lookup returns the filesystem registered under name.
func Lookup(name string) (Filesystem, bool) {
	fs, ok := filesystems[name]
	return fs, ok
}

func (f Filesystem) String() string {
	return string(f)
}

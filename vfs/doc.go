// Package vfs is the virtual filesystem shared by the request dispatcher and
// the native engine.
//
// The tree lives in a host directory. The dispatcher manipulates it through
// the FS facade; the engine sees the same directory mounted at "/" through
// WASI, so a file written by WRITE_FILE is immediately visible to ffmpeg and
// an output produced by ffmpeg is readable by READ_FILE.
//
// Guest paths are always resolved inside the root. ".." never escapes it.
//
// # Filesystems
//
// Mount accepts the emscripten filesystem names:
//
//	MEMFS     scratch tree, discarded on unmount
//	NODEFS    host directory options["root"] exposed at the mount point
//	WORKERFS  read-only copies of options["files"] (host paths) and
//	          options["blobs"] ({name, data} records)
//
// A mount point must be an existing, empty directory that is not already a
// mount point. Unmount leaves it empty again.
package vfs

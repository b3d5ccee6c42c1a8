package vfs

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/wippyai/ffbridge/errors"
)

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "root"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

func TestDir_FileRoundTrip(t *testing.T) {
	d := newTestDir(t)

	if err := d.WriteFile("/input.avi", []byte("frames")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := d.ReadFile("input.avi")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "frames" {
		t.Errorf("ReadFile = %q", data)
	}

	onHost, err := os.ReadFile(filepath.Join(d.Root(), "input.avi"))
	if err != nil || string(onHost) != "frames" {
		t.Errorf("host file = %q, %v", onHost, err)
	}

	if err := d.Rename("/input.avi", "/renamed.avi"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := d.ReadFile("/input.avi"); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("old path after rename: %v", err)
	}

	if err := d.Unlink("/renamed.avi"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := d.Unlink("/renamed.avi"); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("second Unlink: expected not_found, got %v", err)
	}
}

func TestDir_PathsStayInsideRoot(t *testing.T) {
	d := newTestDir(t)

	if err := d.WriteFile("/../../escape.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(d.Root(), "escape.txt")); err != nil {
		t.Errorf("file should land inside root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(d.Root())), "escape.txt")); err == nil {
		t.Error("file escaped the root")
	}
}

func TestDir_Directories(t *testing.T) {
	d := newTestDir(t)

	if err := d.Mkdir("/out"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := d.Mkdir("/out"); errors.KindOf(err) != errors.KindInvalidInput {
		t.Errorf("Mkdir existing: expected invalid_input, got %v", err)
	}
	for _, name := range []string{"b.png", "a.png", "c.png"} {
		if err := d.WriteFile("/out/"+name, nil); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	if err := d.Mkdir("/out/sub"); err != nil {
		t.Fatalf("Mkdir sub: %v", err)
	}

	names, err := d.Readdir("/out")
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	want := []string{".", "..", "a.png", "b.png", "c.png", "sub"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Readdir = %q, want %q", names, want)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"/out", true},
		{"/out/sub", true},
		{"/out/a.png", false},
		{"/", true},
	}
	for _, tt := range tests {
		got, err := d.IsDir(tt.path)
		if err != nil {
			t.Fatalf("IsDir(%q): %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("IsDir(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
	if _, err := d.IsDir("/missing"); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("IsDir missing: expected not_found, got %v", err)
	}

	if err := d.Unlink("/out/sub"); err == nil {
		t.Error("Unlink on a directory should fail")
	}
	if err := d.Rmdir("/out/a.png"); err == nil {
		t.Error("Rmdir on a file should fail")
	}
	if err := d.Rmdir("/out"); err == nil {
		t.Error("Rmdir on a non-empty directory should fail")
	}
	if err := d.Rmdir("/out/sub"); err != nil {
		t.Errorf("Rmdir: %v", err)
	}
	if err := d.Rmdir("/"); err == nil {
		t.Error("Rmdir on root should fail")
	}
}

func TestDir_Filesystem(t *testing.T) {
	d := newTestDir(t)

	for _, name := range []string{"MEMFS", "NODEFS", "WORKERFS"} {
		fs, ok := d.Filesystem(name)
		if !ok || fs.String() != name {
			t.Errorf("Filesystem(%q) = %v, %v", name, fs, ok)
		}
	}
	if _, ok := d.Filesystem("IDBFS"); ok {
		t.Error("IDBFS should be unknown")
	}
}

func TestDir_MountMEMFS(t *testing.T) {
	d := newTestDir(t)

	if err := d.Mount(MEMFS, nil, "/scratch"); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("mount on missing point: expected not_found, got %v", err)
	}
	if err := d.Mkdir("/scratch"); err != nil {
		t.Fatal(err)
	}
	if err := d.Mount(MEMFS, nil, "/scratch"); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if err := d.Mount(MEMFS, nil, "/scratch"); errors.KindOf(err) != errors.KindInvalidInput {
		t.Errorf("double mount: expected invalid_input, got %v", err)
	}
	if err := d.WriteFile("/scratch/tmp.bin", []byte{1}); err != nil {
		t.Fatalf("WriteFile in MEMFS: %v", err)
	}
	if err := d.Rmdir("/scratch"); err == nil {
		t.Error("Rmdir on a mount point should fail")
	}
	if got := d.Mounts(); !reflect.DeepEqual(got, []string{"/scratch"}) {
		t.Errorf("Mounts = %v", got)
	}

	if err := d.Unmount("/scratch"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	names, err := d.Readdir("/scratch")
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if !reflect.DeepEqual(names, []string{".", ".."}) {
		t.Errorf("MEMFS contents survived unmount: %q", names)
	}
	if err := d.Unmount("/scratch"); errors.KindOf(err) != errors.KindInvalidInput {
		t.Errorf("second Unmount: expected invalid_input, got %v", err)
	}
}

func TestDir_MountNonEmpty(t *testing.T) {
	d := newTestDir(t)
	if err := d.Mkdir("/busy"); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteFile("/busy/f", nil); err != nil {
		t.Fatal(err)
	}
	if err := d.Mount(MEMFS, nil, "/busy"); errors.KindOf(err) != errors.KindInvalidInput {
		t.Errorf("expected invalid_input, got %v", err)
	}
}

func TestDir_MountNODEFS(t *testing.T) {
	d := newTestDir(t)
	hostDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(hostDir, "clip.mp4"), []byte("mp4"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := d.Mkdir("/host"); err != nil {
		t.Fatal(err)
	}
	if err := d.Mount(NODEFS, map[string]any{}, "/host"); errors.KindOf(err) != errors.KindInvalidInput {
		t.Errorf("missing root option: expected invalid_input, got %v", err)
	}
	if err := d.Mount(NODEFS, map[string]any{"root": hostDir}, "/host"); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	isDir, err := d.IsDir("/host")
	if err != nil || !isDir {
		t.Errorf("IsDir(/host) = %v, %v", isDir, err)
	}
	data, err := d.ReadFile("/host/clip.mp4")
	if err != nil || string(data) != "mp4" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}
	if err := d.WriteFile("/host/out.txt", []byte("done")); err != nil {
		t.Fatalf("WriteFile through NODEFS: %v", err)
	}
	if _, err := os.Stat(filepath.Join(hostDir, "out.txt")); err != nil {
		t.Errorf("write did not reach host dir: %v", err)
	}

	if err := d.Unmount("/host"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	names, _ := d.Readdir("/host")
	if len(names) != 2 {
		t.Errorf("mount point not empty after unmount: %q", names)
	}
	if _, err := os.Stat(filepath.Join(hostDir, "clip.mp4")); err != nil {
		t.Errorf("unmount must not touch the host dir: %v", err)
	}
}

func TestDir_MountWORKERFS(t *testing.T) {
	d := newTestDir(t)
	src := filepath.Join(t.TempDir(), "input.webm")
	if err := os.WriteFile(src, []byte("webm"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := d.Mkdir("/in"); err != nil {
		t.Fatal(err)
	}
	opts := map[string]any{
		"files": []any{src},
		"blobs": []any{map[any]any{"name": "sub.srt", "data": []byte("1\n")}},
	}
	if err := d.Mount(WORKERFS, opts, "/in"); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	names, err := d.Readdir("/in")
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if !reflect.DeepEqual(names, []string{".", "..", "input.webm", "sub.srt"}) {
		t.Errorf("Readdir = %q", names)
	}
	data, err := d.ReadFile("/in/sub.srt")
	if err != nil || string(data) != "1\n" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}

	if err := d.WriteFile("/in/new.txt", nil); errors.KindOf(err) != errors.KindUnsupported {
		t.Errorf("write into WORKERFS: expected unsupported, got %v", err)
	}
	if err := d.Unlink("/in/input.webm"); errors.KindOf(err) != errors.KindUnsupported {
		t.Errorf("unlink in WORKERFS: expected unsupported, got %v", err)
	}

	if err := d.Unmount("/in"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if err := d.WriteFile("/in/new.txt", nil); err != nil {
		t.Errorf("write after unmount: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source file must survive: %v", err)
	}
}

func TestDir_MountWORKERFSBadOptions(t *testing.T) {
	d := newTestDir(t)
	if err := d.Mkdir("/in"); err != nil {
		t.Fatal(err)
	}

	tests := []map[string]any{
		{"files": "not-a-list"},
		{"files": []any{42}},
		{"blobs": []any{map[string]any{"data": []byte{1}}}},
		{"files": []string{filepath.Join(t.TempDir(), "absent")}},
	}
	for i, opts := range tests {
		if err := d.Mount(WORKERFS, opts, "/in"); err == nil {
			t.Errorf("case %d: expected error", i)
		}
		names, _ := d.Readdir("/in")
		if len(names) != 2 {
			t.Errorf("case %d: failed mount left %q", i, names)
		}
	}
}

func TestDir_UnmountNested(t *testing.T) {
	d := newTestDir(t)
	if err := d.Mkdir("/a"); err != nil {
		t.Fatal(err)
	}
	if err := d.Mount(MEMFS, nil, "/a"); err != nil {
		t.Fatal(err)
	}
	if err := d.Mkdir("/a/b"); err != nil {
		t.Fatal(err)
	}
	if err := d.Mount(MEMFS, nil, "/a/b"); err != nil {
		t.Fatal(err)
	}

	if err := d.Unmount("/a"); errors.KindOf(err) != errors.KindInvalidInput {
		t.Errorf("expected invalid_input while nested mount exists, got %v", err)
	}
	if err := d.Unmount("/a/b"); err != nil {
		t.Fatal(err)
	}
	if err := d.Unmount("/a"); err != nil {
		t.Fatal(err)
	}
}

package vfs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/wippyai/ffbridge/errors"
)

type mount struct {
	fsys     Filesystem
	point    string
	host     string
	readOnly bool
	linked   bool
}

// attachHost replaces the mount point with a link to options["root"].
func (m *mount) attachHost(options map[string]any) error {
	root, ok := options["root"].(string)
	if !ok || root == "" {
		return errors.New(errors.PhaseFS, errors.KindInvalidInput).
			Path(m.point).
			Detail("NODEFS requires a root option").
			Build()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return errors.FS("mount", m.point, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return errors.FS("mount", m.point, err)
	}
	if !info.IsDir() {
		return errors.New(errors.PhaseFS, errors.KindInvalidInput).
			Path(m.point).
			Detail("NODEFS root %q is not a directory", root).
			Build()
	}

	if err := os.Remove(m.host); err != nil {
		return errors.FS("mount", m.point, err)
	}
	if err := os.Symlink(root, m.host); err != nil {
		_ = os.Mkdir(m.host, 0o755)
		return errors.FS("mount", m.point, err)
	}
	m.linked = true
	return nil
}

// attachFiles copies options["files"] and options["blobs"] into the mount
// point and marks it read-only.
func (m *mount) attachFiles(options map[string]any) error {
	files, err := stringList(options["files"])
	if err != nil {
		return m.invalid("files", err)
	}
	blobs, err := blobList(options["blobs"])
	if err != nil {
		return m.invalid("blobs", err)
	}

	for _, src := range files {
		if err := copyFile(src, filepath.Join(m.host, filepath.Base(src))); err != nil {
			_ = m.clear()
			return errors.FS("mount", m.point, err)
		}
	}
	for _, b := range blobs {
		if err := os.WriteFile(filepath.Join(m.host, filepath.Base(b.name)), b.data, 0o444); err != nil {
			_ = m.clear()
			return errors.FS("mount", m.point, err)
		}
	}

	m.readOnly = true
	return nil
}

func (m *mount) invalid(option string, cause error) error {
	return errors.New(errors.PhaseFS, errors.KindInvalidInput).
		Path(m.point).
		Detail("WORKERFS option %q", option).
		Cause(cause).
		Build()
}

// clear empties the mount point.
func (m *mount) clear() error {
	entries, err := os.ReadDir(m.host)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(m.host, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// detach restores an empty directory at the mount point.
func (m *mount) detach() error {
	if m.linked {
		if err := os.Remove(m.host); err != nil {
			return errors.FS("unmount", m.point, err)
		}
		if err := os.Mkdir(m.host, 0o755); err != nil {
			return errors.FS("unmount", m.point, err)
		}
		return nil
	}
	if err := m.clear(); err != nil {
		return errors.FS("unmount", m.point, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o444)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

type blob struct {
	name string
	data []byte
}

// stringList accepts []string or a generic list of strings.
func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return list, nil
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, errors.InvalidInput(errors.PhaseFS, "expected a list of paths")
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, errors.InvalidInput(errors.PhaseFS, "expected a list of paths")
	}
}

// blobList accepts a list of {name, data} records as produced by in-process
// callers or schemaless decoders.
func blobList(v any) ([]blob, error) {
	var items []any
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []map[string]any:
		for _, m := range list {
			items = append(items, m)
		}
	case []any:
		items = list
	default:
		return nil, errors.InvalidInput(errors.PhaseFS, "expected a list of blobs")
	}

	out := make([]blob, 0, len(items))
	for _, item := range items {
		name, nameOK := field(item, "name").(string)
		if !nameOK || name == "" {
			return nil, errors.InvalidInput(errors.PhaseFS, "blob without a name")
		}
		var data []byte
		switch d := field(item, "data").(type) {
		case []byte:
			data = d
		case string:
			data = []byte(d)
		case nil:
		default:
			return nil, errors.InvalidInput(errors.PhaseFS, "blob data must be bytes or text")
		}
		out = append(out, blob{name: name, data: data})
	}
	return out, nil
}

func field(record any, key string) any {
	switch m := record.(type) {
	case map[string]any:
		return m[key]
	case map[any]any:
		return m[key]
	default:
		return nil
	}
}

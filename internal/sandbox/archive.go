package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/moby/go-archive"
)

// restoreDir is where staged restore archives are mounted inside a sandbox.
const restoreDir = "/tmp/_workspace"

// isZstd reports whether path names a zstd-compressed archive.
func isZstd(path string) bool {
	return strings.HasSuffix(path, ".zst") || strings.HasSuffix(path, ".tzst")
}

// packPath returns a tar stream of src. A directory contributes its
// contents; a single file is archived under its base name.
func packPath(src string) (io.ReadCloser, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return archive.TarWithOptions(src, &archive.TarOptions{})
	}
	return archive.TarWithOptions(filepath.Dir(src), &archive.TarOptions{
		IncludeFiles: []string{filepath.Base(src)},
	})
}

// openRestore returns an uncompressed tar stream for one restore path.
func openRestore(path string) (io.ReadCloser, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return packPath(path)
	}
	return readArchive(path)
}

// readArchive opens an archive file, decompressing .zst transparently.
func readArchive(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !isZstd(path) {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open zstd archive %s: %w", path, err)
	}
	return &zstdFile{Decoder: dec, f: f}, nil
}

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// writeArchive creates dest and fills it through fill, compressing with zstd
// when dest has a .zst suffix. A partially written file is removed on error.
func writeArchive(dest string, fill func(w io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	if !isZstd(dest) {
		return fill(f)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := fill(enc); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// expandInto replaces dest with the contents of the tar stream r.
func expandInto(r io.Reader, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dest, err)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if err := archive.Untar(r, dest, &archive.TarOptions{NoLchown: true}); err != nil {
		return fmt.Errorf("failed to expand snapshot into %s: %w", dest, err)
	}
	return nil
}

// stagedRestores holds host-side tar files ready to be bind-mounted.
type stagedRestores struct {
	dir   string
	files []string
}

// stageRestores turns every restore path into an uncompressed tar file on
// the host. Plain .tar files are used in place.
func stageRestores(paths []string) (*stagedRestores, error) {
	s := &stagedRestores{}
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			s.cleanup()
			return nil, &CreationError{Path: p, Err: err}
		}
		if !info.IsDir() && !isZstd(abs) {
			s.files = append(s.files, abs)
			continue
		}

		if s.dir == "" {
			if s.dir, err = os.MkdirTemp("", "cpta-restore-"); err != nil {
				return nil, fmt.Errorf("failed to create staging dir: %w", err)
			}
		}
		staged := filepath.Join(s.dir, fmt.Sprintf("%d.tar", i))
		if err := stageOne(abs, staged); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to stage %s: %w", p, err)
		}
		s.files = append(s.files, staged)
	}
	return s, nil
}

func stageOne(src, dest string) error {
	rc, err := openRestore(src)
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeArchive(dest, func(w io.Writer) error {
		_, err := io.Copy(w, rc)
		return err
	})
}

func (s *stagedRestores) cleanup() error {
	if s == nil || s.dir == "" {
		return nil
	}
	return os.RemoveAll(s.dir)
}

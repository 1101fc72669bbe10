// Package archive 负责把构建产物目录打包成 gzip 压缩的 tar 归档，以及反向解包。
//
// 归档内所有成员都以 "./" 开头并相对于源目录，源目录本身对应成员 "./"，
// 与 `tar -czf out.tar.gz -C <dir> .` 的产物保持一致。因此解包时通常剥离一层前缀。
// 符号链接以 TypeSymlink 成员保存链接目标，不会被解引用成普通文件。
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/catchy-build/catchy/internal/fsutil"
)

var (
	// ErrUnsupportedType 表示源目录中存在无法归档的条目（设备、管道、套接字等）。
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrUnsafePath 表示归档成员试图写到目标目录之外。
	ErrUnsafePath = errors.New("unsafe archive path")
)

// Pack 将 source 写成 gzip 压缩的 tar 流。source 为单个文件时，归档只包含 "./<文件名>"。
func Pack(w io.Writer, source string) error {
	info, err := os.Lstat(source)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	if info.IsDir() {
		err = packDir(tw, source)
	} else {
		err = writeMember(tw, source, "./"+info.Name(), info)
	}
	if err != nil {
		tw.Close()
		gz.Close()
		return err
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		return fmt.Errorf("finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finish gzip stream: %w", err)
	}
	return nil
}

// PackFile 把 source 打包到一个新的临时文件中并返回其路径，调用方负责删除。
func PackFile(source string) (string, error) {
	f, err := os.CreateTemp("", "catchy-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("create temp archive: %w", err)
	}
	name := f.Name()

	packErr := Pack(f, source)
	closeErr := f.Close()
	if packErr == nil {
		packErr = closeErr
	}
	if packErr != nil {
		os.Remove(name)
		return "", packErr
	}
	return name, nil
}

func packDir(tw *tar.Writer, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		name := "./"
		if rel != "." {
			name += filepath.ToSlash(rel)
		}
		return writeMember(tw, p, name, info)
	})
}

func writeMember(tw *tar.Writer, p, name string, info fs.FileInfo) error {
	var link string
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(p)
		if err != nil {
			return err
		}
		link = target
	case info.IsDir(), info.Mode().IsRegular():
	default:
		return fmt.Errorf("%s: %w (%s)", p, ErrUnsupportedType, info.Mode().Type())
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
		hdr.Name += "/"
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Unpack 将 gzip tar 流解包到 target，并从每个成员路径剥离 strip 个前导目录。
// 剥离后为空的成员（例如包裹目录本身）会被跳过。target 中已存在的同名文件会被替换。
// 任何格式错误都会直接返回，已解出的部分保持原样，由调用方决定是否清理。
func Unpack(r io.Reader, target string, strip int) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	root, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		rel, ok, err := stripComponents(hdr.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		dest, err := safeJoin(root, rel)
		if err != nil {
			return err
		}

		if err := extractMember(tr, hdr, root, dest, strip); err != nil {
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
	}
}

func extractMember(tr *tar.Reader, hdr *tar.Header, root, dest string, strip int) error {
	mode := fs.FileMode(hdr.Mode).Perm()

	switch hdr.Typeflag {
	case tar.TypeDir:
		// 目录成员不能落在已解包的符号链接上，否则 MkdirAll/Chmod 会作用到 target 之外。
		if info, err := os.Lstat(dest); err == nil && info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: directory %q over symlink", ErrUnsafePath, hdr.Name)
		}
		if err := os.MkdirAll(dest, mode|0o700); err != nil {
			return err
		}
		return os.Chmod(dest, mode|0o700)

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := fsutil.RemoveNonDir(dest); err != nil {
			return err
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if err := os.Chmod(dest, mode); err != nil {
			return err
		}
		return os.Chtimes(dest, hdr.ModTime, hdr.ModTime)

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := fsutil.RemoveNonDir(dest); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, dest)

	case tar.TypeLink:
		linkRel, ok, err := stripComponents(hdr.Linkname, strip)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: hard link target %q", ErrUnsafePath, hdr.Linkname)
		}
		src, err := safeJoin(root, linkRel)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := fsutil.RemoveNonDir(dest); err != nil {
			return err
		}
		return os.Link(src, dest)

	default:
		// pax 全局头、设备文件等不属于构建产物，直接忽略。
		return nil
	}
}

// stripComponents 去掉 name 的前 n 个路径段。ok=false 表示剥离后已无剩余路径。
func stripComponents(name string, n int) (string, bool, error) {
	var parts []string
	for _, part := range strings.Split(name, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) <= n {
		return "", false, nil
	}

	rel := path.Clean(strings.Join(parts[n:], "/"))
	if rel == "." {
		return "", false, nil
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false, fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return rel, true, nil
}

// safeJoin 拼接 root 与 rel，并拒绝经由已解出的符号链接跳出 root 的路径。
func safeJoin(root, rel string) (string, error) {
	dest := filepath.Join(root, filepath.FromSlash(rel))
	if dest != root && !strings.HasPrefix(dest, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}

	parent := root
	segments := strings.Split(filepath.Dir(filepath.FromSlash(rel)), string(filepath.Separator))
	for _, segment := range segments {
		if segment == "." || segment == "" {
			continue
		}
		parent = filepath.Join(parent, segment)
		info, err := os.Lstat(parent)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			return "", err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return "", fmt.Errorf("%w: %q traverses symlink", ErrUnsafePath, rel)
		}
	}
	return dest, nil
}

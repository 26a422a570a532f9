package manifest

import (
	"context"
	"fmt"
	"path"
	"runtime"
	"slices"
	"strings"
	"unicode/utf8"

	"datasafe/pkg/checksum"
	"datasafe/pkg/types"

	"golang.org/x/sync/errgroup"
)

// Classifier 给文件分配格式和角色 (由 format.Registry 实现)
type Classifier interface {
	Detect(name string) (string, types.Role)
}

// ValidateName 检查相对文件名是否可以安全地落盘
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidFilename)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidFilename, name)
	case strings.Contains(name, "\\"):
		return fmt.Errorf("%w: %q must use forward slashes", ErrInvalidFilename, name)
	case strings.HasPrefix(name, "/"):
		return fmt.Errorf("%w: %q must be relative", ErrInvalidFilename, name)
	case path.Clean(name) != name:
		return fmt.Errorf("%w: %q is not a clean path", ErrInvalidFilename, name)
	case name == ".." || strings.HasPrefix(name, "../"):
		return fmt.Errorf("%w: %q escapes the object directory", ErrInvalidFilename, name)
	case name == Filename:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidFilename, name)
	}
	return nil
}

// Populate 用第一次上传的文件填充一个 registered Manifest
// 返回新的 Manifest；任何失败都不会修改接收者
func (m *Manifest) Populate(ctx context.Context, eng *checksum.Engine, det Classifier, files types.FileSet) (*Manifest, error) {
	if m.State() != types.StateRegistered {
		return nil, fmt.Errorf("%w: populate requires %s, %s is %s", ErrWrongState, types.StateRegistered, m.LOI, m.State())
	}
	return m.withFiles(ctx, eng, det, files)
}

// Replace 用新的完整文件集替换一个 populated Manifest，revision + 1
func (m *Manifest) Replace(ctx context.Context, eng *checksum.Engine, det Classifier, files types.FileSet) (*Manifest, error) {
	if m.State() != types.StatePopulated {
		return nil, fmt.Errorf("%w: replace requires %s, %s is %s", ErrWrongState, types.StatePopulated, m.LOI, m.State())
	}
	return m.withFiles(ctx, eng, det, files)
}

func (m *Manifest) withFiles(ctx context.Context, eng *checksum.Engine, det Classifier, files types.FileSet) (*Manifest, error) {
	if files.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFileSet, m.LOI)
	}

	// 1. 先校验所有文件名
	seen := make(map[string]bool, files.Len())
	for _, f := range files.Files {
		if err := ValidateName(f.Name); err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%w: duplicate file %q", ErrInvalidFilename, f.Name)
		}
		seen[f.Name] = true
	}

	// 2. 并发计算所有摘要 (有界)
	entries := make([]Entry, files.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, f := range files.Files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			format, role := det.Detect(f.Name)
			entries[i] = Entry{
				Name:     f.Name,
				Role:     role,
				Format:   format,
				Checksum: eng.Digest(f.Data),
				Size:     f.Size(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("hashing files for %s: %w", m.LOI, err)
	}

	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })

	// 3. 全部成功后才生成新的 Manifest
	next := m.Clone()
	next.Files = entries
	next.Revision = m.Revision + 1
	next.Modified = now()
	next.Algorithm = eng.Algorithm()
	next.Checksums = spans(eng, entries)
	if err := next.Seal(); err != nil {
		return nil, err
	}
	return next, nil
}

func spans(eng *checksum.Engine, entries []Entry) Spans {
	var data, all []types.Checksum
	for _, e := range entries {
		all = append(all, e.Checksum)
		if e.Role == types.RoleData {
			data = append(data, e.Checksum)
		}
	}
	return Spans{
		Data: eng.DigestSorted(data),
		All:  eng.DigestSorted(all),
	}
}

package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"datasafe/pkg/checksum"
	"datasafe/pkg/ignore"
	"datasafe/pkg/manifest"
	"datasafe/pkg/types"
)

// ErrTargetNotEmpty 下载目标目录已存在且不为空
var ErrTargetNotEmpty = errors.New("target directory is not empty")

// ReadDir 收集数据集目录下的所有文件并计算摘要
// 遵循 .dsignore 和内置忽略规则，文件名使用 "/" 分隔的相对路径
// skipped 是被规则忽略的路径，目录带结尾的 "/"
func ReadDir(ctx context.Context, dir string, eng *checksum.Engine) (set types.FileSet, skipped []string, err error) {
	info, err := os.Stat(dir)
	if err != nil {
		return types.FileSet{}, nil, err
	}
	if !info.IsDir() {
		return types.FileSet{}, nil, fmt.Errorf("%s is not a directory", dir)
	}

	matcher, err := ignore.NewMatcher(dir)
	if err != nil {
		return types.FileSet{}, nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}

	set = types.FileSet{Algorithm: eng.Algorithm()}
	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err // 权限错误等
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matcher.Matches(rel) {
			if d.IsDir() {
				skipped = append(skipped, rel+"/")
				return filepath.SkipDir
			}
			skipped = append(skipped, rel)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			// 符号链接、设备文件等不属于数据集
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		set.Files = append(set.Files, types.File{Name: rel, Data: data, Checksum: eng.Digest(data)})
		return nil
	}
	if err := filepath.WalkDir(dir, walkFn); err != nil {
		return types.FileSet{}, nil, fmt.Errorf("walk failed: %w", err)
	}

	slices.SortFunc(set.Files, func(a, b types.File) int { return strings.Compare(a.Name, b.Name) })
	return set, skipped, nil
}

// WriteDir 把下载的文件和 MANIFEST.yaml 原子地写入 dir
// 先写到同级的临时目录，全部成功后一次 rename；dir 必须不存在或为空
func WriteDir(dir string, doc []byte, files types.FileSet) error {
	dir = filepath.Clean(dir)
	if err := ensureEmpty(dir); err != nil {
		return err
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(parent, ".ds-download-*")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp)
		}
	}()

	for _, f := range files.Files {
		if err := manifest.ValidateName(f.Name); err != nil {
			return err
		}
		p := filepath.Join(tmp, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(p, f.Data, 0644); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(tmp, manifest.Filename), doc, 0644); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0755); err != nil {
		return err
	}

	// 空目录先移走，rename 不能覆盖
	if _, err := os.Stat(dir); err == nil {
		if err := os.Remove(dir); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	committed = true
	return nil
}

func ensureEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s", ErrTargetNotEmpty, dir)
	}
	return nil
}

// ReadManifest 读取 dir/MANIFEST.yaml，也可以直接给出文件路径
func ReadManifest(path string) (*manifest.Manifest, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, manifest.Filename)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return manifest.Unmarshal(data)
}

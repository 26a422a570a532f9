package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"runtime"
	"slices"
	"strings"
	"sync"

	"datasafe/pkg/checksum"
	"datasafe/pkg/types"

	"golang.org/x/sync/errgroup"
)

// Opener 按相对文件名打开文件内容
// 文件不存在时返回的错误需要能被 errors.Is(err, fs.ErrNotExist) 识别
type Opener func(name string) (io.ReadCloser, error)

// FileSetOpener 把内存中的文件集包装成 Opener
func FileSetOpener(files types.FileSet) Opener {
	return func(name string) (io.ReadCloser, error) {
		f, ok := files.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
		}
		return io.NopCloser(bytes.NewReader(f.Data)), nil
	}
}

const (
	ReasonMissing = "missing file"
	ReasonExtra   = "file not listed in manifest"
	ReasonSpan    = "span checksum mismatch"
)

// Integrity 是一次完整性检查的结果
type Integrity struct {
	Data       bool // 数据文件全部一致
	Metadata   bool // 元数据文件全部一致
	Manifest   bool // Manifest 自校验和与 span 校验和一致
	Mismatches []*checksum.MismatchError
}

func (i Integrity) OK() bool {
	return i.Data && i.Metadata && i.Manifest && len(i.Mismatches) == 0
}

// Warnings 返回面向用户的告警
func (i Integrity) Warnings() []string {
	var out []string
	if !i.Data {
		out = append(out, "data may be corrupted")
	}
	if !i.Metadata {
		out = append(out, "metadata may be corrupted")
	}
	if !i.Manifest {
		out = append(out, "manifest may be corrupted")
	}
	return out
}

// Error 把不一致汇总成一个错误，一致时返回 nil
func (i Integrity) Error() error {
	if i.OK() {
		return nil
	}
	errs := make([]error, 0, len(i.Mismatches)+1)
	for _, w := range i.Warnings() {
		errs = append(errs, errors.New(w))
	}
	for _, m := range i.Mismatches {
		errs = append(errs, m)
	}
	return errors.Join(errs...)
}

// Verify 用 Manifest 自己记录的算法重新计算每个文件的摘要
// 只有 ctx 取消或算法不受支持时才返回 error，不一致记录在 Integrity 中
func (m *Manifest) Verify(ctx context.Context, open Opener) (Integrity, error) {
	eng, err := m.engine()
	if err != nil {
		return Integrity{}, err
	}

	res := Integrity{Data: true, Metadata: true, Manifest: true}
	var mu sync.Mutex
	report := func(e Entry, mm *checksum.MismatchError) {
		mu.Lock()
		defer mu.Unlock()
		res.Mismatches = append(res.Mismatches, mm)
		if e.Role == types.RoleMetadata {
			res.Metadata = false
		} else {
			res.Data = false
		}
	}

	// 1. Manifest 本身
	if err := m.CheckSeal(); err != nil {
		var mm *checksum.MismatchError
		if !errors.As(err, &mm) {
			return Integrity{}, err
		}
		res.Manifest = false
		res.Mismatches = append(res.Mismatches, mm)
	}
	if m.State() == types.StatePopulated {
		want := spans(eng, m.Files)
		if !want.Data.Equal(m.Checksums.Data) || !want.All.Equal(m.Checksums.All) {
			res.Manifest = false
			res.Mismatches = append(res.Mismatches, &checksum.MismatchError{
				Name:     "checksums",
				Expected: m.Checksums.All,
				Actual:   want.All,
				Reason:   ReasonSpan,
			})
		}
	}

	// 2. 每个文件 (有界并发)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, e := range m.Files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rc, err := open(e.Name)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					report(e, &checksum.MismatchError{Name: e.Name, Expected: e.Checksum, Reason: ReasonMissing})
					return nil
				}
				return fmt.Errorf("open %s: %w", e.Name, err)
			}
			defer rc.Close()

			if err := eng.VerifyReader(e.Name, rc, e.Checksum); err != nil {
				var mm *checksum.MismatchError
				if errors.As(err, &mm) {
					report(e, mm)
					return nil
				}
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Integrity{}, fmt.Errorf("verify %s: %w", m.LOI, err)
	}

	sortMismatches(res.Mismatches)
	return res, nil
}

// Check 校验内存中的文件集，额外报告 Manifest 中没有列出的文件
func (m *Manifest) Check(ctx context.Context, files types.FileSet) (Integrity, error) {
	res, err := m.Verify(ctx, FileSetOpener(files))
	if err != nil {
		return res, err
	}
	for _, f := range files.Files {
		if _, ok := m.Entry(f.Name); !ok {
			res.Mismatches = append(res.Mismatches, &checksum.MismatchError{Name: f.Name, Reason: ReasonExtra})
			res.Data = false
		}
	}
	sortMismatches(res.Mismatches)
	return res, nil
}

func sortMismatches(ms []*checksum.MismatchError) {
	slices.SortFunc(ms, func(a, b *checksum.MismatchError) int { return strings.Compare(a.Name, b.Name) })
}

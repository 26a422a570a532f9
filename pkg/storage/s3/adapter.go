package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"

	"datasafe/pkg/lockmap"
	"datasafe/pkg/loi"
	"datasafe/pkg/manifest"
	"datasafe/pkg/storage"
	"datasafe/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Adapter 实现了 storage.Backend 接口
//
// Key 布局与磁盘后端一致:
//
//	<prefix>/42.1001/ds/exp/sa/42/cwepr/21/MANIFEST.yaml
//	<prefix>/42.1001/ds/exp/sa/42/cwepr/21/rev-1/spectrum.dta
//
// Manifest 的 PUT 是提交点；Reserve 依赖条件写 (If-None-Match: *)
type Adapter struct {
	client      *s3.Client
	bucket      string
	prefix      string
	keepHistory bool
	locks       *lockmap.KeyedMutex
	log         *slog.Logger
}

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	KeepHistory     bool
}

// NewAdapter 初始化 S3 客户端
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	// 1. 加载基础配置 (仅包含 Region 和 Credentials)
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 2. 创建 S3 客户端时注入 Endpoint
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO 必须强制使用 Path Style
		o.UsePathStyle = true
	})

	// 3. 确保 Bucket 存在
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &cfg.Bucket})
	if err != nil {
		_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &cfg.Bucket})
		if err != nil {
			slog.Warn("failed to ensure bucket exists", "bucket", cfg.Bucket, "error", err)
		}
	}

	return &Adapter{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		keepHistory: cfg.KeepHistory,
		locks:       lockmap.New(),
		log:         slog.Default(),
	}, nil
}

// objectKey 把 LOI 和相对路径拼成 S3 Key
func (s *Adapter) objectKey(id loi.LOI, parts ...string) string {
	segs := id.Segments()
	if s.prefix != "" {
		segs = append([]string{s.prefix}, segs...)
	}
	return path.Join(append(segs, parts...)...)
}

func (s *Adapter) manifestKey(id loi.LOI) string {
	return s.objectKey(id, manifest.Filename)
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return true
	}
	// 兼容性：某些 S3 实现可能返回 generic 404 error string
	return strings.Contains(err.Error(), "404")
}

// isConditionFailed 判断条件写是否因为对象已存在而失败
func isConditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

func (s *Adapter) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s failed: %w", key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *Adapter) putObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s failed: %w", key, err)
	}
	return nil
}

// loadManifest 读取 Manifest，不存在时返回 (nil, nil)
func (s *Adapter) loadManifest(ctx context.Context, id loi.LOI) (*manifest.Manifest, error) {
	data, err := s.getObject(ctx, s.manifestKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, err := manifest.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("load manifest of %s: %w", id, err)
	}
	return m, nil
}

func (s *Adapter) Reserve(ctx context.Context, id loi.LOI, m *manifest.Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}

	// 条件写：只有 Key 不存在时才成功，跨进程同样成立
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.manifestKey(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/yaml"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, id)
		}
		return fmt.Errorf("s3 reserve %s failed: %w", id, err)
	}

	s.log.Info("object reserved", "loi", id.String(), "bucket", s.bucket)
	return nil
}

func (s *Adapter) Store(ctx context.Context, id loi.LOI, files types.FileSet, mutate storage.Mutation) error {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	cur, err := s.loadManifest(ctx, id)
	if err != nil {
		return err
	}
	if err := storage.CheckStore(id, cur); err != nil {
		return err
	}
	next, err := storage.ApplyMutation(id, cur, mutate)
	if err != nil {
		return err
	}
	return s.commit(ctx, id, cur, next, files)
}

func (s *Adapter) Replace(ctx context.Context, id loi.LOI, files types.FileSet, mutate storage.Mutation) error {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	cur, err := s.loadManifest(ctx, id)
	if err != nil {
		return err
	}
	if err := storage.CheckReplace(id, cur); err != nil {
		return err
	}
	next, err := storage.ApplyMutation(id, cur, mutate)
	if err != nil {
		return err
	}
	return s.commit(ctx, id, cur, next, files)
}

func (s *Adapter) commit(ctx context.Context, id loi.LOI, cur, next *manifest.Manifest, files types.FileSet) error {
	revDir := storage.RevisionDir(next.Revision)

	// 1. 上传新 revision 的文件 (还没有 Manifest 引用它们)
	var uploaded []string
	cleanup := func() {
		// 使用独立的 ctx，调用方取消后依然能清理
		for _, key := range uploaded {
			s.deleteObject(context.Background(), key)
		}
	}
	for _, f := range files.Files {
		key := s.objectKey(id, revDir, f.Name)
		if err := s.putObject(ctx, key, f.Data, "application/octet-stream"); err != nil {
			cleanup()
			return err
		}
		uploaded = append(uploaded, key)
	}

	// 2. 提交点: Manifest PUT
	data, err := next.Marshal()
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = s.putObject(ctx, s.manifestKey(id), data, "application/yaml")
	}
	if err != nil {
		cleanup()
		return fmt.Errorf("commit manifest for %s: %w", id, err)
	}

	// 3. 清理旧 revision
	if cur.Revision > 0 && !s.keepHistory {
		for _, e := range cur.Files {
			s.deleteObject(ctx, s.objectKey(id, storage.RevisionDir(cur.Revision), e.Name))
		}
	}

	s.log.Debug("revision stored", "loi", id.String(), "revision", next.Revision, "prefix", s.objectKey(id, revDir, ""))
	return nil
}

func (s *Adapter) deleteObject(ctx context.Context, key string) {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.log.Warn("s3 delete failed", "key", key, "error", err)
	}
}

// Retrieve 持有该 LOI 的锁读取 Manifest 和文件
// 锁只在本进程内有效：如果读取期间有文件消失且 Manifest 的 revision 已经变化，
// 说明别的写入者提交了新 revision，重新读取
func (s *Adapter) Retrieve(ctx context.Context, id loi.LOI) (*manifest.Manifest, types.FileSet, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	for attempt := 1; ; attempt++ {
		m, set, missing, err := s.retrieveOnce(ctx, id)
		if err != nil || !missing || attempt >= storage.RetrieveAttempts {
			return m, set, err
		}
		latest, err := s.Manifest(ctx, id)
		if err != nil {
			return nil, types.FileSet{}, err
		}
		if latest.Revision == m.Revision {
			return m, set, nil
		}
		s.log.Debug("revision moved during retrieve", "loi", id.String(), "from", m.Revision, "to", latest.Revision)
	}
}

func (s *Adapter) retrieveOnce(ctx context.Context, id loi.LOI) (*manifest.Manifest, types.FileSet, bool, error) {
	m, err := s.Manifest(ctx, id)
	if err != nil {
		return nil, types.FileSet{}, false, err
	}

	set := types.FileSet{Algorithm: m.Algorithm, Files: make([]types.File, 0, len(m.Files))}
	revDir := storage.RevisionDir(m.Revision)
	missing := false
	for _, e := range m.Files {
		data, err := s.getObject(ctx, s.objectKey(id, revDir, e.Name))
		if errors.Is(err, storage.ErrNotFound) {
			// 缺失的文件交给完整性检查报告
			missing = true
			continue
		}
		if err != nil {
			return nil, types.FileSet{}, false, err
		}
		set.Files = append(set.Files, types.File{Name: e.Name, Data: data, Checksum: e.Checksum})
	}
	return m, set, missing, nil
}

func (s *Adapter) Manifest(ctx context.Context, id loi.LOI) (*manifest.Manifest, error) {
	m, err := s.loadManifest(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return m, nil
}

// Exists 检查 Manifest 是否存在
func (s *Adapter) Exists(ctx context.Context, id loi.LOI) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.manifestKey(id)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// serials 列出 base 下所有带 Manifest 的序号
func (s *Adapter) serials(ctx context.Context, base loi.LOI) ([]int64, error) {
	prefix := s.objectKey(base.Base()) + "/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var out []int64
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed: %w", err)
		}
		for _, obj := range page.Contents {
			// 只关心 "<n>/MANIFEST.yaml"
			rest := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			serial, name, ok := strings.Cut(rest, "/")
			if !ok || name != manifest.Filename {
				continue
			}
			n, err := strconv.ParseInt(serial, 10, 64)
			if err != nil || n <= 0 || strconv.FormatInt(n, 10) != serial {
				continue
			}
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *Adapter) List(ctx context.Context, base loi.LOI) ([]loi.LOI, error) {
	serials, err := s.serials(ctx, base)
	if err != nil {
		return nil, err
	}
	out := make([]loi.LOI, 0, len(serials))
	for _, n := range serials {
		out = append(out, base.WithSerial(n))
	}
	return out, nil
}

func (s *Adapter) HighestSerial(ctx context.Context, base loi.LOI) (int64, error) {
	serials, err := s.serials(ctx, base)
	if err != nil {
		return 0, err
	}
	if len(serials) == 0 {
		return 0, nil
	}
	return serials[len(serials)-1], nil
}

var _ storage.Backend = (*Adapter)(nil)

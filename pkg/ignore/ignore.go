package ignore

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Filename 是用户自定义忽略规则所在的文件
const Filename = ".dsignore"

// Matcher 封装了忽略逻辑
// 它负责判断数据集目录中的一个文件是否应该被上传
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// DefaultRules 是强制生效的系统级规则
// 以 "/" 开头的规则只匹配数据集根目录，子目录里的同名文件属于数据
var DefaultRules = []string{
	// --- 数据集自身的元信息 ---
	"/MANIFEST.yaml", // 由服务端生成，上传时不能当作数据
	"/" + Filename,   // 忽略规则本身不属于数据集
	"/.ds",           // 本地配置和数据库目录

	// --- 版本控制 ---
	".git",

	// --- 安全 ---
	"/.env", // 防止环境变量文件泄露

	// --- 常见垃圾文件 ---
	".DS_Store", // macOS
	"Thumbs.db", // Windows
	"*~",
}

// NewMatcher 初始化忽略匹配器
// rootPath: 数据集目录（用于查找 .dsignore 文件）
func NewMatcher(rootPath string) (*Matcher, error) {
	var (
		ignorer *gitignore.GitIgnore
		err     error
	)

	ignoreFilePath := filepath.Join(rootPath, Filename)
	if _, errStat := os.Stat(ignoreFilePath); errStat == nil {
		// 用户定义了 .dsignore：文件内容和默认规则合并编译
		ignorer, err = gitignore.CompileIgnoreFileAndLines(ignoreFilePath, DefaultRules...)
	} else {
		// 仅编译默认规则
		ignorer = gitignore.CompileIgnoreLines(DefaultRules...)
	}
	if err != nil {
		return nil, err
	}

	return &Matcher{ignorer: ignorer}, nil
}

// Matches 检查给定的路径是否匹配忽略规则
// path: 相对于数据集目录的路径 (例如 "raw/sample.dta")，目录可以带结尾的 "/"
// 返回: true 表示应该忽略 (Skip), false 表示应该保留 (Keep)
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	path = strings.TrimSuffix(filepath.ToSlash(path), "/")
	return m.ignorer.MatchesPath(path)
}

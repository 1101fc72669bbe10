package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/catchy-build/catchy/internal/config"
	"github.com/catchy-build/catchy/internal/logging"
)

// ConfigEnv 指定配置文件路径的环境变量，优先级低于 --config。
const ConfigEnv = "CATCHY_CONFIG"

// 退出码：fetch 未命中使用独立的 exitMiss，便于脚本区分“没有缓存”和“出错”。
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
	exitMiss  = 3
)

// cliOptions 汇总全局标志，便于在测试中注入。
type cliOptions struct {
	configPath string
	backend    string
	cacheDir   string
	remoteURL  string
	remoteKey  string
	logLevel   string
}

// exitCodeError 携带非零退出码，但不代表需要输出错误信息（例如 fetch 未命中）。
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// usageError 表示参数或标志错误。
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 执行一次 CLI 调用并返回退出码，方便测试。
func run(args []string) int {
	opts := &cliOptions{}
	root := newRootCmd(opts)
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	err := root.Execute()
	if err == nil {
		return exitOK
	}

	var codeErr *exitCodeError
	if errors.As(err, &codeErr) {
		return codeErr.code
	}
	fmt.Fprintf(stdErr, "catchy: %v\n", err)
	var uErr *usageError
	if errors.As(err, &uErr) {
		return exitUsage
	}
	return exitError
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "catchy",
		Short:         "Build-artifact cache with directory and HTTP backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "配置文件路径（可被 "+ConfigEnv+" 指定）")
	pf.StringVar(&opts.backend, "backend", "", "缓存后端：directory、http 或 none")
	pf.StringVar(&opts.cacheDir, "cache-dir", "", "directory 后端的缓存根目录")
	pf.StringVar(&opts.remoteURL, "remote-url", "", "http 后端的服务地址")
	pf.StringVar(&opts.remoteKey, "remote-key", "", "http 后端的写入令牌")
	pf.StringVar(&opts.logLevel, "log-level", "", "日志级别")

	root.AddCommand(
		newFetchCmd(opts),
		newPutCmd(opts),
		newServeCmd(opts),
		newCheckConfigCmd(opts),
		newBackendsCmd(),
		newVersionCmd(),
	)
	return root
}

// resolveConfigPath 计算最终配置路径：--config > CATCHY_CONFIG > 不读取文件。
func (o *cliOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return os.Getenv(ConfigEnv)
}

// overrides 把显式给出的标志转换为配置覆盖项。
func (o *cliOptions) overrides() map[string]interface{} {
	out := make(map[string]interface{})
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("Backend", o.backend)
	set("CacheDir", o.cacheDir)
	set("RemoteURL", o.remoteURL)
	set("RemoteKey", o.remoteKey)
	set("LogLevel", o.logLevel)
	return out
}

// runtimeEnv 是子命令共享的已加载配置与日志。
type runtimeEnv struct {
	configPath string
	cfg        *config.Config
	logger     *logrus.Logger
}

func loadRuntime(opts *cliOptions, extra map[string]interface{}) (*runtimeEnv, error) {
	path := opts.resolveConfigPath()
	overrides := opts.overrides()
	for k, v := range extra {
		overrides[k] = v
	}

	cfg, err := config.LoadWithOverrides(path, overrides)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := logging.InitLogger(cfg.Global, stdErr)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	return &runtimeEnv{configPath: path, cfg: cfg, logger: logger}, nil
}

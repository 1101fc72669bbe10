package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/catchy-build/catchy/internal/blobstore"
	"github.com/catchy-build/catchy/internal/cache"
	"github.com/catchy-build/catchy/internal/logging"
	"github.com/catchy-build/catchy/internal/server"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newCacher 根据配置从后端注册表构建 Cacher。
func newCacher(env *runtimeEnv) (cache.Cacher, error) {
	g := env.cfg.Global
	return cache.New(g.Backend, cache.Options{
		Dir:        g.CacheDir,
		Name:       g.Name,
		BaseURL:    g.RemoteURL,
		WriteKey:   g.RemoteKey,
		HTTPClient: server.NewRemoteClient(env.cfg),
		Logger:     env.logger,
	})
}

func newFetchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch KEY TARGET",
		Short: "Copy the cache entry for KEY into TARGET; prints hit or miss",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadRuntime(opts, nil)
			if err != nil {
				return err
			}
			cacher, err := newCacher(env)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			res, err := cacher.Fetch(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("fetch %s: %w", args[0], err)
			}
			fmt.Fprintln(stdOut, res.String())
			if !res.CacheHit {
				return &exitCodeError{code: exitMiss}
			}
			return nil
		},
	}
}

func newPutCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put KEY SOURCE",
		Short: "Store the directory SOURCE as the cache entry for KEY",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadRuntime(opts, nil)
			if err != nil {
				return err
			}
			cacher, err := newCacher(env)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if err := cacher.Put(ctx, args[0], args[1]); err != nil {
				return fmt.Errorf("put %s: %w", args[0], err)
			}
			return nil
		},
	}
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the archive server used by the http backend",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			var extra map[string]interface{}
			if port > 0 {
				extra = map[string]interface{}{"Server.ListenPort": port}
			}
			env, err := loadRuntime(opts, extra)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), env)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "监听端口（覆盖 Server.ListenPort）")
	return cmd
}

// serve 启动顺序：配置 → 归档存储 → Fiber server，收到信号后优雅退出。
func serve(parent context.Context, env *runtimeEnv) error {
	cfg := env.cfg
	store, err := blobstore.NewStore(cfg.Server.StoragePath)
	if err != nil {
		return fmt.Errorf("初始化归档目录失败: %w", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:   env.logger,
		Store:    store,
		WriteKey: cfg.Server.WriteKey,
	})
	if err != nil {
		return err
	}

	fields := logging.BaseFields("listen", env.configPath)
	fields["port"] = cfg.Server.ListenPort
	fields["storage_path"] = cfg.Server.StoragePath
	fields["write_auth"] = cfg.Server.AuthMode()
	fields["version"] = versionString()
	env.logger.WithFields(fields).Info("archive server starting")

	ctx, cancel := signalContext(parent)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	return app.Listen(fmt.Sprintf(":%d", cfg.Server.ListenPort))
}

func newCheckConfigCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			env, err := loadRuntime(opts, nil)
			if err != nil {
				return err
			}
			fields := logging.BaseFields("check_config", env.configPath)
			fields["backend"] = env.cfg.Global.Backend
			fields["remote_auth"] = env.cfg.Global.AuthMode()
			fields["result"] = "ok"
			env.logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the registered cache backends",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(stdOut, 0, 4, 2, ' ', 0)
			for _, b := range cache.List() {
				fmt.Fprintf(tw, "%s\t%s\n", b.Key, b.Description)
			}
			return tw.Flush()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(_ *cobra.Command, _ []string) {
			printVersion()
		},
	}
}

func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

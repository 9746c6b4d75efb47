package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-errors/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relango/ArgusOrchestra/internal/argus"
	"github.com/relango/ArgusOrchestra/internal/collector"
	"github.com/relango/ArgusOrchestra/internal/conf"
	"github.com/relango/ArgusOrchestra/internal/domain"
	"github.com/relango/ArgusOrchestra/internal/domain/unittest"
	"github.com/relango/ArgusOrchestra/internal/logging"
	"github.com/relango/ArgusOrchestra/internal/scheduler"
	"github.com/relango/ArgusOrchestra/internal/splunk"
)

// configEnvVar 配置文件路径的环境变量，命令行参数优先
const configEnvVar = "ORCHESTRA_CONFIGURATION"

type options struct {
	readerType   string
	timeout      int
	level        string
	logFile      string
	preview      bool
	configPath   string
	readerConfig string
	overrides    []string
	cronSpec     string
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "orchestra",
		Short: "从外部数据源采集指标和注解并上报到 Argus",
		Long: "orchestra 按配置执行数据源查询，把结果解析为指标和注解后分批上报到 Argus。\n" +
			"可用的数据源类型: SPLUNKNATIVE",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.readerType, "type", "t", "", "数据源类型")
	flags.IntVarP(&opts.timeout, "timeout", "s", 3600, "转发截止时间（秒）")
	flags.StringVarP(&opts.level, "level", "l", "info", "日志级别 (debug/info/warn/error)")
	flags.StringVar(&opts.logFile, "log-file", "", "日志文件路径，缺省输出到标准输出")
	flags.BoolVarP(&opts.preview, "preview", "n", false, "预览模式，数据写到标准输出而不上报")
	flags.StringVarP(&opts.configPath, "config", "c", "", "配置文件路径，缺省读取 "+configEnvVar+" 环境变量")
	flags.StringVar(&opts.readerConfig, "reader-config", "", "数据源配置文件路径，缺省与 --config 相同")
	flags.StringArrayVar(&opts.overrides, "set", nil, "覆盖数据源配置项，格式 key=value，可重复")
	flags.StringVar(&opts.cronSpec, "cron", "", "按 cron 表达式周期性采集，缺省只执行一次")
	_ = rootCmd.MarkFlagRequired("type")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts *options) error {
	logger := logging.NewLogger(&logging.Config{
		Level:      opts.level,
		File:       opts.logFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})
	defer logger.Sync()

	configPath := opts.configPath
	if configPath == "" {
		configPath = os.Getenv(configEnvVar)
	}
	if configPath == "" {
		return errors.Errorf("未指定配置文件，使用 --config 或设置 %s 环境变量", configEnvVar)
	}
	readerConfigPath := opts.readerConfig
	if readerConfigPath == "" {
		readerConfigPath = configPath
	}

	fs := afero.NewOsFs()
	props, err := conf.Load(fs, configPath)
	if err != nil {
		return err
	}
	collectorCfg, err := conf.NewCollectorConfig(props)
	if err != nil {
		return err
	}

	// 数据源配置叠加在采集器配置之上，命令行覆盖项优先级最高
	readerProps := conf.NewProperties()
	readerProps.Merge(props)
	if readerConfigPath != configPath {
		overlay, err := conf.Load(fs, readerConfigPath)
		if err != nil {
			return err
		}
		readerProps.Merge(overlay)
	}
	if err := readerProps.Apply(opts.overrides); err != nil {
		return err
	}
	for _, line := range readerProps.Redacted() {
		logger.Debug("数据源配置", zap.String("entry", line))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	timeout := time.Duration(opts.timeout) * time.Second

	// 每轮采集使用全新的客户端和数据源，上一轮释放的连接不会被复用
	runOnce := func(ctx context.Context) error {
		client, err := argus.NewClient(argus.ClientConfig{
			Endpoint: collectorCfg.Endpoint,
			Preview:  opts.preview,
		}, logger)
		if err != nil {
			return err
		}
		if !opts.preview {
			if err := client.Login(ctx, collectorCfg.Username, collectorCfg.Password); err != nil {
				return err
			}
		}
		reader, err := newReader(opts.readerType, readerProps, logger)
		if err != nil {
			return err
		}
		return collector.NewCollector(client, reader, logger).Run(ctx, timeout)
	}

	if opts.cronSpec == "" {
		return runOnce(ctx)
	}

	sched := scheduler.NewCollectScheduler(opts.cronSpec, runOnce, logger)
	if err := sched.Start(ctx); err != nil {
		return errors.Errorf("无效的 cron 表达式 %q: %v", opts.cronSpec, err)
	}
	<-ctx.Done()
	sched.Stop()
	return nil
}

// newReader 按类型构造数据源
func newReader(readerType string, props *conf.Properties, logger *zap.Logger) (domain.Reader, error) {
	switch readerType {
	case "SPLUNKNATIVE":
		return splunk.NewReader(props, logger)
	case "UNITTEST":
		return unittest.NewReader(logger), nil
	default:
		return nil, errors.Errorf("未知的数据源类型: %q", readerType)
	}
}

package tracing

import (
	"fmt"
	"time"
)

// 导出器类型
const (
	ExporterOTLP     = "otlp"
	ExporterOTLPGRPC = "otlp_grpc"
	ExporterStdout   = "stdout"
	ExporterNoop     = "noop"
)

// Config 链路追踪配置
type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`

	// otlp / otlp_grpc / stdout / noop
	Exporter string `mapstructure:"exporter"`
	Endpoint string `mapstructure:"endpoint"`
	// 导出器请求头，一般用于认证
	Headers  map[string]string `mapstructure:"headers"`
	Insecure bool              `mapstructure:"insecure"`

	// always / never / ratio / parent_based
	Sampler      string  `mapstructure:"sampler"`
	SamplingRate float64 `mapstructure:"sampling_rate"`

	Enabled            bool              `mapstructure:"enabled"`
	ResourceAttributes map[string]string `mapstructure:"resource_attributes"`

	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"`
	MaxQueueSize       int           `mapstructure:"max_queue_size"`
}

// DefaultConfig 默认关闭，开启后使用 stdout 导出
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "rtguard",
		ServiceVersion:     "0.1.0",
		Environment:        "development",
		Exporter:           ExporterStdout,
		Sampler:            "parent_based",
		SamplingRate:       1.0,
		ResourceAttributes: map[string]string{},
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalidConfig)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("%w: sampling rate must be between 0.0 and 1.0", ErrInvalidConfig)
	}
	switch c.Exporter {
	case ExporterOTLP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
	default:
		return fmt.Errorf("%w: unknown exporter %q", ErrInvalidConfig, c.Exporter)
	}
	return nil
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.MaxExportBatchSize <= 0 {
		c.MaxExportBatchSize = d.MaxExportBatchSize
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
}

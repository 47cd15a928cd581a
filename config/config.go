package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/teiid/goxa"
	"github.com/teiid/goxa/log"
)

const envPrefix = "GOXA"

type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Log         LogConfig         `mapstructure:"log"`
	MySQL       MySQLConfig       `mapstructure:"mysql"`
	Redis       RedisConfig       `mapstructure:"redis"`
}

type CoordinatorConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MonitorTick  time.Duration `mapstructure:"monitor_tick"`
	LogQueueSize int           `mapstructure:"log_queue_size"`
	LogWorkers   int           `mapstructure:"log_workers"`
	// 0 表示与 timeout 相同
	RecoveryGrace time.Duration `mapstructure:"recovery_grace"`
}

type LogConfig struct {
	Name       string `mapstructure:"name"`
	Level      string `mapstructure:"level"`
	FileName   string `mapstructure:"file_name"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// MySQLConfig dsn 为空时审计日志只写到日志文件
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
	// 审计记录保留时长，0 表示不清理
	Retention time.Duration `mapstructure:"retention"`
}

// RedisConfig address 为空时不启用分布式恢复锁
type RedisConfig struct {
	Network  string `mapstructure:"network"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	Cluster  string `mapstructure:"cluster"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("coordinator.timeout", 5*time.Minute)
	v.SetDefault("coordinator.monitor_tick", 10*time.Second)
	v.SetDefault("coordinator.log_queue_size", 1024)
	v.SetDefault("coordinator.log_workers", 1)
	v.SetDefault("coordinator.recovery_grace", time.Duration(0))

	v.SetDefault("log.name", "goxa")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_name", "goxa.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_age", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.console", false)

	v.SetDefault("mysql.dsn", "")
	v.SetDefault("mysql.retention", time.Duration(0))

	v.SetDefault("redis.network", "tcp")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.cluster", "default")
}

// Load 读取 yaml 配置，环境变量 GOXA_<SECTION>_<KEY> 优先级更高. path 为空时只使用默认值与环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading configuration file '%s'", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshalling config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Coordinator.Timeout < 0 || c.Coordinator.MonitorTick < 0 {
		return errors.New("coordinator timeout and monitor tick must not be negative")
	}
	if c.Coordinator.RecoveryGrace < 0 {
		return errors.New("coordinator recovery grace must not be negative")
	}
	if c.Coordinator.LogQueueSize < 0 || c.Coordinator.LogWorkers < 0 {
		return errors.New("coordinator log queue size and workers must not be negative")
	}
	if c.MySQL.Retention < 0 {
		return errors.New("mysql retention must not be negative")
	}
	if c.Redis.Address != "" && c.Redis.Network == "" {
		return errors.New("redis network is required when address is set")
	}
	return nil
}

// CoordinatorOptions 转换为协调器选项，未配置的项交给协调器的默认值
func (c *Config) CoordinatorOptions() []goxa.Option {
	var opts []goxa.Option
	if c.Coordinator.Timeout > 0 {
		opts = append(opts, goxa.WithTimeout(c.Coordinator.Timeout))
	}
	if c.Coordinator.MonitorTick > 0 {
		opts = append(opts, goxa.WithMonitorTick(c.Coordinator.MonitorTick))
	}
	if c.Coordinator.RecoveryGrace > 0 {
		opts = append(opts, goxa.WithRecoveryGrace(c.Coordinator.RecoveryGrace))
	}
	if c.Coordinator.LogQueueSize > 0 {
		opts = append(opts, goxa.WithLogQueueSize(c.Coordinator.LogQueueSize))
	}
	if c.Coordinator.LogWorkers > 0 {
		opts = append(opts, goxa.WithLogWorkers(c.Coordinator.LogWorkers))
	}
	return opts
}

func (c *Config) LogOptions() []log.Option {
	return []log.Option{
		log.WithLogName(c.Log.Name),
		log.WithLogLevel(c.Log.Level),
		log.WithFileName(c.Log.FileName),
		log.WithRotation(c.Log.MaxSize, c.Log.MaxAge, c.Log.MaxBackups, c.Log.Compress),
		log.WithConsole(c.Log.Console),
	}
}

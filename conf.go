package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Conf struct {
	App struct {
		Version string `toml:"version"`
		Title   string `toml:"title"`
	} `toml:"app"`
	Output struct {
		Directory      string `toml:"directory"`
		LogDir         string `toml:"logDir"`
		OutputTerminal bool   `toml:"outputTerminal"`
		Progress       bool   `toml:"progress"`
	} `toml:"output"`
	Task struct {
		Workers       int           `toml:"workers"`
		Timedelay     time.Duration `toml:"timedelay"`
		ProgressEvery int           `toml:"progressEvery"`
		BufSize       int           `toml:"bufSize"`
	} `toml:"task"`
	Store struct {
		Name        string        `toml:"name"`
		Path        string        `toml:"path"`
		Driver      string        `toml:"driver"`
		BusyTimeout time.Duration `toml:"busyTimeout"`
	} `toml:"store"`
	Source struct {
		URL       string        `toml:"url"`
		Retries   uint64        `toml:"retries"`
		Backoff   time.Duration `toml:"backoff"`
		Timeout   time.Duration `toml:"timeout"`
		UserAgent string        `toml:"userAgent"`
		Insecure  bool          `toml:"insecure"`
	} `toml:"source"`
	Verify struct {
		MinBytes         int    `toml:"minBytes"`
		RepairUndersized bool   `toml:"repairUndersized"`
		WorkFile         string `toml:"workFile"`
		AuditFile        string `toml:"auditFile"`
	} `toml:"verify"`
	Regions struct {
		File        string `toml:"file"`
		Name        string `toml:"name"`
		// MinZoom, MaxZoom 小于 0 表示未设置
		MinZoom     int    `toml:"minZoom"`
		MaxZoom     int    `toml:"maxZoom"`
		Attribution string `toml:"attribution"`
		Description string `toml:"description"`
		Format      string `toml:"format"`
	} `toml:"regions"`
	Metrics struct {
		Listen string `toml:"listen"`
	} `toml:"metrics"`
}

// StorePath mbtiles 文件路径, 未配置时放在输出目录下
func (c *Conf) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.Output.Directory, c.Store.Name+".mbtiles")
}

// OutputFile 输出目录下的文件
func (c *Conf) OutputFile(name string) string {
	return filepath.Join(c.Output.Directory, name)
}

// InitConf 初始化配置
func InitConf(cfgFile string) (*Conf, error) {
	// .env 中的变量优先于配置文件
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}
	if cfgFile == "" {
		cfgFile = "conf.toml"
	}
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		return nil, errors.Errorf("config file(%s) not exist", cfgFile)
	}
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(cfgFile)
	v.SetEnvPrefix("sattiler")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config file(%s) error", v.ConfigFileUsed())
	}
	setDefaults(v)

	conf := new(Conf)
	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.Wrap(err, "配置文件解析失败")
	}
	return conf, nil
}

// 设置默认值, 环境变量只覆盖有默认值或出现在配置文件中的键
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.version", "v 0.1.0")
	v.SetDefault("app.title", "Satellite Tiler")
	v.SetDefault("output.directory", "output")
	v.SetDefault("output.logDir", "")
	v.SetDefault("output.outputTerminal", true)
	v.SetDefault("output.progress", true)
	v.SetDefault("task.workers", 4)
	v.SetDefault("task.timedelay", "0s")
	v.SetDefault("task.progressEvery", 50)
	v.SetDefault("task.bufSize", 64)
	v.SetDefault("store.name", "satellite")
	v.SetDefault("store.path", "")
	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.busyTimeout", "5s")
	v.SetDefault("source.url", "")
	v.SetDefault("source.retries", 10)
	v.SetDefault("source.backoff", "200ms")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.userAgent", "sattiler/0.1")
	v.SetDefault("source.insecure", false)
	v.SetDefault("verify.minBytes", 2000)
	v.SetDefault("verify.repairUndersized", false)
	v.SetDefault("verify.workFile", "")
	v.SetDefault("verify.auditFile", "audit.csv")
	v.SetDefault("regions.file", "regions.json")
	v.SetDefault("regions.name", "")
	v.SetDefault("regions.minZoom", -1)
	v.SetDefault("regions.maxZoom", -1)
	v.SetDefault("regions.attribution", "")
	v.SetDefault("regions.description", "")
	v.SetDefault("regions.format", "png")
	v.SetDefault("metrics.listen", "")
}

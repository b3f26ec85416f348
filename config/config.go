package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// 集群客户端的配置。
// 支持两种文件格式：redis.conf 风格的 "key value" 文本（cfg 标签）和 YAML（yaml 标签），
// 读取文件后再用 GODIS_CLUSTER_* 环境变量覆盖。

// EnvPrefix is the prefix of environment overrides, e.g. GODIS_CLUSTER_TIMEOUT=2s
const EnvPrefix = "godis_cluster"

// ClusterProperties defines the client and tooling options
type ClusterProperties struct {
	// seed nodes, redis://host:port URIs or host:port pairs
	Nodes []string `cfg:"nodes" yaml:"nodes" envconfig:"nodes"`

	// Timeout bounds every single call against a node
	Timeout     time.Duration `cfg:"timeout" yaml:"timeout" envconfig:"timeout"`
	DialTimeout time.Duration `cfg:"dial-timeout" yaml:"dial-timeout" envconfig:"dial_timeout"`
	// RetryCount is the max number of redirects followed per command
	RetryCount  int  `cfg:"retry-count" yaml:"retry-count" envconfig:"retry_count"`
	UseReplicas bool `cfg:"use-replicas" yaml:"use-replicas" envconfig:"use_replicas"`
	// RefreshInterval reloads the topology in the background, 0 disables it
	RefreshInterval time.Duration `cfg:"refresh-interval" yaml:"refresh-interval" envconfig:"refresh_interval"`

	PoolMaxIdle   int `cfg:"pool-max-idle" yaml:"pool-max-idle" envconfig:"pool_max_idle"`
	PoolMaxActive int `cfg:"pool-max-active" yaml:"pool-max-active" envconfig:"pool_max_active"`

	LogLevel string `cfg:"log-level" yaml:"log-level" envconfig:"log_level"`
	LogDir   string `cfg:"log-dir" yaml:"log-dir" envconfig:"log_dir"`

	// seed discovery through zookeeper, used when Nodes is empty
	ZKServers []string `cfg:"zk-servers" yaml:"zk-servers" envconfig:"zk_servers"`
	ZKPath    string   `cfg:"zk-path" yaml:"zk-path" envconfig:"zk_path"`

	ProxyBind string `cfg:"proxy-bind" yaml:"proxy-bind" envconfig:"proxy_bind"`
	AdminBind string `cfg:"admin-bind" yaml:"admin-bind" envconfig:"admin_bind"`

	// config file path
	CfPath string `cfg:"cf,omitempty" yaml:"-" ignored:"true"`
}

// Properties holds global config properties
var Properties *ClusterProperties

func init() {
	Properties = Default()
}

// Default returns the built-in options
func Default() *ClusterProperties {
	return &ClusterProperties{
		Timeout:       2 * time.Second,
		DialTimeout:   time.Second,
		RetryCount:    5,
		PoolMaxIdle:   2,
		PoolMaxActive: 16,
		LogLevel:      "info",
		ZKPath:        "/godis-cluster",
		ProxyBind:     "127.0.0.1:6380",
		AdminBind:     "127.0.0.1:8080",
	}
}

// Normalize fills zero values with defaults so partially filled properties are usable
func (p *ClusterProperties) Normalize() *ClusterProperties {
	def := Default()
	out := *p
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = def.DialTimeout
	}
	if out.RetryCount <= 0 {
		out.RetryCount = def.RetryCount
	}
	if out.PoolMaxIdle <= 0 {
		out.PoolMaxIdle = def.PoolMaxIdle
	}
	if out.PoolMaxActive <= 0 {
		out.PoolMaxActive = def.PoolMaxActive
	}
	if out.RefreshInterval < 0 {
		out.RefreshInterval = 0
	}
	if out.PoolMaxIdle > out.PoolMaxActive {
		out.PoolMaxIdle = out.PoolMaxActive
	}
	return &out
}

var durationType = reflect.TypeOf(time.Duration(0))

// parse parses redis.conf style config: one "key value" pair per line, '#' starts a comment
func parse(src io.Reader) (*ClusterProperties, error) {
	config := Default()

	// read config file
	rawMap := make(map[string]string)
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		pivot := strings.IndexAny(line, " \t")
		if pivot > 0 && pivot < len(line)-1 { // separator found
			key := line[0:pivot]
			value := strings.Trim(line[pivot+1:], " \t")
			rawMap[strings.ToLower(key)] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// parse format
	t := reflect.TypeOf(config)
	v := reflect.ValueOf(config)
	n := t.Elem().NumField()
	for i := 0; i < n; i++ {
		field := t.Elem().Field(i)
		fieldVal := v.Elem().Field(i)
		key, ok := field.Tag.Lookup("cfg")
		if !ok || strings.TrimLeft(key, " ") == "" {
			key = field.Name
		}
		value, ok := rawMap[strings.ToLower(key)]
		if !ok {
			continue
		}
		// fill config
		switch {
		case field.Type == durationType:
			d, err := time.ParseDuration(value)
			if err != nil {
				return nil, fmt.Errorf("config %s: %w", key, err)
			}
			fieldVal.SetInt(int64(d))
		case field.Type.Kind() == reflect.String:
			fieldVal.SetString(value)
		case field.Type.Kind() == reflect.Int:
			intValue, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("config %s: %w", key, err)
			}
			fieldVal.SetInt(intValue)
		case field.Type.Kind() == reflect.Bool:
			boolValue := "yes" == value || "true" == value
			fieldVal.SetBool(boolValue)
		case field.Type.Kind() == reflect.Slice:
			if field.Type.Elem().Kind() == reflect.String {
				var slice []string
				for _, item := range strings.Split(value, ",") {
					if item = strings.TrimSpace(item); item != "" {
						slice = append(slice, item)
					}
				}
				fieldVal.Set(reflect.ValueOf(slice))
			}
		}
	}
	return config, nil
}

func parseYAML(data []byte) (*ClusterProperties, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return config, nil
}

// Load reads a config file (YAML when the extension is .yaml/.yml) and applies environment overrides.
// An empty filename yields defaults plus environment.
func Load(configFilename string) (*ClusterProperties, error) {
	var (
		props *ClusterProperties
		err   error
	)
	if configFilename == "" {
		props = Default()
	} else {
		props, err = loadFile(configFilename)
		if err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, props); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	return props, nil
}

func loadFile(configFilename string) (*ClusterProperties, error) {
	file, err := os.Open(configFilename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var props *ClusterProperties
	switch strings.ToLower(filepath.Ext(configFilename)) {
	case ".yaml", ".yml":
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, err
		}
		props, err = parseYAML(data)
		if err != nil {
			return nil, err
		}
	default:
		props, err = parse(file)
		if err != nil {
			return nil, err
		}
	}
	if configFilePath, err := filepath.Abs(configFilename); err == nil {
		props.CfPath = configFilePath
	}
	return props, nil
}

// SetupConfig loads the file into the global Properties
func SetupConfig(configFilename string) error {
	props, err := Load(configFilename)
	if err != nil {
		return err
	}
	Properties = props
	return nil
}

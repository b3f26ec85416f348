package cluster

// 解析启动时传入的种子节点配置，支持 URI 字符串和 host/port 映射两种写法

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

const (
	// DefaultPort is used when a node entry has no port
	DefaultPort = 6379
	// DefaultHost is used when a URI has no host
	DefaultHost = "127.0.0.1"

	schemeRedis  = "redis"
	schemeRediss = "rediss"
)

// Endpoint is the canonical address of a node
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
	// DB is the database index carried by a URI path such as redis://host:port/1.
	// It is not validated here, the node rejects it on connect.
	DB int
}

// Addr returns host:port
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	s := e.Scheme + "://" + e.Addr()
	if e.DB != 0 {
		s += "/" + strconv.Itoa(e.DB)
	}
	return s
}

// endpointFromAddr builds an endpoint for an address learned from the cluster itself
func endpointFromAddr(addr string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("bad port in '%s'", addr)
	}
	return Endpoint{Scheme: schemeRedis, Host: host, Port: port}, nil
}

// ParseNodeConfig normalizes seed descriptors into endpoints.
// input must be a slice or an array. Each entry is either a redis:// (or rediss://) URI string,
// or a mapping with a "host" key and an optional "port" key (string or integer).
func ParseNodeConfig(input any) ([]Endpoint, error) {
	if input == nil {
		return nil, &InvalidConfigTypeError{}
	}
	v := reflect.ValueOf(input)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, &InvalidConfigTypeError{}
	}
	endpoints := make([]Endpoint, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		ep, err := parseNodeEntry(v.Index(i))
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func parseNodeEntry(v reflect.Value) (Endpoint, error) {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return Endpoint{}, &InvalidURISchemeError{}
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return Endpoint{}, &InvalidURISchemeError{}
	}
	if v.Type() == reflect.TypeOf(Endpoint{}) {
		return normalizeEndpoint(v.Interface().(Endpoint))
	}
	switch v.Kind() {
	case reflect.String:
		return parseNodeURI(v.String())
	case reflect.Map:
		return parseNodeMap(v)
	case reflect.Bool, reflect.Slice, reflect.Array:
		return Endpoint{}, &InvalidURISchemeError{}
	}
	return Endpoint{}, &UnsupportedNodeConfigTypeError{Value: v.Interface()}
}

func parseNodeURI(raw string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, &InvalidURISchemeError{}
	}
	if u.Scheme != schemeRedis && u.Scheme != schemeRediss {
		return Endpoint{}, &InvalidURISchemeError{Scheme: u.Scheme}
	}
	ep := Endpoint{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   DefaultPort,
	}
	if ep.Host == "" {
		ep.Host = DefaultHost
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > math.MaxUint16 {
			return Endpoint{}, fmt.Errorf("invalid port '%s' in node config '%s'", p, raw)
		}
		ep.Port = port
	}
	// redis://host:port/1/namespace selects db 1
	if segment, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/"); segment != "" {
		if db, err := strconv.Atoi(segment); err == nil {
			ep.DB = db
		}
	}
	return ep, nil
}

func parseNodeMap(m reflect.Value) (Endpoint, error) {
	ep := Endpoint{Scheme: schemeRedis, Port: DefaultPort}
	host, ok := mapLookup(m, "host")
	if !ok {
		return Endpoint{}, &MissingKeyError{Key: "host"}
	}
	hostStr, ok := host.(string)
	if !ok || hostStr == "" {
		return Endpoint{}, fmt.Errorf("node config host must be a non-empty string, got %v", host)
	}
	ep.Host = hostStr
	if port, ok := mapLookup(m, "port"); ok {
		n, err := toPort(port)
		if err != nil {
			return Endpoint{}, err
		}
		ep.Port = n
	}
	if scheme, ok := mapLookup(m, "scheme"); ok {
		s, _ := scheme.(string)
		if s != schemeRedis && s != schemeRediss {
			return Endpoint{}, &InvalidURISchemeError{Scheme: s}
		}
		ep.Scheme = s
	}
	if db, ok := mapLookup(m, "db"); ok {
		n, err := toInt(db)
		if err != nil {
			return Endpoint{}, fmt.Errorf("node config db: %w", err)
		}
		ep.DB = n
	}
	return ep, nil
}

func normalizeEndpoint(ep Endpoint) (Endpoint, error) {
	if ep.Host == "" {
		return Endpoint{}, &MissingKeyError{Key: "host"}
	}
	if ep.Scheme == "" {
		ep.Scheme = schemeRedis
	}
	if ep.Scheme != schemeRedis && ep.Scheme != schemeRediss {
		return Endpoint{}, &InvalidURISchemeError{Scheme: ep.Scheme}
	}
	if ep.Port == 0 {
		ep.Port = DefaultPort
	}
	return ep, nil
}

// mapLookup finds a string key in a map whose keys are strings or interfaces holding strings
func mapLookup(m reflect.Value, name string) (any, bool) {
	iter := m.MapRange()
	for iter.Next() {
		k := iter.Key()
		if k.Kind() == reflect.Interface {
			k = k.Elem()
		}
		if k.IsValid() && k.Kind() == reflect.String && k.String() == name {
			return iter.Value().Interface(), true
		}
	}
	return nil, false
}

func toPort(raw any) (int, error) {
	n, err := toInt(raw)
	if err != nil {
		return 0, fmt.Errorf("node config port: %w", err)
	}
	if n <= 0 || n > math.MaxUint16 {
		return 0, fmt.Errorf("node config port %d out of range", n)
	}
	return n, nil
}

func toInt(raw any) (int, error) {
	v := reflect.ValueOf(raw)
	switch v.Kind() {
	case reflect.String:
		return strconv.Atoi(strings.TrimSpace(v.String()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("%v is not an integer", raw)
		}
		return int(f), nil
	}
	return 0, fmt.Errorf("unsupported value %v", raw)
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/carelog/ratekit/config"
	"github.com/carelog/ratekit/httpserver/middleware"
	"github.com/carelog/ratekit/internal/ratelimit"
)

const cfgDefaultKeyPrefix = "rateLimit"

const (
	cfgKeyEnabled                     = "enabled"
	cfgKeyNamespaces                  = "namespaces"
	cfgKeyRoutes                      = "routes"
	cfgKeyIdentifierUserIDHeader      = "identifier.userIDHeader"
	cfgKeyIdentifierTrustForwardedFor = "identifier.trustForwardedFor"
	cfgKeyRedisEnabled                = "redis.enabled"
	cfgKeyRedisAddress                = "redis.address"
	cfgKeyRedisPassword               = "redis.password" //nolint:gosec // not a credential
	cfgKeyRedisDB                     = "redis.db"
	cfgKeyRedisKeyPrefix              = "redis.keyPrefix"
	cfgKeyRedisBreakerDuration        = "redis.breakerDuration"
	cfgKeyRedisPingTimeout            = "redis.pingTimeout"
	cfgKeyRedisPingRetries            = "redis.pingRetries"
	cfgKeyStoreMaxKeys                = "store.maxKeys"
	cfgKeyStoreSweepInterval          = "store.sweepInterval"
)

const (
	defaultStoreMaxKeys       = 100000
	defaultStoreSweepInterval = time.Minute
)

// Namespaces that are configured when the configuration has no "namespaces" section.
// They mirror the endpoints of the web application that need protection.
const (
	NamespaceFetchURL      = "fetch-url"
	NamespaceNotifications = "notifications"
)

// DefaultNamespaces returns the namespaces used when none are configured.
func DefaultNamespaces() map[string]NamespaceConfig {
	return map[string]NamespaceConfig{
		NamespaceFetchURL:      {Rate: RateValue{Count: 10, Window: time.Minute}},
		NamespaceNotifications: {Rate: RateValue{Count: 5, Window: time.Minute}},
	}
}

// RateLimitConfig represents the "rateLimit" configuration section.
type RateLimitConfig struct {
	Enabled    bool                       `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Namespaces map[string]NamespaceConfig `mapstructure:"namespaces" yaml:"namespaces" json:"namespaces"`
	Routes     []RouteConfig              `mapstructure:"routes" yaml:"routes" json:"routes"`
	Identifier IdentifierConfig           `mapstructure:"identifier" yaml:"identifier" json:"identifier"`
	Redis      RedisConfig                `mapstructure:"redis" yaml:"redis" json:"redis"`
	Store      StoreConfig                `mapstructure:"store" yaml:"store" json:"store"`

	keyPrefix string
}

var _ config.Config = (*RateLimitConfig)(nil)
var _ config.KeyPrefixProvider = (*RateLimitConfig)(nil)

// ConfigOption is a type for functional options for the RateLimitConfig.
type ConfigOption func(*RateLimitConfig)

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(c *RateLimitConfig) {
		c.keyPrefix = keyPrefix
	}
}

// NewRateLimitConfig creates a new instance of the RateLimitConfig.
func NewRateLimitConfig(options ...ConfigOption) *RateLimitConfig {
	cfg := &RateLimitConfig{}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *RateLimitConfig) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *RateLimitConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyEnabled, true)
	dp.SetDefault(cfgKeyIdentifierUserIDHeader, middleware.RateLimitUserIDHeader)
	dp.SetDefault(cfgKeyIdentifierTrustForwardedFor, false)
	dp.SetDefault(cfgKeyRedisEnabled, false)
	dp.SetDefault(cfgKeyRedisKeyPrefix, ratelimit.DefaultRedisKeyPrefix)
	dp.SetDefault(cfgKeyRedisBreakerDuration, ratelimit.DefaultRedisBreakerDuration)
	dp.SetDefault(cfgKeyRedisPingTimeout, ratelimit.DefaultRedisPingTimeout)
	dp.SetDefault(cfgKeyRedisPingRetries, ratelimit.DefaultRedisPingRetries)
	dp.SetDefault(cfgKeyStoreMaxKeys, defaultStoreMaxKeys)
	dp.SetDefault(cfgKeyStoreSweepInterval, defaultStoreSweepInterval)
}

// Set sets the rate limiting configuration values from config.DataProvider.
func (c *RateLimitConfig) Set(dp config.DataProvider) error {
	var err error
	if c.Enabled, err = dp.GetBool(cfgKeyEnabled); err != nil {
		return err
	}
	if err = c.setNamespaces(dp); err != nil {
		return err
	}
	if err = c.setRoutes(dp); err != nil {
		return err
	}
	if err = c.Identifier.Set(dp); err != nil {
		return err
	}
	if err = c.Redis.Set(dp); err != nil {
		return err
	}
	return c.Store.Set(dp)
}

func (c *RateLimitConfig) setNamespaces(dp config.DataProvider) error {
	if !dp.IsSet(cfgKeyNamespaces) {
		c.Namespaces = DefaultNamespaces()
		return nil
	}
	c.Namespaces = nil
	if err := dp.UnmarshalKey(cfgKeyNamespaces, &c.Namespaces, withDecodeHook); err != nil {
		return err
	}
	for name, nsCfg := range c.Namespaces {
		if err := nsCfg.limiterConfig(name).Validate(); err != nil {
			return dp.WrapKeyErr(cfgKeyNamespaces+"."+name, err)
		}
		switch ratelimit.Algorithm(nsCfg.Algorithm) {
		case "", ratelimit.AlgorithmFixedWindow, ratelimit.AlgorithmSlidingWindow:
		case ratelimit.AlgorithmLeakyBucket:
			if nsCfg.MaxBurst < 0 {
				return dp.WrapKeyErr(cfgKeyNamespaces+"."+name+".maxBurst", errors.New("cannot be negative"))
			}
		default:
			return dp.WrapKeyErr(cfgKeyNamespaces+"."+name+".algorithm", fmt.Errorf(
				"unknown value %q, should be one of [%s %s %s]", nsCfg.Algorithm,
				ratelimit.AlgorithmFixedWindow, ratelimit.AlgorithmSlidingWindow, ratelimit.AlgorithmLeakyBucket))
		}
	}
	return nil
}

func (c *RateLimitConfig) setRoutes(dp config.DataProvider) error {
	c.Routes = nil
	if err := dp.UnmarshalKey(cfgKeyRoutes, &c.Routes, withDecodeHook); err != nil {
		return err
	}
	for i, route := range c.Routes {
		if route.Path == "" {
			return dp.WrapKeyErr(fmt.Sprintf("%s.%d.path", cfgKeyRoutes, i), errors.New("cannot be empty"))
		}
		if _, ok := c.Namespaces[route.Namespace]; !ok {
			return dp.WrapKeyErr(fmt.Sprintf("%s.%d.namespace", cfgKeyRoutes, i),
				fmt.Errorf("unknown namespace %q", route.Namespace))
		}
	}
	return nil
}

// FacadeConfig converts the configuration to the one of ratelimit.Facade.
func (c *RateLimitConfig) FacadeConfig() ratelimit.FacadeConfig {
	names := make([]string, 0, len(c.Namespaces))
	for name := range c.Namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	namespaces := make([]ratelimit.NamespaceConfig, 0, len(names))
	for _, name := range names {
		nsCfg := c.Namespaces[name]
		namespaces = append(namespaces, ratelimit.NamespaceConfig{
			LimiterConfig: nsCfg.limiterConfig(name),
			Algorithm:     ratelimit.Algorithm(nsCfg.Algorithm),
			MaxBurst:      nsCfg.MaxBurst,
			DryRun:        nsCfg.DryRun,
			Disabled:      nsCfg.Disabled,
		})
	}
	return ratelimit.FacadeConfig{
		Enabled:    c.Enabled,
		Namespaces: namespaces,
		Redis: ratelimit.RedisConfig{
			Enabled:         c.Redis.Enabled,
			Address:         c.Redis.Address,
			Password:        c.Redis.Password,
			DB:              c.Redis.DB,
			KeyPrefix:       c.Redis.KeyPrefix,
			BreakerDuration: time.Duration(c.Redis.BreakerDuration),
			PingTimeout:     time.Duration(c.Redis.PingTimeout),
			PingRetries:     c.Redis.PingRetries,
		},
		MaxKeys: c.Store.MaxKeys,
	}
}

// RateLimitOpts converts the routes and identifier settings to the middleware options.
func (c *RateLimitConfig) RateLimitOpts() middleware.RateLimitOpts {
	routes := make([]middleware.RateLimitRoute, 0, len(c.Routes))
	for _, route := range c.Routes {
		routes = append(routes, middleware.RateLimitRoute{
			Path:      route.Path,
			Methods:   route.Methods,
			Namespace: route.Namespace,
		})
	}
	return middleware.RateLimitOpts{
		Routes:            routes,
		UserIDHeader:      c.Identifier.UserIDHeader,
		TrustForwardedFor: c.Identifier.TrustForwardedFor,
	}
}

// NamespaceConfig represents a configuration of a single rate-limit namespace.
type NamespaceConfig struct {
	// Rate is a number of requests per window, e.g. "10/m" or "100/90s".
	Rate      RateValue `mapstructure:"rate" yaml:"rate" json:"rate"`
	Algorithm string    `mapstructure:"algorithm" yaml:"algorithm" json:"algorithm"`
	MaxBurst  int       `mapstructure:"maxBurst" yaml:"maxBurst" json:"maxBurst"`
	DryRun    bool      `mapstructure:"dryRun" yaml:"dryRun" json:"dryRun"`
	Disabled  bool      `mapstructure:"disabled" yaml:"disabled" json:"disabled"`
}

func (c NamespaceConfig) limiterConfig(name string) ratelimit.LimiterConfig {
	return ratelimit.LimiterConfig{Namespace: name, Limit: c.Rate.Count, Window: c.Rate.Window}
}

// RouteConfig binds requests with a matching path and method to a namespace.
type RouteConfig struct {
	// Path is a glob pattern, "*" matches any sequence of characters.
	Path      string      `mapstructure:"path" yaml:"path" json:"path"`
	Methods   MethodsList `mapstructure:"methods" yaml:"methods" json:"methods"`
	Namespace string      `mapstructure:"namespace" yaml:"namespace" json:"namespace"`
}

// IdentifierConfig configures how the identifier of a request is obtained.
type IdentifierConfig struct {
	UserIDHeader      string `mapstructure:"userIDHeader" yaml:"userIDHeader" json:"userIDHeader"`
	TrustForwardedFor bool   `mapstructure:"trustForwardedFor" yaml:"trustForwardedFor" json:"trustForwardedFor"`
}

// Set sets identifier configuration values from config.DataProvider.
func (c *IdentifierConfig) Set(dp config.DataProvider) error {
	var err error
	if c.UserIDHeader, err = dp.GetString(cfgKeyIdentifierUserIDHeader); err != nil {
		return err
	}
	c.TrustForwardedFor, err = dp.GetBool(cfgKeyIdentifierTrustForwardedFor)
	return err
}

// RedisConfig represents a configuration of the Redis store shared between instances.
type RedisConfig struct {
	Enabled         bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Address         string              `mapstructure:"address" yaml:"address" json:"address"`
	Password        string              `mapstructure:"password" yaml:"password" json:"-"`
	DB              int                 `mapstructure:"db" yaml:"db" json:"db"`
	KeyPrefix       string              `mapstructure:"keyPrefix" yaml:"keyPrefix" json:"keyPrefix"`
	BreakerDuration config.TimeDuration `mapstructure:"breakerDuration" yaml:"breakerDuration" json:"breakerDuration"`
	PingTimeout     config.TimeDuration `mapstructure:"pingTimeout" yaml:"pingTimeout" json:"pingTimeout"`
	PingRetries     int                 `mapstructure:"pingRetries" yaml:"pingRetries" json:"pingRetries"`
}

// Set sets Redis configuration values from config.DataProvider.
func (c *RedisConfig) Set(dp config.DataProvider) error {
	var err error
	if c.Enabled, err = dp.GetBool(cfgKeyRedisEnabled); err != nil {
		return err
	}
	if c.Address, err = dp.GetString(cfgKeyRedisAddress); err != nil {
		return err
	}
	if c.Password, err = dp.GetString(cfgKeyRedisPassword); err != nil {
		return err
	}
	if c.DB, err = dp.GetInt(cfgKeyRedisDB); err != nil {
		return err
	}
	if c.DB < 0 {
		return dp.WrapKeyErr(cfgKeyRedisDB, errors.New("cannot be negative"))
	}
	if c.KeyPrefix, err = dp.GetString(cfgKeyRedisKeyPrefix); err != nil {
		return err
	}
	for _, item := range []struct {
		key string
		dst *config.TimeDuration
	}{
		{cfgKeyRedisBreakerDuration, &c.BreakerDuration},
		{cfgKeyRedisPingTimeout, &c.PingTimeout},
	} {
		dur, durErr := dp.GetDuration(item.key)
		if durErr != nil {
			return durErr
		}
		if dur <= 0 {
			return dp.WrapKeyErr(item.key, errors.New("must be positive"))
		}
		*item.dst = config.TimeDuration(dur)
	}
	if c.PingRetries, err = dp.GetInt(cfgKeyRedisPingRetries); err != nil {
		return err
	}
	if c.PingRetries < 0 {
		return dp.WrapKeyErr(cfgKeyRedisPingRetries, errors.New("cannot be negative"))
	}
	return nil
}

// StoreConfig represents a configuration of the in-memory window store.
type StoreConfig struct {
	// MaxKeys bounds the number of tracked windows. Zero means unbounded.
	MaxKeys       int                 `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`
	// SweepInterval is a period of removing expired windows. Zero disables sweeping.
	SweepInterval config.TimeDuration `mapstructure:"sweepInterval" yaml:"sweepInterval" json:"sweepInterval"`
}

// Set sets window store configuration values from config.DataProvider.
func (c *StoreConfig) Set(dp config.DataProvider) error {
	var err error
	if c.MaxKeys, err = dp.GetInt(cfgKeyStoreMaxKeys); err != nil {
		return err
	}
	if c.MaxKeys < 0 {
		return dp.WrapKeyErr(cfgKeyStoreMaxKeys, errors.New("cannot be negative"))
	}
	dur, err := dp.GetDuration(cfgKeyStoreSweepInterval)
	if err != nil {
		return err
	}
	if dur < 0 {
		return dp.WrapKeyErr(cfgKeyStoreSweepInterval, errors.New("cannot be negative"))
	}
	c.SweepInterval = config.TimeDuration(dur)
	return nil
}

// RateValue is a number of requests allowed per window.
type RateValue struct {
	Count  int
	Window time.Duration
}

// String returns a string representation of the rate value.
// Implements fmt.Stringer interface.
func (rv RateValue) String() string {
	if rv.Window == 0 && rv.Count == 0 {
		return ""
	}
	var w string
	switch rv.Window {
	case time.Second:
		w = "s"
	case time.Minute:
		w = "m"
	case time.Hour:
		w = "h"
	default:
		w = rv.Window.String()
	}
	return fmt.Sprintf("%d/%s", rv.Count, w)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (rv *RateValue) UnmarshalText(text []byte) error {
	return rv.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (rv *RateValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return rv.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (rv *RateValue) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return rv.unmarshal(text)
}

func (rv *RateValue) unmarshal(rate string) error {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		*rv = RateValue{}
		return nil
	}
	incorrectFormatErr := fmt.Errorf(
		"incorrect format for rate %q, should be N/(s|m|h|<duration>), for example 10/s, 100/m, 50/90s", rate)
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return incorrectFormatErr
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return incorrectFormatErr
	}
	var window time.Duration
	switch w := strings.ToLower(strings.TrimSpace(parts[1])); w {
	case "s":
		window = time.Second
	case "m":
		window = time.Minute
	case "h":
		window = time.Hour
	default:
		if window, err = time.ParseDuration(w); err != nil {
			return incorrectFormatErr
		}
	}
	*rv = RateValue{Count: count, Window: window}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (rv RateValue) MarshalText() ([]byte, error) {
	return []byte(rv.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (rv RateValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(rv.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (rv RateValue) MarshalYAML() (interface{}, error) {
	return rv.String(), nil
}

// MethodsList is a list of HTTP methods. It may be written as a comma-separated string.
type MethodsList []string

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (ml *MethodsList) UnmarshalText(text []byte) error {
	ml.unmarshal(string(text))
	return nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (ml *MethodsList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		ml.unmarshal(s)
		return nil
	}
	var l []string
	if err := json.Unmarshal(data, &l); err == nil {
		ml.set(l)
		return nil
	}
	return fmt.Errorf("invalid methods list: %s", data)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (ml *MethodsList) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		ml.unmarshal(s)
		return nil
	}
	var l []string
	if err := value.Decode(&l); err == nil {
		ml.set(l)
		return nil
	}
	return fmt.Errorf("invalid methods list: %v", value)
}

func (ml *MethodsList) unmarshal(data string) {
	data = strings.TrimSpace(data)
	if data == "" {
		*ml = MethodsList{}
		return
	}
	ml.set(strings.Split(data, ","))
}

func (ml *MethodsList) set(methods []string) {
	res := make(MethodsList, 0, len(methods))
	for _, m := range methods {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			res = append(res, m)
		}
	}
	*ml = res
}

func (ml MethodsList) String() string {
	return strings.Join(ml, ",")
}

// MarshalText implements the encoding.TextMarshaler interface.
func (ml MethodsList) MarshalText() ([]byte, error) {
	return []byte(ml.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (ml MethodsList) MarshalJSON() ([]byte, error) {
	return json.Marshal(ml.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (ml MethodsList) MarshalYAML() (interface{}, error) {
	return ml.String(), nil
}

func withDecodeHook(dc *mapstructure.DecoderConfig) {
	dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructureUpperCaseMethodsHookFunc(),
	)
}

// mapstructureUpperCaseMethodsHookFunc normalizes methods given as a YAML list.
func mapstructureUpperCaseMethodsHookFunc() mapstructure.DecodeHookFuncType {
	methodsListType := reflect.TypeOf(MethodsList{})
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != methodsListType || f.Kind() != reflect.Slice {
			return data, nil
		}
		items, ok := data.([]interface{})
		if !ok {
			return data, nil
		}
		methods := make([]string, 0, len(items))
		for _, item := range items {
			s, isStr := item.(string)
			if !isStr {
				return nil, fmt.Errorf("invalid method %v", item)
			}
			methods = append(methods, s)
		}
		var ml MethodsList
		ml.set(methods)
		return ml, nil
	}
}

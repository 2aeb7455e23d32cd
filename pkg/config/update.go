package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/fieldnote/dex/pkg/cliprint"
)

// Update applies a slice of Option functions. This is the only supported
// way to modify a Config after New().
func (c *Config) Update(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// ToOptions converts the persistent fields of Config (those appropriate
// for dex.yaml / env vars) back into a slice of Option funcs. Runtime-only
// fields (HomeDir, Import.SourceIDs) are excluded.
func (c *Config) ToOptions() []Option {
	var res []Option

	if c.Database.Host != "" {
		res = append(res, OptDatabaseHost(c.Database.Host))
	}
	if c.Database.Port > 0 {
		res = append(res, OptDatabasePort(c.Database.Port))
	}
	if c.Database.User != "" {
		res = append(res, OptDatabaseUser(c.Database.User))
	}
	if c.Database.Password != "" {
		res = append(res, OptDatabasePassword(c.Database.Password))
	}
	if c.Database.Database != "" {
		res = append(res, OptDatabaseDatabase(c.Database.Database))
	}
	if c.Database.SSLMode != "" {
		res = append(res, OptDatabaseSSLMode(c.Database.SSLMode))
	}
	if c.Database.BatchSize > 0 {
		res = append(res, OptDatabaseBatchSize(c.Database.BatchSize))
	}

	if c.Vision.Model != "" {
		res = append(res, OptVisionModel(c.Vision.Model))
	}
	if c.Vision.DetailLevel != "" {
		res = append(res, OptVisionDetailLevel(c.Vision.DetailLevel))
	}
	if c.Vision.MaxRetries > 0 {
		res = append(res, OptVisionMaxRetries(c.Vision.MaxRetries))
	}

	if c.Cache.Addr != "" {
		res = append(res, OptCacheAddr(c.Cache.Addr))
	}
	if c.HTTP.Addr != "" {
		res = append(res, OptHTTPAddr(c.HTTP.Addr))
	}
	if c.HTTP.JWTSigningKey != "" {
		res = append(res, OptHTTPJWTSigningKey(c.HTTP.JWTSigningKey))
	}
	if len(c.HTTP.AllowedOrigins) > 0 {
		res = append(res, OptHTTPAllowedOrigins(c.HTTP.AllowedOrigins))
	}
	if len(c.HTTP.AdminUserIDs) > 0 {
		res = append(res, OptHTTPAdminUserIDs(c.HTTP.AdminUserIDs))
	}
	if c.Import.WorkDir != "" {
		res = append(res, OptImportWorkDir(c.Import.WorkDir))
	}

	if c.Log.Format != "" {
		res = append(res, OptLogFormat(c.Log.Format))
	}
	if c.Log.Level != "" {
		res = append(res, OptLogLevel(c.Log.Level))
	}
	if c.Log.Destination != "" {
		res = append(res, OptLogDestination(c.Log.Destination))
	}

	if c.JobsNumber > 0 {
		res = append(res, OptJobsNumber(c.JobsNumber))
	}

	return res
}

func isValidString(name, s string) bool {
	ok := s != ""
	if !ok {
		cliprint.Warn("<em>%s</em> cannot be empty, ignoring", name)
	}
	return ok
}

func isValidInt(name string, i int) bool {
	ok := i > 0
	if !ok {
		cliprint.Warn("<em>%s</em> has to be a positive number, ignoring %d", name, i)
	}
	return ok
}

var enumValues = map[string]map[string]struct{}{
	"Database.SSLMode":  {"disable": {}, "require": {}, "verify-ca": {}, "verify-full": {}},
	"Vision.DetailLevel": {"low": {}, "high": {}, "auto": {}},
	"Log.Level":          {"debug": {}, "info": {}, "warn": {}, "error": {}},
	"Log.Format":         {"json": {}, "text": {}, "tint": {}},
	"Log.Destination":    {"file": {}, "stdout": {}, "stderr": {}},
}

func isValidEnum(name, val string) bool {
	if _, ok := enumValues[name][val]; ok {
		return true
	}
	vals := slices.Sorted(maps.Keys(enumValues[name]))
	var lines []string
	for _, v := range vals {
		lines = append(lines, fmt.Sprintf("  * %s", v))
	}
	cliprint.Warn(
		"<em>%s</em> does not support '%s' as a value. Valid values are:\n%s\nIgnoring...",
		name, val, strings.Join(lines, "\n"),
	)
	return false
}

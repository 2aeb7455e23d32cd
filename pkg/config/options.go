package config

import "strings"

// Option is a function that modifies a Config in place. Invalid values are
// rejected with a CLI warning; the Config stays in whatever valid state it
// was in before the Option ran.
type Option func(*Config)

func OptDatabaseHost(s string) Option {
	s = strings.TrimSpace(s)
	return func(c *Config) {
		if isValidString("Database Host", s) {
			c.Database.Host = s
		}
	}
}

func OptDatabasePort(i int) Option {
	return func(c *Config) {
		if isValidInt("Database Port", i) {
			c.Database.Port = i
		}
	}
}

func OptDatabaseUser(s string) Option {
	s = strings.TrimSpace(s)
	return func(c *Config) {
		if isValidString("Database User", s) {
			c.Database.User = s
		}
	}
}

func OptDatabasePassword(s string) Option {
	return func(c *Config) {
		if s != "" {
			c.Database.Password = s
		}
	}
}

func OptDatabaseDatabase(s string) Option {
	s = strings.TrimSpace(s)
	return func(c *Config) {
		if isValidString("Database Name", s) {
			c.Database.Database = s
		}
	}
}

func OptDatabaseSSLMode(s string) Option {
	s = strings.ToLower(strings.TrimSpace(s))
	return func(c *Config) {
		if isValidEnum("Database.SSLMode", s) {
			c.Database.SSLMode = s
		}
	}
}

func OptDatabaseBatchSize(i int) Option {
	return func(c *Config) {
		if isValidInt("Database Batch Size", i) {
			c.Database.BatchSize = i
		}
	}
}

func OptVisionModel(s string) Option {
	s = strings.TrimSpace(s)
	return func(c *Config) {
		if isValidString("Vision Model", s) {
			c.Vision.Model = s
		}
	}
}

func OptVisionDetailLevel(s string) Option {
	s = strings.ToLower(strings.TrimSpace(s))
	return func(c *Config) {
		if isValidEnum("Vision.DetailLevel", s) {
			c.Vision.DetailLevel = s
		}
	}
}

func OptVisionMaxRetries(i int) Option {
	return func(c *Config) {
		if isValidInt("Vision Max Retries", i) {
			c.Vision.MaxRetries = i
		}
	}
}

func OptCacheAddr(s string) Option {
	s = strings.TrimSpace(s)
	return func(c *Config) {
		if isValidString("Cache Addr", s) {
			c.Cache.Addr = s
		}
	}
}

func OptHTTPAddr(s string) Option {
	s = strings.TrimSpace(s)
	return func(c *Config) {
		if isValidString("HTTP Addr", s) {
			c.HTTP.Addr = s
		}
	}
}

func OptHTTPJWTSigningKey(s string) Option {
	return func(c *Config) {
		if isValidString("HTTP JWT Signing Key", s) {
			c.HTTP.JWTSigningKey = s
		}
	}
}

func OptHTTPAllowedOrigins(origins []string) Option {
	return func(c *Config) {
		if len(origins) > 0 {
			c.HTTP.AllowedOrigins = origins
		}
	}
}

// OptHTTPAdminUserIDs sets the user ids permitted to request the global
// tree projection (spec §4.10).
func OptHTTPAdminUserIDs(ids []string) Option {
	return func(c *Config) {
		if len(ids) > 0 {
			c.HTTP.AdminUserIDs = ids
		}
	}
}

// OptImportSourceIDs sets the sources a single import run targets. Empty
// means "all sources". Runtime-only field, not part of ToOptions().
func OptImportSourceIDs(ids []string) Option {
	return func(c *Config) {
		if len(ids) > 0 {
			c.Import.SourceIDs = ids
		}
	}
}

func OptImportWorkDir(s string) Option {
	s = strings.TrimSpace(s)
	return func(c *Config) {
		if isValidString("Import Work Dir", s) {
			c.Import.WorkDir = s
		}
	}
}

func OptLogLevel(s string) Option {
	s = strings.ToLower(strings.TrimSpace(s))
	return func(c *Config) {
		if isValidEnum("Log.Level", s) {
			c.Log.Level = s
		}
	}
}

func OptLogFormat(s string) Option {
	s = strings.ToLower(strings.TrimSpace(s))
	return func(c *Config) {
		if isValidEnum("Log.Format", s) {
			c.Log.Format = s
		}
	}
}

func OptLogDestination(s string) Option {
	s = strings.ToLower(strings.TrimSpace(s))
	return func(c *Config) {
		if isValidEnum("Log.Destination", s) {
			c.Log.Destination = s
		}
	}
}

func OptJobsNumber(i int) Option {
	return func(c *Config) {
		if isValidInt("Jobs Number", i) {
			c.JobsNumber = i
		}
	}
}

// OptHomeDir sets the home directory used to derive config/cache/log paths.
// Set once at startup from os.UserHomeDir(). Runtime-only, not in ToOptions().
func OptHomeDir(s string) Option {
	s = strings.TrimSpace(s)
	return func(c *Config) {
		if isValidString("Home Directory", s) {
			c.HomeDir = s
		}
	}
}

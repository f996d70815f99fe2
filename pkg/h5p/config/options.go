package config

import (
	"fmt"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		switch dbType {
		case "memory":
		case "postgres", "sqlite":
			if url == "" {
				return fmt.Errorf("database URL is required for %s", dbType)
			}
		default:
			return fmt.Errorf("database type must be 'memory', 'postgres' or 'sqlite', got: %s", dbType)
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithStorageDir sets the root of the library, content and export tree
func WithStorageDir(dir string) Option {
	return func(c *ServerConfig) error {
		if dir == "" {
			return fmt.Errorf("storage directory cannot be empty")
		}
		c.StorageDir = dir
		return nil
	}
}

// WithMemoryExports keeps export archives in memory (for testing)
func WithMemoryExports() Option {
	return func(c *ServerConfig) error {
		c.ExportStore = "memory"
		return nil
	}
}

// WithS3Exports stores export archives in an S3 bucket
func WithS3Exports(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}
		c.ExportStore = "s3"
		c.S3.Bucket = bucket
		c.S3.Region = region
		return nil
	}
}

// WithS3Endpoint sets a custom S3 endpoint (for MinIO, LocalStack, etc.)
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		c.S3.Endpoint = endpoint
		c.S3.UsePathStyle = usePathStyle
		return nil
	}
}

// WithS3Credentials sets AWS credentials for S3 exports
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		c.S3.AccessKeyID = accessKeyID
		c.S3.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithExports enables or disables export archives
func WithExports(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.ExportEnabled = enabled
		return nil
	}
}

// WithLibraryUpdates allows packages to install and upgrade libraries
func WithLibraryUpdates(allowed bool) Option {
	return func(c *ServerConfig) error {
		c.UpdateLibraries = allowed
		return nil
	}
}

// WithWhitelist overrides the allowed content extensions and library extras.
// Empty values keep the defaults.
func WithWhitelist(content, libraryExtras string) Option {
	return func(c *ServerConfig) error {
		c.ContentWhitelist = content
		c.LibraryWhitelistExtras = libraryExtras
		return nil
	}
}

// WithFileCheckDisabled skips the extension whitelist check
func WithFileCheckDisabled(disabled bool) Option {
	return func(c *ServerConfig) error {
		c.FileCheckDisabled = disabled
		return nil
	}
}

// WithEventLogging enables or disables event logging
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}

// WithMetadataURL sets the hub endpoint used by metadata fetches
func WithMetadataURL(url string) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("metadata URL cannot be empty")
		}
		c.MetadataURL = url
		return nil
	}
}

// WithJWTSecret enables JWT verification on the HTTP API
func WithJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.JWTSecret = secret
		return nil
	}
}

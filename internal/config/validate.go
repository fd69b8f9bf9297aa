package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"preloadcounts/internal/naming"
	"preloadcounts/internal/predicate"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Observability.validate(result)
	validateNamingConfig(result, c.Naming)
	validateModels(result, c.Models)

	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(d.ConnectionString) == "" {
		if strings.TrimSpace(d.Host) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.host",
				Message: "host is required when database.dsn is not set",
			})
		}
		if d.Port < 1 || d.Port > 65535 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.port",
				Message: fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port),
			})
		}
		if strings.TrimSpace(d.Database) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: "database name is required",
				Hint:    "set database.database or include a /database in database.dsn",
			})
		}
	} else if _, err := d.DSN(); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.dsn",
			Message: err.Error(),
			Hint:    "set a valid MySQL DSN in database.dsn/database.dsn_file",
		})
	}

	d.TLS.validate(result)

	if d.Pool.MaxOpen < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_open",
			Message: "max_open cannot be negative",
		})
	}
	if d.Pool.MaxIdle < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_idle",
			Message: "max_idle cannot be negative",
		})
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.pool.max_idle",
			Message: "max_idle is greater than max_open",
			Hint:    "idle connections will be limited to max_open",
		})
	}
	if d.ConnectionTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_timeout",
			Message: "connection_timeout cannot be negative",
		})
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.mode",
			Message: fmt.Sprintf("invalid TLS mode %q", t.Mode),
			Hint:    "valid values are: off, skip-verify, verify-ca, verify-full",
		})
		return
	}

	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.tls.ca_file",
			Message: fmt.Sprintf("TLS mode %q without ca_file uses the system root CAs", t.Mode),
		})
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls",
			Message: "cert_file and key_file must be set together",
		})
	}
	if t.Mode == "skip-verify" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.tls.mode",
			Message: "skip-verify does not verify the server certificate",
			Hint:    "use verify-ca or verify-full outside development",
		})
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text",
		})
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.trace_sample_ratio",
			Message: fmt.Sprintf("trace_sample_ratio %v must be between 0.0 and 1.0", o.TraceSampleRatio),
		})
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".endpoint",
			Message: fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
			Hint:    "use host:port or a full URL",
		})
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".compression",
			Message: fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			Hint:    "valid values are: none, gzip",
		})
	}

	if o.RetryMaxAttempts < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".retry_max_attempts",
			Message: "retry_max_attempts cannot be negative",
		})
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}

func validateNamingConfig(result *ValidationResult, cfg naming.Config) {
	for singular, plural := range cfg.PluralOverrides {
		if strings.TrimSpace(singular) == "" || strings.TrimSpace(plural) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "naming.plural_overrides",
				Message: fmt.Sprintf("override %q -> %q cannot have an empty side", singular, plural),
			})
		}
	}
	for plural, singular := range cfg.SingularOverrides {
		if strings.TrimSpace(singular) == "" || strings.TrimSpace(plural) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "naming.singular_overrides",
				Message: fmt.Sprintf("override %q -> %q cannot have an empty side", plural, singular),
			})
		}
	}
}

func validateModels(result *ValidationResult, models []ModelConfig) {
	seen := make(map[string]bool, len(models))
	for i, m := range models {
		field := fmt.Sprintf("models[%d]", i)
		name := strings.TrimSpace(m.Name)
		if name == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".name",
				Message: "model name cannot be empty",
			})
			continue
		}
		if seen[name] {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("model %q is declared more than once", name),
			})
		}
		seen[name] = true

		for scopeName, filter := range m.Scopes {
			if strings.TrimSpace(scopeName) == "" {
				result.Errors = append(result.Errors, ValidationError{
					Field:   field + ".scopes",
					Message: "scope name cannot be empty",
				})
				continue
			}
			if _, err := predicate.ParseFilter(filter); err != nil {
				result.Errors = append(result.Errors, ValidationError{
					Field:   fmt.Sprintf("%s.scopes.%s", field, scopeName),
					Message: err.Error(),
				})
			}
		}

		relationships := make(map[string]RelationshipConfig, len(m.Relationships))
		for j, rel := range m.Relationships {
			relField := fmt.Sprintf("%s.relationships[%d]", field, j)
			if strings.TrimSpace(rel.Name) == "" {
				result.Errors = append(result.Errors, ValidationError{
					Field:   relField + ".name",
					Message: "relationship name cannot be empty",
				})
				continue
			}
			if _, dup := relationships[rel.Name]; dup {
				result.Warnings = append(result.Warnings, ValidationWarning{
					Field:   relField + ".name",
					Message: fmt.Sprintf("relationship %q is declared more than once; the last declaration wins", rel.Name),
				})
			}
			relationships[rel.Name] = rel
			if rel.Through != "" && (rel.ForeignKey != "" || rel.As != "") {
				result.Warnings = append(result.Warnings, ValidationWarning{
					Field:   relField,
					Message: "foreign_key and as are ignored on a through relationship",
				})
			}
			if _, err := predicate.ParseFilter(rel.Where); err != nil {
				result.Errors = append(result.Errors, ValidationError{
					Field:   relField + ".where",
					Message: err.Error(),
				})
			}
		}

		for j, p := range m.Preload {
			preloadField := fmt.Sprintf("%s.preload[%d]", field, j)
			rel, ok := relationships[p.Relationship]
			if !ok {
				result.Errors = append(result.Errors, ValidationError{
					Field:   preloadField + ".relationship",
					Message: fmt.Sprintf("model %q has no relationship %q", name, p.Relationship),
				})
				continue
			}
			if rel.Through != "" {
				result.Errors = append(result.Errors, ValidationError{
					Field:   preloadField + ".relationship",
					Message: fmt.Sprintf("relationship %q goes through %q", p.Relationship, rel.Through),
					Hint:    "only direct one-to-many relationships can have preloaded counts",
				})
			}
		}
	}
}

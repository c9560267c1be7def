package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

const durationPattern = `^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

var documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "definitions": {
    "duration": {"type": "string", "pattern": "` + durationPattern + `"},
    "node": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "host": {"type": "string"},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "database": {"type": "string"},
        "user": {"type": "string"},
        "password": {"type": "string"},
        "sslmode": {"enum": ["disable", "allow", "prefer", "require", "verify-ca", "verify-full"]}
      }
    }
  },
  "properties": {
    "cache": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "topology": {"enum": ["standalone", "sentinel", "cluster"]},
        "addrs": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "master_name": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "db": {"type": "integer", "minimum": 0},
        "dial_timeout": {"$ref": "#/definitions/duration"}
      }
    },
    "store": {
      "type": "object",
      "additionalProperties": false,
      "required": ["primary"],
      "properties": {
        "primary": {"$ref": "#/definitions/node"},
        "replicas": {"type": "array", "items": {"$ref": "#/definitions/node"}}
      }
    },
    "pool": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "min": {"type": "integer", "minimum": 0},
        "max": {"type": "integer", "minimum": 1},
        "acquire_timeout": {"$ref": "#/definitions/duration"},
        "idle_timeout": {"$ref": "#/definitions/duration"},
        "eviction_interval": {"$ref": "#/definitions/duration"},
        "create_rate": {"type": "number", "minimum": 0}
      }
    },
    "load_balancing": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "strategy": {"enum": ["round-robin", "least-connections", "random", "weighted"]}
      }
    },
    "health": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "interval": {"$ref": "#/definitions/duration"},
        "probe_timeout": {"$ref": "#/definitions/duration"},
        "degraded_latency": {"$ref": "#/definitions/duration"}
      }
    },
    "failover": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "timeout": {"$ref": "#/definitions/duration"},
        "retry_attempts": {"type": "integer", "minimum": 0},
        "history_size": {"type": "integer", "minimum": 1},
        "store_promoter": {"enum": ["routing", "pg_promote"]},
        "persist_log": {"type": "boolean"}
      }
    },
    "circuit_breaker": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "failure_threshold": {"type": "integer", "minimum": 1}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "error"]},
        "format": {"enum": ["json", "console"]}
      }
    },
    "admin": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "addr": {"type": "string"}
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// ValidateDocument checks raw YAML against the configuration schema
func ValidateDocument(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("config: schema violations: %s", strings.Join(problems, "; "))
}

// Package config manages user-level settings stored at ~/.kiln/config.yaml.
// Every key can be overridden with a KILN_-prefixed environment variable.
package config

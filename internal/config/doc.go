/*
Package config provides configuration loading, validation and path
management for the daemon.

# Configuration Loading

Load reads a single JSONC file (comments and trailing commas allowed,
processed with tidwall/jsonc), applies environment variable overrides and
validates the result. A missing file is not an error: defaults are used so
the daemon runs out of the box.

Precedence, lowest to highest:

 1. Built-in defaults
 2. The config file
 3. NEXUS_* environment variables

# Variable Interpolation

String values support {env:VAR_NAME} placeholders which expand to
environment variable values at load time. This keeps secrets such as API
keys out of the config file:

	{
	  "auth": {
	    "scheme": "api_key",
	    "api_key": "{env:NEXUS_API_KEY}"
	  }
	}

# Hot Reload

Watcher observes the config file with fsnotify and invokes a callback with
the freshly loaded configuration on every change. Reloads that fail
validation are logged and discarded; the previous configuration stays in
effect.

# Paths

GetPaths returns XDG Base Directory compliant locations (data, config,
cache, state) and EnsurePaths creates them. All persisted daemon state
lives under these directories.
*/
package config

// Package config provides configuration loading, merging, and path
// management for opsploit.
//
// # Configuration Loading
//
// The Load function merges configuration from multiple sources in
// priority order:
//
//  1. Global config (~/.config/opsploit/, XDG compliant)
//  2. Global config (~/.opsploit/)
//  3. Engagement config (.opsploit/ under the working directory)
//  4. OPSPLOIT_CONFIG file
//  5. OPSPLOIT_CONFIG_CONTENT inline JSON
//  6. Environment variables
//
// Later sources override earlier ones; environment variables have the
// highest precedence.
//
// # Supported Formats
//
// Both JSON and JSONC (JSON with comments) are accepted:
//   - opsploit.json - standard JSON configuration
//   - opsploit.jsonc - JSON with // and /* */ comments
//
// # Variable Interpolation
//
// Configuration files support two placeholder forms:
//   - {env:VAR_NAME} - expands to the environment variable's value
//   - {file:path} - expands to the named file's contents, with relative
//     paths resolved against the config file's directory
//
// Example:
//
//	{
//	  "provider": {
//	    "anthropic": {
//	      "options": {
//	        "apiKey": "{env:ANTHROPIC_API_KEY}"
//	      }
//	    }
//	  },
//	  "instructions": [
//	    "{file:rules-of-engagement.txt}"
//	  ]
//	}
//
// # Path Management
//
// The Paths type follows the XDG Base Directory Specification:
//   - Data: ~/.local/share/opsploit (XDG_DATA_HOME)
//   - Config: ~/.config/opsploit (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/opsploit (XDG_CACHE_HOME)
//   - State: ~/.local/state/opsploit (XDG_STATE_HOME)
//
// On Windows these fall back to APPDATA. Engagement archives live
// outside the XDG tree: EngagementArchiveDir returns
// ~/.engagement/sessions/<rootID>/ and EngagementLiveDir the matching
// /tmp working copy.
//
// # Environment Variable Overrides
//
//   - OPSPLOIT_MODEL - override the default model
//   - OPSPLOIT_SMALL_MODEL - override the small model
//   - OPSPLOIT_CONFIG - path to a specific config file
//   - OPSPLOIT_CONFIG_CONTENT - inline JSON configuration
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, ... - provider credentials
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	paths := config.GetPaths()
//	if err := paths.EnsurePaths(); err != nil {
//	    log.Fatal(err)
//	}
package config

// Package config resolves OrbitDock's on-disk layout and process environment
// and loads the optional YAML policy-default overlay.
package config

import "path/filepath"

// Paths holds the well-known files and directories under ~/.orbitdock.
type Paths struct {
	Root string // ~/.orbitdock

	DB           string // orbitdock.db
	RolloutState string // rollout-watcher-state.json
	Token        string // token, mode 0600
	PID          string // orbitdock.pid
	ConfigFile   string // config.yaml
}

// GetPaths resolves paths rooted at the given HOME directory.
func GetPaths(home string) *Paths {
	root := filepath.Join(home, ".orbitdock")
	return &Paths{
		Root:         root,
		DB:           filepath.Join(root, "orbitdock.db"),
		RolloutState: filepath.Join(root, "rollout-watcher-state.json"),
		Token:        filepath.Join(root, "token"),
		PID:          filepath.Join(root, "orbitdock.pid"),
		ConfigFile:   filepath.Join(root, "config.yaml"),
	}
}

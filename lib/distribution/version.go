package distribution

import "runtime/debug"

// buildVersion extracts a short git revision from Go's embedded build
// info for User-Agent stamping, grounded on the teacher's
// getBuildVersion (cmd/api/config/config.go): short hash + "-dirty"
// suffix if uncommitted changes, or "unknown" if unavailable.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return "unknown"
	}
	if len(revision) > 8 {
		revision = revision[:8]
	}
	if dirty {
		return revision + "-dirty"
	}
	return revision
}

package validate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromDirectory loads extra rule sets from YAML files in a directory.
// Files must have a .yaml or .yml extension and contain a list of rule
// sets. A file that fails to parse or compile is skipped with a warning;
// admission must not break because one override file is malformed.
func LoadFromDirectory(dir string, logger *slog.Logger) ([]*RuleSet, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("validation rules directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}

	var sets []*RuleSet
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read rules file", "path", path, "err", err)
			continue
		}

		var fileSets []*RuleSet
		if err := yaml.Unmarshal(data, &fileSets); err != nil {
			logger.Warn("cannot parse rules file", "path", path, "err", err)
			continue
		}

		ok := true
		for _, rs := range fileSets {
			if err := rs.Compile(); err != nil {
				logger.Warn("invalid rule set", "path", path, "err", err)
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		logger.Info("loaded validation rules", "path", path, "sets", len(fileSets))
		sets = append(sets, fileSets...)
	}

	return sets, nil
}

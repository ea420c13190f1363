package synclog

import (
	"os"

	"gopkg.in/yaml.v3"
)

// DumpYAML reads the current JSON-lines log and re-encodes its entries as
// a single YAML document at outPath, for operators who want a more
// readable export than raw JSONL. This is a debug/export affordance only:
// the canonical on-disk log format remains the JSON-lines shape from spec
// section 6.
func (l *Logger) DumpYAML(outPath string) error {
	l.mu.Lock()
	data, err := os.ReadFile(l.logPath)
	l.mu.Unlock()
	if os.IsNotExist(err) {
		data = nil
	} else if err != nil {
		return err
	}

	lines := splitNonEmptyLines(data)
	records := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		rec, err := decodeJSONLine(line)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}

	out, err := yaml.Marshal(records)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, out, 0o600)
}

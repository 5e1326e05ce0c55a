package caps

import (
	"strings"

	"github.com/pkg/errors"
)

// DeviceParseResult is what ParseDeviceDump extracts from the combined
// "-device ?" / "-device <type>,?" textual dump: the set of object
// type names it saw, and for each queried type the set of property
// names it saw.
type DeviceParseResult struct {
	Types      map[string]bool
	Properties map[string]map[string]bool
}

// ParseDeviceDump parses the combined stderr of invoking the binary
// with "-device ?" followed by "-device <type>,?" for each entry in
// queriedDeviceTypes. Object types are found as every occurrence of
// name "<value>"; an unterminated quote is a fatal parse error. Per
// type, property names are found as leading "T.<propname>=" tokens on
// their own line; each such line is attributed to the queried type its
// own prefix names, whichever "name "…"" section precedes it.
func ParseDeviceDump(dump string) (*DeviceParseResult, error) {
	result := &DeviceParseResult{
		Types:      make(map[string]bool),
		Properties: make(map[string]map[string]bool),
	}

	var currentType string

	for _, line := range strings.Split(dump, "\n") {
		if idx := strings.Index(line, `name "`); idx >= 0 {
			rest := line[idx+len(`name "`):]
			end := strings.IndexByte(rest, '"')
			if end < 0 {
				return nil, errors.Errorf("unterminated quote in device dump line %q", line)
			}
			currentType = rest[:end]
			result.Types[currentType] = true
			continue
		}

		for _, queried := range queriedDeviceTypes {
			prefix := queried + "."
			trimmed := strings.TrimSpace(line)
			if !strings.HasPrefix(trimmed, prefix) {
				continue
			}
			rest := trimmed[len(prefix):]
			eq := strings.IndexByte(rest, '=')
			if eq < 0 {
				continue
			}
			prop := rest[:eq]
			if result.Properties[queried] == nil {
				result.Properties[queried] = make(map[string]bool)
			}
			result.Properties[queried][prop] = true
		}
	}

	return result, nil
}

// ApplyDeviceFlags sets the flags implied by a DeviceParseResult via
// deviceTypeFlags and deviceTypeProps. Conflict resolution (§3) is the
// Orchestrator's job and is not performed here.
func ApplyDeviceFlags(fs *FlagSet, result *DeviceParseResult) {
	for typeName := range result.Types {
		if f, ok := deviceTypeFlags[typeName]; ok {
			fs.Set(f)
		}
	}
	for typeName, props := range result.Properties {
		table, ok := deviceTypeProps[typeName]
		if !ok {
			continue
		}
		for prop := range props {
			if f, ok := table[prop]; ok {
				fs.Set(f)
			}
		}
	}
}

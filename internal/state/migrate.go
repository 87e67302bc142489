package state

// upgrade applies every version-transition function in sequence, from
// whatever version raw carries (treating a missing field as version 1)
// up to CurrentSchemaVersion. Each step is a pure transformation on the
// decoded JSON tree, per the schema-migration contract: a save always
// writes the current version, a load always upgrades in place.
func upgrade(raw map[string]any) map[string]any {
	version := 1
	if v, ok := raw["schema_version"].(float64); ok && v > 0 {
		version = int(v)
	}

	start := version - 1
	if start < 0 {
		start = 0
	}
	if start > len(upgradeSteps) {
		start = len(upgradeSteps)
	}
	for _, step := range upgradeSteps[start:] {
		raw = step(raw)
	}
	raw["schema_version"] = float64(CurrentSchemaVersion)
	return raw
}

// upgradeSteps holds one function per version transition, indexed so
// that upgradeSteps[v-1] transforms a record from version v to v+1.
// There is no transition function for the current version yet: it's
// appended here the day CurrentSchemaVersion is bumped.
var upgradeSteps = []func(map[string]any) map[string]any{}

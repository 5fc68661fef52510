package cel

// HotfixExamples are sample hotfix expressions. The first group works on the
// raw sentence, the second on parsed fields.
var HotfixExamples = map[string]string{
	"semicolons_to_commas": `data.replace(";", ",")`,
	"strip_whitespace":     `data.trim()`,
	"upper_case":           `data.upperAscii()`,
	"swap_prefix":          `data.startsWith("**") ? "$$" + data.substring(2) : data`,

	"scale_altitude":   `set(data, "altitude", double(data.altitude) * 0.3048)`,
	"drop_field":       `unset(data, "custom_string")`,
	"default_battery":  `has(data.battery) ? data : set(data, "battery", 0.0)`,
	"rename_field":     `unset(set(data, "temp_internal", data.temperature), "temperature")`,
	"abs_speed":        `set(data, "speed", math.abs(double(data.speed)))`,
	"callsign_lowered": `set(data, "payload", data.payload.lowerAscii())`,
}

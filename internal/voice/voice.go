// Package voice maps neural speech voice names onto realtime voice tokens.
package voice

// Default is returned for unknown names: the neutral, balanced voice.
const Default = "alloy"

// Voice describes one realtime provider voice.
type Voice struct {
	Token       string `json:"token"`
	Gender      string `json:"gender"`
	Description string `json:"description"`
}

var catalogue = []Voice{
	{Token: "alloy", Gender: "neutral", Description: "Neutral, balanced voice"},
	{Token: "ash", Gender: "male", Description: "Clear, steady male voice"},
	{Token: "coral", Gender: "female", Description: "Warm, friendly female voice"},
	{Token: "echo", Gender: "male", Description: "Warm, conversational male voice"},
	{Token: "sage", Gender: "female", Description: "Calm, measured female voice"},
	{Token: "shimmer", Gender: "female", Description: "Clear, bright female voice"},
}

// mappings is read-only after package init.
var mappings = map[string]string{
	"en-US-JennyNeural":    "shimmer",
	"JennyNeural":          "shimmer",
	"en-US-AriaNeural":     "coral",
	"AriaNeural":           "coral",
	"en-US-SaraNeural":     "sage",
	"SaraNeural":           "sage",
	"en-US-MichelleNeural": "sage",
	"MichelleNeural":       "sage",
	"en-US-GuyNeural":      "echo",
	"GuyNeural":            "echo",
	"en-US-DavisNeural":    "ash",
	"DavisNeural":          "ash",
	"en-US-TonyNeural":     "ash",
	"TonyNeural":           "ash",
	"en-US-AvaNeural":      "alloy",
	"AvaNeural":            "alloy",

	"female": "shimmer",
	"male":   "echo",
}

// Resolve returns the realtime voice for name, falling back to gender and
// then Default. Matching is exact and case-sensitive; "" means not given.
func Resolve(name, gender string) string {
	if name != "" {
		if token, ok := mappings[name]; ok {
			return token
		}
	}
	if gender != "" {
		if token, ok := mappings[gender]; ok {
			return token
		}
	}
	return Default
}

// Catalogue lists the realtime voices.
func Catalogue() []Voice {
	out := make([]Voice, len(catalogue))
	copy(out, catalogue)
	return out
}

// Mappings returns a copy of the name → token table.
func Mappings() map[string]string {
	out := make(map[string]string, len(mappings))
	for k, v := range mappings {
		out[k] = v
	}
	return out
}

// Known reports whether token is a realtime voice.
func Known(token string) bool {
	for _, v := range catalogue {
		if v.Token == token {
			return true
		}
	}
	return false
}

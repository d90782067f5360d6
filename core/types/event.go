package types

// Event captures a structured state change recorded by the settlement engines.
// Attributes are string encoded so downstream indexers can consume the payload
// without module-specific decoding.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

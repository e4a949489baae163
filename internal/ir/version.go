package ir

// Version constants for the persisted record schema and engine.
const (
	// SchemaVersion is the StoreEntry schema version.
	SchemaVersion = "1"

	// EngineVersion is the procrecon engine version.
	EngineVersion = "0.1.0"
)

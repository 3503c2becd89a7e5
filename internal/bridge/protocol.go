package bridge

// Message types exchanged between the host and the emulation sandbox.
// Delivery is at-most-once and no acknowledgment messages exist;
// host-to-sandbox sends are fire-and-forget.
const (
	// Sandbox → host: emulation has started, no payload
	MessageGameStarted = "GAME_STARTED"

	// Sandbox → host: the user requested an in-sandbox save; payload
	// carries the raw snapshot bytes. The host persists them instead
	// of letting the sandbox trigger a native file download.
	MessageSaveStateFromEmulator = "SAVE_STATE_FROM_EMULATOR"

	// Host → sandbox: restore the carried snapshot bytes
	MessageLoadSaveIntoEmulator = "LOAD_SAVE_INTO_EMULATOR"

	// Host → page: unlock toast scheduling
	MessageAchievementUnlocked = "ACHIEVEMENT_UNLOCKED"
	MessageAchievementDismiss  = "ACHIEVEMENT_DISMISS"

	// Host → page: a guest attempted a persisted operation
	MessageAuthRequired = "AUTH_REQUIRED"

	// Host → page: transient failure notice
	MessageError = "ERROR"
)

// Message is the wire envelope for the sandbox bridge. Payload is raw
// snapshot bytes, carried base64-encoded by encoding/json.
type Message struct {
	Type    string `json:"type"`
	Payload []byte `json:"payload,omitempty"`
	Title   string `json:"title,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	Error   string `json:"error,omitempty"`
}

package types

// ProgressStage identifies one phase of a driver lookup table build.
type ProgressStage string

const (
	StageFeed   ProgressStage = "version_feed"
	StageLegacy ProgressStage = "legacy_table"
	StageChips  ProgressStage = "supported_chips"
	StageMerge  ProgressStage = "merge"
)

// ProgressEvent describes build progress. The CLI prints the message in
// verbose mode; the server forwards the whole event to websocket clients.
type ProgressEvent struct {
	Stage   ProgressStage `json:"stage"`
	Message string        `json:"message"`
	URL     string        `json:"url,omitempty"`
	Count   int           `json:"count,omitempty"`
}

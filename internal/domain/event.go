package domain

// Event is one normalized output event of a conversation turn. The "t"
// discriminator is the external protocol; every other field is populated
// only for the event types that carry it.
type Event struct {
	T             string   `json:"t"`
	V             string   `json:"v,omitempty"`             // text / reasoning chunk
	Msg           string   `json:"msg,omitempty"`           // error message
	UploadKey     string   `json:"uploadKey,omitempty"`     // upload
	RowCount      int      `json:"rowCount,omitempty"`      // upload
	Columns       []string `json:"columns,omitempty"`       // upload
	AlreadyExists *bool    `json:"alreadyExists,omitempty"` // upload
}

const (
	EventText       = "text"
	EventReasoning  = "reasoning"
	EventSearching  = "searching"
	EventSearchDone = "search_done"
	EventUpload     = "upload"
	EventDone       = "done"
	EventError      = "error"
)

func TextEvent(chunk string) Event      { return Event{T: EventText, V: chunk} }
func ReasoningEvent(chunk string) Event { return Event{T: EventReasoning, V: chunk} }
func SearchingEvent() Event             { return Event{T: EventSearching} }
func SearchDoneEvent() Event            { return Event{T: EventSearchDone} }
func DoneEvent() Event                  { return Event{T: EventDone} }
func ErrorEvent(msg string) Event       { return Event{T: EventError, Msg: msg} }

func UploadEvent(key string, rowCount int, columns []string, alreadyExists bool) Event {
	return Event{
		T:             EventUpload,
		UploadKey:     key,
		RowCount:      rowCount,
		Columns:       columns,
		AlreadyExists: &alreadyExists,
	}
}

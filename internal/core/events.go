package core

// Stream event names, in the order a turn emits them.
const (
	EventMeta          = "meta"
	EventStep          = "step"
	EventResponseChunk = "response_chunk"
	EventResponse      = "response"
	EventDone          = "done"
	EventError         = "error"
)

// Sink receives the events of one turn. A nil Sink discards them.
type Sink interface {
	Send(event string, payload any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event string, payload any) error

func (f SinkFunc) Send(event string, payload any) error { return f(event, payload) }

// State is a step of the turn state machine.
type State string

const (
	StateInit          State = "init"
	StateClassify      State = "classify"
	StateSmallTalk     State = "smalltalk"
	StateArticle       State = "article"
	StateAugmentedChat State = "augmented_chat"
	StateProviding     State = "providing"
	StateSaving        State = "saving"
	StateDone          State = "done"
	StateError         State = "error"
)

type MetaPayload struct {
	Format string `json:"format"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

type ContentPayload struct {
	Content string `json:"content"`
}

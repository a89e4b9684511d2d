package client

// PromptMessage is a websocket event translated for a single queued prompt.
//
// our cast of characters:
// started
// executing
// progress
// data
// stopped
type PromptMessage struct {
	Type    string
	Message interface{}
}

type PromptMessageStarted struct {
	PromptID string `json:"prompt_id"`
}

func (p *PromptMessage) ToPromptMessageStarted() *PromptMessageStarted {
	return p.Message.(*PromptMessageStarted)
}

type PromptMessageExecuting struct {
	NodeID string
	Title  string
}

func (p *PromptMessage) ToPromptMessageExecuting() *PromptMessageExecuting {
	return p.Message.(*PromptMessageExecuting)
}

type PromptMessageProgress struct {
	NodeID string
	Max    int
	Value  int
}

func (p *PromptMessage) ToPromptMessageProgress() *PromptMessageProgress {
	return p.Message.(*PromptMessageProgress)
}

type PromptMessageData struct {
	NodeID string
	Data   map[string][]DataOutput
}

func (p *PromptMessage) ToPromptMessageData() *PromptMessageData {
	return p.Message.(*PromptMessageData)
}

// PromptMessageStopped is always the last message for a prompt.
// Exception is nil unless execution failed.
type PromptMessageStopped struct {
	PromptID    string
	Interrupted bool
	Exception   *PromptMessageStoppedException
}

type PromptMessageStoppedException struct {
	NodeID           string
	NodeType         string
	NodeName         string
	ExceptionMessage string
	ExceptionType    string
	Traceback        []string
}

func (p *PromptMessage) ToPromptMessageStopped() *PromptMessageStopped {
	return p.Message.(*PromptMessageStopped)
}

// jobError converts a failed stop into the error returned to callers
func (s *PromptMessageStopped) jobError() error {
	switch {
	case s.Exception != nil:
		return &JobError{
			PromptID:      s.PromptID,
			NodeID:        s.Exception.NodeID,
			NodeType:      s.Exception.NodeType,
			ExceptionType: s.Exception.ExceptionType,
			Message:       s.Exception.ExceptionMessage,
		}
	case s.Interrupted:
		return &JobError{PromptID: s.PromptID, Message: "execution interrupted"}
	}
	return nil
}

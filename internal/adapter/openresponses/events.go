package openresponses

// Stream event types emitted by the OpenResponses API. Unknown types are
// ignored by consumers for forward compatibility.
const (
	EventOutputTextDelta = "response.output_text.delta"
	EventOutputTextDone  = "response.output_text.done"
	EventCompleted       = "response.completed"
	EventFailed          = "response.failed"
)

// DoneSentinel is the literal end-of-stream marker. It carries no business
// meaning beyond closing the stream.
const DoneSentinel = "[DONE]"

// Event is one decoded JSON frame from the stream. Only the fields relevant
// to the frame's type are populated.
type Event struct {
	Type     string       `json:"type"`
	Delta    string       `json:"delta,omitempty"`
	Text     string       `json:"text,omitempty"`
	Response *Response    `json:"response,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`
}

// Response is the nested final-response object of a response.completed event.
type Response struct {
	Output []OutputItem `json:"output"`
}

// OutputItem is one entry of the response output array.
type OutputItem struct {
	Type    string        `json:"type"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one part of a message item's content.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ErrorDetail carries the failure description of a response.failed event.
type ErrorDetail struct {
	Message string `json:"message"`
}

// OutputText concatenates all output_text parts of all message items.
func (r *Response) OutputText() string {
	if r == nil {
		return ""
	}
	var out string
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				out += part.Text
			}
		}
	}
	return out
}

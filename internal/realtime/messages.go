package realtime

import "encoding/json"

// ClientMessage is one outbound typed message to the remote session.
type ClientMessage interface {
	messageType() string
}

// AppendAudio streams one base64-encoded PCM chunk into the session's
// input buffer.
type AppendAudio struct {
	Audio string `json:"audio"`
}

func (AppendAudio) messageType() string { return "input_audio_buffer.append" }

// CreateResponse asks the model to produce its next response.
type CreateResponse struct{}

func (CreateResponse) messageType() string { return "response.create" }

// ContentPart is one element of a conversation item's content.
type ContentPart struct {
	Type  string `json:"type"` // input_text or input_image
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"` // base64 PNG
}

// Item is the payload of a conversation.item.create message.
type Item struct {
	Type    string        `json:"type"` // message or function_call_output
	Role    string        `json:"role,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

// CreateConversationItem inserts an item into the remote conversation.
type CreateConversationItem struct {
	Item Item `json:"item"`
}

func (CreateConversationItem) messageType() string { return "conversation.item.create" }

// NewFunctionCallOutput builds the structured result message for a
// completed tool call, correlated by the call ID the session issued.
func NewFunctionCallOutput(callID, output string) CreateConversationItem {
	return CreateConversationItem{Item: Item{
		Type:   "function_call_output",
		CallID: callID,
		Output: output,
	}}
}

// NewUserImageItem inserts a user message carrying a base64 PNG, used to
// hand screenshots to the model.
func NewUserImageItem(imageB64 string) CreateConversationItem {
	return CreateConversationItem{Item: Item{
		Type: "message",
		Role: "user",
		Content: []ContentPart{
			{Type: "input_image", Image: imageB64},
		},
	}}
}

// MarshalClientMessage encodes a message with its type tag injected.
func MarshalClientMessage(m ClientMessage) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	typeTag, _ := json.Marshal(m.messageType())
	fields["type"] = typeTag
	return json.Marshal(fields)
}

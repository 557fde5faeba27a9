package whatsapp

// WebhookPayload is the top-level structure Meta posts for WhatsApp Business
// accounts.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one notification. Field is "messages" for chat traffic.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries inbound messages and delivery statuses.
type Value struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []Contact        `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []StatusUpdate   `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is a customer message. Only the body matching Type is set.
type InboundMessage struct {
	From        string          `json:"from"`
	ID          string          `json:"id"`
	Timestamp   string          `json:"timestamp"`
	Type        string          `json:"type"`
	Text        *TextBody       `json:"text,omitempty"`
	Interactive *Interactive    `json:"interactive,omitempty"`
	Button      *TemplateButton `json:"button,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

// Interactive is the reply to an interactive message.
type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *Reply `json:"button_reply,omitempty"`
	ListReply   *Reply `json:"list_reply,omitempty"`
}

type Reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// TemplateButton is a quick-reply tap on a template message.
type TemplateButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// StatusUpdate is a delivery receipt for an outbound message.
type StatusUpdate struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Timestamp   string     `json:"timestamp"`
	RecipientID string     `json:"recipient_id"`
	Errors      []APIError `json:"errors,omitempty"`
}

// SendRequest is the Cloud API message body.
type SendRequest struct {
	MessagingProduct string               `json:"messaging_product"`
	RecipientType    string               `json:"recipient_type,omitempty"`
	To               string               `json:"to"`
	Type             string               `json:"type"`
	Text             *SendText            `json:"text,omitempty"`
	Interactive      *InteractiveOutbound `json:"interactive,omitempty"`
}

type SendText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type InteractiveOutbound struct {
	Type   string            `json:"type"`
	Body   TextBody          `json:"body"`
	Action InteractiveAction `json:"action"`
}

type InteractiveAction struct {
	Buttons []ReplyButton `json:"buttons"`
}

type ReplyButton struct {
	Type  string `json:"type"`
	Reply Reply  `json:"reply"`
}

// SendResponse is the Cloud API answer to a send.
type SendResponse struct {
	Contacts []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *APIError `json:"error,omitempty"`
}

// APIError is an error object returned by the Graph API.
type APIError struct {
	Message   string `json:"message"`
	Type      string `json:"type,omitempty"`
	Code      int    `json:"code"`
	Title     string `json:"title,omitempty"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

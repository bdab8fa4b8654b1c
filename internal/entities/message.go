package entities

// IncomingMessage is a channel message delivered by the Events API.
type IncomingMessage struct {
	Channel string
	User    string
	BotID   string
	Text    string
	TS      string
	SubType string // e.g. "message_changed", "bot_message"
}

// DecisionEvent is a Correct / Not correct click on a delivery prompt.
type DecisionEvent struct {
	ActionID    string
	ChannelID   string
	MessageTS   string
	TriggerID   string
	UserID      string
	MessageText string     // text of the prompt that was clicked
	DeliveryID  DeliveryID // button value; empty for prompts posted without one
}

// ApprovalSubmission carries the values of a submitted approval modal.
type ApprovalSubmission struct {
	DeliveryID DeliveryID // modal private metadata
	Notes      string
	Location   string
	Channel    string
	UserID     string
}

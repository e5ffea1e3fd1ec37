package domain

// ActionKind is the fixed vocabulary returned by the interpreter.
type ActionKind string

const (
	ActionScroll   ActionKind = "scroll"
	ActionOpen     ActionKind = "open"
	ActionSearch   ActionKind = "search"
	ActionBackward ActionKind = "backward"
	ActionForward  ActionKind = "forward"
	ActionRefresh  ActionKind = "refresh"
	ActionClose    ActionKind = "close"
	ActionZoom     ActionKind = "zoom"
	ActionReset    ActionKind = "reset"
	ActionClick    ActionKind = "click"
	ActionNone     ActionKind = "none"
)

const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionIn   = "in"
	DirectionOut  = "out"
)

// Action is a normalized interpreted action. Only the field that belongs to
// Kind is populated: Direction for scroll/zoom, URL for open, Query for search.
type Action struct {
	Kind      ActionKind `json:"action"`
	Direction string     `json:"direction,omitempty"`
	URL       string     `json:"url,omitempty"`
	Query     string     `json:"query,omitempty"`
}

// MessageType tags a cross-context message.
type MessageType string

const (
	MessageScroll       MessageType = "SCROLL_PAGE"
	MessageNavigateTo   MessageType = "NAVIGATE_TO_URL"
	MessageSearch       MessageType = "SEARCH"
	MessageNavigateBack MessageType = "NAVIGATE_BACK"
	MessageNavigateFwd  MessageType = "NAVIGATE_FORWARD"
	MessageReload       MessageType = "RELOAD"
	MessageCloseTab     MessageType = "CLOSE_TAB"
	MessageZoom         MessageType = "ZOOM"
	MessageZoomReset    MessageType = "ZOOM_RESET"
	MessageClickHovered MessageType = "CLICK_HOVERED"
	MessageStatus       MessageType = "SESSION_STATUS"

	MessageVoiceCommand   MessageType = "VOICE_COMMAND"
	MessageStartListening MessageType = "START_LISTENING"
	MessageStopListening  MessageType = "STOP_LISTENING"

	// MessageTabActivated marks the sending context as the default relay target.
	MessageTabActivated MessageType = "TAB_ACTIVATED"
)

// Message is the payload delivered between execution contexts.
type Message struct {
	Type      MessageType `json:"type"`
	Direction string      `json:"direction,omitempty"`
	URL       string      `json:"url,omitempty"`
	Query     string      `json:"query,omitempty"`
	Command   string      `json:"command,omitempty"`
	Status    *Status     `json:"status,omitempty"`
}

var actionMessages = map[ActionKind]MessageType{
	ActionScroll:   MessageScroll,
	ActionOpen:     MessageNavigateTo,
	ActionSearch:   MessageSearch,
	ActionBackward: MessageNavigateBack,
	ActionForward:  MessageNavigateFwd,
	ActionRefresh:  MessageReload,
	ActionClose:    MessageCloseTab,
	ActionZoom:     MessageZoom,
	ActionReset:    MessageZoomReset,
	ActionClick:    MessageClickHovered,
}

// MessageForAction converts an action into its cross-context message.
func MessageForAction(action Action) (Message, bool) {
	msgType, ok := actionMessages[action.Kind]
	if !ok {
		return Message{}, false
	}
	return Message{
		Type:      msgType,
		Direction: action.Direction,
		URL:       action.URL,
		Query:     action.Query,
	}, true
}

// ActionForMessage is the inverse of MessageForAction.
func ActionForMessage(msg Message) (Action, bool) {
	for kind, msgType := range actionMessages {
		if msgType == msg.Type {
			return Action{Kind: kind, Direction: msg.Direction, URL: msg.URL, Query: msg.Query}, true
		}
	}
	return Action{}, false
}

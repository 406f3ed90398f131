package browser

// Selectors contains the CSS selectors the WhatsApp Web driver relies on.
// The web client changes its markup often; every field can be overridden
// from configuration.
type Selectors struct {
	QRCode             string // element carrying the pairing payload in data-ref
	ChatList           string // visible once logged in
	UnreadChat         string // chat rows with an unread badge
	IncomingRow        string // incoming message rows inside the open chat
	MessageText        string // text span within a message row
	ComposeBox         string // message input of the open chat
	ConversationHeader string // title of the open chat
}

// DefaultSelectors returns the selectors known to work with the current web client.
func DefaultSelectors() Selectors {
	return Selectors{
		QRCode:             "div[data-ref]",
		ChatList:           "#pane-side",
		UnreadChat:         "#pane-side div[role='listitem']:has(span[aria-label*='unread'])",
		IncomingRow:        "#main div.message-in",
		MessageText:        "span.selectable-text",
		ComposeBox:         "footer div[contenteditable='true']",
		ConversationHeader: "#main header span[dir='auto']",
	}
}

// Override returns a copy with the non-empty entries of m applied. Keys are
// the lower camel case field names (qrCode, chatList, ...).
func (s Selectors) Override(m map[string]string) Selectors {
	set := func(dst *string, key string) {
		if v, ok := m[key]; ok && v != "" {
			*dst = v
		}
	}
	set(&s.QRCode, "qrCode")
	set(&s.ChatList, "chatList")
	set(&s.UnreadChat, "unreadChat")
	set(&s.IncomingRow, "incomingRow")
	set(&s.MessageText, "messageText")
	set(&s.ComposeBox, "composeBox")
	set(&s.ConversationHeader, "conversationHeader")
	return s
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&s.QRCode, d.QRCode)
	fill(&s.ChatList, d.ChatList)
	fill(&s.UnreadChat, d.UnreadChat)
	fill(&s.IncomingRow, d.IncomingRow)
	fill(&s.MessageText, d.MessageText)
	fill(&s.ComposeBox, d.ComposeBox)
	fill(&s.ConversationHeader, d.ConversationHeader)
	return s
}

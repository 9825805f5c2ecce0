package registry

// Scraped conversation rows are objects shaped like
// {id, name, avatar, lastMessage, time, unread, type}; message rows like
// {id, text, time, outgoing, type, status, replyTo, attachments}.

const scrapeListTemplate = `
const sel = args.selectors;
const rows = Array.from(document.querySelectorAll(sel.conversationList));
return rows.map((row, i) => {
  const name = row.querySelector(sel.conversationName);
  const text = (q) => { const el = q && row.querySelector(q); return el ? el.textContent.trim() : ""; };
  return {
    id: row.getAttribute(args.idAttribute || "data-id") || (name ? name.textContent.trim() : String(i)),
    name: name ? name.textContent.trim() : "",
    avatar: (row.querySelector("img") || {}).src || "",
    lastMessage: text(args.previewSelector),
    time: text(args.timeSelector),
    unread: parseInt(text(args.unreadSelector) || "0", 10) || 0,
    type: row.querySelector(args.groupMarker || "[data-group]") ? "group" : "one_to_one",
  };
});`

const scrapeMessagesTemplate = `
const sel = args.selectors;
const nodes = Array.from(document.querySelectorAll(sel.messageContainer)).slice(-(args.limit || 50));
return nodes.map((node, i) => ({
  id: node.getAttribute(args.idAttribute || "data-id") || String(i),
  text: (node.querySelector(args.textSelector || "span") || node).textContent.trim(),
  time: node.getAttribute(args.timeAttribute || "data-time") || "",
  outgoing: args.outgoingClass ? node.classList.contains(args.outgoingClass) : false,
  type: node.querySelector("img") ? "image" : "text",
}));`

const fillInputSource = `
const input = document.querySelector(args.selectors.messageInput);
if (!input) throw new Error("message input not found");
input.focus();
if (input.isContentEditable) {
  document.execCommand("selectAll", false, null);
  document.execCommand("insertText", false, args.text);
} else {
  input.value = args.text;
  input.dispatchEvent(new Event("input", { bubbles: true }));
}
return true;`

const whatsappInit = `
window.localStorage.setItem("WALangPref", "\"en\"");
return true;`

// Catalog returns the built-in app definitions. enterchat is the only app
// active out of the box.
func Catalog() []AppConfig {
	return []AppConfig{
		{
			ID:          "enterchat",
			DisplayName: "EnterChat",
			Kind:        KindNative,
			PackageName: "com.enterchat.app",
			Profile: AutomationProfile{
				Nodes: map[Role]string{
					RoleConversationList: "com.enterchat.app:id/conversation_list",
					RoleConversationName: "com.enterchat.app:id/conversation_title",
					RoleMessageInput:     "com.enterchat.app:id/composer_input",
					RoleSendButton:       "com.enterchat.app:id/composer_send",
				},
			},
			Capabilities: Capabilities{
				SupportsText: true, SupportsMedia: true, SupportsFiles: true, SupportsReply: true,
				SupportsGroup: true, SupportsCalls: true, SupportsReadReceipts: true, SupportsTypingIndicator: true,
			},
			IsActive: true,
		},
		{
			ID:          "whatsapp",
			DisplayName: "WhatsApp",
			Kind:        KindWebview,
			WebEntryURL: "https://web.whatsapp.com/",
			Profile: AutomationProfile{
				Selectors: map[Role]string{
					RoleConversationList: "#pane-side div[role='listitem']",
					RoleConversationName: "span[dir='auto'][title]",
					RoleMessageInput:     "footer div[contenteditable='true']",
					RoleSendButton:       "footer button[aria-label='Send']",
					RoleMessageContainer: "#main div[role='row']",
					RoleAttachButton:     "footer div[title='Attach']",
					RoleSearchInput:      "#side div[contenteditable='true']",
				},
				ScrapeConversations: &Script{Name: "whatsapp.conversations", Source: scrapeListTemplate},
				ScrapeMessages:      &Script{Name: "whatsapp.messages", Source: scrapeMessagesTemplate},
				SendMessage:         &Script{Name: "whatsapp.fill", Source: fillInputSource},
				Init:                &Script{Name: "whatsapp.init", Source: whatsappInit},
				ReadySelector:       "#pane-side",
			},
			Capabilities: Capabilities{
				SupportsText: true, SupportsMedia: true, SupportsFiles: true, SupportsReply: true,
				SupportsGroup: true, SupportsReadReceipts: true,
			},
		},
		{
			ID:          "telegram",
			DisplayName: "Telegram",
			Kind:        KindWebview,
			WebEntryURL: "https://web.telegram.org/k/",
			Profile: AutomationProfile{
				Selectors: map[Role]string{
					RoleConversationList: ".chatlist a.chatlist-chat",
					RoleConversationName: ".peer-title",
					RoleMessageInput:     ".input-message-input[contenteditable='true']",
					RoleSendButton:       "button.btn-send",
					RoleMessageContainer: ".bubbles-inner .bubble",
					RoleAttachButton:     ".attach-file",
				},
				ScrapeConversations: &Script{Name: "telegram.conversations", Source: scrapeListTemplate},
				ScrapeMessages:      &Script{Name: "telegram.messages", Source: scrapeMessagesTemplate},
				SendMessage:         &Script{Name: "telegram.fill", Source: fillInputSource},
				ReadySelector:       ".chatlist",
			},
			Capabilities: Capabilities{
				SupportsText: true, SupportsMedia: true, SupportsFiles: true, SupportsReply: true,
				SupportsGroup: true, SupportsReadReceipts: true, SupportsTypingIndicator: true,
			},
		},
		{
			ID:          "discord",
			DisplayName: "Discord",
			Kind:        KindWebview,
			WebEntryURL: "https://discord.com/channels/@me",
			Profile: AutomationProfile{
				Selectors: map[Role]string{
					RoleConversationList: "nav[aria-label='Direct Messages'] li[role='listitem']",
					RoleConversationName: "div[class*='name']",
					RoleMessageInput:     "div[role='textbox']",
					RoleSendButton:       "div[role='textbox']",
					RoleMessageContainer: "ol[data-list-id='chat-messages'] > li",
				},
				ScrapeConversations: &Script{Name: "discord.conversations", Source: scrapeListTemplate},
				ScrapeMessages:      &Script{Name: "discord.messages", Source: scrapeMessagesTemplate},
				SendMessage:         &Script{Name: "discord.fill", Source: fillInputSource},
			},
			Capabilities: Capabilities{
				SupportsText: true, SupportsMedia: true, SupportsReply: true, SupportsGroup: true,
				SupportsCalls: true, SupportsTypingIndicator: true,
			},
		},
		{
			ID:          "messenger",
			DisplayName: "Messenger",
			Kind:        KindWebview,
			WebEntryURL: "https://www.messenger.com/",
			Profile: AutomationProfile{
				Selectors: map[Role]string{
					RoleConversationList: "div[role='navigation'] a[role='link'][href*='/t/']",
					RoleConversationName: "span[dir='auto']",
					RoleMessageInput:     "div[role='textbox'][contenteditable='true']",
					RoleSendButton:       "div[aria-label='Press enter to send']",
					RoleMessageContainer: "div[role='row']",
				},
				ScrapeConversations: &Script{Name: "messenger.conversations", Source: scrapeListTemplate},
				ScrapeMessages:      &Script{Name: "messenger.messages", Source: scrapeMessagesTemplate},
			},
			Capabilities: Capabilities{SupportsText: true, SupportsMedia: true, SupportsGroup: true},
		},
		{
			ID:          "signal",
			DisplayName: "Signal",
			Kind:        KindNative,
			PackageName: "org.thoughtcrime.securesms",
			Profile: AutomationProfile{
				Nodes: map[Role]string{
					RoleConversationList: "org.thoughtcrime.securesms:id/list",
					RoleConversationName: "org.thoughtcrime.securesms:id/conversation_list_item_name",
					RoleMessageInput:     "org.thoughtcrime.securesms:id/embedded_text_editor",
					RoleSendButton:       "org.thoughtcrime.securesms:id/send_button",
				},
			},
			Capabilities: Capabilities{
				SupportsText: true, SupportsMedia: true, SupportsFiles: true, SupportsReply: true,
				SupportsGroup: true, SupportsReadReceipts: true,
			},
		},
		{
			ID:          "instagram",
			DisplayName: "Instagram",
			Kind:        KindNative,
			PackageName: "com.instagram.android",
			Profile: AutomationProfile{
				Nodes: map[Role]string{
					RoleConversationList: "com.instagram.android:id/inbox_refreshable_thread_list_recyclerview",
					RoleConversationName: "com.instagram.android:id/row_inbox_username",
					RoleMessageInput:     "com.instagram.android:id/row_thread_composer_edittext",
					RoleSendButton:       "com.instagram.android:id/row_thread_composer_send_button_container",
				},
			},
			Capabilities: Capabilities{SupportsText: true, SupportsMedia: true, SupportsGroup: true},
		},
		{
			ID:          "whatsapp-linked",
			DisplayName: "WhatsApp (linked device)",
			Kind:        KindProtocol,
			Capabilities: Capabilities{
				SupportsText: true, SupportsGroup: true, SupportsReadReceipts: true,
			},
		},
	}
}

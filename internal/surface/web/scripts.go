package web

import "github.com/matheus3301/enterchat/internal/registry"

var (
	snapshotScript = &registry.Script{Name: "session.snapshot", Source: `
const out = {};
for (let i = 0; i < localStorage.length; i++) {
  const k = localStorage.key(i);
  out[k] = localStorage.getItem(k);
}
return out;`}

	restoreScript = &registry.Script{Name: "session.restore", Source: `
if (localStorage.length > 0) return 0;
let n = 0;
for (const [k, v] of Object.entries(args.storage || {})) {
  localStorage.setItem(k, v);
  n++;
}
return n;`}

	fillScript = &registry.Script{Name: "send.fill", Source: `
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
return true;`}

	attachScript = &registry.Script{Name: "send.attach", Source: `
const btn = document.querySelector(args.selectors.attachButton);
if (!btn) throw new Error("attach button not found");
btn.click();
await new Promise((r) => setTimeout(r, 300));
return !!document.querySelector("input[type='file']");`}

	clickSendScript = &registry.Script{Name: "send.click", Source: `
const sel = args.selectors;
const btn = document.querySelector(sel.sendButton);
if (!btn) throw new Error("send button not found");
if (sel.sendButton === sel.messageInput) {
  const opts = { key: "Enter", code: "Enter", keyCode: 13, which: 13, bubbles: true };
  btn.dispatchEvent(new KeyboardEvent("keydown", opts));
  btn.dispatchEvent(new KeyboardEvent("keyup", opts));
} else {
  btn.click();
}
return true;`}

	clickByNameScript = &registry.Script{Name: "open.click", Source: `
const sel = args.selectors;
const rows = Array.from(document.querySelectorAll(sel.conversationList));
const label = (row) => {
  const n = sel.conversationName ? row.querySelector(sel.conversationName) : null;
  return ((n || row).textContent || "").trim().toLowerCase();
};
const want = (args.name || "").trim().toLowerCase();
const match = rows.find((r) => want && label(r) === want)
  || rows.find((r) => r.getAttribute("data-id") === args.id);
if (!match) throw new Error("conversation not in list: " + (args.name || args.id));
const target = match.querySelector("a, [role='button'], [tabindex]") || match;
for (const type of ["mousedown", "mouseup", "click"]) {
  target.dispatchEvent(new MouseEvent(type, { bubbles: true, cancelable: true, view: window }));
}
await new Promise((r) => setTimeout(r, 500));
return true;`}

	searchOpenScript = &registry.Script{Name: "open.search", Source: `
const sel = args.selectors;
const box = document.querySelector(sel.searchInput);
if (!box) throw new Error("search input not found");
box.focus();
document.execCommand("selectAll", false, null);
document.execCommand("insertText", false, args.name || args.id);
await new Promise((r) => setTimeout(r, 1200));
const rows = Array.from(document.querySelectorAll(sel.conversationList));
if (rows.length === 0) throw new Error("no search results for " + (args.name || args.id));
const target = rows[0].querySelector("[role='button'], [tabindex]") || rows[0];
for (const type of ["mousedown", "mouseup", "click"]) {
  target.dispatchEvent(new MouseEvent(type, { bubbles: true, cancelable: true, view: window }));
}
await new Promise((r) => setTimeout(r, 500));
return true;`}

	hashOpenScript = &registry.Script{Name: "open.hash", Source: `
location.hash = "#" + args.id;
await new Promise((r) => setTimeout(r, 800));
if (args.selectors.messageInput && !document.querySelector(args.selectors.messageInput)) {
  throw new Error("conversation did not open: " + args.id);
}
return true;`}
)

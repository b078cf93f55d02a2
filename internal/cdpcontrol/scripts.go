package cdpcontrol

// Fixed page functions. Callers pass data only as call arguments or JSON
// string literals; no caller-supplied code ever reaches the page.

const exprVisibilityState = `document.visibilityState`

const exprLocation = `({url: location.href, title: document.title, ready: document.readyState})`

const fnVisible = `function() {
  if (!this.isConnected) return false;
  const r = this.getBoundingClientRect();
  if (r.width === 0 || r.height === 0) return false;
  const win = this.ownerDocument.defaultView || window;
  const own = win.getComputedStyle(this);
  if (own.visibility === 'hidden' || own.visibility === 'collapse') return false;
  for (let n = this; n && n.nodeType === 1; n = n.parentElement || (n.parentNode && n.parentNode.host) || null) {
    const s = (n.ownerDocument.defaultView || window).getComputedStyle(n);
    if (s.display === 'none') return false;
    if (parseFloat(s.opacity) === 0) return false;
  }
  return true;
}`

const fnValue = `function() {
  return this.value == null ? '' : String(this.value);
}`

const fnProperty = `function(name) {
  const v = this[name];
  if (v === undefined || typeof v === 'function') return null;
  if (v !== null && typeof v === 'object') {
    return Array.isArray(v) ? v.map(String) : String(v);
  }
  return v;
}`

const fnClick = `function() {
  const win = this.ownerDocument.defaultView || window;
  const r = this.getBoundingClientRect();
  const x = r.left + r.width / 2, y = r.top + r.height / 2;
  const mouse = {bubbles: true, cancelable: true, composed: true, view: win, clientX: x, clientY: y, button: 0};
  const pointer = Object.assign({pointerId: 1, pointerType: 'mouse', isPrimary: true}, mouse);
  const Pointer = win.PointerEvent || win.MouseEvent;
  this.dispatchEvent(new Pointer('pointerover', pointer));
  this.dispatchEvent(new win.MouseEvent('mouseover', mouse));
  this.dispatchEvent(new Pointer('pointermove', pointer));
  this.dispatchEvent(new win.MouseEvent('mousemove', mouse));
  this.dispatchEvent(new Pointer('pointerdown', Object.assign({buttons: 1}, pointer)));
  this.dispatchEvent(new win.MouseEvent('mousedown', Object.assign({buttons: 1}, mouse)));
  if (typeof this.focus === 'function') this.focus();
  this.dispatchEvent(new Pointer('pointerup', pointer));
  this.dispatchEvent(new win.MouseEvent('mouseup', mouse));
  if (typeof this.click === 'function') this.click();
  else this.dispatchEvent(new win.MouseEvent('click', mouse));
  return true;
}`

const fnSetValue = `function(text, clear) {
  const win = this.ownerDocument.defaultView || window;
  if (typeof this.focus === 'function') this.focus();
  let desc;
  for (let p = Object.getPrototypeOf(this); p && !desc; p = Object.getPrototypeOf(p)) {
    desc = Object.getOwnPropertyDescriptor(p, 'value');
  }
  const next = clear ? text : String(this.value || '') + text;
  if (desc && desc.set) desc.set.call(this, next);
  else this.value = next;
  this.dispatchEvent(new win.InputEvent('input', {bubbles: true, composed: true, inputType: 'insertText', data: text}));
  this.dispatchEvent(new win.Event('change', {bubbles: true}));
  return String(this.value);
}`

// fnInsertContent reports whether the editing command inserted the text; the
// element is left focused so a fallback insertion lands in it.
const fnInsertContent = `function(text, clear) {
  const doc = this.ownerDocument;
  this.focus();
  const sel = doc.getSelection();
  const range = doc.createRange();
  range.selectNodeContents(this);
  if (!clear) range.collapse(false);
  sel.removeAllRanges();
  sel.addRange(range);
  if (clear) doc.execCommand('delete', false);
  if (text === '') return true;
  return doc.execCommand('insertText', false, text);
}`

const fnSelectIndex = `function(i) {
  if (!this.options || i < 0 || i >= this.options.length) return false;
  const win = this.ownerDocument.defaultView || window;
  this.selectedIndex = i;
  this.dispatchEvent(new win.Event('input', {bubbles: true}));
  this.dispatchEvent(new win.Event('change', {bubbles: true}));
  return true;
}`

const fnScrollIntoView = `function() {
  this.scrollIntoView({block: 'center', inline: 'center'});
  return true;
}`

const exprScrollBy = `(() => { window.scrollBy(%d, %d); return [window.scrollX, window.scrollY]; })()`

// exprPseudoContent collects string ::before/::after content across the
// document, open shadow roots and same-origin frames.
const exprPseudoContent = `(() => {
  const out = [];
  const walk = (root, depth) => {
    if (depth > 6 || out.length >= 500) return;
    const win = (root.ownerDocument || root).defaultView || window;
    for (const el of root.querySelectorAll('*')) {
      for (const pseudo of ['::before', '::after']) {
        const c = win.getComputedStyle(el, pseudo).content;
        if (!c || c === 'none' || c === 'normal') continue;
        const m = c.match(/^"([\s\S]*)"$/);
        const t = m ? m[1].trim() : '';
        if (t) out.push(t);
      }
      if (el.shadowRoot) walk(el.shadowRoot, depth + 1);
      if (el.tagName === 'IFRAME') {
        try { if (el.contentDocument) walk(el.contentDocument, depth + 1); } catch (e) {}
      }
    }
  };
  walk(document, 0);
  return out;
})()`

const exprStartDownload = `(() => {
  const a = document.createElement('a');
  a.href = %s;
  a.download = '';
  a.rel = 'noopener';
  (document.body || document.documentElement).appendChild(a);
  a.click();
  a.remove();
  return true;
})()`

package browser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// markerAttr is set on an element located by script so that native input
// events (which need a selector) can address exactly that element.
const markerAttr = "data-goverify-target"

// jsLocate is prepended to every page function. It returns the elements
// matching selector, optionally narrowed by a case-insensitive text filter.
const jsLocate = `
const __locate = (selector, hasText) => {
	let els = Array.from(document.querySelectorAll(selector));
	if (hasText) {
		const t = hasText.toLowerCase();
		els = els.filter(e => (e.textContent || '').toLowerCase().includes(t));
	}
	return els;
};
const __visible = (el) => {
	if (!el.isConnected) return false;
	const style = window.getComputedStyle(el);
	if (style.visibility === 'hidden' || style.display === 'none') return false;
	const r = el.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
};
`

// Page functions. Each takes the selector and the text filter as its first two
// arguments.
var (
	jsState = pageFunction(`(selector, hasText, state) => {
	const els = __locate(selector, hasText);
	if (state === 'attached') return els.length > 0;
	return els.some(__visible);
}`)

	jsCount = pageFunction(`(selector, hasText) => __locate(selector, hasText).length`)

	jsAttribute = pageFunction(`(selector, hasText, name) => {
	const els = __locate(selector, hasText);
	if (els.length === 0) return {found: false, present: false, value: ''};
	const el = els[0];
	return {found: true, present: el.hasAttribute(name), value: el.getAttribute(name) || ''};
}`)

	// jsMark tags the first matching element, the first visible one if
	// requireVisible is set, with the marker attribute.
	jsMark = pageFunction(`(selector, hasText, token, requireVisible) => {
	let els = __locate(selector, hasText);
	if (requireVisible) els = els.filter(__visible);
	if (els.length === 0) return false;
	els[0].setAttribute('` + markerAttr + `', token);
	return true;
}`)

	jsForceClick = pageFunction(`(token) => {
	const el = document.querySelector('[` + markerAttr + `="' + token + '"]');
	if (!el) return false;
	el.click();
	return true;
}`)

	jsFocus = pageFunction(`(token) => {
	const el = document.querySelector('[` + markerAttr + `="' + token + '"]');
	if (!el) return false;
	el.focus();
	return document.activeElement === el;
}`)
)

// pageFunction wraps body so that it can see the locator helpers. The result
// is a function expression.
func pageFunction(body string) string {
	return "function(...args) {" + jsLocate + "return (" + body + ")(...args);\n}"
}

// jsCall renders a call of the page function fn with JSON encoded args.
func jsCall(fn string, args ...any) string {
	encoded := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			// args are strings and booleans only
			panic(fmt.Sprintf("cannot encode page function argument %v: %v", a, err))
		}
		encoded = append(encoded, string(b))
	}
	return fmt.Sprintf("(%s)(%s)", fn, strings.Join(encoded, ", "))
}

func markerSelector(token string) string {
	return fmt.Sprintf("[%s=%q]", markerAttr, token)
}

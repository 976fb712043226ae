package webform

import (
	"encoding/json"
	"fmt"
	"strings"
)

// submitSelectors are tried in order before falling back to text matching.
var submitSelectors = []string{
	`button[type="submit"]`,
	`input[type="submit"]`,
	`div[role="button"]`,
}

// submitWords match the visible label of a submit control, lowercased.
var submitWords = []string{"enviar", "submit", "send"}

// confirmationPhrases indicate the form accepted the submission. The first
// two are the phrases Google Forms renders; the rest cover generic sites.
var confirmationPhrases = []string{
	"tu respuesta se ha registrado",
	"your response has been recorded",
	"gracias",
	"thank you",
	"enviado",
	"submitted",
}

// confirmationFound reports whether the page text contains any known
// confirmation phrase.
func confirmationFound(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range confirmationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// fillFieldsScript returns JS that fills the first two free-text inputs with
// the collaborator name and the comments, firing input events so frameworks
// that track state pick the values up.
func fillFieldsScript(name, comments string) string {
	nameJSON, _ := json.Marshal(name)
	commentsJSON, _ := json.Marshal(comments)
	return fmt.Sprintf(`(() => {
	const values = [%s, %s];
	const fields = Array.from(document.querySelectorAll(
		'input[type="text"], input:not([type]), textarea'));
	let filled = 0;
	for (const field of fields) {
		if (filled >= values.length) break;
		if (field.offsetParent === null) continue;
		field.focus();
		field.value = values[filled];
		field.dispatchEvent(new Event('input', {bubbles: true}));
		field.dispatchEvent(new Event('change', {bubbles: true}));
		filled++;
	}
	return filled;
})()`, nameJSON, commentsJSON)
}

// clickSubmitScript returns JS that clicks the first visible submit control,
// trying known selectors first and label text second. Evaluates to true when
// something was clicked.
func clickSubmitScript() string {
	selectorsJSON, _ := json.Marshal(submitSelectors)
	wordsJSON, _ := json.Marshal(submitWords)
	return fmt.Sprintf(`(() => {
	const visible = (el) => el && el.offsetParent !== null;
	for (const sel of %s) {
		const el = document.querySelector(sel);
		if (visible(el)) { el.click(); return true; }
	}
	const words = %s;
	const candidates = Array.from(
		document.querySelectorAll('button, div[role="button"], span[role="button"]'));
	for (const el of candidates) {
		if (!visible(el)) continue;
		const label = (el.innerText || '').toLowerCase();
		if (words.some((w) => label.includes(w))) { el.click(); return true; }
	}
	return false;
})()`, string(selectorsJSON), string(wordsJSON))
}

// hasFileInputScript evaluates to true when the page carries a file input.
const hasFileInputScript = `document.querySelector('input[type="file"]') !== null`

// bodyTextScript evaluates to the full rendered page text.
const bodyTextScript = `document.body ? document.body.innerText : ''`

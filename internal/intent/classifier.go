package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	stopRegex  = regexp.MustCompile(`^(?:please\s+)?(stop|stopall|unsubscribe|cancel|end|quit)\b`)
	startRegex = regexp.MustCompile(`^(?:please\s+)?(start|unstop|subscribe|resume)\b`)
	helpRegex  = regexp.MustCompile(`^(?:please\s+)?(help|info)\b`)

	indexRegex    = regexp.MustCompile(`^(?:option|number|choice|#)?\s*#?(\d{1,2})\s*[.)]?$`)
	bookRegex     = regexp.MustCompile(`\b(book|booking|appointment|appt|schedule|scheduling)`)
	callbackRegex = regexp.MustCompile(`\b(call|callback|ring|phone)`)

	meridiemRegex = regexp.MustCompile(`\b(\d{1,2})(?::?(\d{2}))?\s*(a\.?m\.?|p\.?m\.?|a|p)(?:\b|$)`)
	clock24Regex  = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	atHourRegex   = regexp.MustCompile(`\bat\s+(\d{1,2})\b`)
)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
}

var ordinalWords = map[string]int{
	"first": 1, "1st": 1,
	"second": 2, "2nd": 2,
	"third": 3, "3rd": 3,
	"fourth": 4, "4th": 4,
	"fifth": 5, "5th": 5,
}

var affirmatives = map[string]struct{}{
	"yes": {}, "yeah": {}, "yea": {}, "ya": {}, "yep": {}, "yup": {}, "y": {}, "yess": {},
	"ok": {}, "okay": {}, "k": {}, "kk": {}, "sure": {}, "perfect": {}, "great": {},
	"confirm": {}, "confirmed": {}, "confirming": {}, "conform": {}, "comfirm": {},
	"confim": {}, "cofirm": {}, "confrim": {}, "confirmm": {}, "comfirmed": {},
}

var affirmativePhrases = []string{"sounds good", "that works", "works for me", "book it", "lock it in"}

var moreWords = map[string]struct{}{
	"more": {}, "other": {}, "others": {}, "different": {}, "another": {},
	"later": {}, "else": {}, "none": {}, "neither": {},
}

var negativeLeads = map[string]struct{}{"no": {}, "nope": {}, "nah": {}, "n": {}}

// dayAliases covers full names, abbreviations and the misspellings seen in
// real replies.
var dayAliases = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday, "sundy": time.Sunday, "sundays": time.Sunday,
	"mon": time.Monday, "monday": time.Monday, "mondy": time.Monday, "munday": time.Monday, "mondays": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tu": time.Tuesday, "tuesday": time.Tuesday,
	"tusday": time.Tuesday, "teusday": time.Tuesday, "tuseday": time.Tuesday, "tuesdays": time.Tuesday,
	"wed": time.Wednesday, "weds": time.Wednesday, "wednesday": time.Wednesday, "wendsday": time.Wednesday,
	"wensday": time.Wednesday, "wednsday": time.Wednesday, "wedensday": time.Wednesday, "wednesdays": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"thrusday": time.Thursday, "thursdy": time.Thursday, "thurdsay": time.Thursday, "thursdays": time.Thursday,
	"fri": time.Friday, "friday": time.Friday, "firday": time.Friday, "fryday": time.Friday, "fridays": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday, "saterday": time.Saturday, "saturdays": time.Saturday,
}

// Classify maps raw text to an Intent legal for the expectation. Opt-out,
// opt-in and help keywords are honored in every state.
func Classify(raw string, expect Expectation) Intent {
	text := normalize(raw)
	in := Intent{Type: FreeText, Text: raw}
	if text == "" {
		return in
	}

	switch {
	case stopRegex.MatchString(text):
		in.Type = OptOut
		return in
	case startRegex.MatchString(text):
		in.Type = OptIn
		return in
	case helpRegex.MatchString(text):
		in.Type = Help
		return in
	}

	switch expect.Kind {
	case KindInitialChoice:
		return classifyInitial(text, in)
	case KindConfirmation:
		return classifyConfirmation(text, in, expect.Offered)
	case KindSlotSelection:
		return classifySelection(text, in, expect.Offered)
	default:
		return in
	}
}

// Resolve picks the offered slot a Confirm or selection intent refers to:
// an exact day/time match first, then the positional number, then the only
// slot when just one was offered. The returned index is 1-based.
func Resolve(in Intent, offered []time.Time) (int, bool) {
	if len(offered) == 0 {
		return 0, false
	}
	if idx, ok := exactMatch(in, offered); ok {
		return idx, true
	}
	if in.Slot >= 1 && in.Slot <= len(offered) {
		return in.Slot, true
	}
	if len(offered) == 1 {
		return 1, true
	}
	return 0, false
}

func classifyInitial(text string, in Intent) Intent {
	if n, ok := indexOf(text); ok {
		switch n {
		case 1:
			in.Type = ChooseCallback
		case 2:
			in.Type = ChooseBook
		}
		return in
	}
	switch {
	case callbackRegex.MatchString(text):
		in.Type = ChooseCallback
	case bookRegex.MatchString(text):
		in.Type = ChooseBook
	}
	return in
}

func classifyConfirmation(text string, in Intent, offered []time.Time) Intent {
	if n, ok := indexOf(text); ok {
		switch n {
		case 1:
			in.Type = Confirm
		case 2:
			in.Type = RequestMore
		}
		return in
	}

	rest := extract(text, &in)
	tokens := tokenize(text)
	switch {
	case wantsMore(tokens):
		in.Type = RequestMore
	case callbackRegex.MatchString(text):
		in.Type = ChooseCallback
	case isAffirmative(text, tokens):
		in.Type = Confirm
		in.Slot = positional(rest)
	case in.HasDay || in.HasClock:
		if idx, ok := exactMatch(in, offered); ok {
			in.Type = Confirm
			in.Slot = idx
		}
	}
	return in
}

func classifySelection(text string, in Intent, offered []time.Time) Intent {
	n := len(offered)
	if k, ok := indexOf(text); ok {
		switch {
		case k >= 1 && k <= n:
			in.Type = SelectSlot
			in.Slot = k
		case k == n+1:
			in.Type = RequestMore
		default:
			// Out of index range: try it as a bare hour ("10" for 10:00).
			if k >= 1 && k <= 12 {
				in.Clock, in.HasClock = Clock{Hour: k}, true
			}
			if idx, ok := exactMatch(in, offered); ok {
				in.Type = SelectSlot
				in.Slot = idx
			} else {
				in.Type = Unresolved
			}
		}
		return in
	}

	tokens := tokenize(text)
	for _, tok := range tokens {
		if k, ok := ordinalWords[tok]; ok && k <= n {
			in.Type = SelectSlot
			in.Slot = k
			return in
		}
	}

	rest := extract(text, &in)
	switch {
	case wantsMore(tokens):
		in.Type = RequestMore
		return in
	case callbackRegex.MatchString(text):
		in.Type = ChooseCallback
		return in
	}

	if isAffirmative(text, tokens) || in.HasDay || in.HasClock {
		in.Slot = positional(rest)
		if idx, ok := Resolve(in, offered); ok {
			in.Type = SelectSlot
			in.Slot = idx
		} else {
			in.Type = Unresolved
		}
	}
	return in
}

func exactMatch(in Intent, offered []time.Time) (int, bool) {
	if !in.HasDay && !in.HasClock {
		return 0, false
	}
	found := 0
	for i, slot := range offered {
		if in.HasDay && slot.Weekday() != in.Day {
			continue
		}
		if in.HasClock && !in.Clock.Matches(slot) {
			continue
		}
		if found != 0 {
			return 0, false
		}
		found = i + 1
	}
	return found, found != 0
}

// extract pulls an optional weekday and time of day out of text into in and
// returns the text with the time expression removed.
func extract(text string, in *Intent) string {
	rest := text
	if m := meridiemRegex.FindStringSubmatchIndex(rest); m != nil {
		hour, _ := strconv.Atoi(rest[m[2]:m[3]])
		minute := 0
		if m[4] >= 0 {
			minute, _ = strconv.Atoi(rest[m[4]:m[5]])
		}
		pm := strings.HasPrefix(rest[m[6]:m[7]], "p")
		if hour >= 1 && hour <= 12 && minute < 60 {
			if pm && hour != 12 {
				hour += 12
			} else if !pm && hour == 12 {
				hour = 0
			}
			in.Clock, in.HasClock = Clock{Hour: hour, Minute: minute, Exact: true}, true
			rest = rest[:m[0]] + " " + rest[m[1]:]
		}
	}
	if !in.HasClock {
		if m := clock24Regex.FindStringSubmatchIndex(rest); m != nil {
			hour, _ := strconv.Atoi(rest[m[2]:m[3]])
			minute, _ := strconv.Atoi(rest[m[4]:m[5]])
			in.Clock = Clock{Hour: hour, Minute: minute, Exact: hour == 0 || hour > 12}
			in.HasClock = true
			rest = rest[:m[0]] + " " + rest[m[1]:]
		}
	}
	if !in.HasClock {
		if m := atHourRegex.FindStringSubmatchIndex(rest); m != nil {
			hour, _ := strconv.Atoi(rest[m[2]:m[3]])
			if hour >= 1 && hour <= 12 {
				in.Clock, in.HasClock = Clock{Hour: hour}, true
				rest = rest[:m[0]] + " " + rest[m[1]:]
			}
		}
	}

	tokens := tokenize(rest)
	if !in.HasClock {
		for _, tok := range tokens {
			if tok == "noon" {
				in.Clock, in.HasClock = Clock{Hour: 12, Exact: true}, true
				break
			}
		}
	}
	for _, tok := range tokens {
		if wd, ok := dayAliases[tok]; ok {
			in.Day, in.HasDay = wd, true
			break
		}
	}

	// "wed 9": with a day present a lone small number is an hour, not an index.
	if in.HasDay && !in.HasClock {
		kept := tokens[:0:0]
		for _, tok := range tokens {
			if h, err := strconv.Atoi(tok); err == nil && !in.HasClock && h >= 1 && h <= 12 {
				in.Clock, in.HasClock = Clock{Hour: h}, true
				continue
			}
			kept = append(kept, tok)
		}
		rest = strings.Join(kept, " ")
	}
	return rest
}

// positional returns a lone slot number left in text, or 0.
func positional(text string) int {
	found := 0
	for _, tok := range tokenize(text) {
		n, err := strconv.Atoi(tok)
		if err != nil {
			if k, ok := numberWords[tok]; ok {
				n = k
			} else {
				continue
			}
		}
		if n < 1 || n > 9 || found != 0 {
			return 0
		}
		found = n
	}
	return found
}

func indexOf(text string) (int, bool) {
	if m := indexRegex.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		return n, err == nil
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(text, "option "), "number ")
	if n, ok := numberWords[trimmed]; ok {
		return n, true
	}
	return 0, false
}

func isAffirmative(text string, tokens []string) bool {
	for _, tok := range tokens {
		if _, ok := affirmatives[tok]; ok {
			return true
		}
	}
	for _, phrase := range affirmativePhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

func wantsMore(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	if _, ok := negativeLeads[tokens[0]]; ok {
		return true
	}
	for _, tok := range tokens {
		if _, ok := moreWords[tok]; ok {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(raw string) string {
	text := strings.ToLower(strings.TrimSpace(raw))
	text = strings.TrimRight(text, "!?., ")
	return strings.Join(strings.Fields(text), " ")
}

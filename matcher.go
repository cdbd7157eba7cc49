package onebot

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// DefaultPriority is the priority assigned to matchers that do not set
// one. Lower priorities run first.
const DefaultPriority = 10

// Rule is a predicate over an event. Rules are pure filters: not
// matching is silent, never an error.
type Rule func(event Event) bool

// And combines rules so all must match. Evaluation short-circuits.
func And(rules ...Rule) Rule {
	return func(event Event) bool {
		for _, r := range rules {
			if !r(event) {
				return false
			}
		}
		return true
	}
}

// Or combines rules so any may match. Evaluation short-circuits.
func Or(rules ...Rule) Rule {
	return func(event Event) bool {
		for _, r := range rules {
			if r(event) {
				return true
			}
		}
		return false
	}
}

// messageText derives the text a rule matches against. Only message
// events carry matchable text.
func messageText(event Event) (string, bool) {
	me, ok := event.(*MessageEvent)
	if !ok {
		return "", false
	}
	return me.PlainText(), true
}

// Prefix matches messages whose text starts with any of the literals.
func Prefix(prefixes ...string) Rule {
	return func(event Event) bool {
		text, ok := messageText(event)
		if !ok {
			return false
		}
		for _, p := range prefixes {
			if strings.HasPrefix(text, p) {
				return true
			}
		}
		return false
	}
}

// Suffix matches messages whose text ends with any of the literals.
func Suffix(suffixes ...string) Rule {
	return func(event Event) bool {
		text, ok := messageText(event)
		if !ok {
			return false
		}
		for _, s := range suffixes {
			if strings.HasSuffix(text, s) {
				return true
			}
		}
		return false
	}
}

// FullMatch matches messages whose text equals one of the literals.
func FullMatch(literals ...string) Rule {
	return func(event Event) bool {
		text, ok := messageText(event)
		if !ok {
			return false
		}
		for _, l := range literals {
			if text == l {
				return true
			}
		}
		return false
	}
}

// Keyword matches messages whose text contains any of the words.
func Keyword(words ...string) Rule {
	return func(event Event) bool {
		text, ok := messageText(event)
		if !ok {
			return false
		}
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}
}

// Command matches messages that begin with the start marker followed
// by one of the names. Name comparison is case-insensitive; the text
// after the name is available through SplitCommand.
func Command(start string, names ...string) Rule {
	return func(event Event) bool {
		name, _, ok := splitCommandText(event, start)
		if !ok {
			return false
		}
		for _, n := range names {
			if strings.EqualFold(name, n) {
				return true
			}
		}
		return false
	}
}

// Regex matches messages whose text contains a match of the pattern.
// The pattern must compile; it panics otherwise, like regexp.MustCompile.
func Regex(pattern string) Rule {
	re := regexp.MustCompile(pattern)
	return func(event Event) bool {
		text, ok := messageText(event)
		if !ok {
			return false
		}
		return re.MatchString(text)
	}
}

// SplitCommand extracts the command name and argument text from a
// message event. ok is false when the event is not a message or the
// text does not begin with the start marker.
func SplitCommand(event Event, start string) (name, args string, ok bool) {
	return splitCommandText(event, start)
}

func splitCommandText(event Event, start string) (string, string, bool) {
	text, ok := messageText(event)
	if !ok || !strings.HasPrefix(text, start) {
		return "", "", false
	}
	rest := text[len(start):]
	name, args, _ := strings.Cut(rest, " ")
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(args), true
}

// Matcher binds a rule to a handler with priority and propagation
// metadata.
type Matcher struct {
	rule     Rule
	handler  Handler
	priority int
	block    bool
	seq      int
}

// MatcherOption configures a matcher at registration time.
type MatcherOption func(*Matcher)

// WithPriority sets the matcher's priority. Lower runs first.
func WithPriority(p int) MatcherOption {
	return func(m *Matcher) {
		m.priority = p
	}
}

// WithBlock sets whether a match stops propagation to lower-priority
// matchers and plain dispatcher handlers. Matchers block by default.
func WithBlock(block bool) MatcherOption {
	return func(m *Matcher) {
		m.block = block
	}
}

// Engine evaluates matchers in ascending priority order in front of
// the dispatcher. The first match whose block flag is set suppresses
// the rest of the pipeline for that event.
type Engine struct {
	logger       *slog.Logger
	commandStart string

	mu       sync.RWMutex
	nextSeq  int
	matchers []*Matcher
}

// NewEngine creates an empty rule engine. A nil logger discards.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		logger:       ensureLogger(logger),
		commandStart: "/",
	}
}

// SetCommandStart changes the marker recognized by OnCommand.
func (e *Engine) SetCommandStart(start string) {
	e.mu.Lock()
	e.commandStart = start
	e.mu.Unlock()
}

// CommandStart returns the marker recognized by OnCommand.
func (e *Engine) CommandStart() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.commandStart
}

// On registers a matcher for the rule. Matchers with equal priority
// run in registration order.
func (e *Engine) On(rule Rule, handler Handler, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		rule:     rule,
		handler:  handler,
		priority: DefaultPriority,
		block:    true,
	}
	for _, opt := range opts {
		opt(m)
	}

	e.mu.Lock()
	m.seq = e.nextSeq
	e.nextSeq++
	e.matchers = append(e.matchers, m)
	sort.SliceStable(e.matchers, func(i, j int) bool {
		if e.matchers[i].priority != e.matchers[j].priority {
			return e.matchers[i].priority < e.matchers[j].priority
		}
		return e.matchers[i].seq < e.matchers[j].seq
	})
	e.mu.Unlock()

	return m
}

// OnPrefix registers a matcher for messages starting with any prefix.
func (e *Engine) OnPrefix(handler Handler, prefixes ...string) *Matcher {
	return e.On(Prefix(prefixes...), handler)
}

// OnSuffix registers a matcher for messages ending with any suffix.
func (e *Engine) OnSuffix(handler Handler, suffixes ...string) *Matcher {
	return e.On(Suffix(suffixes...), handler)
}

// OnFullMatch registers a matcher for messages equal to any literal.
func (e *Engine) OnFullMatch(handler Handler, literals ...string) *Matcher {
	return e.On(FullMatch(literals...), handler)
}

// OnKeyword registers a matcher for messages containing any word.
func (e *Engine) OnKeyword(handler Handler, words ...string) *Matcher {
	return e.On(Keyword(words...), handler)
}

// OnCommand registers a matcher for the named commands using the
// engine's command start marker.
func (e *Engine) OnCommand(handler Handler, names ...string) *Matcher {
	return e.On(Command(e.CommandStart(), names...), handler)
}

// OnRegex registers a matcher for messages matching the pattern.
func (e *Engine) OnRegex(handler Handler, pattern string) *Matcher {
	return e.On(Regex(pattern), handler)
}

// handle runs the event through the matchers in priority order and
// reports whether a blocking matcher fired.
func (e *Engine) handle(ctx context.Context, bot *Bot, event Event) bool {
	e.mu.RLock()
	matchers := make([]*Matcher, len(e.matchers))
	copy(matchers, e.matchers)
	e.mu.RUnlock()

	for _, m := range matchers {
		if !m.rule(event) {
			continue
		}
		e.run(ctx, bot, event, m)
		if m.block {
			return true
		}
	}
	return false
}

func (e *Engine) run(ctx context.Context, bot *Bot, event Event, m *Matcher) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("matcher handler panicked",
				slog.String("handler", funcName(m.handler)),
				slog.String("post_type", event.PostType()),
				slog.Any("panic", r),
			)
		}
	}()
	m.handler(ctx, bot, event)
}

package slackapp

import (
	"context"
	"regexp"
	"sync"

	"deliverybot/internal/entities"
	"deliverybot/internal/infrastructure"
	"deliverybot/internal/usecases"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"
)

// MessageHandler receives a channel message and the capture groups of the
// pattern it matched.
type MessageHandler func(ctx context.Context, msg entities.IncomingMessage, matches []string)

// InteractionHandler receives a block action or view submission. It must
// call ack before any slow work.
type InteractionHandler func(ctx context.Context, ack usecases.AckFunc, cb slack.InteractionCallback)

type messageRoute struct {
	pattern *regexp.Regexp
	handler MessageHandler
}

// Dispatcher routes Events API messages and interaction payloads to the
// registered handlers. It is shared by the HTTP and Socket Mode transports.
type Dispatcher struct {
	mu       sync.RWMutex
	messages []messageRoute
	actions  map[string]InteractionHandler
	views    map[string]InteractionHandler
	self     infrastructure.BotIdentity
	log      *zap.Logger
}

// NewDispatcher creates a dispatcher. Messages posted by self are ignored.
func NewDispatcher(self infrastructure.BotIdentity, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		actions: make(map[string]InteractionHandler),
		views:   make(map[string]InteractionHandler),
		self:    self,
		log:     log.Named("dispatch"),
	}
}

func (d *Dispatcher) Message(pattern *regexp.Regexp, handler MessageHandler) error {
	if pattern == nil || handler == nil {
		return entities.DispatchConflictError("message route needs a pattern and a handler", nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, route := range d.messages {
		if route.pattern.String() == pattern.String() {
			return entities.DispatchConflictError("message pattern already registered", map[string]any{"pattern": pattern.String()})
		}
	}
	d.messages = append(d.messages, messageRoute{pattern: pattern, handler: handler})
	return nil
}

func (d *Dispatcher) Action(actionID string, handler InteractionHandler) error {
	return d.register(d.actions, "action_id", actionID, handler)
}

func (d *Dispatcher) ViewSubmission(callbackID string, handler InteractionHandler) error {
	return d.register(d.views, "callback_id", callbackID, handler)
}

func (d *Dispatcher) register(routes map[string]InteractionHandler, kind, id string, handler InteractionHandler) error {
	if id == "" || handler == nil {
		return entities.DispatchConflictError("interaction route needs an id and a handler", map[string]any{kind: id})
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := routes[id]; exists {
		return entities.DispatchConflictError("interaction handler already registered", map[string]any{kind: id})
	}
	routes[id] = handler
	return nil
}

// DispatchEvent runs the first message route matching a message event.
// Events that match nothing are ignored.
func (d *Dispatcher) DispatchEvent(ctx context.Context, event slackevents.EventsAPIEvent) (err error) {
	defer d.recoverPanic("event", &err)

	if event.Type != slackevents.CallbackEvent {
		return nil
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		d.log.Debug("event_ignored", zap.String("type", event.InnerEvent.Type))
		return nil
	}

	msg := entities.IncomingMessage{
		Channel: ev.Channel,
		User:    ev.User,
		BotID:   ev.BotID,
		Text:    ev.Text,
		TS:      ev.TimeStamp,
		SubType: ev.SubType,
	}
	if d.skipMessage(msg) {
		return nil
	}

	d.mu.RLock()
	routes := d.messages
	d.mu.RUnlock()

	for _, route := range routes {
		m := route.pattern.FindStringSubmatch(msg.Text)
		if m == nil {
			continue
		}
		d.log.Debug("message_matched",
			zap.String("pattern", route.pattern.String()),
			zap.String("channel", msg.Channel),
			zap.String("ts", msg.TS),
		)
		route.handler(ctx, msg, m[1:])
		return nil
	}
	return nil
}

// skipMessage drops edits, deletions and the bot's own posts.
func (d *Dispatcher) skipMessage(msg entities.IncomingMessage) bool {
	switch msg.SubType {
	case "message_changed", "message_deleted", "message_replied":
		return true
	}
	if d.self.UserID != "" && msg.User == d.self.UserID {
		return true
	}
	return d.self.BotID != "" && msg.BotID == d.self.BotID
}

// DispatchInteraction routes block actions by the first action id and view
// submissions by callback id. An unknown route returns a not found error
// without calling ack.
func (d *Dispatcher) DispatchInteraction(ctx context.Context, ack func(), cb slack.InteractionCallback) (err error) {
	defer d.recoverPanic("interaction", &err)

	var (
		handler InteractionHandler
		ok      bool
		route   string
	)
	d.mu.RLock()
	switch cb.Type {
	case slack.InteractionTypeBlockActions:
		if len(cb.ActionCallback.BlockActions) > 0 {
			route = cb.ActionCallback.BlockActions[0].ActionID
			handler, ok = d.actions[route]
		}
	case slack.InteractionTypeViewSubmission:
		route = cb.View.CallbackID
		handler, ok = d.views[route]
	}
	d.mu.RUnlock()

	if !ok {
		return entities.DispatchNotFoundError("no handler for interaction", map[string]any{
			"type":  string(cb.Type),
			"route": route,
		})
	}
	if ack == nil {
		ack = func() {}
	}
	handler(ctx, ack, cb)
	return nil
}

func (d *Dispatcher) recoverPanic(kind string, err *error) {
	if r := recover(); r != nil {
		*err = entities.PanicError(r, map[string]any{"dispatch": kind})
		d.log.Error("dispatch_panicked", zap.String("kind", kind), zap.Error(*err), zap.Stack("stack"))
	}
}

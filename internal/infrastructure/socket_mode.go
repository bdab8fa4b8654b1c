package infrastructure

import (
	"context"
	"sync"

	"deliverybot/internal/entities"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// SlackDispatcher routes decoded Slack payloads to handlers.
type SlackDispatcher interface {
	DispatchEvent(ctx context.Context, event slackevents.EventsAPIEvent) error
	DispatchInteraction(ctx context.Context, ack func(), cb slack.InteractionCallback) error
}

// socketAcker is the part of *socketmode.Client the event loop acks with.
type socketAcker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

// SocketModeRunner receives events over a Socket Mode websocket and hands
// them to the dispatcher.
type SocketModeRunner struct {
	client     *socketmode.Client
	acker      socketAcker
	dispatcher SlackDispatcher
	log        *zap.Logger
	wg         sync.WaitGroup
}

func NewSocketModeRunner(api *slack.Client, dispatcher SlackDispatcher, log *zap.Logger) *SocketModeRunner {
	log = log.Named("socketmode")
	stdLog, _ := zap.NewStdLogAt(log, zap.DebugLevel)
	client := socketmode.New(api, socketmode.OptionLog(stdLog))
	return &SocketModeRunner{
		client:     client,
		acker:      client,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Run connects and processes events until ctx is cancelled. In-flight
// handlers are awaited before it returns.
func (r *SocketModeRunner) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.client.RunContext(ctx)
	}()

	defer r.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("socket_mode_stopped")
			return nil
		case err := <-errCh:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case evt, ok := <-r.client.Events:
			if !ok {
				return nil
			}
			r.handle(ctx, evt)
		}
	}
}

// handle acks evt and dispatches it in the background. Handlers run on a
// context that survives shutdown so in-flight work can finish.
func (r *SocketModeRunner) handle(ctx context.Context, evt socketmode.Event) {
	ctx = context.WithoutCancel(ctx)
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		r.log.Info("socket_mode_connecting")
	case socketmode.EventTypeConnected:
		r.log.Info("socket_mode_connected")
	case socketmode.EventTypeConnectionError:
		r.log.Warn("socket_mode_connection_error", zap.Any("data", evt.Data))
	case socketmode.EventTypeInvalidAuth:
		r.log.Error("socket_mode_invalid_auth")

	case socketmode.EventTypeEventsAPI:
		event, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			r.log.Warn("socket_mode_unexpected_payload", zap.String("type", string(evt.Type)))
			return
		}
		r.ack(evt)
		r.spawn(func() {
			if err := r.dispatcher.DispatchEvent(ctx, event); err != nil {
				r.log.Error("event_dispatch_failed", zap.Error(err))
			}
		})

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			r.log.Warn("socket_mode_unexpected_payload", zap.String("type", string(evt.Type)))
			return
		}
		var once sync.Once
		ack := func() { once.Do(func() { r.ack(evt) }) }
		r.spawn(func() {
			err := r.dispatcher.DispatchInteraction(ctx, ack, cb)
			// Unrouted interactions are still acked so Slack stops retrying.
			ack()
			if err != nil {
				if entities.HasTextCode(err, entities.ErrorDispatchNotFound) {
					r.log.Warn("interaction_unhandled", zap.String("type", string(cb.Type)), zap.Error(err))
					return
				}
				r.log.Error("interaction_dispatch_failed", zap.Error(err))
			}
		})

	default:
		r.log.Debug("socket_mode_event_ignored", zap.String("type", string(evt.Type)))
	}
}

func (r *SocketModeRunner) ack(evt socketmode.Event) {
	if evt.Request != nil {
		r.acker.Ack(*evt.Request)
	}
}

func (r *SocketModeRunner) spawn(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// Package app wires the engine together: the session store, permission
// manager and dispatcher live in one explicit container rather than ambient
// globals, so the whole engine can be constructed per test.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/chatpanel-ai/chatpanel/internal/config"
	"github.com/chatpanel-ai/chatpanel/internal/dispatch"
	"github.com/chatpanel-ai/chatpanel/internal/event"
	"github.com/chatpanel-ai/chatpanel/internal/mutation"
	"github.com/chatpanel-ai/chatpanel/internal/permission"
	"github.com/chatpanel-ai/chatpanel/internal/session"
	"github.com/chatpanel-ai/chatpanel/internal/storage"
	"github.com/chatpanel-ai/chatpanel/internal/timeline"
	"github.com/chatpanel-ai/chatpanel/internal/transport"
	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

// App is the engine container. User actions run through mutation runners so
// each gets the optimistic/rollback and supersede discipline.
type App struct {
	Store         *session.Store
	Perms         *permission.Manager
	Dispatcher    *dispatch.Dispatcher
	Bus           *event.Bus
	Conversations *storage.Conversations

	out transport.Sender

	sendMessage *mutation.Runner[string, struct{}]
	clear       *mutation.Runner[struct{}, struct{}]
	respond     *mutation.Runner[permissionVars, struct{}]
	save        *mutation.Runner[string, struct{}]
	load        *mutation.Runner[string, types.Snapshot]
	remove      *mutation.Runner[string, struct{}]
}

type permissionVars struct {
	RequestID string
	Decision  string
}

// New builds a fully wired engine.
func New(cfg *config.Config, out transport.Sender, conversations *storage.Conversations) *App {
	bus := event.NewBus()
	store := session.New()
	perms := permission.NewManager(bus, out, permission.Config{
		Rules:          cfg.Permissions.Rules(),
		DefaultTimeout: cfg.Permissions.DefaultTimeout(),
		SessionTTL:     cfg.Permissions.SessionTTL(),
	})

	a := &App{
		Store:         store,
		Perms:         perms,
		Dispatcher:    dispatch.New(store, perms, bus),
		Bus:           bus,
		Conversations: conversations,
		out:           out,
	}
	a.initRunners()
	return a
}

func (a *App) initRunners() {
	a.sendMessage = mutation.New(mutation.Options[string, struct{}]{
		OnMutate: func(text string) (mutation.Rollback, error) {
			cp := a.Store.Checkpoint()
			a.Store.Append(&types.Message{
				ID:        session.NewID(),
				Kind:      types.KindUserInput,
				Text:      text,
				Timestamp: time.Now().UnixMilli(),
			})
			a.Bus.PublishSync(event.Event{Type: event.TimelineInvalidated})
			return func() {
				a.Store.RestoreCheckpoint(cp)
				a.Bus.PublishSync(event.Event{Type: event.TimelineInvalidated})
			}, nil
		},
		Fn: func(ctx context.Context, text string) (struct{}, error) {
			return struct{}{}, a.out.Send(types.OutboundCommand{Type: types.OutSendMessage, Text: text})
		},
	})

	a.clear = mutation.New(mutation.Options[struct{}, struct{}]{
		OnMutate: func(struct{}) (mutation.Rollback, error) {
			cp := a.Store.Checkpoint()
			a.Store.Reset()
			a.Perms.Reset()
			a.Bus.PublishSync(event.Event{Type: event.TimelineInvalidated})
			return func() {
				a.Store.RestoreCheckpoint(cp)
				a.Bus.PublishSync(event.Event{Type: event.TimelineInvalidated})
			}, nil
		},
		Fn: func(ctx context.Context, _ struct{}) (struct{}, error) {
			return struct{}{}, a.out.Send(types.OutboundCommand{Type: types.OutClearConversation})
		},
	})

	a.respond = mutation.New(mutation.Options[permissionVars, struct{}]{
		Fn: func(ctx context.Context, v permissionVars) (struct{}, error) {
			return struct{}{}, a.Perms.Resolve(v.RequestID, v.Decision)
		},
	})

	a.save = mutation.New(mutation.Options[string, struct{}]{
		Fn: func(ctx context.Context, name string) (struct{}, error) {
			return struct{}{}, a.Conversations.Save(name, a.Store.Snapshot())
		},
		Retry: mutation.RetryAlways(),
	})

	a.load = mutation.New(mutation.Options[string, types.Snapshot]{
		Fn: func(ctx context.Context, name string) (types.Snapshot, error) {
			return a.Conversations.Load(name)
		},
		OnSuccess: func(snap types.Snapshot, _ string) {
			a.Store.Restore(snap)
			a.Bus.PublishSync(event.Event{Type: event.SessionRestored})
			a.Bus.PublishSync(event.Event{Type: event.TimelineInvalidated})
		},
	})

	a.remove = mutation.New(mutation.Options[string, struct{}]{
		Fn: func(ctx context.Context, name string) (struct{}, error) {
			return struct{}{}, a.Conversations.Delete(name)
		},
		OnSuccess: func(_ struct{}, name string) {
			a.Bus.PublishSync(event.Event{
				Type: event.ConversationDeleted,
				Data: event.ConversationDeletedData{Filename: name},
			})
		},
	})
}

// Timeline derives the current render-ready timeline. The entries reference
// cloned messages so callers on other goroutines can serialize them while
// the dispatcher keeps writing.
func (a *App) Timeline() []timeline.Entry {
	return timeline.Derive(a.Store.MessagesCloned(), a.Store.IsProcessing())
}

// SendMessage optimistically appends the user input and sends it outbound.
func (a *App) SendMessage(ctx context.Context, text string) *mutation.Call[struct{}] {
	return a.sendMessage.Mutate(ctx, text)
}

// ClearConversation optimistically resets local state and tells the
// assistant process to do the same.
func (a *App) ClearConversation(ctx context.Context) *mutation.Call[struct{}] {
	return a.clear.Mutate(ctx, struct{}{})
}

// RespondPermission finalizes a pending permission request.
func (a *App) RespondPermission(ctx context.Context, requestID, decision string) *mutation.Call[struct{}] {
	return a.respond.Mutate(ctx, permissionVars{RequestID: requestID, Decision: decision})
}

// SaveConversation persists the current snapshot under the given name.
func (a *App) SaveConversation(ctx context.Context, name string) *mutation.Call[struct{}] {
	return a.save.Mutate(ctx, name)
}

// LoadConversation replaces the session from a stored snapshot.
func (a *App) LoadConversation(ctx context.Context, name string) *mutation.Call[types.Snapshot] {
	return a.load.Mutate(ctx, name)
}

// DeleteConversation removes a stored conversation.
func (a *App) DeleteConversation(ctx context.Context, name string) *mutation.Call[struct{}] {
	return a.remove.Mutate(ctx, name)
}

// Close tears down the engine.
func (a *App) Close() error {
	a.sendMessage.Close()
	a.clear.Close()
	a.respond.Close()
	a.save.Close()
	a.load.Close()
	a.remove.Close()
	return a.Bus.Close()
}

// Action routes a client-side action command (from the rendering layer) to
// the matching user action. Unknown actions are an error, not a panic.
func (a *App) Action(ctx context.Context, cmd types.OutboundCommand) error {
	switch cmd.Type {
	case types.OutSendMessage:
		a.SendMessage(ctx, cmd.Text)
	case types.OutClearConversation:
		a.ClearConversation(ctx)
	case types.OutPermissionResponse:
		a.RespondPermission(ctx, cmd.RequestID, cmd.Decision)
	case types.OutSaveConversation:
		a.SaveConversation(ctx, cmd.Filename)
	case types.OutLoadConversation:
		a.LoadConversation(ctx, cmd.Filename)
	case types.OutDeleteConversation:
		a.DeleteConversation(ctx, cmd.Filename)
	case types.OutListConversations:
		metas, err := a.Conversations.List()
		if err != nil {
			return err
		}
		a.Bus.PublishSync(event.Event{
			Type: event.ConversationsListed,
			Data: event.ConversationsListedData{Conversations: metas},
		})
	case types.OutInterrupt:
		return a.out.Send(cmd)
	default:
		return fmt.Errorf("unknown action: %s", cmd.Type)
	}
	return nil
}

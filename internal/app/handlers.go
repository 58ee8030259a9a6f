package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tunebot/internal/access"
	"tunebot/internal/broadcast"
	"tunebot/internal/delivery"
	"tunebot/internal/session"
	"tunebot/internal/transport"
	logx "tunebot/pkg/logx"
	"tunebot/pkg/tgui"
)

const (
	cbScopeAccess    = "access"
	cbScopeBroadcast = "bc"
	cbScopeStats     = "stats"
)

const welcomeText = "🎵 Music Downloader Bot\n\n" +
	"This bot lets you search and download high-quality audio.\n\n" +
	"Features:\n" +
	"• Search songs by name\n" +
	"• Paste a direct link\n" +
	"• Best available audio quality\n\n" +
	"Send the song name."

func (a *App) handleUpdate(ctx context.Context, key session.Key, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		a.handleMessage(ctx, key, up.Message)
	case transport.UpdateCallback:
		a.handleCallback(ctx, key, up.Callback)
	}
}

func (a *App) handleMessage(ctx context.Context, key session.Key, m *transport.Message) {
	a.touchUser(ctx, m.FromID, m.FromName)

	to := transport.ChatTarget{ChatID: m.ChatID}
	text := strings.TrimSpace(m.Text)

	switch {
	case text == "/start":
		a.enterWelcome(ctx, key, to)

	case text == "/stats" && m.FromID == a.adminID:
		a.sendStats(ctx, to)

	case text == "/broadcast" && m.FromID == a.adminID:
		if a.bcast.Begin(m.FromID) {
			_, _ = a.adapter.SendText(ctx, to, "📢 Send the broadcast text.", nil)
		} else {
			_, _ = a.adapter.SendText(ctx, to, "A broadcast is already in progress.", nil)
		}

	// Draft capture intercepts the admin's next plain text, and only the
	// admin's; everyone else stays in the resolution flow.
	case a.bcast.WantsDraft(m.FromID) && !strings.HasPrefix(text, "/"):
		if !a.bcast.CaptureDraft(m.FromID, text) {
			return
		}
		kb := tgui.ConfirmInline(
			tgui.Btn("✅ Send", tgui.Data(cbScopeBroadcast, "confirm", "")),
			tgui.Btn("✖️ Cancel", tgui.Data(cbScopeBroadcast, "cancel", "")),
		)
		preview := "📢 Broadcast preview:\n\n" + text + "\n\nSend it to all users?"
		_, _ = a.adapter.SendText(ctx, to, preview, &transport.SendOptions{ReplyMarkupAdapter: kb.Markup()})

	case strings.HasPrefix(text, "/"):
		_, _ = a.adapter.SendText(ctx, to, "Send a song name or a direct link.", nil)

	case text == "":
		return

	default:
		if a.gate.Check(ctx, m.FromID) != access.Allowed {
			a.sendDenialPrompt(ctx, key, to)
			return
		}
		a.coord.HandleQuery(ctx, key, text)
	}
}

func (a *App) handleCallback(ctx context.Context, key session.Key, cb *transport.Callback) {
	a.touchUser(ctx, cb.FromID, cb.FromName)

	to := transport.ChatTarget{ChatID: cb.ChatID}
	scope, action, payload := tgui.Split(cb.Data)

	switch scope {
	case delivery.CallbackScope:
		if action != "sel" {
			_ = a.adapter.AnswerCallback(ctx, cb.ID, "")
			return
		}
		// Selection is a sensitive transition; re-validate access.
		if a.gate.Check(ctx, cb.FromID) != access.Allowed {
			_ = a.adapter.AnswerCallback(ctx, cb.ID, "Join the channel first.")
			a.sendDenialPrompt(ctx, key, to)
			return
		}
		gen, idx, ok := delivery.ParseSelection(payload)
		if !ok {
			_ = a.adapter.AnswerCallback(ctx, cb.ID, "Session expired — search again.")
			return
		}
		prompt := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
		a.coord.HandleSelection(ctx, key, gen, idx, cb.ID, prompt)

	case cbScopeAccess:
		if action == "verify" {
			a.handleVerify(ctx, key, cb)
		} else {
			_ = a.adapter.AnswerCallback(ctx, cb.ID, "")
		}

	case cbScopeBroadcast:
		a.handleBroadcastControl(ctx, cb, action)

	case cbScopeStats:
		if cb.FromID == a.adminID {
			_ = a.adapter.AnswerCallback(ctx, cb.ID, "")
			a.sendStats(ctx, to)
		} else {
			_ = a.adapter.AnswerCallback(ctx, cb.ID, "")
		}

	default:
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "")
	}
}

// enterWelcome is the entry action: gate first, welcome on success, denial
// prompt otherwise.
func (a *App) enterWelcome(ctx context.Context, key session.Key, to transport.ChatTarget) {
	if a.gate.Check(ctx, key.UserID) != access.Allowed {
		a.sendDenialPrompt(ctx, key, to)
		return
	}
	a.sendWelcome(ctx, key, to)
}

func (a *App) sendWelcome(ctx context.Context, key session.Key, to transport.ChatTarget) {
	var opt *transport.SendOptions
	if key.UserID == a.adminID {
		kb := tgui.NewInline().Row(tgui.Btn("📊 Stats", tgui.Data(cbScopeStats, "show", "")))
		opt = &transport.SendOptions{ReplyMarkupAdapter: kb.Markup()}
	}
	_, _ = a.adapter.SendText(ctx, to, welcomeText, opt)
}

// sendDenialPrompt issues a join prompt with a re-check action and tracks its
// ref so every stale prompt can be retracted once access is granted.
func (a *App) sendDenialPrompt(ctx context.Context, key session.Key, to transport.ChatTarget) {
	channel := a.gate.Channel()
	kb := tgui.NewInline()
	if strings.HasPrefix(channel, "@") {
		kb.Row(tgui.URLBtn("➕ Join "+channel, "https://t.me/"+strings.TrimPrefix(channel, "@")))
	}
	kb.Row(tgui.Btn("✅ Verify", tgui.Data(cbScopeAccess, "verify", "")))

	text := "🔒 To use this bot, join " + channel + " first, then press Verify."
	ref, err := a.adapter.SendText(ctx, to, text, &transport.SendOptions{ReplyMarkupAdapter: kb.Markup()})
	if err != nil {
		a.log.Warn("denial prompt failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		return
	}

	ttl, cap := a.promptLimits()
	st := a.sessions.Get(key)
	for _, stale := range st.AddDenialPrompt(ref, ttl, cap) {
		_ = a.adapter.DeleteMessage(ctx, stale)
	}
}

// handleVerify re-runs the gate. Success acknowledges once, retracts every
// tracked denial prompt in one pass and replays the entry action; failure
// accumulates one more tracked prompt.
func (a *App) handleVerify(ctx context.Context, key session.Key, cb *transport.Callback) {
	to := transport.ChatTarget{ChatID: cb.ChatID}

	if a.gate.Check(ctx, cb.FromID) != access.Allowed {
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "Not a member yet.")
		a.sendDenialPrompt(ctx, key, to)
		return
	}

	_ = a.adapter.AnswerCallback(ctx, cb.ID, "✅ Verified")
	st := a.sessions.Get(key)
	for _, ref := range st.ClearDenialPrompts() {
		_ = a.adapter.DeleteMessage(ctx, ref)
	}
	a.sendWelcome(ctx, key, to)
}

func (a *App) handleBroadcastControl(ctx context.Context, cb *transport.Callback, action string) {
	// Broadcast control actions from anyone but the admin are no-ops.
	if cb.FromID != a.adminID {
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	to := transport.ChatTarget{ChatID: cb.ChatID}
	preview := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	switch action {
	case "confirm":
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "")
		// Run the fan-out off this session's worker so the admin's other
		// events keep flowing; the engine's phase guard prevents reentry.
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			sum, err := a.bcast.Confirm(ctx, cb.FromID)
			switch {
			case errors.Is(err, broadcast.ErrNotPending):
				return
			case err != nil:
				_, _ = a.adapter.SendText(ctx, to, "⚠️ Broadcast failed: could not load the recipient list.", nil)
				return
			}
			report := fmt.Sprintf("📣 Broadcast complete: sent %d, failed %d.", sum.Sent, sum.Failed)
			_, _ = a.adapter.SendText(ctx, to, report, nil)
		}()
		_ = a.adapter.EditText(ctx, preview, "📤 Sending broadcast...", nil)

	case "cancel":
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "")
		if a.bcast.Cancel(cb.FromID) {
			_ = a.adapter.EditText(ctx, preview, "❎ Broadcast cancelled.", nil)
		}

	default:
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "")
	}
}

func (a *App) sendStats(ctx context.Context, to transport.ChatTarget) {
	counts, err := a.dir.Count(ctx)
	if err != nil {
		a.log.Error("stats query failed", logx.Err(err))
		_, _ = a.adapter.SendText(ctx, to, "⚠️ Stats unavailable right now.", nil)
		return
	}
	text := fmt.Sprintf("👥 Users: %d total, %d active\n💬 Live sessions: %d",
		counts.Total, counts.Active, a.sessions.Len())
	_, _ = a.adapter.SendText(ctx, to, text, nil)
}

// touchUser upserts the directory record; a successful inbound interaction
// always clears the blocked flag.
func (a *App) touchUser(ctx context.Context, id int64, name string) {
	if err := a.dir.Upsert(ctx, id, name); err != nil {
		a.log.Error("user upsert failed", logx.Int64("user_id", id), logx.Err(err))
	}
}

// Package delivery sequences the observable conversation for one attempt:
// acknowledge, select when ambiguous, report progress, deliver the artifact
// or a failure, and clean up after itself on every path.
package delivery

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"tunebot/internal/resolver"
	"tunebot/internal/session"
	"tunebot/internal/transport"
	logx "tunebot/pkg/logx"
	"tunebot/pkg/tgui"
)

// Result is the terminal state of one handled event.
type Result int

const (
	ResultDelivered Result = iota
	ResultSelecting
	ResultNotFound
	ResultFailed
	ResultStale
	ResultTransportFailure
)

// Messenger is the slice of the transport the coordinator needs.
type Messenger interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error
	DeleteMessage(ctx context.Context, ref transport.MessageRef) error
	SendAudio(ctx context.Context, to transport.ChatTarget, a transport.Audio) (transport.MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

const (
	msgSearching   = "🔍 Searching..."
	msgDownloading = "⬇️ Downloading..."
	msgSending     = "📤 Sending..."
	msgNoResults   = "❌ No results found. Try a different query."
	msgStale       = "Session expired — search again."
	msgSendFailed  = "⚠️ The audio was ready but could not be delivered. Try again."
)

// CallbackScope tags selection callbacks; payload is "<generation>:<index>".
const CallbackScope = "dl"

type Coordinator struct {
	res      resolver.Resolver
	tp       Messenger
	sessions *session.Store
	log      logx.Logger
}

func New(res resolver.Resolver, tp Messenger, sessions *session.Store, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{res: res, tp: tp, sessions: sessions, log: log}
}

// HandleQuery runs the Searching state for a free-form query or direct link.
// A new search strictly supersedes the previous candidate list.
func (c *Coordinator) HandleQuery(ctx context.Context, key session.Key, text string) Result {
	st := c.sessions.Get(key)
	to := transport.ChatTarget{ChatID: key.ChatID}

	if stale := st.BeginSearch(); stale != nil {
		_ = c.tp.DeleteMessage(ctx, *stale)
	}

	progress, perr := c.tp.SendText(ctx, to, msgSearching, nil)
	if perr != nil {
		c.log.Warn("progress message failed", logx.Int64("chat_id", key.ChatID), logx.Err(perr))
	}

	res, err := c.res.Resolve(ctx, text)
	if err != nil {
		c.retract(ctx, progress)
		reason, ok := resolver.Failed(err)
		if !ok {
			reason = "temporary error"
		}
		c.log.Warn("resolution failed", logx.Int64("user_id", key.UserID), logx.Err(err))
		_, _ = c.tp.SendText(ctx, to, "⚠️ Could not process that: "+reason+".", nil)
		return ResultFailed
	}

	switch res.Outcome {
	case resolver.OutcomeNotFound:
		c.retract(ctx, progress)
		_, _ = c.tp.SendText(ctx, to, msgNoResults, nil)
		return ResultNotFound

	case resolver.OutcomeDirect:
		if progress.MessageID != 0 {
			_ = c.tp.EditText(ctx, progress, msgSending, nil)
		}
		return c.deliver(ctx, to, res.Artifact, progress)

	default:
		return c.presentCandidates(ctx, st, to, progress, res.Candidates)
	}
}

// presentCandidates edits the progress message into a selectable list and
// parks the session in Selecting.
func (c *Coordinator) presentCandidates(ctx context.Context, st *session.State, to transport.ChatTarget, progress transport.MessageRef, cands []resolver.Candidate) Result {
	gen := st.Generation()

	var b strings.Builder
	b.WriteString("🎵 Pick a track:\n")
	btns := make([]tele.Btn, 0, len(cands))
	for i, cand := range cands {
		fmt.Fprintf(&b, "\n%d. %s — %s (%s)", i+1, cand.Title, cand.Uploader, fmtDuration(cand.DurationSeconds))
		data := tgui.Data(CallbackScope, "sel", fmt.Sprintf("%d:%d", gen, i))
		btns = append(btns, tgui.Btn(fmt.Sprintf("%d", i+1), data))
	}
	kb := tgui.NewInline().Row(btns...)
	opt := &transport.SendOptions{ReplyMarkupAdapter: kb.Markup()}

	if progress.MessageID != 0 {
		if err := c.tp.EditText(ctx, progress, b.String(), opt); err != nil {
			c.log.Warn("candidate list edit failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			var serr error
			progress, serr = c.tp.SendText(ctx, to, b.String(), opt)
			if serr != nil {
				return ResultFailed
			}
		}
	} else {
		var serr error
		progress, serr = c.tp.SendText(ctx, to, b.String(), opt)
		if serr != nil {
			return ResultFailed
		}
	}

	st.SetCandidates(cands, progress)
	return ResultSelecting
}

// HandleSelection runs Selecting -> Downloading for a selection callback.
// An invalid or stale selection resolves to a user-visible outcome, never a
// fault.
func (c *Coordinator) HandleSelection(ctx context.Context, key session.Key, gen uint64, idx int, callbackID string, prompt transport.MessageRef) Result {
	st := c.sessions.Get(key)
	to := transport.ChatTarget{ChatID: key.ChatID}

	cand, ok := st.TakeCandidate(gen, idx)
	if !ok {
		_ = c.tp.AnswerCallback(ctx, callbackID, msgStale)
		return ResultStale
	}
	_ = c.tp.AnswerCallback(ctx, callbackID, "")

	// The selection prompt becomes the progress message for the download.
	_ = c.tp.EditText(ctx, prompt, msgDownloading, nil)

	art, err := c.res.Fetch(ctx, cand.Locator)
	if err != nil {
		c.retract(ctx, prompt)
		reason, ok := resolver.Failed(err)
		if !ok {
			reason = "temporary error"
		}
		c.log.Warn("fetch failed", logx.Int64("user_id", key.UserID), logx.String("locator", cand.Locator), logx.Err(err))
		_, _ = c.tp.SendText(ctx, to, "⚠️ Download failed: "+reason+".", nil)
		return ResultFailed
	}

	// Prefer the metadata captured at search time; it is what the user chose.
	if cand.Title != "" {
		art.Title = cand.Title
	}
	if cand.Uploader != "" {
		art.Uploader = cand.Uploader
	}
	if cand.DurationSeconds > 0 {
		art.DurationSeconds = cand.DurationSeconds
	}

	_ = c.tp.EditText(ctx, prompt, msgSending, nil)
	return c.deliver(ctx, to, art, prompt)
}

// deliver hands the artifact to the transport and leaves zero temporary
// files behind on every path out, including transport failure.
func (c *Coordinator) deliver(ctx context.Context, to transport.ChatTarget, art *resolver.Artifact, progress transport.MessageRef) Result {
	defer art.Discard()

	_, err := c.tp.SendAudio(ctx, to, transport.Audio{
		Path:            art.AudioPath,
		Title:           art.Title,
		Performer:       art.Uploader,
		DurationSeconds: art.DurationSeconds,
		ThumbPath:       art.ThumbPath,
	})

	c.retract(ctx, progress)

	if err != nil {
		c.log.Warn("audio delivery failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		_, _ = c.tp.SendText(ctx, to, msgSendFailed, nil)
		return ResultTransportFailure
	}
	return ResultDelivered
}

func (c *Coordinator) retract(ctx context.Context, refs ...transport.MessageRef) {
	for _, ref := range refs {
		if ref.MessageID == 0 {
			continue
		}
		_ = c.tp.DeleteMessage(ctx, ref)
	}
}

// ParseSelection decodes a "dl:sel" payload of the form
// "<generation>:<index>". Malformed payloads are treated as stale.
func ParseSelection(payload string) (gen uint64, idx int, ok bool) {
	var g uint64
	var i int
	if _, err := fmt.Sscanf(payload, "%d:%d", &g, &i); err != nil {
		return 0, 0, false
	}
	return g, i, true
}

func fmtDuration(secs int) string {
	if secs <= 0 {
		return "?:??"
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

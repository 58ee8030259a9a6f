package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tunebot/internal/resolver"
	"tunebot/internal/session"
	"tunebot/internal/transport"
	logx "tunebot/pkg/logx"
)

type fakeResolver struct {
	resolution resolver.Resolution
	resolveErr error

	fetched  []string
	artifact func() *resolver.Artifact
	fetchErr error
}

func (f *fakeResolver) Resolve(_ context.Context, _ string) (resolver.Resolution, error) {
	return f.resolution, f.resolveErr
}

func (f *fakeResolver) Fetch(_ context.Context, locator string) (*resolver.Artifact, error) {
	f.fetched = append(f.fetched, locator)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.artifact(), nil
}

type sentMsg struct {
	ref  transport.MessageRef
	text string
}

type fakeMessenger struct {
	nextID  int
	sent    []sentMsg
	edits   []sentMsg
	deleted []transport.MessageRef
	audio   []transport.Audio

	sendAudioErr error
}

func (f *fakeMessenger) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.nextID++
	ref := transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}
	f.sent = append(f.sent, sentMsg{ref: ref, text: text})
	return ref, nil
}

func (f *fakeMessenger) EditText(_ context.Context, ref transport.MessageRef, text string, _ *transport.SendOptions) error {
	f.edits = append(f.edits, sentMsg{ref: ref, text: text})
	return nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, ref transport.MessageRef) error {
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeMessenger) SendAudio(_ context.Context, to transport.ChatTarget, a transport.Audio) (transport.MessageRef, error) {
	if f.sendAudioErr != nil {
		return transport.MessageRef{}, f.sendAudioErr
	}
	f.audio = append(f.audio, a)
	f.nextID++
	return transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, _ string, _ string) error { return nil }

func (f *fakeMessenger) lastText(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return f.sent[len(f.sent)-1].text
}

// writeArtifact materializes real files so cleanup can be observed.
func writeArtifact(t *testing.T, dir string) *resolver.Artifact {
	t.Helper()
	audio := filepath.Join(dir, "track.mp3")
	thumb := filepath.Join(dir, "track.jpg")
	for _, p := range []string{audio, thumb} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	return &resolver.Artifact{
		AudioPath:       audio,
		ThumbPath:       thumb,
		Title:           "Fetched Title",
		Uploader:        "Fetched Uploader",
		DurationSeconds: 100,
	}
}

func requireNoFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("artifact files left behind: %v", entries)
	}
}

var testCands = []resolver.Candidate{
	{Title: "First", Uploader: "A", DurationSeconds: 61, Locator: "loc-1"},
	{Title: "Second", Uploader: "B", DurationSeconds: 122, Locator: "loc-2"},
	{Title: "Third", Uploader: "C", DurationSeconds: 183, Locator: "loc-3"},
	{Title: "Fourth", Uploader: "D", DurationSeconds: 244, Locator: "loc-4"},
	{Title: "Fifth", Uploader: "E", DurationSeconds: 305, Locator: "loc-5"},
}

func TestQueryThenSelectionDelivers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	res := &fakeResolver{
		resolution: resolver.Resolution{Outcome: resolver.OutcomeCandidates, Candidates: testCands},
		artifact:   func() *resolver.Artifact { return writeArtifact(t, dir) },
	}
	tp := &fakeMessenger{}
	sessions := session.NewStore()
	c := New(res, tp, sessions, logx.Nop())

	key := session.Key{UserID: 1, ChatID: 10}
	if got := c.HandleQuery(context.Background(), key, "some song"); got != ResultSelecting {
		t.Fatalf("HandleQuery = %v, want ResultSelecting", got)
	}

	st := sessions.Get(key)
	if st.PendingCount() != 5 {
		t.Fatalf("pending candidates = %d, want 5", st.PendingCount())
	}

	// The list shows the candidates in engine order.
	list := tp.edits[len(tp.edits)-1].text
	if i1, i3 := strings.Index(list, "1. First"), strings.Index(list, "3. Third"); i1 < 0 || i3 < 0 || i1 > i3 {
		t.Fatalf("candidate list out of order:\n%s", list)
	}

	gen := st.Generation()
	prompt := tp.edits[len(tp.edits)-1].ref
	if got := c.HandleSelection(context.Background(), key, gen, 2, "cb1", prompt); got != ResultDelivered {
		t.Fatalf("HandleSelection = %v, want ResultDelivered", got)
	}

	if len(res.fetched) != 1 || res.fetched[0] != "loc-3" {
		t.Fatalf("fetched = %v, want [loc-3]", res.fetched)
	}
	if len(tp.audio) != 1 {
		t.Fatalf("delivered %d audio messages, want 1", len(tp.audio))
	}
	// Metadata captured at search time wins over what the download reports.
	a := tp.audio[0]
	if a.Title != "Third" || a.Performer != "C" || a.DurationSeconds != 183 {
		t.Fatalf("audio metadata = %+v, want the selected candidate's", a)
	}

	if st.PendingCount() != 0 {
		t.Fatal("candidate list must be consumed by a successful selection")
	}
	requireNoFiles(t, dir)
}

func TestStaleSelection(t *testing.T) {
	t.Parallel()

	res := &fakeResolver{
		resolution: resolver.Resolution{Outcome: resolver.OutcomeCandidates, Candidates: testCands},
	}
	tp := &fakeMessenger{}
	sessions := session.NewStore()
	c := New(res, tp, sessions, logx.Nop())

	key := session.Key{UserID: 1, ChatID: 10}
	c.HandleQuery(context.Background(), key, "first search")
	oldGen := sessions.Get(key).Generation()

	// A new search supersedes the old candidate list.
	c.HandleQuery(context.Background(), key, "second search")

	prompt := transport.MessageRef{ChatID: 10, MessageID: 1}
	if got := c.HandleSelection(context.Background(), key, oldGen, 0, "cb1", prompt); got != ResultStale {
		t.Fatalf("stale selection = %v, want ResultStale", got)
	}
	if len(res.fetched) != 0 {
		t.Fatalf("stale selection fetched %v, want nothing", res.fetched)
	}

	// Out-of-range index against the live generation is equally stale.
	gen := sessions.Get(key).Generation()
	if got := c.HandleSelection(context.Background(), key, gen, 99, "cb2", prompt); got != ResultStale {
		t.Fatalf("out-of-range selection = %v, want ResultStale", got)
	}
}

func TestNewSearchRetractsOldPrompt(t *testing.T) {
	t.Parallel()

	res := &fakeResolver{
		resolution: resolver.Resolution{Outcome: resolver.OutcomeCandidates, Candidates: testCands},
	}
	tp := &fakeMessenger{}
	sessions := session.NewStore()
	c := New(res, tp, sessions, logx.Nop())

	key := session.Key{UserID: 1, ChatID: 10}
	c.HandleQuery(context.Background(), key, "first")
	firstPrompt := tp.edits[len(tp.edits)-1].ref

	c.HandleQuery(context.Background(), key, "second")
	found := false
	for _, d := range tp.deleted {
		if d == firstPrompt {
			found = true
		}
	}
	if !found {
		t.Fatalf("superseded selection prompt %v was not retracted; deleted %v", firstPrompt, tp.deleted)
	}
}

func TestDirectLinkSkipsSelection(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	res := &fakeResolver{
		resolution: resolver.Resolution{Outcome: resolver.OutcomeDirect},
	}
	res.resolution.Artifact = writeArtifact(t, dir)
	tp := &fakeMessenger{}
	sessions := session.NewStore()
	c := New(res, tp, sessions, logx.Nop())

	key := session.Key{UserID: 1, ChatID: 10}
	if got := c.HandleQuery(context.Background(), key, "https://youtu.be/abcdef12345"); got != ResultDelivered {
		t.Fatalf("HandleQuery = %v, want ResultDelivered", got)
	}
	if len(tp.audio) != 1 {
		t.Fatalf("delivered %d audio messages, want 1", len(tp.audio))
	}
	if sessions.Get(key).PendingCount() != 0 {
		t.Fatal("direct link must not park candidates")
	}
	requireNoFiles(t, dir)
}

func TestNoResults(t *testing.T) {
	t.Parallel()

	res := &fakeResolver{resolution: resolver.Resolution{Outcome: resolver.OutcomeNotFound}}
	tp := &fakeMessenger{}
	c := New(res, tp, session.NewStore(), logx.Nop())

	key := session.Key{UserID: 1, ChatID: 10}
	if got := c.HandleQuery(context.Background(), key, "gibberish"); got != ResultNotFound {
		t.Fatalf("HandleQuery = %v, want ResultNotFound", got)
	}
	if got := tp.lastText(t); got != msgNoResults {
		t.Fatalf("final message = %q, want %q", got, msgNoResults)
	}
}

func TestResolveFailureIsReported(t *testing.T) {
	t.Parallel()

	res := &fakeResolver{resolveErr: &resolver.Error{Reason: "search timed out", Err: errors.New("deadline")}}
	tp := &fakeMessenger{}
	c := New(res, tp, session.NewStore(), logx.Nop())

	key := session.Key{UserID: 1, ChatID: 10}
	if got := c.HandleQuery(context.Background(), key, "song"); got != ResultFailed {
		t.Fatalf("HandleQuery = %v, want ResultFailed", got)
	}
	if got := tp.lastText(t); !strings.Contains(got, "search timed out") {
		t.Fatalf("failure message %q does not carry the typed reason", got)
	}
}

func TestFetchFailureCleansUp(t *testing.T) {
	t.Parallel()

	res := &fakeResolver{
		resolution: resolver.Resolution{Outcome: resolver.OutcomeCandidates, Candidates: testCands},
		fetchErr:   &resolver.Error{Reason: "download failed", Err: errors.New("HTTP 410")},
	}
	tp := &fakeMessenger{}
	sessions := session.NewStore()
	c := New(res, tp, sessions, logx.Nop())

	key := session.Key{UserID: 1, ChatID: 10}
	c.HandleQuery(context.Background(), key, "song")
	st := sessions.Get(key)
	prompt := tp.edits[len(tp.edits)-1].ref

	if got := c.HandleSelection(context.Background(), key, st.Generation(), 0, "cb1", prompt); got != ResultFailed {
		t.Fatalf("HandleSelection = %v, want ResultFailed", got)
	}
	if got := tp.lastText(t); !strings.Contains(got, "download failed") {
		t.Fatalf("failure message %q does not carry the typed reason", got)
	}
}

func TestTransportFailureStillDiscardsArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	res := &fakeResolver{
		resolution: resolver.Resolution{Outcome: resolver.OutcomeCandidates, Candidates: testCands},
		artifact:   func() *resolver.Artifact { return writeArtifact(t, dir) },
	}
	tp := &fakeMessenger{sendAudioErr: errors.New("request entity too large")}
	sessions := session.NewStore()
	c := New(res, tp, sessions, logx.Nop())

	key := session.Key{UserID: 1, ChatID: 10}
	c.HandleQuery(context.Background(), key, "song")
	st := sessions.Get(key)
	prompt := tp.edits[len(tp.edits)-1].ref

	if got := c.HandleSelection(context.Background(), key, st.Generation(), 1, "cb1", prompt); got != ResultTransportFailure {
		t.Fatalf("HandleSelection = %v, want ResultTransportFailure", got)
	}
	if got := tp.lastText(t); got != msgSendFailed {
		t.Fatalf("final message = %q, want %q", got, msgSendFailed)
	}
	requireNoFiles(t, dir)
}

func TestParseSelection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		gen  uint64
		idx  int
		ok   bool
	}{
		{"3:1", 3, 1, true},
		{"0:0", 0, 0, true},
		{"18446744073709551615:4", 1<<64 - 1, 4, true},
		{"", 0, 0, false},
		{"abc", 0, 0, false},
		{":1", 0, 0, false},
	}
	for _, tc := range cases {
		gen, idx, ok := ParseSelection(tc.in)
		if gen != tc.gen || idx != tc.idx || ok != tc.ok {
			t.Fatalf("ParseSelection(%q) = (%d, %d, %v), want (%d, %d, %v)", tc.in, gen, idx, ok, tc.gen, tc.idx, tc.ok)
		}
	}
}

func TestFmtDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		secs int
		want string
	}{
		{0, "?:??"},
		{-5, "?:??"},
		{59, "0:59"},
		{61, "1:01"},
		{3600, "60:00"},
	}
	for _, tc := range cases {
		if got := fmtDuration(tc.secs); got != tc.want {
			t.Fatalf("fmtDuration(%d) = %q, want %q", tc.secs, got, tc.want)
		}
	}
}

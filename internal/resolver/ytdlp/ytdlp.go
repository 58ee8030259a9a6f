// Package ytdlp drives the yt-dlp executable as the resolution engine.
//
// Search uses flat playlist extraction (no download); fetch downloads best
// audio, transcodes to mp3 and grabs a jpg thumbnail, all under a
// request-scoped output base owned by the artifact store.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"tunebot/internal/artifact"
	"tunebot/internal/resolver"
	logx "tunebot/pkg/logx"
)

type Config struct {
	// Binary is the yt-dlp executable name or path.
	Binary string
	// Limit is the top-K search bound.
	Limit           int
	SearchTimeout   time.Duration
	DownloadTimeout time.Duration
}

type Engine struct {
	mu        sync.Mutex
	cfg       Config
	artifacts *artifact.Store
	log       logx.Logger
}

var _ resolver.Resolver = (*Engine)(nil)

func New(cfg Config, artifacts *artifact.Store, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{artifacts: artifacts, log: log}
	e.Apply(cfg)
	return e
}

// Apply swaps engine knobs at runtime (config reload).
func (e *Engine) Apply(cfg Config) {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 5 * time.Minute
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) snapshot() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// directLinkRe matches watch/short links of the supported host.
var directLinkRe = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.|m\.|music\.)?(?:youtube\.com/(?:watch\?\S*v=|shorts/)|youtu\.be/)[\w-]{6,}`)

// IsDirectLink reports whether raw is a direct media link (resolve-and-
// download, no selection step) rather than a search query.
func IsDirectLink(raw string) bool {
	return directLinkRe.MatchString(strings.TrimSpace(raw))
}

func (e *Engine) Resolve(ctx context.Context, raw string) (resolver.Resolution, error) {
	raw = strings.TrimSpace(raw)
	if IsDirectLink(raw) {
		art, err := e.Fetch(ctx, raw)
		if err != nil {
			return resolver.Resolution{}, err
		}
		return resolver.Resolution{Outcome: resolver.OutcomeDirect, Artifact: art}, nil
	}

	cands, err := e.search(ctx, raw)
	if err != nil {
		return resolver.Resolution{}, err
	}
	if len(cands) == 0 {
		return resolver.Resolution{Outcome: resolver.OutcomeNotFound}, nil
	}
	return resolver.Resolution{Outcome: resolver.OutcomeCandidates, Candidates: cands}, nil
}

// searchEntry is the subset of yt-dlp's flat-playlist JSON we consume.
type searchEntry struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Channel  string  `json:"channel"`
	Duration float64 `json:"duration"`
	URL      string  `json:"url"`
	Webpage  string  `json:"webpage_url"`
}

func (e *Engine) search(ctx context.Context, query string) ([]resolver.Candidate, error) {
	cfg := e.snapshot()
	ctx, cancel := context.WithTimeout(ctx, cfg.SearchTimeout)
	defer cancel()

	target := fmt.Sprintf("ytsearch%d:%s", cfg.Limit, query)
	cmd := exec.CommandContext(ctx, cfg.Binary,
		"--dump-json",
		"--flat-playlist",
		"--no-warnings",
		"--quiet",
		target,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	e.log.Debug("search finished", logx.String("query", query), logx.Duration("took", time.Since(start)), logx.Err(err))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &resolver.Error{Reason: "search timed out", Err: ctx.Err()}
		}
		return nil, &resolver.Error{Reason: "search failed", Err: engineErr(err, &stderr)}
	}

	return parseSearchOutput(stdout.Bytes(), cfg.Limit), nil
}

// parseSearchOutput decodes yt-dlp's one-JSON-object-per-line output,
// preserving engine order. Malformed lines are skipped.
func parseSearchOutput(out []byte, limit int) []resolver.Candidate {
	var cands []resolver.Candidate
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ent searchEntry
		if err := json.Unmarshal(line, &ent); err != nil {
			continue
		}
		c := resolver.Candidate{
			Title:           ent.Title,
			Uploader:        firstNonEmpty(ent.Uploader, ent.Channel),
			DurationSeconds: int(ent.Duration),
			Locator:         firstNonEmpty(ent.Webpage, ent.URL),
		}
		if c.Locator == "" && ent.ID != "" {
			c.Locator = "https://www.youtube.com/watch?v=" + ent.ID
		}
		if c.Locator == "" {
			continue
		}
		if c.Title == "" {
			c.Title = "Unknown Title"
		}
		cands = append(cands, c)
		if len(cands) >= limit {
			break
		}
	}
	return cands
}

// downloadInfo is the subset of yt-dlp's post-download JSON we consume.
type downloadInfo struct {
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Channel  string  `json:"channel"`
	Duration float64 `json:"duration"`
}

func (e *Engine) Fetch(ctx context.Context, locator string) (*resolver.Artifact, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, &resolver.Error{Reason: "empty source locator"}
	}

	cfg := e.snapshot()
	ctx, cancel := context.WithTimeout(ctx, cfg.DownloadTimeout)
	defer cancel()

	attempt := e.artifacts.NewAttempt()
	cmd := exec.CommandContext(ctx, cfg.Binary,
		"--no-playlist",
		"--no-warnings",
		"--quiet",
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3",
		"--write-thumbnail", "--convert-thumbnails", "jpg",
		"--print-json",
		"-o", attempt.Base()+".%(ext)s",
		locator,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	e.log.Debug("download finished", logx.String("attempt", attempt.ID()), logx.Duration("took", time.Since(start)), logx.Err(err))
	if err != nil {
		// Partially written files from the failed attempt must not outlive it.
		attempt.Cleanup()
		if ctx.Err() != nil {
			return nil, &resolver.Error{Reason: "download timed out", Err: ctx.Err()}
		}
		return nil, &resolver.Error{Reason: "download failed", Err: engineErr(err, &stderr)}
	}

	audioPath := attempt.Base() + ".mp3"
	if _, statErr := os.Stat(audioPath); statErr != nil {
		attempt.Cleanup()
		return nil, &resolver.Error{Reason: "no audio produced", Err: statErr}
	}

	art := &resolver.Artifact{AudioPath: audioPath}
	thumbPath := attempt.Base() + ".jpg"
	if _, statErr := os.Stat(thumbPath); statErr == nil {
		art.ThumbPath = thumbPath
	}

	var info downloadInfo
	if jerr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &info); jerr == nil {
		art.Title = info.Title
		art.Uploader = firstNonEmpty(info.Uploader, info.Channel)
		art.DurationSeconds = int(info.Duration)
	}
	if art.Title == "" {
		art.Title = "Unknown Title"
	}
	if art.Uploader == "" {
		art.Uploader = "Unknown Artist"
	}
	return art, nil
}

// engineErr keeps a short slice of stderr for logs; the user only ever sees
// the typed Reason.
func engineErr(err error, stderr *bytes.Buffer) error {
	tail := strings.TrimSpace(stderr.String())
	if tail == "" {
		return err
	}
	lines := strings.Split(tail, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if len(last) > 200 {
		last = last[:200]
	}
	return errors.Join(err, errors.New(last))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

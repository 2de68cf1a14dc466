// Package ingest implements the Ingestion Preprocessor (§4.11): decodes a
// base64 document upload, extracts readable text from HTML via
// `go-shiori/go-readability`, converts any remaining HTML to Markdown via
// `JohannesKaufmann/html-to-markdown/v2`, passes already-plain-text content
// through unchanged, and content-hashes the result for idempotency before
// it ever reaches the memorising Step Loop path.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"

	"memoria/internal/errs"
	"memoria/internal/steploop"
	"memoria/internal/store"
)

// Upload is one /documents/upload request body.
type Upload struct {
	UserID      string
	Filename    string
	ContentType string
	DataBase64  string
	SourceURL   string // optional, used as readability's base URL for relative links
}

// Result is the preprocessed document ready for the memorising path.
type Result struct {
	ContentHash string
	Text        string
	Deduped     bool
}

// Preprocessor wires the Store (idempotency ledger) and Step Loop
// (memorising fork) the upload handler needs.
type Preprocessor struct {
	Store *store.Store
	Loop  *steploop.Loop
}

// Process decodes and extracts u's text, checks the content hash against
// the durable idempotency ledger, and — if new — runs it through the
// memorising Step Loop path against userID's chat agent.
func (p *Preprocessor) Process(ctx context.Context, u Upload) (Result, error) {
	raw, err := base64.StdEncoding.DecodeString(u.DataBase64)
	if err != nil {
		return Result{}, errs.New(errs.InvalidInput, "invalid base64 payload", err)
	}

	text, err := extractText(string(raw), u.ContentType, u.SourceURL)
	if err != nil {
		return Result{}, err
	}

	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])

	seen, err := p.Store.MarkOtidSeen(ctx, u.UserID, "doc:"+hash)
	if err != nil {
		return Result{}, err
	}
	if seen {
		return Result{ContentHash: hash, Text: text, Deduped: true}, nil
	}

	chatAgent, err := p.Store.GetAgentByType(ctx, u.UserID, store.AgentChat)
	if err != nil {
		return Result{}, err
	}

	instruction := fmt.Sprintf("Store the following uploaded document (%s) as resource memory:\n\n%s", u.Filename, text)
	in := steploop.Input{
		AgentID:    chatAgent.ID,
		UserID:     u.UserID,
		Messages:   []steploop.IncomingMessage{{Content: instruction}},
		Memorizing: true,
	}
	if _, err := p.Loop.Run(ctx, in, noopSink{}); err != nil && !errs.Is(err, errs.Cancelled) {
		return Result{}, err
	}

	return Result{ContentHash: hash, Text: text}, nil
}

// extractText implements §4.11's content-type dispatch: HTML goes through
// readability then html-to-markdown, text/* passes through unchanged, and
// anything else is rejected — the upload endpoint only accepts document
// content types.
func extractText(raw, contentType, sourceURL string) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch {
	case ct == "text/html" || ct == "application/xhtml+xml":
		base, _ := url.Parse(sourceURL)
		art, rerr := readability.FromReader(strings.NewReader(raw), base)
		articleHTML := raw
		title := ""
		if rerr == nil && strings.TrimSpace(art.Content) != "" {
			articleHTML = art.Content
			title = strings.TrimSpace(art.Title)
		}
		md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(baseOrigin(sourceURL)))
		if err != nil {
			return "", errs.New(errs.InvalidInput, "html to markdown conversion failed", err)
		}
		md = strings.TrimSpace(md)
		if title != "" && !strings.HasPrefix(md, "# ") {
			md = "# " + title + "\n\n" + md
		}
		return md, nil

	case strings.HasPrefix(ct, "text/"):
		return raw, nil

	default:
		return "", errs.New(errs.InvalidInput, "unsupported document content type "+ct, nil)
	}
}

func baseOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

type noopSink struct{}

func (noopSink) Emit(context.Context, steploop.Event) error { return nil }

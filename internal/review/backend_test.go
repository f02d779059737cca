package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/proofloop/galley/internal/models"
)

const testChapterID = int64(7)

// fakeBackend serves the review API for one in-memory chapter with the same
// action semantics and error shapes as the real server, and records every
// request it sees.
type fakeBackend struct {
	mu         sync.Mutex
	paragraphs map[int]*models.Paragraph
	requests   []string
	bodies     []string
	thinking   bool
	failGets   bool

	server *httptest.Server
}

func newFakeBackend(t *testing.T, paragraphs ...models.Paragraph) *fakeBackend {
	t.Helper()
	b := &fakeBackend{paragraphs: make(map[int]*models.Paragraph)}
	for i := range paragraphs {
		p := paragraphs[i]
		p.PartOfChapter = testChapterID
		b.paragraphs[p.Index] = &p
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chapters/{chapterID}/paragraphs/{index}", b.handleGet)
	mux.HandleFunc("POST /api/chapters/{chapterID}/paragraphs/{index}/{action}", b.handleAction)
	mux.HandleFunc("GET /api/zen/nextParagraph/{chapterID}", b.handleNext)
	mux.HandleFunc("GET /api/ai/status", b.handleAI)

	b.server = httptest.NewServer(b.recording(mux))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) url() string { return b.server.URL }

func (b *fakeBackend) recording(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(data))
		b.mu.Lock()
		b.requests = append(b.requests, r.Method+" "+r.URL.Path)
		b.bodies = append(b.bodies, string(data))
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (b *fakeBackend) handleGet(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failGets {
		writeTestError(w, http.StatusInternalServerError, "backend down")
		return
	}
	idx, _ := strconv.Atoi(r.PathValue("index"))
	p, ok := b.paragraphs[idx]
	if !ok {
		writeTestError(w, http.StatusNotFound, "paragraph not found")
		return
	}
	writeTestJSON(w, http.StatusOK, p)
}

func (b *fakeBackend) handleAction(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, _ := strconv.Atoi(r.PathValue("index"))
	p, ok := b.paragraphs[idx]
	if !ok {
		writeTestError(w, http.StatusNotFound, "paragraph not found")
		return
	}
	var action models.Action
	switch r.PathValue("action") {
	case "generateCorrection":
		action = models.ActionGenerate
	case "saveManual":
		action = models.ActionSave
	case "approve":
		action = models.ActionApprove
	case "reject":
		action = models.ActionReject
	case "clear":
		action = models.ActionClear
	default:
		writeTestError(w, http.StatusNotFound, "unknown action")
		return
	}
	if !models.Allowed(p.CorrectionStatus, action) {
		writeTestError(w, http.StatusConflict,
			fmt.Sprintf("cannot %s paragraph in status %s", action, p.CorrectionStatus))
		return
	}

	switch action {
	case models.ActionGenerate:
		writeTestJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	case models.ActionSave:
		var req models.SaveManualRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.CorrectedText == "" {
			writeTestError(w, http.StatusBadRequest, "correctedText must not be empty")
			return
		}
		p.ManuallyCorrectedText = req.CorrectedText
		if p.CorrectionStatus != models.StatusNotGenerated {
			p.CorrectionStatus = models.StatusReviewed
		}
	case models.ActionApprove:
		var req models.ApproveRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.CorrectedText == nil {
			p.CorrectionStatus = models.StatusNotRequired
		} else {
			if *req.CorrectedText != p.CorrectedText {
				p.ManuallyCorrectedText = *req.CorrectedText
			}
			p.CorrectionStatus = models.StatusAccepted
		}
	case models.ActionReject:
		p.CorrectionStatus = models.StatusRejected
	case models.ActionClear:
		p.CorrectedText = ""
		p.ManuallyCorrectedText = ""
		p.CorrectionStatus = models.StatusNotGenerated
	}
	writeTestJSON(w, http.StatusOK, p)
}

func (b *fakeBackend) handleNext(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current, err := strconv.Atoi(r.URL.Query().Get("current"))
	if err != nil {
		writeTestError(w, http.StatusBadRequest, "invalid current index")
		return
	}
	reverse := r.URL.Query().Get("reverse") == "true"

	best := 0
	for idx, p := range b.paragraphs {
		if !p.CorrectionStatus.NeedsReview() {
			continue
		}
		if reverse && idx < current && (best == 0 || idx > best) {
			best = idx
		}
		if !reverse && idx > current && (best == 0 || idx < best) {
			best = idx
		}
	}
	if best == 0 {
		if p, ok := b.paragraphs[current]; ok && p.CorrectionStatus.NeedsReview() {
			best = current
		}
	}
	if best == 0 {
		writeTestError(w, http.StatusNotFound, "no more paragraphs need review")
		return
	}
	writeTestJSON(w, http.StatusOK, models.NextParagraphResponse{Next: best})
}

func (b *fakeBackend) handleAI(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeTestJSON(w, http.StatusOK, models.AIStatus{Thinking: b.thinking})
}

func (b *fakeBackend) requestCount(substr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, req := range b.requests {
		if strings.Contains(req, substr) {
			n++
		}
	}
	return n
}

// lastBodyOf returns the body of the most recent request whose line contains
// substr, or "" when none matched.
func (b *fakeBackend) lastBodyOf(substr string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.requests) - 1; i >= 0; i-- {
		if strings.Contains(b.requests[i], substr) {
			return b.bodies[i]
		}
	}
	return ""
}

func (b *fakeBackend) setStatus(idx int, status models.CorrectionStatus, corrected string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.paragraphs[idx]
	p.CorrectionStatus = status
	if corrected != "" {
		p.CorrectedText = corrected
	}
}

func (b *fakeBackend) setFailGets(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failGets = fail
}

func (b *fakeBackend) setThinking(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.thinking = v
}

func (b *fakeBackend) paragraph(idx int) models.Paragraph {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.paragraphs[idx]
}

func writeTestJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeTestError(w http.ResponseWriter, status int, msg string) {
	writeTestJSON(w, status, map[string]string{"error": msg})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

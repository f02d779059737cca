package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/proofloop/galley/internal/models"
)

// ErrNoTextToSave is returned when a manual save is attempted with an empty
// edit surface. Saving nothing is refused without a request; approving
// nothing is legal and means "keep the original" (see Approve).
var ErrNoTextToSave = errors.New("no text to save")

// ErrSessionClosed is returned by operations on a closed Session.
var ErrSessionClosed = errors.New("review session is closed")

// ErrNoParagraph is returned by actions invoked before any paragraph has
// been loaded.
var ErrNoParagraph = errors.New("no paragraph loaded")

// Session drives zen review of one chapter. It owns the currently displayed
// paragraph, its edit surface, the completion poller watching a pending
// generation, and the global activity indicator. The paragraph, its texts,
// and the per-action processing flags belong to this session alone; nothing
// is shared between sessions.
//
// Every action follows the same contract: the processing flag for the action
// is set, exactly one request goes out, a failure records a user-visible
// error and leaves local state untouched, a success clears the error and
// applies the local effect, and the flag is reset on every path.
type Session struct {
	client    *Client
	chapterID int64
	logger    *zap.Logger

	pollInterval     time.Duration
	activityInterval time.Duration

	mu         sync.Mutex
	current    *models.Paragraph
	doc        *DiffDocument
	editBuffer string
	processing map[models.Action]bool
	errMsg     string
	poller     *Poller
	activity   *ActivityPoller
	closed     bool

	navWG sync.WaitGroup
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the logger for the session and its pollers.
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithSessionPollInterval overrides the completion poll interval.
func WithSessionPollInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.pollInterval = d }
}

// WithSessionActivityInterval overrides the activity indicator interval.
func WithSessionActivityInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.activityInterval = d }
}

// NewSession creates a review session for one chapter.
func NewSession(client *Client, chapterID int64, opts ...SessionOption) *Session {
	s := &Session{
		client:           client,
		chapterID:        chapterID,
		logger:           zap.NewNop(),
		pollInterval:     DefaultPollInterval,
		activityInterval: DefaultActivityInterval,
		processing:       make(map[models.Action]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the global activity indicator. It does not load a
// paragraph; call Next to enter the chapter at the first paragraph needing
// review.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.activity != nil {
		s.mu.Unlock()
		return nil
	}
	activity := NewActivityPoller(s.client, nil, WithActivityInterval(s.activityInterval))
	s.activity = activity
	s.mu.Unlock()
	return activity.Start(ctx)
}

// Close tears the session down: both pollers stop, in-flight navigation
// finishes, and the diff surface is disposed. Results of requests that were
// already in flight are dropped. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	poller, activity, doc := s.poller, s.activity, s.doc
	s.poller, s.activity, s.doc = nil, nil, nil
	s.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	if activity != nil {
		activity.Stop()
	}
	s.navWG.Wait()
	if doc != nil {
		doc.Close()
	}
}

// Current returns the displayed paragraph, nil before the first load.
func (s *Session) Current() *models.Paragraph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Err returns the current user-visible error message, empty after the last
// action succeeded.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Thinking reports the last known state of the global activity indicator.
func (s *Session) Thinking() bool {
	s.mu.Lock()
	activity := s.activity
	s.mu.Unlock()
	if activity == nil {
		return false
	}
	return activity.Thinking()
}

// Processing reports whether a request for the given action is in flight.
func (s *Session) Processing(action models.Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing[action]
}

// Polling reports whether the completion poller is watching the current
// paragraph.
func (s *Session) Polling() bool {
	s.mu.Lock()
	poller := s.poller
	s.mu.Unlock()
	return poller != nil && poller.Running()
}

// Document returns the live diff surface, nil while the paragraph has no
// correction.
func (s *Session) Document() *DiffDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Edited returns the reviewer's working text: the modified side of the diff
// surface when a correction exists, the plain edit buffer otherwise.
func (s *Session) Edited() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, err := s.reconcileLocked()
	if err != nil {
		return ""
	}
	return text
}

// SetEdited replaces the working text.
func (s *Session) SetEdited(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.doc != nil {
		return s.doc.SetEditedText(text)
	}
	s.editBuffer = text
	return nil
}

// Load fetches the paragraph at index and makes it current.
func (s *Session) Load(ctx context.Context, index int) error {
	p, err := s.client.GetParagraph(ctx, s.chapterID, index)
	if err != nil {
		return s.fail(err)
	}
	s.apply(ctx, p)
	return nil
}

// Next moves to the nearest following paragraph that needs review.
func (s *Session) Next(ctx context.Context) error {
	return s.navigate(ctx, false)
}

// Prev moves to the nearest preceding paragraph that needs review.
func (s *Session) Prev(ctx context.Context) error {
	return s.navigate(ctx, true)
}

// navigate asks the server for the target index. The server owns the skip
// order; the session never recomputes it from cached paragraphs. An answer
// equal to the current index means nothing further needs review in that
// direction and triggers no reload. On failure the current paragraph stays
// displayed.
func (s *Session) navigate(ctx context.Context, reverse bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	current := 0
	if s.current != nil {
		current = s.current.Index
	}
	s.mu.Unlock()

	next, err := s.client.NextParagraph(ctx, s.chapterID, current, reverse)
	if err != nil {
		return s.fail(err)
	}
	if next == current {
		return nil
	}
	return s.Load(ctx, next)
}

// SaveManual persists the working text as the manual correction and stays on
// the paragraph. An empty working text fails before any request goes out.
func (s *Session) SaveManual(ctx context.Context) error {
	release, err := s.begin(models.ActionSave)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	index := s.current.Index
	text, rerr := s.reconcileLocked()
	s.mu.Unlock()
	if rerr != nil {
		return s.fail(rerr)
	}
	if text == "" {
		return s.fail(ErrNoTextToSave)
	}

	p, err := s.client.SaveManual(ctx, s.chapterID, index, text)
	if err != nil {
		return s.fail(err)
	}
	s.apply(ctx, p)
	return nil
}

// Approve finalizes the current paragraph and moves on. An empty working
// text is sent as null, telling the server no correction is needed.
// Navigation to the next paragraph fires without blocking on its completion.
func (s *Session) Approve(ctx context.Context) error {
	release, err := s.begin(models.ActionApprove)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	index := s.current.Index
	text, rerr := s.reconcileLocked()
	s.mu.Unlock()
	if rerr != nil {
		return s.fail(rerr)
	}
	var body *string
	if text != "" {
		body = &text
	}

	if err := s.client.Approve(ctx, s.chapterID, index, body); err != nil {
		return s.fail(err)
	}
	s.clearError()
	s.advance(ctx)
	return nil
}

// Reject dismisses the correction and moves on. The local status flips to
// rejected right away so the view never shows the stale status; the overlay
// lasts only until the next authoritative fetch replaces the paragraph.
// Edits pending in the diff surface are discarded.
func (s *Session) Reject(ctx context.Context) error {
	release, err := s.begin(models.ActionReject)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	index := s.current.Index
	s.mu.Unlock()

	if err := s.client.Reject(ctx, s.chapterID, index); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	if !s.closed && s.current != nil && s.current.Index == index {
		s.current.CorrectionStatus = models.StatusRejected
		if s.doc != nil {
			s.doc.Close()
			s.doc = NewDiffDocument(s.current.OriginalText, s.current.EffectiveCorrection())
		}
	}
	s.errMsg = ""
	s.mu.Unlock()

	s.advance(ctx)
	return nil
}

// Generate asks the server to queue correction generation, then re-fetches
// the paragraph. Generation is asynchronous, so the fresh status is normally
// still notGenerated and the completion poller takes over. Regenerating a
// paragraph that already holds a correction starts no poller; the new text
// appears on the next Load.
func (s *Session) Generate(ctx context.Context) error {
	release, err := s.begin(models.ActionGenerate)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	index := s.current.Index
	s.mu.Unlock()

	if err := s.client.GenerateCorrection(ctx, s.chapterID, index); err != nil {
		return s.fail(err)
	}
	return s.Load(ctx, index)
}

// Clear resets the paragraph to notGenerated, dropping both corrected
// texts, then re-fetches it.
func (s *Session) Clear(ctx context.Context) error {
	release, err := s.begin(models.ActionClear)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	index := s.current.Index
	s.mu.Unlock()

	if err := s.client.Clear(ctx, s.chapterID, index); err != nil {
		return s.fail(err)
	}
	return s.Load(ctx, index)
}

// advance fires forward navigation in the background. Errors land in the
// session error message like any other navigation failure.
func (s *Session) advance(ctx context.Context) {
	s.navWG.Add(1)
	go func() {
		defer s.navWG.Done()
		_ = s.Next(ctx)
	}()
}

// begin gates an action: the session must be open, a paragraph loaded, the
// action legal for its status, and no identical action already in flight.
// The returned release resets the processing flag and runs deferred on every
// path, after any error message has been recorded.
func (s *Session) begin(action models.Action) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.current == nil {
		return nil, ErrNoParagraph
	}
	if !models.Allowed(s.current.CorrectionStatus, action) {
		err := fmt.Errorf("cannot %s paragraph in status %s", action, s.current.CorrectionStatus)
		s.errMsg = err.Error()
		return nil, err
	}
	if s.processing[action] {
		return nil, fmt.Errorf("%s already in progress", action)
	}
	s.processing[action] = true
	return func() {
		s.mu.Lock()
		s.processing[action] = false
		s.mu.Unlock()
	}, nil
}

// reconcileLocked returns the single string a save or approve would persist:
// whatever the reviewer currently sees as the new text. Callers hold s.mu.
func (s *Session) reconcileLocked() (string, error) {
	if s.closed {
		return "", ErrSessionClosed
	}
	if s.doc != nil {
		return s.doc.EditedText()
	}
	return s.editBuffer, nil
}

// fail records a user-visible error and returns it. Local paragraph state
// stays exactly as it was; the reviewer retries by hand.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	if !s.closed {
		s.errMsg = err.Error()
	}
	s.mu.Unlock()
	return err
}

func (s *Session) clearError() {
	s.mu.Lock()
	s.errMsg = ""
	s.mu.Unlock()
}

// apply installs an authoritative paragraph: the previous diff surface and
// poller are disposed, the edit surface is rebuilt from the server's texts,
// and a completion poller starts when the paragraph is waiting on
// generation. Updates arriving after Close are dropped.
func (s *Session) apply(ctx context.Context, p *models.Paragraph) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.doc != nil {
		s.doc.Close()
		s.doc = nil
	}
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
	s.current = p
	s.errMsg = ""
	s.editBuffer = ""
	if p.HasCorrection() {
		s.doc = NewDiffDocument(p.OriginalText, p.EffectiveCorrection())
	} else {
		s.editBuffer = p.OriginalText
	}

	var poller *Poller
	if p.CorrectionStatus == models.StatusNotGenerated {
		poller = NewPoller(s.client, s.chapterID, p.Index,
			func(updated *models.Paragraph) { s.apply(ctx, updated) },
			func(err error) { s.pollError(err) },
			WithPollInterval(s.pollInterval),
			WithPollerLogger(s.logger))
		s.poller = poller
	}
	s.mu.Unlock()

	if poller != nil {
		_ = poller.Start(ctx)
	}
	s.logger.Debug("paragraph loaded",
		zap.Int64("chapter_id", s.chapterID),
		zap.Int("paragraph", p.Index),
		zap.String("status", p.CorrectionStatus.String()),
		zap.Bool("polling", poller != nil))
}

func (s *Session) pollError(err error) {
	s.mu.Lock()
	if !s.closed {
		s.errMsg = err.Error()
	}
	s.mu.Unlock()
}

package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CivicPipe/internal/attachment"
	"github.com/BTreeMap/CivicPipe/internal/models"
	"github.com/BTreeMap/CivicPipe/internal/util"
	"github.com/BTreeMap/CivicPipe/internal/verify"
)

// Engine defaults.
const (
	DefaultMaxAttempts     = 3
	DefaultClassifyTimeout = 20 * time.Second
	// MaxMessageLength bounds a single outbound assistant message.
	MaxMessageLength = 3800
)

// CancelKeyword ends the active flow at any step that accepts text.
const CancelKeyword = "cancel"

// Messenger sends replies to users.
type Messenger interface {
	SendMessage(ctx context.Context, to, body string) error
	SendDocument(ctx context.Context, to, filename string, data []byte, caption string) error
}

// Classifier suggests a complaint category for an incident description.
type Classifier interface {
	Classify(ctx context.Context, description string) (string, error)
}

// Assistant answers free-form questions from users outside any flow.
type Assistant interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Capturer validates and stores inbound attachments.
type Capturer interface {
	Capture(ctx context.Context, flow models.FlowKind, userID string, purpose attachment.Purpose, ev models.Event) (string, error)
}

// Completer finalizes completed sessions.
type Completer interface {
	Finalize(ctx context.Context, s *models.Session) (*Result, error)
}

// Deps are the collaborators of an Engine. Classifier and Assistant may be
// nil; the engine then falls back to manual category entry and a help hint.
type Deps struct {
	Sessions   SessionStore
	Messenger  Messenger
	Verifier   verify.Provider
	Capturer   Capturer
	Classifier Classifier
	Assistant  Assistant
	Finalizer  Completer
}

// Opts holds engine configuration.
type Opts struct {
	MaxAttempts               int
	ClassifyTimeout           time.Duration
	ResetAttemptsOnPhoneEntry bool
	CountryCode               string
	Now                       func() time.Time
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithMaxAttempts sets the number of incorrect codes that ends a session.
func WithMaxAttempts(n int) Option {
	return func(o *Opts) { o.MaxAttempts = n }
}

// WithClassifyTimeout bounds the classification call.
func WithClassifyTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ClassifyTimeout = d }
}

// WithResetAttemptsOnPhoneEntry resets the incorrect-code counter whenever a
// code is successfully issued from the phone step. The built-in flows only
// reach the phone step before any code is checked, so the counter is already
// zero there; the option matters for flows that revisit the phone step.
func WithResetAttemptsOnPhoneEntry(reset bool) Option {
	return func(o *Opts) { o.ResetAttemptsOnPhoneEntry = reset }
}

// WithCountryCode sets the prefix added to bare national phone numbers.
func WithCountryCode(code string) Option {
	return func(o *Opts) { o.CountryCode = code }
}

// WithClock overrides the session timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Engine interprets flow definitions, one inbound event at a time per user.
type Engine struct {
	Deps
	opts Opts
}

// NewEngine creates an Engine.
func NewEngine(deps Deps, opts ...Option) *Engine {
	cfg := Opts{
		MaxAttempts:     DefaultMaxAttempts,
		ClassifyTimeout: DefaultClassifyTimeout,
		CountryCode:     util.DefaultCountryCode,
		Now:             time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = DefaultClassifyTimeout
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = util.DefaultCountryCode
	}
	slog.Debug("NewEngine created", "maxAttempts", cfg.MaxAttempts, "classifyTimeout", cfg.ClassifyTimeout, "resetOnPhoneEntry", cfg.ResetAttemptsOnPhoneEntry)
	return &Engine{Deps: deps, opts: cfg}
}

// SessionStore returns the engine's session store.
func (e *Engine) SessionStore() SessionStore {
	return e.Sessions
}

// Handle processes one inbound event. Events for the same user are
// serialized; distinct users proceed independently.
func (e *Engine) Handle(ctx context.Context, ev models.Event) error {
	if ev.UserID == "" {
		return models.ErrEmptyUserID
	}
	unlock := e.Sessions.Lock(ev.UserID)
	defer unlock()

	text := strings.TrimSpace(ev.Text)
	slog.Debug("Engine Handle invoked", "user", ev.UserID, "kind", ev.Kind)

	if ev.Kind == models.EventText && strings.HasPrefix(text, "/") {
		return e.handleCommand(ctx, ev.UserID, text)
	}

	s, ok := e.Sessions.Active(ev.UserID)
	if !ok {
		return e.handleIdle(ctx, ev, text)
	}
	return e.handleStep(ctx, s, ev, text)
}

func (e *Engine) handleCommand(ctx context.Context, userID, text string) error {
	cmd := strings.ToLower(strings.Fields(text)[0])
	switch cmd {
	case "/start":
		return e.send(ctx, userID, WelcomeText)
	case "/help":
		return e.send(ctx, userID, HelpText)
	case "/cancel":
		s, ok := e.Sessions.Active(userID)
		if !ok {
			return e.send(ctx, userID, "❌ Operation cancelled.\n\nUse /start to begin again.")
		}
		def, _ := Get(s.Flow)
		e.Sessions.Delete(userID, s.Flow)
		slog.Info("Engine session cancelled", "user", userID, "flow", s.Flow, "state", s.State)
		return e.send(ctx, userID, e.cancelReply(userID, def))
	}

	def, ok := ByCommand(cmd)
	if !ok {
		return e.send(ctx, userID, "🤔 I don't know that command. Type /help to see what I can do.")
	}
	s := models.NewSession(userID, def.Kind, def.First(), e.opts.Now())
	if err := e.Sessions.Put(s); err != nil {
		slog.Error("Engine failed to start session", "error", err, "user", userID, "flow", def.Kind)
		return err
	}
	slog.Info("Engine session started", "user", userID, "flow", def.Kind)
	first, _ := def.Step(def.First())
	return e.send(ctx, userID, join(def.Intro, first.Prompt(s)))
}

func (e *Engine) handleIdle(ctx context.Context, ev models.Event, text string) error {
	switch ev.Kind {
	case models.EventImage, models.EventDocument:
		return e.send(ctx, ev.UserID, "📸 File received! I only keep files that belong to an application.\n\nFor traffic violations, please use the /traffic command.")
	case models.EventLocation:
		return e.send(ctx, ev.UserID, "📍 Location received. To report a traffic violation at this place, use /traffic.")
	}
	if text == "" {
		return nil
	}
	if e.Assistant == nil {
		return e.send(ctx, ev.UserID, HelpText)
	}

	answer, err := e.Assistant.Answer(ctx, text)
	if err != nil || strings.TrimSpace(answer) == "" {
		slog.Error("Engine assistant answer failed", "error", err, "user", ev.UserID)
		return e.send(ctx, ev.UserID, "I apologize, I'm having trouble. Please try:\n/help - Show commands\n/complaint - File complaint\n/rti - File RTI\n/traffic - Report traffic violation")
	}
	for _, chunk := range chunkText(answer, MaxMessageLength) {
		if err := e.send(ctx, ev.UserID, chunk); err != nil {
			return err
		}
	}
	return nil
}

type transition int

const (
	stay transition = iota
	advance
	terminate
)

// outcome is what a step handler decided for one event.
type outcome struct {
	transition transition
	notice     string
	reprompt   bool
}

func stayWith(notice string) outcome {
	return outcome{transition: stay, notice: notice}
}

func reprompt(notice string) outcome {
	return outcome{transition: stay, notice: notice, reprompt: true}
}

func (e *Engine) handleStep(ctx context.Context, s *models.Session, ev models.Event, text string) error {
	def, ok := Get(s.Flow)
	var step *Step
	if ok {
		step, ok = def.Step(s.State)
	}
	if !ok {
		slog.Error("Engine session in unknown state, discarding", "user", s.UserID, "flow", s.Flow, "state", s.State)
		e.Sessions.Delete(s.UserID, s.Flow)
		return e.send(ctx, s.UserID, "❌ Something went wrong with your application. Please start again with /start.")
	}

	if ev.Kind == models.EventText && strings.EqualFold(text, CancelKeyword) {
		e.Sessions.Delete(s.UserID, s.Flow)
		slog.Info("Engine session cancelled", "user", s.UserID, "flow", s.Flow, "state", s.State)
		return e.send(ctx, s.UserID, e.cancelReply(s.UserID, def))
	}

	work := s.Clone()
	out := e.dispatch(ctx, def, step, work, ev, text)

	switch out.transition {
	case stay:
		// Only the attempt counter survives a self-loop.
		if work.Attempts != s.Attempts {
			s.Attempts = work.Attempts
			s.UpdatedAt = e.opts.Now()
			if err := e.Sessions.Put(s); err != nil {
				return err
			}
		}
		msg := out.notice
		if out.reprompt || msg == "" {
			msg = join(msg, step.Prompt(s))
		}
		slog.Debug("Engine step repeated", "user", s.UserID, "flow", s.Flow, "state", s.State, "attempts", s.Attempts)
		return e.send(ctx, s.UserID, msg)

	case terminate:
		e.Sessions.Delete(s.UserID, s.Flow)
		slog.Info("Engine session terminated", "user", s.UserID, "flow", s.Flow, "state", s.State, "attempts", work.Attempts)
		return e.send(ctx, s.UserID, out.notice)
	}

	next := def.Next(step.Name)
	notice := join(out.notice, step.Accepted)
	work.State = next
	work.UpdatedAt = e.opts.Now()
	if err := e.Sessions.Put(work); err != nil {
		slog.Error("Engine failed to commit session", "error", err, "user", s.UserID, "flow", s.Flow)
		return err
	}
	slog.Debug("Engine step advanced", "user", s.UserID, "flow", s.Flow, "from", s.State, "to", next)

	if next == models.StateComplete {
		return e.complete(ctx, def, work, notice)
	}
	nextStep, _ := def.Step(next)
	return e.send(ctx, s.UserID, join(notice, nextStep.Prompt(work)))
}

func (e *Engine) complete(ctx context.Context, def *Definition, s *models.Session, notice string) error {
	if err := e.send(ctx, s.UserID, join(notice, def.Processing)); err != nil {
		slog.Warn("Engine processing notice not delivered", "error", err, "user", s.UserID)
	}

	res, err := e.Finalizer.Finalize(ctx, s)
	e.Sessions.Delete(s.UserID, s.Flow)
	if err != nil {
		slog.Error("Engine finalize failed", "error", err, "user", s.UserID, "flow", s.Flow)
		return e.send(ctx, s.UserID, fmt.Sprintf("❌ Processing failed. Please try again with %s.", def.Command))
	}
	slog.Info("Engine session completed", "user", s.UserID, "flow", s.Flow, "record", res.Record.ID)

	if err := e.send(ctx, s.UserID, res.Summary); err != nil {
		return err
	}
	if len(res.Document) == 0 {
		return nil
	}
	if err := e.Messenger.SendDocument(ctx, s.UserID, res.DocumentName, res.Document, res.Caption); err != nil {
		slog.Error("Engine document send failed", "error", err, "user", s.UserID, "record", res.Record.ID)
		return e.send(ctx, s.UserID, fmt.Sprintf("⚠️ I couldn't send the document file. Your reference is #%d.", res.Record.ID))
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, def *Definition, step *Step, s *models.Session, ev models.Event, text string) outcome {
	switch step.Kind {
	case KindText:
		return e.handleText(step, s, ev, text, false)
	case KindOptionalText:
		return e.handleText(step, s, ev, text, true)
	case KindPhone:
		return e.handlePhone(ctx, s, ev, text)
	case KindVerify:
		return e.handleVerify(ctx, def, s, ev, text)
	case KindAttachment:
		return e.handleAttachment(ctx, step, s, ev, text)
	case KindClassify:
		return e.handleClassify(ctx, step, s, ev, text)
	case KindCategory:
		return e.handleCategory(step, s, ev, text)
	case KindChoice:
		return e.handleChoice(step, s, ev, text)
	case KindLocation:
		return e.handleLocation(step, s, ev, text)
	default:
		slog.Error("Engine unknown step kind", "kind", step.Kind, "step", step.Name)
		return reprompt("")
	}
}

const textOnly = "⚠️ Please reply with text for this question."

func (e *Engine) handleText(step *Step, s *models.Session, ev models.Event, text string, optional bool) outcome {
	if ev.Kind != models.EventText {
		return reprompt(textOnly)
	}
	if text == "" {
		return reprompt("")
	}
	if optional && step.IsSkip(text) {
		s.Fields.Delete(step.Field)
		return outcome{transition: advance}
	}
	value := text
	if step.Validate != nil {
		v, err := step.Validate(text)
		if err != nil {
			return stayWith(err.Error())
		}
		value = v
	}
	s.Fields.Set(step.Field, value)
	return outcome{transition: advance}
}

func (e *Engine) handlePhone(ctx context.Context, s *models.Session, ev models.Event, text string) outcome {
	if ev.Kind != models.EventText || text == "" {
		return reprompt(textOnly)
	}
	phone := util.NormalizePhoneWithCountry(text, e.opts.CountryCode)
	if !util.IsDialable(phone) {
		return stayWith("⚠️ That doesn't look like a valid phone number. Please enter your 10-digit mobile number.")
	}
	if err := e.Verifier.Issue(ctx, phone); err != nil {
		slog.Warn("Engine code issue failed", "error", err, "user", s.UserID, "phone", phone)
		return stayWith("❌ I couldn't send an OTP. Please check the number and enter it again.")
	}
	s.Fields.Set(models.FieldPhone, phone)
	s.PhoneVerified = false
	if e.opts.ResetAttemptsOnPhoneEntry {
		s.Attempts = 0
	}
	return outcome{transition: advance}
}

func (e *Engine) handleVerify(ctx context.Context, def *Definition, s *models.Session, ev models.Event, text string) outcome {
	if ev.Kind != models.EventText || text == "" {
		return reprompt("")
	}
	phone := s.Fields.Value(models.FieldPhone)

	if strings.EqualFold(text, "resend") {
		if err := e.Verifier.Issue(ctx, phone); err != nil {
			slog.Warn("Engine code resend failed", "error", err, "user", s.UserID)
			return stayWith("❌ Couldn't resend OTP. Please try again later.")
		}
		return stayWith(fmt.Sprintf("🔁 New OTP sent to %s. Enter the code.", phone))
	}

	s.Attempts++
	valid, err := e.Verifier.Check(ctx, phone, text)
	if err == nil && valid {
		s.PhoneVerified = true
		return outcome{transition: advance}
	}
	if err != nil {
		slog.Warn("Engine code check failed", "error", err, "user", s.UserID, "attempts", s.Attempts)
	}
	if s.Attempts >= e.opts.MaxAttempts {
		return outcome{
			transition: terminate,
			notice:     fmt.Sprintf("❌ OTP verification failed multiple times. Please %s to restart.", def.Command),
		}
	}
	if err != nil {
		return stayWith("❌ I couldn't check that code right now. Try again or type *resend* for a new code.")
	}
	return stayWith("❌ Incorrect OTP. Try again or type *resend* for a new code.")
}

func (e *Engine) handleAttachment(ctx context.Context, step *Step, s *models.Session, ev models.Event, text string) outcome {
	switch ev.Kind {
	case models.EventText:
		if !step.Required && step.IsSkip(text) {
			return outcome{transition: advance}
		}
		return stayWith(step.Rejected)
	case models.EventLocation:
		return stayWith(step.Rejected)
	}

	p, err := e.Capturer.Capture(ctx, s.Flow, s.UserID, step.Purpose, ev)
	switch {
	case errors.Is(err, attachment.ErrNotImage), errors.Is(err, attachment.ErrNoPayload):
		return stayWith(step.Rejected)
	case err != nil:
		return stayWith("❌ I couldn't save your file. Please send it again.")
	}
	s.AttachmentPath = p
	return outcome{transition: advance}
}

type classification struct {
	label string
	err   error
}

func (e *Engine) handleClassify(ctx context.Context, step *Step, s *models.Session, ev models.Event, text string) outcome {
	if ev.Kind != models.EventText {
		return reprompt(textOnly)
	}
	if text == "" {
		return reprompt("")
	}
	s.Fields.Set(step.Field, text)
	s.SuggestedCategory = ""
	if e.Classifier == nil {
		return outcome{transition: advance}
	}

	cctx, cancel := context.WithTimeout(ctx, e.opts.ClassifyTimeout)
	defer cancel()
	done := make(chan classification, 1)
	go func() {
		label, err := e.Classifier.Classify(cctx, text)
		done <- classification{label: label, err: err}
	}()

	var res classification
	select {
	case res = <-done:
	case <-cctx.Done():
		res.err = cctx.Err()
	}
	if res.err != nil || strings.TrimSpace(res.label) == "" {
		slog.Warn("Engine classification unavailable, asking for manual category", "error", res.err, "user", s.UserID)
		return outcome{transition: advance}
	}
	s.SuggestedCategory = strings.TrimSpace(res.label)
	slog.Debug("Engine classification succeeded", "user", s.UserID, "category", s.SuggestedCategory)
	return outcome{transition: advance}
}

func (e *Engine) handleCategory(step *Step, s *models.Session, ev models.Event, text string) outcome {
	if ev.Kind != models.EventText {
		return reprompt(textOnly)
	}
	if text == "" {
		return reprompt("")
	}
	value := text
	switch lower := strings.ToLower(text); {
	case containsFold(acceptWords, lower):
		if s.SuggestedCategory != "" {
			value = s.SuggestedCategory
		}
	case lower == "skip":
		value = GeneralCategory
	}
	s.Fields.Set(step.Field, value)
	return outcome{transition: advance}
}

func (e *Engine) handleChoice(step *Step, s *models.Session, ev models.Event, text string) outcome {
	if ev.Kind != models.EventText {
		return reprompt(textOnly)
	}
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(step.Choices) {
		s.Fields.Set(step.Field, step.Choices[n-1])
		return outcome{transition: advance}
	}
	for _, c := range step.Choices {
		if strings.EqualFold(c, text) {
			s.Fields.Set(step.Field, c)
			return outcome{transition: advance}
		}
	}
	return reprompt("⚠️ Please choose one of the options.")
}

func (e *Engine) handleLocation(step *Step, s *models.Session, ev models.Event, text string) outcome {
	switch ev.Kind {
	case models.EventLocation:
		if ev.Location == nil {
			return reprompt("")
		}
		lat := strconv.FormatFloat(ev.Location.Latitude, 'f', -1, 64)
		lng := strconv.FormatFloat(ev.Location.Longitude, 'f', -1, 64)
		s.Fields.Set(models.FieldLatitude, lat)
		s.Fields.Set(models.FieldLongitude, lng)
		s.Fields.Set(step.Field, fmt.Sprintf("Lat: %s, Lng: %s", lat, lng))
		return outcome{transition: advance}
	case models.EventText:
		if text == "" {
			return reprompt("")
		}
		if step.IsSkip(text) {
			return outcome{transition: advance}
		}
		s.Fields.Set(step.Field, text)
		return outcome{transition: advance}
	default:
		return reprompt("⚠️ Please share a location or type the address.")
	}
}

func (e *Engine) send(ctx context.Context, to, body string) error {
	if body == "" {
		return nil
	}
	if err := e.Messenger.SendMessage(ctx, to, body); err != nil {
		slog.Error("Engine send failed", "error", err, "user", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	return nil
}

// cancelReply acknowledges a cancellation. If the user still has another
// flow open, that flow becomes active again and its current prompt is re-sent.
func (e *Engine) cancelReply(userID string, def *Definition) string {
	done := join(cancelledText(def), "Use /start to begin again.")
	s, ok := e.Sessions.Active(userID)
	if !ok {
		return done
	}
	other, ok := Get(s.Flow)
	if !ok {
		return done
	}
	step, ok := other.Step(s.State)
	if !ok {
		return done
	}
	slog.Debug("Engine resuming open session after cancel", "user", userID, "flow", s.Flow, "state", s.State)
	return join(
		cancelledText(def),
		fmt.Sprintf("↩️ You still have an open %s application. Type *cancel* to end it too, or continue below.", other.Command),
		step.Prompt(s),
	)
}

func cancelledText(def *Definition) string {
	if def == nil || def.Cancelled == "" {
		return "❌ Operation cancelled."
	}
	return def.Cancelled
}

// join concatenates the non-empty parts with a blank line between them.
func join(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func containsFold(words []string, s string) bool {
	for _, w := range words {
		if strings.EqualFold(w, s) {
			return true
		}
	}
	return false
}

// chunkText splits s into pieces of at most max runes.
func chunkText(s string, max int) []string {
	r := []rune(s)
	if len(r) <= max {
		return []string{s}
	}
	var out []string
	for len(r) > 0 {
		n := max
		if len(r) < n {
			n = len(r)
		}
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return out
}

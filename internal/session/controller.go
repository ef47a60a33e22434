// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GioPalusa/MeGPT/internal/lmstudio"
	"github.com/GioPalusa/MeGPT/internal/logger"
	"github.com/GioPalusa/MeGPT/internal/model"
)

// DefaultTitleTimeout bounds the background title request.
const DefaultTitleTimeout = 30 * time.Second

// =============================================================================
// COLLABORATORS
// =============================================================================

// Store persists conversations and messages. Every call is synchronous and
// made from the controller's serialized update path.
type Store interface {
	CreateConversation(ctx context.Context) (*model.Conversation, error)
	CreateMessage(ctx context.Context, conv *model.Conversation, text string, isUser bool) (*model.Message, error)
	AppendOrUpdate(ctx context.Context, conv *model.Conversation, msg *model.Message) error
	Save(ctx context.Context, conv *model.Conversation) error
}

// Completer issues chat requests.
type Completer interface {
	Chatter
	OpenStream(ctx context.Context, req lmstudio.Request) (*lmstudio.LineStream, error)
}

// ModelSource provides the selected model id.
type ModelSource interface {
	Selected() string
}

// AppContext carries the state a send depends on. A nil Conversation is
// created on the first send and stored back here.
type AppContext struct {
	Models       ModelSource
	Conversation *model.Conversation
}

// Outcome describes how a send ended. Messages are snapshots.
type Outcome struct {
	State     State
	Reasoning *model.Message // nil unless reasoning arrived
	Reply     *model.Message // nil unless content arrived
	ErrorText string         // user-facing text, empty unless Failed or rejected
}

// =============================================================================
// OPTIONS
// =============================================================================

// Option configures a Controller.
type Option func(*Controller)

// WithListener registers fn to receive a snapshot of every message the
// controller creates or updates. Calls are serialized and happen in order.
// fn runs on the update path and must not call back into the controller.
func WithListener(fn func(*model.Message)) Option {
	return func(c *Controller) { c.listener = fn }
}

// WithTitleListener registers fn to be called when a conversation is titled.
// Like the message listener it must not call back into the controller.
func WithTitleListener(fn func(conv *model.Conversation)) Option {
	return func(c *Controller) { c.titleListener = fn }
}

// WithTitleTimeout overrides DefaultTitleTimeout.
func WithTitleTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.titleTimeout = d
		}
	}
}

// WithoutTitles disables automatic conversation titling.
func WithoutTitles() Option {
	return func(c *Controller) { c.titles = false }
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs one send at a time against a conversation.
//
// mu guards the state and is also the single update path for messages:
// the reasoning and content drains, the title task, and the user message
// all mutate the conversation while holding it.
type Controller struct {
	client Completer
	store  Store

	listener      func(*model.Message)
	titleListener func(*model.Conversation)
	titleTimeout  time.Duration
	titles        bool

	mu      sync.Mutex
	state   State
	busy    bool
	cancel  context.CancelFunc
	titling map[string]bool

	background sync.WaitGroup
}

// New creates a controller.
func New(client Completer, store Store, opts ...Option) *Controller {
	c := &Controller{
		client:       client,
		store:        store,
		titleTimeout: DefaultTitleTimeout,
		titles:       true,
		state:        Idle,
		titling:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the state of the current or most recent send.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancel stops the send in flight, if any. The send ends in Cancelled and
// any text not yet applied to a message is discarded. Background title
// requests are not affected.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns a copy of conv taken on the update path. Callers that
// read a conversation the controller may still be writing, such as one
// whose title request is in flight, read the copy instead.
func (c *Controller) Snapshot(conv *model.Conversation) *model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return conv.Clone()
}

// Wait blocks until background title requests have finished.
func (c *Controller) Wait() {
	c.background.Wait()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	logger.Debug("Session state", "state", s)
}

// =============================================================================
// SEND
// =============================================================================

// Send runs one turn: it appends prompt as a user message, requests a reply
// with a snapshot of params, and materializes the reply as it arrives.
//
// Validation failures (no model, empty prompt, a send already running) are
// returned before anything is appended or sent. Cancellation returns a nil
// error with State Cancelled. Other failures return a *lmstudio.ClientError
// and leave whatever was already materialized in the conversation.
func (c *Controller) Send(ctx context.Context, app *AppContext, prompt string, params lmstudio.Params) (*Outcome, error) {
	modelID, sendCtx, err := c.begin(ctx, app, prompt)
	if err != nil {
		return &Outcome{State: Idle, ErrorText: lmstudio.Describe(err)}, err
	}
	defer func() {
		c.mu.Lock()
		c.cancel()
		c.cancel = nil
		c.busy = false
		c.mu.Unlock()
	}()

	// The request keeps these even if settings or selection change mid-turn.
	params = params.Clone()

	t := &turn{ctrl: c, persistCtx: context.WithoutCancel(ctx)}
	err = c.run(sendCtx, t, app, modelID, prompt, params)
	return c.finish(sendCtx, t, err)
}

// begin validates the send, claims the controller, and returns the model
// id captured for this turn with the turn's context. The cancel func is
// installed in the same critical section that makes the send visible as
// active, so a Cancel observed after State reports AwaitingResponse always
// reaches the turn.
func (c *Controller) begin(ctx context.Context, app *AppContext, prompt string) (string, context.Context, error) {
	if app == nil || app.Models == nil {
		return "", nil, lmstudio.ErrNoModelSelected
	}
	modelID := app.Models.Selected()
	if modelID == "" {
		return "", nil, lmstudio.ErrNoModelSelected
	}
	if strings.TrimSpace(prompt) == "" {
		return "", nil, lmstudio.ErrEmptyPrompt
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return "", nil, lmstudio.ErrBusy
	}
	sendCtx, cancel := context.WithCancel(ctx)
	c.busy = true
	c.cancel = cancel
	c.state = AwaitingResponse
	logger.Debug("Session state", "state", AwaitingResponse)
	return modelID, sendCtx, nil
}

func (c *Controller) run(ctx context.Context, t *turn, app *AppContext, modelID, prompt string, params lmstudio.Params) error {
	if err := t.ensureConversation(app); err != nil {
		return err
	}
	if err := t.addUserMessage(prompt); err != nil {
		return err
	}
	c.maybeStartTitle(t.persistCtx, t.conv, modelID)

	req := lmstudio.Request{
		Model:    modelID,
		Messages: t.chatMessages(),
		Params:   params,
	}

	if params.Stream {
		return c.stream(ctx, t, req)
	}
	return c.complete(ctx, t, req)
}

// finish maps the run result onto a terminal state.
func (c *Controller) finish(ctx context.Context, t *turn, err error) (*Outcome, error) {
	out := t.outcome()

	switch {
	case err == nil:
		out.State = Completed
	case lmstudio.IsCancelled(err) || ctx.Err() != nil:
		out.State = Cancelled
		err = nil
	default:
		err = lmstudio.Classify(err)
		out.State = Failed
		out.ErrorText = lmstudio.Describe(err)
		logger.Warn("Send failed", "err", err)
	}

	if t.conv != nil {
		c.mu.Lock()
		if saveErr := c.store.Save(t.persistCtx, t.conv); saveErr != nil {
			logger.Warn("Failed to save conversation", "err", saveErr)
		}
		c.mu.Unlock()
	}

	c.setState(out.State)
	return out, err
}

// complete is the non-streaming path: one reply message with the full text.
func (c *Controller) complete(ctx context.Context, t *turn, req lmstudio.Request) error {
	text, err := c.client.Chat(ctx, req)
	if err != nil {
		return err
	}
	return t.setReply(text)
}

// stream is the streaming path. The reasoning and content channels are
// drained by two goroutines; either failing stops the other and the
// producer.
func (c *Controller) stream(ctx context.Context, t *turn, req lmstudio.Request) error {
	lines, err := c.client.OpenStream(ctx, req)
	if err != nil {
		return err
	}
	defer lines.Close()

	g, gctx := errgroup.WithContext(ctx)

	// Close the connection as soon as the turn is cancelled instead of
	// waiting for the next line to arrive.
	stop := context.AfterFunc(gctx, func() { lines.Close() })
	defer stop()

	c.setState(Streaming)
	ch := lmstudio.Split(gctx, lmstudio.NewDeltaReader(lines))

	g.Go(func() error {
		return drain(gctx, ch.Reasoning, t.appendReasoning)
	})
	g.Go(func() error {
		return drain(gctx, ch.Content, t.appendContent)
	})

	err = g.Wait()
	<-ch.Done()

	if ctx.Err() != nil {
		return lmstudio.ErrCancelled
	}
	if err != nil {
		return err
	}
	return ch.Err()
}

func drain(ctx context.Context, ch <-chan string, apply func(string) error) error {
	for {
		select {
		case <-ctx.Done():
			return lmstudio.ErrCancelled
		case fragment, ok := <-ch:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				return lmstudio.ErrCancelled
			}
			if err := apply(fragment); err != nil {
				return err
			}
		}
	}
}

// =============================================================================
// TURN
// =============================================================================

// turn is the per-send state: the conversation, the messages being
// materialized, and the running content buffer. All mutation goes through
// ctrl.mu.
type turn struct {
	ctrl       *Controller
	persistCtx context.Context

	conv      *model.Conversation
	reasoning *model.Message
	reply     *model.Message
	content   strings.Builder
}

func (t *turn) ensureConversation(app *AppContext) error {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()

	if app.Conversation == nil {
		conv, err := t.ctrl.store.CreateConversation(t.persistCtx)
		if err != nil {
			return storeError(err)
		}
		app.Conversation = conv
	}
	t.conv = app.Conversation
	return nil
}

func (t *turn) addUserMessage(prompt string) error {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()

	msg, err := t.ctrl.store.CreateMessage(t.persistCtx, t.conv, prompt, true)
	if err != nil {
		return storeError(err)
	}
	t.notify(msg)
	return nil
}

func (t *turn) chatMessages() []lmstudio.ChatMessage {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()
	return t.conv.ChatMessages()
}

// appendReasoning creates the reasoning message on the first fragment and
// appends every later fragment to it.
func (t *turn) appendReasoning(fragment string) error {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()

	if t.reasoning == nil {
		msg, err := t.ctrl.store.CreateMessage(t.persistCtx, t.conv, fragment, false)
		if err != nil {
			return storeError(err)
		}
		t.reasoning = msg
	} else {
		t.reasoning.Text += fragment
		if err := t.ctrl.store.AppendOrUpdate(t.persistCtx, t.conv, t.reasoning); err != nil {
			return storeError(err)
		}
	}
	t.notify(t.reasoning)
	return nil
}

// appendContent creates the reply message on the first fragment and then
// replaces its text with the full accumulated content on every fragment.
func (t *turn) appendContent(fragment string) error {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()

	t.content.WriteString(fragment)
	if t.reply == nil {
		msg, err := t.ctrl.store.CreateMessage(t.persistCtx, t.conv, t.content.String(), false)
		if err != nil {
			return storeError(err)
		}
		t.reply = msg
	} else {
		t.reply.Text = t.content.String()
		if err := t.ctrl.store.AppendOrUpdate(t.persistCtx, t.conv, t.reply); err != nil {
			return storeError(err)
		}
	}
	t.notify(t.reply)
	return nil
}

func (t *turn) setReply(text string) error {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()

	msg, err := t.ctrl.store.CreateMessage(t.persistCtx, t.conv, text, false)
	if err != nil {
		return storeError(err)
	}
	t.reply = msg
	t.notify(msg)
	return nil
}

// notify must be called with ctrl.mu held.
func (t *turn) notify(msg *model.Message) {
	if t.ctrl.listener != nil {
		t.ctrl.listener(msg.Clone())
	}
}

func (t *turn) outcome() *Outcome {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()
	return &Outcome{
		Reasoning: t.reasoning.Clone(),
		Reply:     t.reply.Clone(),
	}
}

func storeError(err error) error {
	var clientErr *lmstudio.ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}
	return &lmstudio.ClientError{Type: lmstudio.ErrTypeUnexpected, Message: "failed to save conversation", Cause: err}
}

// =============================================================================
// TITLES
// =============================================================================

// maybeStartTitle starts a background title request for an untitled
// conversation unless one is already running for it.
func (c *Controller) maybeStartTitle(ctx context.Context, conv *model.Conversation, modelID string) {
	if !c.titles {
		return
	}

	c.mu.Lock()
	first := conv.FirstUserMessage()
	if conv.HasTitle() || c.titling[conv.ID] || first == nil {
		c.mu.Unlock()
		return
	}
	c.titling[conv.ID] = true
	text := first.Text
	c.mu.Unlock()

	c.background.Add(1)
	go func() {
		defer c.background.Done()

		// Detached from the send, so cancelling the turn leaves it running.
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.titleTimeout)
		defer cancel()

		title, err := GenerateTitle(tctx, c.client, modelID, text)

		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.titling, conv.ID)

		if err != nil {
			logger.Warn("Title generation failed", "conversation", conv.ID, "err", err)
			return
		}
		if conv.HasTitle() {
			return
		}
		conv.Title = title
		if err := c.store.Save(context.WithoutCancel(ctx), conv); err != nil {
			logger.Warn("Failed to save title", "conversation", conv.ID, "err", err)
			return
		}
		logger.Debug("Titled conversation", "conversation", conv.ID)
		if c.titleListener != nil {
			c.titleListener(conv)
		}
	}()
}

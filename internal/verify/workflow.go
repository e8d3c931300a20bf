// Package verify implements X handle ownership proofs. An agent requests a
// challenge for a handle, posts the challenge sentence from that account,
// then asks for a check; a matching recent post binds the handle to the
// agent and marks it verified.
//
// Challenges move from issued to completed or expired. Nothing is retried
// server-side: a check that finds no post yet fails with ErrPostNotFound and
// the caller checks again later.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openclapp/openclapp/internal/metrics"
	"github.com/openclapp/openclapp/internal/store"
	"github.com/sirupsen/logrus"
)

// DefaultTTL is how long a challenge stays open.
const DefaultTTL = time.Hour

var (
	// ErrPostNotFound means no recent post from the handle contains the
	// challenge sentence yet.
	ErrPostNotFound = errors.New("no matching post found yet")
	// ErrFinderUnavailable means the social API could not be queried.
	ErrFinderUnavailable = errors.New("post lookup unavailable")
)

// Post is a public post found by a PostFinder.
type Post struct {
	ID        string
	URL       string
	Text      string
	CreatedAt time.Time
}

// PostFinder looks up a post by handle whose text contains text, published
// at or after since. It returns ErrPostNotFound when there is none and wraps
// ErrFinderUnavailable when the lookup itself fails.
type PostFinder interface {
	FindPost(ctx context.Context, handle, text string, since time.Time) (*Post, error)
}

// Store is the persistence the workflow needs.
type Store interface {
	store.AgentStore
	store.ChallengeStore
}

// Result is a completed verification.
type Result struct {
	Agent     *store.Agent
	Challenge *store.Challenge
}

// Workflow issues and checks challenges.
type Workflow struct {
	store  Store
	finder PostFinder
	log    logrus.FieldLogger

	TTL time.Duration
	Now func() time.Time
}

// NewWorkflow builds a workflow with the default TTL and the wall clock.
func NewWorkflow(s Store, finder PostFinder, log logrus.FieldLogger) *Workflow {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Workflow{
		store:  s,
		finder: finder,
		log:    log,
		TTL:    DefaultTTL,
		Now:    time.Now,
	}
}

// Start issues a challenge for agentID to prove ownership of rawHandle.
// It fails with store.ErrHandleTaken when another agent already owns the
// handle. Older open challenges of the agent stay valid.
func (w *Workflow) Start(ctx context.Context, agentID, rawHandle string) (*store.Challenge, error) {
	c, err := w.start(ctx, agentID, rawHandle)
	metrics.RecordVerification("start", outcome(err))
	return c, err
}

func (w *Workflow) start(ctx context.Context, agentID, rawHandle string) (*store.Challenge, error) {
	handle, err := NormalizeHandle(rawHandle)
	if err != nil {
		return nil, err
	}
	agent, err := w.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := w.checkOwner(ctx, handle, agent.ID); err != nil {
		return nil, err
	}

	code, err := newCode()
	if err != nil {
		return nil, err
	}
	now := w.Now()
	c := &store.Challenge{
		ID:        uuid.NewString(),
		AgentID:   agent.ID,
		Handle:    handle,
		Text:      Sentence(agent.Name, code),
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(w.TTL).UnixMilli(),
	}
	if err := w.store.CreateChallenge(ctx, c); err != nil {
		return nil, err
	}

	w.log.WithFields(logrus.Fields{
		"agent_id":     agent.ID,
		"challenge_id": c.ID,
		"handle":       handle,
	}).Info("verification challenge issued")
	return c, nil
}

func (w *Workflow) checkOwner(ctx context.Context, handle, agentID string) error {
	owner, err := w.store.VerifiedOwner(ctx, handle)
	switch {
	case errors.Is(err, store.ErrAgentNotFound):
		return nil
	case err != nil:
		return err
	case owner.ID != agentID:
		return store.ErrHandleTaken
	}
	return nil
}

// Check looks for the challenge post and, when found, completes the
// challenge and verifies the agent.
func (w *Workflow) Check(ctx context.Context, challengeID string) (*Result, error) {
	res, err := w.check(ctx, challengeID)
	metrics.RecordVerification("check", outcome(err))
	return res, err
}

func (w *Workflow) check(ctx context.Context, challengeID string) (*Result, error) {
	c, err := w.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	now := w.Now().UnixMilli()
	if c.Completed() {
		return nil, store.ErrChallengeCompleted
	}
	if c.Expired(now) {
		return nil, store.ErrChallengeExpired
	}
	if err := w.checkOwner(ctx, c.Handle, c.AgentID); err != nil {
		return nil, err
	}

	log := w.log.WithFields(logrus.Fields{"challenge_id": c.ID, "agent_id": c.AgentID, "handle": c.Handle})
	post, err := w.finder.FindPost(ctx, c.Handle, c.Text, time.UnixMilli(c.CreatedAt))
	if err != nil {
		if !errors.Is(err, ErrPostNotFound) {
			log.WithError(err).Warn("post lookup failed")
		}
		return nil, err
	}

	agent, done, err := w.store.CompleteChallenge(ctx, c.ID, post.URL, w.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("complete challenge: %w", err)
	}
	log.WithField("post_url", post.URL).Info("agent verified")
	return &Result{Agent: agent, Challenge: done}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidHandle):
		return "invalid_handle"
	case errors.Is(err, store.ErrAgentNotFound):
		return "agent_not_found"
	case errors.Is(err, store.ErrChallengeNotFound):
		return "challenge_not_found"
	case errors.Is(err, store.ErrChallengeCompleted):
		return "already_completed"
	case errors.Is(err, store.ErrChallengeExpired):
		return "expired"
	case errors.Is(err, store.ErrHandleTaken):
		return "handle_taken"
	case errors.Is(err, ErrPostNotFound):
		return "no_post"
	case errors.Is(err, ErrFinderUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

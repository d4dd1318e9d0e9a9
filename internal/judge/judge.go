// Package judge picks the winning response from a ranked candidate list.
//
// The rule backend trusts the ranking and returns the top candidate. The
// model backend asks a routed model to vote on a numbered ballot and falls
// back to the top candidate whenever the vote cannot be used.
package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/raeburn-ai/raeburn/internal/router"
)

// Backend selects the judging strategy.
type Backend string

const (
	BackendRule  Backend = "rule"
	BackendModel Backend = "model"
)

// ErrNoCandidates is returned when there is nothing to judge.
var ErrNoCandidates = errors.New("no candidates to judge")

// BallotRouter routes the ballot prompt for the model backend.
type BallotRouter interface {
	RouteFirst(ctx context.Context, req router.Request) (router.Routed, error)
}

// Judge decides the winner among ranked candidates.
type Judge struct {
	backend Backend
	ballot  BallotRouter
	log     *slog.Logger
}

// New builds a judge. Any backend value other than "model" means the rule
// backend, as does a model backend with no router to vote through.
func New(backend string, ballot BallotRouter, log *slog.Logger) *Judge {
	if log == nil {
		log = slog.Default()
	}
	b := BackendRule
	if Backend(strings.ToLower(strings.TrimSpace(backend))) == BackendModel && ballot != nil {
		b = BackendModel
	}
	return &Judge{backend: b, ballot: ballot, log: log.With("component", "judge")}
}

// Backend reports the strategy in use.
func (j *Judge) Backend() Backend { return j.backend }

// Pick returns the winner among ranked, which must be ordered best first.
func (j *Judge) Pick(ctx context.Context, userInput string, ranked []router.Routed) (router.Routed, error) {
	if len(ranked) == 0 {
		return router.Routed{}, ErrNoCandidates
	}
	if j.backend == BackendModel {
		return j.modelPick(ctx, userInput, ranked), nil
	}
	return ranked[0], nil
}

var firstIntRE = regexp.MustCompile(`\d+`)

func (j *Judge) modelPick(ctx context.Context, userInput string, ranked []router.Routed) router.Routed {
	res, err := j.ballot.RouteFirst(ctx, router.Request{
		Prompt:    ballotPrompt(userInput, ranked),
		SessionID: "judge",
	})
	if err != nil {
		j.log.Warn("ballot route failed, keeping top candidate", "error", err)
		return ranked[0]
	}
	vote := firstIntRE.FindString(res.Content)
	if vote == "" {
		j.log.Debug("ballot reply carried no number", "reply", res.Content)
		return ranked[0]
	}
	n, err := strconv.Atoi(vote)
	if err != nil || n < 1 || n > len(ranked) {
		return ranked[0]
	}
	return ranked[n-1]
}

// ballotPrompt numbers the candidate answers 1-based for the voting model.
func ballotPrompt(userInput string, ranked []router.Routed) string {
	var b strings.Builder
	b.WriteString("You are a judge choosing the best answer to the user's question.\n")
	b.WriteString("QUESTION: ")
	b.WriteString(userInput)
	b.WriteString("\nANSWERS:\n")
	for i, c := range ranked {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Content)
	}
	b.WriteString("Respond with the number of the best answer.")
	return b.String()
}

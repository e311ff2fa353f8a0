// Package assistant answers questions about a game using its extracted rules.
package assistant

import (
	"context"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rulebook/app/internal/games"
	"rulebook/app/internal/llm"
	applog "rulebook/app/internal/log"
	"rulebook/app/internal/prompts"
	"rulebook/app/internal/storage"
)

// Question types.
const (
	QuestionRules    = "rules"
	QuestionExamples = "examples"
)

const (
	maxExamples      = 10
	downloadParallel = 4
)

// ErrRulesNotReady indicates the game has no completed rule extraction yet.
var ErrRulesNotReady = eris.New("rules are still being processed, please try again in a few moments")

// Completer is the subset of the model registry the assistant calls.
type Completer interface {
	Supports(modelID string) bool
	Complete(ctx context.Context, modelID, prompt string, images []llm.Image) (string, error)
}

// Downloader reads stored example images.
type Downloader interface {
	Download(ctx context.Context, path string) (*storage.Object, error)
}

// Options wires the assistant.
type Options struct {
	Repository   games.Repository
	Blobs        Downloader
	Models       Completer
	Prompts      *prompts.Set
	Logger       *logrus.Logger
	SentryHub    *sentry.Hub
	DefaultModel string
}

// Question is one ask-question request.
type Question struct {
	GameID     string
	UserPrompt string
	N          int
	Type       string
}

// Answer is the model reply.
type Answer struct {
	Suggestion string
	Model      string
}

// Service answers rules questions and generates examples.
type Service struct {
	repo         games.Repository
	blobs        Downloader
	models       Completer
	prompts      *prompts.Set
	recorder     applog.ErrorRecorder
	defaultModel string
}

// NewService validates opts and builds a Service.
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Repository == nil:
		return nil, eris.New("games repository is required")
	case opts.Blobs == nil:
		return nil, eris.New("blob downloader is required")
	case opts.Models == nil:
		return nil, eris.New("model registry is required")
	case opts.Prompts == nil:
		return nil, eris.New("prompts are required")
	case strings.TrimSpace(opts.DefaultModel) == "":
		return nil, eris.New("default ai model is required")
	}

	return &Service{
		repo:         opts.Repository,
		blobs:        opts.Blobs,
		models:       opts.Models,
		prompts:      opts.Prompts,
		recorder:     applog.NewErrorRecorder(opts.Logger, opts.SentryHub, "assistant.service"),
		defaultModel: opts.DefaultModel,
	}, nil
}

// Ask answers q on behalf of userID with the model the user prefers.
func (s *Service) Ask(ctx context.Context, userID string, q Question) (*Answer, error) {
	q.GameID = strings.TrimSpace(q.GameID)
	if q.GameID == "" {
		return nil, eris.Wrap(games.ErrInvalidInput, "gameId is required")
	}
	if q.Type == "" {
		q.Type = QuestionRules
	}
	if q.Type != QuestionRules && q.Type != QuestionExamples {
		return nil, eris.Wrapf(games.ErrInvalidInput, "unknown question type %q", q.Type)
	}
	if q.N < 1 {
		q.N = 1
	}
	if q.N > maxExamples {
		return nil, eris.Wrapf(games.ErrInvalidInput, "n must be at most %d", maxExamples)
	}

	game, err := s.repo.GetGame(ctx, q.GameID)
	if err != nil {
		return nil, eris.Wrap(err, "loading game")
	}
	if game == nil || (game.AuthorID != userID && game.Status != games.StatusPublished) {
		return nil, eris.Wrapf(games.ErrGameNotFound, "game %s", q.GameID)
	}

	rule, err := s.repo.GetRuleByGame(ctx, game.ID)
	if err != nil {
		return nil, eris.Wrap(err, "loading rules")
	}
	if rule == nil || rule.ProcessingStatus != games.ProcessingCompleted {
		return nil, eris.Wrapf(ErrRulesNotReady, "game %s", game.ID)
	}

	data := prompts.QuestionContext{
		Title:       game.Name,
		Description: game.Description,
		Rules:       rule.RawText,
		Metadata:    string(rule.StructuredContent),
		UserPrompt:  strings.TrimSpace(q.UserPrompt),
		Count:       q.N,
	}

	var (
		prompt string
		images []llm.Image
	)
	if q.Type == QuestionExamples {
		prompt, err = s.prompts.Examples(data)
		if err != nil {
			return nil, err
		}
		images, err = s.exampleImages(ctx, game.ID)
		if err != nil {
			s.recorder.Record(logrus.Fields{"game_id": game.ID}, err, "loading example images")
			return nil, err
		}
	} else {
		prompt, err = s.prompts.Question(data)
		if err != nil {
			return nil, err
		}
	}

	model, err := s.modelFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	reply, err := s.models.Complete(ctx, model, prompt, images)
	if err != nil {
		s.recorder.Record(logrus.Fields{
			"game_id":       game.ID,
			"model":         model,
			"question_type": q.Type,
		}, err, "answering question")
		return nil, eris.Wrap(err, "answering question")
	}

	s.recorder.Entry().WithFields(logrus.Fields{
		"game_id":       game.ID,
		"model":         model,
		"question_type": q.Type,
		"images":        len(images),
	}).Info("answered question")

	return &Answer{Suggestion: reply, Model: model}, nil
}

// modelFor returns the caller's preferred model when a provider for it is
// registered and the default model otherwise.
func (s *Service) modelFor(ctx context.Context, userID string) (string, error) {
	pref, err := s.repo.GetPreference(ctx, userID)
	if err != nil {
		return "", eris.Wrap(err, "loading preference")
	}
	if pref == nil || strings.TrimSpace(pref.AIModel) == "" {
		return s.defaultModel, nil
	}
	if !s.models.Supports(pref.AIModel) {
		s.recorder.Entry().WithFields(logrus.Fields{
			"user_id": userID,
			"model":   pref.AIModel,
		}).Warn("preferred model unavailable, using default")
		return s.defaultModel, nil
	}
	return pref.AIModel, nil
}

// exampleImages downloads the stored example images of a game. External
// images are skipped.
func (s *Service) exampleImages(ctx context.Context, gameID string) ([]llm.Image, error) {
	rows, err := s.repo.ListImages(ctx, gameID, games.ImageTypeExample)
	if err != nil {
		return nil, eris.Wrap(err, "listing example images")
	}

	paths := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.IsExternal {
			continue
		}
		paths = append(paths, row.ImageURL)
	}

	images := make([]llm.Image, len(paths))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(downloadParallel)
	for idx, path := range paths {
		group.Go(func() error {
			object, err := s.blobs.Download(groupCtx, path)
			if err != nil {
				return eris.Wrapf(err, "downloading example image %s", path)
			}
			images[idx] = llm.Image{MIMEType: object.ContentType, Data: object.Data}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// Package ingest turns photographed rulebooks into extracted rules text.
package ingest

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"rulebook/app/internal/games"
	"rulebook/app/internal/llm"
	applog "rulebook/app/internal/log"
	"rulebook/app/internal/realtime"
	"rulebook/app/internal/storage"
)

const (
	draftGameName           = "Draft Game"
	defaultDownloadParallel = 4
	queuedMessage           = "Game rules processing started"
	createdMessage          = "Game created successfully, rules processing started"
	discardTimeout          = 10 * time.Second
)

// Downloader reads stored images.
type Downloader interface {
	Download(ctx context.Context, path string) (*storage.Object, error)
}

// VisionModel is the subset of the model registry the pipeline calls.
type VisionModel interface {
	ExtractRules(ctx context.Context, modelID string, images []llm.Image) (*llm.RulesExtraction, error)
	ExtractGameInfo(ctx context.Context, modelID string, images []llm.Image) (*llm.GameInfo, error)
}

// ImageRef points at an uploaded rulebook image.
type ImageRef struct {
	Path       string
	OrderIndex *int
	IsCover    bool
}

// QueueResult is returned as soon as a processing run has been queued.
type QueueResult struct {
	Message   string
	GameID    string
	RequestID string
	RuleID    string
}

// CreateResult is returned by CreateGame.
type CreateResult struct {
	Game    *games.Game
	Message string
}

// Options wires the ingestion service.
type Options struct {
	Repository       games.Repository
	Blobs            Downloader
	Models           VisionModel
	Publisher        realtime.Publisher
	Runner           *Runner
	Logger           *logrus.Logger
	SentryHub        *sentry.Hub
	RulesModel       string
	GameInfoModel    string
	DownloadParallel int
	Now              func() time.Time
}

// Service runs the rule ingestion pipeline.
type Service struct {
	repo          games.Repository
	blobs         Downloader
	models        VisionModel
	publisher     realtime.Publisher
	runner        *Runner
	recorder      applog.ErrorRecorder
	rulesModel    string
	gameInfoModel string
	parallel      int
	now           func() time.Time
}

// NewService validates opts and builds a Service.
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Repository == nil:
		return nil, eris.New("games repository is required")
	case opts.Blobs == nil:
		return nil, eris.New("blob downloader is required")
	case opts.Models == nil:
		return nil, eris.New("vision model is required")
	case opts.Runner == nil:
		return nil, eris.New("background runner is required")
	case strings.TrimSpace(opts.RulesModel) == "":
		return nil, eris.New("rules model is required")
	}

	gameInfoModel := strings.TrimSpace(opts.GameInfoModel)
	if gameInfoModel == "" {
		gameInfoModel = opts.RulesModel
	}
	parallel := opts.DownloadParallel
	if parallel <= 0 {
		parallel = defaultDownloadParallel
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo:          opts.Repository,
		blobs:         opts.Blobs,
		models:        opts.Models,
		publisher:     opts.Publisher,
		runner:        opts.Runner,
		recorder:      applog.NewErrorRecorder(opts.Logger, opts.SentryHub, "ingest"),
		rulesModel:    opts.RulesModel,
		gameInfoModel: gameInfoModel,
		parallel:      parallel,
		now:           now,
	}, nil
}

// ProcessRules queues a processing run for the caller's game and returns
// before any image is downloaded.
func (s *Service) ProcessRules(ctx context.Context, userID, gameID string, images []ImageRef) (*QueueResult, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, eris.Wrap(games.ErrInvalidInput, "gameId is required")
	}

	game, err := s.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return nil, eris.Wrapf(games.ErrGameNotFound, "game %s", gameID)
	}
	if err := games.CheckOwner(game, userID); err != nil {
		return nil, err
	}
	refs, err := cleanRefs(game.AuthorID, images)
	if err != nil {
		return nil, err
	}

	return s.queue(ctx, game, refs)
}

// CreateGame creates a draft game from rulebook photos, fills in its title and
// description from a quick model pass, then queues full rule processing.
func (s *Service) CreateGame(ctx context.Context, userID string, images []ImageRef) (*CreateResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, eris.Wrap(games.ErrForbidden, "caller is required")
	}
	refs, err := cleanRefs(userID, images)
	if err != nil {
		return nil, err
	}

	game := &games.Game{AuthorID: userID, Name: draftGameName, Status: games.StatusDraft}
	if err := s.repo.CreateGame(ctx, game); err != nil {
		return nil, err
	}
	fields := logrus.Fields{"game_id": game.ID, "images": len(refs)}

	queued := false
	defer func() {
		if !queued {
			s.discardDraft(game.ID)
		}
	}()

	records := make([]games.GameImage, 0, len(refs))
	for _, ref := range refs {
		records = append(records, games.GameImage{
			GameID:     game.ID,
			ImageURL:   ref.Path,
			ImageType:  games.ImageTypeRules,
			UploaderID: userID,
			IsCover:    ref.IsCover,
			OrderIndex: ref.OrderIndex,
		})
	}
	if err := s.repo.CreateImages(ctx, records); err != nil {
		return nil, err
	}

	downloaded, err := s.download(ctx, refs, nil)
	if err != nil {
		s.recorder.Record(fields, err, "downloading images for game info")
		return nil, err
	}

	info, err := s.models.ExtractGameInfo(ctx, s.gameInfoModel, downloaded)
	if err != nil {
		s.recorder.Record(fields, err, "extracting game info")
		return nil, eris.Wrap(err, "extracting game info")
	}

	update := map[string]any{
		"name":        info.Title,
		"description": info.Description,
	}
	if info.EstimatedPlayTime != nil {
		update["estimated_time"] = *info.EstimatedPlayTime
	}
	for _, record := range records {
		if record.IsCover {
			update["cover_image_id"] = record.ID
			break
		}
	}
	if err := s.repo.UpdateGame(ctx, game.ID, update); err != nil {
		return nil, err
	}

	updated, err := s.repo.GetGame(ctx, game.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, eris.Wrapf(games.ErrGameNotFound, "game %s", game.ID)
	}

	queued = true
	if _, err := s.queue(ctx, updated, refs); err != nil {
		return nil, err
	}

	return &CreateResult{Game: updated, Message: createdMessage}, nil
}

type job struct {
	gameID    string
	authorID  string
	ruleID    string
	requestID string
	images    []ImageRef
}

func (j job) fields() logrus.Fields {
	return logrus.Fields{
		"game_id":    j.gameID,
		"rule_id":    j.ruleID,
		"request_id": j.requestID,
	}
}

func (s *Service) queue(ctx context.Context, game *games.Game, refs []ImageRef) (*QueueResult, error) {
	now := s.now().UTC()
	requestID := uuid.NewString()

	rule, err := s.repo.QueueRule(ctx, game.ID, requestID, games.RuleProgress{
		Stage:       games.StageQueued,
		QueuedAt:    &now,
		ImagesCount: games.IntPtr(len(refs)),
	}, now)
	if err != nil {
		s.recorder.Record(logrus.Fields{"game_id": game.ID}, err, "queueing rule processing")
		return nil, err
	}

	eventType := realtime.TypeUpdate
	if rule.ProcessingAttempts == 1 {
		eventType = realtime.TypeInsert
	}
	s.publish(ctx, rule, eventType)

	j := job{
		gameID:    game.ID,
		authorID:  game.AuthorID,
		ruleID:    rule.ID,
		requestID: requestID,
		images:    sortRefs(refs),
	}
	if err := s.runner.Go(ctx, "process-rules", func(bg context.Context) { s.run(bg, j) }); err != nil {
		s.fail(context.WithoutCancel(ctx), j, err)
		return nil, err
	}

	return &QueueResult{
		Message:   queuedMessage,
		GameID:    game.ID,
		RequestID: requestID,
		RuleID:    rule.ID,
	}, nil
}

func (s *Service) run(ctx context.Context, j job) {
	entry := s.recorder.Entry().WithFields(j.fields())
	started := s.now()
	entry.WithField("images", len(j.images)).Info("rules processing started")

	if err := s.process(ctx, j); err != nil {
		s.fail(ctx, j, err)
		return
	}

	entry.WithField("duration", s.now().Sub(started).String()).Info("rules processing completed")
}

func (s *Service) process(ctx context.Context, j job) error {
	processing := games.ProcessingProcessing
	if err := s.update(ctx, j, &processing, games.RuleProgress{
		Stage:       games.StageStarted,
		TotalImages: games.IntPtr(len(j.images)),
	}); err != nil {
		return err
	}

	downloaded, err := s.download(ctx, j.images, func(done, total int) error {
		return s.update(ctx, j, nil, games.RuleProgress{
			Stage:    games.StageDownloadingImages,
			Progress: games.IntPtr(done),
			Total:    games.IntPtr(total),
		})
	})
	if err != nil {
		return err
	}

	if err := s.update(ctx, j, nil, games.RuleProgress{Stage: games.StageCreatingImageRecord}); err != nil {
		return err
	}
	records := make([]games.GameImage, 0, len(j.images))
	for _, ref := range j.images {
		records = append(records, games.GameImage{
			ImageURL:   ref.Path,
			ImageType:  games.ImageTypeRules,
			UploaderID: j.authorID,
			OrderIndex: ref.OrderIndex,
		})
	}
	if _, err := s.repo.EnsureImages(ctx, j.gameID, records); err != nil {
		return err
	}

	if err := s.update(ctx, j, nil, games.RuleProgress{Stage: games.StageAIProcessing, Model: s.rulesModel}); err != nil {
		return err
	}
	extraction, err := s.models.ExtractRules(ctx, s.rulesModel, downloaded)
	if err != nil {
		return eris.Wrap(err, "extracting rules")
	}

	if err := s.update(ctx, j, nil, games.RuleProgress{Stage: games.StageFinalizing}); err != nil {
		return err
	}

	structured, err := json.Marshal(extraction.Metadata)
	if err != nil {
		return eris.Wrap(err, "encoding structured rules")
	}

	processedAt := s.now().UTC()
	completed := games.ProcessingCompleted
	progress := games.RuleProgress{Stage: games.StageCompleted, Status: "success"}
	if err := s.repo.UpdateRule(ctx, j.ruleID, games.RuleUpdate{
		Status:            &completed,
		Progress:          &progress,
		RawText:           &extraction.RawText,
		StructuredContent: datatypes.JSON(structured),
		ClearError:        true,
		ProcessedAt:       &processedAt,
	}); err != nil {
		return err
	}

	if err := s.repo.UpdateGame(ctx, j.gameID, map[string]any{"has_complete_rules": true}); err != nil {
		s.recorder.Record(j.fields(), err, "flagging game rules complete")
	}

	s.publishRule(ctx, j.ruleID)
	return nil
}

// download fetches every image concurrently, preserving the order of refs.
func (s *Service) download(ctx context.Context, refs []ImageRef, onProgress func(done, total int) error) ([]llm.Image, error) {
	images := make([]llm.Image, len(refs))

	var (
		mu   sync.Mutex
		done int
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.parallel)
	for idx, ref := range refs {
		group.Go(func() error {
			object, err := s.blobs.Download(groupCtx, ref.Path)
			if err != nil {
				return eris.Wrapf(err, "downloading image %s", ref.Path)
			}
			images[idx] = llm.Image{MIMEType: object.ContentType, Data: object.Data}

			if onProgress == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			done++
			return onProgress(done, len(refs))
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

func (s *Service) update(ctx context.Context, j job, status *games.ProcessingStatus, progress games.RuleProgress) error {
	if err := s.repo.UpdateRule(ctx, j.ruleID, games.RuleUpdate{Status: status, Progress: &progress}); err != nil {
		return err
	}
	s.publishRule(ctx, j.ruleID)
	return nil
}

func (s *Service) fail(ctx context.Context, j job, cause error) {
	s.recorder.Record(j.fields(), cause, "rules processing failed")

	now := s.now().UTC()
	message := cause.Error()
	status := games.ProcessingError
	progress := games.RuleProgress{Stage: games.StageError, Error: message, Timestamp: &now}

	if err := s.repo.UpdateRule(ctx, j.ruleID, games.RuleUpdate{
		Status:       &status,
		Progress:     &progress,
		ErrorMessage: &message,
		ProcessedAt:  &now,
	}); err != nil {
		s.recorder.Record(j.fields(), err, "recording rules processing failure")
		return
	}
	s.publishRule(ctx, j.ruleID)
}

func (s *Service) publishRule(ctx context.Context, ruleID string) {
	if s.publisher == nil {
		return
	}
	rule, err := s.repo.GetRule(ctx, ruleID)
	if err != nil || rule == nil {
		return
	}
	s.publish(ctx, rule, realtime.TypeUpdate)
}

func (s *Service) publish(ctx context.Context, rule *games.GameRule, eventType string) {
	if s.publisher == nil || rule == nil {
		return
	}
	event := realtime.Event{
		Table:     games.GameRule{}.TableName(),
		Type:      eventType,
		Record:    games.NewRuleRecord(rule),
		Timestamp: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, realtime.RulesTopic(rule.GameID), event); err != nil {
		s.recorder.Entry().WithFields(logrus.Fields{
			"rule_id": rule.ID,
			"error":   err.Error(),
		}).Warn("publishing rule change")
	}
}

// discardDraft removes a draft whose creation failed before rule processing
// was queued. Image blobs stay with their uploader.
func (s *Service) discardDraft(gameID string) {
	ctx, cancel := context.WithTimeout(context.Background(), discardTimeout)
	defer cancel()

	if _, err := s.repo.DeleteGame(ctx, gameID); err != nil {
		s.recorder.Record(logrus.Fields{"game_id": gameID}, err, "discarding failed draft")
	}
}

// cleanRefs normalises image paths, requires them under the author's prefix
// and drops repeated paths, keeping the first occurrence.
func cleanRefs(authorID string, images []ImageRef) ([]ImageRef, error) {
	if len(images) == 0 {
		return nil, eris.Wrap(games.ErrInvalidInput, "at least one image is required")
	}

	refs := make([]ImageRef, 0, len(images))
	index := make(map[string]int, len(images))
	for _, image := range images {
		cleaned, err := storage.CleanPath(image.Path)
		if err != nil {
			return nil, eris.Wrapf(games.ErrInvalidInput, "image path %q", image.Path)
		}
		path, err := games.OwnedPath(authorID, cleaned)
		if err != nil {
			return nil, err
		}
		if at, ok := index[path]; ok {
			refs[at].IsCover = refs[at].IsCover || image.IsCover
			continue
		}
		image.Path = path
		index[path] = len(refs)
		refs = append(refs, image)
	}
	return refs, nil
}

// sortRefs orders images by OrderIndex with unindexed images last, keeping input order for ties.
func sortRefs(refs []ImageRef) []ImageRef {
	sorted := append([]ImageRef(nil), refs...)
	sort.SliceStable(sorted, func(a, b int) bool {
		left, right := sorted[a].OrderIndex, sorted[b].OrderIndex
		switch {
		case left == nil:
			return false
		case right == nil:
			return true
		default:
			return *left < *right
		}
	})
	return sorted
}

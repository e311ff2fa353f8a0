package games

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines persistence operations for games and the rows that hang off them.
type Repository interface {
	CreateGame(ctx context.Context, game *Game) error
	GetGame(ctx context.Context, id string) (*Game, error)
	GetGameByBGGID(ctx context.Context, bggID int) (*Game, error)
	ListGames(ctx context.Context, filter ListFilter) ([]Game, int64, error)
	ExistingBGGIDs(ctx context.Context, ids []int) (map[int]bool, error)
	UpdateGame(ctx context.Context, id string, fields map[string]any) error
	DeleteGame(ctx context.Context, id string) ([]GameImage, error)

	CreateImages(ctx context.Context, images []GameImage) error
	ListImages(ctx context.Context, gameID string, types ...ImageType) ([]GameImage, error)
	GetImage(ctx context.Context, gameID, imageID string) (*GameImage, error)
	DeleteImage(ctx context.Context, gameID, imageID string) error
	EnsureImages(ctx context.Context, gameID string, images []GameImage) ([]GameImage, error)
	ImagePathsInUse(ctx context.Context, paths []string) (map[string]bool, error)
	SetCover(ctx context.Context, gameID, imageID string) error

	GetRule(ctx context.Context, id string) (*GameRule, error)
	GetRuleByGame(ctx context.Context, gameID string) (*GameRule, error)
	QueueRule(ctx context.Context, gameID, requestID string, progress RuleProgress, at time.Time) (*GameRule, error)
	UpdateRule(ctx context.Context, ruleID string, update RuleUpdate) error
	ListStaleRules(ctx context.Context, before time.Time, statuses ...ProcessingStatus) ([]GameRule, error)

	UpsertTag(ctx context.Context, name string, tagType TagType) (*GameTag, error)
	AttachTags(ctx context.Context, gameID string, tagIDs []string) error
	ListTags(ctx context.Context, gameID string) ([]GameTag, error)
	ReplacePlayerCounts(ctx context.Context, gameID string, counts []GamePlayerCount) error
	ListPlayerCounts(ctx context.Context, gameID string) ([]GamePlayerCount, error)

	GetPreference(ctx context.Context, userID string) (*UserPreference, error)
	SavePreference(ctx context.Context, pref *UserPreference) error

	Transaction(ctx context.Context, fn func(Repository) error) error
}

// ListFilter narrows ListGames results.
type ListFilter struct {
	AuthorID  string
	VisibleTo string
	Status    Status
	Query     string
	Limit     int
	Offset    int
}

// RuleUpdate describes a partial write to a GameRule. Nil fields are left untouched.
type RuleUpdate struct {
	Status            *ProcessingStatus
	Progress          *RuleProgress
	RawText           *string
	StructuredContent datatypes.JSON
	ErrorMessage      *string
	ClearError        bool
	ProcessedAt       *time.Time
}

// GormRepository persists games using a Gorm database connection.
type GormRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewRepository constructs a Gorm-backed repository implementation.
func NewRepository(db *gorm.DB, logger *logrus.Logger) (*GormRepository, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &GormRepository{db: db, logger: logger}, nil
}

var _ Repository = (*GormRepository)(nil)

// Transaction runs fn against a repository bound to a single database transaction.
func (r *GormRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx, logger: r.logger})
	})
}

// CreateGame inserts a game row. Associations are not written.
func (r *GormRepository) CreateGame(ctx context.Context, game *Game) error {
	if game == nil {
		return eris.New("game is nil")
	}
	if strings.TrimSpace(game.AuthorID) == "" {
		return eris.Wrap(ErrInvalidInput, "game author is required")
	}
	if game.Status == "" {
		game.Status = StatusDraft
	}
	if !game.Status.Valid() {
		return eris.Wrapf(ErrInvalidStatus, "game status %q", game.Status)
	}

	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(game).Error; err != nil {
		r.logError(logrus.Fields{"author_id": game.AuthorID}, err, "creating game")
		return eris.Wrap(err, "creating game")
	}
	return nil
}

// GetGame returns the game or nil when not found.
func (r *GormRepository) GetGame(ctx context.Context, id string) (*Game, error) {
	var game Game
	err := r.db.WithContext(ctx).First(&game, "id = ?", id).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"game_id": id}, err, "fetching game")
		return nil, eris.Wrapf(err, "fetching game: %s", id)
	}
	return &game, nil
}

// GetGameByBGGID returns the game imported from the given BoardGameGeek id or nil.
func (r *GormRepository) GetGameByBGGID(ctx context.Context, bggID int) (*Game, error) {
	var game Game
	err := r.db.WithContext(ctx).Where("bgg_id = ?", bggID).Order("created_at ASC").First(&game).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"bgg_id": bggID}, err, "fetching game by bgg id")
		return nil, eris.Wrapf(err, "fetching game by bgg id: %d", bggID)
	}
	return &game, nil
}

// ListGames returns a page of games and the total number of matches.
func (r *GormRepository) ListGames(ctx context.Context, filter ListFilter) ([]Game, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		if filter.AuthorID != "" {
			db = db.Where("author_id = ?", filter.AuthorID)
		}
		if filter.VisibleTo != "" {
			db = db.Where("(author_id = ? OR status = ?)", filter.VisibleTo, StatusPublished)
		}
		if filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
		if query := strings.TrimSpace(filter.Query); query != "" {
			db = db.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(query)+"%")
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&Game{}).Scopes(scope).Count(&total).Error; err != nil {
		r.logError(nil, err, "counting games")
		return nil, 0, eris.Wrap(err, "counting games")
	}

	query := r.db.WithContext(ctx).Scopes(scope).Order("updated_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var games []Game
	if err := query.Find(&games).Error; err != nil {
		r.logError(nil, err, "listing games")
		return nil, 0, eris.Wrap(err, "listing games")
	}

	return games, total, nil
}

// ExistingBGGIDs reports which of the provided BoardGameGeek ids already have a local game.
func (r *GormRepository) ExistingBGGIDs(ctx context.Context, ids []int) (map[int]bool, error) {
	existing := make(map[int]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	var found []int
	err := r.db.WithContext(ctx).Model(&Game{}).Where("bgg_id IN ?", ids).Pluck("bgg_id", &found).Error
	if err != nil {
		r.logError(nil, err, "looking up bgg ids")
		return nil, eris.Wrap(err, "looking up bgg ids")
	}

	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// UpdateGame applies a partial update to a game.
func (r *GormRepository) UpdateGame(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	if status, ok := fields["status"].(Status); ok && !status.Valid() {
		return eris.Wrapf(ErrInvalidStatus, "game status %q", status)
	}

	result := r.db.WithContext(ctx).Model(&Game{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		r.logError(logrus.Fields{"game_id": id}, result.Error, "updating game")
		return eris.Wrapf(result.Error, "updating game: %s", id)
	}
	if result.RowsAffected == 0 {
		return eris.Wrapf(ErrGameNotFound, "updating game: %s", id)
	}
	return nil
}

// DeleteGame removes a game with its images, rule, tag links and player counts.
// The deleted image rows are returned so callers can release stored blobs.
func (r *GormRepository) DeleteGame(ctx context.Context, id string) ([]GameImage, error) {
	var images []GameImage

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("game_id = ?", id).Find(&images).Error; err != nil {
			return eris.Wrap(err, "listing game images")
		}

		dependents := []any{&GameImage{}, &GameRule{}, &GameTagRelation{}, &GamePlayerCount{}}
		for _, model := range dependents {
			if err := tx.Where("game_id = ?", id).Delete(model).Error; err != nil {
				return eris.Wrap(err, "deleting game dependents")
			}
		}

		result := tx.Where("id = ?", id).Delete(&Game{})
		if result.Error != nil {
			return eris.Wrap(result.Error, "deleting game row")
		}
		if result.RowsAffected == 0 {
			return eris.Wrapf(ErrGameNotFound, "deleting game: %s", id)
		}
		return nil
	})
	if err != nil {
		if !eris.Is(err, ErrGameNotFound) {
			r.logError(logrus.Fields{"game_id": id}, err, "deleting game")
		}
		return nil, err
	}

	return images, nil
}

// CreateImages inserts image rows.
func (r *GormRepository) CreateImages(ctx context.Context, images []GameImage) error {
	if len(images) == 0 {
		return nil
	}

	for _, image := range images {
		if !image.ImageType.Valid() {
			return eris.Wrapf(ErrInvalidInput, "image type %q", image.ImageType)
		}
	}

	if err := r.db.WithContext(ctx).Create(&images).Error; err != nil {
		r.logError(logrus.Fields{"game_id": images[0].GameID}, err, "creating game images")
		return eris.Wrap(err, "creating game images")
	}
	return nil
}

// ListImages returns the images of a game ordered by order index, optionally filtered by type.
func (r *GormRepository) ListImages(ctx context.Context, gameID string, types ...ImageType) ([]GameImage, error) {
	query := r.db.WithContext(ctx).Where("game_id = ?", gameID)
	if len(types) > 0 {
		query = query.Where("image_type IN ?", types)
	}

	var images []GameImage
	if err := query.Order("order_index IS NULL, order_index ASC, uploaded_at ASC").Find(&images).Error; err != nil {
		r.logError(logrus.Fields{"game_id": gameID}, err, "listing game images")
		return nil, eris.Wrapf(err, "listing images for game: %s", gameID)
	}
	return images, nil
}

// GetImage returns the image or nil when it does not belong to the game.
func (r *GormRepository) GetImage(ctx context.Context, gameID, imageID string) (*GameImage, error) {
	var image GameImage
	err := r.db.WithContext(ctx).Where("id = ? AND game_id = ?", imageID, gameID).First(&image).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"game_id": gameID, "image_id": imageID}, err, "fetching game image")
		return nil, eris.Wrapf(err, "fetching image: %s", imageID)
	}
	return &image, nil
}

// DeleteImage removes one image row and clears the cover reference when it pointed at it.
func (r *GormRepository) DeleteImage(ctx context.Context, gameID, imageID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND game_id = ?", imageID, gameID).Delete(&GameImage{})
		if result.Error != nil {
			r.logError(logrus.Fields{"game_id": gameID, "image_id": imageID}, result.Error, "deleting game image")
			return eris.Wrap(result.Error, "deleting game image")
		}
		if result.RowsAffected == 0 {
			return eris.Wrapf(ErrImageNotFound, "deleting image: %s", imageID)
		}

		err := tx.Model(&Game{}).
			Where("id = ? AND cover_image_id = ?", gameID, imageID).
			Update("cover_image_id", nil).Error
		if err != nil {
			return eris.Wrap(err, "clearing cover reference")
		}
		return nil
	})
}

// ImagePathsInUse reports which of the paths are still referenced by an image row.
func (r *GormRepository) ImagePathsInUse(ctx context.Context, paths []string) (map[string]bool, error) {
	inUse := make(map[string]bool, len(paths))
	if len(paths) == 0 {
		return inUse, nil
	}

	var found []string
	err := r.db.WithContext(ctx).Model(&GameImage{}).
		Where("image_url IN ?", paths).
		Distinct().
		Pluck("image_url", &found).Error
	if err != nil {
		r.logError(logrus.Fields{"paths": len(paths)}, err, "checking image paths in use")
		return nil, eris.Wrap(err, "checking image paths in use")
	}
	for _, p := range found {
		inUse[p] = true
	}
	return inUse, nil
}

// EnsureImages inserts the images whose URL is not yet registered for the game and returns the new rows.
func (r *GormRepository) EnsureImages(ctx context.Context, gameID string, images []GameImage) ([]GameImage, error) {
	var created []GameImage

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&GameImage{}).Where("game_id = ?", gameID).Pluck("image_url", &existing).Error; err != nil {
			return eris.Wrap(err, "listing registered image urls")
		}

		seen := make(map[string]bool, len(existing)+len(images))
		for _, url := range existing {
			seen[url] = true
		}

		for _, image := range images {
			if image.ImageURL == "" || seen[image.ImageURL] {
				continue
			}
			seen[image.ImageURL] = true
			image.GameID = gameID
			if image.ImageType == "" {
				image.ImageType = ImageTypeRules
			}
			created = append(created, image)
		}

		if len(created) == 0 {
			return nil
		}

		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&created).Error
	})
	if err != nil {
		r.logError(logrus.Fields{"game_id": gameID}, err, "ensuring game images")
		return nil, eris.Wrapf(err, "ensuring images for game: %s", gameID)
	}

	return created, nil
}

// SetCover marks imageID as the game's cover and clears the flag on every other image.
func (r *GormRepository) SetCover(ctx context.Context, gameID, imageID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&GameImage{}).Where("game_id = ?", gameID).Update("is_cover", false).Error; err != nil {
			return eris.Wrap(err, "clearing cover flags")
		}

		result := tx.Model(&GameImage{}).Where("id = ? AND game_id = ?", imageID, gameID).Update("is_cover", true)
		if result.Error != nil {
			return eris.Wrap(result.Error, "flagging cover image")
		}
		if result.RowsAffected == 0 {
			return eris.Wrapf(ErrImageNotFound, "cover image: %s", imageID)
		}

		if err := tx.Model(&Game{}).Where("id = ?", gameID).Update("cover_image_id", imageID).Error; err != nil {
			return eris.Wrap(err, "updating game cover")
		}
		return nil
	})
}

// GetRule returns the rule row or nil when not found.
func (r *GormRepository) GetRule(ctx context.Context, id string) (*GameRule, error) {
	return r.findRule(ctx, "id = ?", id)
}

// GetRuleByGame returns the rule row for a game or nil when none exists.
func (r *GormRepository) GetRuleByGame(ctx context.Context, gameID string) (*GameRule, error) {
	return r.findRule(ctx, "game_id = ?", gameID)
}

func (r *GormRepository) findRule(ctx context.Context, condition string, value string) (*GameRule, error) {
	var rule GameRule
	err := r.db.WithContext(ctx).Where(condition, value).First(&rule).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"lookup": value}, err, "fetching game rule")
		return nil, eris.Wrapf(err, "fetching game rule: %s", value)
	}
	return &rule, nil
}

// QueueRule locates or creates the game's rule row and moves it to queued, incrementing the
// attempt counter, stamping the attempt time and request id, and clearing any previous error.
func (r *GormRepository) QueueRule(ctx context.Context, gameID, requestID string, progress RuleProgress, at time.Time) (*GameRule, error) {
	payload, err := progress.JSON()
	if err != nil {
		return nil, err
	}

	row := GameRule{
		GameID:              gameID,
		ProcessingStatus:    ProcessingQueued,
		ProcessingAttempts:  1,
		LastAttemptAt:       &at,
		ProcessingProgress:  payload,
		ProcessingRequestID: requestID,
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "game_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"processing_status":     ProcessingQueued,
			"processing_attempts":   gorm.Expr("game_rules.processing_attempts + 1"),
			"last_attempt_at":       at,
			"processing_progress":   payload,
			"processing_request_id": requestID,
			"error_message":         nil,
			"updated_at":            at,
		}),
	}).Create(&row).Error
	if err != nil {
		r.logError(logrus.Fields{"game_id": gameID}, err, "queueing game rule")
		return nil, eris.Wrapf(err, "queueing rule for game: %s", gameID)
	}

	rule, err := r.GetRuleByGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, eris.Wrapf(ErrRuleNotFound, "game: %s", gameID)
	}
	return rule, nil
}

// UpdateRule applies a partial update to a rule row.
func (r *GormRepository) UpdateRule(ctx context.Context, ruleID string, update RuleUpdate) error {
	fields := map[string]any{}

	if update.Status != nil {
		if !update.Status.Valid() {
			return eris.Wrapf(ErrInvalidStatus, "processing status %q", *update.Status)
		}
		fields["processing_status"] = *update.Status
	}
	if update.Progress != nil {
		payload, err := update.Progress.JSON()
		if err != nil {
			return err
		}
		fields["processing_progress"] = payload
	}
	if update.RawText != nil {
		fields["raw_text"] = *update.RawText
	}
	if update.StructuredContent != nil {
		fields["structured_content"] = update.StructuredContent
	}
	if update.ErrorMessage != nil {
		fields["error_message"] = *update.ErrorMessage
	} else if update.ClearError {
		fields["error_message"] = nil
	}
	if update.ProcessedAt != nil {
		fields["processed_at"] = *update.ProcessedAt
	}

	if len(fields) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).Model(&GameRule{}).Where("id = ?", ruleID).Updates(fields)
	if result.Error != nil {
		r.logError(logrus.Fields{"rule_id": ruleID}, result.Error, "updating game rule")
		return eris.Wrapf(result.Error, "updating game rule: %s", ruleID)
	}
	if result.RowsAffected == 0 {
		return eris.Wrapf(ErrRuleNotFound, "updating game rule: %s", ruleID)
	}
	return nil
}

// ListStaleRules returns rules in one of statuses whose last attempt started before the cutoff.
func (r *GormRepository) ListStaleRules(ctx context.Context, before time.Time, statuses ...ProcessingStatus) ([]GameRule, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	var rules []GameRule
	err := r.db.WithContext(ctx).
		Where("processing_status IN ?", statuses).
		Where("(last_attempt_at IS NULL OR last_attempt_at < ?)", before).
		Find(&rules).Error
	if err != nil {
		r.logError(nil, err, "listing stale rules")
		return nil, eris.Wrap(err, "listing stale rules")
	}
	return rules, nil
}

// UpsertTag returns the tag with the given name and type, creating it when missing.
func (r *GormRepository) UpsertTag(ctx context.Context, name string, tagType TagType) (*GameTag, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, eris.Wrap(ErrInvalidInput, "tag name is required")
	}

	tag := GameTag{}
	err := r.db.WithContext(ctx).
		Where(GameTag{Name: trimmed, Type: tagType}).
		FirstOrCreate(&tag).Error
	if err != nil {
		r.logError(logrus.Fields{"tag": trimmed, "type": tagType}, err, "upserting tag")
		return nil, eris.Wrapf(err, "upserting tag: %s", trimmed)
	}
	return &tag, nil
}

// AttachTags links tags to a game, ignoring links that already exist.
func (r *GormRepository) AttachTags(ctx context.Context, gameID string, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}

	relations := make([]GameTagRelation, 0, len(tagIDs))
	for _, tagID := range tagIDs {
		relations = append(relations, GameTagRelation{GameID: gameID, TagID: tagID})
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&relations).Error
	if err != nil {
		r.logError(logrus.Fields{"game_id": gameID}, err, "attaching tags")
		return eris.Wrapf(err, "attaching tags to game: %s", gameID)
	}
	return nil
}

// ListTags returns the tags linked to a game ordered by type and name.
func (r *GormRepository) ListTags(ctx context.Context, gameID string) ([]GameTag, error) {
	var tags []GameTag
	err := r.db.WithContext(ctx).
		Joins("JOIN game_tag_relations ON game_tag_relations.tag_id = game_tags.id").
		Where("game_tag_relations.game_id = ?", gameID).
		Order("game_tags.type ASC, game_tags.name ASC").
		Find(&tags).Error
	if err != nil {
		r.logError(logrus.Fields{"game_id": gameID}, err, "listing tags")
		return nil, eris.Wrapf(err, "listing tags for game: %s", gameID)
	}
	return tags, nil
}

// ReplacePlayerCounts swaps the stored player-count poll results for a game.
func (r *GormRepository) ReplacePlayerCounts(ctx context.Context, gameID string, counts []GamePlayerCount) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("game_id = ?", gameID).Delete(&GamePlayerCount{}).Error; err != nil {
			return eris.Wrap(err, "clearing player counts")
		}
		if len(counts) == 0 {
			return nil
		}
		for i := range counts {
			counts[i].GameID = gameID
		}
		if err := tx.Create(&counts).Error; err != nil {
			return eris.Wrap(err, "storing player counts")
		}
		return nil
	})
}

// ListPlayerCounts returns the stored player-count verdicts for a game.
func (r *GormRepository) ListPlayerCounts(ctx context.Context, gameID string) ([]GamePlayerCount, error) {
	var counts []GamePlayerCount
	if err := r.db.WithContext(ctx).Where("game_id = ?", gameID).Order("player_count ASC").Find(&counts).Error; err != nil {
		r.logError(logrus.Fields{"game_id": gameID}, err, "listing player counts")
		return nil, eris.Wrapf(err, "listing player counts for game: %s", gameID)
	}
	return counts, nil
}

// GetPreference returns the stored preference or nil when the user has none.
func (r *GormRepository) GetPreference(ctx context.Context, userID string) (*UserPreference, error) {
	var pref UserPreference
	err := r.db.WithContext(ctx).First(&pref, "user_id = ?", userID).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"user_id": userID}, err, "fetching preference")
		return nil, eris.Wrapf(err, "fetching preference for user: %s", userID)
	}
	return &pref, nil
}

// SavePreference inserts or updates a user preference.
func (r *GormRepository) SavePreference(ctx context.Context, pref *UserPreference) error {
	if pref == nil || strings.TrimSpace(pref.UserID) == "" {
		return eris.Wrap(ErrInvalidInput, "preference user is required")
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ai_model", "updated_at"}),
	}).Create(pref).Error
	if err != nil {
		r.logError(logrus.Fields{"user_id": pref.UserID}, err, "saving preference")
		return eris.Wrapf(err, "saving preference for user: %s", pref.UserID)
	}
	return nil
}

func (r *GormRepository) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}

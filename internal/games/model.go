package games

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the publication state of a game.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusPublished   Status = "published"
	StatusArchived    Status = "archived"
	StatusUnderReview Status = "under_review"
)

// Valid reports whether s is a known game status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived, StatusUnderReview:
		return true
	}
	return false
}

// ImageType classifies a game image.
type ImageType string

const (
	ImageTypeRules     ImageType = "rules"
	ImageTypeCover     ImageType = "cover"
	ImageTypeExample   ImageType = "example"
	ImageTypeComponent ImageType = "component"
	ImageTypeGameState ImageType = "game_state"
	ImageTypeOther     ImageType = "other"
)

// Valid reports whether t is a known image type.
func (t ImageType) Valid() bool {
	switch t {
	case ImageTypeRules, ImageTypeCover, ImageTypeExample, ImageTypeComponent, ImageTypeGameState, ImageTypeOther:
		return true
	}
	return false
}

// ProcessingStatus is the lifecycle state of a rule extraction.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingQueued     ProcessingStatus = "queued"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingError      ProcessingStatus = "error"
	ProcessingRetrying   ProcessingStatus = "retrying"
)

// ProcessingStatuses lists every accepted processing status.
var ProcessingStatuses = []ProcessingStatus{
	ProcessingPending,
	ProcessingQueued,
	ProcessingProcessing,
	ProcessingCompleted,
	ProcessingError,
	ProcessingRetrying,
}

// Valid reports whether s is one of the six processing statuses.
func (s ProcessingStatus) Valid() bool {
	for _, candidate := range ProcessingStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// TagType classifies tags imported from BoardGameGeek.
type TagType string

const (
	TagCategory  TagType = "category"
	TagMechanic  TagType = "mechanic"
	TagDesigner  TagType = "designer"
	TagPublisher TagType = "publisher"
)

// Game is a board game owned by its author.
type Game struct {
	ID                 string  `gorm:"type:varchar(36);primaryKey"`
	AuthorID           string  `gorm:"size:64;not null;index"`
	Name               string  `gorm:"size:255;not null;index"`
	Description        string  `gorm:"type:text"`
	EstimatedTime      *int    `gorm:"column:estimated_time"`
	Status             Status  `gorm:"size:32;not null;default:'draft';index"`
	MinPlayers         *int
	MaxPlayers         *int
	MinAge             *int
	BGGID              *int     `gorm:"column:bgg_id;index"`
	BGGYearPublished   *int     `gorm:"column:bgg_year_published"`
	BGGRating          *float64 `gorm:"column:bgg_rating"`
	BGGWeight          *float64 `gorm:"column:bgg_weight"`
	BGGImageURL        string   `gorm:"column:bgg_image_url;size:1024"`
	BGGThumbnailURL    string   `gorm:"column:bgg_thumbnail_url;size:1024"`
	LanguageDependence *int
	CoverImageID       *string `gorm:"type:varchar(36)"`
	HasCompleteRules   bool    `gorm:"not null;default:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Images       []GameImage       `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
	Rule         *GameRule         `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
	TagRelations []GameTagRelation `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
	PlayerCounts []GamePlayerCount `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
}

// TableName defines the table name for the Game model.
func (Game) TableName() string {
	return "games"
}

// BeforeCreate assigns a UUID primary key.
func (g *Game) BeforeCreate(*gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// GameImage is an image attached to a game, either a storage path or an external URL.
type GameImage struct {
	ID         string    `gorm:"type:varchar(36);primaryKey"`
	GameID     string    `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_game_images_game_url"`
	ImageURL   string    `gorm:"size:1024;not null;uniqueIndex:idx_game_images_game_url"`
	ImageType  ImageType `gorm:"size:32;not null;default:'rules'"`
	UploaderID string    `gorm:"size:64"`
	IsCover    bool      `gorm:"not null;default:false"`
	IsExternal bool      `gorm:"not null;default:false"`
	OrderIndex *int
	UploadedAt time.Time `gorm:"autoCreateTime"`
}

// TableName defines the table name for the GameImage model.
func (GameImage) TableName() string {
	return "game_images"
}

// BeforeCreate assigns a UUID primary key.
func (i *GameImage) BeforeCreate(*gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// GameRule holds the extracted rules for a game and the state of the extraction.
type GameRule struct {
	ID                  string           `gorm:"type:varchar(36);primaryKey"`
	GameID              string           `gorm:"type:varchar(36);not null;uniqueIndex"`
	RawText             string           `gorm:"type:text"`
	StructuredContent   datatypes.JSON
	ProcessingStatus    ProcessingStatus `gorm:"size:32;not null;default:'pending';index"`
	ProcessingAttempts  int              `gorm:"not null;default:0"`
	LastAttemptAt       *time.Time
	ProcessingProgress  datatypes.JSON
	ProcessingRequestID string         `gorm:"size:64"`
	ErrorMessage        *string        `gorm:"type:text"`
	ProcessedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TableName defines the table name for the GameRule model.
func (GameRule) TableName() string {
	return "game_rules"
}

// BeforeCreate assigns a UUID primary key.
func (r *GameRule) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave rejects processing statuses outside the accepted set.
func (r *GameRule) BeforeSave(*gorm.DB) error {
	if r.ProcessingStatus != "" && !r.ProcessingStatus.Valid() {
		return eris.Wrapf(ErrInvalidStatus, "processing status %q", r.ProcessingStatus)
	}
	return nil
}

// GameTag is a category, mechanic, designer or publisher label.
type GameTag struct {
	ID        string  `gorm:"type:varchar(36);primaryKey"`
	Name      string  `gorm:"size:255;not null;uniqueIndex:idx_game_tags_name_type"`
	Type      TagType `gorm:"size:32;not null;uniqueIndex:idx_game_tags_name_type"`
	CreatedAt time.Time

	Relations []GameTagRelation `gorm:"foreignKey:TagID;constraint:OnDelete:CASCADE"`
}

// TableName defines the table name for the GameTag model.
func (GameTag) TableName() string {
	return "game_tags"
}

// BeforeCreate assigns a UUID primary key.
func (t *GameTag) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// GameTagRelation links a game to a tag.
type GameTagRelation struct {
	GameID string `gorm:"type:varchar(36);primaryKey"`
	TagID  string `gorm:"type:varchar(36);primaryKey"`
}

// TableName defines the table name for the GameTagRelation model.
func (GameTagRelation) TableName() string {
	return "game_tag_relations"
}

// GamePlayerCount stores the community verdict for one player count.
type GamePlayerCount struct {
	GameID         string `gorm:"type:varchar(36);primaryKey"`
	PlayerCount    int    `gorm:"primaryKey;autoIncrement:false"`
	Recommendation string `gorm:"size:32;not null"`
	Votes          int    `gorm:"not null;default:0"`
}

// TableName defines the table name for the GamePlayerCount model.
func (GamePlayerCount) TableName() string {
	return "game_player_counts"
}

// UserPreference stores per-user settings.
type UserPreference struct {
	UserID    string `gorm:"size:64;primaryKey"`
	AIModel   string `gorm:"size:128;not null"`
	UpdatedAt time.Time
}

// TableName defines the table name for the UserPreference model.
func (UserPreference) TableName() string {
	return "user_preferences"
}

package airdrop

import (
	"time"

	"smallbiznis-airdrop/services/platform"

	"gorm.io/datatypes"
)

type Hashtags struct {
	Primary string `json:"primary"`
	Join    string `json:"join,omitempty"`
}

// Schedule is the administrative window of a campaign on one platform.
type Schedule struct {
	ID              string                       `gorm:"column:id;primaryKey;type:varchar(32)"`
	Platform        platform.Platform            `gorm:"column:platform;type:varchar(20);index;not null"`
	Name            string                       `gorm:"column:name;type:varchar(255);not null"`
	Description     string                       `gorm:"column:description;type:text"`
	Hashtags        datatypes.JSONType[Hashtags] `gorm:"column:hashtags"`
	LivelyAccountID string                       `gorm:"column:lively_account_id;type:varchar(64);not null"`
	IsActive        bool                         `gorm:"column:is_active;default:true"`
	StartAt         time.Time                    `gorm:"column:start_at;not null"`
	EndAt           time.Time                    `gorm:"column:end_at;not null"`
	CreatedAt       time.Time                    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                    `gorm:"column:updated_at;autoUpdateTime"`
}

func (Schedule) TableName() string { return "airdrop_schedules" }

// Running reports whether the schedule is usable at now: [StartAt, EndAt).
func (s *Schedule) Running(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	return !now.Before(s.StartAt) && now.Before(s.EndAt)
}

// Event is a content item participants react to.
type Event struct {
	ID          string                       `gorm:"column:id;primaryKey;type:varchar(32)"`
	ScheduleID  string                       `gorm:"column:schedule_id;type:varchar(32);index;not null"`
	Platform    platform.Platform            `gorm:"column:platform;type:varchar(20);index;not null"`
	ContentID   string                       `gorm:"column:content_id;type:varchar(128);not null"`
	ContentURL  string                       `gorm:"column:content_url;type:text"`
	Hashtags    datatypes.JSONType[[]string] `gorm:"column:hashtags"`
	IsActive    bool                         `gorm:"column:is_active;default:true"`
	PublishedAt time.Time                    `gorm:"column:published_at"`
	CreatedAt   time.Time                    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                    `gorm:"column:updated_at;autoUpdateTime"`
}

func (Event) TableName() string { return "airdrop_events" }

func (e *Event) HasTag(tag string) bool {
	for _, t := range e.Hashtags.Data() {
		if t == tag {
			return true
		}
	}
	return false
}

type RewardRule struct {
	ID         string              `gorm:"column:id;primaryKey;type:varchar(32)"`
	Platform   platform.Platform   `gorm:"column:platform;type:varchar(20);uniqueIndex:idx_reward_rule_action,priority:1;not null"`
	ActionType platform.ActionType `gorm:"column:action_type;type:varchar(20);uniqueIndex:idx_reward_rule_action,priority:2;not null"`
	Amount     int64               `gorm:"column:amount;not null"`
	Unit       string              `gorm:"column:unit;type:varchar(20);not null"`
	Decimal    int                 `gorm:"column:decimals;not null;default:0"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (RewardRule) TableName() string { return "airdrop_reward_rules" }

// SocialProfile is a platform identity. UserID is set by the account linking
// flow; until then sightings are remembered but never credited.
type SocialProfile struct {
	ID          string            `gorm:"column:id;primaryKey;type:varchar(32)"`
	Platform    platform.Platform `gorm:"column:platform;type:varchar(20);not null;uniqueIndex:idx_profile_username,priority:1;uniqueIndex:idx_profile_external,priority:1"`
	Username    string            `gorm:"column:username;type:varchar(255);not null;uniqueIndex:idx_profile_username,priority:2"`
	ExternalID  *string           `gorm:"column:external_id;type:varchar(64);uniqueIndex:idx_profile_external,priority:2"`
	UserID      *string           `gorm:"column:user_id;type:varchar(32);index"`
	DisplayName string            `gorm:"column:display_name;type:varchar(255)"`
	ProfileURL  string            `gorm:"column:profile_url;type:text"`
	Location    string            `gorm:"column:location;type:varchar(255)"`
	Website     string            `gorm:"column:website;type:text"`
	LastSeenAt  time.Time         `gorm:"column:last_seen_at"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (SocialProfile) TableName() string { return "airdrop_social_profiles" }

func (p *SocialProfile) Linked() bool {
	return p.UserID != nil && *p.UserID != ""
}

// Tracker is the idempotency record: one per (scope, profile, action).
type Tracker struct {
	ID              string              `gorm:"column:id;primaryKey;type:varchar(32)"`
	ScheduleID      string              `gorm:"column:schedule_id;type:varchar(32);index;not null"`
	EventID         *string             `gorm:"column:event_id;type:varchar(32);index"`
	ScopeKey        string              `gorm:"column:scope_key;type:varchar(64);not null;uniqueIndex:idx_tracker_identity,priority:1"`
	SocialProfileID string              `gorm:"column:social_profile_id;type:varchar(32);not null;uniqueIndex:idx_tracker_identity,priority:2"`
	ActionType      platform.ActionType `gorm:"column:action_type;type:varchar(20);not null;uniqueIndex:idx_tracker_identity,priority:3"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (Tracker) TableName() string { return "airdrop_trackers" }

// RewardEntry is owed to the linked user until SettlementRef is set.
type RewardEntry struct {
	ID              string    `gorm:"column:id;primaryKey;type:varchar(32)"`
	TrackerID       string    `gorm:"column:tracker_id;type:varchar(32);uniqueIndex;not null"`
	RewardRuleID    string    `gorm:"column:reward_rule_id;type:varchar(32);index;not null"`
	SocialProfileID string    `gorm:"column:social_profile_id;type:varchar(32);index;not null"`
	Amount          int64     `gorm:"column:amount;not null"`
	Unit            string    `gorm:"column:unit;type:varchar(20);not null"`
	SettlementRef   *string   `gorm:"column:settlement_ref;type:varchar(128)"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

func (RewardEntry) TableName() string { return "airdrop_reward_entries" }

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunSkipped RunStatus = "skipped"
)

// Run is the execution record of one poll.
type Run struct {
	ID              string            `json:"id" gorm:"column:id;primaryKey;type:varchar(32)"`
	Platform        platform.Platform `json:"platform" gorm:"column:platform;type:varchar(20);index;not null"`
	Trigger         string            `json:"trigger" gorm:"column:triggered_by;type:varchar(32)"`
	Status          RunStatus         `json:"status" gorm:"column:status;type:varchar(20);default:'running'"`
	Pages           int               `json:"pages" gorm:"column:pages"`
	Seen            int               `json:"seen" gorm:"column:seen"`
	ProfilesCreated int               `json:"profiles_created" gorm:"column:profiles_created"`
	AwaitingLink    int               `json:"awaiting_link" gorm:"column:awaiting_link"`
	AlreadyCredited int               `json:"already_credited" gorm:"column:already_credited"`
	Credited        int               `json:"credited" gorm:"column:credited"`
	Failed          int               `json:"failed" gorm:"column:failed"`
	ErrorMsg        string            `json:"error,omitempty" gorm:"column:error_msg;type:text"`
	StartedAt       time.Time         `json:"started_at" gorm:"column:started_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty" gorm:"column:finished_at"`
	CreatedAt       time.Time         `json:"created_at" gorm:"column:created_at;autoCreateTime;index"`
}

func (Run) TableName() string { return "airdrop_runs" }

// Models lists every table owned by this package, in migration order.
func Models() []any {
	return []any{
		&Schedule{},
		&Event{},
		&RewardRule{},
		&SocialProfile{},
		&Tracker{},
		&RewardEntry{},
		&Run{},
	}
}

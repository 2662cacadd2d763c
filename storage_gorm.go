package meetingpod

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var _ Storage = &GormStorage{}

type sessionRecord struct {
	ID           string          `gorm:"primaryKey;size:64"`
	Transcript   string          `gorm:"type:text;not null"`
	CreatedAt    time.Time       `gorm:"not null"`
	LastActivity time.Time       `gorm:"index;not null"`
	Messages     []messageRecord `gorm:"foreignKey:SessionID"`
}

func (sessionRecord) TableName() string { return "sessions" }

type messageRecord struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"index;size:64;not null"`
	Sender    string    `gorm:"size:16;not null"`
	Content   string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"not null"`
}

func (messageRecord) TableName() string { return "chat_messages" }

// GormStorage implements the Storage interface on a SQL database through gorm.
// DSNs starting with postgres:// or postgresql:// open PostgreSQL, anything else is taken as a
// SQLite database file.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage opens the database for dsn and creates the tables if they don't exist.
func NewGormStorage(dsn string) (*GormStorage, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&sessionRecord{}, &messageRecord{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &GormStorage{db: db}, nil
}

// Close closes the database connection.
func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) SaveSession(ctx context.Context, sess *Session) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sess.ID).Delete(&messageRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Where("id = ?", sess.ID).Delete(&sessionRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		rec := sessionRecord{
			ID:           sess.ID,
			Transcript:   sess.Transcript,
			CreatedAt:    sess.CreatedAt.UTC(),
			LastActivity: sess.LastActivity.UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		if len(sess.History) == 0 {
			return nil
		}
		msgs := make([]messageRecord, 0, len(sess.History))
		for _, e := range sess.History {
			msgs = append(msgs, toMessageRecord(sess.ID, e))
		}
		if err := tx.Create(&msgs).Error; err != nil {
			return fmt.Errorf("failed to create messages: %w", err)
		}
		return nil
	})
}

func (s *GormStorage) GetSession(ctx context.Context, id string) (*Session, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get session %q: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	history := make([]HistoryEntry, 0, len(rec.Messages))
	for _, m := range rec.Messages {
		history = append(history, HistoryEntry{Sender: Sender(m.Sender), Content: m.Content, Timestamp: m.Timestamp})
	}
	return &Session{
		ID:           rec.ID,
		Transcript:   rec.Transcript,
		History:      history,
		CreatedAt:    rec.CreatedAt,
		LastActivity: rec.LastActivity,
	}, nil
}

func (s *GormStorage) AppendHistory(ctx context.Context, id string, entry HistoryEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&sessionRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to query session: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("append history %q: %w", id, ErrSessionNotFound)
		}
		msg := toMessageRecord(id, entry)
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		return tx.Model(&sessionRecord{}).
			Where("id = ? AND last_activity < ?", id, msg.Timestamp).
			Update("last_activity", msg.Timestamp).Error
	})
}

func (s *GormStorage) Touch(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&sessionRecord{}).Where("id = ?", id).Update("last_activity", at.UTC())
	if result.Error != nil {
		return fmt.Errorf("failed to update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("touch session %q: %w", id, ErrSessionNotFound)
	}
	return nil
}

func (s *GormStorage) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&messageRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&sessionRecord{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete session: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("delete session %q: %w", id, ErrSessionNotFound)
		}
		return nil
	})
}

func (s *GormStorage) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	db := s.db.WithContext(ctx)

	var counts []struct {
		SessionID string
		N         int
	}
	if err := db.Model(&messageRecord{}).Select("session_id, count(*) as n").Group("session_id").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	byID := make(map[string]int, len(counts))
	for _, c := range counts {
		byID[c.SessionID] = c.N
	}

	var recs []sessionRecord
	if err := db.Order("created_at ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	out := make([]SessionSummary, 0, len(recs))
	for _, rec := range recs {
		sess := Session{ID: rec.ID, Transcript: rec.Transcript, CreatedAt: rec.CreatedAt, LastActivity: rec.LastActivity}
		summary := sess.Summary()
		summary.MessageCount = byID[rec.ID]
		out = append(out, summary)
	}
	return out, nil
}

func (s *GormStorage) ClearSessions(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&sessionRecord{}).Count(&n).Error; err != nil {
			return err
		}
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := all.Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		return all.Delete(&sessionRecord{}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear sessions: %w", err)
	}
	return int(n), nil
}

func (s *GormStorage) DeleteIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&sessionRecord{}).Where("last_activity < ?", cutoff.UTC()).Order("id ASC").Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&sessionRecord{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete idle sessions: %w", err)
	}
	return ids, nil
}

func toMessageRecord(sessionID string, e HistoryEntry) messageRecord {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return messageRecord{
		SessionID: sessionID,
		Sender:    string(e.Sender),
		Content:   e.Content,
		Timestamp: ts.UTC(),
	}
}

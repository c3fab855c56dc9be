package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// UpsertBusiness inserts or updates a business directory record.
func (db *DB) UpsertBusiness(b *Business) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt == 0 {
		b.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO businesses (id, owner_id, name, avatar_url, telegram_chat_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			avatar_url = excluded.avatar_url,
			telegram_chat_id = excluded.telegram_chat_id`,
		b.ID, b.OwnerID, b.Name, b.AvatarURL, b.TelegramChatID, b.CreatedAt)
	return err
}

// GetBusiness returns a business by id, or nil when absent.
func (db *DB) GetBusiness(id string) (*Business, error) {
	var b Business
	err := db.QueryRow(`
		SELECT id, owner_id, name, avatar_url, telegram_chat_id, created_at
		FROM businesses WHERE id = ?`, id).
		Scan(&b.ID, &b.OwnerID, &b.Name, &b.AvatarURL, &b.TelegramChatID, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpsertProfile inserts or updates a customer profile record.
func (db *DB) UpsertProfile(p *Profile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO profiles (id, display_name, avatar_url, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url`,
		p.ID, p.DisplayName, p.AvatarURL, p.CreatedAt)
	return err
}

// GetProfile returns a customer profile by id, or nil when absent.
func (db *DB) GetProfile(id string) (*Profile, error) {
	var p Profile
	err := db.QueryRow(`
		SELECT id, display_name, avatar_url, created_at
		FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.DisplayName, &p.AvatarURL, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DisplayNameFor resolves a participant's display name with fallback to the
// raw id: profiles for customers, business name for the business side.
func (db *DB) DisplayNameFor(c *Conversation, participantID string) string {
	if c != nil && participantID == c.CustomerID {
		if p, err := db.GetProfile(participantID); err == nil && p != nil && p.DisplayName != "" {
			return p.DisplayName
		}
		return participantID
	}
	if c != nil {
		if b, err := db.GetBusiness(c.BusinessID); err == nil && b != nil && b.Name != "" {
			return b.Name
		}
	}
	return participantID
}

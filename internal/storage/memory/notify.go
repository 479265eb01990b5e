package memory

import (
	"time"

	"tuzemoon/internal/domain"
)

// Row change types passed to a Notifier.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Notifier receives row-level changes after they are applied, mirroring the
// pg_notify triggers of the Postgres schema. Called without store locks held.
type Notifier func(table, eventType string, record, oldRecord map[string]any)

func (n Notifier) notify(table, eventType string, record, oldRecord map[string]any) {
	if n != nil {
		n(table, eventType, record, oldRecord)
	}
}

func memeRecord(m *domain.Meme) map[string]any {
	rec := map[string]any{
		"id":          m.ID,
		"title":       m.Title,
		"description": m.Description,
		"image_url":   m.ImageURL,
		"blockchain":  m.Blockchain,
		"likes":       m.Likes,
		"created_by":  m.CreatedBy,
		"created_at":  m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"is_featured": m.IsFeatured,
	}
	if m.TuzemoonUntil != nil {
		rec["tuzemoon_until"] = m.TuzemoonUntil.UTC().Format(time.RFC3339Nano)
	} else {
		rec["tuzemoon_until"] = nil
	}
	return rec
}

func joinRecord(userID string, memeID int64) map[string]any {
	return map[string]any{
		"user_id": userID,
		"meme_id": memeID,
	}
}

func paymentRecord(p *domain.Payment) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"user_id":        p.UserID,
		"meme_id":        p.MemeID,
		"amount":         p.Amount.String(),
		"signature":      p.Signature,
		"wallet_address": p.WalletAddress,
		"status":         string(p.Status),
	}
}

package model

import "time"

// LinkEvent records a lifecycle transition of a link. Credentials are never part of it.
type LinkEvent struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	Kind       string    `json:"kind" gorm:"size:16;not null;index"`
	Identifier string    `json:"identifier" gorm:"size:32;not null;index"`
	Domain     string    `json:"domain" gorm:"size:253"`
	Address    string    `json:"address" gorm:"size:64"`
	Protocol   string    `json:"protocol" gorm:"size:8"`
	Port       int       `json:"port"`
	Protected  bool      `json:"protected"`
	ClientIP   string    `json:"client_ip" gorm:"size:64"`
	ExpiresAt  time.Time `json:"expires_at"`
	Timestamp  time.Time `json:"timestamp" gorm:"index"`
}

const (
	LinkEventCreated = "created"
	LinkEventRetired = "retired"
	LinkEventRevoked = "revoked"
)

const (
	LinkStreamName     = "LINKS"
	LinkStreamSubject  = "links.events"
	LinkConsumerName   = "link-auditor"
	LinkStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)

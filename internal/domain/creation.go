package domain

import "time"

// StageSelection is the wizard's stage (background) choice.
type StageSelection struct {
	Prompt      string `json:"prompt"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	CacheKey    string `json:"cacheKey,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// CharacterSelection is the wizard's character choice.
type CharacterSelection struct {
	ID          string `json:"id"`
	Prompt      string `json:"prompt"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	CacheKey    string `json:"cacheKey,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// PersistedCreation is an immutable saved creation.
type PersistedCreation struct {
	ID                 string             `json:"id"`
	StageSelection     StageSelection     `json:"stageSelection"`
	CharacterSelection CharacterSelection `json:"characterSelection"`
	Results            Results            `json:"results"`
	Locale             string             `json:"locale"`
	CreatedAt          time.Time          `json:"createdAt"`
	ShareExpiresAt     time.Time          `json:"shareExpiresAt"`
}

// RateLimitCounter tracks saves for one local calendar day.
type RateLimitCounter struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// ExpirationRecord marks a durable key for deletion.
type ExpirationRecord struct {
	Key       string `json:"key"`
	ExpiresAt string `json:"expiresAt"`
}

package models

import "time"

const (
	ChatStatusPending   = "pending"
	ChatStatusStreaming = "streaming"
	ChatStatusDone      = "done"
	ChatStatusFailed    = "failed"
)

// ChatLog records one question/answer exchange. Web chat streams the answer
// through the per-chat pub/sub channel; the Slack bot writes it in one shot.
type ChatLog struct {
	ID        string    `bson:"_id"`
	TenantID  string    `bson:"tenant_id"`
	Question  string    `bson:"question"`
	Answer    string    `bson:"answer"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

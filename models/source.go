package models

import "time"

// Providers a tenant can connect.
const (
	ProviderUploads  = "uploads"
	ProviderSiteDocs = "site-docs"
	ProviderGDocs    = "gdocs"
	ProviderNotion   = "notion"
	ProviderSlackBot = "slack-bot"
)

const (
	SourceConnected    = "connected"
	SourceDisconnected = "disconnected"
)

// Source holds per-tenant, per-provider connection state. LastSynced is the
// incremental-sync watermark; nil means "sync everything".
type Source struct {
	TenantID   string         `bson:"tenant_id"`
	Provider   string         `bson:"provider"`
	Status     string         `bson:"status"`
	LastSynced *time.Time     `bson:"last_synced,omitempty"`
	Metadata   SourceMetadata `bson:"metadata"`
	CreatedAt  time.Time      `bson:"created_at"`
	UpdatedAt  time.Time      `bson:"updated_at"`
}

// SourceMetadata carries provider credentials. Sensitive and tenant-scoped;
// never returned to the browser in full.
type SourceMetadata struct {
	Notion *NotionCredentials `bson:"notion,omitempty"`
	Slack  *SlackCredentials  `bson:"slack,omitempty"`
}

type NotionCredentials struct {
	APIKey   string `bson:"api_key"`
	SyncCron string `bson:"sync_cron,omitempty"`
}

type SlackCredentials struct {
	APIKey      string `bson:"api_key"`
	ChannelName string `bson:"channel_name"`
	ChannelID   string `bson:"channel_id"`
}

// Complete reports whether the Slack credentials are usable; sources with
// incomplete credentials are flipped to disconnected during the startup sweep.
func (c *SlackCredentials) Complete() bool {
	return c != nil && c.APIKey != "" && c.ChannelName != "" && c.ChannelID != ""
}

// DefaultProviders is the set of source rows seeded for a new tenant.
var DefaultProviders = []string{
	ProviderNotion,
	ProviderGDocs,
	ProviderSiteDocs,
	ProviderUploads,
	ProviderSlackBot,
}

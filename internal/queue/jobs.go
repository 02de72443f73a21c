package queue

// Sales sync job kinds.
const (
	SyncKindBuyers     = "buyers"
	SyncKindLifecycle  = "lifecycle"
	SyncKindHistorical = "historical"
)

// CampaignSendJob asks a worker to process one campaign's pending recipients.
type CampaignSendJob struct {
	CampaignID  uint `json:"campaign_id"`
	OnlyPending bool `json:"only_pending"`
}

// WebhookProcessJob carries the intake event a worker should resolve into a
// lifecycle transition.
type WebhookProcessJob struct {
	EventID uint `json:"event_id"`
}

// SalesSyncJob triggers one of the reconciler jobs. TaskID keys the progress
// record polled by the admin endpoint.
type SalesSyncJob struct {
	TaskID    string `json:"task_id"`
	Kind      string `json:"kind"`
	ProductID *uint  `json:"product_id,omitempty"`
}

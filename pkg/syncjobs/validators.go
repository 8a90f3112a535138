package syncjobs

type CreateSyncJobPayload struct {
	ProviderID int    `json:"provider_id" validate:"required"`
	SyncType   string `json:"sync_type" validate:"required,oneof=full incremental"`
}

type LatestSyncJobQuery struct {
	ProviderID int `query:"provider_id" json:"provider_id" validate:"required"`
}

type ListWorkItemsQuery struct {
	Limit  int      `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=500"`
	Status []string `query:"status" json:"status,omitempty" validate:"dive,oneof=pending processing completed failed"`
}

type ListSyncJobsQuery struct {
	Limit      int      `query:"limit" json:"limit,omitempty" default:"10" validate:"min=1,max=100"`
	Offset     int      `query:"offset" json:"offset,omitempty" validate:"min=0"`
	ProviderID *int     `query:"provider_id" json:"provider_id,omitempty"`
	Status     []string `query:"status" json:"status,omitempty" validate:"dive,oneof=pending running completed failed cancelled"`
}

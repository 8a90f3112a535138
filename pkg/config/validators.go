package config

type UpdateConfigPayload struct {
	ConflictPolicy        *string `json:"conflict_policy,omitempty" validate:"omitempty,oneof=keep_newest keep_both user_prompt"`
	HardDelete            *bool   `json:"hard_delete,omitempty"`
	ProcessingConcurrency *int    `json:"processing_concurrency,omitempty" validate:"omitempty,min=1,max=64"`
	SyncIntervalMinutes   *int    `json:"sync_interval_minutes,omitempty" validate:"omitempty,min=1"`
	UnmeteredOnly         *bool   `json:"unmetered_only,omitempty"`
}

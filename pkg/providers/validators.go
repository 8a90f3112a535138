package providers

type CreateProviderPayload struct {
	Name     string `json:"name" validate:"required"`
	Kind     string `json:"kind" validate:"required,oneof=dropbox"`
	RootPath string `json:"root_path"`
}

type UpdateProviderPayload struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=1"`
	RootPath *string `json:"root_path,omitempty"`
}

package roles

// CreateRoleInput carries the fields accepted when creating a role.
type CreateRoleInput struct {
	Name        string   `json:"name" validate:"required,min=2,max=50"`
	DisplayName string   `json:"display_name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Color       string   `json:"color" validate:"omitempty,hexcolor"`
	Permissions []string `json:"permissions" validate:"dive,min=1,max=100"`
	Level       int      `json:"level" validate:"required,min=1,max=100"`
	IsDefault   bool     `json:"is_default"`
}

// UpdateRoleInput carries the fields accepted when updating a role.
type UpdateRoleInput struct {
	Name        string   `json:"name" validate:"required,min=2,max=50"`
	DisplayName string   `json:"display_name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Color       string   `json:"color" validate:"omitempty,hexcolor"`
	Permissions []string `json:"permissions" validate:"dive,min=1,max=100"`
	Level       int      `json:"level" validate:"required,min=1,max=100"`
	IsDefault   bool     `json:"is_default"`
}

// ListRolesRequest captures listing filters.
type ListRolesRequest struct {
	Search  string
	SortBy  string
	SortDir string
	Page    int
	PerPage int
}

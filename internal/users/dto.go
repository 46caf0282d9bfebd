package users

import "time"

// Limits on batch and read operations.
const (
	MaxBulkIDs       = 100
	MinQueryLength   = 2
	QuickSearchLimit = 10
	SuggestionLimit  = 5
)

// BulkActions supported by the bulk endpoint. Archive doubles as delete.
const (
	BulkActivate   = "activate"
	BulkDeactivate = "deactivate"
	BulkSuspend    = "suspend"
	BulkArchive    = "archive"
)

// CreateUserInput carries the fields accepted when creating a user.
type CreateUserInput struct {
	Name      string  `json:"name" validate:"required,max=100"`
	Email     string  `json:"email" validate:"required,email,max=255"`
	Password  string  `json:"password" validate:"required,min=8,max=72"`
	Phone     string  `json:"phone" validate:"omitempty,max=30"`
	Address   string  `json:"address" validate:"omitempty,max=255"`
	BirthDate string  `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Status    string  `json:"status" validate:"omitempty,oneof=active inactive suspended"`
	RoleIDs   []int64 `json:"role_ids" validate:"omitempty,dive,gt=0"`
}

// UpdateUserInput carries the fields accepted when updating a user. A blank
// password leaves the stored hash unchanged. RoleIDs, when present, is a
// full replace-set.
type UpdateUserInput struct {
	Name      string   `json:"name" validate:"required,max=100"`
	Email     string   `json:"email" validate:"required,email,max=255"`
	Password  string   `json:"password" validate:"omitempty,min=8,max=72"`
	Phone     string   `json:"phone" validate:"omitempty,max=30"`
	Address   string   `json:"address" validate:"omitempty,max=255"`
	BirthDate string   `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Status    string   `json:"status" validate:"omitempty,oneof=active inactive suspended archived"`
	RoleIDs   *[]int64 `json:"role_ids" validate:"omitempty,dive,gt=0"`
}

// BulkActionInput selects an action over a capped set of user ids.
type BulkActionInput struct {
	Action  string  `json:"action" validate:"required,oneof=activate deactivate suspend archive"`
	UserIDs []int64 `json:"user_ids" validate:"required,min=1,max=100,dive,gt=0"`
}

// BulkItemError reports why one id in a batch was skipped.
type BulkItemError struct {
	UserID  int64  `json:"user_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// BulkActionResult reports partial success of a batch.
type BulkActionResult struct {
	Succeeded int             `json:"succeeded"`
	Errors    []BulkItemError `json:"errors"`
}

// ListUsersRequest captures listing filters. All results are additionally
// scoped to targets below the actor's effective level.
type ListUsersRequest struct {
	Search      string
	Role        string
	Status      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	SortBy      string
	SortDir     string
	Page        int
	PerPage     int
}

// Stats is the cached aggregate block for the admin dashboard.
type Stats struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	NewThisMonth int            `json:"new_this_month"`
	RolesInUse   int            `json:"roles_in_use"`
	DefaultRoles int            `json:"default_roles"`
}

package domain

import "time"

// DateLayout is the wire and storage layout of calendar dates.
const DateLayout = "2006-01-02"

type Operator struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
}

// WorkSession is a point-of-sale session. A nil End means the session is still open.
type WorkSession struct {
	ID             int64      `json:"session_id"`
	OperatorHandle string     `json:"operator_handle"`
	Start          time.Time  `json:"start"`
	End            *time.Time `json:"end,omitempty"`
}

func (s WorkSession) IsOpen() bool {
	return s.End == nil
}

type ProductChoice struct {
	ProductName string `json:"product_name"`
	Category    string `json:"category"`
}

type ChoiceSet struct {
	Categories         []string            `json:"categories"`
	ProductsByCategory map[string][]string `json:"products_by_category"`
}

// SpillageDraft is the mutable state of one open spillage form.
type SpillageDraft struct {
	SpillageID        int64  `json:"spillage_id,omitempty"`
	Operator          string `json:"operator"`
	Date              string `json:"date"`
	ResolvedSessionID int64  `json:"resolved_session_id,omitempty"`
	Category          string `json:"category"`
	Product           string `json:"product"`
	Quantity          string `json:"quantity"`
	Reason            string `json:"reason"`
}

type SpillageRecord struct {
	ID            int64     `json:"spillage_id"`
	SessionID     int64     `json:"session_id"`
	ProductName   string    `json:"product_name"`
	Category      string    `json:"category"`
	Quantity      int       `json:"quantity"`
	SpillageDate  string    `json:"spillage_date"`
	Reason        string    `json:"reason"`
	LoggedBy      string    `json:"logged_by"`
	CashierHandle string    `json:"cashier_handle"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SpillagePayload is the full-field body sent on create and on edit.
type SpillagePayload struct {
	SessionID     int64  `json:"session_id"`
	ProductName   string `json:"product_name"`
	Category      string `json:"category"`
	Quantity      int    `json:"quantity"`
	SpillageDate  string `json:"spillage_date"`
	Reason        string `json:"reason"`
	LoggedBy      string `json:"logged_by"`
	CashierHandle string `json:"cashier_handle"`
}

// SpillageRow is the flattened list shape shown in the spillage table.
type SpillageRow struct {
	ID        int64  `json:"spillage_id"`
	Date      string `json:"date"`
	Operator  string `json:"operator"`
	Category  string `json:"category"`
	Product   string `json:"product"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
	LoggedBy  string `json:"logged_by"`
	SessionID int64  `json:"session_id"`
}

type SpillageListResponse struct {
	Items []SpillageRow `json:"items"`
}

type FormOpenRequest struct {
	SpillageID int64 `json:"spillage_id,omitempty"`
}

type FieldChangeRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type FieldErrors map[string]string

type FormState struct {
	FormID      string        `json:"form_id"`
	Mode        string        `json:"mode"`
	Draft       SpillageDraft `json:"draft"`
	Choices     ChoiceSet     `json:"choices"`
	FieldErrors FieldErrors   `json:"field_errors"`
	Loading     bool          `json:"loading"`
	Closed      bool          `json:"closed"`
}

type SubmitResponse struct {
	Record SpillageRecord `json:"record"`
}

type Subsystem string

const (
	SubsystemMerchandise Subsystem = "merchandise"
	SubsystemIngredients Subsystem = "ingredients"
	SubsystemMaterials   Subsystem = "materials"
)

type Operation string

const (
	OperationDeduct            Operation = "deduct"
	OperationRestock           Operation = "restock"
	OperationRestockThenDeduct Operation = "restock_then_deduct"
)

type InventoryLine struct {
	ProductName string `json:"product_name"`
	Category    string `json:"category"`
	Quantity    int    `json:"quantity"`
}

// InventoryPayload carries the pre-change (Old) and post-change (New) lines.
// Deduct uses New, Restock uses Old, RestockThenDeduct uses both.
type InventoryPayload struct {
	Old *InventoryLine `json:"old,omitempty"`
	New *InventoryLine `json:"new,omitempty"`
}

type RecipeLine struct {
	Item    string `json:"item"`
	PerUnit int    `json:"per_unit"`
}

type ReconciliationFailure struct {
	JobID      string    `json:"job_id"`
	SpillageID int64     `json:"spillage_id"`
	Kind       string    `json:"kind"`
	Subsystem  Subsystem `json:"subsystem"`
	Operation  Operation `json:"operation"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failed_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	FormModeCreate = "create"
	FormModeEdit   = "edit"
)

const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
)

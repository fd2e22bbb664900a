package zoho

// Module identifies a CRM module by its API name.
type Module string

// CRM modules FormBridge writes to.
const (
	ModuleVendors          Module = "Vendors"
	ModuleContacts         Module = "Contacts"
	ModuleProducts         Module = "Products"
	ModuleCashSlips        Module = "Cash_Slips"
	ModuleTrials           Module = "Trials"
	ModulePurchaseRequests Module = "Purchase_Requests"
)

// Record is one CRM record as a field map. Field names follow the CRM's
// API names (e.g. "Vendor_Name", "Email").
type Record map[string]any

// recordEnvelope is the CRM wire format for write calls: records travel
// inside a "data" array, optionally with trigger and duplicate-check
// directives.
type recordEnvelope struct {
	Data                 []Record `json:"data"`
	Trigger              []string `json:"trigger,omitempty"`
	DuplicateCheckFields []string `json:"duplicate_check_fields,omitempty"`
}

// RecordResult is the per-record outcome of a write call.
type RecordResult struct {
	Code    string         `json:"code"`
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// ID returns the record id reported in the result details, or "".
func (r RecordResult) ID() string {
	if r.Details == nil {
		return ""
	}
	id, _ := r.Details["id"].(string)
	return id
}

// writeResponse is the CRM response envelope for write calls.
type writeResponse struct {
	Data []RecordResult `json:"data"`
}

// listResponse is the CRM response envelope for read calls.
type listResponse struct {
	Data []Record  `json:"data"`
	Info *ListInfo `json:"info"`
}

// ListInfo carries CRM pagination metadata.
type ListInfo struct {
	Count       int  `json:"count"`
	Page        int  `json:"page"`
	PerPage     int  `json:"per_page"`
	MoreRecords bool `json:"more_records"`
}

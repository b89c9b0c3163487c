package gateway

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// mirrorCaveat accompanies every read: the store reflects what the gateway
// last sent or received, not what the platform currently holds.
const mirrorCaveat = "value mirrors the gateway's last known state and may differ from the platform"

// Result is the tagged outcome of every facade operation.
//
// Status is authoritative. Error carries diagnostic text only; Err keeps
// the typed error for in-process callers and is never serialised.
type Result struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Err     error          `json:"-"`
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

func success(message string, data map[string]any) Result {
	return Result{Status: StatusSuccess, Message: message, Data: data}
}

func failure(message string, err error) Result {
	r := Result{Status: StatusError, Message: message, Err: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

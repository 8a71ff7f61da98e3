package event

// Wire payloads, one shape per channel. Field names match what the page
// posts; the page side encodes these and the host decodes them with the
// Decode* functions.

// ConsoleMessage is the console channel payload.
type ConsoleMessage struct {
	Level     string  `json:"level"`
	Message   string  `json:"message"`
	Source    string  `json:"source,omitempty"`
	Timestamp float64 `json:"timestamp"`
	Origin    string  `json:"origin,omitempty"`
}

// NetworkMessageType tags the network channel union.
type NetworkMessageType string

const (
	NetworkRequestType  NetworkMessageType = "request"
	NetworkResponseType NetworkMessageType = "response"
	NetworkErrorType    NetworkMessageType = "error"
)

// NetworkRequestMessage announces a request start.
type NetworkRequestMessage struct {
	Type      NetworkMessageType `json:"type"`
	ID        string             `json:"id"`
	URL       string             `json:"url"`
	Method    string             `json:"method"`
	Headers   map[string]string  `json:"headers,omitempty"`
	Timestamp float64            `json:"timestamp"`
}

// NetworkResponseMessage completes a request with a response.
type NetworkResponseMessage struct {
	Type       NetworkMessageType `json:"type"`
	ID         string             `json:"id"`
	Status     int                `json:"status"`
	StatusText string             `json:"statusText,omitempty"`
	Headers    map[string]string  `json:"headers"`
	Body       string             `json:"body"`
	Duration   float64            `json:"duration"`
	Timestamp  float64            `json:"timestamp"`
}

// NetworkErrorMessage completes a request with a transport failure.
type NetworkErrorMessage struct {
	Type     NetworkMessageType `json:"type"`
	ID       string             `json:"id"`
	Error    string             `json:"error"`
	Duration *float64           `json:"duration,omitempty"`
}

// StorageMessage is the storage channel payload: always a full snapshot.
type StorageMessage struct {
	LocalStorage   map[string]string `json:"localStorage"`
	SessionStorage map[string]string `json:"sessionStorage"`
	Cookies        string            `json:"cookies"`
}

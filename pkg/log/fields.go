package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Chat
	FieldUserID    = "user_id"
	FieldPeerID    = "peer_id"
	FieldConnID    = "conn_id"
	FieldMessageID = "message_id"
	FieldEvent     = "event"

	FieldService = "service"
)

package connectors

const (
	TopicConnStatus    = "conn.status"
	TopicSensorPayload = "sensor.payload"
	TopicDecodeFailure = "sensor.decode_failure"
	TopicRecord        = "session.record"
	TopicCounts        = "session.counts"
	TopicSessionSaved  = "session.saved"
)

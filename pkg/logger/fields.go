package logger

const (
	FieldChannel   = "channel"
	FieldChatID    = "chat_id"
	FieldSenderID  = "sender_id"
	FieldPhone     = "phone"
	FieldPreview   = "preview"
	FieldError     = "error"
	FieldState     = "state"
	FieldURL       = "url"
	FieldProductID = "product_id"
	FieldKeyword   = "keyword"
	FieldFormatted = "formatted_id"
	FieldJobID     = "job_id"

	FieldMessageContentLength = "message_content_length"
	FieldElementCount         = "element_count"
	FieldDelayMS              = "delay_ms"
)

/*
Package errs provides custom error types and application-level error code constants.

These error codes identify relay, registry, and request errors both internally within the
server and on the wire, where they travel inside `error` envelopes and REST responses.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request or event payload validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body or frame is not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrUnsupportedEvent indicates that a client sent an event type the relay does not accept.
	ErrUnsupportedEvent = 1008
)

// 2xxx: Message Log and Content Errors
const (
	// ErrMessageContentTooLong indicates that the message text exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageContentEmpty indicates that a text message carried no text.
	ErrMessageContentEmpty = 2202

	// ErrAttachmentInvalid indicates that an attachment descriptor failed validation.
	ErrAttachmentInvalid = 2203

	// ErrFileSizeTooLarge indicates that the declared attachment size exceeds the limit.
	ErrFileSizeTooLarge = 2204

	// ErrUnknownMessage indicates that a read acknowledgement referenced an id that is not in the log.
	ErrUnknownMessage = 2301
)

// 3xxx: Session Registry Errors
const (
	// ErrAlreadyRegistered indicates that the connection already owns a Session.
	ErrAlreadyRegistered = 3101

	// ErrNotRegistered indicates that the connection issued an event that requires a Session first.
	ErrNotRegistered = 3102
)

// 4xxx: Fan-out Errors (informational only)
const (
	// ErrPeerUnreachable indicates that a peer's outbound queue could not accept a frame.
	// It is logged and counted; it is never sent to a client.
	ErrPeerUnreachable = 4101
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrFileStorageFailed indicates that the object storage backend is unavailable or failed.
	ErrFileStorageFailed = 5001

	// ErrArchiveUnavailable indicates that the message archive is disabled or failed.
	ErrArchiveUnavailable = 5002
)

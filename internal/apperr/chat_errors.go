package apperr

var (
	// Domain errors, returned by the chat layer
	ErrSessionNotFound      = NotFound("chat not found")
	ErrRequestNotFound      = NotFound("chat request not found")
	ErrUserNotFound         = NotFound("user not found")
	ErrNotParticipant       = Forbidden("not a participant of this chat")
	ErrInvalidCode          = Forbidden("invalid verification code")
	ErrNotRecipient         = Forbidden("only the recipient can answer this request")
	ErrRequestResolved      = AlreadyTerminal("chat request already resolved")
	ErrRequestExpired       = AlreadyTerminal("chat request expired")
	ErrCodeLength           = InvalidArg("verification code must be 4 characters")
	ErrSelfRequest          = InvalidArg("cannot open a chat with yourself")
	ErrEmptyContent         = InvalidArg("encrypted_content is required")
	ErrActiveChatExists     = AlreadyExists("already have active chat with this user")
	ErrPendingRequestExists = AlreadyExists("a pending request to this user already exists")
)

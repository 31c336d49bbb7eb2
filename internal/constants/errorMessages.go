package constants

const (
	MsgUserDocumentNotFound  = "User document not found"
	MsgRoleSwitchInProgress  = "Role switch already in progress"
	MsgRoleFetchFailed       = "Failed to fetch user role"
	MsgUnknownRole           = "Unknown role"
	MsgRoleNotAssigned       = "Role is not assigned to this user"
	MsgMissingUserID         = "User id is required"
	MsgCallNotFound          = "Call not found"
	MsgCallInvalid           = "Call record is malformed"
	MsgCallEnded             = "Call has already ended"
	MsgNotCallParticipant    = "User is not a participant of this call"
	MsgInvalidCallTransition = "Invalid call status transition"
	MsgUnauthorized          = "Unauthorized"
	MsgForbidden             = "Forbidden"
	MsgInvalidRequestBody    = "Invalid request body"
	MsgStreamingUnsupported  = "Streaming unsupported"
)

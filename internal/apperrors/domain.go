package apperrors

var (
	ErrAliasTaken        = AlreadyExists("that alias is already claimed, pick another")
	ErrWrongPassphrase   = Unauthorized("wrong passphrase for this alias")
	ErrUnknownAlias      = NotFound("no identity with that alias")
	ErrIdentityTimeout   = New(CodeDeadlineExceeded, "the network took too long to answer, try again")
	ErrNotSignedIn       = Unauthorized("sign in first")
	ErrInvalidAlias      = InvalidArg("alias must be 2-32 characters")
	ErrInvalidPassphrase = InvalidArg("passphrase must be at least 4 characters")
	ErrPostNotFound      = NotFound("post not found")
	ErrChatNotFound      = NotFound("chat not found")
	ErrInvalidRating     = InvalidArg("rating must be between 1 and 5")
	ErrCorruptBackup     = InvalidArg("backup file is corrupt or incomplete")
	ErrForeignBackup     = New(CodePermissionDenied, "this backup belongs to another identity")
	ErrStoreUnavailable  = Unavailable("graph store is unavailable")
	ErrAIUnavailable     = Unavailable("the creative assistant is unavailable")
)

// ErrInvalidInput wraps a validation failure with a readable prefix.
func ErrInvalidInput(cause error) error {
	return Wrap(CodeInvalidArgument, "invalid input", cause)
}

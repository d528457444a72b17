package marketplace

import "errors"

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

var (
	ErrInvalidAmount          = Err("invalid amount")
	ErrNotFound               = Err("not found")
	ErrUnauthorized           = Err("unauthorized")
	ErrWrongState             = Err("operation not allowed in current state")
	ErrSelfDealing            = Err("self dealing")
	ErrDuplicateEntry         = Err("duplicate entry")
	ErrRatingOutOfRange       = Err("rating out of range")
	ErrInsufficientBalance    = Err("insufficient balance")
	ErrTextTooLong            = Err("text too long")
	ErrInvalidInput           = Err("invalid input")
	ErrInsufficientReputation = Err("insufficient reputation")
	ErrEscrowDesync           = Err("escrow accounting desync")
)

var kinds = []struct {
	err  Err
	kind string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrNotFound, "NotFound"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrWrongState, "WrongState"},
	{ErrSelfDealing, "SelfDealing"},
	{ErrDuplicateEntry, "DuplicateEntry"},
	{ErrRatingOutOfRange, "RatingOutOfRange"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrTextTooLong, "TextTooLong"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrInsufficientReputation, "InsufficientReputation"},
	{ErrEscrowDesync, "EscrowDesync"},
}

// KindOf returns the stable error kind for err, or "Internal" for errors
// that did not originate from a rejected operation (storage failures etc).
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}

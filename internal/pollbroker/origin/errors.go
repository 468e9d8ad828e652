package origin

import "github.com/tansive/pollbroker/internal/common/apperrors"

// ErrInvalidPattern is a configuration error for an allowed-origin pattern
// that does not compile.
var ErrInvalidPattern apperrors.Error = apperrors.New("invalid origin pattern")

package model

import "github.com/rotisserie/eris"

// ErrValidation marks caller-input errors: missing sample_id or
// fingerprint, or a score outside [0,1]. Transports map it to a 400;
// nothing was written when it is returned.
var ErrValidation = eris.New("validation error")

package room

import "errors"

// ErrNotMember is returned by a Namespace when the target identity is
// not currently in the room. Channel treats it as a no-op.
var ErrNotMember = errors.New("identity is not a member of the room")

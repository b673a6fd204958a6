package syncengine

import (
	"os/user"
	"strconv"
)

// localUserIdentity is the fallback expected identity the protocol describes
// for a device with no matching config block: the local OS user id and
// full name.
func localUserIdentity() Identity {
	u, err := user.Current()
	if err != nil {
		return Identity{}
	}
	uid, _ := strconv.ParseUint(u.Uid, 10, 32)
	name := u.Username
	if u.Name != "" {
		name = u.Name
	}
	return Identity{UserID: uint32(uid), UserName: name}
}
